// Package store persists users and refresh tokens.
//
// Refresh-token rows are only removed through conditional deletes, so request handlers
// and the cleanup sweeper can run concurrently without either observing a double success.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrUserExists  = errors.New("user already exists")
	ErrExpired     = errors.New("refresh token expired")
	ErrUnavailable = errors.New("store unavailable")
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// RefreshToken is the persisted half of a refresh token. The opaque value handed to the
// client is never stored, only its SHA-256 hash.
type RefreshToken struct {
	ID        string    `json:"id"`
	TokenHash string    `json:"token_hash"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the token is past its expiry at now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

type Store interface {
	// CreateUser inserts u. Emails are unique; a duplicate returns ErrUserExists.
	CreateUser(ctx context.Context, u *User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error

	CreateRefreshToken(ctx context.Context, t *RefreshToken) error
	// RotateRefreshToken deletes the row matching tokenHash and, in the same transaction,
	// inserts next for the same user. Of several concurrent callers presenting one hash at
	// most one gets the row; the others get ErrNotFound. An expired row is still deleted,
	// next is not inserted and ErrExpired is returned together with the consumed row.
	RotateRefreshToken(ctx context.Context, tokenHash string, next *RefreshToken, now time.Time) (*RefreshToken, error)
	// DeleteRefreshToken reports whether a row was removed.
	DeleteRefreshToken(ctx context.Context, tokenHash string) (bool, error)
	DeleteRefreshTokensForUser(ctx context.Context, userID string) (int64, error)
	// DeleteExpiredRefreshTokens removes at most limit rows with expires_at < now.
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time, limit int) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
