package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// queries are written with $n placeholders in increasing order so they can be
// rebound to ? for drivers that only take positional markers.
type queries struct {
	createUser         string
	userByEmail        string
	userByID           string
	updatePassword     string
	createToken        string
	consumeToken       string
	deleteToken        string
	deleteUserTokens   string
	deleteExpiredBatch string
}

var baseQueries = queries{
	createUser:         `INSERT INTO users (id, name, email, password_hash, role, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	userByEmail:        `SELECT id, name, email, password_hash, role, created_at FROM users WHERE email = $1`,
	userByID:           `SELECT id, name, email, password_hash, role, created_at FROM users WHERE id = $1`,
	updatePassword:     `UPDATE users SET password_hash = $1 WHERE id = $2`,
	createToken:        `INSERT INTO refresh_tokens (id, token_hash, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4, $5)`,
	consumeToken:       `DELETE FROM refresh_tokens WHERE token_hash = $1 RETURNING id, user_id, expires_at, created_at`,
	deleteToken:        `DELETE FROM refresh_tokens WHERE token_hash = $1`,
	deleteUserTokens:   `DELETE FROM refresh_tokens WHERE user_id = $1`,
	deleteExpiredBatch: `DELETE FROM refresh_tokens WHERE id IN (SELECT id FROM refresh_tokens WHERE expires_at < $1 LIMIT $2)`,
}

var placeholderRe = regexp.MustCompile(`\$\d+`)

func (q queries) rebind() queries {
	r := func(s string) string { return placeholderRe.ReplaceAllString(s, "?") }
	return queries{
		createUser:         r(q.createUser),
		userByEmail:        r(q.userByEmail),
		userByID:           r(q.userByID),
		updatePassword:     r(q.updatePassword),
		createToken:        r(q.createToken),
		consumeToken:       r(q.consumeToken),
		deleteToken:        r(q.deleteToken),
		deleteUserTokens:   r(q.deleteUserTokens),
		deleteExpiredBatch: r(q.deleteExpiredBatch),
	}
}

// sqlStore implements Store on database/sql. Timestamps are stored as unix seconds.
type sqlStore struct {
	db                *sql.DB
	q                 queries
	isUniqueViolation func(error) bool
}

func (s *sqlStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx, s.q.createUser, u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.CreatedAt.Unix())
	if err != nil {
		if s.isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *sqlStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, s.q.userByEmail, email))
}

func (s *sqlStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, s.q.userByID, id))
}

func (s *sqlStore) scanUser(row *sql.Row) (*User, error) {
	var (
		u       User
		created int64
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	return &u, nil
}

func (s *sqlStore) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, s.q.updatePassword, passwordHash, id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) CreateRefreshToken(ctx context.Context, t *RefreshToken) error {
	return s.insertToken(ctx, s.db, t)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *sqlStore) insertToken(ctx context.Context, e execer, t *RefreshToken) error {
	_, err := e.ExecContext(ctx, s.q.createToken, t.ID, t.TokenHash, t.UserID, t.ExpiresAt.Unix(), t.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (s *sqlStore) RotateRefreshToken(ctx context.Context, tokenHash string, next *RefreshToken, now time.Time) (consumed *RefreshToken, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil && !errors.Is(err, ErrExpired) {
			_ = tx.Rollback()
		}
	}()

	var (
		t                  = RefreshToken{TokenHash: tokenHash}
		expires, createdAt int64
	)
	row := tx.QueryRowContext(ctx, s.q.consumeToken, tokenHash)
	if err := row.Scan(&t.ID, &t.UserID, &expires, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}
	t.ExpiresAt = time.Unix(expires, 0).UTC()
	t.CreatedAt = time.Unix(createdAt, 0).UTC()

	if t.Expired(now) {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return &t, ErrExpired
	}

	next.UserID = t.UserID
	if err := s.insertToken(ctx, tx, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &t, nil
}

func (s *sqlStore) DeleteRefreshToken(ctx context.Context, tokenHash string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q.deleteToken, tokenHash)
	if err != nil {
		return false, fmt.Errorf("delete refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *sqlStore) DeleteRefreshTokensForUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q.deleteUserTokens, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

func (s *sqlStore) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time, limit int) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q.deleteExpiredBatch, now.Unix(), limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
