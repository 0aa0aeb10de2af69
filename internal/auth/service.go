// Package auth issues, validates and rotates the tokens that carry a FitLife session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/fitlife/internal/store"
)

var (
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenExpired  = errors.New("refresh token expired")
)

const refreshTokenBytes = 32

// TokenPair is what a successful login, registration or refresh hands back.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Identity is the authenticated caller attached to a request.
type Identity struct {
	UserID string
	Role   string
}

type ServiceConfig struct {
	RefreshTTL time.Duration
	BcryptCost int
	Now        Clock
	// AdminEmails get the admin role at registration.
	AdminEmails []string
}

type Service struct {
	store      store.Store
	tokens     *JWTManager
	refreshTTL time.Duration
	bcryptCost int
	now        Clock
	admins     map[string]bool
	// compared against when the email is unknown so both paths cost one bcrypt round
	dummyHash string
}

func NewService(st store.Store, tokens *JWTManager, cfg ServiceConfig) (*Service, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	dummy, err := hashPassword("fitlife-timing-equaliser", cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash dummy password: %w", err)
	}
	admins := make(map[string]bool, len(cfg.AdminEmails))
	for _, e := range cfg.AdminEmails {
		admins[normalizeEmail(e)] = true
	}
	return &Service{
		store:      st,
		tokens:     tokens,
		refreshTTL: cfg.RefreshTTL,
		bcryptCost: cfg.BcryptCost,
		now:        cfg.Now,
		admins:     admins,
		dummyHash:  dummy,
	}, nil
}

// AccessTTL is the lifetime of issued access tokens.
func (s *Service) AccessTTL() time.Duration { return s.tokens.TTL() }

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a user and opens a session for it. Emails listed in AdminEmails get
// the admin role, everyone else the user role.
func (s *Service) Register(ctx context.Context, name, email, password string) (*store.User, *TokenPair, error) {
	hash, err := hashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	email = normalizeEmail(email)
	role := store.RoleUser
	if s.admins[email] {
		role = store.RoleAdmin
	}
	u := &store.User{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, nil, err
	}

	pair, err := s.Issue(ctx, u)
	if err != nil {
		return nil, nil, err
	}
	return u, pair, nil
}

// Login checks credentials. Unknown email and wrong password are indistinguishable.
func (s *Service) Login(ctx context.Context, email, password string) (*store.User, *TokenPair, error) {
	u, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		comparePassword(s.dummyHash, password)
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}
	if !comparePassword(u.PasswordHash, password) {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.Issue(ctx, u)
	if err != nil {
		return nil, nil, err
	}
	return u, pair, nil
}

// Issue signs an access token and persists exactly one new refresh token for u.
func (s *Service) Issue(ctx context.Context, u *store.User) (*TokenPair, error) {
	raw, row, err := s.newRefreshToken(u.ID)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateRefreshToken(ctx, row); err != nil {
		return nil, err
	}

	access, exp, err := s.tokens.GenerateToken(u.ID, u.Role)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  exp,
		RefreshToken:     raw,
		RefreshExpiresAt: row.ExpiresAt,
	}, nil
}

func (s *Service) newRefreshToken(userID string) (string, *store.RefreshToken, error) {
	raw, err := genToken(refreshTokenBytes)
	if err != nil {
		return "", nil, fmt.Errorf("generate refresh token: %w", err)
	}
	now := s.now().UTC()
	return raw, &store.RefreshToken{
		ID:        uuid.NewString(),
		TokenHash: hashRefreshToken(raw),
		UserID:    userID,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}, nil
}

// Refresh consumes raw and returns a new pair. raw is invalid afterwards whatever the
// outcome: expired tokens are deleted on sight and a consumed token is never reusable.
func (s *Service) Refresh(ctx context.Context, raw string) (*TokenPair, error) {
	if raw == "" {
		return nil, ErrRefreshTokenNotFound
	}

	nextRaw, next, err := s.newRefreshToken("")
	if err != nil {
		return nil, err
	}

	consumed, err := s.store.RotateRefreshToken(ctx, hashRefreshToken(raw), next, s.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrRefreshTokenNotFound
	case errors.Is(err, store.ErrExpired):
		return nil, ErrRefreshTokenExpired
	case err != nil:
		return nil, err
	}

	u, err := s.store.GetUserByID(ctx, consumed.UserID)
	if errors.Is(err, store.ErrNotFound) {
		_, _ = s.store.DeleteRefreshToken(ctx, next.TokenHash)
		return nil, ErrRefreshTokenNotFound
	}
	if err != nil {
		return nil, err
	}

	access, exp, err := s.tokens.GenerateToken(u.ID, u.Role)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  exp,
		RefreshToken:     nextRaw,
		RefreshExpiresAt: next.ExpiresAt,
	}, nil
}

// Logout deletes the refresh token. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	_, err := s.store.DeleteRefreshToken(ctx, hashRefreshToken(raw))
	return err
}

// LogoutAll deletes every refresh token of userID and reports how many were live.
func (s *Service) LogoutAll(ctx context.Context, userID string) (int64, error) {
	return s.store.DeleteRefreshTokensForUser(ctx, userID)
}

// ChangePassword replaces the password and ends every session of the user.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !comparePassword(u.PasswordHash, current) {
		return ErrInvalidCredentials
	}
	hash, err := hashPassword(next, s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, userID, hash); err != nil {
		return err
	}
	_, err = s.store.DeleteRefreshTokensForUser(ctx, userID)
	return err
}

// User loads the account behind an identity.
func (s *Service) User(ctx context.Context, id string) (*store.User, error) {
	return s.store.GetUserByID(ctx, id)
}

// Authenticate validates an access token and returns the identity it carries.
func (s *Service) Authenticate(token string) (*Identity, error) {
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	return &Identity{UserID: claims.Subject, Role: claims.Role}, nil
}
