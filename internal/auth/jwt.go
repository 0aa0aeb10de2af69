package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/fitlife/internal/config"
)

var (
	ErrMissingToken = errors.New("missing access token")
	ErrInvalidToken = errors.New("invalid access token")
	ErrTokenExpired = errors.New("access token expired")
)

// Claims are the access-token claims: sub is the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Clock returns the current time. Tests inject a fixed one.
type Clock func() time.Time

type JWTManager struct {
	secret []byte
	ttl    time.Duration
	now    Clock
}

// NewJWTManager fails with config.ErrConfiguration when secret is empty.
func NewJWTManager(secret string, ttl time.Duration, now Clock) (*JWTManager, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: JWT secret is empty", config.ErrConfiguration)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: access token lifetime must be positive", config.ErrConfiguration)
	}
	if now == nil {
		now = time.Now
	}
	return &JWTManager{secret: []byte(secret), ttl: ttl, now: now}, nil
}

// TTL is the access-token lifetime.
func (m *JWTManager) TTL() time.Duration { return m.ttl }

// GenerateToken signs an HS256 access token for userID.
func (m *JWTManager) GenerateToken(userID, role string) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.ttl)
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken verifies signature, algorithm and expiry.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
