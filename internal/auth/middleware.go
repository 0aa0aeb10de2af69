package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/example/fitlife/internal/httpx"
	"github.com/example/fitlife/internal/seclog"
)

const AccessTokenCookie = "access_token"

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity set by RequireAuth.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}

type Authenticator interface {
	Authenticate(token string) (*Identity, error)
}

type Middleware struct {
	auth        Authenticator
	allowCookie bool
	allowHeader bool
	events      seclog.Recorder
}

// NewMiddleware builds the access-token check. transport is header, cookie or both.
func NewMiddleware(a Authenticator, transport string, events seclog.Recorder) *Middleware {
	return &Middleware{
		auth:        a,
		allowHeader: transport != "cookie",
		allowCookie: transport == "cookie" || transport == "both",
		events:      events,
	}
}

func (m *Middleware) extract(r *http.Request) string {
	if m.allowHeader {
		if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if m.allowCookie {
		if c, err := r.Cookie(AccessTokenCookie); err == nil {
			return c.Value
		}
	}
	return ""
}

// RequireAuth rejects requests without a valid access token. Every failure gets the same
// 401 body; the actual reason only goes to the security log.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.auth.Authenticate(m.extract(r))
		if err != nil {
			m.events.Record(seclog.AuthFailure, r, map[string]any{"reason": failureReason(err)})
			httpx.Error(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "missing_token"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	default:
		return "invalid_signature"
	}
}
