// Package csrf implements a signed double-submit cookie guard.
//
// The browser holds the token in an HttpOnly cookie signed with securecookie; the client
// reads the raw value from GET /api/csrf-token and echoes it in a header on every
// mutating request.
package csrf

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/example/fitlife/internal/config"
	"github.com/example/fitlife/internal/httpx"
	"github.com/example/fitlife/internal/logging"
	"github.com/example/fitlife/internal/metrics"
	"github.com/example/fitlife/internal/seclog"
)

var ErrCSRFMismatch = errors.New("csrf token mismatch")

const tokenBytes = 32

// HeaderNames are checked in order.
var HeaderNames = []string{"X-CSRF-Token", "CSRF-Token"}

type Config struct {
	Secret       string
	CookieName   string
	CookieSecure bool
	TTL          time.Duration
}

type Guard struct {
	codec  *securecookie.SecureCookie
	cfg    Config
	events seclog.Recorder
}

func New(cfg Config, events seclog.Recorder) (*Guard, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("%w: CSRF secret is empty", config.ErrConfiguration)
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "_csrf"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}

	key := sha256.Sum256([]byte(cfg.Secret))
	codec := securecookie.New(key[:], nil)
	codec.MaxAge(int(cfg.TTL / time.Second))
	codec.SetSerializer(securecookie.JSONEncoder{})

	return &Guard{codec: codec, cfg: cfg, events: events}, nil
}

// cookieToken decodes the signed cookie; an absent, tampered or aged-out cookie yields "".
func (g *Guard) cookieToken(r *http.Request) string {
	c, err := r.Cookie(g.cfg.CookieName)
	if err != nil || c.Value == "" {
		return ""
	}
	var token string
	if err := g.codec.Decode(g.cfg.CookieName, c.Value, &token); err != nil {
		return ""
	}
	return token
}

// IssueToken returns the token of the current browser session, minting one and setting
// the cookie when there is none yet.
func (g *Guard) IssueToken(w http.ResponseWriter, r *http.Request) (string, error) {
	if token := g.cookieToken(r); token != "" {
		return token, nil
	}

	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(b)

	encoded, err := g.codec.Encode(g.cfg.CookieName, token)
	if err != nil {
		return "", fmt.Errorf("encode csrf cookie: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     g.cfg.CookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(g.cfg.TTL / time.Second),
		HttpOnly: true,
		Secure:   g.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	return token, nil
}

func headerToken(r *http.Request) string {
	for _, name := range HeaderNames {
		if v := r.Header.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// Verify checks the header token against the cookie token.
func (g *Guard) Verify(r *http.Request) error {
	_, err := g.verify(r)
	return err
}

func (g *Guard) verify(r *http.Request) (string, error) {
	cookie := g.cookieToken(r)
	if cookie == "" {
		return "missing_or_invalid_cookie", ErrCSRFMismatch
	}
	header := headerToken(r)
	if header == "" {
		return "missing_header", ErrCSRFMismatch
	}
	if subtle.ConstantTimeCompare([]byte(cookie), []byte(header)) != 1 {
		return "mismatch", ErrCSRFMismatch
	}
	return "", nil
}

func exempt(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// Protect rejects mutating requests that fail Verify with 403. Safe methods pass through.
func (g *Guard) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exempt(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		if reason, err := g.verify(r); err != nil {
			metrics.CSRFRejected.Inc()
			g.events.Record(seclog.CSRFAttackAttempt, r, map[string]any{"reason": reason})
			logging.Debug().Str("reason", reason).Str("path", r.URL.Path).Msg("csrf check failed")
			httpx.Error(w, http.StatusForbidden, "Invalid CSRF token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
