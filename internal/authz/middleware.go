package authz

import (
	"net/http"

	"github.com/example/fitlife/internal/auth"
	"github.com/example/fitlife/internal/httpx"
	"github.com/example/fitlife/internal/logging"
	"github.com/example/fitlife/internal/seclog"
)

type Middleware struct {
	enforcer *Enforcer
	events   seclog.Recorder
}

func NewMiddleware(e *Enforcer, events seclog.Recorder) *Middleware {
	return &Middleware{enforcer: e, events: events}
}

// Authorize checks the authenticated role against the request path and method. It must
// run inside auth.Middleware.RequireAuth.
func (m *Middleware) Authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			httpx.Error(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		allowed, err := m.enforcer.Enforce(id.Role, r.URL.Path, r.Method)
		if err != nil {
			logging.Error().Err(err).Msg("authorization error")
			httpx.Error(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if !allowed {
			m.events.Record(seclog.AccessDenied, r, map[string]any{"userId": id.UserID, "role": id.Role})
			httpx.Error(w, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}
