package ratelimit

import (
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/httprate"
	"github.com/gorilla/mux"

	"github.com/example/fitlife/internal/httpx"
	"github.com/example/fitlife/internal/metrics"
	"github.com/example/fitlife/internal/seclog"
)

const limitMessage = "Too many requests, please try again later."

// Routes maps a gorilla/mux route name to the classes its requests are counted against,
// in order. Routes without an entry are not limited.
type Routes map[string][]Class

type Middleware struct {
	limiter  *Limiter
	routes   Routes
	key      httprate.KeyFunc
	events   seclog.Recorder
	disabled bool
}

func NewMiddleware(l *Limiter, routes Routes, key httprate.KeyFunc, events seclog.Recorder, disabled bool) *Middleware {
	if key == nil {
		key = httprate.KeyByIP
	}
	return &Middleware{limiter: l, routes: routes, key: key, events: events, disabled: disabled}
}

// Handler must run after mux route matching (router.Use) so the route name is known.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}
		route := mux.CurrentRoute(r)
		if route == nil {
			next.ServeHTTP(w, r)
			return
		}
		classes := m.routes[route.GetName()]
		if len(classes) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		client := httpx.ClientIP(m.key, r)
		var tightest Decision
		for i, class := range classes {
			d := m.limiter.Check(client, class)
			if i == 0 || d.Remaining < tightest.Remaining {
				tightest = d
			}
			if !d.Allowed {
				writeHeaders(w, d)
				m.reject(w, r, class, d)
				return
			}
		}
		writeHeaders(w, tightest)
		next.ServeHTTP(w, r)
	})
}

func writeHeaders(w http.ResponseWriter, d Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, class Class, d Decision) {
	retryAfter := int(math.Ceil(d.RetryAfter.Seconds()))
	metrics.RateLimited.WithLabelValues(string(class)).Inc()
	m.events.Record(seclog.RateLimitExceeded, r, map[string]any{
		"class":      string(class),
		"limit":      d.Limit,
		"retryAfter": retryAfter,
	})

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	httpx.ErrorDetails(w, http.StatusTooManyRequests, limitMessage, map[string]any{
		"retryAfter": retryAfter,
		"class":      string(class),
	})
}
