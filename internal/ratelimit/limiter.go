// Package ratelimit keeps fixed-window request counters per client and route class.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/example/fitlife/internal/config"
	"github.com/example/fitlife/internal/logging"
	"github.com/example/fitlife/internal/metrics"
)

type Class string

const (
	General       Class = "general"
	Login         Class = "login"
	Register      Class = "register"
	PasswordReset Class = "password_reset"
)

const pruneInterval = time.Minute

type Rule struct {
	Limit  int
	Window time.Duration
}

// RulesFromConfig maps the configured budgets onto classes.
func RulesFromConfig(cfg config.RateLimitConfig) map[Class]Rule {
	conv := func(r config.RateLimitRule) Rule { return Rule{Limit: r.Limit, Window: r.Window} }
	return map[Class]Rule{
		General:       conv(cfg.General),
		Login:         conv(cfg.Login),
		Register:      conv(cfg.Register),
		PasswordReset: conv(cfg.PasswordReset),
	}
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type windowKey struct {
	client string
	class  Class
}

type window struct {
	start time.Time
	count int
}

// Limiter holds one window per (client, class). The window opens on the first request
// and is replaced, not slid, once it has elapsed.
type Limiter struct {
	mu      sync.Mutex
	rules   map[Class]Rule
	windows map[windowKey]*window
	now     func() time.Time
}

func New(rules map[Class]Rule, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		rules:   rules,
		windows: make(map[windowKey]*window),
		now:     now,
	}
}

// Check counts one attempt by client against class. Unknown classes are always allowed.
func (l *Limiter) Check(client string, class Class) Decision {
	rule, ok := l.rules[class]
	if !ok {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := windowKey{client: client, class: class}
	w, ok := l.windows[key]
	if !ok || !now.Before(w.start.Add(rule.Window)) {
		w = &window{start: now}
		l.windows[key] = w
	}
	w.count++

	d := Decision{
		Allowed:   w.count <= rule.Limit,
		Limit:     rule.Limit,
		Remaining: max(rule.Limit-w.count, 0),
		ResetAt:   w.start.Add(rule.Window),
	}
	if !d.Allowed {
		d.RetryAfter = d.ResetAt.Sub(now)
	}
	return d
}

// Prune drops elapsed windows and returns how many were removed.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, w := range l.windows {
		rule := l.rules[key.class]
		if !now.Before(w.start.Add(rule.Window)) {
			delete(l.windows, key)
			removed++
		}
	}
	metrics.RateLimitWindows.Set(float64(len(l.windows)))
	return removed
}

// Len reports the number of live windows.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Serve implements suture.Service.
func (l *Limiter) Serve(ctx context.Context) error {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := l.Prune(); n > 0 {
				logging.Debug().Int("removed", n).Msg("pruned rate limit windows")
			}
		}
	}
}

func (l *Limiter) String() string {
	return "rate-limit-pruner"
}
