// Package seclog records security-relevant rejections as JSON lines in an append-only file.
//
// Record never blocks the request path: entries go through a zerolog diode ring buffer
// and are dropped (and counted) if the file writer falls behind.
package seclog

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"

	"github.com/example/fitlife/internal/httpx"
	"github.com/example/fitlife/internal/logging"
	"github.com/example/fitlife/internal/metrics"
)

type Kind string

const (
	RateLimitExceeded Kind = "RATE_LIMIT_EXCEEDED"
	CSRFAttackAttempt Kind = "CSRF_ATTACK_ATTEMPT"
	AuthFailure       Kind = "AUTH_FAILURE"
	LoginFailure      Kind = "LOGIN_FAILURE"
	RefreshRejected   Kind = "REFRESH_REJECTED"
	AccessDenied      Kind = "ACCESS_DENIED"
)

// Recorder is what middleware and handlers depend on.
type Recorder interface {
	Record(kind Kind, r *http.Request, details map[string]any)
}

type Config struct {
	Path string
	// BufferSize is the number of entries the ring buffer holds. Default 1000.
	BufferSize int
	// PollInterval is how often the writer drains the buffer. Default 10ms.
	PollInterval time.Duration
	ClientKey    httprate.KeyFunc
}

type Logger struct {
	out       zerolog.Logger
	w         diode.Writer
	clientKey httprate.KeyFunc
	now       func() time.Time
}

// New opens (creating if needed) the log file in append mode.
func New(cfg Config) (*Logger, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.ClientKey == nil {
		cfg.ClientKey = httprate.KeyByIP
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create security log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open security log: %w", err)
	}

	w := diode.NewWriter(f, cfg.BufferSize, cfg.PollInterval, func(missed int) {
		metrics.SecurityEventsDropped.Add(float64(missed))
		logging.Warn().Int("dropped", missed).Msg("security log writer fell behind")
	})

	return &Logger{
		out:       zerolog.New(w),
		w:         w,
		clientKey: cfg.ClientKey,
		now:       time.Now,
	}, nil
}

// Record appends one entry. It never blocks and never fails.
func (l *Logger) Record(kind Kind, r *http.Request, details map[string]any) {
	ip := httpx.ClientIP(l.clientKey, r)
	ts := l.now().UTC().Format(time.RFC3339Nano)

	e := l.out.Log().
		Str("timestamp", ts).
		Str("ip", ip).
		Str("userAgent", r.UserAgent()).
		Str("method", r.Method).
		Str("url", r.URL.RequestURI()).
		Str("event", string(kind))
	if len(details) > 0 {
		e = e.Interface("details", details)
	}
	e.Send()

	metrics.SecurityEvents.WithLabelValues(string(kind)).Inc()
	logging.Warn().
		Str("event", string(kind)).
		Str("ip", ip).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("security event")
}

// Close drains pending entries and closes the file.
func (l *Logger) Close() error {
	return l.w.Close()
}

type nop struct{}

func (nop) Record(Kind, *http.Request, map[string]any) {}

// Nop discards every event.
func Nop() Recorder { return nop{} }
