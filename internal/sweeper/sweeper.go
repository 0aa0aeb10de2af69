// Package sweeper deletes expired refresh tokens on a schedule.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/fitlife/internal/config"
	"github.com/example/fitlife/internal/logging"
	"github.com/example/fitlife/internal/metrics"
	"github.com/example/fitlife/internal/store"
)

type Sweeper struct {
	store      store.Store
	interval   time.Duration
	batchSize  int
	pace       *rate.Limiter
	runOnStart bool
	now        func() time.Time
}

func New(st store.Store, cfg config.SweeperConfig, now func() time.Time) *Sweeper {
	if now == nil {
		now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 12 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	limit := rate.Inf
	if cfg.BatchesPerSecond > 0 {
		limit = rate.Limit(cfg.BatchesPerSecond)
	}
	return &Sweeper{
		store:      st,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		pace:       rate.NewLimiter(limit, 1),
		runOnStart: cfg.RunOnStart,
		now:        now,
	}
}

// Sweep deletes every token that expired before now, one paced batch at a time, and
// returns the number removed. Rows deleted before a failure are still reported.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now()
	var total int64
	for {
		if err := s.pace.Wait(ctx); err != nil {
			return total, err
		}
		n, err := s.store.DeleteExpiredRefreshTokens(ctx, cutoff, s.batchSize)
		total += n
		if err != nil {
			return total, fmt.Errorf("delete expired refresh tokens: %w", err)
		}
		if n < int64(s.batchSize) {
			return total, nil
		}
	}
}

func (s *Sweeper) run(ctx context.Context) {
	start := time.Now()
	n, err := s.Sweep(ctx)
	metrics.SweeperDeleted.Add(float64(n))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		metrics.SweeperRuns.WithLabelValues("error").Inc()
		logging.Error().Err(err).Int64("deleted", n).Msg("refresh token sweep failed")
		return
	}
	metrics.SweeperRuns.WithLabelValues("ok").Inc()
	logging.Info().Int64("deleted", n).Dur("took", time.Since(start)).Msg("refresh token sweep finished")
}

// Serve implements suture.Service. A failed sweep is retried on the next tick.
func (s *Sweeper) Serve(ctx context.Context) error {
	if s.runOnStart {
		s.run(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

func (s *Sweeper) String() string {
	return "token-sweeper"
}
