package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/example/fitlife/internal/logging"
	"github.com/example/fitlife/internal/metrics"
)

const breakerName = "credential-store"

// Guarded bounds every call to the wrapped store with a timeout and a circuit breaker.
// Timeouts, driver failures and an open breaker are all reported as ErrUnavailable.
// Domain outcomes (ErrNotFound, ErrUserExists, ErrExpired) pass through untouched and
// do not count as failures.
type Guarded struct {
	next    Store
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[any]
}

func NewGuarded(next Store, timeout time.Duration) *Guarded {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isDomainError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	return &Guarded{next: next, timeout: timeout, cb: cb}
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrUserExists) || errors.Is(err, ErrExpired)
}

func (g *Guarded) do(ctx context.Context, op string, fn func(ctx context.Context) (any, error)) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// A call abandoned by its caller says nothing about store health.
	var abandoned error
	res, err := g.cb.Execute(func() (any, error) {
		res, err := fn(callCtx)
		if err != nil && ctx.Err() != nil {
			abandoned = err
			return res, nil
		}
		return res, err
	})
	if abandoned != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, op, ctx.Err())
	}
	if err == nil || isDomainError(err) {
		return res, err
	}

	metrics.StoreErrors.WithLabelValues(op).Inc()
	logging.Error().Err(err).Str("operation", op).Msg("credential store call failed")
	return res, fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

func (g *Guarded) CreateUser(ctx context.Context, u *User) error {
	_, err := g.do(ctx, "create_user", func(ctx context.Context) (any, error) {
		return nil, g.next.CreateUser(ctx, u)
	})
	return err
}

func (g *Guarded) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	res, err := g.do(ctx, "get_user_by_email", func(ctx context.Context) (any, error) {
		return g.next.GetUserByEmail(ctx, email)
	})
	if err != nil {
		return nil, err
	}
	return res.(*User), nil
}

func (g *Guarded) GetUserByID(ctx context.Context, id string) (*User, error) {
	res, err := g.do(ctx, "get_user_by_id", func(ctx context.Context) (any, error) {
		return g.next.GetUserByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return res.(*User), nil
}

func (g *Guarded) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	_, err := g.do(ctx, "update_user_password", func(ctx context.Context) (any, error) {
		return nil, g.next.UpdateUserPassword(ctx, id, passwordHash)
	})
	return err
}

func (g *Guarded) CreateRefreshToken(ctx context.Context, t *RefreshToken) error {
	_, err := g.do(ctx, "create_refresh_token", func(ctx context.Context) (any, error) {
		return nil, g.next.CreateRefreshToken(ctx, t)
	})
	return err
}

func (g *Guarded) RotateRefreshToken(ctx context.Context, tokenHash string, next *RefreshToken, now time.Time) (*RefreshToken, error) {
	res, err := g.do(ctx, "rotate_refresh_token", func(ctx context.Context) (any, error) {
		return g.next.RotateRefreshToken(ctx, tokenHash, next, now)
	})
	consumed, _ := res.(*RefreshToken)
	return consumed, err
}

func (g *Guarded) DeleteRefreshToken(ctx context.Context, tokenHash string) (bool, error) {
	res, err := g.do(ctx, "delete_refresh_token", func(ctx context.Context) (any, error) {
		return g.next.DeleteRefreshToken(ctx, tokenHash)
	})
	deleted, _ := res.(bool)
	return deleted, err
}

func (g *Guarded) DeleteRefreshTokensForUser(ctx context.Context, userID string) (int64, error) {
	res, err := g.do(ctx, "delete_user_refresh_tokens", func(ctx context.Context) (any, error) {
		return g.next.DeleteRefreshTokensForUser(ctx, userID)
	})
	n, _ := res.(int64)
	return n, err
}

func (g *Guarded) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time, limit int) (int64, error) {
	res, err := g.do(ctx, "delete_expired_refresh_tokens", func(ctx context.Context) (any, error) {
		return g.next.DeleteExpiredRefreshTokens(ctx, now, limit)
	})
	n, _ := res.(int64)
	return n, err
}

func (g *Guarded) Ping(ctx context.Context) error {
	_, err := g.do(ctx, "ping", func(ctx context.Context) (any, error) {
		return nil, g.next.Ping(ctx)
	})
	return err
}

func (g *Guarded) Close() error {
	return g.next.Close()
}
