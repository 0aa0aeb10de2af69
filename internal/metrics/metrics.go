// Package metrics defines the prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitlife_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fitlife_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	AuthOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitlife_auth_outcomes_total",
			Help: "Auth operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitlife_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by route class",
		},
		[]string{"class"},
	)

	RateLimitWindows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fitlife_rate_limit_windows",
			Help: "Live fixed-window counters held by the rate limiter",
		},
	)

	CSRFRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fitlife_csrf_rejected_total",
			Help: "Mutating requests rejected by the CSRF guard",
		},
	)

	SecurityEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitlife_security_events_total",
			Help: "Security events recorded, by kind",
		},
		[]string{"event"},
	)

	SecurityEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fitlife_security_events_dropped_total",
			Help: "Security events dropped because the log writer fell behind",
		},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitlife_store_errors_total",
			Help: "Credential store failures surfaced as unavailable, by operation",
		},
		[]string{"operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fitlife_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	SweeperRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitlife_token_sweeper_runs_total",
			Help: "Refresh-token sweeps by outcome",
		},
		[]string{"outcome"},
	)

	SweeperDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fitlife_token_sweeper_deleted_total",
			Help: "Expired refresh tokens deleted by the sweeper",
		},
	)
)

// ObserveHTTP records one finished request.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
