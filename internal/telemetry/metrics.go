// Package telemetry holds keysmith's Prometheus collectors and the slog
// handler setup.
//
// All metrics are registered against the default Prometheus registry and are
// served by the main router on GET /metrics when metrics.enabled is set.
// HTTP metrics are labelled by chi route pattern, not raw URL, so that label
// cardinality stays bounded.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "keysmith"

// Rate limiter.
var (
	// RateLimitDecisions counts limiter verdicts by {category, outcome}
	// where outcome is "allowed", "window_exceeded" or "burst_exceeded".
	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_decisions_total",
		Help:      "Rate limiter decisions by category and outcome.",
	}, []string{"category", "outcome"})

	// RateLimitEntries is the number of live (client, category) entries.
	RateLimitEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ratelimit_entries",
		Help:      "Number of tracked rate limit entries.",
	})

	RateLimitSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_swept_total",
		Help:      "Idle rate limit entries removed by the sweeper.",
	})
)

// Authentication.
var (
	// AuthResults counts gateway outcomes by {operation, result}. result is
	// "ok" or the failure kind name.
	AuthResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_results_total",
		Help:      "Gateway operation results by operation and outcome.",
	}, []string{"operation", "result"})

	UsageLogDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "usage_log_dropped_total",
		Help:      "Usage log entries dropped because the buffer was full or the store failed.",
	})
)

// HTTP.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route pattern and status.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)
