// Package metrics exposes Prometheus metrics for the dispatch fabric
// (RED for HTTP, plus dispatch/stream/auth counters for the command
// bus). Scrapeable at /metrics; names are part of the operational
// contract, don't rename without a dashboard migration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kubently"

var (
	// HTTPRequestTotal counts requests by method, route, status (RED: rate).
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, route, and status.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDurationSeconds is request latency (RED: duration).
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10),
		},
		[]string{"method", "route"},
	)

	// CommandsDispatchedTotal counts dispatch outcomes by cluster and status.
	CommandsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dispatched_total",
			Help:      "Total number of commands dispatched, by cluster and outcome.",
		},
		[]string{"cluster_id", "status"},
	)

	// CommandDispatchDurationSeconds is end-to-end dispatch wait latency.
	CommandDispatchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_dispatch_duration_seconds",
			Help:      "Time from receipt of the dispatch request to result delivery or timeout, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"cluster_id"},
	)

	// CommandTimeoutsTotal counts commands that hit their deadline unanswered.
	CommandTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_timeouts_total",
			Help:      "Total number of commands that timed out waiting for a result.",
		},
		[]string{"cluster_id"},
	)

	// ExecutorStreamsActive is the current number of connected executor streams.
	ExecutorStreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executor_streams_active",
			Help:      "Number of currently connected executor SSE streams.",
		},
	)

	// ExecutorStreamConnectsTotal counts stream connection attempts by outcome.
	ExecutorStreamConnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executor_stream_connects_total",
			Help:      "Total number of executor stream connection attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// AuthFailuresTotal counts rejected authentication attempts by surface.
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total number of authentication failures, by surface.",
		},
		[]string{"surface"}, // surface: api_key, executor_token
	)

	// BusPublishTotal counts command-bus publishes by outcome.
	BusPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_publish_total",
			Help:      "Total number of command bus publish operations by outcome.",
		},
		[]string{"outcome"}, // outcome: ok, no_subscriber, redis_error, marshal_error
	)

	// CapabilityWritesTotal counts capability-record writes by cluster.
	CapabilityWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_writes_total",
			Help:      "Total number of capability record writes, by cluster.",
		},
		[]string{"cluster_id"},
	)

	// RateLimitRejectionsTotal counts requests rejected by the rate limiter.
	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Total number of requests rejected by the rate limiter, by tier.",
		},
		[]string{"tier"},
	)
)
