package market

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks upstream requests by outcome
	// (ok, not_found, rate_limited, upstream_error, timeout, parse_error).
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prime_flipper_upstream_requests_total",
			Help: "Total number of upstream market API requests",
		},
		[]string{"outcome"},
	)

	// RetriesTotal tracks retry attempts after transient failures.
	RetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prime_flipper_upstream_retries_total",
		Help: "Total number of upstream request retries",
	})

	// RequestDurationSeconds tracks upstream request latency.
	RequestDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prime_flipper_upstream_request_duration_seconds",
		Help:    "Duration of upstream market API requests",
		Buckets: prometheus.DefBuckets,
	})
)
