package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prime_flipper_runs_total",
		Help: "Analysis runs by terminal outcome.",
	}, []string{"outcome"})

	runDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prime_flipper_run_duration_seconds",
		Help:    "Wall-clock duration of completed analysis runs.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	setsAnalyzed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prime_flipper_sets_analyzed_total",
		Help: "Sets processed across all runs, including failed fetches.",
	})
)
