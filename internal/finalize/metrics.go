package finalize

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	finalizeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_finalize_total",
		Help: "Finalize attempts by result",
	}, []string{"result"})

	finalizeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reconcile_finalize_duration_seconds",
		Help:    "Duration of committed finalize transactions",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	})
)
