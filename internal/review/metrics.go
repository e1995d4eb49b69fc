package review

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// decisionsTotal counts state transitions by action. No-op calls are not counted.
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_decisions_total",
		Help: "Change record decisions by action",
	}, []string{"action"})

	// sessionsCreated counts sessions built from upstream suggestions.
	sessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_sessions_created_total",
		Help: "Review sessions created",
	})
)
