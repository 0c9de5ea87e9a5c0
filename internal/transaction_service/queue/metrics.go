package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queuePendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "transaction_service",
		Subsystem: "queue",
		Name:      "pending_operations",
		Help:      "Operations waiting for the next drain.",
	})

	enqueuedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transaction_service",
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Operations enqueued by kind.",
		},
		[]string{"kind"},
	)

	operationsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transaction_service",
			Subsystem: "queue",
			Name:      "operations_total",
			Help:      "Operations attempted during drains.",
		},
		[]string{"kind", "result"}, // result: "succeeded", "failed"
	)

	drainRunsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "transaction_service",
		Subsystem: "queue",
		Name:      "drain_runs_total",
		Help:      "Non-empty drain cycles.",
	})

	drainDurationHist = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "transaction_service",
		Subsystem: "queue",
		Name:      "drain_duration_seconds",
		Help:      "Duration of drain cycles.",
		Buckets:   prometheus.DefBuckets,
	})

	persistFailuresCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "transaction_service",
		Subsystem: "queue",
		Name:      "persist_failures_total",
		Help:      "Failed writes of the persisted queue.",
	})
)
