package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transactionsCreatedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transaction_service",
			Name:      "transactions_created_total",
			Help:      "Transactions created by initial status.",
		},
		[]string{"status"}, // "pending", "offline-pending"
	)

	remoteWritesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transaction_service",
			Name:      "remote_writes_total",
			Help:      "Remote backend writes by operation and outcome.",
		},
		[]string{"operation", "outcome"}, // outcome: "ok", "deferred", "connection", "timeout", "server", "rejected"
	)

	webhookUpdatesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transaction_service",
			Name:      "webhook_updates_total",
			Help:      "Partner status updates by result.",
		},
		[]string{"result"}, // "applied", "duplicate", "stale"
	)

	detachedTasksCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transaction_service",
			Name:      "detached_tasks_total",
			Help:      "Detached background tasks by name and outcome.",
		},
		[]string{"task", "outcome"}, // outcome: "ok", "error", "panic"
	)

	droppedEventsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "transaction_service",
		Name:      "dropped_events_total",
		Help:      "Events dropped because a subscriber was not keeping up.",
	})
)
