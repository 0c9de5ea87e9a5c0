package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	slotWriteFailuresCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transaction_service",
			Subsystem: "store",
			Name:      "slot_write_failures_total",
			Help:      "Failed writes per storage slot.",
		},
		[]string{"slot"}, // canonical, backup, session, latest, legacy_pending, legacy_last
	)

	fallbackReadsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transaction_service",
			Subsystem: "store",
			Name:      "fallback_reads_total",
			Help:      "Reads served by a non-canonical slot.",
		},
		[]string{"slot"},
	)
)
