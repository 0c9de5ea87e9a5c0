package network

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	networkOnlineGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "transaction_service",
		Name:      "network_online",
		Help:      "1 while the remote backend is considered reachable.",
	})

	transitionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transaction_service",
			Name:      "network_transitions_total",
			Help:      "Connectivity transitions by target state.",
		},
		[]string{"state"},
	)

	probeFailuresCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "transaction_service",
		Name:      "network_probe_failures_total",
		Help:      "Failed backend reachability probes.",
	})
)
