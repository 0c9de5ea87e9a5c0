package backend

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/remitflow/golang_services/internal/transaction_service/domain"
)

var (
	requestsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transaction_service",
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Remote backend calls by operation and outcome.",
		},
		[]string{"operation", "outcome"}, // outcome: "ok" or an error kind
	)

	rateLimitWaitsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "transaction_service",
		Subsystem: "backend",
		Name:      "rate_limit_waits_total",
		Help:      "Backend calls delayed by the client-side rate limiter.",
	})
)

func recordRequest(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if kind := errorKind(err); kind != "" {
			outcome = kind
		}
	}
	requestsCounter.WithLabelValues(op, outcome).Inc()
}

func errorKind(err error) string {
	var re *domain.RemoteError
	if errors.As(err, &re) {
		return string(re.Kind)
	}
	return ""
}
