package grpc

import (
	"context"
	"log/slog"

	gRPC "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/remitflow/golang_services/internal/transaction_service/network"
)

// ServiceName is the health-checked service; "" reports the whole server.
const ServiceName = "remitflow.transaction.v1.TransactionService"

// HealthReporter publishes connectivity as grpc.health.v1 status.
type HealthReporter struct {
	server *health.Server
	logger *slog.Logger
}

func NewHealthReporter(initiallyOnline bool, logger *slog.Logger) *HealthReporter {
	h := &HealthReporter{server: health.NewServer(), logger: logger.With("component", "grpc_health")}
	h.set(initiallyOnline)
	return h
}

// Register attaches the health service to s.
func (h *HealthReporter) Register(s *gRPC.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Observe is a network.ChangeListener.
func (h *HealthReporter) Observe(ctx context.Context, status network.Status) {
	h.set(status.Online)
	h.logger.DebugContext(ctx, "Health status updated", "online", status.Online)
}

// Shutdown marks every service NOT_SERVING.
func (h *HealthReporter) Shutdown() {
	h.server.Shutdown()
}

func (h *HealthReporter) Server() healthpb.HealthServer {
	return h.server
}

func (h *HealthReporter) set(online bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if online {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
}
