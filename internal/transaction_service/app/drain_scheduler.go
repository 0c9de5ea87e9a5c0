package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/remitflow/golang_services/internal/transaction_service/domain"
)

// DrainScheduler periodically drains the queue while online. It catches reconnects
// that no connectivity signal reported.
type DrainScheduler struct {
	cron    *cron.Cron
	spec    string
	queue   OperationQueue
	network Connectivity
	timeout time.Duration
	logger  *slog.Logger
}

func NewDrainScheduler(spec string, q OperationQueue, network Connectivity, timeout time.Duration, logger *slog.Logger) *DrainScheduler {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &DrainScheduler{
		cron:    cron.New(),
		spec:    spec,
		queue:   q,
		network: network,
		timeout: timeout,
		logger:  logger.With("component", "drain_scheduler"),
	}
}

// Run schedules the job and blocks until ctx is done.
func (s *DrainScheduler) Run(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("invalid drain schedule %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.logger.InfoContext(ctx, "Drain scheduler started", "schedule", s.spec)

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.InfoContext(ctx, "Drain scheduler stopped")
	return nil
}

// Tick drains once if there is work and connectivity.
func (s *DrainScheduler) Tick(ctx context.Context) {
	if ctx.Err() != nil || !s.network.IsOnline() || s.queue.Len() == 0 {
		return
	}
	drainCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.queue.Drain(drainCtx)
	switch {
	case errors.Is(err, domain.ErrDrainInProgress):
		s.logger.DebugContext(ctx, "Drain already running, skipping scheduled run")
	case err != nil:
		s.logger.WarnContext(ctx, "Scheduled drain interrupted", "error", err, "requeued", res.Requeued)
	default:
		s.logger.InfoContext(ctx, "Scheduled drain finished", "attempted", res.Attempted, "failed", res.Failed)
	}
}
