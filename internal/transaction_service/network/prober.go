package network

import (
	"context"
	"log/slog"
	"time"
)

// Checker is anything that can prove the remote backend is reachable.
type Checker interface {
	Ping(ctx context.Context) error
}

// Prober pings a Checker on a ticker and feeds the Monitor.
type Prober struct {
	monitor          *Monitor
	checker          Checker
	interval         time.Duration
	timeout          time.Duration
	failureThreshold int
	logger           *slog.Logger

	failures int
}

// NewProber builds a prober. The monitor goes offline after failureThreshold consecutive failures
// and back online on the first success.
func NewProber(monitor *Monitor, checker Checker, interval time.Duration, failureThreshold int, logger *slog.Logger) *Prober {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if failureThreshold <= 0 {
		failureThreshold = 2
	}
	timeout := interval / 2
	if timeout > 3*time.Second {
		timeout = 3 * time.Second
	}
	return &Prober{
		monitor:          monitor,
		checker:          checker,
		interval:         interval,
		timeout:          timeout,
		failureThreshold: failureThreshold,
		logger:           logger.With("component", "network_prober"),
	}
}

// Run probes until ctx is done. It always returns nil.
func (p *Prober) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "Network prober started", "interval", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "Network prober stopping")
			return nil
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

func (p *Prober) probe(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.checker.Ping(pingCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}

	if err == nil {
		p.failures = 0
		p.monitor.SetOnline(ctx, true)
		return
	}
	p.failures++
	probeFailuresCounter.Inc()
	p.logger.DebugContext(ctx, "Backend probe failed", "consecutive_failures", p.failures, "error", err)
	if p.failures >= p.failureThreshold {
		p.monitor.SetOnline(ctx, false)
	}
}
