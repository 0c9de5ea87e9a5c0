package network

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Status is the read model of connectivity.
type Status struct {
	Online       bool       `json:"online"`
	OfflineSince *time.Time `json:"offline_since,omitempty"`
	LastOnlineAt *time.Time `json:"last_online_at,omitempty"`
}

// ReconnectHook runs synchronously on every offline to online transition.
type ReconnectHook func(ctx context.Context)

// ChangeListener observes every transition.
type ChangeListener func(ctx context.Context, status Status)

// Monitor is the single source of truth for connectivity.
type Monitor struct {
	mu           sync.RWMutex
	online       bool
	offlineSince *time.Time
	lastOnlineAt *time.Time
	hooks        []ReconnectHook
	listeners    []ChangeListener

	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Monitor)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func NewMonitor(initiallyOnline bool, logger *slog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		online: initiallyOnline,
		now:    time.Now,
		logger: logger.With("component", "network_monitor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if !initiallyOnline {
		now := m.now()
		m.offlineSince = &now
	}
	networkOnlineGauge.Set(boolToFloat(initiallyOnline))
	return m
}

// OnReconnect registers a hook. Hooks run in registration order.
func (m *Monitor) OnReconnect(hook ReconnectHook) {
	m.mu.Lock()
	m.hooks = append(m.hooks, hook)
	m.mu.Unlock()
}

func (m *Monitor) OnChange(listener ChangeListener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, listener)
	m.mu.Unlock()
}

func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked()
}

func (m *Monitor) statusLocked() Status {
	st := Status{Online: m.online}
	if m.offlineSince != nil {
		v := *m.offlineSince
		st.OfflineSince = &v
	}
	if m.lastOnlineAt != nil {
		v := *m.lastOnlineAt
		st.LastOnlineAt = &v
	}
	return st
}

// SetOnline feeds a connectivity signal. Repeating the current state is a no-op.
// Going online after being offline runs every reconnect hook before returning.
func (m *Monitor) SetOnline(ctx context.Context, online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	now := m.now()
	var offlineFor time.Duration
	if m.offlineSince != nil {
		offlineFor = now.Sub(*m.offlineSince)
	}
	m.online = online
	if online {
		m.lastOnlineAt = &now
		m.offlineSince = nil
	} else {
		m.offlineSince = &now
	}
	st := m.statusLocked()
	hooks := append([]ReconnectHook(nil), m.hooks...)
	listeners := append([]ChangeListener(nil), m.listeners...)
	m.mu.Unlock()

	networkOnlineGauge.Set(boolToFloat(online))
	transitionsCounter.WithLabelValues(stateLabel(online)).Inc()
	if online {
		m.logger.InfoContext(ctx, "Connectivity restored", "offline_for", offlineFor)
	} else {
		m.logger.WarnContext(ctx, "Connectivity lost")
	}

	for _, l := range listeners {
		l(ctx, st)
	}
	if online {
		for _, h := range hooks {
			h(ctx)
		}
	}
}

func stateLabel(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
