package network

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupMonitorTest(online bool) (*Monitor, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMonitor(online, logger, WithClock(clock.Now)), clock
}

func TestMonitor_TransitionsRecordTimestamps(t *testing.T) {
	m, clock := setupMonitorTest(true)
	ctx := context.Background()
	assert.True(t, m.IsOnline())
	assert.Nil(t, m.Status().OfflineSince)

	clock.Advance(time.Minute)
	wentOffline := clock.Now()
	m.SetOnline(ctx, false)
	st := m.Status()
	assert.False(t, st.Online)
	require.NotNil(t, st.OfflineSince)
	assert.Equal(t, wentOffline, *st.OfflineSince)

	clock.Advance(time.Minute)
	cameBack := clock.Now()
	m.SetOnline(ctx, true)
	st = m.Status()
	assert.True(t, st.Online)
	assert.Nil(t, st.OfflineSince)
	require.NotNil(t, st.LastOnlineAt)
	assert.Equal(t, cameBack, *st.LastOnlineAt)
}

func TestMonitor_StartsOfflineWithTimestamp(t *testing.T) {
	m, clock := setupMonitorTest(false)
	st := m.Status()
	assert.False(t, st.Online)
	require.NotNil(t, st.OfflineSince)
	assert.Equal(t, clock.Now(), *st.OfflineSince)
}

func TestMonitor_ReconnectHookRunsSynchronouslyOnce(t *testing.T) {
	m, _ := setupMonitorTest(true)
	ctx := context.Background()
	var calls int
	m.OnReconnect(func(context.Context) { calls++ })

	m.SetOnline(ctx, true)
	assert.Equal(t, 0, calls, "already online")

	m.SetOnline(ctx, false)
	m.SetOnline(ctx, false)
	assert.Equal(t, 0, calls)

	m.SetOnline(ctx, true)
	assert.Equal(t, 1, calls, "hook has run by the time SetOnline returns")
	m.SetOnline(ctx, true)
	assert.Equal(t, 1, calls)
}

func TestMonitor_ChangeListeners(t *testing.T) {
	m, _ := setupMonitorTest(true)
	ctx := context.Background()
	var seen []bool
	m.OnChange(func(_ context.Context, st Status) { seen = append(seen, st.Online) })

	m.SetOnline(ctx, false)
	m.SetOnline(ctx, true)
	assert.Equal(t, []bool{false, true}, seen)
}

type flakyChecker struct {
	fail atomic.Bool
}

func (c *flakyChecker) Ping(context.Context) error {
	if c.fail.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func TestProber_DrivesMonitor(t *testing.T) {
	m, _ := setupMonitorTest(true)
	checker := &flakyChecker{}
	checker.fail.Store(true)
	var reconnects atomic.Int32
	m.OnReconnect(func(context.Context) { reconnects.Add(1) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewProber(m, checker, 10*time.Millisecond, 2, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return !m.IsOnline() }, time.Second, 5*time.Millisecond)
	checker.fail.Store(false)
	require.Eventually(t, func() bool { return reconnects.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, m.IsOnline())

	cancel()
	assert.NoError(t, <-done)
}
