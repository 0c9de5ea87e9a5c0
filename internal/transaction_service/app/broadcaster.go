package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/remitflow/golang_services/internal/transaction_service/domain"
)

// Broadcaster fans events out to in-process subscribers and chained notifiers.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[int]chan domain.Event
	nextID  int
	chained []domain.Notifier
	buffer  int
	now     func() time.Time
	logger  *slog.Logger
}

func NewBroadcaster(buffer int, logger *slog.Logger, chained ...domain.Notifier) *Broadcaster {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broadcaster{
		subs:    make(map[int]chan domain.Event),
		chained: chained,
		buffer:  buffer,
		now:     time.Now,
		logger:  logger.With("component", "broadcaster"),
	}
}

// Subscribe returns an event channel and a func that closes it.
func (b *Broadcaster) Subscribe() (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan domain.Event, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Notify never blocks on slow subscribers; chained notifier errors are logged.
func (b *Broadcaster) Notify(ctx context.Context, ev domain.Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = b.now().UTC()
	}
	if ev.Transaction != nil {
		ev.Transaction = ev.Transaction.Clone()
	}

	b.mu.RLock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			droppedEventsCounter.Inc()
		}
	}
	b.mu.RUnlock()

	for _, n := range b.chained {
		if err := n.Notify(ctx, ev); err != nil {
			b.logger.WarnContext(ctx, "Chained notifier failed", "event_type", ev.Type, "error", err)
		}
	}
	return nil
}
