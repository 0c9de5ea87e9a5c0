package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/remitflow/golang_services/internal/platform/kvstore"
	"github.com/remitflow/golang_services/internal/transaction_service/domain"
)

const (
	pendingKey  = "paused_operations"
	inflightKey = "paused_operations_inflight"
)

// Handler executes one operation. A handler that wants another attempt re-enqueues the op itself.
type Handler func(ctx context.Context, op domain.Operation) error

// Status is the progress read model.
type Status struct {
	Pending   int  `json:"pending"`
	Syncing   bool `json:"syncing"`
	Total     int  `json:"total"`     // size of the drain in flight
	Completed int  `json:"completed"` // ops of the drain in flight already attempted
}

// OperationError is a failed op within a drain.
type OperationError struct {
	Operation domain.Operation
	Err       error
}

// DrainResult summarizes one drain cycle.
type DrainResult struct {
	Attempted int
	Succeeded int
	Failed    int
	Requeued  int // put back unattempted because the context ended
	Errors    []OperationError
}

// Queue is the paused-operation queue. Operations are descriptors persisted in the KV store.
type Queue struct {
	kv     kvstore.Store
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	pending   []domain.Operation
	handlers  map[domain.OperationKind]Handler
	draining  bool
	total     int
	completed int
}

type Option func(*Queue)

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New restores persisted operations. Ops left in flight by a previous process go first.
func New(ctx context.Context, kv kvstore.Store, logger *slog.Logger, opts ...Option) (*Queue, error) {
	q := &Queue{
		kv:       kv,
		logger:   logger.With("component", "paused_operation_queue"),
		now:      time.Now,
		handlers: make(map[domain.OperationKind]Handler),
	}
	for _, opt := range opts {
		opt(q)
	}

	inflight, err := q.load(ctx, inflightKey)
	if err != nil {
		return nil, err
	}
	pending, err := q.load(ctx, pendingKey)
	if err != nil {
		return nil, err
	}
	q.pending = append(inflight, pending...)
	if len(inflight) > 0 {
		q.logger.WarnContext(ctx, "Restored operations from an interrupted drain", "count", len(inflight))
		q.persistLocked(ctx)
		if err := q.kv.Remove(ctx, inflightKey); err != nil {
			q.logger.WarnContext(ctx, "Failed to clear in-flight snapshot", "error", err)
		}
	}
	queuePendingGauge.Set(float64(len(q.pending)))
	if len(q.pending) > 0 {
		q.logger.InfoContext(ctx, "Paused operations restored", "count", len(q.pending))
	}
	return q, nil
}

func (q *Queue) load(ctx context.Context, key string) ([]domain.Operation, error) {
	raw, err := q.kv.Get(ctx, key)
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", domain.ErrStorage, key, err)
	}
	var ops []domain.Operation
	if err := json.Unmarshal(raw, &ops); err != nil {
		q.logger.ErrorContext(ctx, "Discarding undecodable persisted queue", "key", key, "error", err)
		return nil, nil
	}
	return ops, nil
}

// Register binds a handler to an operation kind.
func (q *Queue) Register(kind domain.OperationKind, h Handler) {
	q.mu.Lock()
	q.handlers[kind] = h
	q.mu.Unlock()
}

// Enqueue appends op. No deduplication is performed.
func (q *Queue) Enqueue(ctx context.Context, op domain.Operation) (domain.Operation, error) {
	if op.Kind == "" {
		return op, fmt.Errorf("%w: operation kind is required", domain.ErrValidation)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	op = q.stamp(op)
	q.pending = append(q.pending, op)
	q.persistLocked(ctx)
	enqueuedCounter.WithLabelValues(string(op.Kind)).Inc()
	return op, nil
}

// EnqueueUnique appends op unless an op of the same kind for the same transaction is already pending.
func (q *Queue) EnqueueUnique(ctx context.Context, op domain.Operation) (domain.Operation, bool, error) {
	if op.Kind == "" {
		return op, false, fmt.Errorf("%w: operation kind is required", domain.ErrValidation)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range q.pending {
		if p.Kind == op.Kind && p.TransactionID == op.TransactionID {
			return p, false, nil
		}
	}
	op = q.stamp(op)
	q.pending = append(q.pending, op)
	q.persistLocked(ctx)
	enqueuedCounter.WithLabelValues(string(op.Kind)).Inc()
	return op, true, nil
}

func (q *Queue) stamp(op domain.Operation) domain.Operation {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = q.now().UTC()
	}
	return op
}

// persistLocked writes the live queue. Failures leave the in-memory queue intact.
func (q *Queue) persistLocked(ctx context.Context) {
	queuePendingGauge.Set(float64(len(q.pending)))
	if err := q.save(ctx, pendingKey, q.pending); err != nil {
		persistFailuresCounter.Inc()
		q.logger.WarnContext(ctx, "Failed to persist paused operations", "count", len(q.pending), "error", err)
	}
}

func (q *Queue) save(ctx context.Context, key string, ops []domain.Operation) error {
	if ops == nil {
		ops = []domain.Operation{}
	}
	raw, err := json.Marshal(ops)
	if err != nil {
		return err
	}
	return q.kv.Set(ctx, key, raw)
}

// Drain runs a snapshot of the queue in order, settling every op.
// Ops enqueued while the drain runs wait for the next drain.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	// bookkeeping writes must land even when ctx is cancelled mid-drain
	bg := context.WithoutCancel(ctx)

	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return DrainResult{}, domain.ErrDrainInProgress
	}
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return DrainResult{}, nil
	}
	snapshot := q.pending
	q.pending = nil
	q.draining = true
	q.total = len(snapshot)
	q.completed = 0
	if err := q.save(bg, inflightKey, snapshot); err != nil {
		persistFailuresCounter.Inc()
		q.logger.WarnContext(ctx, "Failed to persist in-flight snapshot", "error", err)
	}
	q.persistLocked(bg)
	q.mu.Unlock()

	start := time.Now()
	var res DrainResult
	defer func() {
		q.mu.Lock()
		q.draining = false
		q.total = 0
		q.completed = 0
		if err := q.kv.Remove(bg, inflightKey); err != nil {
			q.logger.WarnContext(ctx, "Failed to clear in-flight snapshot", "error", err)
		}
		q.mu.Unlock()
		drainDurationHist.Observe(time.Since(start).Seconds())
	}()

	drainRunsCounter.Inc()
	q.logger.InfoContext(ctx, "Draining paused operations", "count", len(snapshot))

	for i, op := range snapshot {
		if ctx.Err() != nil {
			remainder := snapshot[i:]
			q.mu.Lock()
			q.pending = append(append([]domain.Operation(nil), remainder...), q.pending...)
			q.persistLocked(bg)
			q.mu.Unlock()
			res.Requeued = len(remainder)
			q.logger.WarnContext(ctx, "Drain interrupted, operations put back", "requeued", res.Requeued)
			break
		}

		op.Attempts++
		err := q.execute(ctx, op)
		res.Attempted++
		if err != nil {
			op.LastError = err.Error()
			res.Failed++
			res.Errors = append(res.Errors, OperationError{Operation: op, Err: err})
			operationsCounter.WithLabelValues(string(op.Kind), "failed").Inc()
			q.logger.WarnContext(ctx, "Paused operation failed", "operation_id", op.ID, "kind", op.Kind,
				"transaction_id", op.TransactionID, "attempts", op.Attempts, "error", err)
		} else {
			res.Succeeded++
			operationsCounter.WithLabelValues(string(op.Kind), "succeeded").Inc()
		}

		q.mu.Lock()
		q.completed++
		if err := q.save(bg, inflightKey, snapshot[i+1:]); err != nil {
			persistFailuresCounter.Inc()
		}
		q.mu.Unlock()
	}

	q.logger.InfoContext(ctx, "Drain finished", "attempted", res.Attempted, "succeeded", res.Succeeded,
		"failed", res.Failed, "requeued", res.Requeued)
	if err := ctx.Err(); err != nil && res.Requeued > 0 {
		return res, err
	}
	return res, nil
}

func (q *Queue) execute(ctx context.Context, op domain.Operation) (err error) {
	q.mu.Lock()
	h, ok := q.handlers[op.Kind]
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownOperation, op.Kind)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation %s panicked: %v", op.ID, r)
		}
	}()
	return h(ctx, op)
}

func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{Pending: len(q.pending), Syncing: q.draining, Total: q.total, Completed: q.completed}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending returns a copy of the live queue.
func (q *Queue) Pending() []domain.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.Operation(nil), q.pending...)
}
