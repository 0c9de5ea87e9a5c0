package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/remitflow/golang_services/internal/transaction_service/domain"
)

// CreateTransactionRequest carries everything needed to open a transfer.
type CreateTransactionRequest struct {
	UserID             string
	Amount             decimal.Decimal
	SourceCurrency     string
	TargetCurrency     string
	Recipient          domain.Recipient
	Country            string
	PaymentMethod      string
	Provider           *string
	IsRecurring        bool
	RecurringPaymentID *string
	ExchangeRate       *domain.Rate // pre-quoted; fetched from the rate provider when nil
}

// UpdateDetailsRequest changes informational fields chosen after creation.
type UpdateDetailsRequest struct {
	Provider      *string
	PaymentMethod *string
	Receipt       *string
}

// ManagerConfig tunes the TransactionManager.
type ManagerConfig struct {
	Fees          domain.FeeSchedule
	MaxAttempts   int
	RemoteTimeout time.Duration
}

// TransactionManager is the only component that creates transactions and decides their sync path.
type TransactionManager struct {
	store    TransactionStore
	queue    OperationQueue
	network  Connectivity
	remote   domain.RemoteBackend
	rates    domain.RateProvider
	notifier domain.Notifier
	tasks    *TaskRunner
	cfg      ManagerConfig

	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

type ManagerOption func(*TransactionManager)

func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *TransactionManager) { m.now = now }
}

func WithIDGenerator(gen func() string) ManagerOption {
	return func(m *TransactionManager) { m.newID = gen }
}

// NewTransactionManager wires the manager and registers its queue handlers.
func NewTransactionManager(
	store TransactionStore,
	q OperationQueue,
	network Connectivity,
	remote domain.RemoteBackend,
	rates domain.RateProvider,
	notifier domain.Notifier,
	tasks *TaskRunner,
	cfg ManagerConfig,
	logger *slog.Logger,
	opts ...ManagerOption,
) *TransactionManager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = 10 * time.Second
	}
	m := &TransactionManager{
		store:    store,
		queue:    q,
		network:  network,
		remote:   remote,
		rates:    rates,
		notifier: notifier,
		tasks:    tasks,
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   logger.With("component", "transaction_manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	q.Register(domain.OpCreateTransaction, m.handleCreateOperation)
	q.Register(domain.OpUpdateTransaction, m.handleUpdateOperation)
	return m
}

func (r CreateTransactionRequest) validate() error {
	var problems []string
	if !r.Amount.IsPositive() {
		problems = append(problems, "amount must be positive")
	}
	if r.Recipient.ID == "" && r.Recipient.Name == "" {
		problems = append(problems, "recipient is required")
	}
	if r.PaymentMethod == "" {
		problems = append(problems, "payment method is required")
	}
	if r.SourceCurrency == "" || r.TargetCurrency == "" {
		problems = append(problems, "source and target currency are required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// CreateTransaction builds, persists and schedules the remote write of a new transaction.
// Only validation and rate lookup failures are returned; storage and remote failures are
// reported through the notifier and never block the caller.
func (m *TransactionManager) CreateTransaction(ctx context.Context, req CreateTransactionRequest) (*domain.Transaction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	online := m.network.IsOnline()

	rate, err := m.resolveRate(ctx, req)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	fee := m.cfg.Fees.Fee(req.Amount, req.Country)
	status := domain.StatusPending
	if !online {
		status = domain.StatusOfflinePending
	}
	tx := &domain.Transaction{
		ID:                 m.newID(),
		UserID:             req.UserID,
		Amount:             req.Amount,
		Fee:                fee,
		TotalAmount:        req.Amount.Add(fee),
		SourceCurrency:     strings.ToUpper(req.SourceCurrency),
		TargetCurrency:     strings.ToUpper(req.TargetCurrency),
		ExchangeRate:       rate.Value,
		Recipient:          req.Recipient,
		Country:            strings.ToUpper(req.Country),
		PaymentMethod:      req.PaymentMethod,
		Provider:           req.Provider,
		Status:             status,
		CreatedAt:          now,
		UpdatedAt:          now,
		EstimatedDelivery:  domain.EstimatedDelivery(req.PaymentMethod),
		IsRecurring:        req.IsRecurring,
		RecurringPaymentID: req.RecurringPaymentID,
	}
	if !rate.AsOf.IsZero() {
		asOf := rate.AsOf.UTC()
		tx.RateAsOf = &asOf
	}
	logger := m.logger.With("transaction_id", tx.ID, "status", tx.Status)

	m.persist(ctx, tx, logger)
	transactionsCreatedCounter.WithLabelValues(string(tx.Status)).Inc()
	m.notify(ctx, domain.Event{Type: domain.EventTransactionCreated, TransactionID: tx.ID, Transaction: tx})

	if online {
		snapshot := tx.Clone()
		m.tasks.Go("remote_create", func(taskCtx context.Context) error {
			return m.pushCreate(taskCtx, snapshot, 0)
		})
	} else {
		m.deferCreate(ctx, tx, 0, logger)
	}

	logger.InfoContext(ctx, "Transaction created", "amount", tx.Amount.String(), "fee", tx.Fee.String(), "online", online)
	return tx.Clone(), nil
}

func (m *TransactionManager) resolveRate(ctx context.Context, req CreateTransactionRequest) (domain.Rate, error) {
	if req.ExchangeRate != nil {
		if !req.ExchangeRate.Value.IsPositive() {
			return domain.Rate{}, fmt.Errorf("%w: exchange rate must be positive", domain.ErrValidation)
		}
		return *req.ExchangeRate, nil
	}
	if strings.EqualFold(req.SourceCurrency, req.TargetCurrency) {
		return domain.Rate{Value: decimal.NewFromInt(1), AsOf: m.now()}, nil
	}
	rate, err := m.rates.GetRate(ctx, req.SourceCurrency, req.TargetCurrency)
	if err != nil {
		return domain.Rate{}, fmt.Errorf("exchange rate %s/%s: %w", req.SourceCurrency, req.TargetCurrency, err)
	}
	return rate, nil
}

// persist writes through the store, verifies the write and checkpoints the compatibility slots.
func (m *TransactionManager) persist(ctx context.Context, tx *domain.Transaction, logger *slog.Logger) {
	if err := m.store.Put(ctx, tx); err != nil {
		logger.ErrorContext(ctx, "Local storage write failed, continuing with in-memory transaction", "error", err)
		m.notify(ctx, domain.Event{Type: domain.EventStorageFailed, TransactionID: tx.ID, Message: err.Error()})
	} else if stored, err := m.store.Get(ctx, tx.ID); err != nil || stored.Status != tx.Status {
		logger.ErrorContext(ctx, "Local storage verification failed", "error", err)
		m.notify(ctx, domain.Event{Type: domain.EventStorageFailed, TransactionID: tx.ID, Message: "verification after write failed"})
	}
	m.store.Checkpoint(ctx, tx)
}

// deferCreate queues a remote create. The payload is a fallback for when the store cannot serve the record.
func (m *TransactionManager) deferCreate(ctx context.Context, tx *domain.Transaction, attempts int, logger *slog.Logger) {
	payload, err := json.Marshal(tx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to encode deferred create", "error", err)
		return
	}
	_, added, err := m.queue.EnqueueUnique(ctx, domain.Operation{
		Kind:          domain.OpCreateTransaction,
		TransactionID: tx.ID,
		Payload:       payload,
		Attempts:      attempts,
	})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to defer remote create", "error", err)
		return
	}
	if added {
		remoteWritesCounter.WithLabelValues("create", "deferred").Inc()
		logger.InfoContext(ctx, "Remote create deferred until reconnect")
	}
}

// pushCreate sends the transaction to the remote backend, as pending.
// Transient failures are deferred to the queue; everything else is reported.
func (m *TransactionManager) pushCreate(ctx context.Context, tx *domain.Transaction, attempts int) error {
	logger := m.logger.With("transaction_id", tx.ID)
	remoteTx := tx.Clone()
	if remoteTx.Status == domain.StatusOfflinePending {
		remoteTx.Status = domain.StatusPending
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.RemoteTimeout)
	_, err := m.remote.CreateTransaction(callCtx, remoteTx)
	cancel()
	if err != nil {
		err = domain.ClassifyRemoteError("create", err)
		m.recordRemoteFailure(ctx, "create", tx.ID, attempts, err, logger, func() {
			m.deferCreate(ctx, tx, attempts, logger)
		})
		return err
	}
	remoteWritesCounter.WithLabelValues("create", "ok").Inc()

	if tx.Status == domain.StatusOfflinePending {
		now := m.now().UTC()
		updated, err := m.store.Update(ctx, tx.ID, domain.Patch{
			Status:    domain.Ptr(domain.StatusPending),
			IfStatus:  domain.Ptr(domain.StatusOfflinePending),
			UpdatedAt: &now,
		})
		switch {
		case errors.Is(err, domain.ErrStaleUpdate):
			logger.InfoContext(ctx, "Local record moved on while syncing, keeping it")
		case err != nil:
			logger.ErrorContext(ctx, "Failed to mark synced transaction as pending", "error", err)
		case updated.Status == domain.StatusPending:
			m.notify(ctx, domain.Event{Type: domain.EventTransactionUpdated, TransactionID: tx.ID, Transaction: updated})
		}
	}
	m.notify(ctx, domain.Event{Type: domain.EventSyncCompleted, TransactionID: tx.ID})
	logger.InfoContext(ctx, "Transaction synced to remote backend")
	return nil
}

// recordRemoteFailure defers transient failures while attempts remain and reports the rest.
func (m *TransactionManager) recordRemoteFailure(ctx context.Context, op, id string, attempts int, err error, logger *slog.Logger, retry func()) {
	var re *domain.RemoteError
	kind := string(domain.RemoteServer)
	if errors.As(err, &re) {
		kind = string(re.Kind)
	}
	remoteWritesCounter.WithLabelValues(op, kind).Inc()

	if domain.IsTransient(err) && attempts < m.cfg.MaxAttempts {
		logger.WarnContext(ctx, "Remote write failed, will retry on next drain", "operation", op, "kind", kind, "attempts", attempts, "error", err)
		retry()
		return
	}
	logger.ErrorContext(ctx, "Remote write failed, local record kept", "operation", op, "kind", kind, "attempts", attempts, "error", err)
	m.notify(ctx, domain.Event{Type: domain.EventSyncFailed, TransactionID: id, Message: err.Error()})
}

func (m *TransactionManager) handleCreateOperation(ctx context.Context, op domain.Operation) error {
	tx, err := m.store.Get(ctx, op.TransactionID)
	if err != nil {
		if len(op.Payload) == 0 {
			return fmt.Errorf("replay create %s: %w", op.TransactionID, err)
		}
		tx = &domain.Transaction{}
		if derr := json.Unmarshal(op.Payload, tx); derr != nil {
			return fmt.Errorf("replay create %s: decode payload: %w", op.TransactionID, derr)
		}
	}
	return m.pushCreate(ctx, tx, op.Attempts)
}

func (m *TransactionManager) handleUpdateOperation(ctx context.Context, op domain.Operation) error {
	var payload domain.UpdatePayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return fmt.Errorf("replay update %s: decode payload: %w", op.TransactionID, err)
	}
	return m.pushUpdate(ctx, op.TransactionID, payload.Patch, op.Attempts)
}

func (m *TransactionManager) pushUpdate(ctx context.Context, id string, patch domain.Patch, attempts int) error {
	logger := m.logger.With("transaction_id", id)
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.RemoteTimeout)
	_, err := m.remote.UpdateTransaction(callCtx, id, patch)
	cancel()
	if err != nil {
		err = domain.ClassifyRemoteError("update", err)
		m.recordRemoteFailure(ctx, "update", id, attempts, err, logger, func() {
			m.deferUpdate(ctx, id, patch, attempts, logger)
		})
		return err
	}
	remoteWritesCounter.WithLabelValues("update", "ok").Inc()
	m.notify(ctx, domain.Event{Type: domain.EventSyncCompleted, TransactionID: id})
	return nil
}

func (m *TransactionManager) deferUpdate(ctx context.Context, id string, patch domain.Patch, attempts int, logger *slog.Logger) {
	raw, err := json.Marshal(domain.UpdatePayload{Patch: patch})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to encode deferred update", "error", err)
		return
	}
	if _, err := m.queue.Enqueue(ctx, domain.Operation{
		Kind:          domain.OpUpdateTransaction,
		TransactionID: id,
		Payload:       raw,
		Attempts:      attempts,
	}); err != nil {
		logger.ErrorContext(ctx, "Failed to defer remote update", "error", err)
		return
	}
	remoteWritesCounter.WithLabelValues("update", "deferred").Inc()
}

// UpdateDetails changes informational fields locally, then syncs them like a create.
func (m *TransactionManager) UpdateDetails(ctx context.Context, id string, req UpdateDetailsRequest) (*domain.Transaction, error) {
	patch := domain.Patch{Provider: req.Provider, PaymentMethod: req.PaymentMethod, Receipt: req.Receipt}
	if patch.IsEmpty() {
		return nil, fmt.Errorf("%w: nothing to update", domain.ErrValidation)
	}
	now := m.now().UTC()
	patch.UpdatedAt = &now

	tx, err := m.store.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	m.notify(ctx, domain.Event{Type: domain.EventTransactionUpdated, TransactionID: id, Transaction: tx})

	logger := m.logger.With("transaction_id", id)
	if m.network.IsOnline() {
		m.tasks.Go("remote_update", func(taskCtx context.Context) error {
			return m.pushUpdate(taskCtx, id, patch, 0)
		})
	} else {
		m.deferUpdate(ctx, id, patch, 0, logger)
	}
	return tx, nil
}

// RetrySync pushes a stored transaction to the remote backend now. Errors are returned.
func (m *TransactionManager) RetrySync(ctx context.Context, id string) (*domain.Transaction, error) {
	tx, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	remoteTx := tx.Clone()
	if remoteTx.Status == domain.StatusOfflinePending {
		remoteTx.Status = domain.StatusPending
	}
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.RemoteTimeout)
	_, err = m.remote.CreateTransaction(callCtx, remoteTx)
	cancel()
	if err != nil {
		err = domain.ClassifyRemoteError("create", err)
		m.logger.WarnContext(ctx, "Manual sync failed", "transaction_id", id, "error", err)
		return nil, err
	}
	remoteWritesCounter.WithLabelValues("create", "ok").Inc()

	if tx.Status == domain.StatusOfflinePending {
		now := m.now().UTC()
		updated, err := m.store.Update(ctx, id, domain.Patch{
			Status:    domain.Ptr(domain.StatusPending),
			IfStatus:  domain.Ptr(domain.StatusOfflinePending),
			UpdatedAt: &now,
		})
		if err != nil && !errors.Is(err, domain.ErrStaleUpdate) {
			return nil, err
		}
		if updated != nil {
			tx = updated
		}
	}
	m.notify(ctx, domain.Event{Type: domain.EventSyncCompleted, TransactionID: id})
	return tx, nil
}

func (m *TransactionManager) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return m.store.Get(ctx, id)
}

// ListTransactions returns local transactions visible to userID, newest first: its own
// records plus records with no owner. An empty userID lists all.
func (m *TransactionManager) ListTransactions(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return all, nil
	}
	out := make([]*domain.Transaction, 0, len(all))
	for _, tx := range all {
		if tx.UserID == "" || tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *TransactionManager) notify(ctx context.Context, ev domain.Event) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, ev); err != nil {
		m.logger.WarnContext(ctx, "Notification failed", "event_type", ev.Type, "error", err)
	}
}
