package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/remitflow/golang_services/internal/transaction_service/domain"
)

// StatusUpdate is a partner-originated status change.
type StatusUpdate struct {
	TransactionID string
	Status        domain.TransactionStatus
	Amount        *decimal.Decimal
	Fee           *decimal.Decimal
	Provider      *string
	PaymentMethod *string
	FailureReason *string
	Receipt       *string
	Timestamp     time.Time
}

// WebhookReconciler merges partner status updates into the local store.
// It is a trusting merge: transition legality belongs to the partner.
type WebhookReconciler struct {
	store    TransactionStore
	notifier domain.Notifier
	logger   *slog.Logger
}

func NewWebhookReconciler(store TransactionStore, notifier domain.Notifier, logger *slog.Logger) *WebhookReconciler {
	return &WebhookReconciler{
		store:    store,
		notifier: notifier,
		logger:   logger.With("component", "webhook_reconciler"),
	}
}

// HandleStatusUpdate applies upd. Unknown ids get a minimal record, stale and duplicate
// updates are acknowledged without side effects.
func (r *WebhookReconciler) HandleStatusUpdate(ctx context.Context, upd StatusUpdate) (*domain.Transaction, error) {
	if upd.TransactionID == "" {
		return nil, fmt.Errorf("%w: transaction_id is required", domain.ErrValidation)
	}
	if !upd.Status.IsValid() || upd.Status == domain.StatusOfflinePending {
		return nil, fmt.Errorf("%w: unsupported status %q", domain.ErrValidation, upd.Status)
	}
	if upd.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: timestamp is required", domain.ErrValidation)
	}
	ts := upd.Timestamp.UTC()
	logger := r.logger.With("transaction_id", upd.TransactionID, "status", upd.Status)

	status := upd.Status
	patch := domain.Patch{
		Status:        &status,
		Amount:        upd.Amount,
		Fee:           upd.Fee,
		Provider:      upd.Provider,
		PaymentMethod: upd.PaymentMethod,
		FailureReason: upd.FailureReason,
		Receipt:       upd.Receipt,
		UpdatedAt:     &ts,
	}
	if status == domain.StatusCompleted {
		patch.CompletedAt = &ts
	}
	seed := &domain.Transaction{ID: upd.TransactionID, CreatedAt: ts}

	tx, changed, err := r.store.Upsert(ctx, upd.TransactionID, patch, seed)
	if errors.Is(err, domain.ErrStaleUpdate) {
		webhookUpdatesCounter.WithLabelValues("stale").Inc()
		logger.InfoContext(ctx, "Ignoring stale status update", "timestamp", ts)
		return tx, nil
	}
	if err != nil {
		logger.ErrorContext(ctx, "Failed to reconcile status update", "error", err)
		return nil, err
	}
	if !changed {
		webhookUpdatesCounter.WithLabelValues("duplicate").Inc()
		logger.DebugContext(ctx, "Status update already applied")
		return tx, nil
	}

	webhookUpdatesCounter.WithLabelValues("applied").Inc()
	logger.InfoContext(ctx, "Status update applied")

	if r.notifier != nil {
		if err := r.notifier.Notify(ctx, domain.Event{Type: domain.EventTransactionUpdated, TransactionID: tx.ID, Transaction: tx}); err != nil {
			logger.WarnContext(ctx, "Change notification failed", "error", err)
		}
	}
	return tx, nil
}
