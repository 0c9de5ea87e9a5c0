package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/remitflow/golang_services/internal/transaction_service/app"
	"github.com/remitflow/golang_services/internal/transaction_service/domain"
)

// Subscriber is implemented by messagebroker.NATSClient.
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler func(subject string, data []byte)) error
}

type StatusUpdateReconciler interface {
	HandleStatusUpdate(ctx context.Context, upd app.StatusUpdate) (*domain.Transaction, error)
}

// StatusMessage is a partner status update relayed over the broker.
type StatusMessage struct {
	TransactionID string           `json:"transaction_id"`
	Status        string           `json:"status"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Fee           *decimal.Decimal `json:"fee,omitempty"`
	Provider      *string          `json:"provider,omitempty"`
	PaymentMethod *string          `json:"payment_method,omitempty"`
	FailureReason *string          `json:"failure_reason,omitempty"`
	Receipt       *string          `json:"receipt,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// StatusSubscriber feeds broker-relayed partner updates into the webhook reconciler.
type StatusSubscriber struct {
	subscriber Subscriber
	reconciler StatusUpdateReconciler
	subject    string
	logger     *slog.Logger
}

func NewStatusSubscriber(subscriber Subscriber, reconciler StatusUpdateReconciler, subject string, logger *slog.Logger) *StatusSubscriber {
	return &StatusSubscriber{
		subscriber: subscriber,
		reconciler: reconciler,
		subject:    subject,
		logger:     logger.With("component", "status_subscriber", "subject", subject),
	}
}

// Run blocks until ctx is done.
func (s *StatusSubscriber) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Listening for relayed status updates")
	return s.subscriber.Subscribe(ctx, s.subject, func(_ string, data []byte) {
		if err := s.HandleMessage(ctx, data); err != nil {
			s.logger.ErrorContext(ctx, "Failed to handle status message", "error", err)
		}
	})
}

func (s *StatusSubscriber) HandleMessage(ctx context.Context, data []byte) error {
	var msg StatusMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode status message: %w", err)
	}
	if msg.Timestamp.IsZero() {
		return fmt.Errorf("%w: status message for %q has no timestamp", domain.ErrValidation, msg.TransactionID)
	}
	tx, err := s.reconciler.HandleStatusUpdate(ctx, app.StatusUpdate{
		TransactionID: msg.TransactionID,
		Status:        domain.TransactionStatus(msg.Status),
		Amount:        msg.Amount,
		Fee:           msg.Fee,
		Provider:      msg.Provider,
		PaymentMethod: msg.PaymentMethod,
		FailureReason: msg.FailureReason,
		Receipt:       msg.Receipt,
		Timestamp:     msg.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", msg.TransactionID, err)
	}
	s.logger.DebugContext(ctx, "Relayed status update applied", "transaction_id", tx.ID, "status", tx.Status)
	return nil
}
