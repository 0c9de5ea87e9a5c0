package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/remitflow/golang_services/internal/transaction_service/domain"
)

const subjectPrefix = "transactions.events."

// Publisher is implemented by messagebroker.NATSClient.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NATSNotifier publishes lifecycle events as JSON on transactions.events.<type>.
type NATSNotifier struct {
	publisher Publisher
	logger    *slog.Logger
}

func NewNATSNotifier(publisher Publisher, logger *slog.Logger) *NATSNotifier {
	return &NATSNotifier{publisher: publisher, logger: logger.With("component", "nats_notifier")}
}

func (n *NATSNotifier) Notify(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	subject := Subject(ev.Type)
	if err := n.publisher.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	n.logger.DebugContext(ctx, "Published transaction event", "subject", subject, "transaction_id", ev.TransactionID)
	return nil
}

func Subject(t domain.EventType) string {
	return subjectPrefix + string(t)
}
