package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/remitflow/golang_services/internal/transaction_service/domain"
)

// EventSource is implemented by app.Broadcaster.
type EventSource interface {
	Subscribe() (<-chan domain.Event, func())
}

// TransactionLookup resolves the owner of events that only carry a transaction id.
type TransactionLookup interface {
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
}

type EventsHandler struct {
	source    EventSource
	lookup    TransactionLookup
	keepAlive time.Duration
	logger    *slog.Logger
}

func NewEventsHandler(source EventSource, lookup TransactionLookup, keepAlive time.Duration, logger *slog.Logger) *EventsHandler {
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &EventsHandler{source: source, lookup: lookup, keepAlive: keepAlive, logger: logger.With("component", "events_handler")}
}

// visible reports whether user may see ev. Events without a transaction are public;
// events with only an id are shown when the owner can be resolved.
func (h *EventsHandler) visible(ctx context.Context, ev domain.Event, user *AuthenticatedUser) bool {
	if ev.Transaction != nil {
		return ownedBy(ev.Transaction, user)
	}
	if ev.TransactionID == "" {
		return true
	}
	if h.lookup == nil {
		return false
	}
	tx, err := h.lookup.GetTransaction(ctx, ev.TransactionID)
	if err != nil {
		h.logger.DebugContext(ctx, "Dropping event with unresolved owner", "event_type", ev.Type, "transaction_id", ev.TransactionID, "error", err)
		return false
	}
	return ownedBy(tx, user)
}

// StreamEvents streams change notifications as Server-Sent Events until the client goes away.
// Events about another user's transactions are skipped.
func (h *EventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := userFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe := h.source.Subscribe()
	defer unsubscribe()
	sseClientsGauge.Inc()
	defer sseClientsGauge.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			if !h.visible(ctx, ev, user) {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.ErrorContext(ctx, "Failed to marshal event", "event_type", ev.Type, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
