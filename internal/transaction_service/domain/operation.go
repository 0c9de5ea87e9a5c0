package domain

import (
	"encoding/json"
	"time"
)

// OperationKind names a deferred remote call.
type OperationKind string

const (
	OpCreateTransaction OperationKind = "transaction.create"
	OpUpdateTransaction OperationKind = "transaction.update"
)

// Operation is a persisted descriptor of a deferred remote call.
type Operation struct {
	ID            string          `json:"id"`
	Kind          OperationKind   `json:"kind"`
	TransactionID string          `json:"transaction_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Attempts      int             `json:"attempts"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	LastError     string          `json:"last_error,omitempty"`
}

// UpdatePayload is the payload of an OpUpdateTransaction.
type UpdatePayload struct {
	Patch Patch `json:"patch"`
}

// EventType names a change notification.
type EventType string

const (
	EventTransactionCreated EventType = "transaction.created"
	EventTransactionUpdated EventType = "transaction.updated"
	EventSyncCompleted      EventType = "sync.completed"
	EventSyncFailed         EventType = "sync.failed"
	EventStorageFailed      EventType = "storage.failed"
	EventNetworkChanged     EventType = "network.changed"
)

// Event is a local change notification.
type Event struct {
	Type          EventType    `json:"type"`
	TransactionID string       `json:"transaction_id,omitempty"`
	Transaction   *Transaction `json:"transaction,omitempty"`
	Message       string       `json:"message,omitempty"`
	OccurredAt    time.Time    `json:"occurred_at"`
}
