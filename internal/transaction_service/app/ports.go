package app

import (
	"context"

	"github.com/remitflow/golang_services/internal/transaction_service/domain"
	"github.com/remitflow/golang_services/internal/transaction_service/queue"
)

// TransactionStore is the local store contract used by the app layer.
type TransactionStore interface {
	Put(ctx context.Context, tx *domain.Transaction) error
	Get(ctx context.Context, id string) (*domain.Transaction, error)
	Update(ctx context.Context, id string, patch domain.Patch) (*domain.Transaction, error)
	Upsert(ctx context.Context, id string, patch domain.Patch, seed *domain.Transaction) (*domain.Transaction, bool, error)
	Checkpoint(ctx context.Context, tx *domain.Transaction)
	List(ctx context.Context) ([]*domain.Transaction, error)
}

// OperationQueue is the paused-operation queue contract.
type OperationQueue interface {
	Register(kind domain.OperationKind, h queue.Handler)
	Enqueue(ctx context.Context, op domain.Operation) (domain.Operation, error)
	EnqueueUnique(ctx context.Context, op domain.Operation) (domain.Operation, bool, error)
	Drain(ctx context.Context) (queue.DrainResult, error)
	Status() queue.Status
	Len() int
}

// Connectivity is the read side of the network monitor.
type Connectivity interface {
	IsOnline() bool
}
