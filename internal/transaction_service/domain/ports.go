package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RemoteBackend is the remote source of truth for transactions.
// Both writes must be idempotent by transaction id.
type RemoteBackend interface {
	CreateTransaction(ctx context.Context, tx *Transaction) (*Transaction, error)
	UpdateTransaction(ctx context.Context, id string, patch Patch) (*Transaction, error)
	Ping(ctx context.Context) error
}

// Rate is an exchange rate quote.
type Rate struct {
	Value decimal.Decimal
	AsOf  time.Time
}

type RateProvider interface {
	GetRate(ctx context.Context, source, target string) (Rate, error)
}

// Notifier delivers change notifications. Implementations must not block for long.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}
