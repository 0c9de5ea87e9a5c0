package http

import (
	"time"

	"github.com/remitflow/golang_services/internal/transaction_service/domain"
	"github.com/remitflow/golang_services/internal/transaction_service/network"
	"github.com/remitflow/golang_services/internal/transaction_service/queue"
)

// PaymentStatusWebhookDTO is the partner callback payload.
type PaymentStatusWebhookDTO struct {
	TransactionID string  `json:"transaction_id" validate:"required,max=128"`
	Status        string  `json:"status" validate:"required,oneof=pending processing completed failed refunded cancelled"`
	Amount        *string `json:"amount,omitempty" validate:"omitempty,numeric"`
	Fee           *string `json:"fee,omitempty" validate:"omitempty,numeric"`
	Provider      *string `json:"provider,omitempty" validate:"omitempty,max=64"`
	PaymentMethod *string `json:"payment_method,omitempty" validate:"omitempty,max=64"`
	FailureReason *string `json:"failure_reason,omitempty" validate:"omitempty,max=512"`
	Receipt       *string `json:"receipt,omitempty" validate:"omitempty,max=2048"`
	Timestamp     string  `json:"timestamp" validate:"required"`
}

type WebhookAckDTO struct {
	TransactionID string                   `json:"transaction_id"`
	Status        domain.TransactionStatus `json:"status"`
	UpdatedAt     time.Time                `json:"updated_at"`
}

type RecipientDTO struct {
	ID      string `json:"id" validate:"required,max=128"`
	Name    string `json:"name" validate:"required,max=256"`
	Contact string `json:"contact,omitempty" validate:"omitempty,max=256"`
}

type ExchangeRateDTO struct {
	Value string     `json:"value" validate:"required,numeric"`
	AsOf  *time.Time `json:"as_of,omitempty"`
}

type CreateTransactionRequestDTO struct {
	Amount             string           `json:"amount" validate:"required,numeric"`
	SourceCurrency     string           `json:"source_currency" validate:"required,alpha,len=3"`
	TargetCurrency     string           `json:"target_currency" validate:"required,alpha,len=3"`
	Recipient          RecipientDTO     `json:"recipient"`
	Country            string           `json:"country" validate:"required,alpha,len=2"`
	PaymentMethod      string           `json:"payment_method" validate:"required,max=64"`
	Provider           *string          `json:"provider,omitempty" validate:"omitempty,max=64"`
	IsRecurring        bool             `json:"is_recurring"`
	RecurringPaymentID *string          `json:"recurring_payment_id,omitempty" validate:"omitempty,max=128"`
	ExchangeRate       *ExchangeRateDTO `json:"exchange_rate,omitempty"`
}

type UpdateTransactionRequestDTO struct {
	Provider      *string `json:"provider,omitempty" validate:"omitempty,min=1,max=64"`
	PaymentMethod *string `json:"payment_method,omitempty" validate:"omitempty,min=1,max=64"`
	Receipt       *string `json:"receipt,omitempty" validate:"omitempty,max=2048"`
}

type TransactionListDTO struct {
	Transactions []*domain.Transaction `json:"transactions"`
	Count        int                   `json:"count"`
}

type SyncStatusDTO struct {
	Queue   queue.Status   `json:"queue"`
	Network network.Status `json:"network"`
	Pending []PendingOpDTO `json:"pending_operations"`
}

type PendingOpDTO struct {
	ID            string               `json:"id"`
	Kind          domain.OperationKind `json:"kind"`
	TransactionID string               `json:"transaction_id"`
	Attempts      int                  `json:"attempts"`
	EnqueuedAt    time.Time            `json:"enqueued_at"`
	LastError     string               `json:"last_error,omitempty"`
}

type DrainResultDTO struct {
	Attempted int      `json:"attempted"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Requeued  int      `json:"requeued"`
	Errors    []string `json:"errors,omitempty"`
}

type SetNetworkRequestDTO struct {
	Online *bool `json:"online" validate:"required"`
}

type ErrorResponseDTO struct {
	Error string `json:"error"`
}
