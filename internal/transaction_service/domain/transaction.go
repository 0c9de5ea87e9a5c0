package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a transfer.
type TransactionStatus string

const (
	StatusOfflinePending TransactionStatus = "offline-pending"
	StatusPending        TransactionStatus = "pending"
	StatusProcessing     TransactionStatus = "processing"
	StatusCompleted      TransactionStatus = "completed"
	StatusFailed         TransactionStatus = "failed"
	StatusRefunded       TransactionStatus = "refunded"
	StatusCancelled      TransactionStatus = "cancelled"
)

// IsTerminal reports whether no further lifecycle transitions are accepted.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRefunded, StatusCancelled:
		return true
	}
	return false
}

// IsValid reports whether s is a known status.
func (s TransactionStatus) IsValid() bool {
	switch s {
	case StatusOfflinePending, StatusPending, StatusProcessing,
		StatusCompleted, StatusFailed, StatusRefunded, StatusCancelled:
		return true
	}
	return false
}

// Recipient is the receiving party of a transfer.
type Recipient struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Contact string `json:"contact,omitempty"`
}

// Transaction is a money transfer intent. ID is assigned once by the client and never regenerated.
type Transaction struct {
	ID                 string            `json:"id"`
	UserID             string            `json:"user_id,omitempty"`
	Amount             decimal.Decimal   `json:"amount"`
	Fee                decimal.Decimal   `json:"fee"`
	TotalAmount        decimal.Decimal   `json:"total_amount"`
	SourceCurrency     string            `json:"source_currency"`
	TargetCurrency     string            `json:"target_currency"`
	ExchangeRate       decimal.Decimal   `json:"exchange_rate"`
	RateAsOf           *time.Time        `json:"rate_as_of,omitempty"`
	Recipient          Recipient         `json:"recipient"`
	Country            string            `json:"country"`
	PaymentMethod      string            `json:"payment_method"`
	Provider           *string           `json:"provider,omitempty"`
	Status             TransactionStatus `json:"status"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty"`
	EstimatedDelivery  string            `json:"estimated_delivery"`
	IsRecurring        bool              `json:"is_recurring"`
	RecurringPaymentID *string           `json:"recurring_payment_id,omitempty"`
	FailureReason      *string           `json:"failure_reason,omitempty"`
	Receipt            *string           `json:"receipt,omitempty"`
}

// Clone returns a deep copy.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	c.RateAsOf = cloneTime(t.RateAsOf)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.Provider = cloneString(t.Provider)
	c.RecurringPaymentID = cloneString(t.RecurringPaymentID)
	c.FailureReason = cloneString(t.FailureReason)
	c.Receipt = cloneString(t.Receipt)
	return &c
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Status        *TransactionStatus `json:"status,omitempty"`
	Amount        *decimal.Decimal   `json:"amount,omitempty"`
	Fee           *decimal.Decimal   `json:"fee,omitempty"`
	Provider      *string            `json:"provider,omitempty"`
	PaymentMethod *string            `json:"payment_method,omitempty"`
	FailureReason *string            `json:"failure_reason,omitempty"`
	Receipt       *string            `json:"receipt,omitempty"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	UpdatedAt     *time.Time         `json:"updated_at,omitempty"`

	// IfStatus makes the patch conditional on the stored status. Not sent to remotes.
	IfStatus *TransactionStatus `json:"-"`
}

// IsEmpty reports whether the patch carries no field changes.
func (p Patch) IsEmpty() bool {
	return p.Status == nil && p.Amount == nil && p.Fee == nil && p.Provider == nil &&
		p.PaymentMethod == nil && p.FailureReason == nil && p.Receipt == nil &&
		p.CompletedAt == nil && p.UpdatedAt == nil
}

// Apply merges p into t and reports whether t changed.
//
// A patch older than t.UpdatedAt is rejected with ErrStaleUpdate. A patch whose IfStatus
// does not match is ignored. Terminal records only accept a new Receipt.
func (t *Transaction) Apply(p Patch) (bool, error) {
	if p.UpdatedAt != nil && !t.UpdatedAt.IsZero() && p.UpdatedAt.Before(t.UpdatedAt) {
		return false, ErrStaleUpdate
	}
	if p.IfStatus != nil && *p.IfStatus != t.Status {
		return false, nil
	}

	changed := false
	if t.Status.IsTerminal() {
		if p.Receipt != nil && !stringPtrEqual(t.Receipt, p.Receipt) {
			t.Receipt = cloneString(p.Receipt)
			changed = true
			t.touch(p.UpdatedAt)
		}
		return changed, nil
	}

	if p.Status != nil && *p.Status != t.Status {
		t.Status = *p.Status
		changed = true
	}
	moneyChanged := false
	if p.Amount != nil && !p.Amount.Equal(t.Amount) {
		t.Amount = *p.Amount
		moneyChanged = true
	}
	if p.Fee != nil && !p.Fee.Equal(t.Fee) {
		t.Fee = *p.Fee
		moneyChanged = true
	}
	if moneyChanged {
		t.TotalAmount = t.Amount.Add(t.Fee)
		changed = true
	}
	if p.Provider != nil && !stringPtrEqual(t.Provider, p.Provider) {
		t.Provider = cloneString(p.Provider)
		changed = true
	}
	if p.PaymentMethod != nil && *p.PaymentMethod != t.PaymentMethod {
		t.PaymentMethod = *p.PaymentMethod
		changed = true
	}
	if p.FailureReason != nil && !stringPtrEqual(t.FailureReason, p.FailureReason) {
		t.FailureReason = cloneString(p.FailureReason)
		changed = true
	}
	if p.Receipt != nil && !stringPtrEqual(t.Receipt, p.Receipt) {
		t.Receipt = cloneString(p.Receipt)
		changed = true
	}
	if p.CompletedAt != nil && (t.CompletedAt == nil || !t.CompletedAt.Equal(*p.CompletedAt)) {
		t.CompletedAt = cloneTime(p.CompletedAt)
		changed = true
	}
	if t.touch(p.UpdatedAt) {
		changed = true
	}
	return changed, nil
}

func (t *Transaction) touch(at *time.Time) bool {
	if at == nil || at.Equal(t.UpdatedAt) {
		return false
	}
	t.UpdatedAt = *at
	return true
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
