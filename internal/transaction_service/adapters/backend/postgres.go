package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/remitflow/golang_services/internal/transaction_service/domain"
)

// DBTX is satisfied by *pgxpool.Pool and pgxmock pools.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresBackend writes transactions straight into the remote transactions table.
type PostgresBackend struct {
	db     DBTX
	logger *slog.Logger
}

func NewPostgresBackend(db DBTX, logger *slog.Logger) *PostgresBackend {
	return &PostgresBackend{db: db, logger: logger.With("component", "postgres_backend")}
}

const insertTransactionSQL = `INSERT INTO transactions (
	id, user_id, amount, fee, total_amount, source_currency, target_currency,
	exchange_rate, rate_as_of, recipient_id, recipient_name, recipient_contact,
	country, payment_method, provider, status, created_at, updated_at, completed_at,
	estimated_delivery, is_recurring, recurring_payment_id, failure_reason, receipt
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
ON CONFLICT (id) DO NOTHING`

// CreateTransaction inserts tx. Replays of an already stored id are no-ops.
func (b *PostgresBackend) CreateTransaction(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	tag, err := b.db.Exec(ctx, insertTransactionSQL,
		tx.ID, nullIfEmpty(tx.UserID), tx.Amount.String(), tx.Fee.String(), tx.TotalAmount.String(),
		tx.SourceCurrency, tx.TargetCurrency, tx.ExchangeRate.String(), tx.RateAsOf,
		tx.Recipient.ID, tx.Recipient.Name, nullIfEmpty(tx.Recipient.Contact),
		tx.Country, tx.PaymentMethod, tx.Provider, string(tx.Status), tx.CreatedAt, tx.UpdatedAt, tx.CompletedAt,
		tx.EstimatedDelivery, tx.IsRecurring, tx.RecurringPaymentID, tx.FailureReason, tx.Receipt,
	)
	if err != nil {
		err = classifyPgError("create", err)
		recordRequest("create", err)
		return nil, err
	}
	recordRequest("create", nil)
	if tag.RowsAffected() == 0 {
		b.logger.DebugContext(ctx, "Transaction already present remotely", "transaction_id", tx.ID)
	}
	return tx, nil
}

// UpdateTransaction applies the non-nil patch fields and returns the remote id, status and updated_at.
func (b *PostgresBackend) UpdateTransaction(ctx context.Context, id string, patch domain.Patch) (*domain.Transaction, error) {
	sets, args := updateAssignments(patch)
	if len(sets) == 0 {
		return nil, &domain.RemoteError{Kind: domain.RemoteRejected, Op: "update", Err: fmt.Errorf("%w: empty patch", domain.ErrValidation)}
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE transactions SET %s WHERE id = $%d RETURNING id, status, updated_at",
		strings.Join(sets, ", "), len(args))

	var (
		out    domain.Transaction
		status string
	)
	err := b.db.QueryRow(ctx, query, args...).Scan(&out.ID, &status, &out.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		err = &domain.RemoteError{Kind: domain.RemoteRejected, Op: "update", Err: fmt.Errorf("%w: %s", domain.ErrNotFound, id)}
	case err != nil:
		err = classifyPgError("update", err)
	}
	recordRequest("update", err)
	if err != nil {
		return nil, err
	}
	out.Status = domain.TransactionStatus(status)
	return &out, nil
}

func updateAssignments(p domain.Patch) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(column string, v any) string {
		args = append(args, v)
		placeholder := fmt.Sprintf("$%d", len(args))
		sets = append(sets, column+" = "+placeholder)
		return placeholder
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	// SET expressions see the pre-update row, so the total reads the new values from the parameters.
	amountExpr, feeExpr := "amount", "fee"
	if p.Amount != nil {
		amountExpr = add("amount", p.Amount.String()) + "::numeric"
	}
	if p.Fee != nil {
		feeExpr = add("fee", p.Fee.String()) + "::numeric"
	}
	if p.Amount != nil || p.Fee != nil {
		sets = append(sets, fmt.Sprintf("total_amount = %s + %s", amountExpr, feeExpr))
	}
	if p.Provider != nil {
		add("provider", *p.Provider)
	}
	if p.PaymentMethod != nil {
		add("payment_method", *p.PaymentMethod)
	}
	if p.FailureReason != nil {
		add("failure_reason", *p.FailureReason)
	}
	if p.Receipt != nil {
		add("receipt", *p.Receipt)
	}
	if p.CompletedAt != nil {
		add("completed_at", *p.CompletedAt)
	}
	if p.UpdatedAt != nil {
		add("updated_at", *p.UpdatedAt)
	} else if len(sets) > 0 {
		add("updated_at", time.Now().UTC())
	}
	return sets, args
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	if err := b.db.Ping(ctx); err != nil {
		return classifyPgError("ping", err)
	}
	return nil
}

// classifyPgError maps SQLSTATE classes onto the remote error taxonomy.
func classifyPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return domain.ClassifyRemoteError(op, err)
	}
	kind := domain.RemoteServer
	switch {
	case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "57P01", pgErr.Code == "57P03":
		kind = domain.RemoteConnection
	case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "57014":
		kind = domain.RemoteTimeout
	case strings.HasPrefix(pgErr.Code, "22"), strings.HasPrefix(pgErr.Code, "23"), pgErr.Code == "42501":
		kind = domain.RemoteRejected
	}
	return &domain.RemoteError{Kind: kind, Op: op, Err: err}
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
