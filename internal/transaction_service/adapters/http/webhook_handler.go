package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/remitflow/golang_services/internal/transaction_service/app"
	"github.com/remitflow/golang_services/internal/transaction_service/domain"
)

const MaxRequestBodySize = 1 << 20 // 1 MB

// StatusUpdateReconciler is implemented by app.WebhookReconciler.
type StatusUpdateReconciler interface {
	HandleStatusUpdate(ctx context.Context, upd app.StatusUpdate) (*domain.Transaction, error)
}

type WebhookHandler struct {
	reconciler StatusUpdateReconciler
	validate   *validator.Validate
	logger     *slog.Logger
}

func NewWebhookHandler(reconciler StatusUpdateReconciler, validate *validator.Validate, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		validate:   validate,
		logger:     logger.With("component", "webhook_handler"),
	}
}

// HandlePaymentStatus receives status callbacks from the payment partner.
func (h *WebhookHandler) HandlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "Method not allowed for webhook", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	var dto PaymentStatusWebhookDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.WarnContext(ctx, "Webhook body too large", "limit", tooLarge.Limit)
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		logger.WarnContext(ctx, "Failed to decode webhook body", "error", err)
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	if err := h.validate.StructCtx(ctx, dto); err != nil {
		logger.WarnContext(ctx, "Webhook validation failed", "error", err, "transaction_id", dto.TransactionID)
		writeError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return
	}

	upd, err := toStatusUpdate(dto)
	if err != nil {
		logger.WarnContext(ctx, "Invalid webhook field", "error", err, "transaction_id", dto.TransactionID)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logger = logger.With("transaction_id", upd.TransactionID, "status", upd.Status)

	tx, err := h.reconciler.HandleStatusUpdate(ctx, upd)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			logger.WarnContext(ctx, "Webhook rejected", "error", err)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.ErrorContext(ctx, "Error reconciling webhook", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error reconciling status update")
		return
	}

	if err := writeJSON(w, http.StatusOK, WebhookAckDTO{TransactionID: tx.ID, Status: tx.Status, UpdatedAt: tx.UpdatedAt}); err != nil {
		logger.WarnContext(ctx, "Failed to write webhook response", "error", err)
	}
	logger.InfoContext(ctx, "Payment status webhook processed")
}

func toStatusUpdate(dto PaymentStatusWebhookDTO) (app.StatusUpdate, error) {
	ts, err := time.Parse(time.RFC3339Nano, dto.Timestamp)
	if err != nil {
		return app.StatusUpdate{}, fmt.Errorf("timestamp must be ISO8601: %w", err)
	}
	upd := app.StatusUpdate{
		TransactionID: dto.TransactionID,
		Status:        domain.TransactionStatus(dto.Status),
		Provider:      dto.Provider,
		PaymentMethod: dto.PaymentMethod,
		FailureReason: dto.FailureReason,
		Receipt:       dto.Receipt,
		Timestamp:     ts.UTC(),
	}
	if upd.Amount, err = parseOptionalDecimal("amount", dto.Amount); err != nil {
		return app.StatusUpdate{}, err
	}
	if upd.Fee, err = parseOptionalDecimal("fee", dto.Fee); err != nil {
		return app.StatusUpdate{}, err
	}
	return upd, nil
}

func parseOptionalDecimal(field string, v *string) (*decimal.Decimal, error) {
	if v == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*v)
	if err != nil {
		return nil, fmt.Errorf("%s must be a decimal string", field)
	}
	return &d, nil
}
