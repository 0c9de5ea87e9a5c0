package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/remitflow/golang_services/internal/transaction_service/app"
	"github.com/remitflow/golang_services/internal/transaction_service/domain"
)

// TransactionService is implemented by app.TransactionManager.
type TransactionService interface {
	CreateTransaction(ctx context.Context, req app.CreateTransactionRequest) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, userID string) ([]*domain.Transaction, error)
	UpdateDetails(ctx context.Context, id string, req app.UpdateDetailsRequest) (*domain.Transaction, error)
	RetrySync(ctx context.Context, id string) (*domain.Transaction, error)
}

type TransactionHandler struct {
	service  TransactionService
	validate *validator.Validate
	logger   *slog.Logger
}

func NewTransactionHandler(service TransactionService, validate *validator.Validate, logger *slog.Logger) *TransactionHandler {
	return &TransactionHandler{
		service:  service,
		validate: validate,
		logger:   logger.With("component", "transaction_handler"),
	}
}

func (h *TransactionHandler) requestLogger(r *http.Request) (*slog.Logger, *AuthenticatedUser, bool) {
	logger := h.logger.With("request_id", chi_middleware.GetReqID(r.Context()))
	user, ok := userFromContext(r.Context())
	if !ok {
		return logger, nil, false
	}
	return logger.With("auth_user_id", user.ID), user, true
}

func (h *TransactionHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger, user, ok := h.requestLogger(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	var dto CreateTransactionRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		logger.WarnContext(ctx, "Failed to decode create transaction body", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.StructCtx(ctx, dto); err != nil {
		logger.WarnContext(ctx, "Create transaction validation failed", "error", err)
		writeError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return
	}

	req, err := toCreateRequest(dto, user.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tx, err := h.service.CreateTransaction(ctx, req)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to create transaction", "error", err)
		writeError(w, statusForError(err), err.Error())
		return
	}
	logger.InfoContext(ctx, "Transaction created", "transaction_id", tx.ID, "status", tx.Status)
	if err := writeJSON(w, http.StatusCreated, tx); err != nil {
		logger.WarnContext(ctx, "Failed to write create response", "error", err)
	}
}

func toCreateRequest(dto CreateTransactionRequestDTO, userID string) (app.CreateTransactionRequest, error) {
	amount, err := decimal.NewFromString(dto.Amount)
	if err != nil {
		return app.CreateTransactionRequest{}, errors.New("amount must be a decimal string")
	}
	req := app.CreateTransactionRequest{
		UserID:             userID,
		Amount:             amount,
		SourceCurrency:     dto.SourceCurrency,
		TargetCurrency:     dto.TargetCurrency,
		Recipient:          domain.Recipient{ID: dto.Recipient.ID, Name: dto.Recipient.Name, Contact: dto.Recipient.Contact},
		Country:            dto.Country,
		PaymentMethod:      dto.PaymentMethod,
		Provider:           dto.Provider,
		IsRecurring:        dto.IsRecurring,
		RecurringPaymentID: dto.RecurringPaymentID,
	}
	if dto.ExchangeRate != nil {
		value, err := decimal.NewFromString(dto.ExchangeRate.Value)
		if err != nil {
			return app.CreateTransactionRequest{}, errors.New("exchange_rate.value must be a decimal string")
		}
		rate := domain.Rate{Value: value, AsOf: time.Now().UTC()}
		if dto.ExchangeRate.AsOf != nil {
			rate.AsOf = dto.ExchangeRate.AsOf.UTC()
		}
		req.ExchangeRate = &rate
	}
	return req, nil
}

func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger, user, ok := h.requestLogger(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	txs, err := h.service.ListTransactions(ctx, user.ID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to list transactions", "error", err)
		writeError(w, statusForError(err), "failed to list transactions")
		return
	}
	if txs == nil {
		txs = []*domain.Transaction{}
	}
	if err := writeJSON(w, http.StatusOK, TransactionListDTO{Transactions: txs, Count: len(txs)}); err != nil {
		logger.WarnContext(ctx, "Failed to write list response", "error", err)
	}
}

func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger, user, ok := h.requestLogger(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	id := chi.URLParam(r, "transactionID")
	tx, err := h.service.GetTransaction(ctx, id)
	if err == nil && !ownedBy(tx, user) {
		err = domain.ErrNotFound
	}
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.ErrorContext(ctx, "Failed to get transaction", "transaction_id", id, "error", err)
		}
		writeError(w, statusForError(err), "transaction not found")
		return
	}
	if err := writeJSON(w, http.StatusOK, tx); err != nil {
		logger.WarnContext(ctx, "Failed to write transaction response", "error", err)
	}
}

func (h *TransactionHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger, user, ok := h.requestLogger(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	id := chi.URLParam(r, "transactionID")
	if !h.authorize(w, r, id, user) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	var dto UpdateTransactionRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.StructCtx(ctx, dto); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return
	}

	tx, err := h.service.UpdateDetails(ctx, id, app.UpdateDetailsRequest{
		Provider:      dto.Provider,
		PaymentMethod: dto.PaymentMethod,
		Receipt:       dto.Receipt,
	})
	if err != nil {
		logger.WarnContext(ctx, "Failed to update transaction", "transaction_id", id, "error", err)
		writeError(w, statusForError(err), err.Error())
		return
	}
	if err := writeJSON(w, http.StatusOK, tx); err != nil {
		logger.WarnContext(ctx, "Failed to write update response", "error", err)
	}
}

// RetrySync is the explicit user retry. Remote errors are surfaced.
func (h *TransactionHandler) RetrySync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger, user, ok := h.requestLogger(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	id := chi.URLParam(r, "transactionID")
	if !h.authorize(w, r, id, user) {
		return
	}

	tx, err := h.service.RetrySync(ctx, id)
	if err != nil {
		logger.WarnContext(ctx, "Manual sync failed", "transaction_id", id, "error", err)
		writeError(w, statusForError(err), err.Error())
		return
	}
	if err := writeJSON(w, http.StatusOK, tx); err != nil {
		logger.WarnContext(ctx, "Failed to write retry response", "error", err)
	}
}

// authorize writes 404 unless id exists and belongs to user.
func (h *TransactionHandler) authorize(w http.ResponseWriter, r *http.Request, id string, user *AuthenticatedUser) bool {
	tx, err := h.service.GetTransaction(r.Context(), id)
	if err == nil && ownedBy(tx, user) {
		return true
	}
	if err == nil {
		err = domain.ErrNotFound
	}
	writeError(w, statusForError(err), "transaction not found")
	return false
}

// ownedBy treats records without a user (e.g. created by a webhook) as visible to everyone.
func ownedBy(tx *domain.Transaction, user *AuthenticatedUser) bool {
	return tx.UserID == "" || tx.UserID == user.ID
}
