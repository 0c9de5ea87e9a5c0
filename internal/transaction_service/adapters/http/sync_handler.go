package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/remitflow/golang_services/internal/transaction_service/domain"
	"github.com/remitflow/golang_services/internal/transaction_service/network"
	"github.com/remitflow/golang_services/internal/transaction_service/queue"
)

// SyncQueue is implemented by queue.Queue.
type SyncQueue interface {
	Status() queue.Status
	Pending() []domain.Operation
	Drain(ctx context.Context) (queue.DrainResult, error)
}

// NetworkController is implemented by network.Monitor.
type NetworkController interface {
	Status() network.Status
	SetOnline(ctx context.Context, online bool)
}

type SyncHandler struct {
	queue    SyncQueue
	network  NetworkController
	validate *validator.Validate
	logger   *slog.Logger
}

func NewSyncHandler(q SyncQueue, network NetworkController, validate *validator.Validate, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		queue:    q,
		network:  network,
		validate: validate,
		logger:   logger.With("component", "sync_handler"),
	}
}

func (h *SyncHandler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	pending := h.queue.Pending()
	out := SyncStatusDTO{
		Queue:   h.queue.Status(),
		Network: h.network.Status(),
		Pending: make([]PendingOpDTO, 0, len(pending)),
	}
	for _, op := range pending {
		out.Pending = append(out.Pending, PendingOpDTO{
			ID:            op.ID,
			Kind:          op.Kind,
			TransactionID: op.TransactionID,
			Attempts:      op.Attempts,
			EnqueuedAt:    op.EnqueuedAt,
			LastError:     op.LastError,
		})
	}
	if err := writeJSON(w, http.StatusOK, out); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to write sync status", "error", err)
	}
}

// DrainNow runs one drain cycle synchronously. Refused while offline.
func (h *SyncHandler) DrainNow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	if !h.network.Status().Online {
		writeError(w, http.StatusServiceUnavailable, "offline: operations stay queued")
		return
	}
	res, err := h.queue.Drain(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrDrainInProgress) {
			writeError(w, http.StatusConflict, "a drain is already running")
			return
		}
		logger.WarnContext(ctx, "Manual drain interrupted", "error", err, "requeued", res.Requeued)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	out := DrainResultDTO{Attempted: res.Attempted, Succeeded: res.Succeeded, Failed: res.Failed, Requeued: res.Requeued}
	for _, opErr := range res.Errors {
		out.Errors = append(out.Errors, opErr.Operation.TransactionID+": "+opErr.Err.Error())
	}
	logger.InfoContext(ctx, "Manual drain finished", "attempted", res.Attempted, "failed", res.Failed)
	if err := writeJSON(w, http.StatusOK, out); err != nil {
		logger.WarnContext(ctx, "Failed to write drain result", "error", err)
	}
}

func (h *SyncHandler) GetNetworkStatus(w http.ResponseWriter, r *http.Request) {
	if err := writeJSON(w, http.StatusOK, h.network.Status()); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to write network status", "error", err)
	}
}

// SetNetworkStatus is a manual connectivity override, e.g. for airplane mode.
func (h *SyncHandler) SetNetworkStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	var dto SetNetworkRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.StructCtx(ctx, dto); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return
	}

	h.logger.InfoContext(ctx, "Manual network override", "online", *dto.Online, "request_id", chi_middleware.GetReqID(ctx))
	h.network.SetOnline(ctx, *dto.Online)
	if err := writeJSON(w, http.StatusOK, h.network.Status()); err != nil {
		h.logger.WarnContext(ctx, "Failed to write network status", "error", err)
	}
}
