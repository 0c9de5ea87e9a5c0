package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/remitflow/golang_services/internal/transaction_service/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	_ = writeJSON(w, status, ErrorResponseDTO{Error: msg})
}

// statusForError maps service errors onto client API status codes.
func statusForError(err error) int {
	var remoteErr *domain.RemoteError
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.As(err, &remoteErr):
		if remoteErr.IsTransient() {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDrainInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
