package handler

// RESPONSE SHAPES:
// Successful calls return the payload as JSON. Failures come in two shapes:
//
//   - Malformed requests: {"error": "validation_error", "message": "..."} with 400
//   - Sign-in faults:     {"status": "error", "message": "Cant get token"} with 502
//
// Sign-in faults carry a fixed message only. The underlying error is logged
// server-side and never sent to the caller.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/itmo-auth/internal/apperror"
)

// Fault messages returned to callers.
const (
	FaultTokenExchange = "Cant get token"
	FaultInvalidUser   = "Invalid user"
)

// ErrorResponse is the shape of request validation errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// FaultResponse is the generic remote-call fault.
type FaultResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// writeJSON sends data as JSON with the given status. Headers must be set
// before WriteHeader, so Content-Type goes first.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already out; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps an apperror kind to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		errorType := "internal_error"

		switch {
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusBadRequest
			errorType = "validation_error"
		case errors.Is(err, apperror.ErrNotFound):
			status = http.StatusNotFound
			errorType = "not_found"
		case errors.Is(err, apperror.ErrConflict):
			status = http.StatusConflict
			errorType = "conflict"
		}

		writeJSON(w, status, ErrorResponse{
			Error:   errorType,
			Message: appErr.Message,
		})
		return
	}

	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// writeFault sends the generic sign-in fault.
func writeFault(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadGateway, FaultResponse{
		Status:  "error",
		Message: message,
	})
}
