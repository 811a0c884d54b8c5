package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger is anything that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether storage is reachable.
type HealthHandler struct {
	store  Pinger
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(store Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{store: store, logger: logger}
}

// HandleHealth answers GET /healthz.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
