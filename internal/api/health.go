package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// Pinger is the health probe the handler runs against the database.
type Pinger func(ctx context.Context) error

// HealthHandler serves GET /admin/health_check.
type HealthHandler struct {
	ping   Pinger
	logger *zap.Logger
}

// NewHealthHandler creates a HealthHandler. ping may be nil, in which case
// the endpoint only proves the HTTP server and auth path are alive.
func NewHealthHandler(ping Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		ping:   ping,
		logger: logger.Named("health"),
	}
}

// Check handles GET /admin/health_check.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			h.logger.Error("health check failed", zap.Error(err))
			Error(w, http.StatusInternalServerError, "database unreachable")
			return
		}
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
