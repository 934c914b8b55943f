package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fleetlink-io/fleetlink/internal/identity"
	"github.com/fleetlink-io/fleetlink/internal/store"
)

// SessionHandler serves the admin endpoints for delegated music sessions.
type SessionHandler struct {
	sessions store.SessionStore
	logger   *zap.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(sessions store.SessionStore, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   logger.Named("sessions"),
	}
}

// Create handles GET /admin/music-session/{hostname}. Creation is idempotent
// per hostname: a live session comes back with its existing id and a
// refreshed expiry. The optional expires_at query parameter (RFC 3339)
// overrides the default TTL.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	hostname, err := identity.ParseHostname(chi.URLParam(r, "hostname"))
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	var expiresAt *time.Time
	if raw := r.URL.Query().Get("expires_at"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			Error(w, http.StatusBadRequest, "invalid expires_at: "+err.Error())
			return
		}
		expiresAt = &t
	}

	id, err := h.sessions.Create(r.Context(), hostname, expiresAt)
	if err != nil {
		h.logger.Error("failed to create music session",
			zap.String("hostname", hostname.String()),
			zap.Error(err),
		)
		WriteError(w, err)
		return
	}

	h.logger.Info("music session issued",
		zap.String("hostname", hostname.String()),
		zap.String("admin", callerFromCtx(r.Context()).String()),
	)
	JSON(w, http.StatusOK, id)
}

// Delete handles DELETE /admin/music-session/{id}. Deleting an id that does
// not exist is a 200: the desired state holds either way.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := identity.ParseSessionID(chi.URLParam(r, "id"))
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.sessions.Delete(r.Context(), id); err != nil {
		h.logger.Error("failed to delete music session",
			zap.String("session_id", id.String()),
			zap.Error(err),
		)
		WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}
