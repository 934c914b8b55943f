package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fleetlink-io/fleetlink/internal/bridge"
	"github.com/fleetlink-io/fleetlink/internal/identity"
	"github.com/fleetlink-io/fleetlink/internal/metrics"
	"github.com/fleetlink-io/fleetlink/internal/protocol"
	"github.com/fleetlink-io/fleetlink/internal/store"
)

// MusicHandler serves POST /music/{session_id}: the delegated route where
// possession of a live session id is the only credential. The handler
// validates the session, wraps the restricted command set in a full Command,
// and forwards it to the session's host; interpretation is entirely on the
// agent.
type MusicHandler struct {
	sessions   store.SessionStore
	dispatcher bridge.Dispatcher
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewMusicHandler creates a MusicHandler. metrics may be nil.
func NewMusicHandler(sessions store.SessionStore, dispatcher bridge.Dispatcher, m *metrics.Metrics, logger *zap.Logger) *MusicHandler {
	return &MusicHandler{
		sessions:   sessions,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger.Named("music"),
	}
}

// Forward handles POST /music/{session_id}.
//
// A malformed session id is 401: the caller presented something that was
// never a credential. A well-formed id with no live row is 404: the session
// existed in shape but not in fact.
func (h *MusicHandler) Forward(w http.ResponseWriter, r *http.Request) {
	id, err := identity.ParseSessionID(chi.URLParam(r, "session_id"))
	if err != nil {
		Error(w, http.StatusUnauthorized, "invalid session id")
		return
	}

	hostname, err := h.sessions.Hostname(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}

	var kind protocol.MusicCmdKind
	if !decodeJSON(w, r, &kind) {
		return
	}

	cmd := protocol.Music(protocol.MusicCmd{Command: kind})

	ctx, cancel := context.WithTimeout(r.Context(), relayWait)
	defer cancel()

	resp, err := h.dispatcher.Request(ctx, hostname, cmd)
	h.count(err)
	if err != nil {
		h.logger.Warn("music forward failed",
			zap.String("hostname", hostname.String()),
			zap.String("session_id", id.String()),
			zap.Error(err),
		)
		WriteError(w, err)
		return
	}

	JSON(w, http.StatusOK, resp)
}

func (h *MusicHandler) count(err error) {
	if h.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	h.metrics.RelayedCommands.WithLabelValues(string(protocol.CmdMusic), outcome).Inc()
}
