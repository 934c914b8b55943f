package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fleetlink-io/fleetlink/internal/bridge"
	"github.com/fleetlink-io/fleetlink/internal/identity"
	"github.com/fleetlink-io/fleetlink/internal/protocol"
	"github.com/fleetlink-io/fleetlink/internal/store"
)

// statusCacheTTL bounds how stale a GET /machine/status read may be. Agents
// publish once a minute, so a one-second window removes nearly all database
// reads without observable staleness.
const statusCacheTTL = time.Second

const statusCacheKey = "all"

// StatusNotifier receives fresh status snapshots. Implemented by the events
// hub; may be nil.
type StatusNotifier interface {
	StatusReported(status protocol.MachineStatus)
}

// StatusHandler serves the machine-status endpoints.
type StatusHandler struct {
	statuses store.StatusStore
	cache    *bridge.Cache[string, map[identity.Hostname]protocol.MachineStatus]
	notifier StatusNotifier
	logger   *zap.Logger
}

// NewStatusHandler creates a StatusHandler. notifier may be nil.
func NewStatusHandler(statuses store.StatusStore, notifier StatusNotifier, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		statuses: statuses,
		cache:    bridge.NewCache[string, map[identity.Hostname]protocol.MachineStatus](),
		notifier: notifier,
		logger:   logger.Named("status"),
	}
}

// GetAll handles GET /machine/status. Returns the latest snapshot per host,
// served from a short-lived cache.
func (h *StatusHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.cache.GetOrInit(statusCacheKey, statusCacheTTL, func() (map[identity.Hostname]protocol.MachineStatus, error) {
		return h.statuses.GetAll(r.Context())
	})
	if err != nil {
		h.logger.Error("failed to load machine statuses", zap.Error(err))
		WriteError(w, err)
		return
	}

	JSON(w, http.StatusOK, statuses)
}

// Put handles POST /machine/status. Upserts the row keyed by the reported
// hostname; the server stamps last_heartbeat itself.
func (h *StatusHandler) Put(w http.ResponseWriter, r *http.Request) {
	var status protocol.MachineStatus
	if !decodeJSON(w, r, &status) {
		return
	}
	if status.Hostname == "" {
		Error(w, http.StatusBadRequest, "missing hostname")
		return
	}

	if err := h.statuses.Put(r.Context(), status); err != nil {
		h.logger.Error("failed to store machine status",
			zap.String("hostname", status.Hostname.String()),
			zap.Error(err),
		)
		WriteError(w, err)
		return
	}

	h.cache.Invalidate(statusCacheKey)
	if h.notifier != nil {
		h.notifier.StatusReported(status)
	}

	w.WriteHeader(http.StatusOK)
}
