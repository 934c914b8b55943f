package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fleetlink-io/fleetlink/internal/bridge"
	"github.com/fleetlink-io/fleetlink/internal/identity"
	"github.com/fleetlink-io/fleetlink/internal/metrics"
	"github.com/fleetlink-io/fleetlink/internal/protocol"
	"github.com/fleetlink-io/fleetlink/internal/registry"
)

// relayWait bounds a relayed command end to end: queue wait plus the write
// and read legs on the wire.
const relayWait = 45 * time.Second

// ConnectionHandler serves the persistent-connection admin endpoints.
type ConnectionHandler struct {
	registry   *registry.Registry
	dispatcher bridge.Dispatcher
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewConnectionHandler creates a ConnectionHandler. metrics may be nil.
func NewConnectionHandler(reg *registry.Registry, dispatcher bridge.Dispatcher, m *metrics.Metrics, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		registry:   reg,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger.Named("connections"),
	}
}

// List handles GET /persistent-connections. Returns the sorted hostnames of
// all currently registered agents.
func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	entries := h.registry.List()

	hostnames := make([]identity.Hostname, 0, len(entries))
	for _, e := range entries {
		hostnames = append(hostnames, e.Hostname)
	}
	sort.Slice(hostnames, func(i, j int) bool { return hostnames[i] < hostnames[j] })

	JSON(w, http.StatusOK, hostnames)
}

// Send handles POST /persistent-connections/send/{hostname}. The body is a
// Command; the agent's Response comes back verbatim. Identical concurrent
// commands to the same host share one wire round trip.
func (h *ConnectionHandler) Send(w http.ResponseWriter, r *http.Request) {
	hostname, err := identity.ParseHostname(chi.URLParam(r, "hostname"))
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	var cmd protocol.Command
	if !decodeJSON(w, r, &cmd) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), relayWait)
	defer cancel()

	resp, err := h.dispatcher.Request(ctx, hostname, cmd)
	h.count(cmd, err)
	if err != nil {
		h.logger.Warn("relay failed",
			zap.String("hostname", hostname.String()),
			zap.String("command", string(cmd.Kind)),
			zap.Error(err),
		)
		WriteError(w, err)
		return
	}

	JSON(w, http.StatusOK, resp)
}

func (h *ConnectionHandler) count(cmd protocol.Command, err error) {
	if h.metrics == nil {
		return
	}
	outcome := "ok"
	var dropped *registry.DroppedError
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrNotFound):
		outcome = "not_found"
	case errors.As(err, &dropped):
		outcome = "dropped"
	default:
		outcome = "error"
	}
	h.metrics.RelayedCommands.WithLabelValues(string(cmd.Kind), outcome).Inc()
}
