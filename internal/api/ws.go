package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/fleetlink-io/fleetlink/internal/events"
	"github.com/fleetlink-io/fleetlink/internal/identity"
	"github.com/fleetlink-io/fleetlink/internal/store"
)

// WSHandler serves the GET /events WebSocket upgrade. Authentication uses an
// admin bearer token passed as the `token` query parameter, because the
// browser WebSocket API cannot set custom headers.
//
// Topic subscription is declared at connection time via the `topics` query
// parameter; the fleet-wide "agents" topic is always added.
//
// Example connection URL:
//
//	ws://host/events?token=<uuid>&topics=agent:kiwi,agent:pear
type WSHandler struct {
	hub    *events.Hub
	tokens store.TokenStore
	logger *zap.Logger
}

// NewWSHandler creates a WSHandler.
func NewWSHandler(hub *events.Hub, tokens store.TokenStore, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		hub:    hub,
		tokens: tokens,
		logger: logger.Named("events"),
	}
}

// ServeWS handles GET /events. It blocks until the connection closes, which
// is the expected shape for WebSocket handlers.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		Error(w, http.StatusUnauthorized, "missing token")
		return
	}
	caller, err := h.tokens.Verify(r.Context(), raw, identity.RoleAdmin)
	if err != nil {
		WriteError(w, err)
		return
	}

	topics := resolveTopics(r)

	client, err := events.NewClient(h.hub, w, r, topics, h.logger)
	if err != nil {
		// The upgrader already wrote the response on failure.
		h.logger.Warn("upgrade failed",
			zap.String("caller", caller.String()),
			zap.Error(err),
		)
		return
	}

	h.logger.Info("subscriber connected",
		zap.String("caller", caller.String()),
		zap.Strings("topics", topics),
	)

	client.Run()

	h.logger.Info("subscriber disconnected", zap.String("caller", caller.String()))
}

// resolveTopics merges the fleet-wide topic with the comma-separated
// `topics` query parameter, deduplicated. Unknown topic strings are harmless:
// nothing ever publishes on them.
func resolveTopics(r *http.Request) []string {
	seen := map[string]struct{}{events.TopicAgents: {}}
	topics := []string{events.TopicAgents}

	for _, t := range strings.Split(r.URL.Query().Get("topics"), ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			topics = append(topics, t)
		}
	}
	return topics
}
