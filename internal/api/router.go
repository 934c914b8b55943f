package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fleetlink-io/fleetlink/internal/bridge"
	"github.com/fleetlink-io/fleetlink/internal/events"
	"github.com/fleetlink-io/fleetlink/internal/identity"
	"github.com/fleetlink-io/fleetlink/internal/metrics"
	"github.com/fleetlink-io/fleetlink/internal/registry"
	"github.com/fleetlink-io/fleetlink/internal/store"
)

// RouterConfig holds everything the router needs. It is populated in main
// after all components are initialized and passed to NewRouter as a single
// struct to keep the constructor signature manageable.
type RouterConfig struct {
	Registry   *registry.Registry
	Dispatcher bridge.Dispatcher
	Tokens     store.TokenStore
	Sessions   store.SessionStore
	Statuses   store.StatusStore
	Hub        *events.Hub
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	Ping       Pinger
	Logger     *zap.Logger
}

// NewRouter builds the fully configured Chi router. Hub, Metrics, Gatherer
// and Ping may be nil; the corresponding routes degrade or disappear.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger.Named("http")))
	r.Use(middleware.Recoverer)

	connections := NewConnectionHandler(cfg.Registry, cfg.Dispatcher, cfg.Metrics, cfg.Logger)
	sessions := NewSessionHandler(cfg.Sessions, cfg.Logger)
	statuses := NewStatusHandler(cfg.Statuses, statusNotifier(cfg.Hub), cfg.Logger)
	music := NewMusicHandler(cfg.Sessions, cfg.Dispatcher, cfg.Metrics, cfg.Logger)
	health := NewHealthHandler(cfg.Ping, cfg.Logger)

	// Admin routes: bearer token with the admin role.
	r.Group(func(r chi.Router) {
		r.Use(RequireRole(cfg.Tokens, identity.RoleAdmin))

		r.Get("/persistent-connections", connections.List)
		r.Post("/persistent-connections/send/{hostname}", connections.Send)

		r.Get("/admin/health_check", health.Check)
		r.Get("/admin/music-session/{hostname}", sessions.Create)
		r.Delete("/admin/music-session/{id}", sessions.Delete)

		r.Get("/machine/status", statuses.GetAll)
		r.Post("/machine/status", statuses.Put)
	})

	// The music route authenticates by session possession alone.
	r.Post("/music/{session_id}", music.Forward)

	// The events socket carries its admin token as a query parameter.
	if cfg.Hub != nil {
		ws := NewWSHandler(cfg.Hub, cfg.Tokens, cfg.Logger)
		r.Get("/events", ws.ServeWS)
	}

	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// statusNotifier avoids handing a typed-nil *events.Hub to the handler's
// interface field.
func statusNotifier(hub *events.Hub) StatusNotifier {
	if hub == nil {
		return nil
	}
	return hub
}
