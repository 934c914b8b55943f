// Package metrics defines the server's Prometheus collectors. Instances are
// created in main and injected; nothing here is a package-level singleton.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the control-plane collectors.
type Metrics struct {
	// ConnectedAgents tracks the size of the connection registry.
	ConnectedAgents prometheus.Gauge

	// RelayedCommands counts commands relayed onto persistent links,
	// labelled by command kind and outcome ("ok", "dropped", "not_found").
	RelayedCommands *prometheus.CounterVec

	// SweepEvictions counts connections evicted by the heartbeat sweeper.
	SweepEvictions prometheus.Counter
}

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectedAgents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleetlink",
			Name:      "connected_agents",
			Help:      "Number of agents currently registered on the persistent-connection port.",
		}),
		RelayedCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetlink",
			Name:      "relayed_commands_total",
			Help:      "Commands relayed to agents over persistent connections.",
		}, []string{"command", "outcome"}),
		SweepEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fleetlink",
			Name:      "sweep_evictions_total",
			Help:      "Connections unregistered because a heartbeat probe failed.",
		}),
	}
	reg.MustRegister(m.ConnectedAgents, m.RelayedCommands, m.SweepEvictions)
	return m
}
