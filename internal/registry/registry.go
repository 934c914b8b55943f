// Package registry maintains the in-memory map of currently connected
// agents. When an agent completes the persistent-connection handshake, the
// link server registers it here; HTTP handlers dispatch commands to agents
// by hostname through Request.
//
// All state is in-memory and intentionally non-persistent: if the server
// restarts, agents reconnect and re-register via their reconnection loop.
//
// Every slot carries a generation drawn from a single monotonic counter.
// A session that got superseded by a newer connection for the same hostname
// holds a stale generation, so its cleanup Unregister is a no-op instead of
// evicting its replacement.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fleetlink-io/fleetlink/internal/identity"
	"github.com/fleetlink-io/fleetlink/internal/protocol"
)

// requestBuffer is the capacity of each slot's command channel. When it is
// full, further Request calls block at the send until the relay drains a
// command or the slot dies.
const requestBuffer = 100

// ErrNotFound is returned by Request when no agent with the given hostname
// is connected.
var ErrNotFound = errors.New("registry: no such connection")

// DroppedError is returned when the connection existed but failed
// mid-request: the slot died while sending, the relay tore down, or the
// per-command timeout expired.
type DroppedError struct {
	Reason string
}

func (e *DroppedError) Error() string {
	if e.Reason == "" {
		return "registry: connection dropped"
	}
	return fmt.Sprintf("registry: connection dropped: %s", e.Reason)
}

// Dropped builds a DroppedError with the given reason.
func Dropped(reason string) error { return &DroppedError{Reason: reason} }

// Request pairs a command with the one-shot channel its reply travels on.
// Reply has capacity 1 and receives exactly one Result per Request; a caller
// that gave up leaves the value for the garbage collector.
type Request struct {
	Cmd   protocol.Command
	Reply chan Result
}

// Result is what comes back on the reply channel: either the agent's
// response or a relay-level error.
type Result struct {
	Response protocol.Response
	Err      error
}

// Entry is one row of a List snapshot.
type Entry struct {
	Hostname   identity.Hostname
	Generation uint64
}

// Notifier receives connection lifecycle events. Implemented by the events
// hub; a nil notifier is fine.
type Notifier interface {
	AgentConnected(hostname identity.Hostname)
	AgentDisconnected(hostname identity.Hostname)
}

// slot is one registered connection: its generation tag, the channel the
// relay loop consumes, and a done signal closed exactly once when the slot
// is displaced or unregistered.
type slot struct {
	generation uint64
	requests   chan Request
	done       chan struct{}
}

// Registry is safe for concurrent use by the link server's accept loop, the
// heartbeat sweeper, and HTTP handlers. The mutex only guards the map;
// channel operations happen outside it.
type Registry struct {
	mu      sync.Mutex
	conns   map[identity.Hostname]*slot
	nextGen uint64

	logger    *zap.Logger
	notifier  Notifier
	connected prometheus.Gauge
}

// Option configures a Registry.
type Option func(*Registry)

// WithNotifier wires connection lifecycle events to n.
func WithNotifier(n Notifier) Option {
	return func(r *Registry) { r.notifier = n }
}

// WithConnectedGauge keeps g equal to the number of registered connections.
func WithConnectedGauge(g prometheus.Gauge) Option {
	return func(r *Registry) { r.connected = g }
}

// New creates an empty Registry.
func New(logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		conns:  make(map[identity.Hostname]*slot),
		logger: logger.Named("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs a fresh slot for hostname and returns its generation,
// the receive end of its request channel, and the done signal the relay loop
// must watch. Any previous slot for the same hostname is displaced: its done
// channel closes, which makes its relay loop exit and its pending Request
// callers fail with Dropped.
func (r *Registry) Register(hostname identity.Hostname) (uint64, <-chan Request, <-chan struct{}) {
	r.mu.Lock()
	r.nextGen++
	s := &slot{
		generation: r.nextGen,
		requests:   make(chan Request, requestBuffer),
		done:       make(chan struct{}),
	}
	prev := r.conns[hostname]
	r.conns[hostname] = s
	total := len(r.conns)
	r.mu.Unlock()

	if prev != nil {
		close(prev.done)
		r.logger.Warn("displacing existing agent connection",
			zap.String("hostname", hostname.String()),
			zap.Uint64("old_generation", prev.generation),
			zap.Uint64("new_generation", s.generation),
		)
	}

	r.logger.Info("agent connected",
		zap.String("hostname", hostname.String()),
		zap.Uint64("generation", s.generation),
		zap.Int("total_connected", total),
	)

	if r.connected != nil {
		r.connected.Set(float64(total))
	}
	if r.notifier != nil {
		r.notifier.AgentConnected(hostname)
	}
	return s.generation, s.requests, s.done
}

// Unregister removes the slot for hostname only if its generation matches
// gen. A stale cleanup (superseded session, late sweeper) finds a different
// generation and leaves the newer slot alone.
func (r *Registry) Unregister(hostname identity.Hostname, gen uint64) {
	r.mu.Lock()
	s, ok := r.conns[hostname]
	if !ok || s.generation != gen {
		r.mu.Unlock()
		return
	}
	delete(r.conns, hostname)
	total := len(r.conns)
	r.mu.Unlock()

	close(s.done)

	r.logger.Info("agent disconnected",
		zap.String("hostname", hostname.String()),
		zap.Uint64("generation", gen),
		zap.Int("total_connected", total),
	)

	if r.connected != nil {
		r.connected.Set(float64(total))
	}
	if r.notifier != nil {
		r.notifier.AgentDisconnected(hostname)
	}
}

// List returns a snapshot of the registered connections.
func (r *Registry) List() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.conns))
	for hostname, s := range r.conns {
		out = append(out, Entry{Hostname: hostname, Generation: s.generation})
	}
	return out
}

// Request dispatches cmd to the agent registered under hostname and waits
// for the reply. The slot reference is copied out under the lock; both the
// send and the wait happen outside it.
//
// Request is cancel-safe: a caller that stops waiting leaves a stale reply
// pending on a buffered channel, which is silently discarded.
func (r *Registry) Request(ctx context.Context, hostname identity.Hostname, cmd protocol.Command) (protocol.Response, error) {
	r.mu.Lock()
	s, ok := r.conns[hostname]
	r.mu.Unlock()
	if !ok {
		return protocol.Response{}, ErrNotFound
	}

	req := Request{Cmd: cmd, Reply: make(chan Result, 1)}

	select {
	case s.requests <- req:
	case <-s.done:
		return protocol.Response{}, Dropped("connection closed")
	case <-ctx.Done():
		return protocol.Response{}, Dropped(ctxReason(ctx))
	}

	select {
	case res := <-req.Reply:
		return res.Response, res.Err
	case <-s.done:
		// The relay replies to its in-flight request before tearing down;
		// prefer that reply if it already arrived.
		select {
		case res := <-req.Reply:
			return res.Response, res.Err
		default:
			return protocol.Response{}, Dropped("connection closed")
		}
	case <-ctx.Done():
		return protocol.Response{}, Dropped(ctxReason(ctx))
	}
}

// ctxReason normalizes a context failure into a Dropped reason. "timeout" is
// load-bearing: the HTTP layer maps it to 408 instead of 500.
func ctxReason(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "timeout"
	}
	return ctx.Err().Error()
}
