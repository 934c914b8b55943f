package events

import (
	"context"
	"sync"

	"github.com/fleetlink-io/fleetlink/internal/identity"
	"github.com/fleetlink-io/fleetlink/internal/protocol"
)

// TopicAgents is the fleet-wide lifecycle topic.
const TopicAgents = "agents"

// TopicAgent is the per-machine topic for hostname.
func TopicAgent(hostname identity.Hostname) string {
	return "agent:" + hostname.String()
}

// Hub is the broker between event producers (the connection registry, the
// status endpoint) and WebSocket subscribers.
//
// Registry mutations are serialised through the Run loop via channels.
// Publish is the exception: it read-locks just long enough to copy the
// target set, then sends outside the lock so a full client buffer cannot
// stall the event loop.
type Hub struct {
	// clients and topics are always updated together.
	clients map[*Client]struct{}
	topics  map[string]map[*Client]struct{}

	// mu protects the two maps for Publish, which reads them from outside
	// the Run goroutine.
	mu sync.RWMutex

	register   chan *Client
	unregister chan *Client

	// stopped closes when Run exits; no messages are delivered after that.
	stopped chan struct{}
}

// NewHub creates an idle Hub. Call Run in a goroutine to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		topics:     make(map[string]map[*Client]struct{}),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		stopped:    make(chan struct{}),
	}
}

// Run starts the hub's event loop. Call exactly once, in its own goroutine;
// it exits when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			for _, topic := range client.topics {
				if h.topics[topic] == nil {
					h.topics[topic] = make(map[*Client]struct{})
				}
				h.topics[topic][client] = struct{}{}
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				for _, topic := range client.topics {
					delete(h.topics[topic], client)
					if len(h.topics[topic]) == 0 {
						delete(h.topics, topic)
					}
				}
				// send is never closed: Publish may be mid-send on it from
				// another goroutine. Shutdown travels on done.
				close(client.done)
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.done)
			}
			h.clients = make(map[*Client]struct{})
			h.topics = make(map[string]map[*Client]struct{})
			h.mu.Unlock()
			return
		}
	}
}

// Publish sends msg to every subscriber of topic. Safe to call from any
// goroutine. Clients whose buffer is full are disconnected so one slow
// consumer cannot stall the rest.
func (h *Hub) Publish(topic string, msg Message) {
	h.mu.RLock()
	targets := h.topics[topic]
	clients := make([]*Client, 0, len(targets))
	for c := range targets {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			h.unregister <- c
		}
	}
}

// Subscribe registers client and all its topics.
func (h *Hub) Subscribe(client *Client) {
	h.register <- client
}

// Unsubscribe removes client from the hub and its topics.
func (h *Hub) Unsubscribe(client *Client) {
	h.unregister <- client
}

// ConnectedCount reports the number of connected subscribers.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// AgentConnected implements registry.Notifier.
func (h *Hub) AgentConnected(hostname identity.Hostname) {
	h.publishLifecycle(MsgAgentConnected, hostname)
}

// AgentDisconnected implements registry.Notifier.
func (h *Hub) AgentDisconnected(hostname identity.Hostname) {
	h.publishLifecycle(MsgAgentDisconnected, hostname)
}

func (h *Hub) publishLifecycle(kind MessageType, hostname identity.Hostname) {
	payload := map[string]string{"hostname": hostname.String()}
	h.Publish(TopicAgents, Message{Type: kind, Topic: TopicAgents, Payload: payload})

	topic := TopicAgent(hostname)
	h.Publish(topic, Message{Type: kind, Topic: topic, Payload: payload})
}

// StatusReported publishes a fresh machine-status snapshot on both the
// fleet topic and the machine's own topic.
func (h *Hub) StatusReported(status protocol.MachineStatus) {
	h.Publish(TopicAgents, Message{Type: MsgAgentStatus, Topic: TopicAgents, Payload: status})

	topic := TopicAgent(status.Hostname)
	h.Publish(topic, Message{Type: MsgAgentStatus, Topic: topic, Payload: status})
}
