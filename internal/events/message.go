// Package events implements the WebSocket pub/sub hub that pushes fleet
// lifecycle events to subscribed dashboards. It uses gorilla/websocket and
// exposes a topic-based broadcast API fed by the connection registry and
// the status endpoint.
//
// Topic naming convention:
//
//	agents            lifecycle events for the whole fleet
//	agent:<hostname>  events for a single machine
package events

// MessageType identifies the kind of event carried by a Message.
type MessageType string

const (
	// MsgAgentConnected is sent when an agent completes the
	// persistent-connection handshake.
	MsgAgentConnected MessageType = "agent.connected"

	// MsgAgentDisconnected is sent when an agent's connection is
	// unregistered, whether it closed cleanly or was evicted.
	MsgAgentDisconnected MessageType = "agent.disconnected"

	// MsgAgentStatus is sent when an agent reports a fresh machine-status
	// snapshot.
	MsgAgentStatus MessageType = "agent.status"
)

// Message is the envelope for every WebSocket frame sent to subscribers.
//
// JSON example:
//
//	{"type":"agent.connected","topic":"agents","payload":{"hostname":"kiwi"}}
type Message struct {
	Type  MessageType `json:"type"`
	Topic string      `json:"topic"`

	// Payload carries the event-specific data:
	//   - agent.connected / agent.disconnected: {"hostname":"..."}
	//   - agent.status: the full machine-status document
	Payload any `json:"payload"`
}
