package events

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait bounds each wire write so a stalled subscriber cannot block
	// the writePump.
	writeWait = 10 * time.Second

	// pongWait is how long the server waits for a pong after sending a
	// ping before closing the connection.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait so the client has time to
	// reply.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps inbound frames. Subscribers only send control
	// frames, so a small limit is enough.
	maxMessageSize = 512

	// sendBufferSize is the per-client outbound buffer. A client that lets
	// it fill is disconnected by Publish.
	sendBufferSize = 32
)

// upgrader performs the HTTP to WebSocket protocol upgrade. Origin
// validation is left to the reverse proxy.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is a single connected subscriber. Each client runs two goroutines:
// readPump detects disconnection and handles pongs, writePump serialises
// outbound messages onto the wire.
//
// The send channel is the handoff between Publish and the writePump. It is
// never closed: Publish may race with unregistration, and a send on a closed
// channel panics. Shutdown travels on done instead, which the hub closes
// exactly once on unregister.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message
	done chan struct{}

	// topics is fixed at connection time from query parameters.
	// Read-only afterwards.
	topics []string

	logger *zap.Logger
}

// NewClient upgrades the HTTP connection and builds a Client subscribed to
// topics. Returns an error if the request is not a valid WebSocket
// handshake.
func NewClient(hub *Hub, w http.ResponseWriter, r *http.Request, topics []string, logger *zap.Logger) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan Message, sendBufferSize),
		done:   make(chan struct{}),
		topics: topics,
		logger: logger.With(zap.String("remote_addr", r.RemoteAddr)),
	}, nil
}

// Run registers the client with the hub and pumps until the connection
// closes. Called from the HTTP handler after the upgrade; blocking there is
// fine.
func (c *Client) Run() {
	c.hub.Subscribe(c)

	go c.writePump()
	c.readPump()
}

// readPump watches for disconnection and resets the read deadline on each
// pong. Subscribers are not expected to send application frames.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unsubscribe(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("events: failed to set read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.logger.Warn("events: unexpected close", zap.Error(err))
			}
			return
		}
	}
}

// writePump is the only goroutine that writes to conn; gorilla connections
// are not safe for concurrent writes. It also sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("events: failed to set write deadline", zap.Error(err))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Warn("events: write error", zap.Error(err))
				return
			}

		case <-c.done:
			// Hub unregistered the client.
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("events: failed to set write deadline", zap.Error(err))
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("events: ping error", zap.Error(err))
				return
			}
		}
	}
}
