package agent

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/fleetlink-io/fleetlink/internal/identity"
	"github.com/fleetlink-io/fleetlink/internal/link"
	"github.com/fleetlink-io/fleetlink/internal/protocol"
)

// reconnectDelay is the fixed pause between connection attempts. The server
// tolerates reconnect storms; no backoff needed.
const reconnectDelay = time.Second

// Link is the agent side of the persistent connection: it dials the server,
// performs the SYN/ACK handshake, and serves relayed commands until the
// connection fails, then reconnects.
type Link struct {
	addr     string
	hostname identity.Hostname
	token    string
	executor *Executor
	logger   *zap.Logger
}

// NewLink creates a Link toward the server's persistent-connection port.
func NewLink(addr string, hostname identity.Hostname, token string, executor *Executor, logger *zap.Logger) *Link {
	return &Link{
		addr:     addr,
		hostname: hostname,
		token:    token,
		executor: executor,
		logger:   logger.Named("link"),
	}
}

// Run connects and serves until ctx is cancelled. Every fatal connection
// error is followed by a reconnect after a fixed delay.
func (l *Link) Run(ctx context.Context) {
	for {
		if err := l.connectAndServe(ctx); err != nil {
			l.logger.Warn("connection lost", zap.Error(err))
		}

		select {
		case <-time.After(reconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (l *Link) connectAndServe(ctx context.Context) error {
	dialer := net.Dialer{Timeout: link.BaseTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("agent: dial %s: %w", l.addr, err)
	}
	defer conn.Close()

	// Close the connection when ctx dies so blocked reads unblock.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	br := bufio.NewReader(conn)
	if err := l.handshake(conn, br); err != nil {
		return err
	}

	l.logger.Info("connected", zap.String("server", l.addr))
	return l.serve(ctx, conn, br)
}

func (l *Link) handshake(conn net.Conn, br *bufio.Reader) error {
	_ = conn.SetWriteDeadline(time.Now().Add(link.BaseTimeout))
	syn := protocol.Syn{Hostname: l.hostname, Token: l.token}
	if err := protocol.WriteMessage(conn, syn); err != nil {
		return fmt.Errorf("agent: failed to send syn: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(link.BaseTimeout))
	var ack protocol.Ack
	if err := protocol.ReadMessage(br, &ack); err != nil {
		return fmt.Errorf("agent: failed to read ack: %w", err)
	}

	switch ack.Kind {
	case protocol.AckOk:
		return nil
	case protocol.AckBadToken:
		return fmt.Errorf("agent: server rejected token: %s", ack.Message)
	case protocol.AckInvalidValue:
		return fmt.Errorf("agent: server rejected handshake: %s", ack.Message)
	case protocol.AckDeserialization:
		return fmt.Errorf("agent: server could not decode syn: %s", ack.Deserialization.Error)
	default:
		return fmt.Errorf("agent: unknown ack %q", ack.Kind)
	}
}

// serve runs the command loop: wait for the next command (bounded by the
// link's idle timeout; the sweeper's heartbeats keep an alive link well
// under it), execute, reply within the per-operation timeout, then run any
// post-reply action.
func (l *Link) serve(ctx context.Context, conn net.Conn, br *bufio.Reader) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		_ = conn.SetReadDeadline(time.Now().Add(link.RecvTimeout))
		var cmd protocol.Command
		if err := protocol.ReadMessage(br, &cmd); err != nil {
			return fmt.Errorf("agent: failed to read command: %w", err)
		}

		resp, after := l.executor.Execute(ctx, cmd)

		_ = conn.SetWriteDeadline(time.Now().Add(link.BaseTimeout))
		if err := protocol.WriteMessage(conn, resp); err != nil {
			return fmt.Errorf("agent: failed to write response: %w", err)
		}

		if after != nil {
			after()
		}

		if cmd.Kind != protocol.CmdHeartbeat {
			l.logger.Debug("served command", zap.String("command", string(cmd.Kind)))
		}
	}
}
