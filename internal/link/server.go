// Package link implements the server side of the persistent agent
// connection: the TCP listener, the per-connection handshake and relay
// loop, and the heartbeat sweeper.
//
// The server listens on a dedicated port separate from the HTTP API.
// Each accepted connection is handled by one goroutine that authenticates
// the agent, registers it, and then becomes the connection's relay: it is
// the single point where HTTP-originated commands are serialized onto the
// wire and replies are routed back, one command at a time, no pipelining.
package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/fleetlink-io/fleetlink/internal/identity"
	"github.com/fleetlink-io/fleetlink/internal/protocol"
	"github.com/fleetlink-io/fleetlink/internal/registry"
	"github.com/fleetlink-io/fleetlink/internal/store"
)

const (
	// RecvTimeout is how long an idle agent waits for the next command
	// before treating the link as dead.
	RecvTimeout = 30 * time.Second

	// BaseTimeout (T) bounds every single protocol operation: reading the
	// Syn, writing a command, reading its reply.
	BaseTimeout = RecvTimeout / 2

	// SweepInterval is how often the heartbeat sweeper probes every
	// registered connection. A silently dead link is evicted within at
	// most two sweep periods.
	SweepInterval = BaseTimeout / 3
)

// TokenVerifier is the slice of store.TokenStore the link server needs.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string, required identity.Role) (identity.Hostname, error)
}

// Server accepts persistent agent connections and relays commands onto them.
type Server struct {
	registry *registry.Registry
	tokens   TokenVerifier
	logger   *zap.Logger
	timeout  time.Duration
}

// NewServer creates a link server. timeout is the per-operation bound;
// pass 0 for BaseTimeout.
func NewServer(reg *registry.Registry, tokens TokenVerifier, logger *zap.Logger, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = BaseTimeout
	}
	return &Server{
		registry: reg,
		tokens:   tokens,
		logger:   logger.Named("link"),
		timeout:  timeout,
	}
}

// ListenAndServe accepts connections on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("link: failed to listen on %s: %w", addr, err)
	}

	// Closing the listener unblocks Accept on shutdown.
	go func() {
		<-ctx.Done()
		s.logger.Info("link server shutting down")
		lis.Close()
	}()

	s.logger.Info("link server listening", zap.String("addr", addr))

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("link: accept: %w", err)
		}
		go s.HandleConn(ctx, conn)
	}
}

// rawSyn mirrors protocol.Syn with the hostname unvalidated, so a malformed
// hostname can be reported as InvalidValue instead of a decode failure.
type rawSyn struct {
	Hostname string `json:"hostname"`
	Token    string `json:"token"`
}

// HandleConn runs one connection from handshake to teardown. Exported so
// tests can drive it over a net.Pipe.
func (s *Server) HandleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	br := bufio.NewReader(conn)
	logger := s.logger.With(zap.String("remote_addr", conn.RemoteAddr().String()))

	hostname, ok := s.handshake(ctx, conn, br, logger)
	if !ok {
		return
	}

	gen, requests, done := s.registry.Register(hostname)
	logger = logger.With(
		zap.String("hostname", hostname.String()),
		zap.Uint64("generation", gen),
	)

	s.relay(ctx, conn, br, logger, hostname, gen, requests, done)
}

// handshake reads the Syn, verifies the token against the admin role, and
// answers with an Ack. It returns ok=false when the connection must close.
func (s *Server) handshake(ctx context.Context, conn net.Conn, br *bufio.Reader, logger *zap.Logger) (identity.Hostname, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(s.timeout))

	var syn rawSyn
	if err := protocol.ReadMessage(br, &syn); err != nil {
		logger.Warn("handshake: failed to read syn", zap.Error(err))
		s.writeAck(conn, protocol.DeserializationError("Syn", err))
		return "", false
	}

	hostname, err := identity.ParseHostname(syn.Hostname)
	if err != nil {
		logger.Warn("handshake: invalid hostname", zap.String("hostname", syn.Hostname), zap.Error(err))
		s.writeAck(conn, protocol.InvalidValue(err.Error()))
		return "", false
	}

	if _, err := s.tokens.Verify(ctx, syn.Token, identity.RoleAdmin); err != nil {
		switch {
		case errors.Is(err, store.ErrInvalidToken):
			logger.Warn("handshake: malformed token", zap.String("hostname", hostname.String()))
			s.writeAck(conn, protocol.InvalidValue(err.Error()))
		case errors.Is(err, store.ErrUnauthorizedToken):
			logger.Warn("handshake: unauthorized token", zap.String("hostname", hostname.String()))
			s.writeAck(conn, protocol.BadToken("token does not grant admin"))
		default:
			logger.Error("handshake: token verification failed", zap.Error(err))
			s.writeAck(conn, protocol.BadToken("token verification failed"))
		}
		return "", false
	}

	if !s.writeAck(conn, protocol.Ok()) {
		return "", false
	}
	return hostname, true
}

func (s *Server) writeAck(conn net.Conn, ack protocol.Ack) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(s.timeout))
	return protocol.WriteMessage(conn, ack) == nil
}

// relay is the per-connection serialization point. It takes the next request
// only after the previous reply has been routed; the first fatal error tears
// the connection down, forwards the in-flight reply as a drop, and drains
// whatever was queued.
func (s *Server) relay(
	ctx context.Context,
	conn net.Conn,
	br *bufio.Reader,
	logger *zap.Logger,
	hostname identity.Hostname,
	gen uint64,
	requests <-chan registry.Request,
	done <-chan struct{},
) {
	for {
		select {
		case <-ctx.Done():
			s.registry.Unregister(hostname, gen)
			drain(requests)
			return

		case <-done:
			// Displaced by a newer session for the same hostname, or
			// evicted by the sweeper. The slot is no longer ours to remove.
			logger.Info("relay: session superseded")
			drain(requests)
			return

		case req := <-requests:
			resp, err := s.roundTrip(conn, br, req.Cmd)
			if err != nil {
				logger.Error("relay: connection failed mid-request",
					zap.String("command", string(req.Cmd.Kind)),
					zap.Error(err),
				)
				req.Reply <- registry.Result{Err: registry.Dropped(dropReason(err))}
				s.registry.Unregister(hostname, gen)
				drain(requests)
				return
			}
			req.Reply <- registry.Result{Response: resp}
		}
	}
}

// roundTrip writes one command and reads its reply, each bounded by the
// per-operation timeout.
func (s *Server) roundTrip(conn net.Conn, br *bufio.Reader, cmd protocol.Command) (protocol.Response, error) {
	_ = conn.SetWriteDeadline(time.Now().Add(s.timeout))
	if err := protocol.WriteMessage(conn, cmd); err != nil {
		return protocol.Response{}, fmt.Errorf("write command: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.timeout))
	var resp protocol.Response
	if err := protocol.ReadMessage(br, &resp); err != nil {
		return protocol.Response{}, fmt.Errorf("read reply: %w", err)
	}
	return resp, nil
}

// drain answers everything still queued on a dead slot with Dropped.
func drain(requests <-chan registry.Request) {
	for {
		select {
		case req := <-requests:
			req.Reply <- registry.Result{Err: registry.Dropped("connection closed")}
		default:
			return
		}
	}
}

// dropReason distinguishes deadline expiry from other I/O failures so the
// HTTP layer can answer 408 instead of 500.
func dropReason(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return err.Error()
}
