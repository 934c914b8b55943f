package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fleetlink-io/fleetlink/internal/identity"
	"github.com/fleetlink-io/fleetlink/internal/protocol"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(zaptest.NewLogger(t))
}

// serve answers every request on the channel with Ok Unit until done closes.
func serve(requests <-chan Request, done <-chan struct{}) {
	for {
		select {
		case req := <-requests:
			req.Reply <- Result{Response: protocol.OkResponse(protocol.UnitResponse())}
		case <-done:
			return
		}
	}
}

func TestRequestUnknownHost(t *testing.T) {
	r := newRegistry(t)

	_, err := r.Request(context.Background(), "ghost", protocol.Heartbeat())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterAndRequest(t *testing.T) {
	r := newRegistry(t)

	_, requests, done := r.Register("kiwi")
	go serve(requests, done)

	resp, err := r.Request(context.Background(), "kiwi", protocol.Version())
	require.NoError(t, err)
	require.NotNil(t, resp.Ok)
	assert.Equal(t, protocol.RespUnit, resp.Ok.Kind)

	assert.Equal(t, []Entry{{Hostname: "kiwi", Generation: 1}}, r.List())
}

func TestGenerationsAreMonotonic(t *testing.T) {
	r := newRegistry(t)

	gen1, _, _ := r.Register("kiwi")
	gen2, _, _ := r.Register("pear")
	assert.Less(t, gen1, gen2)
}

func TestSupersededSession(t *testing.T) {
	r := newRegistry(t)

	gen1, _, done1 := r.Register("kiwi")
	gen2, requests2, done2 := r.Register("kiwi")

	// The first slot's done closes on displacement.
	select {
	case <-done1:
	case <-time.After(time.Second):
		t.Fatal("displaced slot's done channel never closed")
	}

	// The stale cleanup is a no-op; the new slot survives.
	r.Unregister("kiwi", gen1)
	assert.Equal(t, []Entry{{Hostname: "kiwi", Generation: gen2}}, r.List())

	go serve(requests2, done2)
	_, err := r.Request(context.Background(), "kiwi", protocol.Heartbeat())
	assert.NoError(t, err)
}

func TestUnregisterMatchingGeneration(t *testing.T) {
	r := newRegistry(t)

	gen, _, done := r.Register("kiwi")
	r.Unregister("kiwi", gen)

	assert.Empty(t, r.List())
	select {
	case <-done:
	default:
		t.Fatal("done channel not closed on unregister")
	}

	_, err := r.Request(context.Background(), "kiwi", protocol.Heartbeat())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRequestOnDeadSlot(t *testing.T) {
	r := newRegistry(t)

	gen, _, _ := r.Register("kiwi")

	// No relay is consuming; the slot dies while the request waits.
	errCh := make(chan error, 1)
	go func() {
		_, err := r.Request(context.Background(), "kiwi", protocol.Heartbeat())
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	r.Unregister("kiwi", gen)

	select {
	case err := <-errCh:
		var dropped *DroppedError
		assert.ErrorAs(t, err, &dropped)
	case <-time.After(time.Second):
		t.Fatal("request did not fail after slot death")
	}
}

func TestRequestTimeoutReason(t *testing.T) {
	r := newRegistry(t)

	_, _, _ = r.Register("kiwi")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := r.Request(ctx, "kiwi", protocol.Heartbeat())
	var dropped *DroppedError
	require.ErrorAs(t, err, &dropped)
	assert.Equal(t, "timeout", dropped.Reason)
}

func TestRequestErrorFromRelay(t *testing.T) {
	r := newRegistry(t)

	_, requests, _ := r.Register("kiwi")
	go func() {
		req := <-requests
		req.Reply <- Result{Err: Dropped("connection closed")}
	}()

	_, err := r.Request(context.Background(), "kiwi", protocol.Heartbeat())
	var dropped *DroppedError
	require.ErrorAs(t, err, &dropped)
	assert.Equal(t, "connection closed", dropped.Reason)
}

type notifierLog struct {
	connected    []identity.Hostname
	disconnected []identity.Hostname
}

func (n *notifierLog) AgentConnected(h identity.Hostname)    { n.connected = append(n.connected, h) }
func (n *notifierLog) AgentDisconnected(h identity.Hostname) { n.disconnected = append(n.disconnected, h) }

func TestNotifierReceivesLifecycleEvents(t *testing.T) {
	var log notifierLog
	r := New(zaptest.NewLogger(t), WithNotifier(&log))

	gen, _, _ := r.Register("kiwi")
	r.Unregister("kiwi", gen)

	assert.Equal(t, []identity.Hostname{"kiwi"}, log.connected)
	assert.Equal(t, []identity.Hostname{"kiwi"}, log.disconnected)
}
