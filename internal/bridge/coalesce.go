// Package bridge sits between the HTTP handlers and the connection
// registry: it deduplicates identical in-flight commands and caches
// results that are expensive to recompute.
package bridge

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fleetlink-io/fleetlink/internal/identity"
	"github.com/fleetlink-io/fleetlink/internal/protocol"
	"github.com/fleetlink-io/fleetlink/internal/registry"
)

// upstreamWait bounds the shared wire round trip. The shared call is detached
// from every caller's context, so it needs its own deadline to terminate.
const upstreamWait = 45 * time.Second

// Dispatcher is the slice of registry.Registry the coalescer needs.
type Dispatcher interface {
	Request(ctx context.Context, hostname identity.Hostname, cmd protocol.Command) (protocol.Response, error)
}

// Coalescer collapses concurrent identical commands to the same host into a
// single wire round trip. Identity is (hostname, full command payload): two
// Music commands with different arguments are distinct, two Version probes
// for the same host are not.
type Coalescer struct {
	dispatcher Dispatcher
	group      singleflight.Group
}

// NewCoalescer wraps d.
func NewCoalescer(d Dispatcher) *Coalescer {
	return &Coalescer{dispatcher: d}
}

// Request behaves like registry.Request, except that callers holding an
// identical in-flight command share one round trip and all receive its
// result.
//
// The shared call is detached from every caller's context: no individual
// caller can cancel it, and it always publishes a real outcome. A caller
// whose own context expires first gives up without affecting the rest.
func (c *Coalescer) Request(ctx context.Context, hostname identity.Hostname, cmd protocol.Command) (protocol.Response, error) {
	key := hostname.String() + "\x00" + cmd.Key()

	ch := c.group.DoChan(key, func() (any, error) {
		upstream, cancel := context.WithTimeout(context.WithoutCancel(ctx), upstreamWait)
		defer cancel()
		return c.dispatcher.Request(upstream, hostname, cmd)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return protocol.Response{}, res.Err
		}
		return res.Val.(protocol.Response), nil
	case <-ctx.Done():
		return protocol.Response{}, registry.Dropped(ctxReason(ctx))
	}
}

func ctxReason(ctx context.Context) string {
	if ctx.Err() == context.DeadlineExceeded {
		return "timeout"
	}
	return ctx.Err().Error()
}
