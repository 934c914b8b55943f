package link

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fleetlink-io/fleetlink/internal/protocol"
	"github.com/fleetlink-io/fleetlink/internal/registry"
)

// Sweeper probes every registered connection with a Heartbeat command and
// unregisters the ones that fail. A connection whose network silently died
// is gone within at most two sweep periods.
type Sweeper struct {
	registry  *registry.Registry
	logger    *zap.Logger
	timeout   time.Duration
	evictions prometheus.Counter
}

// NewSweeper creates a Sweeper. evictions may be nil. timeout is the
// per-probe bound; pass 0 for SweepInterval, so that sweep start plus probe
// timeout stay within two sweep periods of the link dying.
func NewSweeper(reg *registry.Registry, logger *zap.Logger, evictions prometheus.Counter, timeout time.Duration) *Sweeper {
	if timeout <= 0 {
		timeout = SweepInterval
	}
	return &Sweeper{
		registry:  reg,
		logger:    logger.Named("sweeper"),
		timeout:   timeout,
		evictions: evictions,
	}
}

// Sweep probes all connections concurrently and returns when every probe has
// resolved. Intended to run on a SweepInterval schedule.
func (s *Sweeper) Sweep(ctx context.Context) {
	entries := s.registry.List()

	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		go func(entry registry.Entry) {
			defer wg.Done()
			s.probe(ctx, entry)
		}(entry)
	}
	wg.Wait()
}

func (s *Sweeper) probe(ctx context.Context, entry registry.Entry) {
	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.registry.Request(probeCtx, entry.Hostname, protocol.Heartbeat())

	var dropped *registry.DroppedError
	switch {
	case err == nil:
		// Alive.

	case errors.Is(err, registry.ErrNotFound):
		// Already removed between List and Request.

	case errors.As(err, &dropped):
		// The generation pins the eviction to the session we probed: if the
		// agent reconnected meanwhile, the new slot is left alone.
		s.registry.Unregister(entry.Hostname, entry.Generation)
		if s.evictions != nil {
			s.evictions.Inc()
		}
		s.logger.Warn("evicted unresponsive connection",
			zap.String("hostname", entry.Hostname.String()),
			zap.Uint64("generation", entry.Generation),
			zap.String("reason", dropped.Reason),
		)

	default:
		s.logger.Warn("heartbeat probe failed",
			zap.String("hostname", entry.Hostname.String()),
			zap.Error(err),
		)
	}
}
