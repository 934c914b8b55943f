package agent

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// publishInterval is how often the agent reports its network fingerprint.
const publishInterval = 60 * time.Second

// Publisher periodically collects the machine status and posts it to the
// server. Failures are logged and retried on the next tick; the loop never
// tightens its schedule.
type Publisher struct {
	collector *Collector
	client    *Client
	logger    *zap.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(collector *Collector, client *Client, logger *zap.Logger) *Publisher {
	return &Publisher{
		collector: collector,
		client:    client,
		logger:    logger.Named("publisher"),
	}
}

// Run publishes immediately, then on every tick, until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()

	p.publish(ctx)
	for {
		select {
		case <-ticker.C:
			p.publish(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Publisher) publish(ctx context.Context) {
	status, err := p.collector.Collect(ctx)
	if err != nil {
		p.logger.Warn("status collection failed", zap.Error(err))
		return
	}

	if err := p.client.PostStatus(ctx, status); err != nil {
		p.logger.Warn("status publication failed", zap.Error(err))
		return
	}

	p.logger.Debug("status published",
		zap.String("external_ip", status.ExternalIP),
		zap.Int("interfaces", len(status.IpConnections)),
	)
}
