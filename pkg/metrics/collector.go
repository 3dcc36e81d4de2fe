package metrics

import (
	"context"
	"time"

	"github.com/nightcloud/nightfleet/pkg/types"
)

// StatsSource yields the fleet-wide aggregate for gauge sampling. The
// stats ledger satisfies it.
type StatsSource interface {
	Load(ctx context.Context) (*types.Stats, error)
}

// Collector periodically mirrors the shared stats file into gauges so
// the fleet aggregate shows up on every worker's /metrics.
type Collector struct {
	stats    StatsSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a collector over the given stats source.
func NewCollector(stats StatsSource) *Collector {
	return &Collector{
		stats:    stats,
		interval: 60 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect(ctx)

		for {
			select {
			case <-ticker.C:
				c.collect(ctx)
			case <-c.stopCh:
				ticker.Stop()
				return
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect(ctx context.Context) {
	stats, err := c.stats.Load(ctx)
	if err != nil {
		return
	}
	TotalSolutions.Set(float64(stats.TotalSolutions))
	DonationSolutions.Set(float64(stats.DonationSolutions))
}
