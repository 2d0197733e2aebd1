// Package collectors polls runtime state into Prometheus gauges.
package collectors

import (
	"context"
	"log/slog"
	"time"

	"github.com/smazurov/memscaler/internal/hardware"
	"github.com/smazurov/memscaler/internal/metrics"
	"github.com/smazurov/memscaler/internal/scaler"
)

// DefaultInterval is the polling interval of ChannelCollector.
const DefaultInterval = 5 * time.Second

// StatusSource lists channel status snapshots. scaler.Manager satisfies it.
type StatusSource interface {
	List() []*scaler.Status
}

// EngineSource reports engine counters keyed by channel. hardware.Bank satisfies it.
type EngineSource interface {
	Stats() map[string]hardware.Stats
}

// ChannelCollector samples pool occupancy and history depth of every channel,
// and the engine counters when an EngineSource is set.
type ChannelCollector struct {
	source   StatusSource
	engines  EngineSource
	logger   *slog.Logger
	interval time.Duration
	known    map[string]bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewChannelCollector creates a collector. A non-positive interval uses DefaultInterval.
func NewChannelCollector(source StatusSource, interval time.Duration, logger *slog.Logger) *ChannelCollector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelCollector{
		source:   source,
		logger:   logger,
		interval: interval,
		known:    make(map[string]bool),
	}
}

// WithEngines adds engine counters to every sample.
func (c *ChannelCollector) WithEngines(engines EngineSource) *ChannelCollector {
	c.engines = engines
	return c
}

// Start begins collecting.
func (c *ChannelCollector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx)
}

// Stop stops the collector and waits for it to exit.
func (c *ChannelCollector) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

func (c *ChannelCollector) run(ctx context.Context) {
	defer close(c.done)
	c.logger.Info("Starting channel metrics collection", "interval", c.interval)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}

// Collect takes one sample. Channels that disappeared since the last sample
// have their metrics removed.
func (c *ChannelCollector) Collect() {
	seen := make(map[string]bool)
	for _, st := range c.source.List() {
		metrics.SetChannelStatus(st)
		seen[st.ID] = true
	}
	if c.engines != nil {
		for id, st := range c.engines.Stats() {
			if seen[id] {
				metrics.SetEngineStats(id, st)
			}
		}
	}
	for id := range c.known {
		if !seen[id] {
			c.logger.Debug("Dropping metrics of closed channel", "channel", id)
			metrics.DeleteChannelMetrics(id)
		}
	}
	c.known = seen
}
