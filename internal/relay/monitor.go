// Package relay probes every open connection on a fixed interval and evicts
// the ones that stopped answering.
package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/Tyrowin/geniustalk/internal/metrics"
)

// DefaultPingInterval is the canonical liveness tick.
const DefaultPingInterval = 30 * time.Second

// ConnSource lists the connections the Monitor sweeps.
type ConnSource interface {
	Connections() []*Conn
}

// Monitor runs the liveness state machine: each tick a connection whose
// previous probe went unanswered is terminated, every other connection is
// marked not-alive and probed again. A pong marks it alive.
type Monitor struct {
	source   ConnSource
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewMonitor creates a monitor over source. A non-positive interval selects
// DefaultPingInterval.
func NewMonitor(source ConnSource, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *Monitor {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	return &Monitor{
		source:   source,
		interval: interval,
		logger:   orDiscard(logger),
		metrics:  m,
	}
}

// Interval returns the tick period.
func (m *Monitor) Interval() time.Duration { return m.interval }

// Run sweeps on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("liveness monitor started", "interval", m.interval)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("liveness monitor stopped")
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep performs one tick and returns the number of evicted connections.
func (m *Monitor) Sweep() int {
	evicted := 0
	for _, c := range m.source.Connections() {
		if !c.IsOpen() {
			continue
		}

		if !c.alive.CompareAndSwap(true, false) {
			m.logger.Info("evicting stale connection", "conn", c.ID(), "phone", c.Identity())
			m.metrics.IncrementEvictions()
			c.Terminate()
			evicted++
			continue
		}

		if err := c.probe(); err != nil {
			if !isExpectedCloseError(err) {
				m.logger.Warn("liveness probe failed", "conn", c.ID(), "error", err)
			}
			c.Terminate()
		}
	}
	return evicted
}
