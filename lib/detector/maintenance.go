/*
 * Arbitrage Detection Platform
 * Copyright (C) 2025  sonicx222
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package detector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/sonicx222/arbitrage-new-sub013/lib/defaults"
)

// MaintenanceConfig configures a Maintenance sweeper.
type MaintenanceConfig struct {
	// Snapshots is the index to evict stale price points from.
	Snapshots *SnapshotIndex
	// Bridges is the model whose route history ages out.
	Bridges *BridgeModel
	// Interval is the sweep cadence.
	Interval time.Duration
	// Retention is the bridge history horizon.
	Retention time.Duration
	// Clock is the time source, swappable in tests.
	Clock clockwork.Clock
	// Logger is the sweeper's structured logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *MaintenanceConfig) CheckAndSetDefaults() error {
	if c.Snapshots == nil {
		return trace.BadParameter("missing parameter Snapshots")
	}
	if c.Bridges == nil {
		return trace.BadParameter("missing parameter Bridges")
	}
	if c.Interval <= 0 {
		c.Interval = defaults.MaintenanceInterval
	}
	if c.Retention <= 0 {
		c.Retention = defaults.BridgeRetention
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With("component", "detector-maintenance")
	}
	return nil
}

// Maintenance periodically evicts expired snapshot entries and ages out
// bridge history. Without it the index only sheds keys at the capacity cap
// and route history grows until the per-route trim.
type Maintenance struct {
	cfg MaintenanceConfig

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewMaintenance returns an unstarted Maintenance sweeper.
func NewMaintenance(cfg MaintenanceConfig) (*Maintenance, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Maintenance{cfg: cfg}, nil
}

// Start launches the sweep loop. Idempotent.
func (m *Maintenance) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.done = make(chan struct{})
	m.started = true
	go m.run(loopCtx, m.done)
}

// Stop halts the sweep loop. Idempotent.
func (m *Maintenance) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
}

func (m *Maintenance) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := m.cfg.Clock.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one maintenance pass.
func (m *Maintenance) Sweep(ctx context.Context) {
	evicted := m.cfg.Snapshots.Cleanup()
	aged := m.cfg.Bridges.Cleanup(m.cfg.Retention)
	if evicted > 0 || aged > 0 {
		m.cfg.Logger.DebugContext(ctx, "maintenance sweep",
			"snapshot_evictions", evicted, "bridge_evictions", aged)
	}
}
