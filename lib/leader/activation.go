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

package leader

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gravitational/trace"

	"github.com/sonicx222/arbitrage-new-sub013/lib/utils"
)

// ActivationConfig configures an ActivationManager.
type ActivationConfig struct {
	// Elector is the election engine this manager promotes.
	Elector *Elector
	// OnActivationSuccess runs after a successful acquisition, before the
	// standby flag is cleared on the elector. Used to clear the standby
	// designation upstream. Optional.
	OnActivationSuccess func()
	// Logger is the manager's structured logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *ActivationConfig) CheckAndSetDefaults() error {
	if c.Elector == nil {
		return trace.BadParameter("missing parameter Elector")
	}
	if c.Logger == nil {
		c.Logger = slog.With("component", "standby-activation")
	}
	return nil
}

// ActivationManager promotes a standby instance to active leader when a
// failover signal arrives. Concurrent activation requests coalesce: every
// caller that arrives while an activation is in flight shares the outcome of
// that one attempt, and the underlying acquisition runs exactly once.
type ActivationManager struct {
	cfg    ActivationConfig
	flight *utils.FlightGroup[string, bool]

	mu         sync.Mutex
	activating bool
}

// activationKey is the single coalescing key: one activation may be in
// flight per manager.
const activationKey = "standby-activation"

// NewActivationManager returns an ActivationManager over the given elector.
func NewActivationManager(cfg ActivationConfig) (*ActivationManager, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &ActivationManager{
		cfg:    cfg,
		flight: utils.NewFlightGroup[string, bool](),
	}, nil
}

// GetIsActivating reports whether an activation attempt is in flight.
func (m *ActivationManager) GetIsActivating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activating
}

// ActivateStandby attempts to promote this instance. Returns true when the
// instance is (or already was) leader afterwards.
func (m *ActivationManager) ActivateStandby(ctx context.Context) bool {
	elector := m.cfg.Elector

	if elector.IsLeader() {
		m.cfg.Logger.InfoContext(ctx, "activation requested while already leader")
		return true
	}
	if !elector.IsStandby() {
		m.cfg.Logger.WarnContext(ctx, "activation requested on non-standby instance")
		return false
	}
	if !elector.CanBecomeLeader() {
		m.cfg.Logger.WarnContext(ctx, "activation requested but instance cannot become leader")
		return false
	}

	ok, _, err := m.flight.Do(ctx, activationKey, func() (acquired bool, err error) {
		// Flag order matters: the manager reports activating before the
		// elector's standby gate lifts, and both flags reset on every exit
		// path, errors included.
		m.setActivating(true)
		elector.SetActivating(true)
		defer func() {
			elector.SetActivating(false)
			m.setActivating(false)
		}()

		if !elector.TryAcquire(ctx) {
			m.cfg.Logger.WarnContext(ctx, "standby activation failed to acquire lease")
			return false, nil
		}
		if m.cfg.OnActivationSuccess != nil {
			m.cfg.OnActivationSuccess()
		}
		elector.ClearStandby()
		m.cfg.Logger.InfoContext(ctx, "standby activated as leader")
		return true, nil
	})
	if err != nil {
		m.cfg.Logger.WarnContext(ctx, "standby activation aborted", "error", err)
		return false
	}
	return ok
}

func (m *ActivationManager) setActivating(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activating = v
}
