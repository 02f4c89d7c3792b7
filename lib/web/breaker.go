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

package web

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/sonicx222/arbitrage-new-sub013/lib/defaults"
	"github.com/sonicx222/arbitrage-new-sub013/lib/events"
)

// Publisher appends an event payload to a stream.
type Publisher interface {
	Publish(ctx context.Context, stream string, payload any) (string, error)
}

// BreakerState is the externally visible circuit breaker state.
type BreakerState struct {
	Open      bool   `json:"open"`
	Reason    string `json:"reason,omitempty"`
	ChangedAt int64  `json:"changedAt"`
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// InstanceID identifies the instance flipping the breaker.
	InstanceID string
	// Publisher receives breaker transition events. Optional; without one
	// transitions stay local.
	Publisher Publisher
	// Clock stamps transitions.
	Clock clockwork.Clock
	// Logger is the breaker's structured logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *BreakerConfig) CheckAndSetDefaults() error {
	if c.InstanceID == "" {
		return trace.BadParameter("missing parameter InstanceID")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With("component", "circuit-breaker")
	}
	return nil
}

// CircuitBreaker is a manually operated kill switch for opportunity
// publication. Opening it is advisory to the rest of the fleet: the
// transition is broadcast on the circuit-breaker stream and every service
// decides locally how to react.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu    sync.Mutex
	state BreakerState
}

// NewCircuitBreaker returns a closed CircuitBreaker.
func NewCircuitBreaker(cfg BreakerConfig) (*CircuitBreaker, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &CircuitBreaker{
		cfg:   cfg,
		state: BreakerState{ChangedAt: cfg.Clock.Now().UnixMilli()},
	}, nil
}

// State returns a copy of the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether the breaker is tripped.
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Open
}

// Open trips the breaker. Reopening an open breaker only updates the reason.
func (b *CircuitBreaker) Open(ctx context.Context, reason string) {
	b.mu.Lock()
	was := b.state.Open
	b.state = BreakerState{
		Open:      true,
		Reason:    reason,
		ChangedAt: b.cfg.Clock.Now().UnixMilli(),
	}
	b.mu.Unlock()

	if was {
		return
	}
	b.cfg.Logger.WarnContext(ctx, "circuit breaker opened", "reason", reason)
	b.publish(ctx, events.BreakerOpen, reason)
}

// Close resets the breaker. Closing a closed breaker is a no-op.
func (b *CircuitBreaker) Close(ctx context.Context) {
	b.mu.Lock()
	was := b.state.Open
	b.state = BreakerState{ChangedAt: b.cfg.Clock.Now().UnixMilli()}
	b.mu.Unlock()

	if !was {
		return
	}
	b.cfg.Logger.InfoContext(ctx, "circuit breaker closed")
	b.publish(ctx, events.BreakerClosed, "")
}

func (b *CircuitBreaker) publish(ctx context.Context, state, reason string) {
	if b.cfg.Publisher == nil {
		return
	}
	_, err := b.cfg.Publisher.Publish(ctx, defaults.StreamCircuitBreaker, events.CircuitBreakerEvent{
		State:      state,
		Reason:     reason,
		InstanceID: b.cfg.InstanceID,
		Timestamp:  b.cfg.Clock.Now().UnixMilli(),
	})
	if err != nil {
		// The breaker state changed locally either way; the broadcast is
		// best effort.
		b.cfg.Logger.WarnContext(ctx, "failed to publish breaker transition", "error", err)
	}
}
