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

// Package leader implements single-leader election over an expiring lease
// key, plus the standby-activation protocol that promotes a warm standby to
// active leader during failover.
//
// The lease is the only multi-writer resource in the platform and is only
// ever mutated through the transport's server-side compare scripts: create
// if absent, extend if owner, delete if owner. At most one instance holds
// the lease at any instant; renewal succeeds only for the current owner.
package leader

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/sonicx222/arbitrage-new-sub013/lib/defaults"
	"github.com/sonicx222/arbitrage-new-sub013/lib/events"
	"github.com/sonicx222/arbitrage-new-sub013/lib/utils"
)

// LeaseBackend is the subset of the stream transport the elector uses. All
// three operations are atomic on the server.
type LeaseBackend interface {
	SetIfAbsent(ctx context.Context, key, value string, ttlSec int64) (bool, error)
	CompareAndExtend(ctx context.Context, key, expected string, ttlSec int64) (bool, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
}

// ElectorConfig configures an Elector.
type ElectorConfig struct {
	// Backend performs the atomic lease operations.
	Backend LeaseBackend
	// LockKey is the lease key shared by all instances of a deployment.
	LockKey string
	// InstanceID identifies this instance; it is stored as the lease value.
	InstanceID string
	// LockTTL is the lease lifetime. Must be at least 3x HeartbeatInterval.
	LockTTL time.Duration
	// HeartbeatInterval is the base renewal cadence.
	HeartbeatInterval time.Duration
	// JitterRange is the total width of the uniform jitter applied to each
	// heartbeat interval.
	JitterRange time.Duration
	// MaxHeartbeatFailures is the consecutive-error budget before a leader
	// self-demotes.
	MaxHeartbeatFailures int
	// IsStandby gates acquisition until standby activation sets the
	// activating flag.
	IsStandby bool
	// CanBecomeLeader disables acquisition entirely when false.
	CanBecomeLeader bool
	// OnLeadershipChange is called once per distinct leader/follower
	// transition. Optional.
	OnLeadershipChange func(isLeader bool)
	// OnAlert receives advisory leadership alerts. Optional; a missing sink
	// never blocks the state machine.
	OnAlert func(alert events.LeadershipAlert)
	// Clock is used for heartbeat scheduling and alert timestamps.
	Clock clockwork.Clock
	// Logger is the elector's structured logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *ElectorConfig) CheckAndSetDefaults() error {
	if c.Backend == nil {
		return trace.BadParameter("missing parameter Backend")
	}
	if c.LockKey == "" {
		return trace.BadParameter("missing parameter LockKey")
	}
	if c.InstanceID == "" {
		return trace.BadParameter("missing parameter InstanceID")
	}
	if c.LockTTL == 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if c.LockTTL < 3*c.HeartbeatInterval {
		return trace.BadParameter("LockTTL %v must be at least 3x HeartbeatInterval %v", c.LockTTL, c.HeartbeatInterval)
	}
	if c.JitterRange == 0 {
		c.JitterRange = defaults.HeartbeatJitterRange
	}
	if c.MaxHeartbeatFailures == 0 {
		c.MaxHeartbeatFailures = defaults.MaxHeartbeatFailures
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With("component", "elector", "instance", c.InstanceID)
	}
	return nil
}

// Elector runs the lease-based election loop for one instance.
type Elector struct {
	cfg    ElectorConfig
	jitter utils.Jitter

	mu         sync.Mutex
	isLeader   bool
	isStandby  bool
	activating bool
	failures   int
	started    bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewElector returns an Elector ready to Start.
func NewElector(cfg ElectorConfig) (*Elector, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Elector{
		cfg:       cfg,
		jitter:    utils.NewRangeJitter(cfg.JitterRange, defaults.MinHeartbeatInterval),
		isStandby: cfg.IsStandby,
	}, nil
}

// Start begins the election loop. Idempotent.
func (e *Elector) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.mu.Unlock()

	go e.run(loopCtx)
}

// Stop halts the loop and releases the lease if held. Idempotent.
func (e *Elector) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	<-done

	// Release runs after the loop exits so it cannot race a renewal. It
	// deliberately does not inherit the caller's context: the lease should
	// be released even during shutdown.
	releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer releaseCancel()
	e.release(releaseCtx)
}

// IsLeader reports whether this instance currently holds the lease.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}

// IsStandby reports whether this instance is gated behind standby
// activation.
func (e *Elector) IsStandby() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isStandby
}

// CanBecomeLeader reports whether acquisition is enabled at all.
func (e *Elector) CanBecomeLeader() bool {
	return e.cfg.CanBecomeLeader
}

// SetActivating is the external signal from the activation manager that
// temporarily lifts the standby gate.
func (e *Elector) SetActivating(activating bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activating = activating
}

// ClearStandby permanently removes the standby gate after a successful
// activation.
func (e *Elector) ClearStandby() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.isStandby = false
}

// TryAcquire makes one acquisition or renewal attempt and reports whether
// this instance is leader afterwards. I/O errors are logged and leave the
// leader state unchanged.
func (e *Elector) TryAcquire(ctx context.Context) bool {
	if !e.cfg.CanBecomeLeader {
		return false
	}
	e.mu.Lock()
	gated := e.isStandby && !e.activating
	wasLeader := e.isLeader
	e.mu.Unlock()
	if gated {
		return false
	}

	ttlSec := int64(math.Ceil(e.cfg.LockTTL.Seconds()))

	created, err := e.cfg.Backend.SetIfAbsent(ctx, e.cfg.LockKey, e.cfg.InstanceID, ttlSec)
	if err != nil {
		// I/O errors never change leader state and never claim success.
		e.cfg.Logger.WarnContext(ctx, "lease create attempt failed", "error", err)
		return false
	}
	if created {
		e.becomeLeader(ctx)
		return true
	}

	// Key exists. Renewal succeeds only while we own it.
	renewed, err := e.cfg.Backend.CompareAndExtend(ctx, e.cfg.LockKey, e.cfg.InstanceID, ttlSec)
	if err != nil {
		e.cfg.Logger.WarnContext(ctx, "lease renewal attempt failed", "error", err)
		return false
	}
	if renewed {
		// Already leader; make the state reflect it in case this is the
		// first attempt after a restart that found its own lease.
		e.mu.Lock()
		already := e.isLeader
		e.isLeader = true
		e.mu.Unlock()
		if !already {
			e.notifyChange(ctx, true)
		}
		return true
	}

	// Another instance owns the lease.
	if wasLeader {
		e.demote(ctx, events.AlertLeaderLost, events.SeverityWarning, "lease ownership lost to another instance")
	}
	return false
}

// run is the heartbeat loop: renew while leader, otherwise attempt
// acquisition, on a jittered cadence.
func (e *Elector) run(ctx context.Context) {
	defer close(e.done)

	// First attempt fires immediately so a fresh cluster elects without
	// waiting out a full interval.
	e.tick(ctx)

	for {
		timer := e.cfg.Clock.NewTimer(e.jitter(e.cfg.HeartbeatInterval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}
		e.tick(ctx)
	}
}

func (e *Elector) tick(ctx context.Context) {
	e.mu.Lock()
	leading := e.isLeader
	e.mu.Unlock()

	if !leading {
		e.TryAcquire(ctx)
		return
	}

	ttlSec := int64(math.Ceil(e.cfg.LockTTL.Seconds()))
	renewed, err := e.cfg.Backend.CompareAndExtend(ctx, e.cfg.LockKey, e.cfg.InstanceID, ttlSec)
	switch {
	case err != nil:
		e.heartbeatFailure(ctx, err)
	case !renewed:
		// Clean "not owner" answer: someone else holds the lease now.
		e.demote(ctx, events.AlertLeaderLost, events.SeverityWarning, "lease renewal rejected, ownership lost")
	default:
		e.mu.Lock()
		e.failures = 0
		e.mu.Unlock()
	}
}

// heartbeatFailure counts consecutive renewal errors and self-demotes once
// the budget is exhausted.
func (e *Elector) heartbeatFailure(ctx context.Context, err error) {
	e.mu.Lock()
	e.failures++
	failures := e.failures
	leading := e.isLeader
	e.mu.Unlock()

	e.cfg.Logger.WarnContext(ctx, "heartbeat failure",
		"consecutive", failures, "max", e.cfg.MaxHeartbeatFailures, "error", err)
	e.alert(events.AlertLeaderHeartbeatFailure, events.SeverityWarning,
		"lease heartbeat failed", map[string]any{"consecutive": failures})

	if leading && failures >= e.cfg.MaxHeartbeatFailures {
		e.demote(ctx, events.AlertLeaderDemotion, events.SeverityCritical,
			"self-demoting after consecutive heartbeat failures")
	}
}

func (e *Elector) becomeLeader(ctx context.Context) {
	e.mu.Lock()
	already := e.isLeader
	e.isLeader = true
	e.failures = 0
	e.mu.Unlock()
	if already {
		return
	}
	e.cfg.Logger.InfoContext(ctx, "acquired leadership", "lock", e.cfg.LockKey)
	e.alert(events.AlertLeaderAcquired, events.SeverityInfo, "leadership acquired", nil)
	e.notifyChange(ctx, true)
}

func (e *Elector) demote(ctx context.Context, kind, severity, message string) {
	e.mu.Lock()
	wasLeader := e.isLeader
	e.isLeader = false
	e.failures = 0
	e.mu.Unlock()
	if !wasLeader {
		return
	}
	e.cfg.Logger.WarnContext(ctx, "demoted to follower", "reason", message)
	e.alert(kind, severity, message, nil)
	e.notifyChange(ctx, false)
}

func (e *Elector) notifyChange(ctx context.Context, isLeader bool) {
	if e.cfg.OnLeadershipChange == nil {
		return
	}
	e.cfg.OnLeadershipChange(isLeader)
}

// release atomically deletes the lease if this instance still owns it.
func (e *Elector) release(ctx context.Context) {
	e.mu.Lock()
	wasLeader := e.isLeader
	e.isLeader = false
	e.mu.Unlock()

	deleted, err := e.cfg.Backend.CompareAndDelete(ctx, e.cfg.LockKey, e.cfg.InstanceID)
	if err != nil {
		e.cfg.Logger.WarnContext(ctx, "lease release failed", "error", err)
		return
	}
	if wasLeader {
		if deleted {
			e.cfg.Logger.InfoContext(ctx, "released leadership", "lock", e.cfg.LockKey)
		}
		e.notifyChange(ctx, false)
	}
}

func (e *Elector) alert(kind, severity, message string, data map[string]any) {
	if e.cfg.OnAlert == nil {
		return
	}
	e.cfg.OnAlert(events.LeadershipAlert{
		Type:      kind,
		Severity:  severity,
		Message:   message,
		Data:      data,
		Timestamp: e.cfg.Clock.Now().UnixMilli(),
	})
}
