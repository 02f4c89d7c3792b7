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

// Package coordinator supervises the fleet. It owns the leadership elector
// and the standby activation manager, runs the periodic fleet-health scan
// over the platform streams, and drives cross-region failover: sustained
// critical findings in the primary publish a failover signal that standby
// regions react to by promoting themselves.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/sonicx222/arbitrage-new-sub013/lib/consumer"
	"github.com/sonicx222/arbitrage-new-sub013/lib/defaults"
	"github.com/sonicx222/arbitrage-new-sub013/lib/events"
	"github.com/sonicx222/arbitrage-new-sub013/lib/leader"
	"github.com/sonicx222/arbitrage-new-sub013/lib/streams"
)

// Inspector is the read side of the fleet-health scan, satisfied by
// streams.Client.
type Inspector interface {
	Len(ctx context.Context, stream string) (int64, error)
	Groups(ctx context.Context, stream string) ([]streams.GroupInfo, error)
	ListPending(ctx context.Context, stream, group string, minIdle time.Duration, count int64) ([]streams.PendingEntry, error)
}

// Publisher is the outbound side, satisfied by streams.Producer.
type Publisher interface {
	Publish(ctx context.Context, stream string, payload any) (string, error)
}

// Finding kinds emitted by the fleet-health scan.
const (
	FindingNoConsumerGroup = "NO_CONSUMER_GROUP"
	FindingUnboundedStream = "UNBOUNDED_STREAM"
	FindingStreamGrowing   = "STREAM_GROWING"
	FindingDeadConsumer    = "DEAD_CONSUMER"
	FindingConsumerLag     = "CONSUMER_LAG"
	FindingMissingAck      = "MISSING_ACK"
	FindingStuckMessage    = "STUCK_MESSAGE"
	FindingDeliveryFailure = "DELIVERY_FAILURE"
)

// Finding severities.
const (
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// Finding is one classified fleet-health observation.
type Finding struct {
	Stream   string `json:"stream"`
	Group    string `json:"group,omitempty"`
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Value    int64  `json:"value,omitempty"`
	EntryID  string `json:"entryId,omitempty"`
}

// HealthReport is the per-scan summary published on stream:service-health.
type HealthReport struct {
	RegionID   string    `json:"regionId"`
	InstanceID string    `json:"instanceId"`
	Findings   []Finding `json:"findings"`
	Critical   int       `json:"critical"`
	Timestamp  int64     `json:"timestamp"`
}

// Config configures a Coordinator.
type Config struct {
	// Inspector reads fleet state.
	Inspector Inspector
	// Publisher emits health and failover events.
	Publisher Publisher
	// Elector is this instance's election engine.
	Elector *leader.Elector
	// Activation promotes this instance when a failover signal arrives.
	Activation *leader.ActivationManager
	// RegionID names the region in health reports.
	RegionID string
	// InstanceID names this instance in health reports.
	InstanceID string
	// Streams lists the streams the scan walks.
	Streams []string
	// ScanInterval is the fleet scan cadence.
	ScanInterval time.Duration
	// FailoverTimeout is how long critical findings must persist before a
	// failover signal is published. Partition-specific.
	FailoverTimeout time.Duration
	// Clock is the time source, swappable in tests.
	Clock clockwork.Clock
	// Logger is the coordinator's structured logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Inspector == nil {
		return trace.BadParameter("missing parameter Inspector")
	}
	if c.Publisher == nil {
		return trace.BadParameter("missing parameter Publisher")
	}
	if c.Elector == nil {
		return trace.BadParameter("missing parameter Elector")
	}
	if c.Activation == nil {
		return trace.BadParameter("missing parameter Activation")
	}
	if c.InstanceID == "" {
		return trace.BadParameter("missing parameter InstanceID")
	}
	if c.RegionID == "" {
		c.RegionID = "primary"
	}
	if len(c.Streams) == 0 {
		c.Streams = defaults.ExpectedStreams
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = defaults.HealthScanInterval
	}
	if c.FailoverTimeout <= 0 {
		c.FailoverTimeout = 45 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With("component", "coordinator")
	}
	return nil
}

// Coordinator runs the fleet-health scan and failover signalling.
type Coordinator struct {
	cfg Config

	mu            sync.Mutex
	lastLens      map[string]int64
	lastPending   map[string]int64
	criticalSince time.Time
	started       bool
	cancel        context.CancelFunc
	done          chan struct{}
}

// New returns an unstarted Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Coordinator{
		cfg:         cfg,
		lastLens:    make(map[string]int64),
		lastPending: make(map[string]int64),
	}, nil
}

// Start launches the elector and the scan loop. Safe to call once; later
// calls are no-ops.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.cfg.Elector.Start(ctx)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	c.started = true
	go c.run(loopCtx, c.done)

	c.cfg.Logger.InfoContext(ctx, "coordinator started",
		"region", c.cfg.RegionID, "interval", c.cfg.ScanInterval)
}

// Stop halts the scan loop and the elector.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
	c.cfg.Elector.Stop()
}

func (c *Coordinator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := c.cfg.Clock.NewTicker(c.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := c.Scan(ctx); err != nil {
				c.cfg.Logger.WarnContext(ctx, "fleet scan failed", "error", err)
			}
		}
	}
}

// Scan walks the expected streams, classifies findings, publishes a health
// report and escalates sustained critical state to a failover signal.
func (c *Coordinator) Scan(ctx context.Context) ([]Finding, error) {
	var findings []Finding
	for _, stream := range c.cfg.Streams {
		f, err := c.scanStream(ctx, stream)
		if err != nil {
			c.cfg.Logger.WarnContext(ctx, "stream scan failed", "stream", stream, "error", err)
			continue
		}
		findings = append(findings, f...)
	}

	critical := 0
	for _, f := range findings {
		if f.Severity == SeverityCritical {
			critical++
		}
	}
	c.publishReport(ctx, findings, critical)
	c.escalate(ctx, critical)
	return findings, nil
}

func (c *Coordinator) scanStream(ctx context.Context, stream string) ([]Finding, error) {
	length, err := c.cfg.Inspector.Len(ctx, stream)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	groups, err := c.cfg.Inspector.Groups(ctx, stream)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var findings []Finding

	if length > 0 && len(groups) == 0 {
		findings = append(findings, Finding{
			Stream: stream, Kind: FindingNoConsumerGroup, Severity: SeverityMedium, Value: length,
		})
	}
	if length > defaults.UnboundedStreamLength {
		findings = append(findings, Finding{
			Stream: stream, Kind: FindingUnboundedStream, Severity: SeverityMedium, Value: length,
		})
	}

	c.mu.Lock()
	last, seen := c.lastLens[stream]
	c.lastLens[stream] = length
	c.mu.Unlock()
	if seen && length-last > defaults.StreamGrowthDelta {
		findings = append(findings, Finding{
			Stream: stream, Kind: FindingStreamGrowing, Severity: SeverityHigh, Value: length - last,
		})
	}

	for _, g := range groups {
		findings = append(findings, c.scanGroup(ctx, stream, g)...)
	}
	return findings, nil
}

func (c *Coordinator) scanGroup(ctx context.Context, stream string, g streams.GroupInfo) []Finding {
	var findings []Finding

	if g.Pending > 0 && g.Consumers == 0 {
		findings = append(findings, Finding{
			Stream: stream, Group: g.Name, Kind: FindingDeadConsumer,
			Severity: SeverityCritical, Value: g.Pending,
		})
	}
	if g.Lag > defaults.ConsumerLagThreshold {
		findings = append(findings, Finding{
			Stream: stream, Group: g.Name, Kind: FindingConsumerLag,
			Severity: SeverityCritical, Value: g.Lag,
		})
	}

	pendingKey := stream + "|" + g.Name
	c.mu.Lock()
	lastPending, seen := c.lastPending[pendingKey]
	c.lastPending[pendingKey] = g.Pending
	c.mu.Unlock()
	if g.Pending > defaults.MissingAckPending && seen && g.Pending >= lastPending {
		findings = append(findings, Finding{
			Stream: stream, Group: g.Name, Kind: FindingMissingAck,
			Severity: SeverityHigh, Value: g.Pending,
		})
	}

	if g.Pending == 0 {
		return findings
	}
	entries, err := c.cfg.Inspector.ListPending(ctx, stream, g.Name, 0, defaults.DLQMaxMessagesPerScan)
	if err != nil {
		c.cfg.Logger.WarnContext(ctx, "pending inspection failed",
			"stream", stream, "group", g.Name, "error", err)
		return findings
	}
	for _, p := range entries {
		if p.Idle > defaults.StuckMessageIdle {
			findings = append(findings, Finding{
				Stream: stream, Group: g.Name, Kind: FindingStuckMessage,
				Severity: SeverityHigh, Value: int64(p.Idle / time.Millisecond), EntryID: p.ID,
			})
		}
		if p.DeliveryCount > defaults.MaxDeliveries {
			findings = append(findings, Finding{
				Stream: stream, Group: g.Name, Kind: FindingDeliveryFailure,
				Severity: SeverityHigh, Value: p.DeliveryCount, EntryID: p.ID,
			})
		}
	}
	return findings
}

func (c *Coordinator) publishReport(ctx context.Context, findings []Finding, critical int) {
	report := HealthReport{
		RegionID:   c.cfg.RegionID,
		InstanceID: c.cfg.InstanceID,
		Findings:   findings,
		Critical:   critical,
		Timestamp:  c.cfg.Clock.Now().UnixMilli(),
	}
	if _, err := c.cfg.Publisher.Publish(ctx, defaults.StreamServiceHealth, report); err != nil {
		c.cfg.Logger.WarnContext(ctx, "failed to publish health report", "error", err)
	}
	findingsGauge.Set(float64(len(findings)))
	criticalGauge.Set(float64(critical))
}

// escalate tracks how long the fleet has been critical and publishes a
// failover signal once the window elapses. Only the leader escalates:
// standby regions consume the signal instead of producing it.
func (c *Coordinator) escalate(ctx context.Context, critical int) {
	now := c.cfg.Clock.Now()

	c.mu.Lock()
	if critical == 0 {
		c.criticalSince = time.Time{}
		c.mu.Unlock()
		return
	}
	if c.criticalSince.IsZero() {
		c.criticalSince = now
		c.mu.Unlock()
		return
	}
	elapsed := now.Sub(c.criticalSince)
	if elapsed < c.cfg.FailoverTimeout {
		c.mu.Unlock()
		return
	}
	c.criticalSince = time.Time{}
	c.mu.Unlock()

	if !c.cfg.Elector.IsLeader() {
		return
	}

	alert := events.LeadershipAlert{
		Type:     events.AlertLeaderLost,
		Severity: events.SeverityCritical,
		Message:  "fleet critical beyond failover timeout",
		Data: map[string]any{
			"regionId":   c.cfg.RegionID,
			"instanceId": c.cfg.InstanceID,
			"criticalMs": elapsed.Milliseconds(),
		},
		Timestamp: now.UnixMilli(),
	}
	if _, err := c.cfg.Publisher.Publish(ctx, defaults.StreamSystemFailover, alert); err != nil {
		c.cfg.Logger.ErrorContext(ctx, "failed to publish failover signal", "error", err)
		return
	}
	failoversTotal.Inc()
	c.cfg.Logger.ErrorContext(ctx, "failover signal published",
		"region", c.cfg.RegionID, "critical_for", elapsed)
}

// FailoverHandler returns the consumer handler a standby region registers
// on stream:system-failover. A LEADER_LOST or LEADER_DEMOTION signal from
// another region promotes this instance.
func (c *Coordinator) FailoverHandler() consumer.Handler {
	return func(ctx context.Context, entry streams.Entry) error {
		var alert events.LeadershipAlert
		if err := events.Unmarshal(entry.Fields, &alert); err != nil {
			return consumer.Permanent(consumer.CodeValBadShape, err)
		}
		if alert.Type != events.AlertLeaderLost && alert.Type != events.AlertLeaderDemotion {
			return nil
		}
		if region, ok := alert.Data["regionId"].(string); ok && region == c.cfg.RegionID {
			// Our own signal; nothing to react to.
			return nil
		}
		if !c.cfg.Elector.IsStandby() {
			return nil
		}
		c.cfg.Logger.WarnContext(ctx, "failover signal received, activating standby",
			"alert", alert.Type, "from", alert.Data["regionId"])
		if c.cfg.Activation.ActivateStandby(ctx) {
			c.cfg.Logger.InfoContext(ctx, "standby promoted to leader", "region", c.cfg.RegionID)
		}
		return nil
	}
}
