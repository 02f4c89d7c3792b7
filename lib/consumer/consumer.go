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

// Package consumer runs consumer-group dispatch loops over the platform
// streams. Delivery is at-least-once and handlers must be idempotent: an
// entry is acknowledged only after its handler returns, transient failures
// leave it pending for a later claim sweep, and entries that cannot ever
// succeed are preserved on the dead letter queue before acknowledgement.
package consumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/sonicx222/arbitrage-new-sub013/lib/defaults"
	"github.com/sonicx222/arbitrage-new-sub013/lib/events"
	"github.com/sonicx222/arbitrage-new-sub013/lib/streams"
	"github.com/sonicx222/arbitrage-new-sub013/lib/utils"
)

// Handler processes one stream entry. Returning nil acknowledges the entry.
// A PermanentError routes it to the DLQ and acknowledges it. Any other
// error leaves it in the PEL for redelivery.
type Handler func(ctx context.Context, entry streams.Entry) error

// Subscription binds one handler to a (stream, group) cursor.
type Subscription struct {
	// Stream is the stream to consume.
	Stream string
	// Group is the consumer group name.
	Group string
	// Handler receives each delivered entry.
	Handler Handler
}

// GrowthFinding reports a stream whose length crossed a sizing threshold
// during the periodic observation that rides the claim sweep.
type GrowthFinding struct {
	Stream string
	Kind   string
	Length int64
	Delta  int64
}

// Stream growth finding kinds.
const (
	FindingStreamGrowing   = "STREAM_GROWING"
	FindingUnboundedStream = "UNBOUNDED_STREAM"
)

// Config configures a Runtime.
type Config struct {
	// Client is the stream transport.
	Client *streams.Client
	// Service names the consuming service in DLQ entries.
	Service string
	// InstanceID identifies this instance; it doubles as the consumer name
	// within each group.
	InstanceID string
	// Subscriptions lists the (stream, group, handler) bindings to run.
	Subscriptions []Subscription
	// BatchSize is the XREADGROUP COUNT per iteration.
	BatchSize int64
	// Block is how long a group read blocks waiting for new entries.
	Block time.Duration
	// ClaimIdle is the idle threshold for reclaiming pending entries.
	ClaimIdle time.Duration
	// ClaimInterval is the cadence of the claim sweep.
	ClaimInterval time.Duration
	// MaxDeliveries is the delivery count past which an entry goes to DLQ.
	MaxDeliveries int64
	// ShutdownTimeout bounds the drain of in-flight handlers on Stop.
	ShutdownTimeout time.Duration
	// DLQStream overrides the dead letter queue stream. Test hook.
	DLQStream string
	// OnGrowthFinding receives stream sizing findings. Optional.
	OnGrowthFinding func(GrowthFinding)
	// Clock is the time source, swappable in tests.
	Clock clockwork.Clock
	// Logger is the runtime's structured logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Client == nil {
		return trace.BadParameter("missing parameter Client")
	}
	if c.InstanceID == "" {
		return trace.BadParameter("missing parameter InstanceID")
	}
	if len(c.Subscriptions) == 0 {
		return trace.BadParameter("missing parameter Subscriptions")
	}
	for _, sub := range c.Subscriptions {
		if sub.Stream == "" || sub.Group == "" || sub.Handler == nil {
			return trace.BadParameter("subscription requires Stream, Group and Handler")
		}
	}
	if c.Service == "" {
		c.Service = "detector"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.ConsumerBatchSize
	}
	if c.Block <= 0 {
		c.Block = defaults.ConsumerBlock
	}
	if c.ClaimIdle <= 0 {
		c.ClaimIdle = defaults.ClaimIdle
	}
	if c.ClaimInterval <= 0 {
		c.ClaimInterval = defaults.ClaimInterval
	}
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = defaults.MaxDeliveries
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if c.DLQStream == "" {
		c.DLQStream = defaults.StreamDeadLetterQueue
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With("component", "stream-consumer")
	}
	return nil
}

// Runtime drives the dispatch and claim loops for a set of subscriptions.
type Runtime struct {
	cfg    Config
	jitter utils.Jitter

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	lastLens map[string]int64
}

// NewRuntime returns an unstarted Runtime.
func NewRuntime(cfg Config) (*Runtime, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Runtime{
		cfg:      cfg,
		jitter:   utils.NewHalfJitter(),
		lastLens: make(map[string]int64),
	}, nil
}

// Start creates the consumer groups and launches the dispatch and claim
// loops. Safe to call once; later calls are no-ops.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	for _, sub := range r.cfg.Subscriptions {
		if err := r.cfg.Client.EnsureGroup(ctx, sub.Stream, sub.Group); err != nil {
			return trace.Wrap(err)
		}
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.done = make(chan struct{})
	r.started = true

	var wg sync.WaitGroup
	for _, sub := range r.cfg.Subscriptions {
		wg.Add(2)
		go func(sub Subscription) {
			defer wg.Done()
			r.readLoop(loopCtx, sub)
		}(sub)
		go func(sub Subscription) {
			defer wg.Done()
			r.claimLoop(loopCtx, sub)
		}(sub)
	}
	go func(done chan struct{}) {
		wg.Wait()
		close(done)
	}(r.done)

	r.cfg.Logger.InfoContext(ctx, "consumer runtime started",
		"subscriptions", len(r.cfg.Subscriptions), "consumer", r.cfg.InstanceID)
	return nil
}

// Stop cancels the loops and waits for in-flight handlers to drain, up to
// the shutdown timeout.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-r.cfg.Clock.After(r.cfg.ShutdownTimeout):
		r.cfg.Logger.Warn("consumer runtime drain timed out",
			"timeout", r.cfg.ShutdownTimeout)
	}
}

func (r *Runtime) readLoop(ctx context.Context, sub Subscription) {
	logger := r.cfg.Logger.With("stream", sub.Stream, "group", sub.Group)
	for {
		if ctx.Err() != nil {
			return
		}
		entries, err := r.cfg.Client.ReadGroup(ctx, sub.Stream, sub.Group, r.cfg.InstanceID, r.cfg.BatchSize, r.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WarnContext(ctx, "group read failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-r.cfg.Clock.After(time.Second):
			}
			continue
		}
		for _, entry := range entries {
			r.dispatch(ctx, sub, entry, logger)
		}
	}
}

// dispatch validates and handles one entry, then settles it: ack on
// success, DLQ plus ack on permanent failure, untouched PEL on transient
// failure.
func (r *Runtime) dispatch(ctx context.Context, sub Subscription, entry streams.Entry, logger *slog.Logger) {
	if err := validate(entry); err != nil {
		logger.WarnContext(ctx, "entry failed validation", "id", entry.ID, "error", err)
		r.toDLQ(ctx, sub, entry, err, logger)
		return
	}
	if err := sub.Handler(ctx, entry); err != nil {
		if IsPermanent(err) {
			logger.WarnContext(ctx, "handler failed permanently", "id", entry.ID, "error", err)
			r.toDLQ(ctx, sub, entry, err, logger)
			return
		}
		// Transient. The entry stays in the PEL and the claim sweep
		// redelivers it after the idle threshold.
		logger.DebugContext(ctx, "handler failed, leaving entry pending", "id", entry.ID, "error", err)
		return
	}
	if _, err := r.cfg.Client.Ack(ctx, sub.Stream, sub.Group, entry.ID); err != nil {
		logger.WarnContext(ctx, "ack failed", "id", entry.ID, "error", err)
	}
	messagesProcessed.WithLabelValues(sub.Stream, sub.Group).Inc()
}

// validate enforces the envelope shape shared by every platform stream:
// a single "data" field carrying a JSON object.
func validate(entry streams.Entry) error {
	if entry.ID == "" {
		return Permanentf(CodeValMissingID, "entry has no id")
	}
	raw, ok := entry.Fields["data"].(string)
	if !ok || raw == "" {
		return Permanentf(CodeValBadShape, "entry %v has no data field", entry.ID)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Permanentf(CodeValBadShape, "entry %v carries invalid JSON: %v", entry.ID, err)
	}
	return nil
}

// toDLQ preserves the raw payload on the dead letter queue and
// acknowledges the original so it is not redelivered.
func (r *Runtime) toDLQ(ctx context.Context, sub Subscription, entry streams.Entry, cause error, logger *slog.Logger) {
	raw, _ := entry.Fields["data"].(string)

	dlq := events.DLQEntry{
		OriginalMessageID: entry.ID,
		OriginalStream:    sub.Stream,
		Error:             formatDLQError(cause),
		Timestamp:         r.cfg.Clock.Now().UnixMilli(),
		Service:           r.cfg.Service,
		InstanceID:        r.cfg.InstanceID,
		OriginalPayload:   raw,
	}
	if raw != "" {
		var payload struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		}
		if json.Unmarshal([]byte(raw), &payload) == nil {
			dlq.OpportunityID = payload.ID
			dlq.OpportunityType = payload.Type
		}
	}

	fields, err := events.Marshal(dlq)
	if err != nil {
		logger.ErrorContext(ctx, "failed to encode DLQ entry", "id", entry.ID, "error", err)
		return
	}
	if _, err := r.cfg.Client.Append(ctx, r.cfg.DLQStream, fields, defaults.StreamMaxLen); err != nil {
		// Keep the original pending rather than lose it.
		logger.ErrorContext(ctx, "failed to append DLQ entry", "id", entry.ID, "error", err)
		return
	}
	if _, err := r.cfg.Client.Ack(ctx, sub.Stream, sub.Group, entry.ID); err != nil {
		logger.WarnContext(ctx, "ack after DLQ routing failed", "id", entry.ID, "error", err)
	}
	dlqRouted.WithLabelValues(sub.Stream, errorCode(cause)).Inc()
}

// formatDLQError renders the bracketed code followed by the message, the
// shape the supervisor's tally expects.
func formatDLQError(err error) string {
	if IsPermanent(err) {
		return err.Error()
	}
	return "[" + CodeUnknown + "] " + err.Error()
}

// claimLoop runs the sweep on a half-jittered cadence so a fleet sharing
// one group does not claim in lockstep.
func (r *Runtime) claimLoop(ctx context.Context, sub Subscription) {
	logger := r.cfg.Logger.With("stream", sub.Stream, "group", sub.Group)
	for {
		timer := r.cfg.Clock.NewTimer(r.jitter(r.cfg.ClaimInterval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}
		r.claimSweep(ctx, sub, logger)
		r.observeGrowth(ctx, sub.Stream, logger)
	}
}

// claimSweep reassigns stale pending entries to this consumer and retries
// them; entries past the delivery budget go to the DLQ instead.
func (r *Runtime) claimSweep(ctx context.Context, sub Subscription, logger *slog.Logger) {
	pending, err := r.cfg.Client.ListPending(ctx, sub.Stream, sub.Group, r.cfg.ClaimIdle, r.cfg.BatchSize)
	if err != nil {
		logger.WarnContext(ctx, "pending list failed", "error", err)
		return
	}
	for _, p := range pending {
		claimed, err := r.cfg.Client.Claim(ctx, sub.Stream, sub.Group, r.cfg.InstanceID, r.cfg.ClaimIdle, p.ID)
		if err != nil {
			logger.WarnContext(ctx, "claim failed", "id", p.ID, "error", err)
			continue
		}
		for _, entry := range claimed {
			if p.DeliveryCount > r.cfg.MaxDeliveries {
				logger.WarnContext(ctx, "entry exhausted delivery budget",
					"id", entry.ID, "deliveries", p.DeliveryCount)
				r.toDLQ(ctx, sub, entry, Permanentf(CodeErrHandlerFatal,
					"delivery count %v exceeds limit %v", p.DeliveryCount, r.cfg.MaxDeliveries), logger)
				continue
			}
			r.dispatch(ctx, sub, entry, logger)
		}
	}
}

// observeGrowth tracks stream length across sweeps and reports streams
// that grow faster than producers should allow or that exceeded the
// absolute bound.
func (r *Runtime) observeGrowth(ctx context.Context, stream string, logger *slog.Logger) {
	n, err := r.cfg.Client.Len(ctx, stream)
	if err != nil {
		logger.WarnContext(ctx, "stream length read failed", "error", err)
		return
	}

	r.mu.Lock()
	last, seen := r.lastLens[stream]
	r.lastLens[stream] = n
	r.mu.Unlock()

	var finding *GrowthFinding
	switch {
	case n > defaults.UnboundedStreamLength:
		finding = &GrowthFinding{Stream: stream, Kind: FindingUnboundedStream, Length: n}
	case seen && n-last > defaults.StreamGrowthDelta:
		finding = &GrowthFinding{Stream: stream, Kind: FindingStreamGrowing, Length: n, Delta: n - last}
	}
	if finding == nil {
		return
	}
	logger.WarnContext(ctx, "stream growth threshold crossed",
		"finding", finding.Kind, "length", finding.Length, "delta", finding.Delta)
	if r.cfg.OnGrowthFinding != nil {
		r.cfg.OnGrowthFinding(*finding)
	}
}
