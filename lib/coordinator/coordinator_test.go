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

package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sonicx222/arbitrage-new-sub013/lib/defaults"
	"github.com/sonicx222/arbitrage-new-sub013/lib/events"
	"github.com/sonicx222/arbitrage-new-sub013/lib/leader"
	"github.com/sonicx222/arbitrage-new-sub013/lib/streams"
)

// fakeInspector scripts fleet state for scan tests.
type fakeInspector struct {
	mu      sync.Mutex
	lens    map[string]int64
	groups  map[string][]streams.GroupInfo
	pending map[string][]streams.PendingEntry
}

func (f *fakeInspector) Len(ctx context.Context, stream string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lens[stream], nil
}

func (f *fakeInspector) Groups(ctx context.Context, stream string) ([]streams.GroupInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groups[stream], nil
}

func (f *fakeInspector) ListPending(ctx context.Context, stream, group string, minIdle time.Duration, count int64) ([]streams.PendingEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[stream+"|"+group], nil
}

func (f *fakeInspector) set(mutate func(*fakeInspector)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mutate(f)
}

// fakePublisher records published payloads per stream.
type fakePublisher struct {
	mu        sync.Mutex
	published map[string][]any
}

func (f *fakePublisher) Publish(ctx context.Context, stream string, payload any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.published == nil {
		f.published = make(map[string][]any)
	}
	f.published[stream] = append(f.published[stream], payload)
	return "1-0", nil
}

func (f *fakePublisher) on(stream string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.published[stream]...)
}

func newTestElector(t *testing.T, standby bool) *leader.Elector {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	e, err := leader.NewElector(leader.ElectorConfig{
		Backend:           streams.NewClient(rdb),
		LockKey:           "lock:deployment-leader",
		InstanceID:        "coord-1",
		LockTTL:           30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		CanBecomeLeader:   true,
		IsStandby:         standby,
	})
	require.NoError(t, err)
	return e
}

type testCoordinator struct {
	*Coordinator
	inspector *fakeInspector
	publisher *fakePublisher
	elector   *leader.Elector
	clock     *clockwork.FakeClock
}

func newTestCoordinator(t *testing.T, standby bool, mutate func(*Config)) *testCoordinator {
	t.Helper()
	inspector := &fakeInspector{
		lens:    map[string]int64{},
		groups:  map[string][]streams.GroupInfo{},
		pending: map[string][]streams.PendingEntry{},
	}
	publisher := &fakePublisher{}
	elector := newTestElector(t, standby)
	activation, err := leader.NewActivationManager(leader.ActivationConfig{Elector: elector})
	require.NoError(t, err)
	clock := clockwork.NewFakeClock()

	cfg := Config{
		Inspector:  inspector,
		Publisher:  publisher,
		Elector:    elector,
		Activation: activation,
		RegionID:   "us-east",
		InstanceID: "coord-1",
		Streams:    []string{"stream:a"},
		Clock:      clock,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return &testCoordinator{
		Coordinator: c,
		inspector:   inspector,
		publisher:   publisher,
		elector:     elector,
		clock:       clock,
	}
}

func kinds(findings []Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Kind)
	}
	return out
}

func TestScanHealthyFleet(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, false, nil)
	c.inspector.set(func(f *fakeInspector) {
		f.lens["stream:a"] = 10
		f.groups["stream:a"] = []streams.GroupInfo{{Name: "g", Consumers: 2, Pending: 0, Lag: 5}}
	})

	findings, err := c.Scan(ctx)
	require.NoError(t, err)
	require.Empty(t, findings)

	reports := c.publisher.on(defaults.StreamServiceHealth)
	require.Len(t, reports, 1)
	report := reports[0].(HealthReport)
	require.Equal(t, "us-east", report.RegionID)
	require.Zero(t, report.Critical)
}

func TestScanClassifications(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, false, nil)
	c.inspector.set(func(f *fakeInspector) {
		f.lens["stream:a"] = 60000
		f.groups["stream:a"] = []streams.GroupInfo{
			{Name: "dead", Consumers: 0, Pending: 5},
			{Name: "lagging", Consumers: 1, Pending: 1, Lag: 500},
		}
		f.pending["stream:a|dead"] = []streams.PendingEntry{
			{ID: "1-0", Idle: time.Minute, DeliveryCount: 5},
		}
		f.pending["stream:a|lagging"] = []streams.PendingEntry{
			{ID: "2-0", Idle: time.Second, DeliveryCount: 1},
		}
	})

	findings, err := c.Scan(ctx)
	require.NoError(t, err)
	got := kinds(findings)
	require.Contains(t, got, FindingUnboundedStream)
	require.Contains(t, got, FindingDeadConsumer)
	require.Contains(t, got, FindingConsumerLag)
	require.Contains(t, got, FindingStuckMessage)
	require.Contains(t, got, FindingDeliveryFailure)
	require.NotContains(t, got, FindingNoConsumerGroup)

	for _, f := range findings {
		switch f.Kind {
		case FindingDeadConsumer, FindingConsumerLag:
			require.Equal(t, SeverityCritical, f.Severity)
		case FindingUnboundedStream:
			require.Equal(t, SeverityMedium, f.Severity)
		default:
			require.Equal(t, SeverityHigh, f.Severity)
		}
	}
}

func TestScanNoConsumerGroup(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, false, nil)
	c.inspector.set(func(f *fakeInspector) { f.lens["stream:a"] = 5 })

	findings, err := c.Scan(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{FindingNoConsumerGroup}, kinds(findings))
	require.Equal(t, SeverityMedium, findings[0].Severity)
}

func TestStreamGrowingBetweenScans(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, false, nil)
	c.inspector.set(func(f *fakeInspector) {
		f.lens["stream:a"] = 100
		f.groups["stream:a"] = []streams.GroupInfo{{Name: "g", Consumers: 1}}
	})

	findings, err := c.Scan(ctx)
	require.NoError(t, err)
	require.Empty(t, findings, "first scan only primes the baseline")

	c.inspector.set(func(f *fakeInspector) { f.lens["stream:a"] = 300 })
	findings, err = c.Scan(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{FindingStreamGrowing}, kinds(findings))
	require.Equal(t, int64(200), findings[0].Value)
}

func TestMissingAckRequiresNonDecreasingPending(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, false, nil)
	c.inspector.set(func(f *fakeInspector) {
		f.groups["stream:a"] = []streams.GroupInfo{{Name: "g", Consumers: 1, Pending: 50}}
	})

	findings, err := c.Scan(ctx)
	require.NoError(t, err)
	require.Empty(t, findings, "first scan has no prior to compare against")

	// Pending held steady: acks are missing.
	findings, err = c.Scan(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{FindingMissingAck}, kinds(findings))

	// Pending decreasing: the group is catching up.
	c.inspector.set(func(f *fakeInspector) {
		f.groups["stream:a"] = []streams.GroupInfo{{Name: "g", Consumers: 1, Pending: 20}}
	})
	findings, err = c.Scan(ctx)
	require.NoError(t, err)
	require.Empty(t, findings)
}

func TestSustainedCriticalPublishesFailover(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, false, nil)
	require.True(t, c.elector.TryAcquire(ctx))

	c.inspector.set(func(f *fakeInspector) {
		f.groups["stream:a"] = []streams.GroupInfo{{Name: "dead", Consumers: 0, Pending: 5}}
	})

	_, err := c.Scan(ctx)
	require.NoError(t, err)
	require.Empty(t, c.publisher.on(defaults.StreamSystemFailover), "window not yet elapsed")

	c.clock.Advance(46 * time.Second)
	_, err = c.Scan(ctx)
	require.NoError(t, err)

	signals := c.publisher.on(defaults.StreamSystemFailover)
	require.Len(t, signals, 1)
	alert := signals[0].(events.LeadershipAlert)
	require.Equal(t, events.AlertLeaderLost, alert.Type)
	require.Equal(t, events.SeverityCritical, alert.Severity)
	require.Equal(t, "us-east", alert.Data["regionId"])
}

func TestRecoveryResetsEscalationWindow(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, false, nil)
	require.True(t, c.elector.TryAcquire(ctx))

	c.inspector.set(func(f *fakeInspector) {
		f.groups["stream:a"] = []streams.GroupInfo{{Name: "dead", Consumers: 0, Pending: 5}}
	})
	_, err := c.Scan(ctx)
	require.NoError(t, err)

	// Fleet recovers, then goes critical again: the window restarts.
	c.inspector.set(func(f *fakeInspector) {
		f.groups["stream:a"] = []streams.GroupInfo{{Name: "dead", Consumers: 1, Pending: 0}}
	})
	_, err = c.Scan(ctx)
	require.NoError(t, err)

	c.clock.Advance(46 * time.Second)
	c.inspector.set(func(f *fakeInspector) {
		f.groups["stream:a"] = []streams.GroupInfo{{Name: "dead", Consumers: 0, Pending: 5}}
	})
	_, err = c.Scan(ctx)
	require.NoError(t, err)
	require.Empty(t, c.publisher.on(defaults.StreamSystemFailover))
}

func TestNonLeaderDoesNotEscalate(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, false, nil)

	c.inspector.set(func(f *fakeInspector) {
		f.groups["stream:a"] = []streams.GroupInfo{{Name: "dead", Consumers: 0, Pending: 5}}
	})
	_, err := c.Scan(ctx)
	require.NoError(t, err)
	c.clock.Advance(46 * time.Second)
	_, err = c.Scan(ctx)
	require.NoError(t, err)
	require.Empty(t, c.publisher.on(defaults.StreamSystemFailover))
}

func failoverEntry(t *testing.T, alert events.LeadershipAlert) streams.Entry {
	t.Helper()
	fields, err := events.Marshal(alert)
	require.NoError(t, err)
	return streams.Entry{ID: "1-0", Fields: fields}
}

func TestFailoverHandlerActivatesStandby(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, true, nil)
	handler := c.FailoverHandler()

	err := handler(ctx, failoverEntry(t, events.LeadershipAlert{
		Type:     events.AlertLeaderLost,
		Severity: events.SeverityCritical,
		Data:     map[string]any{"regionId": "eu-west"},
	}))
	require.NoError(t, err)
	require.True(t, c.elector.IsLeader())
}

func TestFailoverHandlerIgnoresOwnRegion(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, true, nil)
	handler := c.FailoverHandler()

	err := handler(ctx, failoverEntry(t, events.LeadershipAlert{
		Type: events.AlertLeaderLost,
		Data: map[string]any{"regionId": "us-east"},
	}))
	require.NoError(t, err)
	require.False(t, c.elector.IsLeader())
}

func TestFailoverHandlerIgnoresInfoAlerts(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, true, nil)
	handler := c.FailoverHandler()

	err := handler(ctx, failoverEntry(t, events.LeadershipAlert{
		Type: events.AlertLeaderAcquired,
		Data: map[string]any{"regionId": "eu-west"},
	}))
	require.NoError(t, err)
	require.False(t, c.elector.IsLeader())
}
