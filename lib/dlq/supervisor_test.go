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

package dlq

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sonicx222/arbitrage-new-sub013/lib/defaults"
	"github.com/sonicx222/arbitrage-new-sub013/lib/events"
	"github.com/sonicx222/arbitrage-new-sub013/lib/streams"
)

func newTestSupervisor(t *testing.T, mutate func(*Config)) (*Supervisor, *streams.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	client := streams.NewClient(rdb)

	cfg := Config{Client: client}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewSupervisor(cfg)
	require.NoError(t, err)
	return s, client
}

func appendDLQ(t *testing.T, client *streams.Client, d events.DLQEntry) string {
	t.Helper()
	fields, err := events.Marshal(d)
	require.NoError(t, err)
	id, err := client.Append(context.Background(), defaults.StreamDeadLetterQueue, fields, 0)
	require.NoError(t, err)
	return id
}

func TestScanTalliesByCode(t *testing.T) {
	ctx := context.Background()
	s, client := newTestSupervisor(t, nil)

	appendDLQ(t, client, events.DLQEntry{Error: "[VAL_BAD_SHAPE] bad json", Timestamp: time.Now().Add(-time.Hour).UnixMilli()})
	appendDLQ(t, client, events.DLQEntry{Error: "[VAL_BAD_SHAPE] no data"})
	appendDLQ(t, client, events.DLQEntry{Error: "[ERR_NO_CHAIN] unknown chain"})
	appendDLQ(t, client, events.DLQEntry{Error: "plain message without code"})

	stats, err := s.Scan(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), stats.TotalMessages)
	require.Equal(t, int64(2), stats.ByErrorCode["VAL_BAD_SHAPE"])
	require.Equal(t, int64(1), stats.ByErrorCode["ERR_NO_CHAIN"])
	require.Equal(t, int64(1), stats.ByErrorCode["UNKNOWN"])
	require.InDelta(t, time.Hour, stats.OldestAge, float64(time.Minute))
	require.False(t, stats.LastScan.IsZero())

	// The snapshot is replaced atomically and reads back independent
	// copies.
	got := s.GetStats()
	require.Equal(t, stats.TotalMessages, got.TotalMessages)
	got.ByErrorCode["VAL_BAD_SHAPE"] = 99
	require.Equal(t, int64(2), s.GetStats().ByErrorCode["VAL_BAD_SHAPE"])
}

func TestScanEmptyQueue(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSupervisor(t, nil)

	stats, err := s.Scan(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.TotalMessages)
	require.Empty(t, stats.ByErrorCode)
	require.Zero(t, stats.OldestAge)
}

func TestReplayRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, client := newTestSupervisor(t, nil)

	original := map[string]any{
		"id":     "opp-7",
		"type":   "cross_chain",
		"profit": 42.5,
	}
	raw, err := json.Marshal(original)
	require.NoError(t, err)
	id := appendDLQ(t, client, events.DLQEntry{
		OriginalMessageID: "100-0",
		OriginalStream:    defaults.StreamOpportunities,
		Error:             "[ERR_HANDLER_FATAL] execution rejected",
		OriginalPayload:   string(raw),
	})

	require.True(t, s.Replay(ctx, id))

	entries, err := client.Range(ctx, defaults.StreamExecutionRequests, "-", "+", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var replayed map[string]any
	require.NoError(t, events.Unmarshal(entries[0].Fields, &replayed))

	// The replayed payload is the original plus the three replay markers.
	require.Equal(t, "opp-7", replayed["id"])
	require.Equal(t, "cross_chain", replayed["type"])
	require.Equal(t, 42.5, replayed["profit"])
	require.Equal(t, true, replayed["replayed"])
	require.Equal(t, "[ERR_HANDLER_FATAL] execution rejected", replayed["originalError"])
	require.NotNil(t, replayed["replayedAt"])
	require.Len(t, replayed, len(original)+3)
}

func TestReplayWithoutPayload(t *testing.T) {
	ctx := context.Background()
	s, client := newTestSupervisor(t, nil)

	id := appendDLQ(t, client, events.DLQEntry{
		OriginalMessageID: "100-0",
		Error:             "[VAL_BAD_SHAPE] no data field",
	})

	require.False(t, s.Replay(ctx, id))

	entries, err := client.Range(ctx, defaults.StreamExecutionRequests, "-", "+", 10)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestReplayInvalidPayload(t *testing.T) {
	ctx := context.Background()
	s, client := newTestSupervisor(t, nil)

	id := appendDLQ(t, client, events.DLQEntry{
		Error:           "[VAL_BAD_SHAPE] invalid",
		OriginalPayload: `{broken`,
	})

	require.False(t, s.Replay(ctx, id))
}

func TestReplayMissingTarget(t *testing.T) {
	ctx := context.Background()
	s, client := newTestSupervisor(t, nil)

	appendDLQ(t, client, events.DLQEntry{Error: "[UNKNOWN] x", OriginalPayload: "{}"})
	require.False(t, s.Replay(ctx, "999999-0"))
}

func TestReplayPaginatesToTarget(t *testing.T) {
	ctx := context.Background()
	// Page size 2 forces pagination across several XRANGE calls.
	s, client := newTestSupervisor(t, func(c *Config) { c.MaxMessagesPerScan = 2 })

	var lastID string
	for i := 0; i < 7; i++ {
		lastID = appendDLQ(t, client, events.DLQEntry{
			Error:           "[UNKNOWN] filler",
			OriginalPayload: `{"n":1}`,
		})
	}

	require.True(t, s.Replay(ctx, lastID))
}

func TestStartStopScansPeriodically(t *testing.T) {
	s, client := newTestSupervisor(t, func(c *Config) {
		c.ScanInterval = 10 * time.Millisecond
	})

	appendDLQ(t, client, events.DLQEntry{Error: "[ERR_NO_CHAIN] x"})

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return s.GetStats().TotalMessages == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNextID(t *testing.T) {
	require.Equal(t, "100-1", nextID("100-0"))
	require.Equal(t, "100-10", nextID("100-9"))
}
