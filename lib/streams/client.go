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

// Package streams is the transport layer over Redis Streams: append-only
// per-stream logs with consumer groups, pending-entry claims, and the atomic
// key primitives the leadership election engine builds on. Every method with
// compare semantics runs as a server-side script; no caller does
// read-then-write on shared keys.
package streams

import (
	"context"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/redis/go-redis/v9"
)

// Entry is a single immutable stream record.
type Entry struct {
	// ID is the server-assigned, monotonically increasing entry id.
	ID string
	// Fields is the field/value mapping carried by the entry.
	Fields map[string]any
}

// PendingEntry describes one delivered-but-unacknowledged entry in a
// consumer group's PEL.
type PendingEntry struct {
	ID            string
	Consumer      string
	Idle          time.Duration
	DeliveryCount int64
}

// GroupInfo summarizes a consumer group for fleet-health scans.
type GroupInfo struct {
	Name            string
	Consumers       int64
	Pending         int64
	Lag             int64
	LastDeliveredID string
}

// Client wraps a Redis connection with the stream and lease operations the
// platform core requires.
type Client struct {
	rdb redis.UniversalClient
}

// NewClient returns a Client over an established Redis connection.
func NewClient(rdb redis.UniversalClient) *Client {
	return &Client{rdb: rdb}
}

// Connect dials Redis at the given URL and verifies the connection.
func Connect(ctx context.Context, redisURL string) (*Client, error) {
	if redisURL == "" {
		return nil, trace.BadParameter("missing Redis URL")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, trace.Wrap(err, "parsing Redis URL")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, trace.ConnectionProblem(err, "connecting to Redis at %v", opts.Addr)
	}
	return &Client{rdb: rdb}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return trace.Wrap(c.rdb.Close())
}

// Redis exposes the underlying connection for callers that need raw access
// (tests, coordinator introspection).
func (c *Client) Redis() redis.UniversalClient {
	return c.rdb
}

// Append atomically appends fields to a stream, trimming it to roughly
// maxLen entries. A maxLen of 0 appends without trimming.
func (c *Client) Append(ctx context.Context, stream string, fields map[string]any, maxLen int64) (string, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: fields,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	id, err := c.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", trace.ConnectionProblem(err, "appending to %v", stream)
	}
	return id, nil
}

// EnsureGroup creates a consumer group reading from the beginning of the
// stream, creating the stream if needed. Racing creations are tolerated.
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return trace.ConnectionProblem(err, "creating group %v on %v", group, stream)
	}
	return nil
}

// ReadGroup reads up to count new entries for a consumer, blocking up to
// block. Returns no entries (and no error) when the block expires idle.
func (c *Client) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, trace.ConnectionProblem(err, "reading group %v on %v", group, stream)
	}
	var entries []Entry
	for _, s := range res {
		for _, m := range s.Messages {
			entries = append(entries, Entry{ID: m.ID, Fields: m.Values})
		}
	}
	return entries, nil
}

// Ack acknowledges delivered entries, removing them from the group's PEL.
// Acknowledging an already-acknowledged id is a no-op.
func (c *Client) Ack(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	n, err := c.rdb.XAck(ctx, stream, group, ids...).Result()
	if err != nil {
		return 0, trace.ConnectionProblem(err, "acking on %v", stream)
	}
	return n, nil
}

// ListPending returns up to count entries from the group's PEL that have
// been idle for at least minIdle.
func (c *Client) ListPending(ctx context.Context, stream, group string, minIdle time.Duration, count int64) ([]PendingEntry, error) {
	res, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, trace.ConnectionProblem(err, "listing pending on %v", stream)
	}
	entries := make([]PendingEntry, 0, len(res))
	for _, p := range res {
		entries = append(entries, PendingEntry{
			ID:            p.ID,
			Consumer:      p.Consumer,
			Idle:          p.Idle,
			DeliveryCount: p.RetryCount,
		})
	}
	return entries, nil
}

// Claim reassigns pending entries idle for at least minIdle to consumer and
// returns their payloads for reprocessing.
func (c *Client) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]Entry, error) {
	res, err := c.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, trace.ConnectionProblem(err, "claiming on %v", stream)
	}
	entries := make([]Entry, 0, len(res))
	for _, m := range res {
		entries = append(entries, Entry{ID: m.ID, Fields: m.Values})
	}
	return entries, nil
}

// Len returns the number of entries in a stream. Missing streams have
// length zero.
func (c *Client) Len(ctx context.Context, stream string) (int64, error) {
	n, err := c.rdb.XLen(ctx, stream).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, trace.ConnectionProblem(err, "reading length of %v", stream)
	}
	return n, nil
}

// Groups returns the consumer groups defined on a stream. A missing stream
// yields no groups.
func (c *Client) Groups(ctx context.Context, stream string) ([]GroupInfo, error) {
	res, err := c.rdb.XInfoGroups(ctx, stream).Result()
	if err != nil {
		if err == redis.Nil || strings.Contains(err.Error(), "no such key") {
			return nil, nil
		}
		return nil, trace.ConnectionProblem(err, "inspecting groups on %v", stream)
	}
	groups := make([]GroupInfo, 0, len(res))
	for _, g := range res {
		groups = append(groups, GroupInfo{
			Name:            g.Name,
			Consumers:       g.Consumers,
			Pending:         g.Pending,
			Lag:             g.Lag,
			LastDeliveredID: g.LastDeliveredID,
		})
	}
	return groups, nil
}

// Range reads entries in [start, stop] id order, up to count. Use "-" and
// "+" for the stream extremes.
func (c *Client) Range(ctx context.Context, stream, start, stop string, count int64) ([]Entry, error) {
	res, err := c.rdb.XRangeN(ctx, stream, start, stop, count).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, trace.ConnectionProblem(err, "ranging over %v", stream)
	}
	entries := make([]Entry, 0, len(res))
	for _, m := range res {
		entries = append(entries, Entry{ID: m.ID, Fields: m.Values})
	}
	return entries, nil
}

// Trim truncates a stream to roughly maxLen entries.
func (c *Client) Trim(ctx context.Context, stream string, maxLen int64) error {
	if err := c.rdb.XTrimMaxLenApprox(ctx, stream, maxLen, 0).Err(); err != nil {
		return trace.ConnectionProblem(err, "trimming %v", stream)
	}
	return nil
}
