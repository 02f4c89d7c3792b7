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

// Package dlq supervises the dead letter queue: a periodic scan classifies
// entries by error code and a replay path re-injects preserved payloads
// into the execution pipeline. Replay never bypasses downstream validation;
// a replayed payload goes through the same consumer checks as a fresh one.
package dlq

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/sonicx222/arbitrage-new-sub013/lib/defaults"
	"github.com/sonicx222/arbitrage-new-sub013/lib/events"
	"github.com/sonicx222/arbitrage-new-sub013/lib/streams"
)

// Stats is one scan's snapshot of the dead letter queue.
type Stats struct {
	// TotalMessages is the queue length at scan time.
	TotalMessages int64 `json:"totalMessages"`
	// ByErrorCode tallies scanned entries by their bracketed error code.
	ByErrorCode map[string]int64 `json:"byErrorCode"`
	// OldestAge is the age of the earliest entry, zero when empty.
	OldestAge time.Duration `json:"oldestAgeMs"`
	// LastScan is when the snapshot was taken.
	LastScan time.Time `json:"lastScan"`
}

// Config configures a Supervisor.
type Config struct {
	// Client is the stream transport.
	Client *streams.Client
	// Stream overrides the dead letter queue stream. Test hook.
	Stream string
	// ReplayStream overrides where replayed payloads are appended.
	ReplayStream string
	// ScanInterval is the cadence of the scan cycle.
	ScanInterval time.Duration
	// MaxMessagesPerScan caps how many entries one scan reads.
	MaxMessagesPerScan int64
	// Clock is the time source, swappable in tests.
	Clock clockwork.Clock
	// Logger is the supervisor's structured logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Client == nil {
		return trace.BadParameter("missing parameter Client")
	}
	if c.Stream == "" {
		c.Stream = defaults.StreamDeadLetterQueue
	}
	if c.ReplayStream == "" {
		c.ReplayStream = defaults.StreamExecutionRequests
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = defaults.DLQScanInterval
	}
	if c.MaxMessagesPerScan <= 0 {
		c.MaxMessagesPerScan = defaults.DLQMaxMessagesPerScan
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With("component", "dlq-supervisor")
	}
	return nil
}

// Supervisor owns the scan loop and the replay path.
type Supervisor struct {
	cfg Config

	mu      sync.Mutex
	stats   Stats
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// codePattern extracts the leading bracketed error code from a DLQ entry's
// error string.
var codePattern = regexp.MustCompile(`\[([A-Z0-9_]+)\]`)

// NewSupervisor returns an unstarted Supervisor.
func NewSupervisor(cfg Config) (*Supervisor, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Supervisor{
		cfg:   cfg,
		stats: Stats{ByErrorCode: map[string]int64{}},
	}, nil
}

// Start launches the periodic scan loop. Safe to call once; later calls
// are no-ops.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true
	go s.run(loopCtx, s.done)
	s.cfg.Logger.InfoContext(ctx, "DLQ supervisor started", "interval", s.cfg.ScanInterval)
}

// Stop halts the scan loop.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *Supervisor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := s.cfg.Clock.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := s.Scan(ctx); err != nil {
				s.cfg.Logger.WarnContext(ctx, "DLQ scan failed", "error", err)
			}
		}
	}
}

// Scan reads the queue from its earliest entry, tallies by error code and
// replaces the stats snapshot. Also usable on demand between ticks.
func (s *Supervisor) Scan(ctx context.Context) (Stats, error) {
	total, err := s.cfg.Client.Len(ctx, s.cfg.Stream)
	if err != nil {
		return Stats{}, trace.Wrap(err)
	}
	entries, err := s.cfg.Client.Range(ctx, s.cfg.Stream, "-", "+", s.cfg.MaxMessagesPerScan)
	if err != nil {
		return Stats{}, trace.Wrap(err)
	}

	now := s.cfg.Clock.Now()
	next := Stats{
		TotalMessages: total,
		ByErrorCode:   make(map[string]int64),
		LastScan:      now,
	}
	for i, entry := range entries {
		var d events.DLQEntry
		if err := events.Unmarshal(entry.Fields, &d); err != nil {
			next.ByErrorCode["UNPARSEABLE"]++
			continue
		}
		next.ByErrorCode[extractCode(d.Error)]++
		if i == 0 && d.Timestamp > 0 {
			next.OldestAge = now.Sub(time.UnixMilli(d.Timestamp))
		}
	}

	s.mu.Lock()
	s.stats = next
	s.mu.Unlock()

	dlqDepth.Set(float64(total))
	dlqOldestAge.Set(next.OldestAge.Seconds())

	s.cfg.Logger.DebugContext(ctx, "DLQ scan complete",
		"total", total, "scanned", len(entries), "oldest_age", next.OldestAge)
	return next, nil
}

// GetStats returns the latest snapshot.
func (s *Supervisor) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.stats
	snapshot.ByErrorCode = make(map[string]int64, len(s.stats.ByErrorCode))
	for k, v := range s.stats.ByErrorCode {
		snapshot.ByErrorCode[k] = v
	}
	return snapshot
}

// Replay locates the entry with the given id and re-appends its preserved
// payload to the execution-requests stream, marked as a replay. Returns
// false when the entry is missing, has no payload, or the payload is not
// valid JSON.
func (s *Supervisor) Replay(ctx context.Context, messageID string) bool {
	entry, found := s.find(ctx, messageID)
	if !found {
		s.cfg.Logger.WarnContext(ctx, "replay target not found", "id", messageID)
		return false
	}

	var d events.DLQEntry
	if err := events.Unmarshal(entry.Fields, &d); err != nil {
		s.cfg.Logger.ErrorContext(ctx, "replay target is not a DLQ entry", "id", messageID, "error", err)
		return false
	}
	if d.OriginalPayload == "" {
		s.cfg.Logger.ErrorContext(ctx, "replay target has no preserved payload", "id", messageID)
		return false
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(d.OriginalPayload), &payload); err != nil {
		s.cfg.Logger.ErrorContext(ctx, "preserved payload is not valid JSON", "id", messageID, "error", err)
		return false
	}

	payload["replayed"] = true
	payload["originalError"] = d.Error
	payload["replayedAt"] = s.cfg.Clock.Now().UnixMilli()

	data, err := json.Marshal(payload)
	if err != nil {
		s.cfg.Logger.ErrorContext(ctx, "failed to encode replay payload", "id", messageID, "error", err)
		return false
	}
	if _, err := s.cfg.Client.Append(ctx, s.cfg.ReplayStream, map[string]any{"data": string(data)}, defaults.StreamMaxLen); err != nil {
		s.cfg.Logger.ErrorContext(ctx, "failed to append replay payload", "id", messageID, "error", err)
		return false
	}

	replayedTotal.Inc()
	s.cfg.Logger.InfoContext(ctx, "DLQ entry replayed",
		"id", messageID, "stream", d.OriginalStream, "error", d.Error)
	return true
}

// find paginates the queue looking for the target id, bounded by the page
// cap so a runaway queue cannot stall the caller.
func (s *Supervisor) find(ctx context.Context, messageID string) (streams.Entry, bool) {
	start := "-"
	for page := 0; page < defaults.DLQReplayMaxPages; page++ {
		entries, err := s.cfg.Client.Range(ctx, s.cfg.Stream, start, "+", s.cfg.MaxMessagesPerScan)
		if err != nil {
			s.cfg.Logger.WarnContext(ctx, "DLQ pagination failed", "error", err)
			return streams.Entry{}, false
		}
		if len(entries) == 0 {
			return streams.Entry{}, false
		}
		for _, entry := range entries {
			if entry.ID == messageID {
				return entry, true
			}
		}
		if int64(len(entries)) < s.cfg.MaxMessagesPerScan {
			return streams.Entry{}, false
		}
		start = nextID(entries[len(entries)-1].ID)
	}
	return streams.Entry{}, false
}

// extractCode pulls the bracketed code out of an error string, or UNKNOWN.
func extractCode(errStr string) string {
	if m := codePattern.FindStringSubmatch(errStr); m != nil {
		return m[1]
	}
	return "UNKNOWN"
}

// nextID returns the smallest stream id strictly greater than id, for
// exclusive-start pagination.
func nextID(id string) string {
	ms, seq, ok := strings.Cut(id, "-")
	if !ok {
		return id
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return id
	}
	return ms + "-" + strconv.FormatUint(n+1, 10)
}
