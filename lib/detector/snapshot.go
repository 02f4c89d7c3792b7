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
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/sonicx222/arbitrage-new-sub013/lib/defaults"
	"github.com/sonicx222/arbitrage-new-sub013/lib/events"
	"github.com/sonicx222/arbitrage-new-sub013/lib/utils"
)

// PricePoint is one chain's latest quote for a token pair.
type PricePoint struct {
	Chain       string
	DEX         string
	PairKey     string
	Price       float64
	Reserve0    float64
	Reserve1    float64
	BlockNumber uint64
	// Timestamp is the producer-side observation time in unix millis.
	Timestamp int64
}

// IndexedSnapshot is an immutable view over the index at build time.
// Concurrent detection passes may each hold their own.
type IndexedSnapshot struct {
	// Pairs lists the normalized pairs present on at least two chains.
	Pairs []string
	// ByToken maps each pair to its per-chain price points, ordered by
	// chain name.
	ByToken map[string][]PricePoint
	// BuiltAt is when this snapshot was constructed.
	BuiltAt time.Time
}

// SnapshotConfig configures a SnapshotIndex.
type SnapshotConfig struct {
	// TTL evicts (chain, pair) keys not refreshed within this window.
	TTL time.Duration
	// MaxKeys caps distinct (chain, pair) keys; the oldest by last access
	// is evicted past the cap.
	MaxKeys int
	// HistoryCapacity sizes the per-key price history ring.
	HistoryCapacity int
	// Clock is the time source, swappable in tests.
	Clock clockwork.Clock
	// Logger is the index's structured logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *SnapshotConfig) CheckAndSetDefaults() error {
	if c.TTL <= 0 {
		c.TTL = defaults.SnapshotTTL
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = defaults.SnapshotMaxKeys
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = defaults.PriceHistoryCapacity
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With("component", "snapshot-index")
	}
	return nil
}

type indexedPoint struct {
	point      PricePoint
	lastAccess time.Time
}

// SnapshotIndex holds the latest price per (chain, pair) and derives
// immutable snapshots for detection passes. The most recent update wins per
// key; updates are applied in arrival order.
type SnapshotIndex struct {
	cfg SnapshotConfig

	mu      sync.Mutex
	points  map[string]map[string]*indexedPoint
	keys    int
	history map[string]*utils.Ring[PricePoint]
	dirty   bool
	cached  *IndexedSnapshot
}

// NewSnapshotIndex returns an empty index.
func NewSnapshotIndex(cfg SnapshotConfig) (*SnapshotIndex, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &SnapshotIndex{
		cfg:     cfg,
		points:  make(map[string]map[string]*indexedPoint),
		history: make(map[string]*utils.Ring[PricePoint]),
	}, nil
}

// NormalizePair canonicalizes a token pair key for index lookups.
func NormalizePair(pairKey string) string {
	return strings.ToUpper(strings.TrimSpace(pairKey))
}

func historyKey(chain, pairKey string) string {
	return chain + "|" + pairKey
}

// HandleUpdate applies one price update, overwriting the previous point for
// its (chain, pair) and appending to the pair's price history.
func (s *SnapshotIndex) HandleUpdate(u events.PriceUpdate) error {
	if err := u.Check(); err != nil {
		return trace.Wrap(err)
	}
	pair := NormalizePair(u.PairKey)
	point := PricePoint{
		Chain:       u.Chain,
		DEX:         u.DEX,
		PairKey:     pair,
		Price:       u.Price,
		Reserve0:    u.Reserve0,
		Reserve1:    u.Reserve1,
		BlockNumber: u.BlockNumber,
		Timestamp:   u.Timestamp,
	}
	now := s.cfg.Clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	chains, ok := s.points[pair]
	if !ok {
		chains = make(map[string]*indexedPoint)
		s.points[pair] = chains
	}
	if _, ok := chains[u.Chain]; !ok {
		s.keys++
	}
	chains[u.Chain] = &indexedPoint{point: point, lastAccess: now}
	s.dirty = true

	hk := historyKey(u.Chain, pair)
	ring, ok := s.history[hk]
	if !ok {
		var err error
		ring, err = utils.NewRing[PricePoint](s.cfg.HistoryCapacity)
		if err != nil {
			return trace.Wrap(err)
		}
		s.history[hk] = ring
	}
	ring.Add(point)

	if s.keys > s.cfg.MaxKeys {
		s.evictOldestLocked()
	}
	return nil
}

// evictOldestLocked removes the (chain, pair) key with the stalest last
// access. Called with s.mu held.
func (s *SnapshotIndex) evictOldestLocked() {
	var oldestPair, oldestChain string
	var oldestAt time.Time
	for pair, chains := range s.points {
		for chain, entry := range chains {
			if oldestAt.IsZero() || entry.lastAccess.Before(oldestAt) {
				oldestAt = entry.lastAccess
				oldestPair, oldestChain = pair, chain
			}
		}
	}
	if oldestPair == "" {
		return
	}
	s.removeLocked(oldestPair, oldestChain)
}

func (s *SnapshotIndex) removeLocked(pair, chain string) {
	chains := s.points[pair]
	delete(chains, chain)
	if len(chains) == 0 {
		delete(s.points, pair)
	}
	delete(s.history, historyKey(chain, pair))
	s.keys--
	s.dirty = true
}

// BuildSnapshot returns a snapshot over pairs present on at least two
// chains. Rebuilds only when the index changed since the last build.
func (s *SnapshotIndex) BuildSnapshot() *IndexedSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty && s.cached != nil {
		return s.cached
	}

	snap := &IndexedSnapshot{
		ByToken: make(map[string][]PricePoint),
		BuiltAt: s.cfg.Clock.Now(),
	}
	for pair, chains := range s.points {
		if len(chains) < 2 {
			continue
		}
		points := make([]PricePoint, 0, len(chains))
		for _, entry := range chains {
			points = append(points, entry.point)
		}
		sort.Slice(points, func(i, j int) bool { return points[i].Chain < points[j].Chain })
		snap.ByToken[pair] = points
		snap.Pairs = append(snap.Pairs, pair)
	}
	sort.Strings(snap.Pairs)

	s.cached = snap
	s.dirty = false
	return snap
}

// History returns the ordered price history for one (chain, pair), oldest
// first.
func (s *SnapshotIndex) History(chain, pairKey string) []PricePoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	ring, ok := s.history[historyKey(chain, NormalizePair(pairKey))]
	if !ok {
		return nil
	}
	return ring.Data()
}

// Cleanup evicts keys whose last refresh is older than the TTL.
func (s *SnapshotIndex) Cleanup() int {
	cutoff := s.cfg.Clock.Now().Add(-s.cfg.TTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	type victim struct{ pair, chain string }
	var victims []victim
	for pair, chains := range s.points {
		for chain, entry := range chains {
			if entry.lastAccess.Before(cutoff) {
				victims = append(victims, victim{pair, chain})
			}
		}
	}
	for _, v := range victims {
		s.removeLocked(v.pair, v.chain)
	}
	if len(victims) > 0 {
		s.cfg.Logger.Debug("evicted stale price points", "count", len(victims))
	}
	return len(victims)
}

// Clear drops all state.
func (s *SnapshotIndex) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = make(map[string]map[string]*indexedPoint)
	s.history = make(map[string]*utils.Ring[PricePoint])
	s.keys = 0
	s.cached = nil
	s.dirty = false
}

// Size returns the number of distinct (chain, pair) keys.
func (s *SnapshotIndex) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys
}
