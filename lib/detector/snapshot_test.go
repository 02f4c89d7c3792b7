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
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/sonicx222/arbitrage-new-sub013/lib/events"
)

func newTestIndex(t *testing.T, clock clockwork.Clock, mutate func(*SnapshotConfig)) *SnapshotIndex {
	t.Helper()
	cfg := SnapshotConfig{Clock: clock}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewSnapshotIndex(cfg)
	require.NoError(t, err)
	return s
}

func update(chain, pair string, price float64) events.PriceUpdate {
	return events.PriceUpdate{Chain: chain, DEX: "uniswap", PairKey: pair, Price: price}
}

func TestSnapshotRequiresTwoChains(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestIndex(t, clock, nil)

	require.NoError(t, s.HandleUpdate(update("ethereum", "WETH/USDC", 3000)))
	snap := s.BuildSnapshot()
	require.Empty(t, snap.Pairs)

	require.NoError(t, s.HandleUpdate(update("arbitrum", "WETH/USDC", 3010)))
	snap = s.BuildSnapshot()
	require.Equal(t, []string{"WETH/USDC"}, snap.Pairs)
	require.Len(t, snap.ByToken["WETH/USDC"], 2)

	// Points are ordered by chain name.
	require.Equal(t, "arbitrum", snap.ByToken["WETH/USDC"][0].Chain)
	require.Equal(t, "ethereum", snap.ByToken["WETH/USDC"][1].Chain)
}

func TestLatestUpdateWins(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestIndex(t, clock, nil)

	require.NoError(t, s.HandleUpdate(update("ethereum", "WETH/USDC", 3000)))
	require.NoError(t, s.HandleUpdate(update("arbitrum", "WETH/USDC", 3010)))
	require.NoError(t, s.HandleUpdate(update("ethereum", "WETH/USDC", 3050)))

	snap := s.BuildSnapshot()
	points := snap.ByToken["WETH/USDC"]
	require.Equal(t, 3050.0, points[1].Price)
	require.Equal(t, 2, s.Size())
}

func TestSnapshotCachedUntilDirty(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestIndex(t, clock, nil)

	require.NoError(t, s.HandleUpdate(update("ethereum", "WETH/USDC", 3000)))
	require.NoError(t, s.HandleUpdate(update("arbitrum", "WETH/USDC", 3010)))

	first := s.BuildSnapshot()
	second := s.BuildSnapshot()
	require.Same(t, first, second)

	require.NoError(t, s.HandleUpdate(update("ethereum", "WETH/USDC", 3020)))
	third := s.BuildSnapshot()
	require.NotSame(t, first, third)

	// Earlier snapshots are unaffected by later updates.
	require.Equal(t, 3000.0, first.ByToken["WETH/USDC"][1].Price)
}

func TestPairKeyNormalization(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestIndex(t, clock, nil)

	require.NoError(t, s.HandleUpdate(update("ethereum", "weth/usdc", 3000)))
	require.NoError(t, s.HandleUpdate(update("arbitrum", "WETH/USDC", 3010)))

	snap := s.BuildSnapshot()
	require.Equal(t, []string{"WETH/USDC"}, snap.Pairs)
}

func TestRejectsInvalidUpdate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestIndex(t, clock, nil)

	require.Error(t, s.HandleUpdate(events.PriceUpdate{PairKey: "WETH/USDC", Price: 1}))
	require.Error(t, s.HandleUpdate(events.PriceUpdate{Chain: "ethereum", Price: 1}))
	require.Error(t, s.HandleUpdate(update("ethereum", "WETH/USDC", 0)))
	require.Zero(t, s.Size())
}

func TestTTLCleanup(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestIndex(t, clock, func(c *SnapshotConfig) { c.TTL = time.Minute })

	require.NoError(t, s.HandleUpdate(update("ethereum", "WETH/USDC", 3000)))
	clock.Advance(2 * time.Minute)
	require.NoError(t, s.HandleUpdate(update("arbitrum", "WETH/USDC", 3010)))

	require.Equal(t, 1, s.Cleanup())
	require.Equal(t, 1, s.Size())

	snap := s.BuildSnapshot()
	require.Empty(t, snap.Pairs)
}

func TestMaxKeysEviction(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestIndex(t, clock, func(c *SnapshotConfig) { c.MaxKeys = 3 })

	for i := 0; i < 4; i++ {
		require.NoError(t, s.HandleUpdate(update("ethereum", fmt.Sprintf("T%d/USDC", i), 100)))
		clock.Advance(time.Second)
	}
	require.Equal(t, 3, s.Size())

	// The oldest key by last access was evicted along with its history.
	require.Empty(t, s.History("ethereum", "T0/USDC"))
	require.Len(t, s.History("ethereum", "T3/USDC"), 1)
}

func TestPriceHistoryRing(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestIndex(t, clock, func(c *SnapshotConfig) { c.HistoryCapacity = 3 })

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.HandleUpdate(update("ethereum", "WETH/USDC", float64(i))))
	}
	history := s.History("ethereum", "WETH/USDC")
	require.Len(t, history, 3)
	require.Equal(t, 3.0, history[0].Price)
	require.Equal(t, 5.0, history[2].Price)
}

func TestClear(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestIndex(t, clock, nil)

	require.NoError(t, s.HandleUpdate(update("ethereum", "WETH/USDC", 3000)))
	s.Clear()
	require.Zero(t, s.Size())
	require.Empty(t, s.History("ethereum", "WETH/USDC"))
	require.Empty(t, s.BuildSnapshot().Pairs)
}
