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
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sonicx222/arbitrage-new-sub013/lib/events"
)

// defaultQuoteTokens is the per-chain fallback when a whale event carries
// no usable token symbol.
var defaultQuoteTokens = map[string]string{
	"ethereum": "WETH",
	"arbitrum": "WETH",
	"optimism": "WETH",
	"base":     "WETH",
	"polygon":  "WMATIC",
	"bsc":      "WBNB",
}

const fallbackQuoteToken = "USDC"

// ParseWhaleToken extracts the token of interest from a whale event's token
// field. Accepted shapes: "A/B", "A_B", "DEX_A_B" and a bare "A". An empty
// or unusable value falls back to the chain's default quote token; the
// second return reports that fallback so the caller can warn instead of
// dropping the event.
func ParseWhaleToken(token, chain string) (string, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return chainQuoteToken(chain), true
	}
	if base, _, found := strings.Cut(token, "/"); found {
		if t := normalizeToken(base); t != "" {
			return t, false
		}
		return chainQuoteToken(chain), true
	}
	if strings.Contains(token, "_") {
		parts := strings.Split(token, "_")
		// DEX_A_B carries the venue first; A_B does not.
		if len(parts) == 3 {
			parts = parts[1:]
		}
		if t := normalizeToken(parts[0]); t != "" {
			return t, false
		}
		return chainQuoteToken(chain), true
	}
	if t := normalizeToken(token); t != "" {
		return t, false
	}
	return chainQuoteToken(chain), true
}

func chainQuoteToken(chain string) string {
	if t, ok := defaultQuoteTokens[strings.ToLower(chain)]; ok {
		return t
	}
	return fallbackQuoteToken
}

func normalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

// PairContainsToken reports whether a normalized pair key includes token as
// one of its parts. Matching is by exact part, never substring: "ETH" does
// not match "WETH/USDC".
func PairContainsToken(pairKey, token string) bool {
	for _, part := range strings.FieldsFunc(pairKey, func(r rune) bool {
		return r == '/' || r == '_' || r == '-'
	}) {
		if part == token {
			return true
		}
	}
	return false
}

// WhaleGuard rations whale-triggered detection passes: one permit per
// cooldown window. Callers that miss the permit drop the trigger.
type WhaleGuard struct {
	mu       sync.Mutex
	last     time.Time
	cooldown time.Duration
	clock    clockwork.Clock
}

// NewWhaleGuard returns a guard with the given cooldown.
func NewWhaleGuard(cooldown time.Duration, clock clockwork.Clock) *WhaleGuard {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &WhaleGuard{cooldown: cooldown, clock: clock}
}

// TryAcquire takes the permit if the cooldown has elapsed.
func (g *WhaleGuard) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	if !g.last.IsZero() && now.Sub(g.last) < g.cooldown {
		return false
	}
	g.last = now
	return true
}

// whaleStats accumulates per-token whale activity.
type whaleStats struct {
	netFlowUSD      float64
	superWhaleCount int
	lastUpdated     time.Time
}

// WhaleTracker aggregates whale transactions into per-token summaries the
// confidence calculator consumes.
type WhaleTracker struct {
	mu                 sync.Mutex
	byToken            map[string]*whaleStats
	superWhaleUSD      float64
	significantFlowUSD float64
	clock              clockwork.Clock
}

// NewWhaleTracker returns an empty tracker with the given thresholds.
func NewWhaleTracker(superWhaleUSD, significantFlowUSD float64, clock clockwork.Clock) *WhaleTracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &WhaleTracker{
		byToken:            make(map[string]*whaleStats),
		superWhaleUSD:      superWhaleUSD,
		significantFlowUSD: significantFlowUSD,
		clock:              clock,
	}
}

// Record folds one transaction into the token's running summary and
// returns it.
func (t *WhaleTracker) Record(token string, tx events.WhaleTransaction) events.WhaleSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats, ok := t.byToken[token]
	if !ok {
		stats = &whaleStats{}
		t.byToken[token] = stats
	}
	switch strings.ToLower(tx.Direction) {
	case "sell", "out":
		stats.netFlowUSD -= tx.USDValue
	default:
		stats.netFlowUSD += tx.USDValue
	}
	if tx.USDValue >= t.superWhaleUSD {
		stats.superWhaleCount++
	}
	stats.lastUpdated = t.clock.Now()

	return t.summaryLocked(stats)
}

// Summary returns the running summary for one token, or nil when the token
// has no recorded activity.
func (t *WhaleTracker) Summary(token string) *events.WhaleSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats, ok := t.byToken[token]
	if !ok {
		return nil
	}
	s := t.summaryLocked(stats)
	return &s
}

func (t *WhaleTracker) summaryLocked(stats *whaleStats) events.WhaleSummary {
	sentiment := "neutral"
	switch {
	case stats.netFlowUSD > t.significantFlowUSD:
		sentiment = "bullish"
	case stats.netFlowUSD < -t.significantFlowUSD:
		sentiment = "bearish"
	}
	return events.WhaleSummary{
		Sentiment:       sentiment,
		SuperWhaleCount: stats.superWhaleCount,
		NetFlowUSD:      stats.netFlowUSD,
	}
}
