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
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/sonicx222/arbitrage-new-sub013/lib/defaults"
	"github.com/sonicx222/arbitrage-new-sub013/lib/events"
)

// BridgeKey identifies one route: "<sourceChain>-<targetChain>-<bridge>".
type BridgeKey string

// NewBridgeKey builds the canonical route key.
func NewBridgeKey(src, dst, bridge string) BridgeKey {
	return BridgeKey(strings.ToLower(src) + "-" + strings.ToLower(dst) + "-" + strings.ToLower(bridge))
}

// BridgeOutcome is one observed bridge transfer.
type BridgeOutcome struct {
	SourceChain string
	TargetChain string
	Bridge      string
	// LatencySec is the observed transfer time in seconds.
	LatencySec float64
	// CostUSD is the observed transfer cost.
	CostUSD float64
	Success  bool
	// Timestamp is the completion time in unix millis.
	Timestamp int64
}

// BridgeMetrics summarizes a route's history. All fields are finite even
// when the history holds no successes.
type BridgeMetrics struct {
	SampleCount   int
	SuccessRate   float64
	AvgLatencySec float64
	MinLatencySec float64
	MaxLatencySec float64
	AvgCostUSD    float64
}

// BridgePrediction is a latency and cost forecast for one route.
type BridgePrediction struct {
	Bridge       string
	SourceChain  string
	TargetChain  string
	LatencySec   float64
	CostUSD      float64
	Confidence   float64
	// Conservative marks a static-table estimate used when the route has
	// too few samples.
	Conservative bool
}

// staticRoute is a conservative fallback estimate for a known route.
type staticRoute struct {
	latencySec float64
	costRate   float64
}

// Static route table used below the sample threshold. Unknown routes fall
// back to fallbackLatencySec.
var staticRoutes = map[string]staticRoute{
	"ethereum-arbitrum-stargate": {latencySec: 180, costRate: 0.002},
	"arbitrum-ethereum-stargate": {latencySec: 180, costRate: 0.002},
	"ethereum-optimism-across":   {latencySec: 120, costRate: 0.0015},
	"optimism-ethereum-across":   {latencySec: 120, costRate: 0.0015},
}

const (
	fallbackLatencySec = 300
	fallbackCostRate   = 0.003
)

// BridgeModelConfig configures a BridgeModel.
type BridgeModelConfig struct {
	// Capacity is the per-route history size after a trim.
	Capacity int
	// TrimAt is the history length that triggers a batch trim back to
	// Capacity.
	TrimAt int
	// MinSamples is the count below which predictions use the static
	// table.
	MinSamples int
	// Clock is the time source, swappable in tests.
	Clock clockwork.Clock
	// Logger is the model's structured logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults fills in the production defaults.
func (c *BridgeModelConfig) CheckAndSetDefaults() error {
	if c.Capacity <= 0 {
		c.Capacity = defaults.BridgeHistoryCapacity
	}
	if c.TrimAt <= c.Capacity {
		c.TrimAt = c.Capacity + (defaults.BridgeHistoryTrimAt - defaults.BridgeHistoryCapacity)
	}
	if c.MinSamples <= 0 {
		c.MinSamples = defaults.BridgeMinSamples
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With("component", "bridge-model")
	}
	return nil
}

// BridgeModel learns per-route latency and cost from observed transfers
// and predicts them for future ones.
type BridgeModel struct {
	cfg BridgeModelConfig

	mu      sync.Mutex
	history map[BridgeKey][]BridgeOutcome
}

// NewBridgeModel returns an empty model.
func NewBridgeModel(cfg BridgeModelConfig) (*BridgeModel, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, err
	}
	return &BridgeModel{
		cfg:     cfg,
		history: make(map[BridgeKey][]BridgeOutcome),
	}, nil
}

// UpdateModel records one observed transfer. Histories trim in batches so
// the per-write cost stays amortized constant.
func (m *BridgeModel) UpdateModel(outcome BridgeOutcome) {
	key := NewBridgeKey(outcome.SourceChain, outcome.TargetChain, outcome.Bridge)

	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.history[key]
	if !ok {
		h = make([]BridgeOutcome, 0, m.cfg.TrimAt)
	}
	h = append(h, outcome)
	if len(h) > m.cfg.TrimAt {
		h = append(h[:0], h[len(h)-m.cfg.Capacity:]...)
	}
	m.history[key] = h
}

// RecordExecution validates a reported execution result and folds it into
// the route history. Results without a completion time are stamped with the
// model clock.
func (m *BridgeModel) RecordExecution(res events.ExecutionResult) error {
	if err := res.Check(); err != nil {
		return trace.Wrap(err)
	}
	ts := res.Timestamp
	if ts == 0 {
		ts = m.cfg.Clock.Now().UnixMilli()
	}
	m.UpdateModel(BridgeOutcome{
		SourceChain: res.SourceChain,
		TargetChain: res.TargetChain,
		Bridge:      res.Bridge,
		LatencySec:  res.LatencySec,
		CostUSD:     res.CostUSD,
		Success:     res.Success,
		Timestamp:   ts,
	})
	return nil
}

// GetBridgeMetrics summarizes one route's history.
func (m *BridgeModel) GetBridgeMetrics(key BridgeKey) BridgeMetrics {
	m.mu.Lock()
	h := append([]BridgeOutcome(nil), m.history[key]...)
	m.mu.Unlock()
	return computeMetrics(h)
}

func computeMetrics(h []BridgeOutcome) BridgeMetrics {
	metrics := BridgeMetrics{SampleCount: len(h)}
	if len(h) == 0 {
		return metrics
	}

	var sumLatency, sumCost float64
	var successes int
	minLatency, maxLatency := math.Inf(1), math.Inf(-1)
	for _, o := range h {
		if !o.Success {
			continue
		}
		successes++
		sumLatency += o.LatencySec
		sumCost += o.CostUSD
		minLatency = math.Min(minLatency, o.LatencySec)
		maxLatency = math.Max(maxLatency, o.LatencySec)
	}
	metrics.SuccessRate = float64(successes) / float64(len(h))
	if successes == 0 {
		// No successes: everything stays at zero, never NaN or infinite.
		return metrics
	}
	metrics.AvgLatencySec = sumLatency / float64(successes)
	metrics.AvgCostUSD = sumCost / float64(successes)
	metrics.MinLatencySec = minLatency
	metrics.MaxLatencySec = maxLatency
	return metrics
}

// PredictLatency forecasts the latency for one route. Below the sample
// threshold, or when the route has never succeeded, the forecast comes
// from the static table with low confidence.
func (m *BridgeModel) PredictLatency(key BridgeKey) BridgePrediction {
	m.mu.Lock()
	h := append([]BridgeOutcome(nil), m.history[key]...)
	m.mu.Unlock()

	src, dst, bridge := splitBridgeKey(key)
	metrics := computeMetrics(h)

	successes := make([]BridgeOutcome, 0, len(h))
	for _, o := range h {
		if o.Success {
			successes = append(successes, o)
		}
	}
	if len(h) < m.cfg.MinSamples || len(successes) == 0 {
		return m.conservative(src, dst, bridge, len(h))
	}

	avg := metrics.AvgLatencySec
	var variance float64
	for _, o := range successes {
		d := o.LatencySec - avg
		variance += d * d
	}
	variance /= float64(len(successes))

	quality := 0.1
	if avg > 0 {
		quality = math.Max(0.1, 1-variance/(avg*avg))
	}
	confidence := math.Min(1, float64(len(h))/50) * quality

	return BridgePrediction{
		Bridge:      bridge,
		SourceChain: src,
		TargetChain: dst,
		LatencySec:  avg,
		CostUSD:     metrics.AvgCostUSD,
		Confidence:  confidence,
	}
}

// conservative builds a static-table estimate with confidence capped well
// below the model's.
func (m *BridgeModel) conservative(src, dst, bridge string, samples int) BridgePrediction {
	latency := float64(fallbackLatencySec)
	costRate := fallbackCostRate
	if r, ok := staticRoutes[src+"-"+dst+"-"+bridge]; ok {
		latency = r.latencySec
		costRate = r.costRate
	}
	confidence := 0.1 + 0.02*float64(samples)
	if confidence > 0.3 {
		confidence = 0.3
	}
	return BridgePrediction{
		Bridge:       bridge,
		SourceChain:  src,
		TargetChain:  dst,
		LatencySec:   latency,
		CostUSD:      costRate * defaults.TradeAmountUSD,
		Confidence:   confidence,
		Conservative: true,
	}
}

// Urgency weights for optimal route selection.
var urgencyWeights = map[string]struct{ latency, cost float64 }{
	"low":    {latency: 0.3, cost: 0.7},
	"medium": {latency: 0.5, cost: 0.5},
	"high":   {latency: 0.8, cost: 0.2},
}

// PredictOptimalBridge picks the best route between two chains for the
// given trade size and urgency. Returns nil when no route is known.
func (m *BridgeModel) PredictOptimalBridge(src, dst string, amountUSD float64, urgency string) *BridgePrediction {
	bridges := m.GetAvailableRoutes(src, dst)
	if len(bridges) == 0 {
		return nil
	}
	weights, ok := urgencyWeights[urgency]
	if !ok {
		weights = urgencyWeights["medium"]
	}

	candidates := make([]BridgePrediction, 0, len(bridges))
	var maxLatency, maxCost float64
	for _, bridge := range bridges {
		p := m.PredictLatency(NewBridgeKey(src, dst, bridge))
		if p.Conservative && amountUSD > 0 {
			p.CostUSD = p.CostUSD / defaults.TradeAmountUSD * amountUSD
		}
		candidates = append(candidates, p)
		maxLatency = math.Max(maxLatency, p.LatencySec)
		maxCost = math.Max(maxCost, p.CostUSD)
	}

	best := -1
	bestScore := math.Inf(1)
	for i, p := range candidates {
		var score float64
		if maxLatency > 0 {
			score += weights.latency * (p.LatencySec / maxLatency)
		}
		if maxCost > 0 {
			score += weights.cost * (p.CostUSD / maxCost)
		}
		if score < bestScore {
			bestScore = score
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	return &candidates[best]
}

// GetAvailableRoutes lists the bridges known for a chain pair, from both
// the static table and observed history.
func (m *BridgeModel) GetAvailableRoutes(src, dst string) []string {
	prefix := strings.ToLower(src) + "-" + strings.ToLower(dst) + "-"

	seen := map[string]bool{}
	for key := range staticRoutes {
		if strings.HasPrefix(key, prefix) {
			seen[strings.TrimPrefix(key, prefix)] = true
		}
	}
	m.mu.Lock()
	for key := range m.history {
		if strings.HasPrefix(string(key), prefix) {
			seen[strings.TrimPrefix(string(key), prefix)] = true
		}
	}
	m.mu.Unlock()

	routes := make([]string, 0, len(seen))
	for bridge := range seen {
		routes = append(routes, bridge)
	}
	sort.Strings(routes)
	return routes
}

// Cleanup drops history entries older than the retention horizon.
func (m *BridgeModel) Cleanup(retention time.Duration) int {
	cutoff := m.cfg.Clock.Now().Add(-retention).UnixMilli()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, h := range m.history {
		kept := h[:0]
		for _, o := range h {
			if o.Timestamp >= cutoff {
				kept = append(kept, o)
			}
		}
		removed += len(h) - len(kept)
		if len(kept) == 0 {
			delete(m.history, key)
		} else {
			m.history[key] = kept
		}
	}
	if removed > 0 {
		m.cfg.Logger.Debug("trimmed bridge history", "removed", removed)
	}
	return removed
}

func splitBridgeKey(key BridgeKey) (src, dst, bridge string) {
	parts := strings.SplitN(string(key), "-", 3)
	if len(parts) != 3 {
		return "", "", string(key)
	}
	return parts[0], parts[1], parts[2]
}
