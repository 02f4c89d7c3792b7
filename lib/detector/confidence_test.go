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
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/sonicx222/arbitrage-new-sub013/lib/events"
)

func newTestCalculator(t *testing.T, clock clockwork.Clock, mutate func(*CalculatorConfig)) *Calculator {
	t.Helper()
	cfg := CalculatorConfig{Clock: clock}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewCalculator(cfg)
	require.NoError(t, err)
	return c
}

func pricePair(clock clockwork.Clock, lowPrice, highPrice float64, age time.Duration) (PricePoint, PricePoint) {
	ts := clock.Now().Add(-age).UnixMilli()
	low := PricePoint{Chain: "arbitrum", PairKey: "WETH/USDC", Price: lowPrice, Timestamp: ts}
	high := PricePoint{Chain: "optimism", PairKey: "WETH/USDC", Price: highPrice, Timestamp: ts}
	return low, high
}

func TestBaseConfidence(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestCalculator(t, clock, nil)

	low, high := pricePair(clock, 2500, 2750, 0)
	require.InDelta(t, 0.2, c.Calculate(low, high, nil, nil), 1e-9)
}

func TestAgePenaltyFloor(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestCalculator(t, clock, nil)

	low, high := pricePair(clock, 2500, 2750, 30*time.Minute)
	require.InDelta(t, 0.02, c.Calculate(low, high, nil, nil), 1e-9)

	// The age factor never drops below 0.1 regardless of staleness.
	low, high = pricePair(clock, 2500, 2750, 24*time.Hour)
	require.InDelta(t, 0.02, c.Calculate(low, high, nil, nil), 1e-9)
}

func TestBoostCapAndMaxConfidence(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestCalculator(t, clock, nil)

	low, high := pricePair(clock, 1000, 2000, 0)
	whale := &events.WhaleSummary{
		Sentiment:       "bullish",
		SuperWhaleCount: 5,
		NetFlowUSD:      1e6,
	}
	// Combined whale multiplier 1.15 x 1.25 x 1.1 exceeds the 1.5 boost
	// cap; the capped score then hits the 0.95 ceiling.
	require.InDelta(t, 0.95, c.Calculate(low, high, whale, nil), 1e-9)
}

func TestInvalidPricesReturnZero(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestCalculator(t, clock, nil)

	low, high := pricePair(clock, 2500, 2750, 0)
	for _, bad := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		l := low
		l.Price = bad
		require.Zero(t, c.Calculate(l, high, nil, nil))
		h := high
		h.Price = bad
		require.Zero(t, c.Calculate(low, h, nil, nil))
	}
}

func TestWhaleAdjustments(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestCalculator(t, clock, nil)
	low, high := pricePair(clock, 2500, 2750, 0)

	bullish := c.Calculate(low, high, &events.WhaleSummary{Sentiment: "bullish"}, nil)
	require.InDelta(t, 0.2*1.15, bullish, 1e-9)

	bearish := c.Calculate(low, high, &events.WhaleSummary{Sentiment: "bearish"}, nil)
	require.InDelta(t, 0.2*0.85, bearish, 1e-9)

	neutral := c.Calculate(low, high, &events.WhaleSummary{Sentiment: "neutral"}, nil)
	require.InDelta(t, 0.2, neutral, 1e-9)

	flow := c.Calculate(low, high, &events.WhaleSummary{NetFlowUSD: 150000}, nil)
	require.InDelta(t, 0.2*1.1, flow, 1e-9)
}

func TestMLAdjustments(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestCalculator(t, clock, func(cfg *CalculatorConfig) { cfg.MLEnabled = true })
	low, high := pricePair(clock, 2500, 2750, 0)

	up := &PredictionResult{Direction: "up", Confidence: 0.8}
	down := &PredictionResult{Direction: "down", Confidence: 0.8}
	sideways := &PredictionResult{Direction: "sideways", Confidence: 0.8}
	weak := &PredictionResult{Direction: "up", Confidence: 0.3}

	require.InDelta(t, 0.2*1.15, c.Calculate(low, high, nil, &PairPrediction{Source: up}), 1e-9)
	require.InDelta(t, 0.2*0.9, c.Calculate(low, high, nil, &PairPrediction{Source: down}), 1e-9)

	// A boosted source halves the target's aligned boost.
	both := c.Calculate(low, high, nil, &PairPrediction{Source: up, Target: sideways})
	require.InDelta(t, 0.2*1.15*1.05, both, 1e-9)

	// Target alone gets the full aligned boost.
	targetOnly := c.Calculate(low, high, nil, &PairPrediction{Target: up})
	require.InDelta(t, 0.2*1.15, targetOnly, 1e-9)

	// Below the confidence floor the prediction is ignored.
	require.InDelta(t, 0.2, c.Calculate(low, high, nil, &PairPrediction{Source: weak}), 1e-9)

	// ML disabled ignores predictions entirely.
	off := newTestCalculator(t, clock, nil)
	require.InDelta(t, 0.2, off.Calculate(low, high, nil, &PairPrediction{Source: up}), 1e-9)
}

func TestBoostCapRelativeToPreBoost(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestCalculator(t, clock, func(cfg *CalculatorConfig) { cfg.MLEnabled = true })

	// Aged prices so the capped result stays below the max cap and the
	// 1.5x bound itself is observable.
	low, high := pricePair(clock, 2500, 2750, 30*time.Minute)
	whale := &events.WhaleSummary{Sentiment: "bullish", SuperWhaleCount: 1, NetFlowUSD: 2e5}
	ml := &PairPrediction{
		Source: &PredictionResult{Direction: "up", Confidence: 0.9},
		Target: &PredictionResult{Direction: "up", Confidence: 0.9},
	}
	got := c.Calculate(low, high, whale, ml)
	require.InDelta(t, 0.02*1.5, got, 1e-9)
}

func TestConfidenceAlwaysBounded(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := newTestCalculator(t, clock, nil)

	for _, ratio := range []float64{1.0001, 1.1, 2, 10, 1000} {
		low, high := pricePair(clock, 100, 100*ratio, 0)
		got := c.Calculate(low, high, &events.WhaleSummary{Sentiment: "bullish", SuperWhaleCount: 3, NetFlowUSD: 1e9}, nil)
		require.GreaterOrEqual(t, got, 0.0)
		require.LessOrEqual(t, got, 0.95)
		require.False(t, math.IsNaN(got))
	}
}
