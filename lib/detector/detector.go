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

// Package detector is the cross-chain detection core. It folds price
// updates into the snapshot index, scans snapshots for spreads that clear
// the chain-specific thresholds, scores them and publishes opportunities.
// Whale alerts trigger an additional focused pass over the affected pairs.
package detector

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/sonicx222/arbitrage-new-sub013/lib/defaults"
	"github.com/sonicx222/arbitrage-new-sub013/lib/events"
)

// Publisher is the outbound side of the detector, satisfied by
// streams.Producer.
type Publisher interface {
	Publish(ctx context.Context, stream string, payload any) (string, error)
}

// minSpreads is the chain-specific minimum spread required before a pair
// is considered. Ethereum needs a wider spread to clear its gas costs.
var minSpreads = map[string]float64{
	"ethereum": 0.005,
	"arbitrum": 0.002,
	"optimism": 0.002,
	"base":     0.002,
	"polygon":  0.002,
	"bsc":      0.002,
}

const defaultMinSpread = 0.002

// gasCostsUSD estimates a swap's gas cost per chain.
var gasCostsUSD = map[string]float64{
	"ethereum": 15.0,
	"arbitrum": 0.5,
	"optimism": 0.5,
	"base":     0.3,
	"polygon":  0.1,
	"bsc":      0.3,
}

const defaultGasCostUSD = 1.0

// Config configures a Detector.
type Config struct {
	// Snapshots is the price snapshot index.
	Snapshots *SnapshotIndex
	// Calculator scores detected spreads.
	Calculator *Calculator
	// Bridges models bridge latency and cost.
	Bridges *BridgeModel
	// Publisher emits opportunities. Optional; nil drops them after
	// logging, which the focused test paths use.
	Publisher Publisher
	// Predictions is the optional ML companion guard.
	Predictions *PredictionGuard
	// TradeAmountUSD is the notional used for profit estimation.
	TradeAmountUSD float64
	// ConfidenceThreshold gates publication.
	ConfidenceThreshold float64
	// WhaleCooldown spaces whale-triggered passes.
	WhaleCooldown time.Duration
	// Clock is the time source, swappable in tests.
	Clock clockwork.Clock
	// Logger is the detector's structured logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Snapshots == nil {
		return trace.BadParameter("missing parameter Snapshots")
	}
	if c.Calculator == nil {
		return trace.BadParameter("missing parameter Calculator")
	}
	if c.Bridges == nil {
		return trace.BadParameter("missing parameter Bridges")
	}
	if c.TradeAmountUSD <= 0 {
		c.TradeAmountUSD = defaults.TradeAmountUSD
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = defaults.ConfidenceThreshold
	}
	if c.WhaleCooldown <= 0 {
		c.WhaleCooldown = defaults.WhaleGuardCooldown
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With("component", "detector")
	}
	return nil
}

// Detector runs the hot detection path and the whale-triggered fast path.
type Detector struct {
	cfg    Config
	guard  *WhaleGuard
	whales *WhaleTracker
}

// New returns a Detector over the given components.
func New(cfg Config) (*Detector, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Detector{
		cfg:   cfg,
		guard: NewWhaleGuard(cfg.WhaleCooldown, cfg.Clock),
		whales: NewWhaleTracker(
			defaults.SuperWhaleThresholdUSD,
			defaults.SignificantFlowThresholdUSD,
			cfg.Clock,
		),
	}, nil
}

// ProcessPriceUpdate is the hot path: fold the update into the index and
// scan the refreshed snapshot for opportunities.
func (d *Detector) ProcessPriceUpdate(ctx context.Context, u events.PriceUpdate) error {
	if err := d.cfg.Snapshots.HandleUpdate(u); err != nil {
		return trace.Wrap(err)
	}
	priceUpdatesTotal.WithLabelValues(u.Chain).Inc()

	snap := d.cfg.Snapshots.BuildSnapshot()
	d.scan(ctx, snap, "")
	return nil
}

// ProcessWhaleAlert is the whale-triggered fast path. Large transactions
// force an immediate pass restricted to pairs carrying the whale's token.
func (d *Detector) ProcessWhaleAlert(ctx context.Context, tx events.WhaleTransaction) {
	token, fellBack := ParseWhaleToken(tx.Token, tx.Chain)
	if fellBack {
		d.cfg.Logger.WarnContext(ctx, "whale event carries no usable token, using chain default",
			"raw", tx.Token, "chain", tx.Chain, "token", token)
	}

	summary := d.whales.Record(token, tx)

	if !d.guard.TryAcquire() {
		d.cfg.Logger.DebugContext(ctx, "whale trigger dropped, cooldown active",
			"token", token, "usd", tx.USDValue)
		return
	}

	superWhale := tx.USDValue >= defaults.SuperWhaleThresholdUSD
	significant := math.Abs(summary.NetFlowUSD) > defaults.SignificantFlowThresholdUSD
	if !superWhale && !significant {
		return
	}

	if superWhale {
		d.cfg.Logger.InfoContext(ctx, "Super whale detected, triggering focused detection",
			"token", token, "usd", tx.USDValue, "chain", tx.Chain)
	} else {
		d.cfg.Logger.InfoContext(ctx, "Significant whale activity, triggering focused detection",
			"token", token, "net_flow", summary.NetFlowUSD, "chain", tx.Chain)
	}
	whaleTriggersTotal.Inc()

	snap := d.cfg.Snapshots.BuildSnapshot()
	d.scan(ctx, snap, token)
}

// scan walks a snapshot's pairs and publishes every opportunity that
// clears the spread, profit and confidence gates. A non-empty token
// restricts the pass to pairs carrying it.
func (d *Detector) scan(ctx context.Context, snap *IndexedSnapshot, token string) {
	for _, pair := range snap.Pairs {
		if token != "" && !PairContainsToken(pair, token) {
			continue
		}
		points := snap.ByToken[pair]
		low, high := spreadLegs(points)
		if low == nil || high == nil {
			continue
		}
		if high.Price <= low.Price*(1+pairMinSpread(low.Chain, high.Chain)) {
			continue
		}

		opp, ok := d.evaluate(ctx, pair, *low, *high)
		if !ok {
			continue
		}
		d.publish(ctx, opp)
	}
}

// spreadLegs picks the cheapest and the priciest leg of a pair.
func spreadLegs(points []PricePoint) (low, high *PricePoint) {
	for i := range points {
		p := &points[i]
		if low == nil || p.Price < low.Price {
			low = p
		}
		if high == nil || p.Price > high.Price {
			high = p
		}
	}
	if low != nil && high != nil && low.Chain == high.Chain {
		return nil, nil
	}
	return low, high
}

// pairMinSpread takes the stricter of the two legs' spread requirements.
func pairMinSpread(buyChain, sellChain string) float64 {
	return math.Max(chainMinSpread(buyChain), chainMinSpread(sellChain))
}

func chainMinSpread(chain string) float64 {
	if s, ok := minSpreads[strings.ToLower(chain)]; ok {
		return s
	}
	return defaultMinSpread
}

func chainGasCost(chain string) float64 {
	if c, ok := gasCostsUSD[strings.ToLower(chain)]; ok {
		return c
	}
	return defaultGasCostUSD
}

// evaluate estimates profit and confidence for one spread. Returns false
// when either gate rejects it.
func (d *Detector) evaluate(ctx context.Context, pair string, low, high PricePoint) (events.Opportunity, bool) {
	gross := d.cfg.TradeAmountUSD * (high.Price/low.Price - 1)

	bridgeCost := d.cfg.TradeAmountUSD * fallbackCostRate
	if p := d.cfg.Bridges.PredictOptimalBridge(low.Chain, high.Chain, d.cfg.TradeAmountUSD, "medium"); p != nil {
		bridgeCost = p.CostUSD
	}
	net := gross - bridgeCost - chainGasCost(low.Chain) - chainGasCost(high.Chain)
	if net <= 0 {
		return events.Opportunity{}, false
	}

	whale := d.whales.Summary(baseToken(pair))
	ml := d.predictPair(ctx, low, high)

	confidence := d.cfg.Calculator.Calculate(low, high, whale, ml)
	if confidence <= d.cfg.ConfidenceThreshold {
		return events.Opportunity{}, false
	}

	opp := events.Opportunity{
		ID:               uuid.NewString(),
		Type:             "cross_chain",
		SourceChain:      low.Chain,
		TargetChain:      high.Chain,
		TokenPair:        pair,
		BuyPrice:         low.Price,
		SellPrice:        high.Price,
		ExpectedProfit:   net,
		ProfitPercentage: (high.Price/low.Price - 1) * 100,
		Confidence:       confidence,
		Timestamp:        d.cfg.Clock.Now().UnixMilli(),
		MLSupported:      ml != nil,
	}
	if whale != nil {
		opp.WhaleContext = whale.Sentiment
	}
	return opp, true
}

// predictPair fetches both legs' forecasts through the single-flight
// guard. Nil when the companion is not wired or yields nothing.
func (d *Detector) predictPair(ctx context.Context, low, high PricePoint) *PairPrediction {
	if d.cfg.Predictions == nil {
		return nil
	}
	source := d.cfg.Predictions.Predict(ctx, low.Chain, low.PairKey, d.cfg.Snapshots.History(low.Chain, low.PairKey))
	target := d.cfg.Predictions.Predict(ctx, high.Chain, high.PairKey, d.cfg.Snapshots.History(high.Chain, high.PairKey))
	if source == nil && target == nil {
		return nil
	}
	return &PairPrediction{Source: source, Target: target}
}

func (d *Detector) publish(ctx context.Context, opp events.Opportunity) {
	opportunitiesTotal.WithLabelValues(opp.SourceChain, opp.TargetChain).Inc()
	d.cfg.Logger.InfoContext(ctx, "opportunity detected",
		"pair", opp.TokenPair, "source", opp.SourceChain, "target", opp.TargetChain,
		"net_profit", opp.ExpectedProfit, "confidence", opp.Confidence)
	if d.cfg.Publisher == nil {
		return
	}
	if _, err := d.cfg.Publisher.Publish(ctx, defaults.StreamOpportunities, opp); err != nil {
		d.cfg.Logger.WarnContext(ctx, "failed to publish opportunity",
			"pair", opp.TokenPair, "error", err)
	}
}

// baseToken extracts the first token of a normalized pair key.
func baseToken(pair string) string {
	base, _, _ := strings.Cut(pair, "/")
	return base
}
