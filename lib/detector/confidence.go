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

	"github.com/jonboulle/clockwork"

	"github.com/sonicx222/arbitrage-new-sub013/lib/defaults"
	"github.com/sonicx222/arbitrage-new-sub013/lib/events"
)

// PredictionResult is one directional price forecast from the prediction
// companion.
type PredictionResult struct {
	// Direction is one of "up", "down", "sideways".
	Direction string
	// Confidence is the model's own confidence in [0, 1].
	Confidence float64
	// PredictedPrice is the forecast price level.
	PredictedPrice float64
}

// PairPrediction carries the forecasts for both legs of a spread.
type PairPrediction struct {
	Source *PredictionResult
	Target *PredictionResult
}

// CalculatorConfig tunes the confidence composition. The zero value yields
// the production defaults.
type CalculatorConfig struct {
	MaxConfidence               float64
	SuperWhaleThresholdUSD      float64
	SignificantFlowThresholdUSD float64
	WhaleBullishBoost           float64
	WhaleBearishPenalty         float64
	SuperWhaleBoost             float64
	MLEnabled                   bool
	MLMinConfidence             float64
	MLAlignedBoost              float64
	MLOpposedPenalty            float64
	Clock                       clockwork.Clock
}

// CheckAndSetDefaults fills in the production defaults.
func (c *CalculatorConfig) CheckAndSetDefaults() error {
	if c.MaxConfidence <= 0 {
		c.MaxConfidence = defaults.MaxConfidence
	}
	if c.SuperWhaleThresholdUSD <= 0 {
		c.SuperWhaleThresholdUSD = defaults.SuperWhaleThresholdUSD
	}
	if c.SignificantFlowThresholdUSD <= 0 {
		c.SignificantFlowThresholdUSD = defaults.SignificantFlowThresholdUSD
	}
	if c.WhaleBullishBoost <= 0 {
		c.WhaleBullishBoost = 1.15
	}
	if c.WhaleBearishPenalty <= 0 {
		c.WhaleBearishPenalty = 0.85
	}
	if c.SuperWhaleBoost <= 0 {
		c.SuperWhaleBoost = 1.25
	}
	if c.MLMinConfidence <= 0 {
		c.MLMinConfidence = defaults.PredictionMinConfidence
	}
	if c.MLAlignedBoost <= 0 {
		c.MLAlignedBoost = 1.15
	}
	if c.MLOpposedPenalty <= 0 {
		c.MLOpposedPenalty = 0.9
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Calculator composes a confidence score for a cross-chain spread. For
// fixed inputs and a fixed clock reading the result is deterministic.
type Calculator struct {
	cfg CalculatorConfig
}

// NewCalculator returns a Calculator with the given tuning.
func NewCalculator(cfg CalculatorConfig) (*Calculator, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, err
	}
	return &Calculator{cfg: cfg}, nil
}

// totalBoostCap bounds the combined ML and whale multiplier relative to the
// pre-adjustment score.
const totalBoostCap = 1.5

// Calculate scores a spread between the low-price and high-price legs.
// whale and ml are optional context; nil means no signal. The result is in
// [0, MaxConfidence] and always finite.
func (c *Calculator) Calculate(low, high PricePoint, whale *events.WhaleSummary, ml *PairPrediction) float64 {
	if !isFinitePositive(low.Price) || !isFinitePositive(high.Price) {
		return 0
	}

	base := math.Min(high.Price/low.Price-1, 0.5) * 2
	base = clamp01(base)

	ageMinutes := math.Max(0, float64(c.cfg.Clock.Now().UnixMilli()-low.Timestamp)/60000)
	score := base * math.Max(0.1, 1-ageMinutes*0.1)

	preBoost := score

	if c.cfg.MLEnabled && ml != nil {
		score = c.applyML(score, ml)
	}
	if whale != nil {
		score = c.applyWhale(score, whale)
	}

	if preBoost > 0 && score/preBoost > totalBoostCap {
		score = preBoost * totalBoostCap
	}
	return math.Min(score, c.cfg.MaxConfidence)
}

func (c *Calculator) applyML(score float64, ml *PairPrediction) float64 {
	sourceBoosted := false
	if p := ml.Source; p != nil && p.Confidence >= c.cfg.MLMinConfidence {
		switch p.Direction {
		case "up":
			score *= c.cfg.MLAlignedBoost
			sourceBoosted = true
		case "down":
			score *= c.cfg.MLOpposedPenalty
		}
	}
	if p := ml.Target; p != nil && p.Confidence >= c.cfg.MLMinConfidence {
		switch p.Direction {
		case "up", "sideways":
			if sourceBoosted {
				score *= 1.05
			} else {
				score *= c.cfg.MLAlignedBoost
			}
		case "down":
			score *= c.cfg.MLOpposedPenalty
		}
	}
	return score
}

func (c *Calculator) applyWhale(score float64, whale *events.WhaleSummary) float64 {
	switch whale.Sentiment {
	case "bullish":
		score *= c.cfg.WhaleBullishBoost
	case "bearish":
		score *= c.cfg.WhaleBearishPenalty
	}
	if whale.SuperWhaleCount > 0 {
		score *= c.cfg.SuperWhaleBoost
	}
	if math.Abs(whale.NetFlowUSD) > c.cfg.SignificantFlowThresholdUSD {
		score *= 1.1
	}
	return score
}

func isFinitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
