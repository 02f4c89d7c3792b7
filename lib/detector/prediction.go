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
	"context"
	"log/slog"
	"time"

	"github.com/gravitational/trace"

	"github.com/sonicx222/arbitrage-new-sub013/lib/defaults"
	"github.com/sonicx222/arbitrage-new-sub013/lib/utils"
)

// PricePredictionManager is the prediction companion. Implementations may
// call out of process; the guard below bounds their latency.
type PricePredictionManager interface {
	// Predict forecasts the near-term direction for one (chain, pair)
	// given its recent price history, oldest first.
	Predict(ctx context.Context, chain, pairKey string, history []PricePoint) (*PredictionResult, error)
}

// PredictionGuardConfig configures a PredictionGuard.
type PredictionGuardConfig struct {
	// Manager is the underlying predictor.
	Manager PricePredictionManager
	// Timeout bounds one prediction call.
	Timeout time.Duration
	// Logger is the guard's structured logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *PredictionGuardConfig) CheckAndSetDefaults() error {
	if c.Manager == nil {
		return trace.BadParameter("missing parameter Manager")
	}
	if c.Timeout <= 0 {
		c.Timeout = defaults.PredictionTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.With("component", "prediction-guard")
	}
	return nil
}

// PredictionGuard wraps the prediction companion with a per-call timeout
// and a single-flight map keyed by (chain, pair), so concurrent detection
// passes share one in-flight prediction. A timed-out or failed prediction
// is no signal, never an error.
type PredictionGuard struct {
	cfg    PredictionGuardConfig
	flight *utils.FlightGroup[string, *PredictionResult]
}

// NewPredictionGuard returns a guard over the given manager.
func NewPredictionGuard(cfg PredictionGuardConfig) (*PredictionGuard, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &PredictionGuard{
		cfg:    cfg,
		flight: utils.NewFlightGroup[string, *PredictionResult](),
	}, nil
}

// Predict returns the forecast for one (chain, pair), or nil when the
// prediction is unavailable within the latency budget.
func (g *PredictionGuard) Predict(ctx context.Context, chain, pairKey string, history []PricePoint) *PredictionResult {
	key := chain + "|" + pairKey
	result, _, err := g.flight.Do(ctx, key, func() (*PredictionResult, error) {
		// The timeout context is the losing timer in the race; cancel
		// releases it on every outcome.
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
		return g.cfg.Manager.Predict(callCtx, chain, pairKey, history)
	})
	if err != nil {
		predictionMisses.Inc()
		g.cfg.Logger.DebugContext(ctx, "prediction unavailable",
			"chain", chain, "pair", pairKey, "error", err)
		return nil
	}
	return result
}
