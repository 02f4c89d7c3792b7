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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	priceUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arb",
			Subsystem: "detector",
			Name:      "price_updates_total",
			Help:      "Price updates folded into the snapshot index.",
		},
		[]string{"chain"},
	)

	opportunitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arb",
			Subsystem: "detector",
			Name:      "opportunities_total",
			Help:      "Opportunities that cleared every gate.",
		},
		[]string{"source_chain", "target_chain"},
	)

	whaleTriggersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arb",
		Subsystem: "detector",
		Name:      "whale_triggers_total",
		Help:      "Whale transactions that triggered a focused detection pass.",
	})

	predictionMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arb",
		Subsystem: "detector",
		Name:      "prediction_misses_total",
		Help:      "Prediction calls that timed out or failed.",
	})
)
