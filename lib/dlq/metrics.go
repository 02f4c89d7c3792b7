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

package dlq

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dlqDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arb",
		Subsystem: "dlq",
		Name:      "depth",
		Help:      "Dead letter queue length at the last scan.",
	})

	dlqOldestAge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arb",
		Subsystem: "dlq",
		Name:      "oldest_age_seconds",
		Help:      "Age of the earliest dead letter queue entry at the last scan.",
	})

	replayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arb",
		Subsystem: "dlq",
		Name:      "replayed_total",
		Help:      "DLQ entries replayed to the execution pipeline.",
	})
)
