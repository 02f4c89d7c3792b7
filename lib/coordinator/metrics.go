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

package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	findingsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arb",
		Subsystem: "coordinator",
		Name:      "findings",
		Help:      "Fleet-health findings in the last scan.",
	})

	criticalGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arb",
		Subsystem: "coordinator",
		Name:      "critical_findings",
		Help:      "Critical fleet-health findings in the last scan.",
	})

	failoversTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arb",
		Subsystem: "coordinator",
		Name:      "failovers_total",
		Help:      "Failover signals published.",
	})
)
