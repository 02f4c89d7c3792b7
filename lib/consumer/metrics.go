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

package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arb",
			Subsystem: "consumer",
			Name:      "messages_processed_total",
			Help:      "Stream entries handled and acknowledged.",
		},
		[]string{"stream", "group"},
	)

	dlqRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arb",
			Subsystem: "consumer",
			Name:      "dlq_routed_total",
			Help:      "Stream entries routed to the dead letter queue by error code.",
		},
		[]string{"stream", "code"},
	)
)
