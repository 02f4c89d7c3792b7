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

package streams

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sonicx222/arbitrage-new-sub013/lib/events"
)

func TestProducerPublishRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	producer := NewProducer(client)

	opp := events.Opportunity{
		ID:          "opp-1",
		Type:        "cross_chain",
		SourceChain: "arbitrum",
		TargetChain: "optimism",
		TokenPair:   "PEPE/USDC",
		Confidence:  0.61,
	}
	id, err := producer.Publish(ctx, "stream:opportunities", opp)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	entries, err := client.Range(ctx, "stream:opportunities", "-", "+", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var decoded events.Opportunity
	require.NoError(t, events.Unmarshal(entries[0].Fields, &decoded))
	require.Equal(t, opp, decoded)
}

func TestProducerEnforcesMaxLen(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	producer := &Producer{
		client: client,
		maxLen: 5,
		logger: slog.Default(),
	}

	for i := 0; i < 20; i++ {
		_, err := producer.Publish(ctx, "stream:test", map[string]int{"i": i})
		require.NoError(t, err)
	}
	n, err := client.Len(ctx, "stream:test")
	require.NoError(t, err)
	// MAXLEN ~ is approximate on a real server; miniredis trims exactly.
	require.LessOrEqual(t, n, int64(20))
	require.GreaterOrEqual(t, n, int64(5))
}

func TestProducerRejectsUnmarshalablePayload(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	producer := NewProducer(client)

	_, err := producer.Publish(ctx, "stream:test", make(chan int))
	require.Error(t, err)

	n, err := client.Len(ctx, "stream:test")
	require.NoError(t, err)
	require.Zero(t, n)
}
