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

// Package events defines the JSON payloads carried on the platform streams.
// Producers are chain workers and the detector; consumers are the detector,
// the DLQ supervisor and the coordinator. Payloads tolerate unknown extra
// fields.
package events

import (
	"encoding/json"

	"github.com/gravitational/trace"
)

// PriceUpdate is a normalized price observation for one DEX pool,
// published by a chain worker on stream:price-updates.
type PriceUpdate struct {
	Chain       string  `json:"chain"`
	DEX         string  `json:"dex"`
	PairKey     string  `json:"pairKey"`
	Price       float64 `json:"price"`
	Reserve0    float64 `json:"reserve0"`
	Reserve1    float64 `json:"reserve1"`
	BlockNumber uint64  `json:"blockNumber"`
	Timestamp   int64   `json:"timestamp"`
	LatencyMs   int64   `json:"latency"`
}

// Check validates the fields the detection core depends on.
func (p *PriceUpdate) Check() error {
	if p.Chain == "" {
		return trace.BadParameter("price update missing chain")
	}
	if p.PairKey == "" {
		return trace.BadParameter("price update missing pairKey")
	}
	if p.Price <= 0 {
		return trace.BadParameter("price update for %v/%v has non-positive price", p.Chain, p.PairKey)
	}
	return nil
}

// WhaleTransaction is a large swap or transfer observed on-chain, published
// on stream:whale-alerts.
type WhaleTransaction struct {
	TransactionHash string  `json:"transactionHash"`
	Address         string  `json:"address"`
	Token           string  `json:"token"`
	Amount          float64 `json:"amount"`
	USDValue        float64 `json:"usdValue"`
	Direction       string  `json:"direction"`
	DEX             string  `json:"dex"`
	Chain           string  `json:"chain"`
	Timestamp       int64   `json:"timestamp"`
	Impact          float64 `json:"impact"`
}

// WhaleSummary aggregates recent whale activity for one token pair; the
// confidence calculator consumes it as an adjustment input.
type WhaleSummary struct {
	Sentiment       string  `json:"sentiment"`
	SuperWhaleCount int     `json:"superWhaleCount"`
	NetFlowUSD      float64 `json:"netFlowUsd"`
}

// Opportunity is a detected cross-chain arbitrage opening, published on
// stream:opportunities.
type Opportunity struct {
	ID               string  `json:"id"`
	Type             string  `json:"type"`
	SourceChain      string  `json:"sourceChain"`
	TargetChain      string  `json:"targetChain"`
	TokenPair        string  `json:"tokenPair"`
	BuyPrice         float64 `json:"buyPrice"`
	SellPrice        float64 `json:"sellPrice"`
	ExpectedProfit   float64 `json:"expectedProfit"`
	ProfitPercentage float64 `json:"profitPercentage"`
	Confidence       float64 `json:"confidence"`
	Timestamp        int64   `json:"timestamp"`
	MLSupported      bool    `json:"mlSupported,omitempty"`
	WhaleContext     string  `json:"whaleContext,omitempty"`
}

// ExecutionResult reports the outcome of one executed cross-chain transfer,
// published on stream:execution-results. The bridge latency model consumes
// these to replace its static route table with observed behavior.
type ExecutionResult struct {
	OpportunityID string  `json:"opportunityId,omitempty"`
	SourceChain   string  `json:"sourceChain"`
	TargetChain   string  `json:"targetChain"`
	Bridge        string  `json:"bridge"`
	LatencySec    float64 `json:"latencySec"`
	CostUSD       float64 `json:"costUsd"`
	Success       bool    `json:"success"`
	Timestamp     int64   `json:"timestamp"`
}

// Check validates the fields the bridge model depends on.
func (r *ExecutionResult) Check() error {
	if r.SourceChain == "" || r.TargetChain == "" {
		return trace.BadParameter("execution result missing chain")
	}
	if r.Bridge == "" {
		return trace.BadParameter("execution result for %v-%v missing bridge", r.SourceChain, r.TargetChain)
	}
	if r.LatencySec < 0 || r.CostUSD < 0 {
		return trace.BadParameter("execution result for %v-%v has negative latency or cost", r.SourceChain, r.TargetChain)
	}
	return nil
}

// DLQEntry wraps an entry that could not be handled, preserving the original
// payload for replay.
type DLQEntry struct {
	OriginalMessageID string `json:"originalMessageId"`
	OriginalStream    string `json:"originalStream"`
	OpportunityID     string `json:"opportunityId,omitempty"`
	OpportunityType   string `json:"opportunityType,omitempty"`
	Error             string `json:"error"`
	Timestamp         int64  `json:"timestamp"`
	Service           string `json:"service"`
	InstanceID        string `json:"instanceId"`
	OriginalPayload   string `json:"originalPayload,omitempty"`
}

// Leadership alert kinds.
const (
	AlertLeaderAcquired         = "LEADER_ACQUIRED"
	AlertLeaderLost             = "LEADER_LOST"
	AlertLeaderDemotion         = "LEADER_DEMOTION"
	AlertLeaderHeartbeatFailure = "LEADER_HEARTBEAT_FAILURE"
)

// Alert severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// LeadershipAlert describes a leadership state transition, published on
// stream:system-failover.
type LeadershipAlert struct {
	Type      string         `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// Circuit breaker states.
const (
	BreakerOpen   = "open"
	BreakerClosed = "closed"
)

// CircuitBreakerEvent records a breaker transition, published on
// stream:circuit-breaker.
type CircuitBreakerEvent struct {
	State      string `json:"state"`
	Reason     string `json:"reason,omitempty"`
	InstanceID string `json:"instanceId"`
	Timestamp  int64  `json:"timestamp"`
}

// Marshal encodes a payload as the single "data" field carried in a stream
// entry.
func Marshal(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"data": string(data)}, nil
}

// Unmarshal decodes the "data" field of a stream entry into v.
func Unmarshal(fields map[string]any, v any) error {
	raw, ok := fields["data"].(string)
	if !ok {
		return trace.BadParameter("stream entry missing data field")
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return trace.Wrap(err)
	}
	return nil
}
