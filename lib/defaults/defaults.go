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

// Package defaults contains the default constants set in various parts of
// the detection platform: canonical stream names, lease tunables, detection
// thresholds and scan cadences.
package defaults

import "time"

// Canonical stream names. Producers and consumers must use these constants,
// never string literals, so the coordinator's expected-stream list stays in
// sync with the code that writes to them.
const (
	StreamPriceUpdates         = "stream:price-updates"
	StreamSwapEvents           = "stream:swap-events"
	StreamOpportunities        = "stream:opportunities"
	StreamWhaleAlerts          = "stream:whale-alerts"
	StreamPendingOpportunities = "stream:pending-opportunities"
	StreamExecutionRequests    = "stream:execution-requests"
	StreamExecutionResults     = "stream:execution-results"
	StreamServiceHealth        = "stream:service-health"
	StreamServiceEvents        = "stream:service-events"
	StreamCoordinatorEvents    = "stream:coordinator-events"
	StreamHealth               = "stream:health"
	StreamHealthAlerts         = "stream:health-alerts"
	StreamVolumeAggregates     = "stream:volume-aggregates"
	StreamCircuitBreaker       = "stream:circuit-breaker"
	StreamSystemFailover       = "stream:system-failover"
	StreamSystemCommands       = "stream:system-commands"
	StreamFastLane             = "stream:fast-lane"
	StreamDeadLetterQueue      = "stream:dead-letter-queue"
	StreamForwardingDLQ        = "stream:forwarding-dlq"
)

// ExpectedStreams is the list the coordinator's fleet-health scan walks.
// Presence on this list is not a guarantee that anything produces to the
// stream; stream:forwarding-dlq in particular is reserved.
var ExpectedStreams = []string{
	StreamPriceUpdates,
	StreamSwapEvents,
	StreamOpportunities,
	StreamWhaleAlerts,
	StreamPendingOpportunities,
	StreamExecutionRequests,
	StreamExecutionResults,
	StreamServiceHealth,
	StreamServiceEvents,
	StreamCoordinatorEvents,
	StreamHealth,
	StreamHealthAlerts,
	StreamVolumeAggregates,
	StreamCircuitBreaker,
	StreamSystemFailover,
	StreamSystemCommands,
	StreamFastLane,
	StreamDeadLetterQueue,
	StreamForwardingDLQ,
}

// Leadership election.
const (
	// LockTTL is the leader lease lifetime. It must stay at least 3x the
	// heartbeat interval or a single missed heartbeat can cost the lease.
	LockTTL = 30 * time.Second

	// HeartbeatInterval is the base cadence of lease renewal attempts,
	// roughly a third of LockTTL.
	HeartbeatInterval = 10 * time.Second

	// MinHeartbeatInterval is the floor applied after jitter.
	MinHeartbeatInterval = time.Second

	// HeartbeatJitterRange is the total width of the uniform jitter applied
	// to each heartbeat interval (half below, half above).
	HeartbeatJitterRange = 4 * time.Second

	// MaxHeartbeatFailures is the number of consecutive heartbeat errors a
	// leader tolerates before self-demoting.
	MaxHeartbeatFailures = 3
)

// Stream consumption.
const (
	// ConsumerBatchSize is the XREADGROUP COUNT used by the consumer runtime.
	ConsumerBatchSize = 32

	// ConsumerBlock is how long a group read blocks waiting for entries.
	ConsumerBlock = 2 * time.Second

	// ClaimIdle is the idle threshold after which pending entries are
	// claimed away from their original consumer.
	ClaimIdle = 30 * time.Second

	// ClaimInterval is the cadence of the pending-entry claim sweep.
	ClaimInterval = 15 * time.Second

	// MaxDeliveries is the delivery count past which an entry is routed to
	// the dead letter queue instead of being retried.
	MaxDeliveries = 3

	// ShutdownTimeout bounds the drain of in-flight handlers on stop.
	ShutdownTimeout = 5 * time.Second

	// StreamMaxLen is the approximate per-stream MAXLEN cap enforced at
	// produce time.
	StreamMaxLen = 10000
)

// DLQ supervision.
const (
	// DLQScanInterval is the cadence of the DLQ supervisor scan cycle.
	DLQScanInterval = time.Minute

	// DLQMaxMessagesPerScan caps how many entries a single scan tallies.
	DLQMaxMessagesPerScan = 1000

	// DLQReplayMaxPages is the hard cap on pagination while locating a
	// replay target.
	DLQReplayMaxPages = 100
)

// Fleet health findings.
const (
	// UnboundedStreamLength marks a stream as unbounded.
	UnboundedStreamLength = 50000

	// StreamGrowthDelta is the per-scan growth past which a stream is
	// reported as growing.
	StreamGrowthDelta = 100

	// ConsumerLagThreshold is the group lag past which a CONSUMER_LAG
	// finding fires.
	ConsumerLagThreshold = 100

	// MissingAckPending is the pending count past which a non-decreasing
	// PEL is reported as MISSING_ACK.
	MissingAckPending = 10

	// StuckMessageIdle is the per-entry idle time past which an entry is
	// reported stuck.
	StuckMessageIdle = 30 * time.Second

	// HealthScanInterval is the cadence of the coordinator fleet scan.
	HealthScanInterval = 30 * time.Second
)

// Detection.
const (
	// SnapshotTTL is how long a (chain, pair) price point stays in the
	// snapshot index without a refresh.
	SnapshotTTL = 10 * time.Minute

	// SnapshotMaxKeys caps the number of distinct (chain, pair) keys in the
	// snapshot index; the oldest by last access is evicted past the cap.
	SnapshotMaxKeys = 10000

	// PriceHistoryCapacity is the per-(chain, pair) ring buffer size fed to
	// the prediction companion.
	PriceHistoryCapacity = 100

	// ConfidenceThreshold is the minimum composite confidence required to
	// publish an opportunity.
	ConfidenceThreshold = 0.5

	// MaxConfidence caps the composite confidence score.
	MaxConfidence = 0.95

	// TradeAmountUSD is the notional used for net profit estimation.
	TradeAmountUSD = 10000.0

	// MaintenanceInterval is the cadence of the detector maintenance sweep
	// (snapshot TTL eviction and bridge history retention).
	MaintenanceInterval = time.Minute
)

// Whale handling.
const (
	// SuperWhaleThresholdUSD is the USD value at which a transaction is a
	// super whale.
	SuperWhaleThresholdUSD = 500000.0

	// SignificantFlowThresholdUSD is the absolute net flow past which whale
	// context applies an extra boost.
	SignificantFlowThresholdUSD = 100000.0

	// WhaleGuardCooldown is the minimum spacing between whale-triggered
	// detection passes.
	WhaleGuardCooldown = 5 * time.Second
)

// Bridge latency model.
const (
	// BridgeHistoryCapacity is the per-route ring buffer size.
	BridgeHistoryCapacity = 1000

	// BridgeHistoryTrimAt is the length at which the history is trimmed
	// back to BridgeHistoryCapacity.
	BridgeHistoryTrimAt = 1100

	// BridgeRetention is the default cleanup horizon for route history.
	BridgeRetention = 30 * 24 * time.Hour

	// BridgeMinSamples is the sample count below which predictions fall
	// back to the conservative static route table.
	BridgeMinSamples = 10
)

// Prediction companion.
const (
	// PredictionTimeout bounds a single ML prediction call; a timed out
	// prediction is treated as no signal.
	PredictionTimeout = 500 * time.Millisecond

	// PredictionMinConfidence is the prediction confidence below which the
	// ML adjustment is skipped.
	PredictionMinConfidence = 0.6
)

// Transient I/O retry policy.
const (
	// RetryBaseDelay is the first backoff step for transient transport
	// errors.
	RetryBaseDelay = time.Second

	// RetryMaxDelay caps the exponential backoff.
	RetryMaxDelay = 60 * time.Second

	// RetryMaxAttempts is the attempt cap before an error is surfaced as
	// critical.
	RetryMaxAttempts = 10
)

// HTTPListenAddr is the default health/stats listen address when
// HEALTH_CHECK_PORT is not set.
const HTTPListenAddr = ":8080"
