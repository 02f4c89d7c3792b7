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

// Package config resolves service configuration from the environment.
// Required settings fail loudly at startup; nothing required is silently
// defaulted.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// Recognized environment variables.
const (
	EnvRedisURL                = "REDIS_URL"
	EnvInstanceID              = "INSTANCE_ID"
	EnvRegionID                = "REGION_ID"
	EnvEnableCrossRegionHealth = "ENABLE_CROSS_REGION_HEALTH"
	EnvHealthCheckPort         = "HEALTH_CHECK_PORT"
	EnvPartitionChains         = "PARTITION_CHAINS"
	EnvLogLevel                = "LOG_LEVEL"
	EnvCircuitBreakerAPIKey    = "CIRCUIT_BREAKER_API_KEY"
)

// ChainEndpoints are one chain's upstream node endpoints.
type ChainEndpoints struct {
	RPCURL string
	WSURL  string
}

// Partition is one deployment slice of the chain universe. Each partition
// runs its own detector service and failover window.
type Partition struct {
	// ID is the partition name carried in PARTITION_CHAINS.
	ID string
	// Chains lists the chains this partition's workers cover.
	Chains []string
	// FailoverTimeout is how long the region may stay critical before a
	// failover signal fires.
	FailoverTimeout time.Duration
}

// partitions is the deployment registry. An unknown partition id is a
// startup error, never a silent default.
var partitions = map[string]Partition{
	"asia-fast": {
		ID:              "asia-fast",
		Chains:          []string{"bsc", "polygon"},
		FailoverTimeout: 45 * time.Second,
	},
	"l2-turbo": {
		ID:              "l2-turbo",
		Chains:          []string{"arbitrum", "optimism", "base"},
		FailoverTimeout: 50 * time.Second,
	},
	"eth-mainnet": {
		ID:              "eth-mainnet",
		Chains:          []string{"ethereum"},
		FailoverTimeout: 60 * time.Second,
	},
}

// Config is the resolved service configuration.
type Config struct {
	RedisURL                string
	InstanceID              string
	RegionID                string
	EnableCrossRegionHealth bool
	HealthCheckPort         int
	Partition               Partition
	Endpoints               map[string]ChainEndpoints
	LogLevel                slog.Level
	CircuitBreakerAPIKey    string
}

// ListenAddr returns the HTTP listen address for the health surface.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.HealthCheckPort)
}

// FromEnv resolves the configuration from the process environment.
func FromEnv() (*Config, error) {
	cfg := &Config{
		RedisURL:             os.Getenv(EnvRedisURL),
		InstanceID:           os.Getenv(EnvInstanceID),
		RegionID:             os.Getenv(EnvRegionID),
		CircuitBreakerAPIKey: os.Getenv(EnvCircuitBreakerAPIKey),
		HealthCheckPort:      8080,
		LogLevel:             slog.LevelInfo,
		Endpoints:            make(map[string]ChainEndpoints),
	}
	if cfg.RedisURL == "" {
		return nil, trace.BadParameter("%v is required", EnvRedisURL)
	}
	if cfg.InstanceID == "" {
		host, _ := os.Hostname()
		if host == "" {
			host = "arb"
		}
		cfg.InstanceID = host + "-" + uuid.NewString()[:8]
	}
	if cfg.RegionID == "" {
		cfg.RegionID = "primary"
	}
	if v := os.Getenv(EnvEnableCrossRegionHealth); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, trace.BadParameter("invalid %v %q: %v", EnvEnableCrossRegionHealth, v, err)
		}
		cfg.EnableCrossRegionHealth = enabled
	}
	if v := os.Getenv(EnvHealthCheckPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return nil, trace.BadParameter("invalid %v %q", EnvHealthCheckPort, v)
		}
		cfg.HealthCheckPort = port
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		cfg.LogLevel = level
	}

	partitionID := os.Getenv(EnvPartitionChains)
	if partitionID == "" {
		return nil, trace.BadParameter("%v is required", EnvPartitionChains)
	}
	partition, ok := partitions[partitionID]
	if !ok {
		return nil, trace.BadParameter("unknown partition %q, known partitions: %v",
			partitionID, PartitionIDs())
	}
	cfg.Partition = partition

	for _, chain := range partition.Chains {
		prefix := strings.ToUpper(chain)
		cfg.Endpoints[chain] = ChainEndpoints{
			RPCURL: os.Getenv(prefix + "_RPC_URL"),
			WSURL:  os.Getenv(prefix + "_WS_URL"),
		}
	}
	return cfg, nil
}

// PartitionIDs lists the known partition ids.
func PartitionIDs() []string {
	ids := make([]string, 0, len(partitions))
	for id := range partitions {
		ids = append(ids, id)
	}
	return ids
}

// LookupPartition resolves one partition by id.
func LookupPartition(id string) (Partition, bool) {
	p, ok := partitions[id]
	return p, ok
}

func parseLogLevel(v string) (slog.Level, error) {
	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, trace.BadParameter("unknown log level %q", v)
}
