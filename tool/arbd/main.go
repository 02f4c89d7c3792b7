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

// Command arbd runs one partition detector: it consumes price updates and
// whale alerts for the partition's chains, detects cross-chain arbitrage
// openings and publishes them, and supervises its dead letter queue.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gravitational/trace"

	"github.com/sonicx222/arbitrage-new-sub013/lib/config"
	"github.com/sonicx222/arbitrage-new-sub013/lib/consumer"
	"github.com/sonicx222/arbitrage-new-sub013/lib/defaults"
	"github.com/sonicx222/arbitrage-new-sub013/lib/detector"
	"github.com/sonicx222/arbitrage-new-sub013/lib/dlq"
	"github.com/sonicx222/arbitrage-new-sub013/lib/events"
	"github.com/sonicx222/arbitrage-new-sub013/lib/streams"
	"github.com/sonicx222/arbitrage-new-sub013/lib/web"
)

const detectorGroup = "detector"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return trace.Wrap(err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})))
	logger := slog.With("service", "arbd", "instance", cfg.InstanceID, "partition", cfg.Partition.ID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := connect(ctx, cfg.RedisURL, logger)
	if err != nil {
		return trace.Wrap(err)
	}
	defer client.Close()

	producer := streams.NewProducer(client)

	snapshots, err := detector.NewSnapshotIndex(detector.SnapshotConfig{})
	if err != nil {
		return trace.Wrap(err)
	}
	calculator, err := detector.NewCalculator(detector.CalculatorConfig{})
	if err != nil {
		return trace.Wrap(err)
	}
	bridges, err := detector.NewBridgeModel(detector.BridgeModelConfig{})
	if err != nil {
		return trace.Wrap(err)
	}
	det, err := detector.New(detector.Config{
		Snapshots:  snapshots,
		Calculator: calculator,
		Bridges:    bridges,
		Publisher:  producer,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	known := make(map[string]bool, len(cfg.Partition.Chains))
	for _, chain := range cfg.Partition.Chains {
		known[chain] = true
	}

	runtime, err := consumer.NewRuntime(consumer.Config{
		Client:     client,
		Service:    "arbd",
		InstanceID: cfg.InstanceID,
		Subscriptions: []consumer.Subscription{
			{
				Stream:  defaults.StreamPriceUpdates,
				Group:   detectorGroup,
				Handler: priceHandler(det, known),
			},
			{
				Stream:  defaults.StreamWhaleAlerts,
				Group:   detectorGroup,
				Handler: whaleHandler(det),
			},
			{
				Stream:  defaults.StreamExecutionResults,
				Group:   detectorGroup,
				Handler: executionHandler(bridges),
			},
		},
	})
	if err != nil {
		return trace.Wrap(err)
	}

	supervisor, err := dlq.NewSupervisor(dlq.Config{Client: client})
	if err != nil {
		return trace.Wrap(err)
	}

	maintenance, err := detector.NewMaintenance(detector.MaintenanceConfig{
		Snapshots: snapshots,
		Bridges:   bridges,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	breaker, err := web.NewCircuitBreaker(web.BreakerConfig{
		InstanceID: cfg.InstanceID,
		Publisher:  producer,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	server, err := web.NewServer(web.Config{
		Service:    "arbd",
		InstanceID: cfg.InstanceID,
		ListenAddr: cfg.ListenAddr(),
		Health:     healthCheck(client, breaker),
		Stats:      supervisor,
		Breaker:    breaker,
		APIKey:     cfg.CircuitBreakerAPIKey,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	if err := runtime.Start(ctx); err != nil {
		return trace.Wrap(err)
	}
	supervisor.Start(ctx)
	maintenance.Start(ctx)
	server.Start()
	server.SetReady(true)

	logger.InfoContext(ctx, "partition detector running",
		"chains", cfg.Partition.Chains, "addr", cfg.ListenAddr())

	<-ctx.Done()
	logger.Info("shutting down")

	server.SetReady(false)
	maintenance.Stop()
	supervisor.Stop()
	runtime.Stop()
	if err := server.Stop(); err != nil {
		logger.Warn("HTTP shutdown failed", "error", err)
	}
	return nil
}

// connect dials Redis with exponential backoff so a detector restart can
// ride out a short Redis outage instead of crash-looping.
func connect(ctx context.Context, redisURL string, logger *slog.Logger) (*streams.Client, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = defaults.RetryBaseDelay
	policy.MaxInterval = defaults.RetryMaxDelay
	policy.MaxElapsedTime = 0

	var client *streams.Client
	err := backoff.Retry(func() error {
		var err error
		client, err = streams.Connect(ctx, redisURL)
		if err != nil {
			logger.WarnContext(ctx, "Redis connection failed, retrying", "error", err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, defaults.RetryMaxAttempts), ctx))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return client, nil
}

func healthCheck(client *streams.Client, breaker *web.CircuitBreaker) web.HealthCheck {
	return func() (string, map[string]string) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		details := map[string]string{"redis": "ok"}
		if err := client.Redis().Ping(ctx).Err(); err != nil {
			details["redis"] = err.Error()
			return web.StatusUnhealthy, details
		}
		if breaker.IsOpen() {
			details["circuitBreaker"] = "open"
			return web.StatusDegraded, details
		}
		return web.StatusHealthy, details
	}
}

// priceHandler decodes price updates and feeds the hot detection path.
// Updates for chains outside this partition are acknowledged and skipped;
// another partition owns them.
func priceHandler(det *detector.Detector, knownChains map[string]bool) consumer.Handler {
	return func(ctx context.Context, entry streams.Entry) error {
		var update events.PriceUpdate
		if err := events.Unmarshal(entry.Fields, &update); err != nil {
			return consumer.Permanent(consumer.CodeValBadShape, err)
		}
		if update.Chain == "" {
			return consumer.Permanentf(consumer.CodeErrNoChain, "price update %v carries no chain", entry.ID)
		}
		if !knownChains[update.Chain] {
			return nil
		}
		if err := det.ProcessPriceUpdate(ctx, update); err != nil {
			return consumer.Permanent(consumer.CodeValBadShape, err)
		}
		return nil
	}
}

// executionHandler folds reported bridge outcomes into the latency model so
// predictions graduate from the static route table to observed behavior.
func executionHandler(bridges *detector.BridgeModel) consumer.Handler {
	return func(ctx context.Context, entry streams.Entry) error {
		var res events.ExecutionResult
		if err := events.Unmarshal(entry.Fields, &res); err != nil {
			return consumer.Permanent(consumer.CodeValBadShape, err)
		}
		if res.SourceChain == "" || res.TargetChain == "" {
			return consumer.Permanentf(consumer.CodeErrNoChain, "execution result %v carries no chain", entry.ID)
		}
		if err := bridges.RecordExecution(res); err != nil {
			return consumer.Permanent(consumer.CodeValBadShape, err)
		}
		return nil
	}
}

// whaleHandler decodes whale transactions and triggers the focused fast
// path. Whale processing never fails an entry; a malformed token falls back
// to the chain default inside the detector.
func whaleHandler(det *detector.Detector) consumer.Handler {
	return func(ctx context.Context, entry streams.Entry) error {
		var tx events.WhaleTransaction
		if err := events.Unmarshal(entry.Fields, &tx); err != nil {
			return consumer.Permanent(consumer.CodeValBadShape, err)
		}
		if tx.Chain == "" {
			return consumer.Permanentf(consumer.CodeErrNoChain, "whale alert %v carries no chain", entry.ID)
		}
		det.ProcessWhaleAlert(ctx, tx)
		return nil
	}
}
