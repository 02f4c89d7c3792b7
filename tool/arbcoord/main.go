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

// Command arbcoord runs the coordinator: regional leader election, periodic
// fleet-health scans over the platform streams, failover signaling after
// sustained critical findings, and standby activation when another region's
// leader is lost. It also owns the fleet-wide circuit breaker.
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
	"github.com/sonicx222/arbitrage-new-sub013/lib/coordinator"
	"github.com/sonicx222/arbitrage-new-sub013/lib/defaults"
	"github.com/sonicx222/arbitrage-new-sub013/lib/events"
	"github.com/sonicx222/arbitrage-new-sub013/lib/leader"
	"github.com/sonicx222/arbitrage-new-sub013/lib/streams"
	"github.com/sonicx222/arbitrage-new-sub013/lib/web"
)

// coordinatorLockKey is the lease key shared by all coordinator instances
// of a deployment. One leader per deployment, across regions.
const coordinatorLockKey = "lock:leader:coordinator"

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
	logger := slog.With("service", "arbcoord", "instance", cfg.InstanceID, "region", cfg.RegionID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := connect(ctx, cfg.RedisURL, logger)
	if err != nil {
		return trace.Wrap(err)
	}
	defer client.Close()

	producer := streams.NewProducer(client)

	// Non-primary regions start as warm standbys: they scan health but stay
	// out of the election until a failover signal activates them.
	standby := cfg.EnableCrossRegionHealth && cfg.RegionID != "primary"

	elector, err := leader.NewElector(leader.ElectorConfig{
		Backend:         client,
		LockKey:         coordinatorLockKey,
		InstanceID:      cfg.InstanceID,
		IsStandby:       standby,
		CanBecomeLeader: true,
		OnLeadershipChange: func(isLeader bool) {
			logger.Info("leadership changed", "leader", isLeader)
		},
		OnAlert: func(alert events.LeadershipAlert) {
			if alert.Data == nil {
				alert.Data = map[string]any{}
			}
			alert.Data["regionId"] = cfg.RegionID
			alert.Data["instanceId"] = cfg.InstanceID
			if _, err := producer.Publish(ctx, defaults.StreamSystemFailover, alert); err != nil {
				logger.Warn("failed to publish leadership alert", "error", err)
			}
		},
	})
	if err != nil {
		return trace.Wrap(err)
	}

	activation, err := leader.NewActivationManager(leader.ActivationConfig{
		Elector: elector,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	coord, err := coordinator.New(coordinator.Config{
		Inspector:       client,
		Publisher:       producer,
		Elector:         elector,
		Activation:      activation,
		RegionID:        cfg.RegionID,
		InstanceID:      cfg.InstanceID,
		FailoverTimeout: cfg.Partition.FailoverTimeout,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	runtime, err := consumer.NewRuntime(consumer.Config{
		Client:     client,
		Service:    "arbcoord",
		InstanceID: cfg.InstanceID,
		Subscriptions: []consumer.Subscription{
			{
				Stream:  defaults.StreamSystemFailover,
				Group:   "coordinator-" + cfg.RegionID,
				Handler: coord.FailoverHandler(),
			},
		},
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
		Service:    "arbcoord",
		InstanceID: cfg.InstanceID,
		ListenAddr: cfg.ListenAddr(),
		Health:     healthCheck(client, elector),
		Breaker:    breaker,
		APIKey:     cfg.CircuitBreakerAPIKey,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	coord.Start(ctx)
	if err := runtime.Start(ctx); err != nil {
		coord.Stop()
		return trace.Wrap(err)
	}
	server.Start()
	server.SetReady(true)

	logger.InfoContext(ctx, "coordinator running",
		"standby", standby, "failover_timeout", cfg.Partition.FailoverTimeout, "addr", cfg.ListenAddr())

	<-ctx.Done()
	logger.Info("shutting down")

	server.SetReady(false)
	runtime.Stop()
	coord.Stop()
	if err := server.Stop(); err != nil {
		logger.Warn("HTTP shutdown failed", "error", err)
	}
	return nil
}

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

func healthCheck(client *streams.Client, elector *leader.Elector) web.HealthCheck {
	return func() (string, map[string]string) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		details := map[string]string{"redis": "ok"}
		if elector.IsLeader() {
			details["role"] = "leader"
		} else if elector.IsStandby() {
			details["role"] = "standby"
		} else {
			details["role"] = "follower"
		}
		if err := client.Redis().Ping(ctx).Err(); err != nil {
			details["redis"] = err.Error()
			return web.StatusUnhealthy, details
		}
		return web.StatusHealthy, details
	}
}
