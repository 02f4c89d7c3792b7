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

package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/sonicx222/arbitrage-new-sub013/lib/defaults"
	"github.com/sonicx222/arbitrage-new-sub013/lib/dlq"
)

type fakeStats struct {
	stats dlq.Stats
}

func (f *fakeStats) GetStats() dlq.Stats { return f.stats }

type capturePublisher struct {
	stream   string
	payloads []any
}

func (p *capturePublisher) Publish(ctx context.Context, stream string, payload any) (string, error) {
	p.stream = stream
	p.payloads = append(p.payloads, payload)
	return "1-0", nil
}

func newTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	cfg := Config{
		Service:    "detector",
		InstanceID: "test-1",
		Clock:      clockwork.NewFakeClock(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	var body map[string]any
	if strings.Contains(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthStatuses(t *testing.T) {
	status := StatusHealthy
	srv := newTestServer(t, func(cfg *Config) {
		cfg.Health = func() (string, map[string]string) {
			return status, map[string]string{"redis": "ok"}
		}
	})

	rec, body := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "healthy", body["status"])
	require.Equal(t, "detector", body["service"])
	require.Equal(t, "test-1", body["instanceId"])

	status = StatusDegraded
	rec, body = doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "degraded", body["status"])

	status = StatusUnhealthy
	rec, body = doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "unhealthy", body["status"])
}

func TestReadyProbe(t *testing.T) {
	srv := newTestServer(t, nil)

	rec, body := doJSON(t, srv, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, false, body["ready"])

	srv.SetReady(true)
	rec, body = doJSON(t, srv, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["ready"])
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t, func(cfg *Config) {
		cfg.Stats = &fakeStats{stats: dlq.Stats{
			TotalMessages: 7,
			ByErrorCode:   map[string]int64{"VAL_BAD_SHAPE": 4, "UNKNOWN": 3},
			OldestAge:     90 * time.Minute,
		}}
	})

	rec, body := doJSON(t, srv, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "detector", body["service"])
	snapshot, ok := body["dlq"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(7), snapshot["totalMessages"])
}

func TestStatsWithoutSource(t *testing.T) {
	srv := newTestServer(t, nil)
	rec, body := doJSON(t, srv, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snapshot, ok := body["dlq"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(0), snapshot["totalMessages"])
}

func TestBreakerLifecycle(t *testing.T) {
	pub := &capturePublisher{}
	breaker, err := NewCircuitBreaker(BreakerConfig{
		InstanceID: "test-1",
		Publisher:  pub,
		Clock:      clockwork.NewFakeClock(),
	})
	require.NoError(t, err)
	srv := newTestServer(t, func(cfg *Config) {
		cfg.Breaker = breaker
		cfg.APIKey = "sekrit"
	})

	rec, body := doJSON(t, srv, http.MethodGet, "/circuit-breaker", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, body["open"])

	rec, body = doJSON(t, srv, http.MethodPost, "/circuit-breaker/open",
		http.Header{"X-API-Key": []string{"sekrit"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["open"])
	require.True(t, breaker.IsOpen())

	rec, body = doJSON(t, srv, http.MethodPost, "/circuit-breaker/close",
		http.Header{"Authorization": []string{"Bearer sekrit"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, body["open"])
	require.False(t, breaker.IsOpen())

	require.Equal(t, defaults.StreamCircuitBreaker, pub.stream)
	require.Len(t, pub.payloads, 2)
}

func TestBreakerAuthRequired(t *testing.T) {
	breaker, err := NewCircuitBreaker(BreakerConfig{InstanceID: "test-1"})
	require.NoError(t, err)
	srv := newTestServer(t, func(cfg *Config) {
		cfg.Breaker = breaker
		cfg.APIKey = "sekrit"
	})

	rec, _ := doJSON(t, srv, http.MethodPost, "/circuit-breaker/open", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = doJSON(t, srv, http.MethodPost, "/circuit-breaker/open",
		http.Header{"X-API-Key": []string{"wrong"}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, breaker.IsOpen())

	// GET state needs no key.
	rec, _ = doJSON(t, srv, http.MethodGet, "/circuit-breaker", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBreakerDisabledWithoutKey(t *testing.T) {
	breaker, err := NewCircuitBreaker(BreakerConfig{InstanceID: "test-1"})
	require.NoError(t, err)
	srv := newTestServer(t, func(cfg *Config) {
		cfg.Breaker = breaker
	})

	rec, _ := doJSON(t, srv, http.MethodPost, "/circuit-breaker/open",
		http.Header{"X-API-Key": []string{"anything"}})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBreakerReopenDoesNotRepublish(t *testing.T) {
	pub := &capturePublisher{}
	breaker, err := NewCircuitBreaker(BreakerConfig{InstanceID: "test-1", Publisher: pub})
	require.NoError(t, err)

	ctx := context.Background()
	breaker.Open(ctx, "manual")
	breaker.Open(ctx, "still down")
	require.Len(t, pub.payloads, 1)
	require.Equal(t, "still down", breaker.State().Reason)

	breaker.Close(ctx)
	breaker.Close(ctx)
	require.Len(t, pub.payloads, 2)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "# HELP")
}
