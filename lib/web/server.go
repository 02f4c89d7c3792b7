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

// Package web serves the operational HTTP surface of a platform service:
// liveness and readiness probes, DLQ statistics, the circuit breaker control
// endpoints and the Prometheus scrape handler.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sonicx222/arbitrage-new-sub013/lib/defaults"
	"github.com/sonicx222/arbitrage-new-sub013/lib/dlq"
)

// Health statuses reported by /health.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthCheck reports the service's own view of its health. The detail map
// is surfaced verbatim in the /health response.
type HealthCheck func() (status string, details map[string]string)

// StatsSource provides the DLQ snapshot served on /stats. Satisfied by
// dlq.Supervisor.
type StatsSource interface {
	GetStats() dlq.Stats
}

// Config configures a Server.
type Config struct {
	// Service names the service in probe responses.
	Service string
	// InstanceID identifies this instance in probe responses.
	InstanceID string
	// ListenAddr is the bind address, host optional.
	ListenAddr string
	// Health is the liveness callback. Optional; defaults to always healthy.
	Health HealthCheck
	// Stats provides DLQ statistics. Optional; /stats returns an empty
	// snapshot without one.
	Stats StatsSource
	// Breaker is the circuit breaker controlled by this surface. Optional;
	// without one the breaker endpoints return 404.
	Breaker *CircuitBreaker
	// APIKey authorizes breaker mutations. Empty disables the POST
	// endpoints.
	APIKey string
	// Clock stamps probe responses.
	Clock clockwork.Clock
	// Logger is the server's structured logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Service == "" {
		return trace.BadParameter("missing parameter Service")
	}
	if c.InstanceID == "" {
		return trace.BadParameter("missing parameter InstanceID")
	}
	if c.ListenAddr == "" {
		c.ListenAddr = defaults.HTTPListenAddr
	}
	if c.Health == nil {
		c.Health = func() (string, map[string]string) { return StatusHealthy, nil }
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.With("component", "web", "service", c.Service)
	}
	return nil
}

// Server is the operational HTTP surface.
type Server struct {
	cfg     Config
	router  *httprouter.Router
	httpSrv *http.Server
	started time.Time
	ready   atomic.Bool
}

// NewServer returns a Server ready to Start. The instance reports not ready
// until SetReady is called.
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	s := &Server{
		cfg:     cfg,
		started: cfg.Clock.Now(),
	}

	router := httprouter.New()
	router.GET("/health", s.handleHealth)
	router.GET("/ready", s.handleReady)
	router.GET("/stats", s.handleStats)
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	if cfg.Breaker != nil {
		router.GET("/circuit-breaker", s.handleBreakerState)
		router.POST("/circuit-breaker/open", s.withAPIKey(s.handleBreakerOpen))
		router.POST("/circuit-breaker/close", s.withAPIKey(s.handleBreakerClose))
	}
	s.router = router
	return s, nil
}

// Handler exposes the routing table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetReady flips the readiness probe. Call once startup wiring completes.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.cfg.Logger.Info("serving operational HTTP", "addr", s.cfg.ListenAddr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.cfg.Logger.Error("HTTP server exited", "error", err)
		}
	}()
}

// Stop shuts the server down, draining in-flight requests for up to 5s.
func (s *Server) Stop() error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return trace.Wrap(s.httpSrv.Shutdown(ctx))
}

type healthResponse struct {
	Status     string            `json:"status"`
	Service    string            `json:"service"`
	InstanceID string            `json:"instanceId"`
	UptimeSec  int64             `json:"uptimeSec"`
	Timestamp  int64             `json:"timestamp"`
	Details    map[string]string `json:"details,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	status, details := s.cfg.Health()
	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{
		Status:     status,
		Service:    s.cfg.Service,
		InstanceID: s.cfg.InstanceID,
		UptimeSec:  int64(s.cfg.Clock.Since(s.started).Seconds()),
		Timestamp:  s.cfg.Clock.Now().UnixMilli(),
		Details:    details,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

type statsResponse struct {
	Service   string    `json:"service"`
	DLQ       dlq.Stats `json:"dlq"`
	Timestamp int64     `json:"timestamp"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var snapshot dlq.Stats
	if s.cfg.Stats != nil {
		snapshot = s.cfg.Stats.GetStats()
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Service:   s.cfg.Service,
		DLQ:       snapshot,
		Timestamp: s.cfg.Clock.Now().UnixMilli(),
	})
}

func (s *Server) handleBreakerState(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.cfg.Breaker.State())
}

func (s *Server) handleBreakerOpen(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		Reason string `json:"reason"`
	}
	// Body is optional; a bare POST opens with no reason.
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.cfg.Breaker.Open(r.Context(), body.Reason)
	writeJSON(w, http.StatusOK, s.cfg.Breaker.State())
}

func (s *Server) handleBreakerClose(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.cfg.Breaker.Close(r.Context())
	writeJSON(w, http.StatusOK, s.cfg.Breaker.State())
}

// withAPIKey guards a mutation behind the configured API key. The key is
// accepted from X-API-Key or a bearer Authorization header and compared in
// constant time.
func (s *Server) withAPIKey(h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if s.cfg.APIKey == "" {
			writeJSON(w, http.StatusForbidden, map[string]any{"error": "circuit breaker API is disabled"})
			return
		}
		presented := r.Header.Get("X-API-Key")
		if presented == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				presented = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.APIKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid API key"})
			return
		}
		h(w, r, p)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
