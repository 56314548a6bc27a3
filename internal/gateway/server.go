// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

// Package gateway is the HTTP/WebSocket surface of the session core:
// the device gateway socket frames flow in on, the subscriber socket
// snapshots flow out of, plus health, metrics and session lifecycle
// endpoints.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulsetrack/pulsetrack/internal/config"
	"github.com/pulsetrack/pulsetrack/internal/logging"
	"github.com/pulsetrack/pulsetrack/internal/middleware"
	"github.com/pulsetrack/pulsetrack/internal/session"
	"github.com/pulsetrack/pulsetrack/internal/telemetry"
)

// Server hosts the listener. One server fronts one coordinator.
type Server struct {
	cfg   config.ServerConfig
	coord *session.Coordinator
	norm  *telemetry.Normalizer

	srv *http.Server
}

// New creates the server. The normalizer's emit side must already be
// wired into the coordinator.
func New(cfg config.ServerConfig, coord *session.Coordinator, norm *telemetry.Normalizer) *Server {
	s := &Server{cfg: cfg, coord: coord, norm: norm}
	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the Chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Metrics)
	r.Use(middleware.RequestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/ws", s.handleGateway)
	r.Get("/ws/subscribe", s.handleSubscribe)

	r.Route("/api/v1/session", func(r chi.Router) {
		r.Get("/", s.handleSessionState)
		r.Post("/start", s.handleStart)
		r.Post("/pause", s.handlePause)
		r.Post("/resume", s.handleResume)
		r.Post("/end", s.handleEnd)
	})
	r.Post("/api/v1/events/screenshot", s.handleScreenshot)

	return r
}

// Serve implements suture.Service: it runs the listener until the
// context is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.srv.Addr).Msg("gateway listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			logging.Err(err).Msg("gateway shutdown")
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway: listener: %w", err)
	}
}
