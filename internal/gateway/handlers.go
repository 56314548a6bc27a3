// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/pulsetrack/pulsetrack/internal/logging"
	"github.com/pulsetrack/pulsetrack/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Err(err).Msg("encoding response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// lifecycleStatus maps coordinator errors to HTTP codes: invalid
// transitions are a conflict, everything else a server error.
func lifecycleStatus(err error) int {
	if errors.Is(err, session.ErrInvalidState) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"state":                s.coord.State(),
		"sessionId":            s.coord.ID(),
		"degraded":             s.coord.Degraded(),
		"persistence_degraded": s.coord.PersistenceDegraded(),
	})
}

func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": s.coord.ID(),
		"state":     s.coord.State(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id, err := s.coord.Start(r.Context())
	if err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": id})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Pause(); err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": s.coord.State()})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Resume(); err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": s.coord.State()})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	s.norm.Flush()
	doc, err := s.coord.End(r.Context())
	if err != nil && doc == nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	// A persistence failure still ends the session; the document is
	// returned so the caller can keep it.
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename string    `json:"filename"`
		Instant  time.Time `json:"instant"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Filename == "" {
		writeError(w, http.StatusBadRequest, "filename required")
		return
	}
	if req.Instant.IsZero() {
		req.Instant = time.Now()
	}
	s.coord.AddScreenshot(req.Filename, req.Instant)
	w.WriteHeader(http.StatusAccepted)
}
