// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMetricsPassesThrough(t *testing.T) {
	var called bool
	h := Metrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if !called {
		t.Fatal("handler not invoked")
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418 preserved through wrapper", rec.Code)
	}
}

func TestRequestLoggerPassesThrough(t *testing.T) {
	h := RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/session/start", nil))

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestWebSocketPathsBypassWrapping(t *testing.T) {
	for _, path := range []string{"/ws", "/ws/subscribe"} {
		var got http.ResponseWriter
		h := Metrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = w
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		// the upgrader needs the raw ResponseWriter, not a wrapper
		if got != http.ResponseWriter(rec) {
			t.Errorf("%s: response writer was wrapped", path)
		}
	}
}
