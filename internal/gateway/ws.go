// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

package gateway

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/pulsetrack/pulsetrack/internal/logging"
	"github.com/pulsetrack/pulsetrack/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // 64 KB, frames are small
)

// gatewayTopic is the only inbound frame topic the core consumes.
const gatewayTopic = "fitness"

// Per-connection frame rate limit. A healthy gateway multiplexing a
// handful of ANT+ devices sends well under 100 frames/s; anything far
// beyond that is a misbehaving publisher and gets shed here rather
// than in the coordinator queue.
const (
	frameRateLimit = 500
	frameRateBurst = 1000
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The gateway and subscribers are LAN peers (simulators, dashboards);
	// there is no cross-origin browser surface to protect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleGateway accepts the device gateway connection. Every text
// message is one ANT+ frame; frames on other topics are skipped,
// malformed frames are counted and dropped inside the normalizer.
func (s *Server) handleGateway(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Err(err).Msg("gateway upgrade failed")
		return
	}
	metrics.GatewayClients.Inc()
	logging.Info().Str("remote", conn.RemoteAddr().String()).Msg("device gateway connected")

	defer func() {
		metrics.GatewayClients.Dec()
		_ = conn.Close()
		logging.Info().Str("remote", conn.RemoteAddr().String()).Msg("device gateway disconnected")
	}()

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// ping writer keeps idle gateways alive
	stop := make(chan struct{})
	defer close(stop)
	go pingLoop(conn, stop)

	limiter := rate.NewLimiter(rate.Limit(frameRateLimit), frameRateBurst)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn().Err(err).Msg("gateway connection error")
			}
			return
		}

		if !limiter.Allow() {
			metrics.FramesDropped.WithLabelValues("gateway", "rate_limited").Inc()
			continue
		}

		var envelope struct {
			Topic string `json:"topic"`
		}
		if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Topic != "" && envelope.Topic != gatewayTopic {
			continue
		}
		_ = s.norm.NormalizeANT(raw) // malformed frames never surface
	}
}

// handleSubscribe streams per-tick snapshots to a subscriber. A slow
// reader only ever sees the latest snapshot.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Err(err).Msg("subscriber upgrade failed")
		return
	}

	sub := s.coord.Subscribe()
	done := make(chan struct{})

	// read side exists only to notice the peer going away
	go func() {
		defer close(done)
		conn.SetReadLimit(maxMessageSize)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.coord.Unsubscribe(sub)
		_ = conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case snap := <-sub.C():
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				logging.Debug().Err(err).Msg("subscriber write failed")
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
