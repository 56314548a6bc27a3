// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

// Package metrics provides Prometheus instrumentation for the session core:
// frame ingestion, tick processing, snapshot broadcast, and persistence.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics

	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsetrack_frames_received_total",
			Help: "Total inbound gateway frames by source and profile",
		},
		[]string{"source", "profile"},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsetrack_frames_dropped_total",
			Help: "Total inbound frames dropped by reason",
		},
		[]string{"source", "reason"},
	)

	SamplesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsetrack_samples_ingested_total",
			Help: "Total normalized samples accepted into the session",
		},
		[]string{"kind"},
	)

	UnknownDeviceSamples = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsetrack_unknown_device_samples_total",
			Help: "Samples dropped because the device has no roster entry",
		},
	)

	// Tick processing metrics

	TicksEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsetrack_ticks_emitted_total",
			Help: "Total timebase ticks emitted",
		},
	)

	CatchupTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsetrack_catchup_ticks_total",
			Help: "Ticks emitted back-to-back to recover from wall-clock skew",
		},
	)

	TickProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pulsetrack_tick_processing_duration_seconds",
			Help:    "Duration of per-tick pipeline processing",
			Buckets: prometheus.DefBuckets,
		},
	)

	CommandQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulsetrack_command_queue_depth",
			Help: "Current depth of the session coordinator command queue",
		},
	)

	// Broadcast metrics

	SnapshotsBroadcast = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsetrack_snapshots_broadcast_total",
			Help: "Total per-tick snapshots published to subscribers",
		},
	)

	SnapshotsCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsetrack_snapshots_coalesced_total",
			Help: "Snapshots replaced before a slow subscriber consumed them",
		},
	)

	SubscriberClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulsetrack_subscriber_clients",
			Help: "Currently connected snapshot subscriber clients",
		},
	)

	GatewayClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulsetrack_gateway_clients",
			Help: "Currently connected device gateway connections",
		},
	)

	// Persistence metrics

	PersistAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsetrack_persist_attempts_total",
			Help: "Total session document write attempts (including retries)",
		},
	)

	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsetrack_persist_failures_total",
			Help: "Session document writes that failed after all retries",
		},
	)

	PersistDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pulsetrack_persist_duration_seconds",
			Help:    "Duration of session document writes",
			Buckets: prometheus.DefBuckets,
		},
	)

	// HTTP metrics

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsetrack_http_requests_total",
			Help: "Total HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulsetrack_http_request_duration_seconds",
			Help:    "HTTP request duration by method and route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulsetrack_http_active_requests",
			Help: "HTTP requests currently in flight",
		},
	)

	// Governance metrics

	PauseIntentActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulsetrack_pause_intent_active",
			Help: "1 when governance currently requests a media pause",
		},
	)

	DropoutEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsetrack_dropout_events_total",
			Help: "Participant dropout events recorded",
		},
	)
)

// ObserveTick records the duration of one tick pipeline pass.
func ObserveTick(start time.Time) {
	TickProcessingDuration.Observe(time.Since(start).Seconds())
}

// ObservePersist records the duration of one document write.
func ObservePersist(start time.Time) {
	PersistDuration.Observe(time.Since(start).Seconds())
}
