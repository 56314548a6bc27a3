// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

// Package telemetry normalizes raw gateway frames into uniform samples.
//
// Two wire sources feed the core: ANT+ frames (heart rate, cadence)
// arriving as JSON over the gateway WebSocket, and vibration frames
// arriving on per-equipment MQTT topics. The normalizer guarantees that
// no partial sample escapes: malformed frames are counted and dropped,
// out-of-range readings are rejected.
package telemetry

import (
	"time"
)

// Kind tags a sample with its measurement channel.
type Kind string

// Sample kinds produced by the normalizer.
const (
	KindHeartRate Kind = "heartRate"
	KindCadence   Kind = "cadence"
	KindVibration Kind = "vibration"
	KindPower     Kind = "power"
)

// Sample is the uniform record every wire frame normalizes into.
// Numeric kinds carry Value; vibration carries Pulse.
type Sample struct {
	DeviceID string
	Kind     Kind
	Value    float64
	Pulse    bool
	Instant  time.Time

	// Battery is the reported battery level, when the frame carried one.
	Battery *int
}

// Reading limits. Heart rates outside the physiological band and
// cadence readings outside the mechanical band are rejected as sensor
// noise rather than clamped.
const (
	MinHeartRate = 40
	MaxHeartRate = 220
	MinCadence   = 0
	MaxCadence   = 300
)
