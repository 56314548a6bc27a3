// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

package telemetry

import (
	"github.com/goccy/go-json"
)

// ANT+ frame envelope, as published by the device gateway on the
// "fitness" WebSocket topic.
type ANTFrame struct {
	Topic       string          `json:"topic"`
	Type        string          `json:"type"`
	Profile     string          `json:"profile"`
	DeviceID    string          `json:"deviceId"`
	Timestamp   string          `json:"timestamp"`
	DongleIndex int             `json:"dongleIndex"`
	Data        json.RawMessage `json:"data"`
}

// ANT+ profile identifiers recognized by the core.
const (
	ProfileHeartRate = "HR"
	ProfileCadence   = "CAD"
	ProfilePower     = "PWR"
)

// HRData is the payload of a heart-rate profile frame. Only the fields
// the core consumes are decoded; the rest of the payload is ignored.
type HRData struct {
	DeviceID          int  `json:"DeviceID"`
	ComputedHeartRate int  `json:"ComputedHeartRate"`
	BeatCount         int  `json:"BeatCount"`
	BeatTime          int  `json:"BeatTime"`
	BatteryLevel      *int `json:"BatteryLevel"`
}

// CadenceData is the payload of a cadence profile frame.
type CadenceData struct {
	DeviceID                         int     `json:"DeviceID"`
	CalculatedCadence                float64 `json:"CalculatedCadence"`
	CumulativeCadenceRevolutionCount int     `json:"CumulativeCadenceRevolutionCount"`
	BatteryLevel                     *int    `json:"BatteryLevel"`
}

// PowerData is the payload of a power profile frame.
type PowerData struct {
	DeviceID     int     `json:"DeviceID"`
	Power        float64 `json:"Power"`
	BatteryLevel *int    `json:"BatteryLevel"`
}

// VibrationFrame is one reading from an equipment vibration sensor,
// published on its MQTT topic. A true pulse followed within the
// coalescing window by a false reading is one VibrationPulse.
type VibrationFrame struct {
	Vibration   bool    `json:"vibration"`
	XAxis       float64 `json:"x_axis"`
	YAxis       float64 `json:"y_axis"`
	ZAxis       float64 `json:"z_axis"`
	Battery     *int    `json:"battery"`
	LinkQuality int     `json:"linkquality"`
}
