// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

// Package config provides layered configuration for the session core.
//
// Loading order (Koanf v2, highest priority wins):
//  1. Built-in defaults
//  2. Optional YAML config file (config.yaml)
//  3. Environment variables
//
// Config is immutable after Load() and safe for concurrent reads.
package config

import (
	"time"
)

// Config holds all application configuration.
type Config struct {
	Session     SessionConfig     `koanf:"session"`
	Zones       []ZoneConfig      `koanf:"zones"`
	Buckets     map[string]string `koanf:"buckets"` // zone id -> bucket name
	ANTDevices  ANTDevicesConfig  `koanf:"ant_devices"`
	Users       UsersConfig       `koanf:"users"`
	Equipment   []EquipmentConfig `koanf:"equipment"`
	Governance  GovernanceConfig  `koanf:"governance"`
	MQTT        MQTTConfig        `koanf:"mqtt"`
	Persistence PersistenceConfig `koanf:"persistence"`
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// SessionConfig controls the session timebase and participant lifecycle.
type SessionConfig struct {
	// TickInterval is the fixed timebase interval. Must be >= 1s.
	TickInterval time.Duration `koanf:"tick_interval"`

	// IdleThresholdTicks is the number of sample-free ticks before an
	// ACTIVE participant becomes IDLE.
	IdleThresholdTicks int `koanf:"idle_threshold_ticks"`

	// RemovalTimeout is the inactivity duration after which an ACTIVE or
	// IDLE participant is REMOVED for the rest of the session.
	RemovalTimeout time.Duration `koanf:"removal_timeout"`

	// CoinDivisor converts heart rate to coins per tick: round(hr/divisor).
	CoinDivisor int `koanf:"coin_divisor"`

	// AllowRejoin resurrects a REMOVED participant to ACTIVE when a new
	// sample arrives for them. Off by default: REMOVED is terminal.
	AllowRejoin bool `koanf:"allow_rejoin"`

	// CatchupCap limits back-to-back tick emission after wall-clock skew.
	// Beyond the cap the session is marked degraded and a gap marker is
	// written to the global series.
	CatchupCap int `koanf:"catchup_cap"`

	// Timezone is the IANA timezone recorded in the session document.
	Timezone string `koanf:"timezone"`

	// Snapshot capture plan, registered with the event log at start.
	SnapshotIntervalMs  int    `koanf:"snapshot_interval_ms"`
	SnapshotFilePattern string `koanf:"snapshot_file_pattern"`
}

// ZoneConfig is one heart-rate zone band. Zones must have strictly
// increasing Min values.
type ZoneConfig struct {
	ID    string `koanf:"id"`
	Min   int    `koanf:"min"`
	Label string `koanf:"label"`
	Color string `koanf:"color"`
}

// ANTDevicesConfig maps ANT+ device ids to display colors per profile.
type ANTDevicesConfig struct {
	HR      map[string]string `koanf:"hr"`
	Cadence map[string]string `koanf:"cadence"`
}

// UserConfig binds a user to their heart-rate device.
type UserConfig struct {
	Name  string       `koanf:"name"`
	HR    string       `koanf:"hr"` // ANT+ device id of the user's HR strap
	Zones []ZoneConfig `koanf:"zones,omitempty"`
}

// UsersConfig declares primary and secondary household members.
// Primary users win device-assignment tie-breaks and are the subjects of
// governance zone policies.
type UsersConfig struct {
	Primary   []UserConfig `koanf:"primary"`
	Secondary []UserConfig `koanf:"secondary"`
}

// EquipmentConfig declares a piece of equipment with a vibration sensor.
type EquipmentConfig struct {
	ID     string          `koanf:"id"`
	Name   string          `koanf:"name"`
	Sensor SensorConfig    `koanf:"sensor"`
	Thresh ThresholdConfig `koanf:"thresholds"`
}

// SensorConfig describes how an equipment sensor is attached.
type SensorConfig struct {
	Type      string `koanf:"type"` // "vibration"
	MQTTTopic string `koanf:"mqtt_topic"`
}

// ThresholdConfig holds per-equipment intensity thresholds.
type ThresholdConfig struct {
	Low    int `koanf:"low"`
	Medium int `koanf:"medium"`
	High   int `koanf:"high"`
}

// PolicyConfig declares one governance policy.
type PolicyConfig struct {
	ID string `koanf:"id"`

	// Kind is "require_zone_at_least" or "challenge".
	Kind string `koanf:"kind"`

	// Zone is the minimum zone for require_zone_at_least policies.
	Zone string `koanf:"zone"`

	// Grace is how long a primary participant may stay below the zone
	// before pause intent fires.
	Grace time.Duration `koanf:"grace"`

	// Challenge parameters.
	Target   float64       `koanf:"target"`
	Duration time.Duration `koanf:"duration"`
	Metric   string        `koanf:"metric"` // "coins", "zone_seconds"
}

// GovernanceConfig holds the configured policy set.
type GovernanceConfig struct {
	Policies []PolicyConfig `koanf:"policies"`
}

// MQTTConfig configures the vibration sensor subscriber.
type MQTTConfig struct {
	Enabled        bool          `koanf:"enabled"`
	BrokerURL      string        `koanf:"broker_url"`
	ClientID       string        `koanf:"client_id"`
	Username       string        `koanf:"username"`
	Password       string        `koanf:"password"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// PersistenceConfig configures the session document store.
type PersistenceConfig struct {
	// Path is the badger database directory for session documents.
	Path string `koanf:"path"`

	// Interval between periodic document writes while a session runs.
	Interval time.Duration `koanf:"interval"`

	// ExportDir, when set, additionally writes the v3 JSON document to
	// a file per session on session end.
	ExportDir string `koanf:"export_dir"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied.
// These are overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			TickInterval:        5 * time.Second,
			IdleThresholdTicks:  2,
			RemovalTimeout:      120 * time.Second,
			CoinDivisor:         30,
			AllowRejoin:         false,
			CatchupCap:          60,
			Timezone:            "UTC",
			SnapshotIntervalMs:  0, // snapshots disabled unless configured
			SnapshotFilePattern: "session-{index}.jpg",
		},
		Zones: []ZoneConfig{
			{ID: "c", Min: 0, Label: "cool", Color: "#4db6e4"},
			{ID: "a", Min: 95, Label: "active", Color: "#7bc96f"},
			{ID: "w", Min: 115, Label: "warm", Color: "#f5d76e"},
			{ID: "h", Min: 135, Label: "hot", Color: "#f39c5a"},
			{ID: "f", Min: 160, Label: "fire", Color: "#e74c3c"},
		},
		Buckets: map[string]string{
			"c": "exercise",
			"a": "exercise",
			"w": "exercise",
			"h": "bonus",
			"f": "bonus",
		},
		MQTT: MQTTConfig{
			Enabled:        false,
			BrokerURL:      "tcp://127.0.0.1:1883",
			ClientID:       "pulsetrack",
			ConnectTimeout: 10 * time.Second,
		},
		Persistence: PersistenceConfig{
			Path:     "/data/sessions",
			Interval: 30 * time.Second,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    3858,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
