// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyZones is returned when no heart-rate zones are configured.
// The classifier cannot start without at least one zone.
var ErrEmptyZones = errors.New("config: zones must not be empty")

// Validate checks the configuration for internal consistency.
// It is called by Load and may be called directly on hand-built configs.
func (c *Config) Validate() error {
	if c.Session.TickInterval < time.Second {
		return fmt.Errorf("config: session.tick_interval must be >= 1s, got %s", c.Session.TickInterval)
	}
	if c.Session.IdleThresholdTicks < 1 {
		return fmt.Errorf("config: session.idle_threshold_ticks must be >= 1, got %d", c.Session.IdleThresholdTicks)
	}
	if c.Session.RemovalTimeout <= 0 {
		return fmt.Errorf("config: session.removal_timeout must be positive, got %s", c.Session.RemovalTimeout)
	}
	if c.Session.CoinDivisor <= 0 {
		return fmt.Errorf("config: session.coin_divisor must be positive, got %d", c.Session.CoinDivisor)
	}
	if c.Session.CatchupCap <= 0 {
		return fmt.Errorf("config: session.catchup_cap must be positive, got %d", c.Session.CatchupCap)
	}
	if _, err := time.LoadLocation(c.Session.Timezone); err != nil {
		return fmt.Errorf("config: session.timezone %q is not a valid IANA timezone: %w", c.Session.Timezone, err)
	}

	if err := validateZones(c.Zones); err != nil {
		return err
	}
	for _, users := range [][]UserConfig{c.Users.Primary, c.Users.Secondary} {
		for _, u := range users {
			if u.Name == "" {
				return errors.New("config: every user needs a name")
			}
			if len(u.Zones) > 0 {
				if err := validateZones(u.Zones); err != nil {
					return fmt.Errorf("config: user %s: %w", u.Name, err)
				}
			}
		}
	}

	for _, eq := range c.Equipment {
		if eq.ID == "" {
			return errors.New("config: every equipment entry needs an id")
		}
		if eq.Sensor.Type == "vibration" && eq.Sensor.MQTTTopic == "" {
			return fmt.Errorf("config: equipment %s: vibration sensor needs an mqtt_topic", eq.ID)
		}
	}

	for _, p := range c.Governance.Policies {
		switch p.Kind {
		case "require_zone_at_least":
			if p.Zone == "" {
				return fmt.Errorf("config: policy %s: require_zone_at_least needs a zone", p.ID)
			}
		case "challenge":
			if p.Target <= 0 || p.Duration <= 0 {
				return fmt.Errorf("config: policy %s: challenge needs a positive target and duration", p.ID)
			}
		default:
			return fmt.Errorf("config: policy %s: unknown kind %q", p.ID, p.Kind)
		}
	}

	if c.Persistence.Interval <= 0 {
		return fmt.Errorf("config: persistence.interval must be positive, got %s", c.Persistence.Interval)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port must be in [1, 65535], got %d", c.Server.Port)
	}

	return nil
}

// validateZones checks that a zone table is non-empty with strictly
// increasing minimums.
func validateZones(zones []ZoneConfig) error {
	if len(zones) == 0 {
		return ErrEmptyZones
	}
	for i, z := range zones {
		if z.ID == "" {
			return fmt.Errorf("zone %d has no id", i)
		}
		if i > 0 && z.Min <= zones[i-1].Min {
			return fmt.Errorf("zone %s: min %d is not strictly greater than previous min %d",
				z.ID, z.Min, zones[i-1].Min)
		}
	}
	return nil
}
