// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

// Package zones classifies heart-rate samples into named zones.
//
// A zone table is an ordered list of bands with strictly increasing
// minimums. Classification scans from the highest minimum downward and
// returns the first zone whose minimum is <= the heart rate. Users may
// carry their own zone table; everyone else shares the default.
package zones

import (
	"errors"
	"fmt"

	"github.com/pulsetrack/pulsetrack/internal/config"
)

// ErrUnknownZone is returned when a classifier is built from an empty
// zone table. This is fatal at session startup.
var ErrUnknownZone = errors.New("zones: empty zone table")

// Zone is one heart-rate band.
type Zone struct {
	ID    string
	Min   int
	Label string
	Color string
}

// Classifier resolves (user, heart rate) to a zone id.
// Immutable after construction; safe for concurrent use.
type Classifier struct {
	defaults []Zone
	perUser  map[string][]Zone
}

// NewClassifier builds a classifier from the default zone table and
// optional per-user overrides. The tables must already be validated
// (non-empty, strictly increasing minimums); an empty default table
// fails with ErrUnknownZone.
func NewClassifier(defaults []config.ZoneConfig, users config.UsersConfig) (*Classifier, error) {
	if len(defaults) == 0 {
		return nil, ErrUnknownZone
	}

	c := &Classifier{
		defaults: fromConfig(defaults),
		perUser:  make(map[string][]Zone),
	}
	for _, group := range [][]config.UserConfig{users.Primary, users.Secondary} {
		for _, u := range group {
			if len(u.Zones) > 0 {
				c.perUser[u.Name] = fromConfig(u.Zones)
			}
		}
	}
	return c, nil
}

func fromConfig(zs []config.ZoneConfig) []Zone {
	out := make([]Zone, len(zs))
	for i, z := range zs {
		out[i] = Zone{ID: z.ID, Min: z.Min, Label: z.Label, Color: z.Color}
	}
	return out
}

// Classify returns the zone id for the given user and heart rate.
// Falls back to the default table when the user has no override, and to
// the first zone when the heart rate is below every minimum.
func (c *Classifier) Classify(userID string, hr int) string {
	table := c.tableFor(userID)
	for i := len(table) - 1; i >= 0; i-- {
		if table[i].Min <= hr {
			return table[i].ID
		}
	}
	return table[0].ID
}

// ZoneIndex returns the position of zoneID in the user's table, or -1.
// Higher index means a more intense zone; governance compares indices.
func (c *Classifier) ZoneIndex(userID, zoneID string) int {
	for i, z := range c.tableFor(userID) {
		if z.ID == zoneID {
			return i
		}
	}
	return -1
}

// MidpointFor returns the representative heart rate for a zone, used by
// the device simulators to synthesize plausible samples. The last zone
// has no upper bound, so its midpoint is min+15; every other zone uses
// the midpoint between its minimum and the next zone's minimum.
func (c *Classifier) MidpointFor(userID, zoneID string) (int, error) {
	table := c.tableFor(userID)
	for i, z := range table {
		if z.ID != zoneID {
			continue
		}
		if i == len(table)-1 {
			return z.Min + 15, nil
		}
		return (z.Min + table[i+1].Min) / 2, nil
	}
	return 0, fmt.Errorf("zones: no zone %q for user %q", zoneID, userID)
}

// Zones returns the zone table used for the given user.
func (c *Classifier) Zones(userID string) []Zone {
	return c.tableFor(userID)
}

func (c *Classifier) tableFor(userID string) []Zone {
	if t, ok := c.perUser[userID]; ok {
		return t
	}
	return c.defaults
}
