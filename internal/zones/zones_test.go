// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

package zones

import (
	"errors"
	"testing"

	"github.com/pulsetrack/pulsetrack/internal/config"
)

func defaultZones() []config.ZoneConfig {
	return []config.ZoneConfig{
		{ID: "c", Min: 0, Label: "cool"},
		{ID: "a", Min: 95, Label: "active"},
		{ID: "w", Min: 115, Label: "warm"},
		{ID: "h", Min: 135, Label: "hot"},
		{ID: "f", Min: 160, Label: "fire"},
	}
}

func TestClassifyBoundaries(t *testing.T) {
	c, err := NewClassifier(defaultZones(), config.UsersConfig{})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		hr   int
		want string
	}{
		{40, "c"},
		{94, "c"},
		{95, "a"},
		{114, "a"},
		{115, "w"},
		{134, "w"},
		{135, "h"},
		{159, "h"},
		{160, "f"},
		{220, "f"},
	}

	for _, tt := range tests {
		if got := c.Classify("anyone", tt.hr); got != tt.want {
			t.Errorf("Classify(%d) = %q, want %q", tt.hr, got, tt.want)
		}
	}
}

func TestClassifyPerUserOverride(t *testing.T) {
	users := config.UsersConfig{
		Primary: []config.UserConfig{
			{Name: "alice", HR: "45832", Zones: []config.ZoneConfig{
				{ID: "c", Min: 0},
				{ID: "a", Min: 80},
			}},
		},
	}
	c, err := NewClassifier(defaultZones(), users)
	if err != nil {
		t.Fatal(err)
	}

	// alice hits "a" at 80, everyone else needs 95
	if got := c.Classify("alice", 85); got != "a" {
		t.Errorf("alice Classify(85) = %q, want a", got)
	}
	if got := c.Classify("bob", 85); got != "c" {
		t.Errorf("bob Classify(85) = %q, want c", got)
	}
}

func TestMidpoints(t *testing.T) {
	c, err := NewClassifier(defaultZones(), config.UsersConfig{})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		zone string
		want int
	}{
		{"c", 47},  // (0+95)/2
		{"a", 105}, // (95+115)/2
		{"w", 125},
		{"h", 147}, // (135+160)/2
		{"f", 175}, // last zone: min+15
	}

	for _, tt := range tests {
		got, err := c.MidpointFor("anyone", tt.zone)
		if err != nil {
			t.Fatalf("MidpointFor(%q): %v", tt.zone, err)
		}
		if got != tt.want {
			t.Errorf("MidpointFor(%q) = %d, want %d", tt.zone, got, tt.want)
		}
	}

	if _, err := c.MidpointFor("anyone", "nope"); err == nil {
		t.Error("expected error for unknown zone id")
	}
}

func TestEmptyTableFails(t *testing.T) {
	_, err := NewClassifier(nil, config.UsersConfig{})
	if !errors.Is(err, ErrUnknownZone) {
		t.Errorf("expected ErrUnknownZone, got %v", err)
	}
}

func TestZoneIndex(t *testing.T) {
	c, err := NewClassifier(defaultZones(), config.UsersConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if got := c.ZoneIndex("x", "c"); got != 0 {
		t.Errorf("ZoneIndex(c) = %d, want 0", got)
	}
	if got := c.ZoneIndex("x", "f"); got != 4 {
		t.Errorf("ZoneIndex(f) = %d, want 4", got)
	}
	if got := c.ZoneIndex("x", "zz"); got != -1 {
		t.Errorf("ZoneIndex(zz) = %d, want -1", got)
	}
}
