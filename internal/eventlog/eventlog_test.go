// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

package eventlog

import (
	"testing"
	"time"
)

var base = time.Date(2026, 1, 15, 18, 0, 0, 0, time.UTC)

func TestScreenshotDedup(t *testing.T) {
	l := New(SnapshotPlan{IntervalMs: 30000, FilenamePattern: "shot-{index}.jpg"})

	if !l.AddScreenshot("shot-0000.jpg", base) {
		t.Fatal("first filename should be accepted")
	}
	if l.AddScreenshot("shot-0000.jpg", base.Add(time.Second)) {
		t.Error("duplicate filename should be ignored")
	}
	if got := len(l.Events()); got != 1 {
		t.Errorf("event count = %d, want 1", got)
	}
}

func TestInstantOrdering(t *testing.T) {
	l := New(SnapshotPlan{})

	l.AddVoiceMemo("m1", "", base.Add(10*time.Second), 4)
	l.AddAudioPlay("Track", "Artist", "plex-1", base.Add(2*time.Second), 180)
	l.AddVideoPlay("Ep 1", "Show", 2, "plex-2", base.Add(5*time.Second), 1200)

	evs := l.Events()
	if len(evs) != 3 {
		t.Fatalf("event count = %d, want 3", len(evs))
	}
	for i := 1; i < len(evs); i++ {
		if evs[i].Instant.Before(evs[i-1].Instant) {
			t.Fatalf("events out of order at %d: %v", i, evs)
		}
	}
	if evs[0].Type != TypeAudio || evs[2].Type != TypeVoiceMemo {
		t.Errorf("order = [%s %s %s]", evs[0].Type, evs[1].Type, evs[2].Type)
	}
}

func TestNextFilename(t *testing.T) {
	l := New(SnapshotPlan{FilenamePattern: "session-{index}.jpg"})

	if got := l.NextFilename(); got != "session-0000.jpg" {
		t.Errorf("first filename = %q", got)
	}
	l.AddScreenshot(l.NextFilename(), base)
	if got := l.NextFilename(); got != "session-0001.jpg" {
		t.Errorf("second filename = %q", got)
	}
}

func TestRestoreKeepsDedupAndIndex(t *testing.T) {
	l := New(SnapshotPlan{FilenamePattern: "s-{index}.jpg"})
	l.Restore([]Event{
		{Type: TypeScreenshot, Instant: base, Filename: "s-0000.jpg", Index: 0},
		{Type: TypeScreenshot, Instant: base.Add(time.Minute), Filename: "s-0001.jpg", Index: 1},
	})

	if l.AddScreenshot("s-0001.jpg", base.Add(2*time.Minute)) {
		t.Error("restored filename should still dedup")
	}
	if got := l.NextFilename(); got != "s-0002.jpg" {
		t.Errorf("next filename after restore = %q", got)
	}
	if got := len(l.Events()); got != 2 {
		t.Errorf("event count = %d, want 2", got)
	}
}
