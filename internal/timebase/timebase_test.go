// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

package timebase

import (
	"testing"
	"time"
)

var start = time.Date(2026, 1, 15, 18, 0, 0, 0, time.UTC)

func collectTicks(opts Options) (*Timebase, *[]Tick) {
	ticks := &[]Tick{}
	opts.Emit = func(t Tick) { *ticks = append(*ticks, t) }
	if opts.Start.IsZero() {
		opts.Start = start
	}
	if opts.Interval == 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.CatchupCap == 0 {
		opts.CatchupCap = 60
	}
	return New(opts), ticks
}

func TestTickOf(t *testing.T) {
	tb, _ := collectTicks(Options{})

	tests := []struct {
		offset time.Duration
		want   int
	}{
		{0, 0},
		{4 * time.Second, 0},
		{5 * time.Second, 1},
		{9 * time.Second, 1},
		{10 * time.Second, 2},
		{-3 * time.Second, 0}, // before start clamps to 0
	}

	for _, tt := range tests {
		if got := tb.TickOf(start.Add(tt.offset)); got != tt.want {
			t.Errorf("TickOf(start+%s) = %d, want %d", tt.offset, got, tt.want)
		}
	}
}

func TestAdvanceEmitsInOrderExactlyOnce(t *testing.T) {
	tb, ticks := collectTicks(Options{})

	tb.Advance(start)                      // nothing: tick 0 still open
	tb.Advance(start.Add(5 * time.Second)) // tick 0's window closed
	tb.Advance(start.Add(5 * time.Second)) // duplicate instant: nothing new
	tb.Advance(start.Add(11 * time.Second))
	tb.Advance(start.Add(15 * time.Second))

	want := []int{0, 1, 2}
	if len(*ticks) != len(want) {
		t.Fatalf("emitted %d ticks, want %d: %+v", len(*ticks), len(want), *ticks)
	}
	for i, tk := range *ticks {
		if tk.Index != want[i] {
			t.Errorf("tick[%d].Index = %d, want %d", i, tk.Index, want[i])
		}
		if wantInstant := start.Add(time.Duration(want[i]) * 5 * time.Second); !tk.Instant.Equal(wantInstant) {
			t.Errorf("tick[%d].Instant = %s, want %s", i, tk.Instant, wantInstant)
		}
	}
}

// A tick must not fire until its interval has fully elapsed: samples
// stamped inside the interval have to land first.
func TestInProgressTickNotEmitted(t *testing.T) {
	tb, ticks := collectTicks(Options{})

	tb.Advance(start.Add(4900 * time.Millisecond))
	if len(*ticks) != 0 {
		t.Fatalf("tick emitted before its window closed: %+v", *ticks)
	}

	tb.Advance(start.Add(5 * time.Second))
	if len(*ticks) != 1 || (*ticks)[0].Index != 0 {
		t.Fatalf("expected tick 0 at window close, got %+v", *ticks)
	}

	// Mid-window advances never surface the open tick.
	tb.Advance(start.Add(9 * time.Second))
	if len(*ticks) != 1 {
		t.Fatalf("open tick emitted early: %+v", *ticks)
	}
}

func TestCatchupWithinCap(t *testing.T) {
	tb, ticks := collectTicks(Options{CatchupCap: 60})

	// Skip straight to 30s: ticks 0..5 have closed, emitted back-to-back.
	tb.Advance(start.Add(30 * time.Second))

	if len(*ticks) != 6 {
		t.Fatalf("emitted %d ticks, want 6", len(*ticks))
	}
	if last := (*ticks)[len(*ticks)-1].Index; last != 5 {
		t.Fatalf("last tick index = %d, want 5", last)
	}
	if tb.Degraded() {
		t.Error("session should not be degraded within catch-up cap")
	}
}

func TestCatchupBeyondCapDegrades(t *testing.T) {
	var from, to int
	tb, ticks := collectTicks(Options{CatchupCap: 60})
	tb.opts.OnDegraded = func(f, tt int) { from, to = f, tt }

	// 61 closed ticks pending at interval 5s: jump 305s ahead.
	tb.Advance(start.Add(305 * time.Second))

	if !tb.Degraded() {
		t.Fatal("expected degraded session")
	}
	if len(*ticks) != 1 || (*ticks)[0].Index != 60 {
		t.Fatalf("expected single tick at latest closed index 60, got %+v", *ticks)
	}
	if from != 0 || to != 60 {
		t.Errorf("degraded range = [%d, %d), want [0, 60)", from, to)
	}
}

func TestPauseFreezesTicks(t *testing.T) {
	tb, ticks := collectTicks(Options{})

	tb.Advance(start.Add(5 * time.Second)) // tick 0
	tb.Pause(start.Add(7 * time.Second))
	tb.Advance(start.Add(60 * time.Second)) // paused: nothing
	if len(*ticks) != 1 {
		t.Fatalf("ticks advanced while paused: %+v", *ticks)
	}

	// Resume 53s later; the pause gap is excluded, so session time at
	// start+63s is 10s and tick 1 has just closed.
	tb.Resume(start.Add(60 * time.Second))
	tb.Advance(start.Add(63 * time.Second))

	if len(*ticks) != 2 {
		t.Fatalf("emitted %d ticks after resume, want 2", len(*ticks))
	}
	if (*ticks)[1].Index != 1 {
		t.Errorf("tick after resume has index %d, want 1", (*ticks)[1].Index)
	}
}

func TestTickOfDuringPause(t *testing.T) {
	tb, _ := collectTicks(Options{})

	tb.Pause(start.Add(12 * time.Second))
	// Frozen at the pause instant regardless of the queried time.
	if got := tb.TickOf(start.Add(100 * time.Second)); got != 2 {
		t.Errorf("TickOf while paused = %d, want 2", got)
	}

	tb.Resume(start.Add(112 * time.Second))
	// 100s of pause excluded: start+117s is 17s of session time -> tick 3.
	if got := tb.TickOf(start.Add(117 * time.Second)); got != 3 {
		t.Errorf("TickOf after resume = %d, want 3", got)
	}
}
