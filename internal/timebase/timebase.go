// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

// Package timebase owns the session's wall-clock ticks.
//
// All timeline writes are aligned to a tick index. Ticks are emitted in
// order, exactly once. When wall time skews ahead (suspend, GC pause,
// clock step) missed ticks are emitted back-to-back up to a cap; beyond
// the cap the session is marked degraded and recording continues from
// the current tick.
//
// Nothing else in the core may own a wall-clock timer for sample
// alignment; simulators and producers stamp instants, the timebase
// assigns indices.
package timebase

import (
	"context"
	"sync"
	"time"

	"github.com/pulsetrack/pulsetrack/internal/logging"
	"github.com/pulsetrack/pulsetrack/internal/metrics"
)

// Tick is one fixed-interval instant of the session timebase.
type Tick struct {
	Index   int
	Instant time.Time
}

// Options configures a Timebase.
type Options struct {
	// Start anchors tick 0. Required.
	Start time.Time

	// Interval is the tick spacing. Must be >= 1s (validated by config).
	Interval time.Duration

	// CatchupCap limits back-to-back emission of missed ticks.
	CatchupCap int

	// Emit receives every tick, in order, exactly once. Called from the
	// timebase goroutine; must not block for long.
	Emit func(Tick)

	// OnDegraded is called once when the catch-up cap is exceeded, with
	// the range of skipped indices [from, to).
	OnDegraded func(from, to int)
}

// Timebase is the session tick clock.
type Timebase struct {
	opts Options

	mu          sync.Mutex
	next        int
	paused      bool
	pausedAt    time.Time
	pausedTotal time.Duration
	degraded    bool
}

// New creates a Timebase. Serve must be called for ticks to flow.
func New(opts Options) *Timebase {
	return &Timebase{opts: opts}
}

// TickOf converts an instant to a tick index, accounting for time spent
// paused. Instants before the session start map to tick 0.
func (tb *Timebase) TickOf(instant time.Time) int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.indexAtLocked(instant)
}

// indexAtLocked computes the tick index for an instant (mu held).
func (tb *Timebase) indexAtLocked(instant time.Time) int {
	elapsed := instant.Sub(tb.opts.Start) - tb.pausedTotal
	if tb.paused {
		// While paused the clock is frozen at the pause instant.
		elapsed = tb.pausedAt.Sub(tb.opts.Start) - tb.pausedTotal
	}
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / tb.opts.Interval)
}

// InstantOf returns the wall-clock instant of a tick index, ignoring
// pauses that occur after it. Used for labelling emitted ticks.
func (tb *Timebase) InstantOf(index int) time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.opts.Start.Add(tb.pausedTotal + time.Duration(index)*tb.opts.Interval)
}

// Pause freezes tick emission. Idempotent.
func (tb *Timebase) Pause(now time.Time) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if tb.paused {
		return
	}
	tb.paused = true
	tb.pausedAt = now
}

// Resume unfreezes tick emission. Time spent paused is excluded from
// the timebase so no ticks advance across the gap. Idempotent.
func (tb *Timebase) Resume(now time.Time) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if !tb.paused {
		return
	}
	tb.pausedTotal += now.Sub(tb.pausedAt)
	tb.paused = false
}

// Degraded reports whether the catch-up cap was ever exceeded.
func (tb *Timebase) Degraded() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.degraded
}

// Serve implements suture.Service. It drives tick emission until the
// context is canceled.
func (tb *Timebase) Serve(ctx context.Context) error {
	ticker := time.NewTicker(tb.opts.Interval)
	defer ticker.Stop()

	logging.Info().
		Dur("interval", tb.opts.Interval).
		Time("start", tb.opts.Start).
		Msg("timebase started")

	for {
		select {
		case <-ctx.Done():
			logging.Info().Int("ticks_emitted", tb.emittedCount()).Msg("timebase stopped")
			return ctx.Err()
		case now := <-ticker.C:
			tb.Advance(now)
		}
	}
}

// Advance emits every tick whose interval has fully elapsed as of now,
// applying the catch-up cap. Serve drives this from the wall clock;
// deterministic drivers may call it directly.
//
// Tick i covers session time [i·interval, (i+1)·interval): it is due
// only once that window closes, so every sample stamped inside it has
// already been recorded when the tick fires. The in-progress tick
// (indexAtLocked(now)) is never emitted here; session end flushes it.
func (tb *Timebase) Advance(now time.Time) {
	tb.mu.Lock()
	if tb.paused {
		tb.mu.Unlock()
		return
	}

	target := tb.indexAtLocked(now)
	pending := target - tb.next
	if pending <= 0 {
		tb.mu.Unlock()
		return
	}

	var skippedFrom, skippedTo int
	if pending > tb.opts.CatchupCap {
		skippedFrom = tb.next
		skippedTo = target - 1
		tb.next = target - 1
		tb.degraded = true
	}

	// Collect the ticks to emit while holding the lock, emit after.
	ticks := make([]Tick, 0, target-tb.next)
	for ; tb.next < target; tb.next++ {
		instant := tb.opts.Start.Add(tb.pausedTotal + time.Duration(tb.next)*tb.opts.Interval)
		ticks = append(ticks, Tick{Index: tb.next, Instant: instant})
	}
	onDegraded := tb.opts.OnDegraded
	tb.mu.Unlock()

	if skippedTo > skippedFrom {
		logging.Warn().
			Int("from", skippedFrom).
			Int("to", skippedTo).
			Msg("tick drift beyond catch-up cap, session degraded")
		if onDegraded != nil {
			onDegraded(skippedFrom, skippedTo)
		}
	}

	for i, t := range ticks {
		if i > 0 {
			metrics.CatchupTicks.Inc()
		}
		metrics.TicksEmitted.Inc()
		tb.opts.Emit(t)
	}
}

func (tb *Timebase) emittedCount() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.next
}
