// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

// Package participant drives the per-participant session state machine.
//
// Transitions:
//
//	ABSENT -> ACTIVE   on first sample
//	ACTIVE -> IDLE     after idleThresholdTicks without a sample
//	IDLE   -> ACTIVE   on any sample
//	ACTIVE|IDLE -> REMOVED after removalTimeout without a sample
//
// REMOVED is terminal for the session unless rejoin is enabled. The
// ACTIVE -> IDLE transition records a dropout event referencing the
// last active tick; duplicate event ids are suppressed so replays and
// reconstruction stay idempotent.
package participant

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pulsetrack/pulsetrack/internal/logging"
	"github.com/pulsetrack/pulsetrack/internal/metrics"
)

// Status is a participant's position in the session lifecycle.
type Status string

const (
	StatusAbsent  Status = "ABSENT"
	StatusActive  Status = "ACTIVE"
	StatusIdle    Status = "IDLE"
	StatusRemoved Status = "REMOVED"
)

// Participant is one person in the session roster.
type Participant struct {
	ID          string
	DisplayName string
	IsPrimary   bool
	IsGuest     bool

	Status         Status
	FirstSeenTick  int
	LastActiveTick int

	lastActiveInstant time.Time
}

// DropoutEvent marks one ACTIVE -> IDLE transition. Value is the
// participant's cumulative coin total at the last active tick.
type DropoutEvent struct {
	ID            string
	ParticipantID string
	Tick          int
	Value         float64
	Instant       time.Time
}

// DropoutID builds the canonical event id. Live recording and
// reconstruction from a persisted document produce the same ids.
func DropoutID(participantID string, tick int) string {
	return fmt.Sprintf("%s-dropout-%d", participantID, tick)
}

// Options configures a Tracker.
type Options struct {
	// IdleThresholdTicks without a sample moves ACTIVE to IDLE.
	IdleThresholdTicks int

	// RemovalTimeout without a sample moves ACTIVE or IDLE to REMOVED.
	RemovalTimeout time.Duration

	// AllowRejoin resurrects REMOVED participants on a new sample.
	AllowRejoin bool

	// CoinsAt reads a participant's cumulative coin total at a tick,
	// used as the dropout event value.
	CoinsAt func(participantID string, tick int) float64
}

// Tracker owns every participant state machine of one session.
type Tracker struct {
	opts Options

	mu           sync.Mutex
	participants map[string]*Participant
	dropouts     map[string]DropoutEvent
}

// NewTracker creates an empty tracker.
func NewTracker(opts Options) *Tracker {
	return &Tracker{
		opts:         opts,
		participants: make(map[string]*Participant),
		dropouts:     make(map[string]DropoutEvent),
	}
}

// Ensure inserts a participant in ABSENT state if not yet known.
// Called for configured users at session start; guests appear on their
// first sample instead.
func (t *Tracker) Ensure(id, displayName string, isPrimary, isGuest bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.participants[id]; ok {
		return
	}
	t.participants[id] = &Participant{
		ID:             id,
		DisplayName:    displayName,
		IsPrimary:      isPrimary,
		IsGuest:        isGuest,
		Status:         StatusAbsent,
		FirstSeenTick:  -1,
		LastActiveTick: -1,
	}
}

// OnSample advances the state machine for a sample landing at the given
// tick. Returns false when the sample must be ignored (REMOVED without
// rejoin).
func (t *Tracker) OnSample(id string, tick int, instant time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.participants[id]
	if !ok {
		p = &Participant{
			ID:             id,
			DisplayName:    id,
			IsGuest:        true,
			Status:         StatusAbsent,
			FirstSeenTick:  -1,
			LastActiveTick: -1,
		}
		t.participants[id] = p
	}

	switch p.Status {
	case StatusRemoved:
		if !t.opts.AllowRejoin {
			return false
		}
		logging.Info().Str("participant", id).Msg("removed participant rejoined")
		fallthrough
	case StatusAbsent, StatusIdle:
		p.Status = StatusActive
		if p.FirstSeenTick < 0 {
			p.FirstSeenTick = tick
		}
	case StatusActive:
		// stays active
	}

	if tick > p.LastActiveTick {
		p.LastActiveTick = tick
	}
	if instant.After(p.lastActiveInstant) {
		p.lastActiveInstant = instant
	}
	return true
}

// OnTick applies timeout transitions at a tick boundary and returns the
// dropout events newly recorded at this tick.
func (t *Tracker) OnTick(tick int, instant time.Time) []DropoutEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	var newDropouts []DropoutEvent
	for _, p := range t.participants {
		switch p.Status {
		case StatusActive:
			if tick-p.LastActiveTick >= t.opts.IdleThresholdTicks {
				p.Status = StatusIdle
				if ev, fresh := t.recordDropoutLocked(p, tick, instant); fresh {
					newDropouts = append(newDropouts, ev)
				}
			}
		case StatusIdle, StatusAbsent, StatusRemoved:
		}

		if (p.Status == StatusActive || p.Status == StatusIdle) &&
			!p.lastActiveInstant.IsZero() &&
			instant.Sub(p.lastActiveInstant) > t.opts.RemovalTimeout {
			p.Status = StatusRemoved
			logging.Info().Str("participant", p.ID).Int("tick", tick).Msg("participant removed after timeout")
		}
	}

	sort.Slice(newDropouts, func(i, j int) bool { return newDropouts[i].ParticipantID < newDropouts[j].ParticipantID })
	return newDropouts
}

// recordDropoutLocked records the dropout for an ACTIVE -> IDLE
// transition firing at tick. The referenced tick is the last active one.
func (t *Tracker) recordDropoutLocked(p *Participant, tick int, instant time.Time) (DropoutEvent, bool) {
	dropTick := tick - t.opts.IdleThresholdTicks
	if dropTick < 0 {
		dropTick = 0
	}
	id := DropoutID(p.ID, dropTick)
	if _, seen := t.dropouts[id]; seen {
		return DropoutEvent{}, false
	}

	var value float64
	if t.opts.CoinsAt != nil {
		value = t.opts.CoinsAt(p.ID, dropTick)
	}
	ev := DropoutEvent{
		ID:            id,
		ParticipantID: p.ID,
		Tick:          dropTick,
		Value:         value,
		Instant:       instant,
	}
	t.dropouts[id] = ev
	metrics.DropoutEvents.Inc()
	logging.Info().
		Str("participant", p.ID).
		Int("last_active_tick", dropTick).
		Float64("coins", value).
		Msg("participant dropout")
	return ev, true
}

// AddDropout inserts an externally reconstructed dropout event.
// Duplicate ids are ignored, keeping live and reconstructed sets
// idempotent across restarts.
func (t *Tracker) AddDropout(ev DropoutEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, seen := t.dropouts[ev.ID]; seen {
		return false
	}
	t.dropouts[ev.ID] = ev
	return true
}

// Get returns a copy of one participant, or nil when unknown.
func (t *Tracker) Get(id string) *Participant {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.participants[id]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// All returns copies of every participant in deterministic id order.
func (t *Tracker) All() []Participant {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Participant, 0, len(t.participants))
	for _, p := range t.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Dropouts returns every recorded dropout event ordered by (tick,
// participant).
func (t *Tracker) Dropouts() []DropoutEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]DropoutEvent, 0, len(t.dropouts))
	for _, ev := range t.dropouts {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tick != out[j].Tick {
			return out[i].Tick < out[j].Tick
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out
}
