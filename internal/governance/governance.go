// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

// Package governance evaluates session policies each tick and publishes
// pause intent plus challenge progress.
//
// The engine never touches the timeline or participant state: it is a
// pure consumer that derives a GovernanceState from the current zone
// per participant and the session clock. A broken policy (unknown kind,
// unknown zone) disables that policy only; the rest keep running.
package governance

import (
	"sync"
	"time"

	"github.com/pulsetrack/pulsetrack/internal/config"
	"github.com/pulsetrack/pulsetrack/internal/logging"
	"github.com/pulsetrack/pulsetrack/internal/metrics"
)

// Policy kinds accepted from config.
const (
	KindRequireZoneAtLeast = "require_zone_at_least"
	KindChallenge          = "challenge"
)

// DefaultGrace applies when a require_zone_at_least policy does not set
// its own grace period.
const DefaultGrace = 10 * time.Second

// Phase is a challenge's lifecycle position. WON and FAILED are
// terminal: once reached, the challenge freezes.
type Phase string

const (
	PhaseRunning Phase = "RUNNING"
	PhaseWon     Phase = "WON"
	PhaseFailed  Phase = "FAILED"
)

// Challenge is the live state of one challenge policy.
type Challenge struct {
	ID       string    `json:"id"`
	Phase    Phase     `json:"phase"`
	Deadline time.Time `json:"deadline"`
	Target   float64   `json:"target"`
	Progress float64   `json:"progress"`
	Metric   string    `json:"metric"`
}

// State is the published governance output for one tick.
type State struct {
	PauseIntent    bool       `json:"pauseIntent"`
	ActivePolicyID string     `json:"activePolicyId,omitempty"`
	Challenge      *Challenge `json:"challenge,omitempty"`
	Mode           string     `json:"mode"`
}

// ParticipantView is the slice of participant state governance needs:
// who is primary and which zone they are currently in. Participants
// without a classified heart rate this tick are not listed.
type ParticipantView struct {
	ID        string
	IsPrimary bool
	Zone      string
}

// ZoneIndexFunc resolves a zone id to its position in the given user's
// zone table, -1 when unknown. Higher index means a more intense zone.
type ZoneIndexFunc func(userID, zoneID string) int

// ProgressFunc reads a challenge metric's current value ("coins" reads
// the session coin total).
type ProgressFunc func(metric string) float64

type zonePolicy struct {
	cfg config.PolicyConfig

	// belowSince tracks, per primary participant, when they fell below
	// the required zone. Cleared the moment they climb back.
	belowSince map[string]time.Time
}

// Engine holds the compiled policy set for one session.
type Engine struct {
	mu        sync.Mutex
	zoneIndex ZoneIndexFunc
	zones     []zonePolicy
	challenge *Challenge
	progress  ProgressFunc
}

// New compiles the configured policies. Policies referencing unknown
// zones or kinds are disabled with a warning rather than failing the
// session.
func New(policies []config.PolicyConfig, zoneIndex ZoneIndexFunc, start time.Time, progress ProgressFunc) *Engine {
	e := &Engine{zoneIndex: zoneIndex, progress: progress}

	for _, pc := range policies {
		switch pc.Kind {
		case KindRequireZoneAtLeast:
			if zoneIndex("", pc.Zone) < 0 {
				logging.Warn().Str("policy", pc.ID).Str("zone", pc.Zone).Msg("policy references unknown zone, disabled")
				continue
			}
			if pc.Grace <= 0 {
				pc.Grace = DefaultGrace
			}
			e.zones = append(e.zones, zonePolicy{
				cfg:        pc,
				belowSince: make(map[string]time.Time),
			})
		case KindChallenge:
			if e.challenge != nil {
				logging.Warn().Str("policy", pc.ID).Msg("multiple challenges configured, extra one disabled")
				continue
			}
			e.challenge = &Challenge{
				ID:       pc.ID,
				Phase:    PhaseRunning,
				Deadline: start.Add(pc.Duration),
				Target:   pc.Target,
				Metric:   pc.Metric,
			}
		default:
			logging.Warn().Str("policy", pc.ID).Str("kind", pc.Kind).Msg("unknown policy kind, disabled")
		}
	}
	return e
}

// Evaluate runs every policy against the tick's participant view and
// returns the consolidated state. Pause intents union across policies.
func (e *Engine) Evaluate(instant time.Time, participants []ParticipantView) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := State{Mode: "observe"}

	for i := range e.zones {
		if e.evalZonePolicy(&e.zones[i], instant, participants) {
			st.PauseIntent = true
			if st.ActivePolicyID == "" {
				st.ActivePolicyID = e.zones[i].cfg.ID
			}
		}
	}

	if e.challenge != nil {
		e.advanceChallenge(instant)
		c := *e.challenge
		st.Challenge = &c
	}

	if st.PauseIntent {
		st.Mode = "enforce"
		metrics.PauseIntentActive.Set(1)
	} else {
		metrics.PauseIntentActive.Set(0)
	}
	return st
}

func (e *Engine) evalZonePolicy(p *zonePolicy, instant time.Time, participants []ParticipantView) bool {
	pause := false
	seen := make(map[string]bool, len(participants))

	for _, pv := range participants {
		if !pv.IsPrimary {
			continue
		}
		seen[pv.ID] = true

		// thresholds resolve against the participant's own zone table
		idx := e.zoneIndex(pv.ID, pv.Zone)
		threshold := e.zoneIndex(pv.ID, p.cfg.Zone)
		if idx < 0 || threshold < 0 || idx >= threshold {
			delete(p.belowSince, pv.ID)
			continue
		}

		since, ok := p.belowSince[pv.ID]
		if !ok {
			p.belowSince[pv.ID] = instant
			continue
		}
		if instant.Sub(since) > p.cfg.Grace {
			pause = true
		}
	}

	// participants gone from the view stop counting against the policy
	for id := range p.belowSince {
		if !seen[id] {
			delete(p.belowSince, id)
		}
	}
	return pause
}

func (e *Engine) advanceChallenge(instant time.Time) {
	c := e.challenge
	if c.Phase != PhaseRunning {
		return
	}

	if e.progress != nil {
		c.Progress = e.progress(c.Metric)
	}
	switch {
	case c.Progress >= c.Target:
		c.Phase = PhaseWon
		logging.Info().Str("challenge", c.ID).Float64("progress", c.Progress).Msg("challenge won")
	case !instant.Before(c.Deadline):
		c.Phase = PhaseFailed
		logging.Info().Str("challenge", c.ID).Float64("progress", c.Progress).Msg("challenge failed at deadline")
	}
}
