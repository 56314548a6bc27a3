// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

package session

import (
	"time"

	"github.com/pulsetrack/pulsetrack/internal/governance"
	"github.com/pulsetrack/pulsetrack/internal/metrics"
)

// ParticipantSnapshot is one participant's state in a tick snapshot.
// HR and Zone are nil/empty when no sample landed this tick.
type ParticipantSnapshot struct {
	ID              string         `json:"id"`
	DisplayName     string         `json:"displayName"`
	Status          string         `json:"status"`
	HR              *int           `json:"hr,omitempty"`
	Zone            string         `json:"zone,omitempty"`
	Coins           int            `json:"coins"`
	ZoneTimeSeconds map[string]int `json:"zoneTimeSeconds"`
}

// DeviceSnapshot is one roster device's state in a tick snapshot.
type DeviceSnapshot struct {
	DeviceID    string `json:"deviceId"`
	Kind        string `json:"kind"`
	Active      bool   `json:"active"`
	OwnerUserID string `json:"ownerUserId,omitempty"`
	Battery     *int   `json:"battery,omitempty"`
}

// TotalsSnapshot is the session-wide totals block.
type TotalsSnapshot struct {
	Coins   int            `json:"coins"`
	Buckets map[string]int `json:"buckets"`
}

// Snapshot is the consolidated per-tick record delivered to every
// subscriber. Immutable once built.
type Snapshot struct {
	SessionID    string                `json:"sessionId"`
	Tick         int                   `json:"tick"`
	Instant      time.Time             `json:"instant"`
	Participants []ParticipantSnapshot `json:"participants"`
	Totals       TotalsSnapshot        `json:"totals"`
	Devices      []DeviceSnapshot      `json:"devices"`
	Governance   governance.State      `json:"governance"`

	// Degraded is set after tick drift beyond the catch-up cap.
	Degraded bool `json:"degraded,omitempty"`
	// PersistenceDegraded is set while document writes are failing.
	PersistenceDegraded bool `json:"persistenceDegraded,omitempty"`
}

// Subscriber receives tick snapshots with latest-wins coalescing: a
// slow consumer only ever sees the most recent snapshot, never a
// backlog.
type Subscriber struct {
	ch chan Snapshot
}

func newSubscriber() *Subscriber {
	return &Subscriber{ch: make(chan Snapshot, 1)}
}

// C is the snapshot delivery channel.
func (s *Subscriber) C() <-chan Snapshot { return s.ch }

// offer delivers a snapshot, replacing an unconsumed one.
func (s *Subscriber) offer(snap Snapshot) {
	for {
		select {
		case s.ch <- snap:
			return
		default:
		}
		select {
		case <-s.ch:
			metrics.SnapshotsCoalesced.Inc()
		default:
		}
	}
}
