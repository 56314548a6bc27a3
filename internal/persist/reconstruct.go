// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

package persist

import (
	"fmt"
	"sort"
	"time"

	"github.com/pulsetrack/pulsetrack/internal/participant"
	"github.com/pulsetrack/pulsetrack/internal/timeline"
)

// ReconstructDropouts derives the dropout event set from a persisted
// document's heart-rate series: a null following a non-null marks a
// dropout at the index of the last non-null. A never-active prefix of
// nulls is not a dropout. Event ids match the live recording path, so
// merging reconstructed events into a resumed session is idempotent.
func ReconstructDropouts(doc *SessionDocument) ([]participant.DropoutEvent, error) {
	ids := make([]string, 0, len(doc.Timeline.Participants))
	for id := range doc.Timeline.Participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	interval := time.Duration(doc.Timeline.IntervalSeconds) * time.Second
	var events []participant.DropoutEvent

	for _, id := range ids {
		series := doc.Timeline.Participants[id]
		hrRLE, ok := series[string(timeline.MetricHeartRate)]
		if !ok {
			continue
		}
		hr, err := timeline.DecodeRLE(hrRLE)
		if err != nil {
			return nil, fmt.Errorf("persist: reconstruct %s heart rate: %w", id, err)
		}

		var coins []timeline.Value
		if coinsRLE, ok := series[string(timeline.MetricCoinsTotal)]; ok {
			if coins, err = timeline.DecodeRLE(coinsRLE); err != nil {
				return nil, fmt.Errorf("persist: reconstruct %s coins: %w", id, err)
			}
		}

		for i := 1; i < len(hr); i++ {
			if hr[i] != nil || hr[i-1] == nil {
				continue
			}
			tick := i - 1
			events = append(events, participant.DropoutEvent{
				ID:            participant.DropoutID(id, tick),
				ParticipantID: id,
				Tick:          tick,
				Value:         coinValueAt(coins, tick),
				Instant:       doc.Session.Start.Add(time.Duration(tick) * interval),
			})
		}
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].Tick != events[j].Tick {
			return events[i].Tick < events[j].Tick
		}
		return events[i].ParticipantID < events[j].ParticipantID
	})
	return events, nil
}

func coinValueAt(coins []timeline.Value, tick int) float64 {
	if tick < 0 || tick >= len(coins) {
		return 0
	}
	if v, ok := coins[tick].(float64); ok {
		return v
	}
	return 0
}
