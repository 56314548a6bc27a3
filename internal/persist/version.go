// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

package persist

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// sessionMetaKeys must all be present in the session block for a
// document to count as v3.
var sessionMetaKeys = []string{"id", "date", "start", "end", "duration_seconds", "timezone"}

// IsV3 reports whether raw is a v3 document: version == 3 and a session
// block carrying every required key. Anything else is treated as the
// legacy v2 layout.
func IsV3(raw []byte) bool {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return false
	}

	var version int
	if err := json.Unmarshal(top["version"], &version); err != nil || version != DocumentVersion {
		return false
	}

	var session map[string]json.RawMessage
	if err := json.Unmarshal(top["session"], &session); err != nil {
		return false
	}
	for _, key := range sessionMetaKeys {
		if _, ok := session[key]; !ok {
			return false
		}
	}
	return true
}

// legacyDocument is the v2 on-disk layout: flat camelCase session
// fields and a handful of fields the v3 format dropped. The dropped
// fields are listed so decoding tolerates them; they are never carried
// into the runtime model.
type legacyDocument struct {
	SessionID       string    `json:"sessionId"`
	Date            string    `json:"date"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationSeconds int       `json:"durationSeconds"`
	Timezone        string    `json:"timezone"`

	Totals       TotalsDoc                    `json:"totals"`
	Participants map[string]legacyParticipant `json:"participants"`
	Timeline     TimelineDoc                  `json:"timeline"`
	Events       *EventsDoc                   `json:"events"`

	// dropped on write
	VoiceMemos        json.RawMessage `json:"voiceMemos"`
	DeviceAssignments json.RawMessage `json:"deviceAssignments"`
	SeriesMeta        json.RawMessage `json:"seriesMeta"`
	PersistWarnings   json.RawMessage `json:"_persistWarnings"`
}

type legacyParticipant struct {
	DisplayName     string         `json:"displayName"`
	IsPrimary       bool           `json:"isPrimary"`
	IsGuest         bool           `json:"isGuest"`
	CoinsEarned     int            `json:"coinsEarned"`
	ActiveSeconds   int            `json:"activeSeconds"`
	ZoneTimeSeconds map[string]int `json:"zoneTimeSeconds"`
	HRStats         HRStatsDoc     `json:"hrStats"`
}

// Decode parses a stored document of either version into the v3
// runtime model. v3 passes through; v2 is normalized field by field,
// silently shedding its legacy baggage.
func Decode(raw []byte) (*SessionDocument, error) {
	if IsV3(raw) {
		var doc SessionDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("persist: decode v3 document: %w", err)
		}
		return &doc, nil
	}

	var legacy legacyDocument
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("persist: decode legacy document: %w", err)
	}
	if legacy.SessionID == "" {
		return nil, fmt.Errorf("persist: document is neither v3 nor legacy (no sessionId)")
	}

	doc := &SessionDocument{
		Version: DocumentVersion,
		Session: SessionMeta{
			ID:              legacy.SessionID,
			Date:            legacy.Date,
			Start:           legacy.Start,
			End:             legacy.End,
			DurationSeconds: legacy.DurationSeconds,
			Timezone:        legacy.Timezone,
		},
		Totals:   legacy.Totals,
		Timeline: legacy.Timeline,
		Events:   legacy.Events,
	}
	if len(legacy.Participants) > 0 {
		doc.Participants = make(map[string]ParticipantDoc, len(legacy.Participants))
		for id, p := range legacy.Participants {
			doc.Participants[id] = ParticipantDoc{
				DisplayName:     p.DisplayName,
				IsPrimary:       p.IsPrimary,
				IsGuest:         p.IsGuest,
				CoinsEarned:     p.CoinsEarned,
				ActiveSeconds:   p.ActiveSeconds,
				ZoneTimeSeconds: p.ZoneTimeSeconds,
				HRStats:         p.HRStats,
			}
		}
	}
	return doc, nil
}
