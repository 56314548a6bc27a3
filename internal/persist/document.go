// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

// Package persist writes and reads the versioned session document.
//
// The on-disk format is v3: canonical snake_case keys, RLE-encoded
// timeline series, and no legacy fields. Older v2 documents are still
// readable; they are normalized into the v3 runtime model on load and
// always written back as v3.
package persist

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// DocumentVersion is the persisted format version this build writes.
const DocumentVersion = 3

// EncodingRLE names the only supported series encoding.
const EncodingRLE = "rle"

// SessionMeta is the document's session block. All six fields must be
// present for a document to be recognized as v3.
type SessionMeta struct {
	ID              string    `json:"id"`
	Date            string    `json:"date"` // YYYY-MM-DD in the session timezone
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationSeconds int       `json:"duration_seconds"`
	Timezone        string    `json:"timezone"`
}

// TotalsDoc holds session-wide coin totals.
type TotalsDoc struct {
	Coins   int            `json:"coins"`
	Buckets map[string]int `json:"buckets"`
}

// HRStatsDoc is a participant's heart-rate summary.
type HRStatsDoc struct {
	Min int     `json:"min"`
	Max int     `json:"max"`
	Avg float64 `json:"avg"`
}

// ParticipantDoc is one participant's persisted totals.
type ParticipantDoc struct {
	DisplayName     string         `json:"display_name"`
	IsPrimary       bool           `json:"is_primary"`
	IsGuest         bool           `json:"is_guest"`
	CoinsEarned     int            `json:"coins_earned"`
	ActiveSeconds   int            `json:"active_seconds"`
	ZoneTimeSeconds map[string]int `json:"zone_time_seconds"`
	HRStats         HRStatsDoc     `json:"hr_stats"`
}

// TimelineDoc carries every RLE-encoded series, partitioned by subject
// class. Metric name -> RLE JSON string.
type TimelineDoc struct {
	IntervalSeconds int                          `json:"interval_seconds"`
	TickCount       int                          `json:"tick_count"`
	Encoding        string                       `json:"encoding"`
	Participants    map[string]map[string]string `json:"participants"`
	Equipment       map[string]map[string]string `json:"equipment,omitempty"`
	Global          map[string]string            `json:"global,omitempty"`
}

// MediaEventDoc is one persisted audio or video play.
type MediaEventDoc struct {
	At              time.Time `json:"at"`
	Title           string    `json:"title"`
	Artist          string    `json:"artist,omitempty"`
	Show            string    `json:"show,omitempty"`
	Season          int       `json:"season,omitempty"`
	PlexID          string    `json:"plex_id,omitempty"`
	DurationSeconds int       `json:"duration_seconds"`
}

// ScreenshotDoc is one persisted snapshot capture.
type ScreenshotDoc struct {
	At       time.Time `json:"at"`
	Filename string    `json:"filename"`
	Index    int       `json:"index"`
}

// EventsDoc groups the out-of-band session events.
type EventsDoc struct {
	Audio       []MediaEventDoc `json:"audio,omitempty"`
	Video       []MediaEventDoc `json:"video,omitempty"`
	Screenshots []ScreenshotDoc `json:"screenshots,omitempty"`
}

// SessionDocument is the complete persisted session artifact.
type SessionDocument struct {
	Version      int                       `json:"version"`
	Session      SessionMeta               `json:"session"`
	Totals       TotalsDoc                 `json:"totals"`
	Participants map[string]ParticipantDoc `json:"participants"`
	Timeline     TimelineDoc               `json:"timeline"`
	Events       *EventsDoc                `json:"events,omitempty"`
}

// Marshal serializes the document as v3 JSON.
func (d *SessionDocument) Marshal() ([]byte, error) {
	d.Version = DocumentVersion
	d.Timeline.Encoding = EncodingRLE
	out, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("persist: marshal document: %w", err)
	}
	return out, nil
}
