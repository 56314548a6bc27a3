// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

// Package eventlog collects out-of-band session events: screenshots,
// voice memos and media plays. The log is append-only and kept ordered
// by instant; it is serialized into the session document as-is.
package eventlog

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Event types stored in the log.
const (
	TypeScreenshot = "screenshot_taken"
	TypeVoiceMemo  = "voice_memo"
	TypeAudio      = "audio_played"
	TypeVideo      = "video_played"
)

// Event is one tagged session event. Only the fields matching Type are
// populated; the rest stay at their zero value and are omitted from the
// serialized document.
type Event struct {
	Type    string    `json:"type"`
	Instant time.Time `json:"instant"`

	// screenshot_taken
	Filename string `json:"filename,omitempty"`
	Index    int    `json:"index,omitempty"`

	// voice_memo
	MemoID          string `json:"memoId,omitempty"`
	Transcript      string `json:"transcript,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`

	// audio_played / video_played
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Show   string `json:"show,omitempty"`
	Season int    `json:"season,omitempty"`
	PlexID string `json:"plexId,omitempty"`
}

// SnapshotPlan describes the camera subsystem's capture schedule,
// fixed at session start. The log only validates filenames against the
// pattern loosely; capture itself is external.
type SnapshotPlan struct {
	IntervalMs      int    `json:"intervalMs"`
	FilenamePattern string `json:"filenamePattern"`
}

// Log is the append-only event list for one session.
type Log struct {
	mu        sync.Mutex
	plan      SnapshotPlan
	events    []Event
	filenames map[string]bool
	nextIndex int
}

// New creates an empty log with the given snapshot plan.
func New(plan SnapshotPlan) *Log {
	return &Log{plan: plan, filenames: make(map[string]bool)}
}

// Plan returns the configured snapshot plan.
func (l *Log) Plan() SnapshotPlan { return l.plan }

// AddScreenshot registers a captured snapshot filename. Duplicate
// filenames are ignored and reported false.
func (l *Log) AddScreenshot(filename string, instant time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.filenames[filename] {
		return false
	}
	l.filenames[filename] = true
	l.appendLocked(Event{
		Type:     TypeScreenshot,
		Instant:  instant,
		Filename: filename,
		Index:    l.nextIndex,
	})
	l.nextIndex++
	return true
}

// AddVoiceMemo records a voice memo. Transcript may be empty when
// transcription has not completed.
func (l *Log) AddVoiceMemo(id, transcript string, instant time.Time, durationSeconds int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLocked(Event{
		Type:            TypeVoiceMemo,
		Instant:         instant,
		MemoID:          id,
		Transcript:      transcript,
		DurationSeconds: durationSeconds,
	})
}

// AddAudioPlay records a played audio track.
func (l *Log) AddAudioPlay(title, artist, plexID string, instant time.Time, durationSeconds int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLocked(Event{
		Type:            TypeAudio,
		Instant:         instant,
		Title:           title,
		Artist:          artist,
		PlexID:          plexID,
		DurationSeconds: durationSeconds,
	})
}

// AddVideoPlay records a played video.
func (l *Log) AddVideoPlay(title, show string, season int, plexID string, instant time.Time, durationSeconds int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLocked(Event{
		Type:            TypeVideo,
		Instant:         instant,
		Title:           title,
		Show:            show,
		Season:          season,
		PlexID:          plexID,
		DurationSeconds: durationSeconds,
	})
}

// Restore re-inserts persisted events when a session document is read
// back, keeping filename dedup and the screenshot index counter intact.
func (l *Log) Restore(events []Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, ev := range events {
		if ev.Type == TypeScreenshot {
			if l.filenames[ev.Filename] {
				continue
			}
			l.filenames[ev.Filename] = true
			if ev.Index >= l.nextIndex {
				l.nextIndex = ev.Index + 1
			}
		}
		l.appendLocked(ev)
	}
}

// appendLocked inserts the event keeping the list ordered by instant.
// Events arrive nearly in order, so the common case is a plain append.
func (l *Log) appendLocked(ev Event) {
	n := len(l.events)
	if n == 0 || !ev.Instant.Before(l.events[n-1].Instant) {
		l.events = append(l.events, ev)
		return
	}
	i := sort.Search(n, func(i int) bool { return l.events[i].Instant.After(ev.Instant) })
	l.events = append(l.events, Event{})
	copy(l.events[i+1:], l.events[i:])
	l.events[i] = ev
}

// Events returns a copy of the log in instant order.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// NextFilename renders the plan's pattern for the next capture index,
// substituting "{index}" with the zero-padded counter.
func (l *Log) NextFilename() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.ReplaceAll(l.plan.FilenamePattern, "{index}", fmt.Sprintf("%04d", l.nextIndex))
}
