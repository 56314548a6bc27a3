// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

package session

import (
	"fmt"
	"time"

	"github.com/pulsetrack/pulsetrack/internal/aggregate"
	"github.com/pulsetrack/pulsetrack/internal/eventlog"
	"github.com/pulsetrack/pulsetrack/internal/logging"
	"github.com/pulsetrack/pulsetrack/internal/persist"
	"github.com/pulsetrack/pulsetrack/internal/timeline"
)

// buildDocument assembles the v3 session document from the live state.
// Called at tick boundaries only, so every series has a consistent
// length.
func (c *Coordinator) buildDocument(now time.Time) *persist.SessionDocument {
	loc, err := time.LoadLocation(c.cfg.Session.Timezone)
	if err != nil {
		loc = time.UTC
	}

	doc := &persist.SessionDocument{
		Version: persist.DocumentVersion,
		Session: persist.SessionMeta{
			ID:              c.id,
			Date:            c.started.In(loc).Format("2006-01-02"),
			Start:           c.started,
			End:             now,
			DurationSeconds: int(now.Sub(c.started).Seconds()),
			Timezone:        c.cfg.Session.Timezone,
		},
		Participants: make(map[string]persist.ParticipantDoc),
		Timeline: persist.TimelineDoc{
			IntervalSeconds: int(c.cfg.Session.TickInterval.Seconds()),
			TickCount:       c.store.TickCount(),
			Encoding:        persist.EncodingRLE,
			Participants:    make(map[string]map[string]string),
		},
	}

	totals := c.agg.Session()
	doc.Totals = persist.TotalsDoc{Coins: totals.Coins, Buckets: totals.Buckets}

	for _, p := range c.tracker.All() {
		u := c.agg.User(p.ID)
		doc.Participants[p.ID] = persist.ParticipantDoc{
			DisplayName:     p.DisplayName,
			IsPrimary:       p.IsPrimary,
			IsGuest:         p.IsGuest,
			CoinsEarned:     u.Coins,
			ActiveSeconds:   u.ActiveSeconds,
			ZoneTimeSeconds: u.ZoneTime,
			HRStats:         persist.HRStatsDoc{Min: u.HR.Min, Max: u.HR.Max, Avg: u.HR.Avg},
		}
	}

	for _, key := range c.store.Keys() {
		rle, err := timeline.EncodeRLE(c.store.Snapshot(key.Subject, key.Metric))
		if err != nil {
			logging.Err(err).Str("subject", key.Subject).Str("metric", string(key.Metric)).Msg("encoding series")
			continue
		}
		switch c.store.ClassOf(key.Subject) {
		case timeline.ClassParticipant:
			if doc.Timeline.Participants[key.Subject] == nil {
				doc.Timeline.Participants[key.Subject] = make(map[string]string)
			}
			doc.Timeline.Participants[key.Subject][string(key.Metric)] = rle
		case timeline.ClassEquipment:
			if doc.Timeline.Equipment == nil {
				doc.Timeline.Equipment = make(map[string]map[string]string)
			}
			if doc.Timeline.Equipment[key.Subject] == nil {
				doc.Timeline.Equipment[key.Subject] = make(map[string]string)
			}
			doc.Timeline.Equipment[key.Subject][string(key.Metric)] = rle
		case timeline.ClassGlobal:
			if doc.Timeline.Global == nil {
				doc.Timeline.Global = make(map[string]string)
			}
			doc.Timeline.Global[string(key.Metric)] = rle
		}
	}

	doc.Events = buildEventsDoc(c.events.Events())
	return doc
}

func buildEventsDoc(events []eventlog.Event) *persist.EventsDoc {
	if len(events) == 0 {
		return nil
	}
	out := &persist.EventsDoc{}
	for _, ev := range events {
		switch ev.Type {
		case eventlog.TypeAudio:
			out.Audio = append(out.Audio, persist.MediaEventDoc{
				At: ev.Instant, Title: ev.Title, Artist: ev.Artist,
				PlexID: ev.PlexID, DurationSeconds: ev.DurationSeconds,
			})
		case eventlog.TypeVideo:
			out.Video = append(out.Video, persist.MediaEventDoc{
				At: ev.Instant, Title: ev.Title, Show: ev.Show, Season: ev.Season,
				PlexID: ev.PlexID, DurationSeconds: ev.DurationSeconds,
			})
		case eventlog.TypeScreenshot:
			out.Screenshots = append(out.Screenshots, persist.ScreenshotDoc{
				At: ev.Instant, Filename: ev.Filename, Index: ev.Index,
			})
		}
	}
	return out
}

// RestoreDocument seeds the coordinator from a persisted document:
// aggregated totals, reconstructed dropout events, and the event log.
// Must be called before Start.
func (c *Coordinator) RestoreDocument(doc *persist.SessionDocument) error {
	if c.State() != StateNew {
		return fmt.Errorf("%w: restore from %s", ErrInvalidState, c.State())
	}

	c.id = doc.Session.ID
	for id, p := range doc.Participants {
		c.tracker.Ensure(id, p.DisplayName, p.IsPrimary, p.IsGuest)
		c.agg.Restore(id, aggregateTotals(p), doc.Totals.Coins, doc.Totals.Buckets)
	}

	events, err := persist.ReconstructDropouts(doc)
	if err != nil {
		return err
	}
	for _, ev := range events {
		c.tracker.AddDropout(ev)
	}

	if doc.Events != nil {
		c.events.Restore(restoredEvents(doc.Events))
	}

	logging.Info().
		Str("session", c.id).
		Int("participants", len(doc.Participants)).
		Int("dropouts", len(events)).
		Msg("session state restored from document")
	return nil
}

func aggregateTotals(p persist.ParticipantDoc) aggregate.UserTotals {
	zoneTime := p.ZoneTimeSeconds
	if zoneTime == nil {
		zoneTime = map[string]int{}
	}
	return aggregate.UserTotals{
		Coins:         p.CoinsEarned,
		ActiveSeconds: p.ActiveSeconds,
		ZoneTime:      zoneTime,
		HR:            aggregate.HRStats{Min: p.HRStats.Min, Max: p.HRStats.Max, Avg: p.HRStats.Avg},
	}
}

func restoredEvents(events *persist.EventsDoc) []eventlog.Event {
	var out []eventlog.Event
	for _, ev := range events.Screenshots {
		out = append(out, eventlog.Event{Type: eventlog.TypeScreenshot, Instant: ev.At, Filename: ev.Filename, Index: ev.Index})
	}
	for _, ev := range events.Audio {
		out = append(out, eventlog.Event{
			Type: eventlog.TypeAudio, Instant: ev.At, Title: ev.Title,
			Artist: ev.Artist, PlexID: ev.PlexID, DurationSeconds: ev.DurationSeconds,
		})
	}
	for _, ev := range events.Video {
		out = append(out, eventlog.Event{
			Type: eventlog.TypeVideo, Instant: ev.At, Title: ev.Title, Show: ev.Show,
			Season: ev.Season, PlexID: ev.PlexID, DurationSeconds: ev.DurationSeconds,
		})
	}
	return out
}
