// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

package persist

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/pulsetrack/pulsetrack/internal/logging"
	"github.com/pulsetrack/pulsetrack/internal/timeline"
)

//nolint:gochecknoinits // init ensures quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

var start = time.Date(2026, 1, 15, 18, 0, 0, 0, time.UTC)

func sampleDocument(t *testing.T) *SessionDocument {
	t.Helper()

	mustRLE := func(vals ...timeline.Value) string {
		s, err := timeline.EncodeRLE(vals)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}

	return &SessionDocument{
		Version: DocumentVersion,
		Session: SessionMeta{
			ID:              "s-2026-01-15",
			Date:            "2026-01-15",
			Start:           start,
			End:             start.Add(30 * time.Second),
			DurationSeconds: 30,
			Timezone:        "UTC",
		},
		Totals: TotalsDoc{Coins: 21, Buckets: map[string]int{"exercise": 21}},
		Participants: map[string]ParticipantDoc{
			"alice": {
				DisplayName: "Alice", IsPrimary: true,
				CoinsEarned: 9, ActiveSeconds: 15,
				ZoneTimeSeconds: map[string]int{"a": 15},
				HRStats:         HRStatsDoc{Min: 100, Max: 100, Avg: 100},
			},
		},
		Timeline: TimelineDoc{
			IntervalSeconds: 5,
			TickCount:       6,
			Encoding:        EncodingRLE,
			Participants: map[string]map[string]string{
				"alice": {
					"hr":          mustRLE(100.0, 100.0, 100.0, nil, nil, nil),
					"zone":        mustRLE("a", "a", "a", nil, nil, nil),
					"coins_total": mustRLE(3.0, 6.0, 9.0, nil, nil, nil),
				},
			},
		},
	}
}

func TestVersionDetect(t *testing.T) {
	doc := sampleDocument(t)
	raw, err := doc.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !IsV3(raw) {
		t.Error("v3 document with full session block should detect as v3")
	}

	legacy := []byte(`{"sessionId":"s-old","date":"2025-06-01","totals":{"coins":4}}`)
	if IsV3(legacy) {
		t.Error("top-level sessionId with no version must detect as v2")
	}

	// version 3 but incomplete session block is not v3
	partial := []byte(`{"version":3,"session":{"id":"x","date":"2025-06-01"}}`)
	if IsV3(partial) {
		t.Error("incomplete session block must not detect as v3")
	}
}

func TestDecodeV3RoundTrip(t *testing.T) {
	doc := sampleDocument(t)
	raw, err := doc.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.Session.ID != doc.Session.ID || got.Totals.Coins != 21 {
		t.Errorf("decoded = %+v", got.Session)
	}
	if got.Participants["alice"].CoinsEarned != 9 {
		t.Errorf("alice = %+v", got.Participants["alice"])
	}
}

func TestDecodeLegacyNormalizes(t *testing.T) {
	legacy := []byte(`{
		"sessionId": "s-old",
		"date": "2025-06-01",
		"start": "2025-06-01T18:00:00Z",
		"end": "2025-06-01T18:30:00Z",
		"durationSeconds": 1800,
		"timezone": "UTC",
		"totals": {"coins": 12, "buckets": {"exercise": 12}},
		"participants": {
			"bob": {"displayName": "Bob", "isPrimary": true, "coinsEarned": 12,
			        "activeSeconds": 60, "zoneTimeSeconds": {"w": 60},
			        "hrStats": {"min": 120, "max": 140, "avg": 131.5}}
		},
		"voiceMemos": [{"id": "m1"}],
		"deviceAssignments": {"45832": "bob"},
		"seriesMeta": {},
		"_persistWarnings": ["old"]
	}`)

	doc, err := Decode(legacy)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Version != DocumentVersion || doc.Session.ID != "s-old" {
		t.Errorf("session = %+v", doc.Session)
	}
	if doc.Participants["bob"].HRStats.Avg != 131.5 {
		t.Errorf("bob = %+v", doc.Participants["bob"])
	}

	// re-emitting must produce v3 with legacy fields gone
	raw, err := doc.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !IsV3(raw) {
		t.Error("normalized legacy document must write back as v3")
	}
	for _, field := range []string{"voiceMemos", "deviceAssignments", "seriesMeta", "_persistWarnings"} {
		if bytes.Contains(raw, []byte(field)) {
			t.Errorf("legacy field %q survived the rewrite", field)
		}
	}
}

func TestReconstructDropouts(t *testing.T) {
	doc := sampleDocument(t)

	events, err := ReconstructDropouts(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.ID != "alice-dropout-2" || ev.Tick != 2 || ev.Value != 9 {
		t.Errorf("event = %+v", ev)
	}
	if want := start.Add(10 * time.Second); !ev.Instant.Equal(want) {
		t.Errorf("instant = %s, want %s", ev.Instant, want)
	}
}

func TestReconstructIgnoresInitialNulls(t *testing.T) {
	doc := sampleDocument(t)
	hr, err := timeline.EncodeRLE([]timeline.Value{nil, nil, 110.0, 110.0, nil})
	if err != nil {
		t.Fatal(err)
	}
	coins, err := timeline.EncodeRLE([]timeline.Value{nil, nil, 4.0, 8.0, nil})
	if err != nil {
		t.Fatal(err)
	}
	doc.Timeline.Participants["late"] = map[string]string{"hr": hr, "coins_total": coins}

	events, err := ReconstructDropouts(doc)
	if err != nil {
		t.Fatal(err)
	}

	var late []string
	for _, ev := range events {
		if ev.ParticipantID == "late" {
			late = append(late, ev.ID)
		}
	}
	if len(late) != 1 || late[0] != "late-dropout-3" {
		t.Errorf("late events = %v, initial nulls must not be dropouts", late)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store, err := Open("") // in-memory
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	doc := sampleDocument(t)
	raw, err := doc.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put(doc.Session.ID, raw); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(doc.Session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(raw) {
		t.Error("stored payload mismatch")
	}

	if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing session error = %v, want ErrNotFound", err)
	}

	ids, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != doc.Session.ID {
		t.Errorf("ids = %v", ids)
	}
}

func TestWriterRetainsLastGoodOnFailure(t *testing.T) {
	old := retryBackoffs
	retryBackoffs = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	defer func() { retryBackoffs = old }()

	store, err := Open("")
	if err != nil {
		t.Fatal(err)
	}

	w := NewWriter(store)
	doc := sampleDocument(t)
	if err := w.Write(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
	good := w.LastGood()
	if good == nil || w.Degraded() {
		t.Fatal("first write should succeed cleanly")
	}

	// closing the store makes every subsequent write fail
	store.Close()
	doc.Totals.Coins = 99
	err = w.Write(context.Background(), doc)
	if !errors.Is(err, ErrPersistenceDegraded) {
		t.Fatalf("err = %v, want ErrPersistenceDegraded", err)
	}
	if !w.Degraded() {
		t.Error("writer should report degraded")
	}
	if string(w.LastGood()) != string(good) {
		t.Error("last good payload must be retained on failure")
	}
}
