// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

// Package timeline stores per-(subject, metric) sample series aligned to
// the session timebase.
//
// Every series is dense: after FinalizeTick(i) each known series has
// exactly i+1 elements, with null standing in for ticks where no sample
// landed. Series persist as run-length encoded JSON strings.
package timeline

import (
	"sort"
	"sync"
)

// Metric names a sample channel within a subject's timeline.
type Metric string

// Metrics recorded by the session core. Participant subjects carry hr,
// zone and coins_total; equipment subjects carry cadence, power and
// vibration; the session itself carries the global series.
const (
	MetricHeartRate  Metric = "hr"
	MetricZone       Metric = "zone"
	MetricCoinsTotal Metric = "coins_total"
	MetricCadence    Metric = "cadence"
	MetricPower      Metric = "power"
	MetricVibration  Metric = "vibration"
	MetricGap        Metric = "gap"
)

// Value is one series element: float64 for numeric metrics, string for
// categorical, bool for pulses, nil for a dropout tick. Numerics are
// normalized to float64 so RLE round-trips are exact.
type Value = any

// Key identifies one series.
type Key struct {
	Subject string
	Metric  Metric
}

// SubjectClass partitions series into the persisted document's sections.
type SubjectClass int

const (
	// ClassParticipant series persist under timeline.participants.
	ClassParticipant SubjectClass = iota
	// ClassEquipment series persist under timeline.equipment.
	ClassEquipment
	// ClassGlobal series persist under timeline.global.
	ClassGlobal
)

// Store holds every series of one session. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	series  map[Key][]Value
	classes map[string]SubjectClass
	length  int // ticks finalized so far
}

// NewStore creates an empty timeline store.
func NewStore() *Store {
	return &Store{
		series:  make(map[Key][]Value),
		classes: make(map[string]SubjectClass),
	}
}

// DeclareSubject sets the persistence class for a subject. Subjects
// default to ClassParticipant when not declared.
func (s *Store) DeclareSubject(subject string, class SubjectClass) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classes[subject] = class
}

// Record writes a value at the given tick. A series created mid-session
// is back-filled with nulls so the density invariant holds. Within the
// same tick numeric and categorical values are last-write-wins; boolean
// pulses combine with logical OR.
func (s *Store) Record(subject string, metric Metric, tick int, value Value) {
	if tick < 0 {
		return
	}
	value = normalize(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key{Subject: subject, Metric: metric}
	series := s.series[key]

	// Grow to cover the target tick; intermediate ticks are null.
	for len(series) <= tick {
		series = append(series, nil)
	}

	if prev, ok := series[tick].(bool); ok {
		if b, isBool := value.(bool); isBool {
			series[tick] = prev || b
			s.series[key] = series
			return
		}
	}
	series[tick] = value
	s.series[key] = series
}

// FinalizeTick closes tick i: every known series is padded with null up
// to length i+1. After this call the tick is visible to snapshots and
// persistence.
func (s *Store) FinalizeTick(tick int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, series := range s.series {
		for len(series) <= tick {
			series = append(series, nil)
		}
		s.series[key] = series
	}
	if tick+1 > s.length {
		s.length = tick + 1
	}
}

// TickCount returns the number of finalized ticks.
func (s *Store) TickCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.length
}

// ValueAt returns the series element at a tick, or nil when the series
// or tick does not exist.
func (s *Store) ValueAt(subject string, metric Metric, tick int) Value {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[Key{Subject: subject, Metric: metric}]
	if tick < 0 || tick >= len(series) {
		return nil
	}
	return series[tick]
}

// Snapshot returns a stable copy of one series.
func (s *Store) Snapshot(subject string, metric Metric) []Value {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[Key{Subject: subject, Metric: metric}]
	out := make([]Value, len(series))
	copy(out, series)
	return out
}

// Keys returns every recorded series key in deterministic order.
func (s *Store) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]Key, 0, len(s.series))
	for k := range s.series {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Subject != keys[j].Subject {
			return keys[i].Subject < keys[j].Subject
		}
		return keys[i].Metric < keys[j].Metric
	})
	return keys
}

// ClassOf returns the persistence class for a subject.
func (s *Store) ClassOf(subject string) SubjectClass {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.classes[subject]
}

// normalize converts integer values to float64 so that a series element
// compares equal to its JSON round-tripped form.
func normalize(v Value) Value {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}
