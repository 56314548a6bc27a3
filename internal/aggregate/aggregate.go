// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

// Package aggregate accumulates per-tick session totals: coins, zone
// time, bucket totals and heart-rate statistics.
//
// The aggregator is a pure fold over the sample trace: re-running it
// over the same trace yields identical totals, which reconstruction
// after a restart depends on.
package aggregate

import (
	"math"
	"sort"
	"sync"
)

// DefaultBucket receives coins from zones with no configured mapping.
const DefaultBucket = "exercise"

// HRStats is a running heart-rate summary over ACTIVE ticks.
type HRStats struct {
	Min int
	Max int
	Avg float64

	// n counts the ACTIVE samples folded into Avg.
	n int
}

// UserTotals are the accumulated totals for one participant.
type UserTotals struct {
	Coins         int
	ActiveSeconds int
	ZoneTime      map[string]int // zone id -> seconds
	HR            HRStats
}

// SessionTotals are the session-wide accumulators.
type SessionTotals struct {
	Coins   int
	Buckets map[string]int
}

// Options configures an Aggregator.
type Options struct {
	// IntervalSeconds is the timebase interval.
	IntervalSeconds int

	// CoinDivisor converts heart rate to coins: round(hr/divisor).
	CoinDivisor int

	// Buckets maps zone ids to bucket names. Unmapped zones fall back
	// to DefaultBucket.
	Buckets map[string]string
}

// Aggregator folds ACTIVE participant ticks into totals.
type Aggregator struct {
	opts Options

	mu      sync.Mutex
	users   map[string]*UserTotals
	session SessionTotals
}

// New creates an empty aggregator.
func New(opts Options) *Aggregator {
	return &Aggregator{
		opts:    opts,
		users:   make(map[string]*UserTotals),
		session: SessionTotals{Buckets: make(map[string]int)},
	}
}

// ApplyTick folds one ACTIVE participant tick. Returns the coin delta
// and the participant's new cumulative coin total, which the caller
// records into the coins_total series.
func (a *Aggregator) ApplyTick(userID, zoneID string, hr int) (delta, total int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	u := a.users[userID]
	if u == nil {
		u = &UserTotals{ZoneTime: make(map[string]int)}
		a.users[userID] = u
	}

	delta = int(math.Round(float64(hr) / float64(a.opts.CoinDivisor)))
	u.Coins += delta
	a.session.Coins += delta
	a.session.Buckets[a.bucketOf(zoneID)] += delta

	u.ZoneTime[zoneID] += a.opts.IntervalSeconds
	u.ActiveSeconds += a.opts.IntervalSeconds

	if u.HR.n == 0 || hr < u.HR.Min {
		u.HR.Min = hr
	}
	if hr > u.HR.Max {
		u.HR.Max = hr
	}
	u.HR.Avg = (u.HR.Avg*float64(u.HR.n) + float64(hr)) / float64(u.HR.n+1)
	u.HR.n++

	return delta, u.Coins
}

func (a *Aggregator) bucketOf(zoneID string) string {
	if b, ok := a.opts.Buckets[zoneID]; ok {
		return b
	}
	return DefaultBucket
}

// User returns a copy of one participant's totals, or zero totals when
// the participant never had an ACTIVE tick.
func (a *Aggregator) User(userID string) UserTotals {
	a.mu.Lock()
	defer a.mu.Unlock()

	u := a.users[userID]
	if u == nil {
		return UserTotals{ZoneTime: map[string]int{}}
	}
	return copyUser(u)
}

// Users returns every participant id with totals, in order.
func (a *Aggregator) Users() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, 0, len(a.users))
	for id := range a.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Session returns a copy of the session-wide totals.
func (a *Aggregator) Session() SessionTotals {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := SessionTotals{Coins: a.session.Coins, Buckets: make(map[string]int, len(a.session.Buckets))}
	for k, v := range a.session.Buckets {
		out.Buckets[k] = v
	}
	return out
}

// Restore seeds a participant's totals from a persisted document, so a
// resumed session continues accumulating instead of starting over.
func (a *Aggregator) Restore(userID string, totals UserTotals, sessionCoins int, buckets map[string]int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cp := copyUserPtr(&totals)
	// The document does not carry the averaging count; recover it from
	// the active time so the restored average keeps its weight.
	if cp.HR.n == 0 && a.opts.IntervalSeconds > 0 {
		cp.HR.n = totals.ActiveSeconds / a.opts.IntervalSeconds
	}
	a.users[userID] = cp
	a.session.Coins = sessionCoins
	for k, v := range buckets {
		a.session.Buckets[k] = v
	}
}

func copyUser(u *UserTotals) UserTotals {
	out := *u
	out.ZoneTime = make(map[string]int, len(u.ZoneTime))
	for k, v := range u.ZoneTime {
		out.ZoneTime[k] = v
	}
	return out
}

func copyUserPtr(u *UserTotals) *UserTotals {
	cp := copyUser(u)
	return &cp
}
