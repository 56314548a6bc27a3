// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

// Package roster maps device ids to their owners and tracks liveness.
//
// Assignments come from session config plus live overrides. Duplicate
// assignments for a device are resolved by tier: primary users win over
// secondary, first-come-first-served within a tier. A device is active
// while it has been seen within the liveness window.
package roster

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsetrack/pulsetrack/internal/telemetry"
)

// LivenessWindow is how recently a device must have reported to count
// as active.
const LivenessWindow = 5 * time.Second

// Role orders assignment tie-breaks.
type Role int

const (
	// RoleSecondary assignments yield to primary ones.
	RoleSecondary Role = iota
	// RolePrimary assignments win device conflicts.
	RolePrimary
)

// Device is one registered or discovered telemetry source.
type Device struct {
	DeviceID    string
	Kind        telemetry.Kind
	OwnerUserID string
	Role        Role
	Color       string

	// lastSeen is unix nanoseconds, updated with compare-and-swap so
	// producers never block each other.
	lastSeen atomic.Int64
	battery  atomic.Int64 // -1 when unknown
}

// LastSeen returns the instant the device last reported, or the zero
// time if it never has.
func (d *Device) LastSeen() time.Time {
	ns := d.lastSeen.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Battery returns the last reported battery level, or nil if unknown.
func (d *Device) Battery() *int {
	v := d.battery.Load()
	if v < 0 {
		return nil
	}
	b := int(v)
	return &b
}

// ActiveAt reports whether the device was seen within the liveness
// window before now.
func (d *Device) ActiveAt(now time.Time) bool {
	ns := d.lastSeen.Load()
	if ns == 0 {
		return false
	}
	return now.Sub(time.Unix(0, ns)) < LivenessWindow
}

// Roster is the device directory for one session.
type Roster struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

// New creates an empty roster.
func New() *Roster {
	return &Roster{devices: make(map[string]*Device)}
}

// Register declares a device without an owner (discovered live or
// listed in config without a user binding).
func (r *Roster) Register(deviceID string, kind telemetry.Kind, color string) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureLocked(deviceID, kind, color)
}

func (r *Roster) ensureLocked(deviceID string, kind telemetry.Kind, color string) *Device {
	if d, ok := r.devices[deviceID]; ok {
		if d.Kind == "" {
			d.Kind = kind
		}
		if color != "" {
			d.Color = color
		}
		return d
	}
	d := &Device{DeviceID: deviceID, Kind: kind, Color: color}
	d.battery.Store(-1)
	r.devices[deviceID] = d
	return d
}

// Assign binds a device to a user. A primary assignment displaces a
// secondary one; within the same tier the first assignment stands.
// Returns whether the assignment took effect.
func (r *Roster) Assign(deviceID, userID string, role Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.ensureLocked(deviceID, "", "")
	if d.OwnerUserID == "" || role > d.Role {
		d.OwnerUserID = userID
		d.Role = role
		return true
	}
	return false
}

// Lookup returns the device, or nil when unknown.
func (r *Roster) Lookup(deviceID string) *Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[deviceID]
}

// MarkSeen records a report from the device. Monotonic: an older
// instant never overwrites a newer one (compare-and-swap loop).
func (r *Roster) MarkSeen(deviceID string, instant time.Time) {
	d := r.Lookup(deviceID)
	if d == nil {
		return
	}
	ns := instant.UnixNano()
	for {
		prev := d.lastSeen.Load()
		if prev >= ns {
			return
		}
		if d.lastSeen.CompareAndSwap(prev, ns) {
			return
		}
	}
}

// SetBattery records a battery report for the device.
func (r *Roster) SetBattery(deviceID string, level int) {
	if d := r.Lookup(deviceID); d != nil {
		d.battery.Store(int64(level))
	}
}

// GetActive returns the devices seen within the liveness window, in
// deterministic id order.
func (r *Roster) GetActive(now time.Time) []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*Device
	for _, d := range r.devices {
		if d.ActiveAt(now) {
			active = append(active, d)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].DeviceID < active[j].DeviceID })
	return active
}

// All returns every known device in deterministic id order.
func (r *Roster) All() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
