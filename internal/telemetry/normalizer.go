// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/pulsetrack/pulsetrack/internal/logging"
	"github.com/pulsetrack/pulsetrack/internal/metrics"
)

// MalformedFrameError reports a frame that could not be normalized.
// Malformed frames are counted and dropped; they never surface past the
// normalizer.
type MalformedFrameError struct {
	Source string
	Reason string
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("telemetry: malformed %s frame: %s", e.Source, e.Reason)
}

// CoalesceWindow is how long a vibration pulse waits for its idle
// reading before it is emitted standalone.
const CoalesceWindow = 200 * time.Millisecond

// Normalizer converts wire frames into Samples. Safe for concurrent use
// by the gateway and MQTT producers.
type Normalizer struct {
	// Emit receives every normalized sample.
	emit func(Sample)

	// Clock for stamping vibration frames at receipt; overridable in tests.
	now func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingPulse // equipment topic -> open pulse
}

type pendingPulse struct {
	sample Sample
	timer  *time.Timer
}

// NewNormalizer creates a Normalizer that delivers samples to emit.
func NewNormalizer(emit func(Sample)) *Normalizer {
	return &Normalizer{
		emit:    emit,
		now:     time.Now,
		pending: make(map[string]*pendingPulse),
	}
}

// NormalizeANT decodes one ANT+ gateway frame and emits the resulting
// sample. Malformed or out-of-range frames are dropped with a counted
// MalformedFrameError.
func (n *Normalizer) NormalizeANT(raw []byte) error {
	var frame ANTFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return n.drop("ant", "invalid json: "+err.Error())
	}
	metrics.FramesReceived.WithLabelValues("ant", frame.Profile).Inc()

	if frame.DeviceID == "" {
		return n.drop("ant", "missing deviceId")
	}
	instant, err := time.Parse(time.RFC3339, frame.Timestamp)
	if err != nil {
		return n.drop("ant", "invalid timestamp: "+frame.Timestamp)
	}

	switch frame.Profile {
	case ProfileHeartRate:
		var data HRData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return n.drop("ant", "invalid HR data: "+err.Error())
		}
		if data.ComputedHeartRate < MinHeartRate || data.ComputedHeartRate > MaxHeartRate {
			return n.drop("ant", fmt.Sprintf("heart rate %d outside [%d, %d]",
				data.ComputedHeartRate, MinHeartRate, MaxHeartRate))
		}
		n.deliver(Sample{
			DeviceID: frame.DeviceID,
			Kind:     KindHeartRate,
			Value:    float64(data.ComputedHeartRate),
			Instant:  instant,
			Battery:  data.BatteryLevel,
		})
		return nil

	case ProfileCadence:
		var data CadenceData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return n.drop("ant", "invalid CAD data: "+err.Error())
		}
		if data.CalculatedCadence < MinCadence || data.CalculatedCadence > MaxCadence {
			return n.drop("ant", fmt.Sprintf("cadence %.1f outside [%d, %d]",
				data.CalculatedCadence, MinCadence, MaxCadence))
		}
		n.deliver(Sample{
			DeviceID: frame.DeviceID,
			Kind:     KindCadence,
			Value:    data.CalculatedCadence,
			Instant:  instant,
			Battery:  data.BatteryLevel,
		})
		return nil

	case ProfilePower:
		var data PowerData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return n.drop("ant", "invalid PWR data: "+err.Error())
		}
		if data.Power < 0 {
			return n.drop("ant", fmt.Sprintf("negative power %.1f", data.Power))
		}
		n.deliver(Sample{
			DeviceID: frame.DeviceID,
			Kind:     KindPower,
			Value:    data.Power,
			Instant:  instant,
			Battery:  data.BatteryLevel,
		})
		return nil

	default:
		return n.drop("ant", "unknown profile "+frame.Profile)
	}
}

// NormalizeVibration decodes one MQTT vibration frame for the equipment
// identified by topic. A true reading opens a pending pulse; a false
// reading within CoalesceWindow closes it into a single coalesced
// VibrationPulse, otherwise the pulse is emitted standalone when the
// window expires. A second true reading inside the window restarts it.
func (n *Normalizer) NormalizeVibration(topic string, raw []byte) error {
	var frame VibrationFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return n.drop("mqtt", "invalid json: "+err.Error())
	}
	metrics.FramesReceived.WithLabelValues("mqtt", "vibration").Inc()

	now := n.now()
	sample := Sample{
		DeviceID: topic,
		Kind:     KindVibration,
		Pulse:    true,
		Instant:  now,
		Battery:  frame.Battery,
	}

	n.mu.Lock()
	if frame.Vibration {
		if p, ok := n.pending[topic]; ok {
			// Another pulse inside the window restarts it; the open
			// pulse stands, stamped at its original instant.
			p.timer.Reset(CoalesceWindow)
			n.mu.Unlock()
			return nil
		}
		p := &pendingPulse{sample: sample}
		p.timer = time.AfterFunc(CoalesceWindow, func() {
			n.expirePulse(topic)
		})
		n.pending[topic] = p
		n.mu.Unlock()
		return nil
	}

	// Idle reading: closes an open pulse into one coalesced event.
	p, open := n.pending[topic]
	if open {
		p.timer.Stop()
		delete(n.pending, topic)
	}
	n.mu.Unlock()

	if open {
		n.deliver(p.sample)
	}
	// An idle reading with no open pulse carries no signal.
	return nil
}

// expirePulse emits a pulse whose idle reading never arrived.
func (n *Normalizer) expirePulse(topic string) {
	n.mu.Lock()
	p, ok := n.pending[topic]
	if ok {
		delete(n.pending, topic)
	}
	n.mu.Unlock()

	if ok {
		n.deliver(p.sample)
	}
}

// Flush emits any pending vibration pulses immediately. Called on
// session end so no pulse is lost to an unexpired window.
func (n *Normalizer) Flush() {
	n.mu.Lock()
	pending := n.pending
	n.pending = make(map[string]*pendingPulse)
	n.mu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
		n.deliver(p.sample)
	}
}

func (n *Normalizer) deliver(s Sample) {
	metrics.SamplesIngested.WithLabelValues(string(s.Kind)).Inc()
	n.emit(s)
}

func (n *Normalizer) drop(source, reason string) error {
	metrics.FramesDropped.WithLabelValues(source, "malformed").Inc()
	logging.Debug().Str("source", source).Str("reason", reason).Msg("dropped malformed frame")
	return &MalformedFrameError{Source: source, Reason: reason}
}
