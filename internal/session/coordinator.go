// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

// Package session is the coordinator: the single writer that owns one
// session's document and drives the tick pipeline.
//
// All mutations flow through a bounded command queue processed by one
// goroutine (Serve). Producers (gateway, MQTT, timebase) enqueue;
// subscribers receive immutable snapshots after each tick. Lifecycle:
// NEW -> RUNNING -> PAUSED <-> RUNNING -> ENDED.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/pulsetrack/pulsetrack/internal/aggregate"
	"github.com/pulsetrack/pulsetrack/internal/bus"
	"github.com/pulsetrack/pulsetrack/internal/config"
	"github.com/pulsetrack/pulsetrack/internal/eventlog"
	"github.com/pulsetrack/pulsetrack/internal/governance"
	"github.com/pulsetrack/pulsetrack/internal/logging"
	"github.com/pulsetrack/pulsetrack/internal/metrics"
	"github.com/pulsetrack/pulsetrack/internal/participant"
	"github.com/pulsetrack/pulsetrack/internal/persist"
	"github.com/pulsetrack/pulsetrack/internal/roster"
	"github.com/pulsetrack/pulsetrack/internal/telemetry"
	"github.com/pulsetrack/pulsetrack/internal/timebase"
	"github.com/pulsetrack/pulsetrack/internal/timeline"
	"github.com/pulsetrack/pulsetrack/internal/zones"
)

// State is the session lifecycle position.
type State string

const (
	StateNew     State = "NEW"
	StateRunning State = "RUNNING"
	StatePaused  State = "PAUSED"
	StateEnded   State = "ENDED"
)

// ErrInvalidState rejects a lifecycle command that does not apply in
// the current state. The state is left unchanged.
var ErrInvalidState = errors.New("session: invalid lifecycle transition")

// GlobalSubject carries session-wide series (gap markers).
const GlobalSubject = "session"

const commandQueueSize = 1024

type command struct {
	kind string // ingest, tick, lifecycle, event
	run  func()
}

// Deps are the coordinator's external collaborators.
type Deps struct {
	Writer *persist.Writer
	Bus    *bus.Bus

	// Now overrides the wall clock, for tests.
	Now func() time.Time
}

// Coordinator owns one session end to end.
type Coordinator struct {
	cfg  *config.Config
	deps Deps

	cmds chan command

	// All fields below are owned by the Serve goroutine once it runs.
	// Before Serve starts (construction, restore) access is single
	// threaded by convention.
	stateMu sync.RWMutex
	state   State

	id      string
	started time.Time

	classifier *zones.Classifier
	devices    *roster.Roster
	store      *timeline.Store
	tracker    *participant.Tracker
	agg        *aggregate.Aggregator
	gov        *governance.Engine
	events     *eventlog.Log
	tb         *timebase.Timebase

	subMu       sync.Mutex
	subscribers map[*Subscriber]struct{}

	// serveCtx is the Serve loop's context; producer goroutines hang
	// off it, never off a caller's request-scoped context.
	serveCtx        context.Context
	cancelProducers context.CancelFunc
	lastTick        int
}

// New builds a coordinator in the NEW state. Fails when the zone table
// cannot produce a classifier; a session must not start without one.
func New(cfg *config.Config, deps Deps) (*Coordinator, error) {
	classifier, err := zones.NewClassifier(cfg.Zones, cfg.Users)
	if err != nil {
		return nil, fmt.Errorf("session: classifier: %w", err)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	c := &Coordinator{
		cfg:         cfg,
		deps:        deps,
		cmds:        make(chan command, commandQueueSize),
		state:       StateNew,
		classifier:  classifier,
		devices:     roster.New(),
		store:       timeline.NewStore(),
		events:      eventlog.New(eventlog.SnapshotPlan{IntervalMs: cfg.Session.SnapshotIntervalMs, FilenamePattern: cfg.Session.SnapshotFilePattern}),
		subscribers: make(map[*Subscriber]struct{}),
		lastTick:    -1,
	}
	c.agg = aggregate.New(aggregate.Options{
		IntervalSeconds: int(cfg.Session.TickInterval.Seconds()),
		CoinDivisor:     cfg.Session.CoinDivisor,
		Buckets:         cfg.Buckets,
	})
	c.tracker = participant.NewTracker(participant.Options{
		IdleThresholdTicks: cfg.Session.IdleThresholdTicks,
		RemovalTimeout:     cfg.Session.RemovalTimeout,
		AllowRejoin:        cfg.Session.AllowRejoin,
		CoinsAt:            c.coinsAt,
	})
	c.registerConfigured()
	return c, nil
}

// coinsAt reads a participant's cumulative coin total from the
// timeline, used as the dropout event value.
func (c *Coordinator) coinsAt(participantID string, tick int) float64 {
	if v, ok := c.store.ValueAt(participantID, timeline.MetricCoinsTotal, tick).(float64); ok {
		return v
	}
	return 0
}

// registerConfigured seeds the roster and participant set from config.
func (c *Coordinator) registerConfigured() {
	for deviceID, color := range c.cfg.ANTDevices.HR {
		c.devices.Register(deviceID, telemetry.KindHeartRate, color)
	}
	for deviceID, color := range c.cfg.ANTDevices.Cadence {
		c.devices.Register(deviceID, telemetry.KindCadence, color)
		c.store.DeclareSubject(deviceID, timeline.ClassEquipment)
	}
	for _, eq := range c.cfg.Equipment {
		c.devices.Register(eq.ID, telemetry.KindVibration, "")
		c.store.DeclareSubject(eq.ID, timeline.ClassEquipment)
	}

	for _, u := range c.cfg.Users.Primary {
		c.tracker.Ensure(u.Name, u.Name, true, false)
		if u.HR != "" {
			c.devices.Assign(u.HR, u.Name, roster.RolePrimary)
		}
	}
	for _, u := range c.cfg.Users.Secondary {
		c.tracker.Ensure(u.Name, u.Name, false, false)
		if u.HR != "" {
			c.devices.Assign(u.HR, u.Name, roster.RoleSecondary)
		}
	}
	c.store.DeclareSubject(GlobalSubject, timeline.ClassGlobal)
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// ID returns the session id, empty before Start.
func (c *Coordinator) ID() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.id
}

// Degraded reports whether the timebase fell behind beyond the
// catch-up cap during this session.
func (c *Coordinator) Degraded() bool {
	c.stateMu.RLock()
	tb := c.tb
	c.stateMu.RUnlock()
	return tb != nil && tb.Degraded()
}

// PersistenceDegraded reports whether document writes are currently
// failing.
func (c *Coordinator) PersistenceDegraded() bool {
	return c.deps.Writer != nil && c.deps.Writer.Degraded()
}

// Serve implements suture.Service: it processes the command queue until
// the context is cancelled.
func (c *Coordinator) Serve(ctx context.Context) error {
	c.serveCtx = ctx
	persistTicker := time.NewTicker(c.cfg.Persistence.Interval)
	defer persistTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-c.cmds:
			metrics.CommandQueueDepth.Dec()
			cmd.run()
		case <-persistTicker.C:
			if c.State() == StateRunning {
				c.persistAsync(ctx)
			}
		}
	}
}

// enqueue posts a command; ingest commands are dropped when the queue
// is full, lifecycle and tick commands block.
func (c *Coordinator) enqueue(cmd command) bool {
	if cmd.kind == "ingest" {
		select {
		case c.cmds <- cmd:
			metrics.CommandQueueDepth.Inc()
			return true
		default:
			metrics.FramesDropped.WithLabelValues("coordinator", "queue_full").Inc()
			return false
		}
	}
	c.cmds <- cmd
	metrics.CommandQueueDepth.Inc()
	return true
}

// Start transitions NEW -> RUNNING: anchors the timebase, compiles
// governance, and begins tick emission. Returns the session id.
func (c *Coordinator) Start(ctx context.Context) (string, error) {
	reply := make(chan error, 1)
	c.enqueue(command{kind: "lifecycle", run: func() {
		reply <- c.handleStart()
	}})
	select {
	case err := <-reply:
		if err != nil {
			return "", err
		}
		return c.ID(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Coordinator) handleStart() error {
	if c.State() != StateNew {
		return fmt.Errorf("%w: start from %s", ErrInvalidState, c.State())
	}
	now := c.deps.Now()

	c.stateMu.Lock()
	// canonical session id form: start instant as YYYYMMDDhhmmss
	if c.id == "" {
		c.id = now.Format("20060102150405")
	}
	c.stateMu.Unlock()
	c.started = now

	c.gov = governance.New(c.cfg.Governance.Policies, c.classifier.ZoneIndex, now, c.challengeProgress)

	producerCtx, cancel := context.WithCancel(c.serveCtx)
	c.cancelProducers = cancel
	tb := timebase.New(timebase.Options{
		Start:      now,
		Interval:   c.cfg.Session.TickInterval,
		CatchupCap: c.cfg.Session.CatchupCap,
		Emit: func(tk timebase.Tick) {
			c.enqueue(command{kind: "tick", run: func() { c.handleTick(tk) }})
		},
		OnDegraded: func(from, to int) {
			c.enqueue(command{kind: "event", run: func() {
				c.store.Record(GlobalSubject, timeline.MetricGap, from, true)
			}})
		},
	})
	c.stateMu.Lock()
	c.tb = tb
	c.stateMu.Unlock()
	go func() {
		if err := tb.Serve(producerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Err(err).Msg("timebase stopped unexpectedly")
		}
	}()

	c.setState(StateRunning)
	c.publishLifecycle("started", now)
	logging.Info().Str("session", c.id).Time("start", now).Msg("session started")
	return nil
}

func (c *Coordinator) challengeProgress(metric string) float64 {
	switch metric {
	case "coins":
		return float64(c.agg.Session().Coins)
	default:
		return 0
	}
}

// Pause transitions RUNNING -> PAUSED. Samples keep landing on the
// frozen tick; tick emission and periodic persistence stop.
func (c *Coordinator) Pause() error {
	reply := make(chan error, 1)
	c.enqueue(command{kind: "lifecycle", run: func() {
		if c.State() != StateRunning {
			reply <- fmt.Errorf("%w: pause from %s", ErrInvalidState, c.State())
			return
		}
		now := c.deps.Now()
		c.tb.Pause(now)
		c.setState(StatePaused)
		c.publishLifecycle("paused", now)
		logging.Info().Str("session", c.id).Msg("session paused")
		reply <- nil
	}})
	return <-reply
}

// Resume transitions PAUSED -> RUNNING. Time spent paused never maps
// to ticks.
func (c *Coordinator) Resume() error {
	reply := make(chan error, 1)
	c.enqueue(command{kind: "lifecycle", run: func() {
		if c.State() != StatePaused {
			reply <- fmt.Errorf("%w: resume from %s", ErrInvalidState, c.State())
			return
		}
		now := c.deps.Now()
		c.tb.Resume(now)
		c.setState(StateRunning)
		c.publishLifecycle("resumed", now)
		logging.Info().Str("session", c.id).Msg("session resumed")
		reply <- nil
	}})
	return <-reply
}

// End flushes one final tick, persists synchronously, stops producers
// and returns the session document. RUNNING or PAUSED only.
func (c *Coordinator) End(ctx context.Context) (*persist.SessionDocument, error) {
	type endResult struct {
		doc *persist.SessionDocument
		err error
	}
	reply := make(chan endResult, 1)
	c.enqueue(command{kind: "lifecycle", run: func() {
		doc, err := c.handleEnd(ctx)
		reply <- endResult{doc: doc, err: err}
	}})
	res := <-reply
	return res.doc, res.err
}

// Shutdown ends a still-running session after the Serve loop has
// exited, running the end sequence on the caller's goroutine instead of
// through the command queue. Must not be called while Serve is active;
// End is the in-service path. A session not in RUNNING or PAUSED is a
// no-op and returns a nil document.
func (c *Coordinator) Shutdown(ctx context.Context) (*persist.SessionDocument, error) {
	st := c.State()
	if st != StateRunning && st != StatePaused {
		return nil, nil
	}
	return c.handleEnd(ctx)
}

func (c *Coordinator) handleEnd(ctx context.Context) (*persist.SessionDocument, error) {
	st := c.State()
	if st != StateRunning && st != StatePaused {
		return nil, fmt.Errorf("%w: end from %s", ErrInvalidState, st)
	}
	now := c.deps.Now()

	// one final tick so trailing samples are visible
	final := c.tb.TickOf(now)
	if final > c.lastTick {
		c.handleTick(timebase.Tick{Index: final, Instant: now})
	}

	c.cancelProducers()
	c.setState(StateEnded)

	doc := c.buildDocument(now)
	var persistErr error
	if c.deps.Writer != nil {
		persistErr = c.deps.Writer.Write(ctx, doc)
	}
	c.exportDocument(doc)

	c.publishLifecycle("ended", now)
	logging.Info().
		Str("session", c.id).
		Int("ticks", c.store.TickCount()).
		Int("coins", doc.Totals.Coins).
		Msg("session ended")
	return doc, persistErr
}

// exportDocument additionally writes the document as a JSON file when
// an export directory is configured.
func (c *Coordinator) exportDocument(doc *persist.SessionDocument) {
	dir := c.cfg.Persistence.ExportDir
	if dir == "" {
		return
	}
	raw, err := doc.Marshal()
	if err == nil {
		err = os.WriteFile(filepath.Join(dir, c.id+".json"), raw, 0o644)
	}
	if err != nil {
		logging.Err(err).Str("session", c.id).Msg("exporting session document")
	}
}

// Ingest accepts a normalized sample. Thread-safe; drops the sample
// (with a metric) when the command queue is saturated.
func (c *Coordinator) Ingest(s telemetry.Sample) {
	c.enqueue(command{kind: "ingest", run: func() { c.handleSample(s) }})
}

func (c *Coordinator) handleSample(s telemetry.Sample) {
	st := c.State()
	if st == StateEnded || st == StateNew {
		return
	}

	device := c.devices.Lookup(s.DeviceID)
	if device == nil {
		metrics.UnknownDeviceSamples.Inc()
		logging.Debug().Str("device", s.DeviceID).Str("kind", string(s.Kind)).Msg("sample from unknown device dropped")
		return
	}
	c.devices.MarkSeen(s.DeviceID, s.Instant)
	if s.Battery != nil {
		c.devices.SetBattery(s.DeviceID, *s.Battery)
	}

	tick := c.tb.TickOf(s.Instant)

	switch s.Kind {
	case telemetry.KindHeartRate:
		owner := device.OwnerUserID
		if owner == "" {
			metrics.UnknownDeviceSamples.Inc()
			logging.Debug().Str("device", s.DeviceID).Msg("heart rate sample from unassigned device dropped")
			return
		}
		if !c.tracker.OnSample(owner, tick, s.Instant) {
			return
		}
		c.store.Record(owner, timeline.MetricHeartRate, tick, s.Value)
	case telemetry.KindCadence:
		c.store.Record(s.DeviceID, timeline.MetricCadence, tick, s.Value)
	case telemetry.KindPower:
		c.store.Record(s.DeviceID, timeline.MetricPower, tick, s.Value)
	case telemetry.KindVibration:
		c.store.Record(s.DeviceID, timeline.MetricVibration, tick, true)
	}
	metrics.SamplesIngested.WithLabelValues(string(s.Kind)).Inc()
}

// handleTick runs the per-tick pipeline: classify and aggregate active
// participants, finalize the timeline, advance state machines, evaluate
// governance, broadcast.
func (c *Coordinator) handleTick(tk timebase.Tick) {
	if c.State() != StateRunning && c.State() != StatePaused {
		return
	}
	if tk.Index <= c.lastTick {
		return
	}
	begin := time.Now()
	defer metrics.ObserveTick(begin)

	for _, p := range c.tracker.All() {
		if p.Status != participant.StatusActive {
			continue
		}
		hr, ok := c.store.ValueAt(p.ID, timeline.MetricHeartRate, tk.Index).(float64)
		if !ok {
			continue
		}
		zone := c.classifier.Classify(p.ID, int(hr))
		c.store.Record(p.ID, timeline.MetricZone, tk.Index, zone)
		_, total := c.agg.ApplyTick(p.ID, zone, int(hr))
		c.store.Record(p.ID, timeline.MetricCoinsTotal, tk.Index, float64(total))
	}

	c.store.FinalizeTick(tk.Index)

	dropouts := c.tracker.OnTick(tk.Index, tk.Instant)
	c.publishDropouts(dropouts)

	var views []governance.ParticipantView
	for _, p := range c.tracker.All() {
		zone, ok := c.store.ValueAt(p.ID, timeline.MetricZone, tk.Index).(string)
		if !ok {
			continue
		}
		views = append(views, governance.ParticipantView{ID: p.ID, IsPrimary: p.IsPrimary, Zone: zone})
	}
	govState := governance.State{Mode: "observe"}
	if c.gov != nil {
		govState = c.gov.Evaluate(tk.Instant, views)
	}

	c.lastTick = tk.Index
	c.broadcast(c.buildSnapshot(tk, govState))
}

func (c *Coordinator) buildSnapshot(tk timebase.Tick, govState governance.State) Snapshot {
	snap := Snapshot{
		SessionID:  c.id,
		Tick:       tk.Index,
		Instant:    tk.Instant,
		Governance: govState,
		Degraded:   c.tb != nil && c.tb.Degraded(),
	}
	if c.deps.Writer != nil {
		snap.PersistenceDegraded = c.deps.Writer.Degraded()
	}

	for _, p := range c.tracker.All() {
		ps := ParticipantSnapshot{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Status:      string(p.Status),
			Coins:       c.agg.User(p.ID).Coins,
		}
		if hr, ok := c.store.ValueAt(p.ID, timeline.MetricHeartRate, tk.Index).(float64); ok {
			v := int(hr)
			ps.HR = &v
		}
		if zone, ok := c.store.ValueAt(p.ID, timeline.MetricZone, tk.Index).(string); ok {
			ps.Zone = zone
		}
		ps.ZoneTimeSeconds = c.agg.User(p.ID).ZoneTime
		snap.Participants = append(snap.Participants, ps)
	}

	totals := c.agg.Session()
	snap.Totals = TotalsSnapshot{Coins: totals.Coins, Buckets: totals.Buckets}

	for _, d := range c.devices.All() {
		snap.Devices = append(snap.Devices, DeviceSnapshot{
			DeviceID:    d.DeviceID,
			Kind:        string(d.Kind),
			Active:      d.ActiveAt(tk.Instant),
			OwnerUserID: d.OwnerUserID,
			Battery:     d.Battery(),
		})
	}
	return snap
}

// Subscribe registers a snapshot listener.
func (c *Coordinator) Subscribe() *Subscriber {
	sub := newSubscriber()
	c.subMu.Lock()
	c.subscribers[sub] = struct{}{}
	c.subMu.Unlock()
	metrics.SubscriberClients.Inc()
	return sub
}

// Unsubscribe removes a listener. Its channel is not closed; the owner
// simply stops reading.
func (c *Coordinator) Unsubscribe(sub *Subscriber) {
	c.subMu.Lock()
	if _, ok := c.subscribers[sub]; ok {
		delete(c.subscribers, sub)
		metrics.SubscriberClients.Dec()
	}
	c.subMu.Unlock()
}

func (c *Coordinator) broadcast(snap Snapshot) {
	c.subMu.Lock()
	for sub := range c.subscribers {
		sub.offer(snap)
	}
	c.subMu.Unlock()
	metrics.SnapshotsBroadcast.Inc()

	if c.deps.Bus != nil {
		if raw, err := json.Marshal(snap); err == nil {
			if err := c.deps.Bus.Publish(bus.TopicSnapshots, raw); err != nil {
				logging.Err(err).Msg("publishing snapshot")
			}
		}
	}
}

func (c *Coordinator) publishDropouts(events []participant.DropoutEvent) {
	if c.deps.Bus == nil {
		return
	}
	for _, ev := range events {
		raw, err := json.Marshal(map[string]any{
			"id":            ev.ID,
			"participantId": ev.ParticipantID,
			"tick":          ev.Tick,
			"value":         ev.Value,
			"instant":       ev.Instant,
		})
		if err != nil {
			continue
		}
		if err := c.deps.Bus.Publish(bus.TopicDropouts, raw); err != nil {
			logging.Err(err).Msg("publishing dropout event")
		}
	}
}

func (c *Coordinator) publishLifecycle(event string, now time.Time) {
	if c.deps.Bus == nil {
		return
	}
	raw, err := json.Marshal(map[string]any{
		"event":     event,
		"sessionId": c.id,
		"instant":   now,
	})
	if err != nil {
		return
	}
	if err := c.deps.Bus.Publish(bus.TopicLifecycle, raw); err != nil {
		logging.Err(err).Msg("publishing lifecycle event")
	}
}

// persistAsync writes the current document on a detached goroutine so
// the command loop never blocks on storage I/O.
func (c *Coordinator) persistAsync(ctx context.Context) {
	if c.deps.Writer == nil {
		return
	}
	doc := c.buildDocument(c.deps.Now())
	go func() {
		if err := c.deps.Writer.Write(ctx, doc); err != nil {
			logging.Err(err).Str("session", c.id).Msg("periodic persistence failed")
		}
	}()
}

// AddScreenshot registers a captured snapshot filename with the event
// log. Thread-safe.
func (c *Coordinator) AddScreenshot(filename string, instant time.Time) {
	c.enqueue(command{kind: "event", run: func() {
		c.events.AddScreenshot(filename, instant)
	}})
}

// AddVoiceMemo records a voice memo event, minting an id when the
// caller has none. Thread-safe.
func (c *Coordinator) AddVoiceMemo(id, transcript string, instant time.Time, durationSeconds int) {
	if id == "" {
		id = uuid.NewString()
	}
	c.enqueue(command{kind: "event", run: func() {
		c.events.AddVoiceMemo(id, transcript, instant, durationSeconds)
	}})
}

// AddAudioPlay records a played audio track. Thread-safe.
func (c *Coordinator) AddAudioPlay(title, artist, plexID string, instant time.Time, durationSeconds int) {
	c.enqueue(command{kind: "event", run: func() {
		c.events.AddAudioPlay(title, artist, plexID, instant, durationSeconds)
	}})
}

// AddVideoPlay records a played video. Thread-safe.
func (c *Coordinator) AddVideoPlay(title, show string, season int, plexID string, instant time.Time, durationSeconds int) {
	c.enqueue(command{kind: "event", run: func() {
		c.events.AddVideoPlay(title, show, season, plexID, instant, durationSeconds)
	}})
}
