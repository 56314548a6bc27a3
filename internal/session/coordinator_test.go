// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pulsetrack/pulsetrack/internal/config"
	"github.com/pulsetrack/pulsetrack/internal/logging"
	"github.com/pulsetrack/pulsetrack/internal/participant"
	"github.com/pulsetrack/pulsetrack/internal/persist"
	"github.com/pulsetrack/pulsetrack/internal/telemetry"
	"github.com/pulsetrack/pulsetrack/internal/timebase"
	"github.com/pulsetrack/pulsetrack/internal/timeline"
)

//nolint:gochecknoinits // init ensures quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

var sessionStart = time.Date(2026, 1, 15, 18, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func testConfig() *config.Config {
	return &config.Config{
		Session: config.SessionConfig{
			TickInterval:       5 * time.Second,
			IdleThresholdTicks: 2,
			RemovalTimeout:     120 * time.Second,
			CoinDivisor:        30,
			CatchupCap:         60,
			Timezone:           "UTC",
		},
		Zones: []config.ZoneConfig{
			{ID: "c", Min: 0}, {ID: "a", Min: 95}, {ID: "w", Min: 115},
			{ID: "h", Min: 135}, {ID: "f", Min: 160},
		},
		Buckets: map[string]string{"c": "exercise", "a": "exercise", "w": "exercise", "h": "bonus", "f": "bonus"},
		ANTDevices: config.ANTDevicesConfig{
			HR: map[string]string{"45832": "#ff0000", "45833": "#00ff00"},
		},
		Users: config.UsersConfig{
			Primary: []config.UserConfig{
				{Name: "alice", HR: "45832"},
				{Name: "bob", HR: "45833"},
			},
		},
		Persistence: config.PersistenceConfig{Interval: 30 * time.Second},
	}
}

// startCoordinator builds a running coordinator with a deterministic
// clock and its Serve loop active.
func startCoordinator(t *testing.T, cfg *config.Config) (*Coordinator, *testClock) {
	t.Helper()

	clock := &testClock{t: sessionStart}
	c, err := New(cfg, Deps{Now: clock.Now})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Serve(ctx)

	if _, err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	return c, clock
}

// forceTick pushes a tick command through the queue, bypassing the
// wall-clock timebase.
func forceTick(c *Coordinator, index int) {
	tk := timebase.Tick{Index: index, Instant: sessionStart.Add(time.Duration(index) * 5 * time.Second)}
	c.enqueue(command{kind: "tick", run: func() { c.handleTick(tk) }})
}

func hrSample(deviceID string, hr float64, tick int) telemetry.Sample {
	return telemetry.Sample{
		DeviceID: deviceID,
		Kind:     telemetry.KindHeartRate,
		Value:    hr,
		Instant:  sessionStart.Add(time.Duration(tick)*5*time.Second + time.Second),
	}
}

func TestLifecycleTransitions(t *testing.T) {
	c, clock := startCoordinator(t, testConfig())

	if got := c.State(); got != StateRunning {
		t.Fatalf("state = %s, want RUNNING", got)
	}
	if c.ID() == "" {
		t.Error("session id should be assigned at start")
	}

	if _, err := c.Start(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second start err = %v, want ErrInvalidState", err)
	}
	if err := c.Resume(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("resume while running err = %v, want ErrInvalidState", err)
	}

	if err := c.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := c.Pause(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("double pause err = %v, want ErrInvalidState", err)
	}
	if err := c.Resume(); err != nil {
		t.Fatal(err)
	}

	clock.Set(sessionStart.Add(20 * time.Second))
	if _, err := c.End(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := c.State(); got != StateEnded {
		t.Errorf("state = %s, want ENDED", got)
	}
	if _, err := c.End(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("double end err = %v, want ErrInvalidState", err)
	}
}

func TestThreeTickSessionTotals(t *testing.T) {
	c, clock := startCoordinator(t, testConfig())

	for tick := 0; tick < 3; tick++ {
		c.Ingest(hrSample("45832", 100, tick)) // alice, zone a
		c.Ingest(hrSample("45833", 130, tick)) // bob, zone w
		forceTick(c, tick)
	}

	clock.Set(sessionStart.Add(15 * time.Second))
	doc, err := c.End(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if doc.Totals.Coins != 21 {
		t.Errorf("totals.coins = %d, want 21", doc.Totals.Coins)
	}
	if got := doc.Participants["alice"].ZoneTimeSeconds["a"]; got != 15 {
		t.Errorf("alice zone a seconds = %d, want 15", got)
	}
	if got := doc.Participants["bob"].ZoneTimeSeconds["w"]; got != 15 {
		t.Errorf("bob zone w seconds = %d, want 15", got)
	}
	if doc.Totals.Buckets["exercise"] != 21 {
		t.Errorf("buckets = %v", doc.Totals.Buckets)
	}
	if doc.Timeline.TickCount < 3 {
		t.Errorf("tick count = %d, want >= 3", doc.Timeline.TickCount)
	}
}

// Drives the coordinator through its own timebase instead of forced
// tick commands: samples are ingested while a tick's window is open,
// then the clock crosses the boundary and Advance emits the tick down
// the production Emit -> queue -> pipeline path. Coins and zone time
// must accrue from those samples.
func TestTimebaseDrivenTickPipeline(t *testing.T) {
	c, clock := startCoordinator(t, testConfig())

	c.stateMu.RLock()
	tb := c.tb
	c.stateMu.RUnlock()
	if tb == nil {
		t.Fatal("no timebase after start")
	}

	for tick := 0; tick < 3; tick++ {
		c.Ingest(hrSample("45832", 100, tick)) // alice, zone a
		c.Ingest(hrSample("45833", 130, tick)) // bob, zone w
		tb.Advance(sessionStart.Add(time.Duration(tick+1) * 5 * time.Second))
	}

	clock.Set(sessionStart.Add(15 * time.Second))
	doc, err := c.End(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if doc.Totals.Coins != 21 {
		t.Errorf("totals.coins = %d, want 21", doc.Totals.Coins)
	}
	if got := doc.Participants["alice"].ZoneTimeSeconds["a"]; got != 15 {
		t.Errorf("alice zone a seconds = %d, want 15", got)
	}
	if got := doc.Participants["bob"].ZoneTimeSeconds["w"]; got != 15 {
		t.Errorf("bob zone w seconds = %d, want 15", got)
	}

	// Each tick's cumulative coin value must step by round(hr/30).
	wantAlice := []float64{3, 6, 9}
	wantBob := []float64{4, 8, 12}
	for tick := 0; tick < 3; tick++ {
		if got, _ := c.store.ValueAt("alice", timeline.MetricCoinsTotal, tick).(float64); got != wantAlice[tick] {
			t.Errorf("alice coins_total at tick %d = %v, want %v", tick, got, wantAlice[tick])
		}
		if got, _ := c.store.ValueAt("bob", timeline.MetricCoinsTotal, tick).(float64); got != wantBob[tick] {
			t.Errorf("bob coins_total at tick %d = %v, want %v", tick, got, wantBob[tick])
		}
	}
}

func TestSnapshotDelivery(t *testing.T) {
	c, _ := startCoordinator(t, testConfig())
	sub := c.Subscribe()
	defer c.Unsubscribe(sub)

	c.Ingest(hrSample("45832", 100, 0))
	forceTick(c, 0)

	select {
	case snap := <-sub.C():
		if snap.Tick != 0 || snap.SessionID != c.ID() {
			t.Errorf("snapshot = %+v", snap)
		}
		var alice *ParticipantSnapshot
		for i := range snap.Participants {
			if snap.Participants[i].ID == "alice" {
				alice = &snap.Participants[i]
			}
		}
		if alice == nil || alice.Status != "ACTIVE" || alice.Zone != "a" || alice.Coins != 3 {
			t.Errorf("alice snapshot = %+v", alice)
		}
		if len(snap.Devices) != 2 {
			t.Errorf("devices = %+v", snap.Devices)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot within 1s")
	}
}

func TestSnapshotCoalescing(t *testing.T) {
	c, _ := startCoordinator(t, testConfig())
	sub := c.Subscribe()
	defer c.Unsubscribe(sub)

	for tick := 0; tick < 3; tick++ {
		c.Ingest(hrSample("45832", 100, tick))
		forceTick(c, tick)
	}
	// let the loop process everything before reading
	if err := c.Pause(); err != nil {
		t.Fatal(err)
	}

	select {
	case snap := <-sub.C():
		if snap.Tick != 2 {
			t.Errorf("slow subscriber got tick %d, want latest tick 2", snap.Tick)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot within 1s")
	}
}

func TestUnknownDeviceDropped(t *testing.T) {
	c, clock := startCoordinator(t, testConfig())

	c.Ingest(telemetry.Sample{DeviceID: "99999", Kind: telemetry.KindHeartRate, Value: 120, Instant: sessionStart})
	forceTick(c, 0)

	clock.Set(sessionStart.Add(5 * time.Second))
	doc, err := c.End(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if doc.Totals.Coins != 0 {
		t.Errorf("coins = %d, unknown device samples must not count", doc.Totals.Coins)
	}
}

func TestDropoutReconstructionRoundTrip(t *testing.T) {
	c, clock := startCoordinator(t, testConfig())

	// alice reports for ticks 0..2, then goes silent until tick 5
	for tick := 0; tick < 3; tick++ {
		c.Ingest(hrSample("45832", 100, tick))
		forceTick(c, tick)
	}
	for tick := 3; tick <= 5; tick++ {
		forceTick(c, tick)
	}

	clock.Set(sessionStart.Add(30 * time.Second))
	doc, err := c.End(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	live := c.tracker.Dropouts()
	if len(live) == 0 {
		t.Fatal("expected a live dropout event")
	}

	reconstructed, err := persist.ReconstructDropouts(doc)
	if err != nil {
		t.Fatal(err)
	}

	type key struct {
		id    string
		tick  int
		value float64
	}
	toSet := func(events []participant.DropoutEvent) map[key]bool {
		set := make(map[key]bool, len(events))
		for _, ev := range events {
			set[key{ev.ParticipantID, ev.Tick, ev.Value}] = true
		}
		return set
	}
	liveSet, recSet := toSet(live), toSet(reconstructed)
	if len(liveSet) != len(recSet) {
		t.Fatalf("live = %v, reconstructed = %v", liveSet, recSet)
	}
	for k := range liveSet {
		if !recSet[k] {
			t.Errorf("live event %+v missing from reconstruction", k)
		}
	}
}

func TestGuestAppearsInDocument(t *testing.T) {
	cfg := testConfig()
	c, clock := startCoordinator(t, cfg)

	// assign a spare device live to someone not in config
	c.devices.Register("50000", telemetry.KindHeartRate, "")
	c.devices.Assign("50000", "visitor", 0)

	c.Ingest(telemetry.Sample{DeviceID: "50000", Kind: telemetry.KindHeartRate, Value: 110, Instant: sessionStart.Add(time.Second)})
	forceTick(c, 0)

	clock.Set(sessionStart.Add(5 * time.Second))
	doc, err := c.End(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	p, ok := doc.Participants["visitor"]
	if !ok || !p.IsGuest {
		t.Errorf("visitor = %+v, ok = %v", p, ok)
	}
}

// Shutdown finishes a live session once the Serve loop is gone, the
// path main takes after the supervisor tree drains.
func TestShutdownEndsSessionWithoutServe(t *testing.T) {
	clock := &testClock{t: sessionStart}
	c, err := New(testConfig(), Deps{Now: clock.Now})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan struct{})
	go func() {
		_ = c.Serve(ctx)
		close(serveDone)
	}()
	if _, err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}

	for tick := 0; tick < 3; tick++ {
		c.Ingest(hrSample("45832", 100, tick))
		forceTick(c, tick)
	}
	if err := c.Pause(); err != nil { // synchronizes the queue
		t.Fatal(err)
	}

	cancel()
	<-serveDone

	doc, err := c.Shutdown(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if doc == nil || doc.Totals.Coins != 9 {
		t.Fatalf("shutdown document = %+v", doc)
	}
	if got := c.State(); got != StateEnded {
		t.Errorf("state = %s, want ENDED", got)
	}

	// Ended sessions are a no-op.
	if doc2, err := c.Shutdown(context.Background()); err != nil || doc2 != nil {
		t.Errorf("second shutdown = (%+v, %v), want (nil, nil)", doc2, err)
	}
}

func TestRestoreDocumentContinuesTotals(t *testing.T) {
	cfg := testConfig()
	c1, clock := startCoordinator(t, cfg)
	for tick := 0; tick < 3; tick++ {
		c1.Ingest(hrSample("45832", 100, tick))
		forceTick(c1, tick)
	}
	clock.Set(sessionStart.Add(15 * time.Second))
	doc, err := c1.End(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	c2, err := New(cfg, Deps{Now: clock.Now})
	if err != nil {
		t.Fatal(err)
	}
	if err := c2.RestoreDocument(doc); err != nil {
		t.Fatal(err)
	}
	if c2.ID() != c1.ID() {
		t.Errorf("restored id = %s, want %s", c2.ID(), c1.ID())
	}
	if got := c2.agg.User("alice").Coins; got != 9 {
		t.Errorf("restored alice coins = %d, want 9", got)
	}
	if got := len(c2.tracker.Dropouts()); got != len(c1.tracker.Dropouts()) {
		t.Errorf("restored dropouts = %d, want %d", got, len(c1.tracker.Dropouts()))
	}
}
