// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

// Package main is the entry point for the PulseTrack server.
//
// PulseTrack ingests multi-channel fitness telemetry (ANT+ heart rate,
// cadence and power frames over the device gateway WebSocket, equipment
// vibration pulses over MQTT), folds it onto a fixed-interval session
// timeline, and persists each session as a versioned JSON document.
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered sources (env over file over defaults)
//  2. Logging: global zerolog logger per the logging config
//  3. Persistence: BadgerDB session document store plus the retrying writer
//  4. Event bus: in-process Watermill pub/sub for snapshots and dropouts
//  5. Coordinator: the single writer that owns all session state
//  6. Supervisor tree: core, ingest and api layers under suture
//
// Shutdown is graceful on SIGINT/SIGTERM: the supervisor tree drains,
// a running session is ended and written out, then the store closes.
//
// To resume an interrupted session, pass its ID:
//
//	./pulsetrack -resume 20260824181500
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/pulsetrack/pulsetrack/internal/bus"
	"github.com/pulsetrack/pulsetrack/internal/config"
	"github.com/pulsetrack/pulsetrack/internal/gateway"
	"github.com/pulsetrack/pulsetrack/internal/logging"
	"github.com/pulsetrack/pulsetrack/internal/mqttsub"
	"github.com/pulsetrack/pulsetrack/internal/persist"
	"github.com/pulsetrack/pulsetrack/internal/session"
	"github.com/pulsetrack/pulsetrack/internal/supervisor"
	"github.com/pulsetrack/pulsetrack/internal/telemetry"
)

func main() {
	resumeID := flag.String("resume", "", "session ID to restore from the document store")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("loading configuration")
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("store", cfg.Persistence.Path).
		Int("port", cfg.Server.Port).
		Bool("mqtt", cfg.MQTT.Enabled).
		Msg("starting pulsetrack")

	store, err := persist.Open(cfg.Persistence.Path)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Persistence.Path).Msg("opening session store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Err(err).Msg("closing session store")
		}
	}()

	eventBus := bus.New()
	defer func() {
		if err := eventBus.Close(); err != nil {
			logging.Err(err).Msg("closing event bus")
		}
	}()

	coord, err := session.New(cfg, session.Deps{
		Writer: persist.NewWriter(store),
		Bus:    eventBus,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("building coordinator")
	}

	if *resumeID != "" {
		if err := resumeSession(coord, store, *resumeID); err != nil {
			logging.Fatal().Err(err).Str("session", *resumeID).Msg("resuming session")
		}
		logging.Info().Str("session", *resumeID).Msg("session state restored")
	}

	norm := telemetry.NewNormalizer(coord.Ingest)

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddCoreService(coord)
	tree.AddAPIService(gateway.New(cfg.Server, coord, norm))
	if cfg.MQTT.Enabled {
		tree.AddIngestService(mqttsub.New(cfg.MQTT, cfg.Equipment, norm))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Err(err).Msg("supervisor tree stopped")
	}

	// End a still-running session so its document is written before the
	// store closes. The supervisor tree is down, so the end sequence runs
	// directly rather than through the command queue.
	endCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.Timeout)
	defer cancel()
	if _, err := coord.Shutdown(endCtx); err != nil {
		logging.Err(err).Msg("ending session on shutdown")
	}

	logging.Info().Msg("pulsetrack stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}

// resumeSession loads a persisted document, normalizing legacy layouts,
// and replays it into the fresh coordinator.
func resumeSession(coord *session.Coordinator, store *persist.Store, id string) error {
	raw, err := store.Get(id)
	if err != nil {
		return err
	}
	doc, err := persist.Decode(raw)
	if err != nil {
		return err
	}
	return coord.RestoreDocument(doc)
}
