// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

// Package bus is the in-process message fabric: per-tick snapshots and
// session lifecycle events flow over Watermill topics so consumers
// (gateway subscribers, persistence timer, log taps) stay decoupled
// from the coordinator.
package bus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/pulsetrack/pulsetrack/internal/logging"
)

// Topics carried on the bus.
const (
	// TopicSnapshots carries the consolidated per-tick snapshot.
	TopicSnapshots = "session.snapshots"
	// TopicLifecycle carries session start/pause/resume/end events.
	TopicLifecycle = "session.lifecycle"
	// TopicDropouts carries participant dropout events as they are
	// recorded.
	TopicDropouts = "session.dropouts"
)

// Bus wraps a GoChannel Pub/Sub. Messages are fire-and-forget within
// the process; a slow subscriber buffers up to the channel size and
// then blocks only itself.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// New creates the bus.
func New() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, newLoggerAdapter()),
	}
}

// Publish sends a payload on a topic.
func (b *Bus) Publish(topic string, payload []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("bus: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns a channel of messages for a topic. The subscription
// ends when ctx is cancelled or the bus closes.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %w", topic, err)
	}
	return ch, nil
}

// Close shuts the bus down, closing every subscriber channel.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// loggerAdapter bridges Watermill's logging interface onto the
// process-wide zerolog logger.
type loggerAdapter struct {
	fields watermill.LogFields
}

func newLoggerAdapter() watermill.LoggerAdapter {
	return loggerAdapter{}
}

func (l loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	l.event(logging.Err(err), fields).Msg(msg)
}

func (l loggerAdapter) Info(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg) // watermill info is chatty
}

func (l loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

func (l loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

func (l loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := make(watermill.LogFields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return loggerAdapter{fields: merged}
}

func (l loggerAdapter) event(ev *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range l.fields {
		ev = ev.Interface(k, v)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}
