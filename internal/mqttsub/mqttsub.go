// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

// Package mqttsub bridges equipment vibration sensors into the
// telemetry normalizer. Each configured piece of equipment publishes
// raw sensor frames on its own MQTT topic; the subscriber maps the
// topic back to the equipment ID before handing the payload over.
package mqttsub

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/pulsetrack/pulsetrack/internal/config"
	"github.com/pulsetrack/pulsetrack/internal/logging"
	"github.com/pulsetrack/pulsetrack/internal/telemetry"
)

// qosAtMostOnce is enough for vibration readings: a lost frame costs
// at most one pulse, and the sensors repeat while vibrating.
const qosAtMostOnce = 0

// Subscriber connects to the broker and feeds vibration frames to the
// normalizer. It implements suture.Service.
type Subscriber struct {
	cfg  config.MQTTConfig
	norm *telemetry.Normalizer

	// byTopic maps a sensor's MQTT topic to its equipment ID, which is
	// the device identity the rest of the core knows.
	byTopic map[string]string

	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// New builds a subscriber for every equipment entry with a vibration
// sensor. Equipment without an MQTT topic is skipped with a warning.
func New(cfg config.MQTTConfig, equipment []config.EquipmentConfig, norm *telemetry.Normalizer) *Subscriber {
	byTopic := make(map[string]string, len(equipment))
	for _, eq := range equipment {
		if eq.Sensor.Type != "vibration" {
			continue
		}
		if eq.Sensor.MQTTTopic == "" {
			logging.Warn().Str("equipment", eq.ID).Msg("vibration sensor without mqtt topic, skipping")
			continue
		}
		byTopic[eq.Sensor.MQTTTopic] = eq.ID
	}
	return &Subscriber{
		cfg:       cfg,
		norm:      norm,
		byTopic:   byTopic,
		newClient: mqtt.NewClient,
	}
}

// Serve connects, subscribes to every sensor topic and blocks until the
// context is cancelled. Reconnects are delegated to the paho client's
// auto-reconnect; subscriptions are re-established by the OnConnect
// handler so they survive broker restarts.
func (s *Subscriber) Serve(ctx context.Context) error {
	if len(s.byTopic) == 0 {
		logging.Info().Msg("no vibration sensors configured, mqtt subscriber idle")
		<-ctx.Done()
		return ctx.Err()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.BrokerURL).
		SetClientID(s.cfg.ClientID).
		SetUsername(s.cfg.Username).
		SetPassword(s.cfg.Password).
		SetConnectTimeout(s.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetOrderMatters(false)

	opts.OnConnect = func(c mqtt.Client) {
		logging.Info().Str("broker", s.cfg.BrokerURL).Int("topics", len(s.byTopic)).Msg("mqtt connected")
		for topic, eqID := range s.byTopic {
			if token := c.Subscribe(topic, qosAtMostOnce, s.makeHandler(eqID)); token.Wait() && token.Error() != nil {
				logging.Err(token.Error()).Str("topic", topic).Msg("mqtt subscribe failed")
			}
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logging.Warn().Err(err).Msg("mqtt connection lost")
	}

	client := s.newClient(opts)
	if token := client.Connect(); token.WaitTimeout(s.cfg.ConnectTimeout) && token.Error() != nil {
		return fmt.Errorf("mqttsub: connect %s: %w", s.cfg.BrokerURL, token.Error())
	}

	<-ctx.Done()
	client.Disconnect(250) // quiesce window in milliseconds
	return ctx.Err()
}

// makeHandler binds one sensor topic to its equipment ID. The
// normalizer keys pulse coalescing by that ID, so frames arriving on
// the wire topic must be re-addressed before ingestion.
func (s *Subscriber) makeHandler(eqID string) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		// the normalizer counts and logs malformed frames itself
		_ = s.norm.NormalizeVibration(eqID, msg.Payload())
	}
}
