// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

package persist

import (
	"context"
	"errors"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/pulsetrack/pulsetrack/internal/logging"
	"github.com/pulsetrack/pulsetrack/internal/metrics"
)

// ErrPersistenceDegraded signals that a document write failed after all
// retries. The previous good document is retained; the session keeps
// running and surfaces the degraded status to subscribers.
var ErrPersistenceDegraded = errors.New("persist: writes degraded, retaining last good document")

// retryBackoffs spaces the write retries.
var retryBackoffs = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second}

// Writer wraps the store with retry, a circuit breaker, and last-good
// retention. One writer serves one session.
type Writer struct {
	store   *Store
	breaker *gobreaker.CircuitBreaker[struct{}]

	mu       sync.Mutex
	lastGood []byte
	degraded bool
}

// NewWriter creates a writer over the given store.
func NewWriter(store *Store) *Writer {
	return &Writer{
		store: store,
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:    "session-persist",
			Timeout: 15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("persistence circuit breaker state change")
			},
		}),
	}
}

// Write serializes and stores the document, retrying with backoff on
// failure. On ultimate failure the writer keeps the previous good
// payload, marks itself degraded and returns ErrPersistenceDegraded.
func (w *Writer) Write(ctx context.Context, doc *SessionDocument) error {
	data, err := doc.Marshal()
	if err != nil {
		return err
	}

	start := time.Now()
	defer metrics.ObservePersist(start)

	var lastErr error
	for attempt := 0; attempt <= len(retryBackoffs); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoffs[attempt-1]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		metrics.PersistAttempts.Inc()
		_, lastErr = w.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, w.store.Put(doc.Session.ID, data)
		})
		if lastErr == nil {
			w.mu.Lock()
			w.lastGood = data
			w.degraded = false
			w.mu.Unlock()
			return nil
		}
		logging.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("session document write failed")
	}

	metrics.PersistFailures.Inc()
	w.mu.Lock()
	w.degraded = true
	w.mu.Unlock()
	logging.Error().Err(lastErr).Str("session", doc.Session.ID).Msg("session persistence degraded")
	return errors.Join(ErrPersistenceDegraded, lastErr)
}

// Degraded reports whether the last write ultimately failed.
func (w *Writer) Degraded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.degraded
}

// LastGood returns the most recently persisted payload, nil if none.
func (w *Writer) LastGood() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastGood
}
