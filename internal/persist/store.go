// PulseTrack - Fitness Session Telemetry Core
// Copyright 2026 PulseTrack Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulsetrack/pulsetrack

package persist

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/pulsetrack/pulsetrack/internal/logging"
)

// ErrNotFound is returned when no document exists for a session id.
var ErrNotFound = errors.New("persist: session document not found")

const sessionKeyPrefix = "session:"

// Store keeps session documents in an embedded Badger database, one
// value per session id.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the document store at dir. An empty dir opens
// an in-memory store, used by tests.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("persist: open store: %w", err)
	}
	return &Store{db: db}, nil
}

// Put writes the serialized document for a session id, replacing any
// previous version atomically.
func (s *Store) Put(sessionID string, doc []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(sessionID), doc)
	})
	if err != nil {
		return fmt.Errorf("persist: put %s: %w", sessionID, err)
	}
	return nil
}

// Get reads the serialized document for a session id.
func (s *Store) Get(sessionID string) ([]byte, error) {
	var doc []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(sessionID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		doc, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("persist: get %s: %w", sessionID, err)
	}
	return doc, nil
}

// List returns every stored session id.
func (s *Store) List() ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(sessionKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist: list sessions: %w", err)
	}
	return ids, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		logging.Err(err).Msg("closing document store")
		return err
	}
	return nil
}

func sessionKey(sessionID string) []byte {
	return []byte(sessionKeyPrefix + sessionID)
}
