// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerstore persists migration records and recovery history in
// an embedded BadgerDB.
//
// Use it when migration state must survive a process restart; the
// in-memory store in the parent package remains the default for tests
// and short-lived embedded use. BadgerDB gives local low-latency access
// (~100µs) without an external database.
//
// Key layout:
//
//	a/<extension>                      active migration (JSON)
//	t/<extension>/<startedAt>/<id>     terminal migration record (JSON)
//	h/<extension>/<timestamp>/<rand>   recovery history entry (JSON)
//
// Timestamps are zero-padded nanoseconds so lexicographic order matches
// chronological order; reverse iteration yields newest first.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/datatypes"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/store"
)

// Config holds configuration for the Badger-backed store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing the Badger code paths without disk I/O.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for production, false for testing.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults for the given path.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryConfig returns configuration for testing: in-memory mode,
// no sync writes.
func InMemoryConfig() Config {
	return Config{
		InMemory: true,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store implements store.MigrationStore and store.HistoryStore on
// BadgerDB.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide isolation.
type Store struct {
	db *badger.DB
}

// Open creates and opens a Badger-backed store.
//
// # Inputs
//
//   - cfg: Store configuration. Path is required unless InMemory.
//
// # Outputs
//
//   - *Store: The opened store. Caller must call Close() when done.
//   - error: Non-nil if the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func activeKey(extensionName string) []byte {
	return []byte("a/" + extensionName)
}

func terminalKey(m *datatypes.ExtensionMigration) []byte {
	return []byte(fmt.Sprintf("t/%s/%020d/%s", m.ExtensionName, m.StartedAt.UnixNano(), m.MigrationID))
}

func historyKey(extensionName string, ts time.Time) []byte {
	// Random suffix keeps same-nanosecond entries from colliding.
	return []byte(fmt.Sprintf("h/%s/%020d/%s", extensionName, ts.UnixNano(), uuid.NewString()[:8]))
}

// PutActive registers a migration as the extension's active run.
func (s *Store) PutActive(ctx context.Context, m *datatypes.ExtensionMigration) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode migration: %w", err)
	}

	key := activeKey(m.ExtensionName)
	err = s.db.Update(func(txn *badger.Txn) error {
		_, getErr := txn.Get(key)
		if getErr == nil {
			return fmt.Errorf("%w: %s", store.ErrMigrationActive, m.ExtensionName)
		}
		if !errors.Is(getErr, badger.ErrKeyNotFound) {
			return getErr
		}
		return txn.Set(key, data)
	})
	if err != nil {
		if errors.Is(err, store.ErrMigrationActive) {
			return err
		}
		return fmt.Errorf("put active migration: %w", err)
	}
	return nil
}

// UpdateActive replaces the extension's active record.
func (s *Store) UpdateActive(ctx context.Context, m *datatypes.ExtensionMigration) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode migration: %w", err)
	}

	key := activeKey(m.ExtensionName)
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, getErr := txn.Get(key); getErr != nil {
			if errors.Is(getErr, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: no active migration for %s", store.ErrMigrationNotFound, m.ExtensionName)
			}
			return getErr
		}
		return txn.Set(key, data)
	})
	if err != nil {
		if errors.Is(err, store.ErrMigrationNotFound) {
			return err
		}
		return fmt.Errorf("update active migration: %w", err)
	}
	return nil
}

// GetActive returns the extension's active migration.
func (s *Store) GetActive(ctx context.Context, extensionName string) (*datatypes.ExtensionMigration, error) {
	var m datatypes.ExtensionMigration
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(activeKey(extensionName))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: no active migration for %s", store.ErrMigrationNotFound, extensionName)
		}
		return nil, fmt.Errorf("get active migration: %w", err)
	}
	return &m, nil
}

// ListActive returns all in-flight migrations.
func (s *Store) ListActive(ctx context.Context) ([]*datatypes.ExtensionMigration, error) {
	var result []*datatypes.ExtensionMigration
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("a/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.Valid(); it.Next() {
			var m datatypes.ExtensionMigration
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
			if err != nil {
				return err
			}
			result = append(result, &m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list active migrations: %w", err)
	}
	return result, nil
}

// RemoveActive deletes the extension's active entry.
func (s *Store) RemoveActive(ctx context.Context, extensionName string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(activeKey(extensionName))
	})
	if err != nil {
		return fmt.Errorf("remove active migration: %w", err)
	}
	return nil
}

// RecordTerminal appends a finished migration to the terminal records.
func (s *Store) RecordTerminal(ctx context.Context, m *datatypes.ExtensionMigration) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode migration: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(terminalKey(m), data)
	})
	if err != nil {
		return fmt.Errorf("record terminal migration: %w", err)
	}
	return nil
}

// FindByID locates a migration by id, active set first.
func (s *Store) FindByID(ctx context.Context, migrationID string) (*datatypes.ExtensionMigration, error) {
	var found *datatypes.ExtensionMigration
	err := s.db.View(func(txn *badger.Txn) error {
		for _, prefix := range [][]byte{[]byte("a/"), []byte("t/")} {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			it := txn.NewIterator(opts)

			for it.Seek(prefix); it.Valid(); it.Next() {
				// Terminal keys embed the id; skip decoding on mismatch.
				key := string(it.Item().Key())
				if prefix[0] == 't' && !strings.HasSuffix(key, "/"+migrationID) {
					continue
				}
				var m datatypes.ExtensionMigration
				err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &m)
				})
				if err != nil {
					it.Close()
					return err
				}
				if m.MigrationID == migrationID {
					found = &m
					it.Close()
					return nil
				}
			}
			it.Close()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find migration by id: %w", err)
	}
	if found == nil {
		return nil, fmt.Errorf("%w: id %s", store.ErrMigrationNotFound, migrationID)
	}
	return found, nil
}

// ListTerminal returns recent terminal records, newest first.
func (s *Store) ListTerminal(ctx context.Context, extensionName string, limit int) ([]*datatypes.ExtensionMigration, error) {
	prefix := []byte("t/" + extensionName + "/")
	var result []*datatypes.ExtensionMigration

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks past the prefix range end.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.Valid(); it.Next() {
			if limit > 0 && len(result) >= limit {
				break
			}
			var m datatypes.ExtensionMigration
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
			if err != nil {
				return err
			}
			result = append(result, &m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list terminal migrations: %w", err)
	}
	return result, nil
}

// Append records one recovery attempt.
func (s *Store) Append(ctx context.Context, extensionName string, entry datatypes.RecoveryHistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(historyKey(extensionName, entry.Timestamp), data)
	})
	if err != nil {
		return fmt.Errorf("append history entry: %w", err)
	}
	return nil
}

// Recent returns up to limit history entries, newest first.
func (s *Store) Recent(ctx context.Context, extensionName string, limit int) ([]datatypes.RecoveryHistoryEntry, error) {
	return s.scanHistory(extensionName, func(e datatypes.RecoveryHistoryEntry, count int) (bool, bool) {
		if limit > 0 && count >= limit {
			return false, true
		}
		return true, false
	})
}

// Since returns history entries at or after the given time, newest first.
func (s *Store) Since(ctx context.Context, extensionName string, since time.Time) ([]datatypes.RecoveryHistoryEntry, error) {
	return s.scanHistory(extensionName, func(e datatypes.RecoveryHistoryEntry, count int) (bool, bool) {
		if e.Timestamp.Before(since) {
			return false, true
		}
		return true, false
	})
}

// scanHistory iterates an extension's history newest first, applying
// the predicate (keep, done) per entry.
func (s *Store) scanHistory(extensionName string, predicate func(e datatypes.RecoveryHistoryEntry, count int) (keep, done bool)) ([]datatypes.RecoveryHistoryEntry, error) {
	prefix := []byte("h/" + extensionName + "/")
	var result []datatypes.RecoveryHistoryEntry

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.Valid(); it.Next() {
			var e datatypes.RecoveryHistoryEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return err
			}
			keep, done := predicate(e, len(result))
			if keep {
				result = append(result, e)
			}
			if done {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	return result, nil
}

// Compile-time interface compliance checks.
var (
	_ store.MigrationStore = (*Store)(nil)
	_ store.HistoryStore   = (*Store)(nil)
)
