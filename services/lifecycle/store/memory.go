// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/datatypes"
)

// DefaultRetention is how many terminal migration records and recovery
// history entries the memory store keeps per extension.
const DefaultRetention = 100

// Memory implements MigrationStore and HistoryStore in process memory.
//
// # Description
//
// The default store: active migrations in a map keyed by extension
// name, terminal records and recovery history in bounded per-extension
// ring buffers. State does not survive a process restart; use the
// badgerstore subpackage when it must.
//
// # Thread Safety
//
// Safe for concurrent use; all state is guarded by one mutex. The
// engines additionally serialize per-name mutations under their locks.
type Memory struct {
	mu        sync.Mutex
	retention int
	active    map[string]*datatypes.ExtensionMigration
	terminal  map[string]*ringBuffer[*datatypes.ExtensionMigration]
	history   map[string]*ringBuffer[datatypes.RecoveryHistoryEntry]
}

// NewMemory creates a memory store retaining up to retention terminal
// records and history entries per extension. retention <= 0 uses
// DefaultRetention.
func NewMemory(retention int) *Memory {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Memory{
		retention: retention,
		active:    make(map[string]*datatypes.ExtensionMigration),
		terminal:  make(map[string]*ringBuffer[*datatypes.ExtensionMigration]),
		history:   make(map[string]*ringBuffer[datatypes.RecoveryHistoryEntry]),
	}
}

// copyMigration returns a deep-enough copy so callers cannot mutate
// stored records through returned pointers.
func copyMigration(m *datatypes.ExtensionMigration) *datatypes.ExtensionMigration {
	out := *m
	out.Steps = make([]datatypes.MigrationStepRecord, len(m.Steps))
	copy(out.Steps, m.Steps)
	out.RollbackPlan = make([]datatypes.RollbackAction, len(m.RollbackPlan))
	copy(out.RollbackPlan, m.RollbackPlan)
	return &out
}

// PutActive registers a migration as the extension's active run.
func (s *Memory) PutActive(ctx context.Context, m *datatypes.ExtensionMigration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.active[m.ExtensionName]; exists {
		return fmt.Errorf("%w: %s", ErrMigrationActive, m.ExtensionName)
	}
	s.active[m.ExtensionName] = copyMigration(m)
	return nil
}

// UpdateActive replaces the extension's active record.
func (s *Memory) UpdateActive(ctx context.Context, m *datatypes.ExtensionMigration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.active[m.ExtensionName]; !exists {
		return fmt.Errorf("%w: no active migration for %s", ErrMigrationNotFound, m.ExtensionName)
	}
	s.active[m.ExtensionName] = copyMigration(m)
	return nil
}

// GetActive returns the extension's active migration.
func (s *Memory) GetActive(ctx context.Context, extensionName string) (*datatypes.ExtensionMigration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, exists := s.active[extensionName]
	if !exists {
		return nil, fmt.Errorf("%w: no active migration for %s", ErrMigrationNotFound, extensionName)
	}
	return copyMigration(m), nil
}

// ListActive returns all in-flight migrations.
func (s *Memory) ListActive(ctx context.Context) ([]*datatypes.ExtensionMigration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*datatypes.ExtensionMigration, 0, len(s.active))
	for _, m := range s.active {
		result = append(result, copyMigration(m))
	}
	return result, nil
}

// RemoveActive deletes the extension's active entry.
func (s *Memory) RemoveActive(ctx context.Context, extensionName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, extensionName)
	return nil
}

// RecordTerminal appends a finished migration to the recent-run buffer.
func (s *Memory) RecordTerminal(ctx context.Context, m *datatypes.ExtensionMigration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.terminal[m.ExtensionName]
	if !ok {
		buf = newRingBuffer[*datatypes.ExtensionMigration](s.retention)
		s.terminal[m.ExtensionName] = buf
	}
	buf.push(copyMigration(m))
	return nil
}

// FindByID locates a migration by id, active set first.
func (s *Memory) FindByID(ctx context.Context, migrationID string) (*datatypes.ExtensionMigration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.active {
		if m.MigrationID == migrationID {
			return copyMigration(m), nil
		}
	}
	for _, buf := range s.terminal {
		matches := buf.filterNewestFirst(func(m *datatypes.ExtensionMigration) (bool, bool) {
			return m.MigrationID == migrationID, m.MigrationID == migrationID
		})
		if len(matches) > 0 {
			return copyMigration(matches[0]), nil
		}
	}
	return nil, fmt.Errorf("%w: id %s", ErrMigrationNotFound, migrationID)
}

// ListTerminal returns recent terminal records, newest first.
func (s *Memory) ListTerminal(ctx context.Context, extensionName string, limit int) ([]*datatypes.ExtensionMigration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.terminal[extensionName]
	if !ok {
		return nil, nil
	}
	records := buf.last(limit)
	result := make([]*datatypes.ExtensionMigration, len(records))
	for i, m := range records {
		result[i] = copyMigration(m)
	}
	return result, nil
}

// Append records one recovery attempt.
func (s *Memory) Append(ctx context.Context, extensionName string, entry datatypes.RecoveryHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.history[extensionName]
	if !ok {
		buf = newRingBuffer[datatypes.RecoveryHistoryEntry](s.retention)
		s.history[extensionName] = buf
	}
	buf.push(entry)
	return nil
}

// Recent returns up to limit history entries, newest first.
func (s *Memory) Recent(ctx context.Context, extensionName string, limit int) ([]datatypes.RecoveryHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.history[extensionName]
	if !ok {
		return nil, nil
	}
	return buf.last(limit), nil
}

// Since returns retained entries at or after the given time, newest
// first. Relies on append order matching timestamp order, which holds
// because each extension's recovery runs are serialized.
func (s *Memory) Since(ctx context.Context, extensionName string, since time.Time) ([]datatypes.RecoveryHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.history[extensionName]
	if !ok {
		return nil, nil
	}
	return buf.filterNewestFirst(func(e datatypes.RecoveryHistoryEntry) (bool, bool) {
		if e.Timestamp.Before(since) {
			return false, true
		}
		return true, false
	}), nil
}

// Compile-time interface compliance checks.
var (
	_ MigrationStore = (*Memory)(nil)
	_ HistoryStore   = (*Memory)(nil)
)
