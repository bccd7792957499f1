// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store defines the persistence boundary of the lifecycle
// engines.
//
// The engines hold no state of their own beyond their per-name lock
// sets: active migrations, terminal migration records, and recovery
// history all live behind the interfaces here. The in-memory
// implementation is the default and serves tests; the badgerstore
// subpackage persists across process restarts.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/datatypes"
)

// Sentinel errors for store operations.
var (
	// ErrMigrationNotFound is returned when no migration matches the
	// requested name or id.
	ErrMigrationNotFound = errors.New("migration not found")

	// ErrMigrationActive is returned when PutActive would create a
	// second active migration for the same extension name.
	ErrMigrationActive = errors.New("migration already active for extension")
)

// MigrationStore tracks migration records.
//
// # Description
//
// The active set holds at most one in-flight migration per extension
// name; terminal records (completed, failed, rolled_back) are appended
// to a bounded per-extension history so recent runs remain queryable.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use across extension
// names. Mutations for one name only happen under that name's engine
// lock.
type MigrationStore interface {
	// PutActive registers a migration as the extension's active run.
	// Returns ErrMigrationActive if one is already registered.
	PutActive(ctx context.Context, m *datatypes.ExtensionMigration) error

	// UpdateActive replaces the extension's active record with m.
	// Returns ErrMigrationNotFound if no active run is registered.
	UpdateActive(ctx context.Context, m *datatypes.ExtensionMigration) error

	// GetActive returns the extension's active migration, or
	// ErrMigrationNotFound.
	GetActive(ctx context.Context, extensionName string) (*datatypes.ExtensionMigration, error)

	// ListActive returns all in-flight migrations.
	ListActive(ctx context.Context) ([]*datatypes.ExtensionMigration, error)

	// RemoveActive deletes the extension's active entry. Removing an
	// absent entry is not an error.
	RemoveActive(ctx context.Context, extensionName string) error

	// RecordTerminal appends a finished migration to the extension's
	// recent-run history.
	RecordTerminal(ctx context.Context, m *datatypes.ExtensionMigration) error

	// FindByID locates a migration by id, checking the active set
	// first and then terminal records. Returns ErrMigrationNotFound.
	FindByID(ctx context.Context, migrationID string) (*datatypes.ExtensionMigration, error)

	// ListTerminal returns up to limit recent terminal records for the
	// extension, newest first. limit <= 0 means all retained.
	ListTerminal(ctx context.Context, extensionName string, limit int) ([]*datatypes.ExtensionMigration, error)
}

// HistoryStore tracks recovery action attempts per extension.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use across extension
// names.
type HistoryStore interface {
	// Append records one recovery attempt.
	Append(ctx context.Context, extensionName string, entry datatypes.RecoveryHistoryEntry) error

	// Recent returns up to limit entries, newest first. limit <= 0
	// means all retained.
	Recent(ctx context.Context, extensionName string, limit int) ([]datatypes.RecoveryHistoryEntry, error)

	// Since returns all retained entries with Timestamp >= since,
	// newest first.
	Since(ctx context.Context, extensionName string, since time.Time) ([]datatypes.RecoveryHistoryEntry, error)
}
