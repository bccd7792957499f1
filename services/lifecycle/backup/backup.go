// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backup defines the backup store consumed by the migration and
// recovery engines.
//
// The store itself (filesystem archives, object storage) is the
// platform's concern; the engines only create backups before destructive
// operations and restore them when a migration or recovery needs to
// revert.
package backup

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Backup kinds recorded on handles.
const (
	KindPreMigration = "pre_migration"
	KindManual       = "manual"
	KindScheduled    = "scheduled"
)

// Sentinel errors for backup operations.
var (
	// ErrNoBackups is returned when an extension has no backups to
	// list or restore.
	ErrNoBackups = errors.New("no backups found")

	// ErrBackupNotFound is returned when a backup id does not exist.
	ErrBackupNotFound = errors.New("backup not found")
)

// Handle identifies one stored backup.
type Handle struct {
	// ID uniquely identifies the backup.
	ID string

	// ExtensionName is the extension the backup belongs to.
	ExtensionName string

	// Kind is one of the Kind* constants.
	Kind string

	// Description is free-form operator context.
	Description string

	// CreatedAt is when the backup was taken.
	CreatedAt time.Time
}

// BackupStore creates, lists, and restores extension backups.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use across different
// extension names; the engines serialize calls per name.
type BackupStore interface {
	// CreateBackup snapshots the extension's current files, data, and
	// configuration.
	CreateBackup(ctx context.Context, extensionName, kind, description string) (Handle, error)

	// ListBackups returns up to limit backups for the extension, newest
	// first. limit <= 0 means all.
	ListBackups(ctx context.Context, extensionName string, limit int) ([]Handle, error)

	// RestoreBackup restores the identified backup. targetName overrides
	// the restore target; empty restores over the original extension.
	RestoreBackup(ctx context.Context, backupID, targetName string) error
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// Mock is a test double for BackupStore.
//
// By default CreateBackup issues real handles tracked in memory,
// ListBackups returns them newest first, and RestoreBackup succeeds for
// known ids. Override individual function fields to inject failures.
type Mock struct {
	CreateBackupFunc  func(ctx context.Context, extensionName, kind, description string) (Handle, error)
	ListBackupsFunc   func(ctx context.Context, extensionName string, limit int) ([]Handle, error)
	RestoreBackupFunc func(ctx context.Context, backupID, targetName string) error

	// Calls records all method invocations for verification.
	Calls []Call

	mu      sync.Mutex
	handles []Handle
}

// Call records a single method invocation.
type Call struct {
	Method        string
	ExtensionName string
	Kind          string
	BackupID      string
}

// CreateBackup delegates to CreateBackupFunc, or tracks a new handle.
func (m *Mock) CreateBackup(ctx context.Context, extensionName, kind, description string) (Handle, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, Call{Method: "CreateBackup", ExtensionName: extensionName, Kind: kind})
	m.mu.Unlock()

	if m.CreateBackupFunc != nil {
		return m.CreateBackupFunc(ctx, extensionName, kind, description)
	}

	h := Handle{
		ID:            uuid.NewString(),
		ExtensionName: extensionName,
		Kind:          kind,
		Description:   description,
		CreatedAt:     time.Now(),
	}
	m.mu.Lock()
	m.handles = append(m.handles, h)
	m.mu.Unlock()
	return h, nil
}

// ListBackups delegates to ListBackupsFunc, or returns tracked handles
// newest first.
func (m *Mock) ListBackups(ctx context.Context, extensionName string, limit int) ([]Handle, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, Call{Method: "ListBackups", ExtensionName: extensionName})
	m.mu.Unlock()

	if m.ListBackupsFunc != nil {
		return m.ListBackupsFunc(ctx, extensionName, limit)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Handle
	for _, h := range m.handles {
		if h.ExtensionName == extensionName {
			result = append(result, h)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// RestoreBackup delegates to RestoreBackupFunc, or succeeds for tracked
// handle ids.
func (m *Mock) RestoreBackup(ctx context.Context, backupID, targetName string) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, Call{Method: "RestoreBackup", BackupID: backupID, ExtensionName: targetName})
	m.mu.Unlock()

	if m.RestoreBackupFunc != nil {
		return m.RestoreBackupFunc(ctx, backupID, targetName)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.handles {
		if h.ID == backupID {
			return nil
		}
	}
	return ErrBackupNotFound
}

// Seed pre-populates the mock with a handle. Useful for restore tests.
func (m *Mock) Seed(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles = append(m.handles, h)
}

// Reset clears all recorded calls and tracked handles.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.handles = nil
}

// GetCalls returns a copy of all recorded calls.
func (m *Mock) GetCalls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Call, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// Compile-time interface compliance check.
var _ BackupStore = (*Mock)(nil)
