// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the shared domain types of the extension
// lifecycle subsystem: catalog records, resolution results, migration
// records, and recovery history entries.
//
// Types here are plain data with validator tags; behavior lives in the
// resolver, migration, and recovery packages. Records that cross a store
// boundary carry json tags so the persistent store implementations can
// serialize them without their own mirror types.
package datatypes

import (
	"time"

	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/manifest"
)

// DependencyTypeExtension, DependencyTypePlugin, and
// DependencyTypeSystemService classify what a dependency record refers to.
const (
	DependencyTypeExtension     = "extension"
	DependencyTypePlugin        = "plugin"
	DependencyTypeSystemService = "system_service"
)

// ExtensionVersion is one published release of an extension.
//
// Immutable once created; an extension accumulates many versions over its
// lifetime. VersionID is the foreign key dependency records point at.
type ExtensionVersion struct {
	// VersionID uniquely identifies this release (UUID).
	VersionID string `json:"version_id" validate:"required"`

	// ListingID identifies the extension in the marketplace catalog.
	ListingID string `json:"listing_id" validate:"required"`

	// Version is the semantic version string of this release.
	Version string `json:"version" validate:"required"`

	// Manifest is the release's metadata document.
	Manifest manifest.Manifest `json:"manifest"`

	// IsStable marks non-prerelease, production-ready releases.
	IsStable bool `json:"is_stable"`

	// CreatedAt is when the release was published.
	CreatedAt time.Time `json:"created_at"`
}

// ExtensionDependency is one declared dependency of an ExtensionVersion.
type ExtensionDependency struct {
	// VersionID is the owning ExtensionVersion.
	VersionID string `json:"version_id" validate:"required"`

	// DependencyName is the extension/plugin/service being depended on.
	DependencyName string `json:"dependency_name" validate:"required"`

	// DependencyType is one of the DependencyType* constants.
	DependencyType string `json:"dependency_type" validate:"oneof=extension plugin system_service"`

	// VersionConstraint is an optional semver range. Empty means any.
	VersionConstraint string `json:"version_constraint,omitempty"`

	// IsOptional dependencies are recorded during resolution but never
	// fail it.
	IsOptional bool `json:"is_optional"`
}

// ExtensionInstallation is the "currently installed" row for one
// (extension, tenant) pair. Written by external install flows; the
// resolver only reads it.
type ExtensionInstallation struct {
	ListingID     string `json:"listing_id" validate:"required"`
	VersionID     string `json:"version_id"`
	Version       string `json:"version" validate:"required"`
	ExtensionName string `json:"extension_name" validate:"required"`
	TenantID      string `json:"tenant_id" validate:"required"`
	Status        string `json:"status"`
}

// ResolvedDependency is the resolver's per-dependency output unit.
type ResolvedDependency struct {
	// Name of the dependency.
	Name string `json:"name"`

	// DependencyType is one of the DependencyType* constants.
	DependencyType string `json:"dependency_type"`

	// Version that would satisfy the dependency ("" when unsatisfiable).
	Version string `json:"version,omitempty"`

	// Constraint the dependency declared ("" when unconstrained).
	Constraint string `json:"constraint,omitempty"`

	// IsSatisfied reports whether the dependency can be met.
	IsSatisfied bool `json:"is_satisfied"`

	// ConflictReason explains why an unsatisfied dependency failed
	// (version conflict, not found, service unavailable).
	ConflictReason string `json:"conflict_reason,omitempty"`

	// IsOptional mirrors the declaration; optional misses never fail
	// the resolution.
	IsOptional bool `json:"is_optional"`
}

// ResolutionResult is the structured, never-thrown outcome of a
// dependency resolution.
//
// Success is true exactly when Errors is empty. Resolved is ordered
// topologically, dependencies first, so a caller installing in list
// order never installs a dependent before its dependency.
type ResolutionResult struct {
	Success  bool                 `json:"success"`
	Resolved []ResolvedDependency `json:"resolved"`
	Errors   []string             `json:"errors,omitempty"`
}

// UpdateCandidate reports an installed extension with a newer
// compatible version available.
type UpdateCandidate struct {
	Name           string `json:"name"`
	CurrentVersion string `json:"current_version"`
	LatestVersion  string `json:"latest_version"`
}

// Migration status values. Status only moves forward:
// pending → running → {completed | failed → rolled_back}.
const (
	MigrationStatusPending    = "pending"
	MigrationStatusRunning    = "running"
	MigrationStatusCompleted  = "completed"
	MigrationStatusFailed     = "failed"
	MigrationStatusRolledBack = "rolled_back"
)

// Rollback action types for the migration-level rollback plan.
const (
	RollbackRestoreBackup  = "restore_backup"
	RollbackRestoreVersion = "restore_version"
	RollbackRestoreConfig  = "restore_config"
	RollbackRestoreData    = "restore_data"
	RollbackCustom         = "custom"
)

// ExtensionMigration is the record of one migration run.
//
// Created at migration start with status pending, mutated through the
// run, and removed from the active set when the run ends. A record is
// never reused across runs.
type ExtensionMigration struct {
	// MigrationID uniquely identifies the run (UUID).
	MigrationID string `json:"migration_id"`

	// ExtensionName is the extension being migrated.
	ExtensionName string `json:"extension_name"`

	// FromVersion and ToVersion bound the migration.
	FromVersion string `json:"from_version"`
	ToVersion   string `json:"to_version"`

	// StartedAt and CompletedAt bracket the run. CompletedAt is zero
	// while the migration is in flight.
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`

	// Status is one of the MigrationStatus* constants.
	Status string `json:"status"`

	// BackupID is the pre-migration backup handle ("" when no backup
	// was requested).
	BackupID string `json:"backup_id,omitempty"`

	// Steps records each planned step's outcome in execution order.
	Steps []MigrationStepRecord `json:"steps"`

	// RollbackPlan is the migration-level compensating action sequence,
	// applied in reverse declaration order when the migration must be
	// fully reverted.
	RollbackPlan []RollbackAction `json:"rollback_plan"`

	// ErrorMessage holds the failure reason for failed/rolled_back runs.
	ErrorMessage string `json:"error_message,omitempty"`
}

// MigrationStepRecord is the serializable outcome of one migration step.
// The executable bodies are table-driven off Kind and never persisted.
type MigrationStepRecord struct {
	// Name is the human-readable step name ("download 2.0.0").
	Name string `json:"name"`

	// Kind identifies the step's behavior in the migration step table.
	Kind string `json:"kind"`

	// Description explains what the step does.
	Description string `json:"description,omitempty"`

	// Required steps abort the migration on failure; optional steps
	// log and continue.
	Required bool `json:"required"`

	// Executed reports whether the step's execute body completed
	// successfully.
	Executed bool `json:"executed"`

	// ExecutionTime is how long the execute body ran.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error holds the step's failure reason, if any.
	Error string `json:"error,omitempty"`
}

// RollbackAction is one entry of a migration's rollback plan.
type RollbackAction struct {
	// Name is the human-readable action name.
	Name string `json:"name"`

	// Type is one of the Rollback* constants.
	Type string `json:"type"`

	// Payload carries action parameters (backup_id, version).
	Payload map[string]string `json:"payload,omitempty"`
}

// RecoveryHistoryEntry records one attempted recovery action.
type RecoveryHistoryEntry struct {
	// Action is the recovery action name ("restart", "clear_cache", ...).
	Action string `json:"action"`

	// Timestamp is when the action was attempted.
	Timestamp time.Time `json:"timestamp"`

	// Success reports whether the action achieved its goal.
	Success bool `json:"success"`

	// Error holds the failure reason for unsuccessful attempts.
	Error string `json:"error,omitempty"`
}
