// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianExtensions/pkg/logging"
	"github.com/AleutianAI/AleutianExtensions/pkg/validation"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/backup"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/catalog"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/datatypes"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/events"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/lock"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/resolver"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/runtime"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/store"
)

// DefaultTimeout bounds a migration when the caller passes zero.
const DefaultTimeout = 5 * time.Minute

// DefaultRollbackTimeout bounds compensation and rollback-plan
// execution, which runs on a fresh context so cleanup completes even
// when the migration's own deadline triggered it.
const DefaultRollbackTimeout = 2 * time.Minute

// Options configures an Engine. Resolver, Catalog, Runtime, and Backups
// are required; the rest default to in-memory / no-op implementations.
type Options struct {
	Resolver *resolver.Resolver
	Catalog  catalog.CatalogRegistry
	Runtime  runtime.ExtensionRuntime
	Backups  backup.BackupStore

	// Store holds migration records. Nil uses an in-memory store.
	Store store.MigrationStore

	// Deployer performs file/data/config work. Nil uses NopDeployer.
	Deployer Deployer

	// Events receives audit records. Nil uses events.Nop.
	Events events.EventLog

	// Logger for engine logs. Nil uses logging.Default().
	Logger *logging.Logger

	// TenantID scopes installed-version reads. Default: "default".
	TenantID string

	// RollbackTimeout bounds compensation and rollback-plan execution.
	// Default: DefaultRollbackTimeout.
	RollbackTimeout time.Duration
}

// Engine migrates installed extensions between versions.
//
// # Description
//
// One migration runs per extension name at a time, serialized by a
// per-name lock; different extensions migrate concurrently. The engine
// keeps no state beyond the lock set: records live in the injected
// MigrationStore.
//
// # Thread Safety
//
// Safe for concurrent use.
type Engine struct {
	resolver *resolver.Resolver
	catalog  catalog.CatalogRegistry
	runtime  runtime.ExtensionRuntime
	backups  backup.BackupStore
	store    store.MigrationStore
	deployer Deployer
	events   events.EventLog
	logger   *logging.Logger
	locks    *lock.Keyed

	tenantID        string
	rollbackTimeout time.Duration

	migrationsTotal metric.Int64Counter
	stepSeconds     metric.Float64Histogram
}

// New creates a migration Engine.
func New(opts Options) (*Engine, error) {
	if opts.Resolver == nil {
		return nil, errors.New("migration: resolver is required")
	}
	if opts.Catalog == nil {
		return nil, errors.New("migration: catalog is required")
	}
	if opts.Runtime == nil {
		return nil, errors.New("migration: runtime is required")
	}
	if opts.Backups == nil {
		return nil, errors.New("migration: backup store is required")
	}
	if opts.Store == nil {
		opts.Store = store.NewMemory(0)
	}
	if opts.Deployer == nil {
		opts.Deployer = NopDeployer{}
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.TenantID == "" {
		opts.TenantID = "default"
	}
	if opts.RollbackTimeout <= 0 {
		opts.RollbackTimeout = DefaultRollbackTimeout
	}

	e := &Engine{
		resolver:        opts.Resolver,
		catalog:         opts.Catalog,
		runtime:         opts.Runtime,
		backups:         opts.Backups,
		store:           opts.Store,
		deployer:        opts.Deployer,
		events:          opts.Events,
		logger:          opts.Logger.With("component", "migration"),
		locks:           lock.NewKeyed(),
		tenantID:        opts.TenantID,
		rollbackTimeout: opts.RollbackTimeout,
	}

	meter := otel.Meter("aleutian.ai/lifecycle/migration")
	var err error
	e.migrationsTotal, err = meter.Int64Counter("lifecycle_migrations_total",
		metric.WithDescription("Migrations finished, by outcome"))
	if err != nil {
		e.logger.Warn("migration counter unavailable", "error", err)
	}
	e.stepSeconds, err = meter.Float64Histogram("lifecycle_migration_step_seconds",
		metric.WithDescription("Migration step duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		e.logger.Warn("step histogram unavailable", "error", err)
	}

	return e, nil
}

// MigrateExtension moves an installed extension to targetVersion.
//
// # Description
//
// Serializes on the extension's name, plans the version-hop path and
// its step sequence, optionally takes a pre-migration backup, and
// executes the steps strictly in order under one overall timeout. A
// required step failure stops the sequence, compensates the executed
// steps in reverse order, and marks the migration failed; with
// autoRollbackOnFailure the migration-level rollback plan then restores
// the pre-migration state and the final status is rolled_back.
//
// Collaborator failures surface through the returned record's Status
// and ErrorMessage, not as error returns. The error return is reserved
// for unknown extensions, invalid input, and lock/context failures.
//
// # Inputs
//
//   - timeout: Overall deadline for the step sequence. Zero uses
//     DefaultTimeout. The deadline propagates into the in-flight step;
//     compensation runs on a fresh context.
func (e *Engine) MigrateExtension(ctx context.Context, extensionName, targetVersion string, createBackup, autoRollbackOnFailure bool, timeout time.Duration) (*datatypes.ExtensionMigration, error) {
	if err := validation.ValidateExtensionName(extensionName); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	release, err := e.locks.Acquire(ctx, extensionName)
	if err != nil {
		return nil, err
	}
	defer release()

	currentVersion, err := e.catalog.GetInstalledVersion(ctx, extensionName, e.tenantID)
	if err != nil {
		return nil, fmt.Errorf("migrate %s: %w", extensionName, err)
	}

	m := &datatypes.ExtensionMigration{
		MigrationID:   uuid.NewString(),
		ExtensionName: extensionName,
		FromVersion:   currentVersion,
		ToVersion:     targetVersion,
		StartedAt:     time.Now(),
		Status:        datatypes.MigrationStatusPending,
	}
	if err := e.store.PutActive(ctx, m); err != nil {
		return nil, fmt.Errorf("register migration: %w", err)
	}
	// The active entry must go away on every path, including panics,
	// before the lock is released. Cleanup uses a fresh context so an
	// expired caller deadline cannot leak the entry.
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.store.RemoveActive(cleanupCtx, extensionName); err != nil {
			e.logger.Error("active migration cleanup failed",
				"extension", extensionName, "migration_id", m.MigrationID, "error", err)
		}
	}()

	logger := e.logger.With("extension", extensionName, "migration_id", m.MigrationID)
	logger.Info("migration started", "from", currentVersion, "to", targetVersion)
	e.emit(ctx, extensionName, events.TypeMigrationStarted, map[string]string{
		"migration_id": m.MigrationID,
		"from_version": currentVersion,
		"to_version":   targetVersion,
	})

	if createBackup {
		handle, err := e.backups.CreateBackup(ctx, extensionName, backup.KindPreMigration,
			fmt.Sprintf("before migration %s -> %s", currentVersion, targetVersion))
		if err != nil {
			logger.Error("pre-migration backup failed", "error", err)
			return e.finalize(ctx, m, datatypes.MigrationStatusFailed,
				fmt.Sprintf("pre-migration backup failed: %v", err)), nil
		}
		m.BackupID = handle.ID
	}

	path, err := e.resolver.UpgradePath(ctx, extensionName, currentVersion, targetVersion)
	if err != nil {
		logger.Error("upgrade path planning failed", "error", err)
		return e.finalize(ctx, m, datatypes.MigrationStatusFailed,
			fmt.Sprintf("planning upgrade path: %v", err)), nil
	}

	steps := planSteps(extensionName, currentVersion, path)
	m.Steps = make([]datatypes.MigrationStepRecord, len(steps))
	for i, s := range steps {
		m.Steps[i] = s.record
	}
	m.RollbackPlan = e.buildRollbackPlan(m)

	m.Status = datatypes.MigrationStatusRunning
	e.updateActive(ctx, m)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	failure := e.runSteps(runCtx, m, steps, logger)
	if failure == nil {
		return e.finalize(ctx, m, datatypes.MigrationStatusCompleted, ""), nil
	}

	m.Status = datatypes.MigrationStatusFailed
	m.ErrorMessage = failure.Error()
	e.updateActive(ctx, m)

	if autoRollbackOnFailure {
		if e.executeRollbackPlan(m, logger) {
			return e.finalize(ctx, m, datatypes.MigrationStatusRolledBack, m.ErrorMessage), nil
		}
		logger.Error("rollback plan did not fully apply", "migration_id", m.MigrationID)
	}
	return e.finalize(ctx, m, datatypes.MigrationStatusFailed, m.ErrorMessage), nil
}

// runSteps executes the planned steps strictly in order. On a required
// failure it compensates the executed steps in reverse order and
// returns the failure; optional failures are recorded and skipped.
func (e *Engine) runSteps(ctx context.Context, m *datatypes.ExtensionMigration, steps []plannedStep, logger *logging.Logger) error {
	for i := range steps {
		record := &m.Steps[i]

		if ctx.Err() != nil {
			err := fmt.Errorf("%w: %v", ErrMigrationTimeout, ctx.Err())
			record.Error = err.Error()
			e.compensateExecuted(m, steps, i, logger)
			return err
		}

		start := time.Now()
		err := e.executeStep(ctx, steps[i])
		record.ExecutionTime = time.Since(start)
		e.recordStepMetric(record.Kind, record.ExecutionTime, err == nil)

		if err == nil {
			record.Executed = true
			logger.Debug("step completed", "step", record.Name, "duration", record.ExecutionTime)
			e.updateActive(ctx, m)
			continue
		}

		record.Error = err.Error()
		e.emit(ctx, m.ExtensionName, events.TypeMigrationStep, map[string]string{
			"migration_id": m.MigrationID,
			"step":         record.Name,
			"error":        record.Error,
		})

		if !record.Required {
			logger.Warn("optional step failed, continuing", "step", record.Name, "error", err)
			e.updateActive(ctx, m)
			continue
		}

		logger.Error("required step failed", "step", record.Name, "error", err)
		stepErr := &StepError{Step: record.Name, Kind: record.Kind, Err: err}
		e.compensateExecuted(m, steps, i, logger)
		return stepErr
	}
	return nil
}

// executeStep runs one step body, converting panics into step failures
// so a misbehaving collaborator cannot cross the lock boundary.
func (e *Engine) executeStep(ctx context.Context, step plannedStep) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step panicked: %v", r)
		}
	}()

	spec, ok := stepTable[step.record.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStepKind, step.record.Kind)
	}
	return spec.execute(ctx, e, step.hop)
}

// compensateExecuted invokes the compensation body of every executed
// step in reverse execution order. Best effort: a failing compensation
// is logged and the remaining ones still run. Runs on a fresh context
// so cleanup completes even when the trigger was the deadline.
func (e *Engine) compensateExecuted(m *datatypes.ExtensionMigration, steps []plannedStep, failedIndex int, logger *logging.Logger) {
	compCtx, cancel := context.WithTimeout(context.Background(), e.rollbackTimeout)
	defer cancel()

	for i := failedIndex - 1; i >= 0; i-- {
		if !m.Steps[i].Executed {
			continue
		}
		spec, ok := stepTable[m.Steps[i].Kind]
		if !ok || spec.compensate == nil {
			continue
		}
		if err := e.safeCompensate(compCtx, spec, steps[i].hop); err != nil {
			logger.Warn("step compensation failed", "step", m.Steps[i].Name, "error", err)
		} else {
			logger.Debug("step compensated", "step", m.Steps[i].Name)
		}
	}
}

// safeCompensate runs one compensation body with panic recovery.
func (e *Engine) safeCompensate(ctx context.Context, spec stepSpec, h hop) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compensation panicked: %v", r)
		}
	}()
	return spec.compensate(ctx, e, h)
}

// buildRollbackPlan prefers restoring the pre-migration backup;
// without one it falls back to reinstating the previous version.
func (e *Engine) buildRollbackPlan(m *datatypes.ExtensionMigration) []datatypes.RollbackAction {
	if m.BackupID != "" {
		return []datatypes.RollbackAction{{
			Name: "restore pre-migration backup",
			Type: datatypes.RollbackRestoreBackup,
			Payload: map[string]string{
				"backup_id": m.BackupID,
			},
		}}
	}
	return []datatypes.RollbackAction{{
		Name: fmt.Sprintf("restore version %s", m.FromVersion),
		Type: datatypes.RollbackRestoreVersion,
		Payload: map[string]string{
			"version": m.FromVersion,
		},
	}}
}

// executeRollbackPlan applies the migration-level rollback plan: stop
// the extension if running, apply plan actions in reverse declaration
// order, and restart the extension if it had been running. Returns
// true when every action applied.
func (e *Engine) executeRollbackPlan(m *datatypes.ExtensionMigration, logger *logging.Logger) bool {
	ctx, cancel := context.WithTimeout(context.Background(), e.rollbackTimeout)
	defer cancel()

	wasRunning, err := e.runtime.IsRunning(ctx, m.ExtensionName)
	if err != nil {
		logger.Warn("running check before rollback failed", "error", err)
		wasRunning = false
	}
	if wasRunning {
		if err := e.runtime.Stop(ctx, m.ExtensionName); err != nil {
			logger.Warn("stop before rollback failed", "error", err)
		}
	}

	ok := true
	for i := len(m.RollbackPlan) - 1; i >= 0; i-- {
		action := m.RollbackPlan[i]
		if err := e.applyRollbackAction(ctx, m, action); err != nil {
			logger.Error("rollback action failed", "action", action.Name, "error", err)
			ok = false
			continue
		}
		logger.Info("rollback action applied", "action", action.Name)
	}

	if wasRunning {
		if err := e.runtime.Start(ctx, m.ExtensionName); err != nil {
			logger.Warn("restart after rollback failed", "error", err)
			ok = false
		}
	}
	return ok
}

// applyRollbackAction dispatches one rollback-plan entry.
func (e *Engine) applyRollbackAction(ctx context.Context, m *datatypes.ExtensionMigration, action datatypes.RollbackAction) error {
	switch action.Type {
	case datatypes.RollbackRestoreBackup:
		return e.backups.RestoreBackup(ctx, action.Payload["backup_id"], m.ExtensionName)

	case datatypes.RollbackRestoreVersion:
		version := action.Payload["version"]
		if err := e.deployer.RevertFiles(ctx, m.ExtensionName, version); err != nil {
			return err
		}
		return e.deployer.RevertConfig(ctx, m.ExtensionName, version)

	case datatypes.RollbackRestoreConfig:
		return e.deployer.RevertConfig(ctx, m.ExtensionName, action.Payload["version"])

	case datatypes.RollbackRestoreData:
		return e.deployer.RevertData(ctx, m.ExtensionName,
			action.Payload["from_version"], action.Payload["to_version"])

	case datatypes.RollbackCustom:
		e.logger.Info("custom rollback action acknowledged",
			"extension", m.ExtensionName, "action", action.Name)
		return nil

	default:
		return fmt.Errorf("unknown rollback action type %q", action.Type)
	}
}

// RollbackMigration re-runs the rollback-plan logic for a tracked
// migration located by id.
//
// # Outputs
//
//   - bool: True when the plan fully applied (or had already been).
//   - error: store.ErrMigrationNotFound (wrapped) for unknown ids.
func (e *Engine) RollbackMigration(ctx context.Context, migrationID string) (bool, error) {
	m, err := e.store.FindByID(ctx, migrationID)
	if err != nil {
		return false, err
	}
	if m.Status == datatypes.MigrationStatusRolledBack {
		return true, nil
	}

	release, err := e.locks.Acquire(ctx, m.ExtensionName)
	if err != nil {
		return false, err
	}
	defer release()

	logger := e.logger.With("extension", m.ExtensionName, "migration_id", m.MigrationID)
	if !e.executeRollbackPlan(m, logger) {
		return false, nil
	}

	m.Status = datatypes.MigrationStatusRolledBack
	if err := e.store.RecordTerminal(ctx, m); err != nil {
		logger.Warn("recording rolled-back migration failed", "error", err)
	}
	e.emit(ctx, m.ExtensionName, events.TypeMigrationRolledBack, map[string]string{
		"migration_id": m.MigrationID,
	})
	return true, nil
}

// RollbackVersion migrates an extension down to the highest stable
// release below its installed version. Used by the recovery engine's
// rollback_version action; no backup, no auto-rollback.
func (e *Engine) RollbackVersion(ctx context.Context, extensionName string) error {
	currentVersion, err := e.catalog.GetInstalledVersion(ctx, extensionName, e.tenantID)
	if err != nil {
		return fmt.Errorf("rollback version of %s: %w", extensionName, err)
	}

	target, err := e.previousStableVersion(ctx, extensionName, currentVersion)
	if err != nil {
		return err
	}

	m, err := e.MigrateExtension(ctx, extensionName, target, false, false, 0)
	if err != nil {
		return err
	}
	if m.Status != datatypes.MigrationStatusCompleted {
		return fmt.Errorf("rollback migration to %s finished %s: %s", target, m.Status, m.ErrorMessage)
	}
	return nil
}

// Reinstall re-runs the migration step sequence at the installed
// version, refreshing files and configuration in place. Used by the
// recovery engine's reinstall action.
func (e *Engine) Reinstall(ctx context.Context, extensionName string) error {
	currentVersion, err := e.catalog.GetInstalledVersion(ctx, extensionName, e.tenantID)
	if err != nil {
		return fmt.Errorf("reinstall %s: %w", extensionName, err)
	}

	m, err := e.MigrateExtension(ctx, extensionName, currentVersion, false, false, 0)
	if err != nil {
		return err
	}
	if m.Status != datatypes.MigrationStatusCompleted {
		return fmt.Errorf("reinstall at %s finished %s: %s", currentVersion, m.Status, m.ErrorMessage)
	}
	return nil
}

// previousStableVersion returns the newest stable release strictly
// below current.
func (e *Engine) previousStableVersion(ctx context.Context, extensionName, current string) (string, error) {
	versions, err := e.catalog.ListVersions(ctx, extensionName)
	if err != nil {
		return "", fmt.Errorf("list versions of %s: %w", extensionName, err)
	}
	for _, v := range versions {
		if !v.IsStable {
			continue
		}
		cmp, err := resolver.CompareVersions(v.Version, current)
		if err != nil {
			continue
		}
		if cmp < 0 {
			return v.Version, nil
		}
	}
	return "", fmt.Errorf("%w: %s below %s", ErrNoDowngradeTarget, extensionName, current)
}

// GetMigrationStatus returns the extension's active migration, falling
// back to its most recent terminal record.
func (e *Engine) GetMigrationStatus(ctx context.Context, extensionName string) (*datatypes.ExtensionMigration, error) {
	m, err := e.store.GetActive(ctx, extensionName)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, store.ErrMigrationNotFound) {
		return nil, err
	}

	recent, err := e.store.ListTerminal(ctx, extensionName, 1)
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrMigrationNotFound, extensionName)
	}
	return recent[0], nil
}

// ListMigrations returns in-flight migrations, optionally filtered by
// extension name and status.
func (e *Engine) ListMigrations(ctx context.Context, extensionName, status string) ([]*datatypes.ExtensionMigration, error) {
	active, err := e.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	var result []*datatypes.ExtensionMigration
	for _, m := range active {
		if extensionName != "" && m.ExtensionName != extensionName {
			continue
		}
		if status != "" && m.Status != status {
			continue
		}
		result = append(result, m)
	}
	return result, nil
}

// finalize stamps the terminal status, persists the record, and emits
// the closing audit entry and metric.
func (e *Engine) finalize(ctx context.Context, m *datatypes.ExtensionMigration, status, errorMessage string) *datatypes.ExtensionMigration {
	m.Status = status
	m.ErrorMessage = errorMessage
	m.CompletedAt = time.Now()

	// Persist with a fresh context: the caller's may already be done.
	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.RecordTerminal(persistCtx, m); err != nil {
		e.logger.Warn("recording terminal migration failed",
			"extension", m.ExtensionName, "migration_id", m.MigrationID, "error", err)
	}

	eventType := events.TypeMigrationCompleted
	switch status {
	case datatypes.MigrationStatusFailed:
		eventType = events.TypeMigrationFailed
	case datatypes.MigrationStatusRolledBack:
		eventType = events.TypeMigrationRolledBack
	}
	details := map[string]string{
		"migration_id": m.MigrationID,
		"from_version": m.FromVersion,
		"to_version":   m.ToVersion,
	}
	if errorMessage != "" {
		details["error"] = errorMessage
	}
	e.emit(persistCtx, m.ExtensionName, eventType, details)

	if e.migrationsTotal != nil {
		e.migrationsTotal.Add(persistCtx, 1, metric.WithAttributes(
			attribute.String("outcome", status)))
	}
	e.logger.Info("migration finished",
		"extension", m.ExtensionName, "migration_id", m.MigrationID, "status", status)
	return m
}

// updateActive pushes the record's current state to the store;
// failures are logged, never propagated into the run.
func (e *Engine) updateActive(ctx context.Context, m *datatypes.ExtensionMigration) {
	if err := e.store.UpdateActive(ctx, m); err != nil {
		e.logger.Warn("updating active migration failed",
			"extension", m.ExtensionName, "migration_id", m.MigrationID, "error", err)
	}
}

// recordStepMetric reports one step's duration.
func (e *Engine) recordStepMetric(kind string, d time.Duration, success bool) {
	if e.stepSeconds == nil {
		return
	}
	e.stepSeconds.Record(context.Background(), d.Seconds(), metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("success", success)))
}

// emit sends one audit event.
func (e *Engine) emit(ctx context.Context, extensionName, eventType string, details map[string]string) {
	e.events.Log(ctx, events.Event{
		Extension: extensionName,
		Type:      eventType,
		Details:   details,
		Timestamp: time.Now(),
	})
}
