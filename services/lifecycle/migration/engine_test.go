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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/backup"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/catalog"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/datatypes"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/events"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/manifest"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/resolver"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/runtime"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/store"
)

// testHarness bundles an Engine with its collaborator doubles.
type testHarness struct {
	engine   *Engine
	catalog  *catalog.Memory
	runtime  *runtime.Mock
	backups  *backup.Mock
	deployer *MockDeployer
	store    *store.Memory
	events   *events.Mock
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	h := &testHarness{
		catalog:  catalog.NewMemory(),
		runtime:  &runtime.Mock{},
		backups:  &backup.Mock{},
		deployer: &MockDeployer{},
		store:    store.NewMemory(0),
		events:   &events.Mock{},
	}

	res, err := resolver.New(resolver.Options{Catalog: h.catalog})
	require.NoError(t, err)

	h.engine, err = New(Options{
		Resolver: res,
		Catalog:  h.catalog,
		Runtime:  h.runtime,
		Backups:  h.backups,
		Store:    h.store,
		Deployer: h.deployer,
		Events:   h.events,
	})
	require.NoError(t, err)
	return h
}

// installAt publishes the given versions of name and installs the
// first one for the default tenant.
func (h *testHarness) installAt(name string, installed string, published ...string) {
	for _, v := range published {
		h.catalog.AddVersion(datatypes.ExtensionVersion{
			Version:  v,
			IsStable: true,
			Manifest: manifest.Manifest{Name: name, Version: v, APIVersion: "v1"},
		})
	}
	h.catalog.SetInstalled(datatypes.ExtensionInstallation{
		ListingID:     name,
		Version:       installed,
		ExtensionName: name,
		TenantID:      "default",
		Status:        "installed",
	})
}

// TestMigrateExtensionCompletes verifies the happy path: all steps
// execute in order, the backup is taken, and the record lands in
// terminal storage with the active entry removed.
func TestMigrateExtensionCompletes(t *testing.T) {
	h := newHarness(t)
	h.installAt("foo", "1.0.0", "1.0.0", "1.1.0")
	h.runtime.GetInfoFunc = func(ctx context.Context, name string) (runtime.Info, error) {
		return runtime.Info{Name: name, Version: "1.1.0", Running: true}, nil
	}

	m, err := h.engine.MigrateExtension(context.Background(), "foo", "1.1.0", true, false, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, datatypes.MigrationStatusCompleted, m.Status)
	assert.Equal(t, "1.0.0", m.FromVersion)
	assert.Equal(t, "1.1.0", m.ToVersion)
	assert.NotEmpty(t, m.BackupID)
	assert.Empty(t, m.ErrorMessage)
	assert.False(t, m.CompletedAt.IsZero())

	require.Len(t, m.Steps, len(hopSteps))
	for _, step := range m.Steps {
		assert.True(t, step.Executed, "step %s should have executed", step.Name)
		assert.Empty(t, step.Error)
	}

	// Active entry cleaned up, terminal record present.
	_, err = h.store.GetActive(context.Background(), "foo")
	assert.ErrorIs(t, err, store.ErrMigrationNotFound)
	terminal, err := h.store.ListTerminal(context.Background(), "foo", 1)
	require.NoError(t, err)
	require.Len(t, terminal, 1)
	assert.Equal(t, m.MigrationID, terminal[0].MigrationID)

	assert.Len(t, h.events.EventsOfType(events.TypeMigrationStarted), 1)
	assert.Len(t, h.events.EventsOfType(events.TypeMigrationCompleted), 1)
}

// TestMigrateExtensionRequiredStepFails verifies reverse-order
// compensation and the failed status without auto-rollback.
func TestMigrateExtensionRequiredStepFails(t *testing.T) {
	h := newHarness(t)
	h.installAt("foo", "1.0.0", "1.0.0", "1.1.0")
	h.deployer.ApplyFilesFunc = func(ctx context.Context, name, version string) error {
		return errors.New("disk full")
	}

	m, err := h.engine.MigrateExtension(context.Background(), "foo", "1.1.0", false, false, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, datatypes.MigrationStatusFailed, m.Status)
	assert.Contains(t, m.ErrorMessage, "disk full")

	// download and stop executed; update_files failed.
	assert.True(t, m.Steps[0].Executed)
	assert.True(t, m.Steps[1].Executed)
	assert.False(t, m.Steps[2].Executed)
	assert.Contains(t, m.Steps[2].Error, "disk full")

	// Compensation runs in reverse execution order: stop's compensation
	// (Start) before download's (DiscardStaged).
	calls := h.deployer.GetCalls()
	require.Equal(t, []string{"StageVersion", "ApplyFiles", "DiscardStaged"}, calls)
	assert.Equal(t, 1, h.runtime.CallsTo("Start"))

	assert.Len(t, h.events.EventsOfType(events.TypeMigrationFailed), 1)
}

// TestMigrateExtensionAutoRollback verifies the full rollback flow: a
// backup-backed plan restores the pre-migration state and the final
// status is rolled_back.
func TestMigrateExtensionAutoRollback(t *testing.T) {
	h := newHarness(t)
	h.installAt("foo", "1.0.0", "1.0.0", "2.0.0")
	h.deployer.MigrateDataFunc = func(ctx context.Context, name, fromVersion, toVersion string) error {
		return errors.New("schema incompatible")
	}

	m, err := h.engine.MigrateExtension(context.Background(), "foo", "2.0.0", true, true, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, datatypes.MigrationStatusRolledBack, m.Status)
	assert.Contains(t, m.ErrorMessage, "schema incompatible")

	// The rollback plan prefers the pre-migration backup.
	require.Len(t, m.RollbackPlan, 1)
	assert.Equal(t, datatypes.RollbackRestoreBackup, m.RollbackPlan[0].Type)
	assert.Equal(t, m.BackupID, m.RollbackPlan[0].Payload["backup_id"])

	restored := false
	for _, call := range h.backups.GetCalls() {
		if call.Method == "RestoreBackup" && call.BackupID == m.BackupID {
			restored = true
		}
	}
	assert.True(t, restored, "the pre-migration backup should have been restored")

	assert.Len(t, h.events.EventsOfType(events.TypeMigrationRolledBack), 1)
}

// TestMigrateExtensionRollbackPlanWithoutBackup verifies the fallback
// plan reinstates the previous version.
func TestMigrateExtensionRollbackPlanWithoutBackup(t *testing.T) {
	h := newHarness(t)
	h.installAt("foo", "1.0.0", "1.0.0", "1.1.0")
	h.deployer.UpdateConfigFunc = func(ctx context.Context, name, version string) error {
		return errors.New("bad template")
	}

	m, err := h.engine.MigrateExtension(context.Background(), "foo", "1.1.0", false, true, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, datatypes.MigrationStatusRolledBack, m.Status)
	require.Len(t, m.RollbackPlan, 1)
	assert.Equal(t, datatypes.RollbackRestoreVersion, m.RollbackPlan[0].Type)
	assert.Equal(t, "1.0.0", m.RollbackPlan[0].Payload["version"])

	// restore_version reverts files and config to the previous version.
	calls := h.deployer.GetCalls()
	assert.Contains(t, calls, "RevertFiles")
	assert.Contains(t, calls, "RevertConfig")
}

// TestMigrateExtensionTimeout verifies the overall deadline interrupts
// the in-flight step, the executed steps are compensated on a fresh
// context, and auto-rollback still restores the previous version.
func TestMigrateExtensionTimeout(t *testing.T) {
	h := newHarness(t)
	h.installAt("foo", "1.0.0", "1.0.0", "1.1.0")
	h.deployer.ApplyFilesFunc = func(ctx context.Context, name, version string) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	}

	m, err := h.engine.MigrateExtension(context.Background(), "foo", "1.1.0", false, true, 50*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, datatypes.MigrationStatusRolledBack, m.Status)
	assert.Contains(t, m.ErrorMessage, context.DeadlineExceeded.Error())
	assert.Contains(t, m.Steps[2].Error, context.DeadlineExceeded.Error())

	// download and stop ran; the expired update_files step did not.
	assert.True(t, m.Steps[0].Executed)
	assert.True(t, m.Steps[1].Executed)
	assert.False(t, m.Steps[2].Executed)

	// Compensation completed despite the dead migration deadline, and
	// the backup-less rollback plan reinstated the previous version.
	calls := h.deployer.GetCalls()
	assert.Contains(t, calls, "DiscardStaged")
	assert.Contains(t, calls, "RevertFiles")
	assert.Contains(t, calls, "RevertConfig")

	assert.Len(t, h.events.EventsOfType(events.TypeMigrationRolledBack), 1)
}

// TestMigrateExtensionTimeoutWithoutRollback verifies expiry without
// auto-rollback leaves the migration failed.
func TestMigrateExtensionTimeoutWithoutRollback(t *testing.T) {
	h := newHarness(t)
	h.installAt("foo", "1.0.0", "1.0.0", "1.1.0")
	h.deployer.MigrateDataFunc = func(ctx context.Context, name, fromVersion, toVersion string) error {
		<-ctx.Done()
		return ctx.Err()
	}

	m, err := h.engine.MigrateExtension(context.Background(), "foo", "1.1.0", false, false, 50*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, datatypes.MigrationStatusFailed, m.Status)
	assert.Contains(t, m.ErrorMessage, context.DeadlineExceeded.Error())
	assert.Len(t, h.events.EventsOfType(events.TypeMigrationFailed), 1)
}

// TestMigrateExtensionOptionalStepFailure verifies a verify failure is
// recorded but does not fail the migration.
func TestMigrateExtensionOptionalStepFailure(t *testing.T) {
	h := newHarness(t)
	h.installAt("foo", "1.0.0", "1.0.0", "1.1.0")
	h.runtime.GetInfoFunc = func(ctx context.Context, name string) (runtime.Info, error) {
		// Reports the old version, so the verify step fails.
		return runtime.Info{Name: name, Version: "1.0.0", Running: true}, nil
	}

	m, err := h.engine.MigrateExtension(context.Background(), "foo", "1.1.0", false, false, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, datatypes.MigrationStatusCompleted, m.Status)
	last := m.Steps[len(m.Steps)-1]
	assert.Equal(t, StepVerify, last.Kind)
	assert.False(t, last.Executed)
	assert.Contains(t, last.Error, "reports version")
}

// TestMigrateExtensionMultiHop verifies cross-major migrations expand
// into per-hop step sequences.
func TestMigrateExtensionMultiHop(t *testing.T) {
	h := newHarness(t)
	h.installAt("foo", "1.0.0", "1.0.0", "2.3.0", "3.0.0")
	h.runtime.GetInfoFunc = func(ctx context.Context, name string) (runtime.Info, error) {
		return runtime.Info{Name: name, Running: true}, nil
	}

	m, err := h.engine.MigrateExtension(context.Background(), "foo", "3.0.0", false, false, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, datatypes.MigrationStatusCompleted, m.Status)
	require.Len(t, m.Steps, 2*len(hopSteps))
	assert.Contains(t, m.Steps[0].Name, "2.3.0")
	assert.Contains(t, m.Steps[len(hopSteps)].Name, "3.0.0")
}

// TestMigrateExtensionBackupFailureAborts verifies a failed
// pre-migration backup fails the migration before any step runs.
func TestMigrateExtensionBackupFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.installAt("foo", "1.0.0", "1.0.0", "1.1.0")
	h.backups.CreateBackupFunc = func(ctx context.Context, extensionName, kind, description string) (backup.Handle, error) {
		return backup.Handle{}, errors.New("storage unreachable")
	}

	m, err := h.engine.MigrateExtension(context.Background(), "foo", "1.1.0", true, false, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, datatypes.MigrationStatusFailed, m.Status)
	assert.Contains(t, m.ErrorMessage, "storage unreachable")
	assert.Empty(t, m.Steps)
	assert.Empty(t, h.deployer.GetCalls())
}

// TestMigrateExtensionUnknownExtension verifies not-installed surfaces
// as an error return, not a failed record.
func TestMigrateExtensionUnknownExtension(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.MigrateExtension(context.Background(), "ghost", "1.0.0", false, false, time.Minute)
	assert.ErrorIs(t, err, catalog.ErrNotInstalled)
}

// TestMigrateExtensionInvalidName verifies input validation.
func TestMigrateExtensionInvalidName(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.MigrateExtension(context.Background(), "../etc", "1.0.0", false, false, time.Minute)
	require.Error(t, err)
}

// TestMigrateExtensionSerializesPerName verifies two concurrent
// migrations of the same extension never overlap.
func TestMigrateExtensionSerializesPerName(t *testing.T) {
	h := newHarness(t)
	h.installAt("foo", "1.0.0", "1.0.0", "1.1.0")

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	h.deployer.StageVersionFunc = func(ctx context.Context, name, version string) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.MigrateExtension(context.Background(), "foo", "1.1.0", false, false, time.Minute)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight, "migrations of one extension must serialize")
}

// TestRollbackMigration verifies re-running the plan for a failed
// migration found by id.
func TestRollbackMigration(t *testing.T) {
	h := newHarness(t)
	h.installAt("foo", "1.0.0", "1.0.0", "1.1.0")
	h.deployer.ApplyFilesFunc = func(ctx context.Context, name, version string) error {
		return errors.New("boom")
	}

	m, err := h.engine.MigrateExtension(context.Background(), "foo", "1.1.0", true, false, time.Minute)
	require.NoError(t, err)
	require.Equal(t, datatypes.MigrationStatusFailed, m.Status)

	ok, err := h.engine.RollbackMigration(context.Background(), m.MigrationID)
	require.NoError(t, err)
	assert.True(t, ok)

	status, err := h.engine.GetMigrationStatus(context.Background(), "foo")
	require.NoError(t, err)
	assert.Equal(t, datatypes.MigrationStatusRolledBack, status.Status)
}

// TestRollbackMigrationUnknownID verifies the not-found contract.
func TestRollbackMigrationUnknownID(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.RollbackMigration(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, store.ErrMigrationNotFound)
}

// TestRollbackVersion verifies the downgrade target selection.
func TestRollbackVersion(t *testing.T) {
	h := newHarness(t)
	h.installAt("foo", "2.0.0", "1.0.0", "1.5.0", "2.0.0")
	h.runtime.GetInfoFunc = func(ctx context.Context, name string) (runtime.Info, error) {
		return runtime.Info{Name: name, Running: true}, nil
	}

	require.NoError(t, h.engine.RollbackVersion(context.Background(), "foo"))

	status, err := h.engine.GetMigrationStatus(context.Background(), "foo")
	require.NoError(t, err)
	assert.Equal(t, datatypes.MigrationStatusCompleted, status.Status)
	assert.Equal(t, "1.5.0", status.ToVersion)
}

// TestRollbackVersionNoTarget verifies the sentinel when nothing older
// is published.
func TestRollbackVersionNoTarget(t *testing.T) {
	h := newHarness(t)
	h.installAt("foo", "1.0.0", "1.0.0")

	err := h.engine.RollbackVersion(context.Background(), "foo")
	assert.ErrorIs(t, err, ErrNoDowngradeTarget)
}

// TestReinstall verifies the in-place refresh at the installed version.
func TestReinstall(t *testing.T) {
	h := newHarness(t)
	h.installAt("foo", "1.0.0", "1.0.0")
	h.runtime.GetInfoFunc = func(ctx context.Context, name string) (runtime.Info, error) {
		return runtime.Info{Name: name, Running: true}, nil
	}

	require.NoError(t, h.engine.Reinstall(context.Background(), "foo"))

	status, err := h.engine.GetMigrationStatus(context.Background(), "foo")
	require.NoError(t, err)
	assert.Equal(t, datatypes.MigrationStatusCompleted, status.Status)
	assert.Equal(t, "1.0.0", status.FromVersion)
	assert.Equal(t, "1.0.0", status.ToVersion)
}

// TestGetMigrationStatusNone verifies the not-found contract when no
// migration was ever tracked.
func TestGetMigrationStatusNone(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.GetMigrationStatus(context.Background(), "foo")
	assert.ErrorIs(t, err, store.ErrMigrationNotFound)
}

// TestListMigrationsFilters verifies name and status filtering over
// the active set.
func TestListMigrationsFilters(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.PutActive(context.Background(), &datatypes.ExtensionMigration{
		MigrationID: "m1", ExtensionName: "foo", Status: datatypes.MigrationStatusRunning,
	}))
	require.NoError(t, h.store.PutActive(context.Background(), &datatypes.ExtensionMigration{
		MigrationID: "m2", ExtensionName: "bar", Status: datatypes.MigrationStatusPending,
	}))

	all, err := h.engine.ListMigrations(context.Background(), "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	foos, err := h.engine.ListMigrations(context.Background(), "foo", "")
	require.NoError(t, err)
	require.Len(t, foos, 1)
	assert.Equal(t, "m1", foos[0].MigrationID)

	pending, err := h.engine.ListMigrations(context.Background(), "", datatypes.MigrationStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "m2", pending[0].MigrationID)
}

// TestPlanSteps verifies hop expansion and the fixed step sequence.
func TestPlanSteps(t *testing.T) {
	steps := planSteps("foo", "1.0.0", []string{"2.0.0", "3.0.0"})
	require.Len(t, steps, 2*len(hopSteps))

	assert.Equal(t, StepDownloadVersion, steps[0].record.Kind)
	assert.Equal(t, "1.0.0", steps[0].hop.fromVersion)
	assert.Equal(t, "2.0.0", steps[0].hop.toVersion)

	second := steps[len(hopSteps)]
	assert.Equal(t, "2.0.0", second.hop.fromVersion)
	assert.Equal(t, "3.0.0", second.hop.toVersion)

	for _, s := range steps {
		if s.record.Kind == StepVerify {
			assert.False(t, s.record.Required)
		} else {
			assert.True(t, s.record.Required)
		}
	}
}
