// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/backup"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/catalog"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/config"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/datatypes"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/manifest"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/migration"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/recovery"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/runtime"
)

type fixture struct {
	orch     *Orchestrator
	catalog  *catalog.Memory
	runtime  *runtime.Mock
	backups  *backup.Mock
	deployer *migration.MockDeployer
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Recovery.SettleDelay = time.Millisecond
	cfg.Health.Enabled = false
	return cfg
}

func newFixture(t *testing.T, cfg config.Config) *fixture {
	t.Helper()

	f := &fixture{
		catalog:  catalog.NewMemory(),
		runtime:  &runtime.Mock{},
		backups:  &backup.Mock{},
		deployer: &migration.MockDeployer{},
	}

	var err error
	f.orch, err = New(Options{
		Catalog:  f.catalog,
		Runtime:  f.runtime,
		Backups:  f.backups,
		Deployer: f.deployer,
		Config:   cfg,
	})
	require.NoError(t, err)
	t.Cleanup(func() { f.orch.Close() })
	return f
}

func (f *fixture) publish(name, version string, stable bool) datatypes.ExtensionVersion {
	return f.catalog.AddVersion(datatypes.ExtensionVersion{
		Version:  version,
		IsStable: stable,
		Manifest: manifest.Manifest{Name: name, Version: version},
	})
}

func (f *fixture) install(name, version string) {
	f.catalog.SetInstalled(datatypes.ExtensionInstallation{
		ListingID:     name,
		ExtensionName: name,
		Version:       version,
		TenantID:      "default",
	})
}

// TestNewRequiresCollaborators verifies the platform collaborators are
// mandatory.
func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{Runtime: &runtime.Mock{}, Backups: &backup.Mock{}})
	assert.Error(t, err)

	_, err = New(Options{Catalog: catalog.NewMemory(), Backups: &backup.Mock{}})
	assert.Error(t, err)

	_, err = New(Options{Catalog: catalog.NewMemory(), Runtime: &runtime.Mock{}})
	assert.Error(t, err)
}

// TestMigrateExtensionEndToEnd verifies a migration driven through the
// facade lands in the store and is visible via GetMigrationStatus.
func TestMigrateExtensionEndToEnd(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	f.publish("foo", "1.0.0", true)
	f.publish("foo", "2.0.0", true)
	f.install("foo", "1.0.0")

	m, err := f.orch.MigrateExtension(ctx, "foo", "2.0.0", true, false, 0)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, datatypes.MigrationStatusCompleted, m.Status)
	assert.Equal(t, "1.0.0", m.FromVersion)
	assert.Equal(t, "2.0.0", m.ToVersion)
	assert.NotEmpty(t, m.BackupID)

	status, err := f.orch.GetMigrationStatus(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, m.MigrationID, status.MigrationID)
}

// TestMigrateExtensionAutoRollback verifies a failing file swap rolls
// back through the facade with the pre-migration backup.
func TestMigrateExtensionAutoRollback(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	f.publish("foo", "1.0.0", true)
	f.publish("foo", "2.0.0", true)
	f.install("foo", "1.0.0")

	f.deployer.ApplyFilesFunc = func(ctx context.Context, name, version string) error {
		return errors.New("disk full")
	}

	m, err := f.orch.MigrateExtension(ctx, "foo", "2.0.0", true, true, 0)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, datatypes.MigrationStatusRolledBack, m.Status)

	restored := false
	for _, call := range f.backups.GetCalls() {
		if call.Method == "RestoreBackup" && call.BackupID == m.BackupID {
			restored = true
		}
	}
	assert.True(t, restored, "rollback must restore the pre-migration backup")
}

// TestRollbackMigrationByID verifies the facade can replay a tracked
// migration's rollback plan.
func TestRollbackMigrationByID(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	f.publish("foo", "1.0.0", true)
	f.publish("foo", "2.0.0", true)
	f.install("foo", "1.0.0")

	m, err := f.orch.MigrateExtension(ctx, "foo", "2.0.0", true, false, 0)
	require.NoError(t, err)
	require.Equal(t, datatypes.MigrationStatusCompleted, m.Status)

	ok, err := f.orch.RollbackMigration(ctx, m.MigrationID)
	require.NoError(t, err)
	assert.True(t, ok)

	status, err := f.orch.GetMigrationStatus(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, datatypes.MigrationStatusRolledBack, status.Status)
}

// TestRecoverExtensionThroughFacade verifies recovery actions and the
// history query work end to end.
func TestRecoverExtensionThroughFacade(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	down := true
	f.runtime.IsRunningFunc = func(ctx context.Context, name string) (bool, error) {
		return !down, nil
	}
	f.runtime.RestartFunc = func(ctx context.Context, name string) error {
		down = false
		return nil
	}

	recovered, err := f.orch.RecoverExtension(ctx, "foo", recovery.StrategyConservative, false)
	require.NoError(t, err)
	assert.True(t, recovered)

	history, err := f.orch.GetRecoveryHistory(ctx, "foo", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, recovery.ActionRestart, history[0].Action)
	assert.True(t, history[0].Success)
}

// TestResolveDependencies verifies resolution uses the tenant's
// installed snapshot.
func TestResolveDependencies(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	v := f.publish("app", "1.0.0", true)
	f.catalog.AddDependency(datatypes.ExtensionDependency{
		VersionID:         v.VersionID,
		DependencyName:    "lib",
		DependencyType:    datatypes.DependencyTypeExtension,
		VersionConstraint: ">=1.0.0",
	})
	f.publish("lib", "1.2.0", true)
	f.install("lib", "1.2.0")

	result, err := f.orch.ResolveDependencies(ctx, "app", "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Success)
	require.Len(t, result.Resolved, 1)
	assert.Equal(t, "lib", result.Resolved[0].Name)
	assert.True(t, result.Resolved[0].IsSatisfied)
}

// TestGetUpdateCandidates verifies the stable/prerelease split flows
// through the facade.
func TestGetUpdateCandidates(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	f.publish("foo", "1.0.0", true)
	f.publish("foo", "1.5.0", true)
	f.publish("foo", "2.0.0-rc.1", false)
	f.install("foo", "1.0.0")

	candidates, err := f.orch.GetUpdateCandidates(ctx, false)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "1.5.0", candidates[0].LatestVersion)

	candidates, err = f.orch.GetUpdateCandidates(ctx, true)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "2.0.0-rc.1", candidates[0].LatestVersion)
}

// TestHealthTriggersRecovery verifies the monitor wiring: threshold
// crossings run the auto recovery path, gated by the rate limiter.
func TestHealthTriggersRecovery(t *testing.T) {
	cfg := testConfig()
	cfg.Health.Enabled = true
	cfg.Health.Threshold = 1
	cfg.Health.Interval = time.Hour // sweeps are driven manually
	cfg.Recovery.TriggerRate = 100
	cfg.Recovery.TriggerBurst = 1

	f := newFixture(t, cfg)
	ctx := context.Background()

	f.install("foo", "1.0.0")

	down := true
	f.runtime.IsRunningFunc = func(ctx context.Context, name string) (bool, error) {
		return !down, nil
	}
	f.runtime.RestartFunc = func(ctx context.Context, name string) error {
		down = false
		return nil
	}

	require.NotNil(t, f.orch.monitor)
	f.orch.monitor.Sweep(ctx)

	history, err := f.orch.GetRecoveryHistory(ctx, "foo", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, recovery.ActionRestart, history[0].Action)
	assert.True(t, history[0].Success)
}

// TestNewKeepsPartialConfig verifies a partially populated config is
// merged with defaults instead of being replaced by them.
func TestNewKeepsPartialConfig(t *testing.T) {
	var cfg config.Config
	cfg.Store.Retention = 7
	cfg.Recovery.SettleDelay = time.Millisecond

	f := newFixture(t, cfg)
	assert.Equal(t, "default", f.orch.cfg.TenantID)
	assert.Equal(t, 7, f.orch.cfg.Store.Retention)
	assert.Equal(t, time.Millisecond, f.orch.cfg.Recovery.SettleDelay)
	assert.Equal(t, "memory", f.orch.cfg.Store.Backend)
}

// TestNewRejectsInvalidConfig verifies config validation runs at
// construction.
func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Logging.Level = "loud"

	_, err := New(Options{
		Catalog: catalog.NewMemory(),
		Runtime: &runtime.Mock{},
		Backups: &backup.Mock{},
		Config:  cfg,
	})
	require.Error(t, err)
}

// TestFacadeRecordsMetrics verifies the orchestrator's instrument set
// records migration and resolution outcomes.
func TestFacadeRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(noop.NewMeterProvider()) })

	f := newFixture(t, testConfig())
	ctx := context.Background()

	f.publish("foo", "1.0.0", true)
	f.publish("foo", "2.0.0", true)
	f.install("foo", "1.0.0")

	m, err := f.orch.MigrateExtension(ctx, "foo", "2.0.0", false, false, 0)
	require.NoError(t, err)
	require.Equal(t, datatypes.MigrationStatusCompleted, m.Status)

	_, err = f.orch.ResolveDependencies(ctx, "foo", "2.0.0")
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	recorded := make(map[string]bool)
	for _, scope := range rm.ScopeMetrics {
		for _, inst := range scope.Metrics {
			recorded[inst.Name] = true
		}
	}
	assert.True(t, recorded["lifecycle_orchestrator_migrations_total"])
	assert.True(t, recorded["lifecycle_migration_duration_seconds"])
	assert.True(t, recorded["lifecycle_resolutions_total"])
}

// TestCloseIdempotent verifies double Close is safe.
func TestCloseIdempotent(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.orch.Close())
	assert.NoError(t, f.orch.Close())
}

// TestListMigrationsEmpty verifies the facade surfaces an empty active
// set cleanly.
func TestListMigrationsEmpty(t *testing.T) {
	f := newFixture(t, testConfig())
	migrations, err := f.orch.ListMigrations(context.Background(), "", "")
	require.NoError(t, err)
	assert.Empty(t, migrations)
}
