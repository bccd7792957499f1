// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator bundles the resolver, migration engine, and
// recovery engine behind one lifecycle API, and wires the health
// monitor so unhealthy extensions flow into automatic recovery.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianExtensions/pkg/logging"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/backup"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/catalog"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/config"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/datatypes"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/events"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/health"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/migration"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/recovery"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/resolver"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/runtime"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/store"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/store/badgerstore"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/telemetry"
)

// Options configures an Orchestrator.
//
// Catalog, Runtime, and Backups are the platform collaborators and are
// required. Everything else substitutes a default when nil/zero:
// events.Nop, logging.Default, config.DefaultConfig, and a store built
// from Config.Store (memory unless the badger backend is selected).
type Options struct {
	Catalog catalog.CatalogRegistry
	Runtime runtime.ExtensionRuntime
	Backups backup.BackupStore

	// Events receives audit records from all three engines.
	Events events.EventLog

	// Logger is the root logger; engines derive children from it.
	Logger *logging.Logger

	// Config tunes the subsystem. A zero value uses
	// config.DefaultConfig; a partial value keeps every field the
	// caller set and fills the rest per Config.WithDefaults.
	Config config.Config

	// MigrationStore / HistoryStore override the Config.Store-derived
	// backends, for callers that manage their own store lifetime.
	MigrationStore store.MigrationStore
	HistoryStore   store.HistoryStore

	// Deployer performs migration file/data/config work. Nil uses
	// migration.NopDeployer.
	Deployer migration.Deployer
}

// Orchestrator is the lifecycle subsystem facade.
//
// # Thread Safety
//
// Safe for concurrent use. Start may be called once; Close is
// idempotent.
type Orchestrator struct {
	cfg      config.Config
	logger   *logging.Logger
	catalog  catalog.CatalogRegistry
	resolver *resolver.Resolver
	migrator *migration.Engine
	recovery *recovery.Engine
	monitor  *health.Monitor

	// limiter throttles health-triggered recoveries so a mass failure
	// cannot stampede the recovery engine.
	limiter *rate.Limiter

	// metrics records facade-level outcomes and durations. Nil when
	// instrument registration failed; recording is then skipped.
	metrics *telemetry.Metrics

	// badger is non-nil only when this orchestrator opened the store
	// itself and therefore owns closing it.
	badger *badgerstore.Store

	// telemetryShutdown is non-nil only when this orchestrator
	// initialized the telemetry stack and therefore owns flushing it.
	telemetryShutdown func(context.Context) error

	started bool
	closed  bool
}

// New builds the full lifecycle subsystem from Options.
func New(opts Options) (*Orchestrator, error) {
	if opts.Catalog == nil {
		return nil, errors.New("orchestrator: catalog is required")
	}
	if opts.Runtime == nil {
		return nil, errors.New("orchestrator: runtime is required")
	}
	if opts.Backups == nil {
		return nil, errors.New("orchestrator: backup store is required")
	}

	cfg := opts.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: invalid config: %w", err)
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	logger := opts.Logger.With("service", "lifecycle")

	o := &Orchestrator{
		cfg:     cfg,
		catalog: opts.Catalog,
		logger:  logger,
		limiter: rate.NewLimiter(
			rate.Limit(cfg.Recovery.TriggerRate), cfg.Recovery.TriggerBurst),
	}

	migrationStore, historyStore, err := o.buildStores(opts, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Telemetry.Exporter != "none" {
		if err := o.initTelemetry(cfg.Telemetry); err != nil {
			return nil, err
		}
	}

	if m, merr := telemetry.NewMetrics(otel.Meter("aleutian.ai/lifecycle")); merr != nil {
		logger.Warn("lifecycle metrics unavailable", "error", merr)
	} else {
		o.metrics = m
	}

	o.resolver, err = resolver.New(resolver.Options{
		Catalog: opts.Catalog,
		Logger:  logger,
		Events:  opts.Events,
	})
	if err != nil {
		return nil, err
	}

	o.migrator, err = migration.New(migration.Options{
		Resolver:        o.resolver,
		Catalog:         opts.Catalog,
		Runtime:         opts.Runtime,
		Backups:         opts.Backups,
		Store:           migrationStore,
		Deployer:        opts.Deployer,
		Events:          opts.Events,
		Logger:          logger,
		TenantID:        cfg.TenantID,
		RollbackTimeout: cfg.Migration.RollbackTimeout,
	})
	if err != nil {
		return nil, err
	}

	o.recovery, err = recovery.New(recovery.Options{
		Runtime:     opts.Runtime,
		Backups:     opts.Backups,
		Migrator:    o.migrator,
		History:     historyStore,
		Events:      opts.Events,
		Logger:      logger,
		SettleDelay: cfg.Recovery.SettleDelay,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Health.Enabled {
		o.monitor, err = health.NewMonitor(health.Options{
			Catalog:     opts.Catalog,
			Runtime:     opts.Runtime,
			Logger:      logger,
			TenantID:    cfg.TenantID,
			Interval:    cfg.Health.Interval,
			Threshold:   cfg.Health.Threshold,
			Concurrency: cfg.Health.Concurrency,
			OnUnhealthy: o.onUnhealthy,
			OnProbe:     o.onProbe,
		})
		if err != nil {
			return nil, err
		}
	}

	return o, nil
}

// buildStores resolves the migration and history stores from explicit
// overrides or the configured backend.
func (o *Orchestrator) buildStores(opts Options, logger *logging.Logger) (store.MigrationStore, store.HistoryStore, error) {
	migrationStore := opts.MigrationStore
	historyStore := opts.HistoryStore
	if migrationStore != nil && historyStore != nil {
		return migrationStore, historyStore, nil
	}

	switch o.cfg.Store.Backend {
	case "badger":
		bcfg := badgerstore.DefaultConfig(o.cfg.Store.Path)
		bcfg.SyncWrites = o.cfg.Store.SyncWrites
		bcfg.Logger = logger.Slog()
		bs, err := badgerstore.Open(bcfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open badger store: %w", err)
		}
		o.badger = bs
		if migrationStore == nil {
			migrationStore = bs
		}
		if historyStore == nil {
			historyStore = bs
		}

	default:
		mem := store.NewMemory(o.cfg.Store.Retention)
		if migrationStore == nil {
			migrationStore = mem
		}
		if historyStore == nil {
			historyStore = mem
		}
	}
	return migrationStore, historyStore, nil
}

// initTelemetry maps the subsystem's telemetry config onto the
// exporter stack. Traces follow the metric exporter except for
// prometheus, which has no trace side.
func (o *Orchestrator) initTelemetry(tcfg config.TelemetryConfig) error {
	traceExporter := tcfg.Exporter
	if traceExporter == "prometheus" {
		traceExporter = "none"
	}

	shutdown, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:    "aleutian-extensions",
		ServiceVersion: "1.0.0",
		Environment:    telemetry.DefaultConfig().Environment,
		TraceExporter:  traceExporter,
		MetricExporter: tcfg.Exporter,
		OTLPEndpoint:   tcfg.Endpoint,
		OTLPInsecure:   true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	o.telemetryShutdown = shutdown
	return nil
}

// Start launches background monitoring. Safe to skip for callers that
// only want the request-driven operations.
func (o *Orchestrator) Start(ctx context.Context) {
	if o.started || o.monitor == nil {
		return
	}
	o.started = true
	o.monitor.Start(ctx)
	o.logger.Info("lifecycle monitoring started",
		"interval", o.cfg.Health.Interval, "threshold", o.cfg.Health.Threshold)
}

// Close stops monitoring and closes any store this orchestrator owns.
func (o *Orchestrator) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true

	if o.monitor != nil && o.started {
		o.monitor.Stop()
	}
	if o.telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.telemetryShutdown(ctx); err != nil {
			o.logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
	if o.badger != nil {
		if err := o.badger.Close(); err != nil {
			return fmt.Errorf("close store: %w", err)
		}
	}
	return nil
}

// onUnhealthy is the health monitor's callback: rate-limited automatic
// recovery with the auto strategy.
func (o *Orchestrator) onUnhealthy(extensionName, reason string) {
	if !o.limiter.Allow() {
		o.logger.Warn("recovery trigger rate limited",
			"extension", extensionName, "reason", reason)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	recovered, err := o.RecoverExtension(ctx, extensionName, recovery.StrategyAuto, false)
	if err != nil {
		o.logger.Error("automatic recovery errored",
			"extension", extensionName, "error", err)
		return
	}
	o.logger.Info("automatic recovery finished",
		"extension", extensionName, "recovered", recovered, "reason", reason)
}

// onProbe counts individual health probes by outcome.
func (o *Orchestrator) onProbe(extensionName string, healthy bool) {
	if o.metrics == nil {
		return
	}
	o.metrics.HealthChecksTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("extension", extensionName),
		attribute.Bool("healthy", healthy)))
}

// ResolveDependencies resolves the dependency graph for one extension
// version against the tenant's installed state.
func (o *Orchestrator) ResolveDependencies(ctx context.Context, extensionName, version string) (*datatypes.ResolutionResult, error) {
	installed, err := o.installedVersions(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := o.resolver.ResolveDependencies(ctx, extensionName, version, o.cfg.TenantID, installed)
	if o.metrics != nil && result != nil {
		attrs := metric.WithAttributes(attribute.Bool("success", result.Success))
		o.metrics.ResolutionsTotal.Add(ctx, 1, attrs)
		o.metrics.ResolutionDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	return result, err
}

// MigrateExtension moves an installed extension to targetVersion. See
// migration.Engine.MigrateExtension for semantics.
func (o *Orchestrator) MigrateExtension(ctx context.Context, extensionName, targetVersion string, createBackup, autoRollbackOnFailure bool, timeout time.Duration) (*datatypes.ExtensionMigration, error) {
	if timeout <= 0 {
		timeout = o.cfg.Migration.DefaultTimeout
	}
	if o.metrics != nil {
		o.metrics.MigrationsActive.Add(ctx, 1)
		defer o.metrics.MigrationsActive.Add(ctx, -1)
	}

	start := time.Now()
	m, err := o.migrator.MigrateExtension(ctx, extensionName, targetVersion, createBackup, autoRollbackOnFailure, timeout)
	if o.metrics != nil && m != nil {
		attrs := metric.WithAttributes(attribute.String("outcome", m.Status))
		o.metrics.MigrationsTotal.Add(ctx, 1, attrs)
		o.metrics.MigrationDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	return m, err
}

// RollbackMigration re-runs the rollback plan of a tracked migration.
func (o *Orchestrator) RollbackMigration(ctx context.Context, migrationID string) (bool, error) {
	return o.migrator.RollbackMigration(ctx, migrationID)
}

// RecoverExtension runs the named recovery strategy against a failing
// extension.
func (o *Orchestrator) RecoverExtension(ctx context.Context, extensionName, strategy string, force bool) (bool, error) {
	start := time.Now()
	recovered, err := o.recovery.RecoverExtension(ctx, extensionName, strategy, force)
	if o.metrics != nil && err == nil {
		attrs := metric.WithAttributes(
			attribute.Bool("recovered", recovered),
			attribute.String("strategy", strategy))
		o.metrics.RecoveriesTotal.Add(ctx, 1, attrs)
		o.metrics.RecoveryDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	return recovered, err
}

// GetMigrationStatus returns the extension's active migration, falling
// back to its most recent terminal record.
func (o *Orchestrator) GetMigrationStatus(ctx context.Context, extensionName string) (*datatypes.ExtensionMigration, error) {
	return o.migrator.GetMigrationStatus(ctx, extensionName)
}

// ListMigrations returns in-flight migrations, optionally filtered.
func (o *Orchestrator) ListMigrations(ctx context.Context, extensionName, status string) ([]*datatypes.ExtensionMigration, error) {
	return o.migrator.ListMigrations(ctx, extensionName, status)
}

// GetRecoveryHistory returns recorded recovery attempts, newest first.
func (o *Orchestrator) GetRecoveryHistory(ctx context.Context, extensionName string, limit int) ([]datatypes.RecoveryHistoryEntry, error) {
	return o.recovery.GetRecoveryHistory(ctx, extensionName, limit)
}

// GetUpdateCandidates returns installed extensions with a newer
// published version available.
func (o *Orchestrator) GetUpdateCandidates(ctx context.Context, includePrereleases bool) ([]datatypes.UpdateCandidate, error) {
	return o.resolver.GetUpdateCandidates(ctx, o.cfg.TenantID, includePrereleases)
}

// installedVersions snapshots the tenant's installed versions by name.
func (o *Orchestrator) installedVersions(ctx context.Context) (map[string]string, error) {
	installations, err := o.catalog.ListInstalled(ctx, o.cfg.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list installed for tenant %s: %w", o.cfg.TenantID, err)
	}
	installed := make(map[string]string, len(installations))
	for _, inst := range installations {
		installed[inst.ExtensionName] = inst.Version
	}
	return installed, nil
}
