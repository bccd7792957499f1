// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined metrics for the lifecycle subsystem.
//
// All metrics use the "lifecycle_" prefix for consistent naming. The
// engines create their own per-step instruments lazily via otel.Meter;
// the orchestrator registers this set at construction and records
// facade-level outcomes and durations on it.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- Resolution Metrics ---

	// ResolutionsTotal counts dependency resolutions by outcome.
	ResolutionsTotal metric.Int64Counter

	// ResolutionDuration records resolution duration in seconds.
	ResolutionDuration metric.Float64Histogram

	// --- Migration Metrics ---

	// MigrationsTotal counts finished migrations by outcome.
	MigrationsTotal metric.Int64Counter

	// MigrationDuration records whole-migration duration in seconds.
	MigrationDuration metric.Float64Histogram

	// MigrationsActive tracks currently running migrations.
	MigrationsActive metric.Int64UpDownCounter

	// --- Recovery Metrics ---

	// RecoveriesTotal counts recovery runs by outcome.
	RecoveriesTotal metric.Int64Counter

	// RecoveryDuration records whole-recovery duration in seconds.
	RecoveryDuration metric.Float64Histogram

	// --- Health Metrics ---

	// HealthChecksTotal counts health probes by result.
	HealthChecksTotal metric.Int64Counter
}

// NewMetrics creates a Metrics instance with all instruments
// registered on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ResolutionsTotal, err = meter.Int64Counter(
		"lifecycle_resolutions_total",
		metric.WithDescription("Dependency resolutions by outcome"),
		metric.WithUnit("{resolution}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create resolutions_total: %w", err)
	}

	m.ResolutionDuration, err = meter.Float64Histogram(
		"lifecycle_resolution_duration_seconds",
		metric.WithDescription("Dependency resolution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create resolution_duration: %w", err)
	}

	m.MigrationsTotal, err = meter.Int64Counter(
		"lifecycle_orchestrator_migrations_total",
		metric.WithDescription("Finished migrations by outcome"),
		metric.WithUnit("{migration}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create migrations_total: %w", err)
	}

	m.MigrationDuration, err = meter.Float64Histogram(
		"lifecycle_migration_duration_seconds",
		metric.WithDescription("Whole-migration duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create migration_duration: %w", err)
	}

	m.MigrationsActive, err = meter.Int64UpDownCounter(
		"lifecycle_migrations_active",
		metric.WithDescription("Currently running migrations"),
		metric.WithUnit("{migration}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create migrations_active: %w", err)
	}

	m.RecoveriesTotal, err = meter.Int64Counter(
		"lifecycle_recoveries_total",
		metric.WithDescription("Recovery runs by outcome"),
		metric.WithUnit("{recovery}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create recoveries_total: %w", err)
	}

	m.RecoveryDuration, err = meter.Float64Histogram(
		"lifecycle_recovery_duration_seconds",
		metric.WithDescription("Whole-recovery duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create recovery_duration: %w", err)
	}

	m.HealthChecksTotal, err = meter.Int64Counter(
		"lifecycle_health_checks_total",
		metric.WithDescription("Health probes by result"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create health_checks_total: %w", err)
	}

	return m, nil
}
