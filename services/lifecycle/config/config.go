// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config provides configuration loading for the lifecycle
// subsystem: one YAML file, struct-tag validation, and an fsnotify
// watcher for hot reload.
//
// Thread Safety:
//
//	All exported functions and types are safe for concurrent use.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxYAMLFileSize is the maximum allowed configuration file size (1MB).
// Prevents memory issues from large or corrupted files.
const MaxYAMLFileSize = 1024 * 1024

// Config is the root configuration for the lifecycle subsystem.
type Config struct {
	// TenantID scopes installed-extension reads for single-tenant
	// deployments.
	TenantID string `yaml:"tenant_id" validate:"required"`

	Logging   LoggingConfig   `yaml:"logging"`
	Store     StoreConfig     `yaml:"store"`
	Migration MigrationConfig `yaml:"migration"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Health    HealthConfig    `yaml:"health"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LoggingConfig controls the subsystem logger.
type LoggingConfig struct {
	// Level is the minimum log level.
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// LogDir receives the log file; empty disables file output.
	LogDir string `yaml:"log_dir"`

	// JSON switches console output to JSON lines.
	JSON bool `yaml:"json"`

	// Quiet suppresses console output entirely.
	Quiet bool `yaml:"quiet"`
}

// StoreConfig selects the migration/history store backend.
type StoreConfig struct {
	// Backend is "memory" or "badger".
	Backend string `yaml:"backend" validate:"oneof=memory badger"`

	// Path is the Badger directory. Required for the badger backend.
	Path string `yaml:"path" validate:"required_if=Backend badger"`

	// SyncWrites forces fsync on every Badger write.
	SyncWrites bool `yaml:"sync_writes"`

	// Retention bounds terminal migrations and history entries kept
	// per extension by the memory backend.
	Retention int `yaml:"retention" validate:"gte=0"`
}

// MigrationConfig tunes the migration engine.
type MigrationConfig struct {
	// DefaultTimeout bounds a migration when the caller passes zero.
	DefaultTimeout time.Duration `yaml:"default_timeout" validate:"gt=0"`

	// RollbackTimeout bounds compensation and rollback-plan execution.
	RollbackTimeout time.Duration `yaml:"rollback_timeout" validate:"gt=0"`
}

// RecoveryConfig tunes the recovery engine and its auto trigger.
type RecoveryConfig struct {
	// SettleDelay is the wait before confirming a restart brought the
	// extension up.
	SettleDelay time.Duration `yaml:"settle_delay" validate:"gt=0"`

	// TriggerRate caps automatic recoveries per second across all
	// extensions.
	TriggerRate float64 `yaml:"trigger_rate" validate:"gt=0"`

	// TriggerBurst is the rate limiter's burst allowance.
	TriggerBurst int `yaml:"trigger_burst" validate:"gte=1"`
}

// HealthConfig tunes the health monitor.
type HealthConfig struct {
	// Enabled turns the periodic sweep on.
	Enabled bool `yaml:"enabled"`

	// Interval between sweeps.
	Interval time.Duration `yaml:"interval" validate:"gt=0"`

	// Threshold is consecutive failed checks before an extension is
	// reported unhealthy.
	Threshold int `yaml:"threshold" validate:"gte=1"`

	// Concurrency bounds parallel checks per sweep.
	Concurrency int `yaml:"concurrency" validate:"gte=1"`
}

// TelemetryConfig selects metric/trace exporters.
type TelemetryConfig struct {
	// Exporter is "prometheus", "otlp", "stdout", or "none".
	Exporter string `yaml:"exporter" validate:"oneof=prometheus otlp stdout none"`

	// Endpoint is the OTLP gRPC endpoint. Required for otlp.
	Endpoint string `yaml:"endpoint" validate:"required_if=Exporter otlp"`

	// MetricsAddr is the promhttp listen address for the prometheus
	// exporter.
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		TenantID: "default",
		Logging: LoggingConfig{
			Level: "info",
		},
		Store: StoreConfig{
			Backend:   "memory",
			Retention: 100,
		},
		Migration: MigrationConfig{
			DefaultTimeout:  5 * time.Minute,
			RollbackTimeout: 2 * time.Minute,
		},
		Recovery: RecoveryConfig{
			SettleDelay:  2 * time.Second,
			TriggerRate:  0.2,
			TriggerBurst: 3,
		},
		Health: HealthConfig{
			Enabled:     true,
			Interval:    30 * time.Second,
			Threshold:   3,
			Concurrency: 4,
		},
		Telemetry: TelemetryConfig{
			Exporter:    "none",
			MetricsAddr: ":9464",
		},
	}
}

// WithDefaults fills the fields whose zero value would fail validation
// with their DefaultConfig values, leaving everything the caller set
// untouched. Fields with a meaningful zero (Store.Retention, flags,
// paths) are never filled. An entirely zero Config becomes
// DefaultConfig.
func (c Config) WithDefaults() Config {
	if c == (Config{}) {
		return DefaultConfig()
	}

	d := DefaultConfig()
	if c.TenantID == "" {
		c.TenantID = d.TenantID
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Store.Backend == "" {
		c.Store.Backend = d.Store.Backend
	}
	if c.Migration.DefaultTimeout <= 0 {
		c.Migration.DefaultTimeout = d.Migration.DefaultTimeout
	}
	if c.Migration.RollbackTimeout <= 0 {
		c.Migration.RollbackTimeout = d.Migration.RollbackTimeout
	}
	if c.Recovery.SettleDelay <= 0 {
		c.Recovery.SettleDelay = d.Recovery.SettleDelay
	}
	if c.Recovery.TriggerRate <= 0 {
		c.Recovery.TriggerRate = d.Recovery.TriggerRate
	}
	if c.Recovery.TriggerBurst <= 0 {
		c.Recovery.TriggerBurst = d.Recovery.TriggerBurst
	}
	if c.Health.Interval <= 0 {
		c.Health.Interval = d.Health.Interval
	}
	if c.Health.Threshold <= 0 {
		c.Health.Threshold = d.Health.Threshold
	}
	if c.Health.Concurrency <= 0 {
		c.Health.Concurrency = d.Health.Concurrency
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = d.Telemetry.Exporter
	}
	return c
}

// Load reads path, layers it over DefaultConfig, and validates the
// result.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	info, err := os.Stat(path)
	if err != nil {
		return cfg, fmt.Errorf("stat config %s: %w", path, err)
	}
	if info.Size() > MaxYAMLFileSize {
		return cfg, fmt.Errorf("config %s exceeds %d bytes", path, MaxYAMLFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct-tag constraints over the whole tree.
func (c Config) Validate() error {
	return validate.Struct(c)
}
