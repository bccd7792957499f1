// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lifecycle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestDefaultConfigValidates verifies the baked-in defaults pass their
// own validation rules.
func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

// TestWithDefaults verifies zero fields are filled from the defaults
// and caller-set fields survive.
func TestWithDefaults(t *testing.T) {
	assert.Equal(t, DefaultConfig(), Config{}.WithDefaults())

	var cfg Config
	cfg.TenantID = "acme"
	cfg.Store.Retention = 5
	cfg.Health.Threshold = 9

	got := cfg.WithDefaults()
	assert.Equal(t, "acme", got.TenantID)
	assert.Equal(t, 5, got.Store.Retention)
	assert.Equal(t, 9, got.Health.Threshold)
	assert.Equal(t, "info", got.Logging.Level)
	assert.Equal(t, "memory", got.Store.Backend)
	assert.NoError(t, got.Validate())
}

// TestLoadOverlaysDefaults verifies a partial file overrides only the
// keys it names.
func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
tenant_id: acme
store:
  backend: badger
  path: /var/lib/lifecycle
migration:
  default_timeout: 10m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "acme", cfg.TenantID)
	assert.Equal(t, "badger", cfg.Store.Backend)
	assert.Equal(t, "/var/lib/lifecycle", cfg.Store.Path)
	assert.Equal(t, 10*time.Minute, cfg.Migration.DefaultTimeout)

	// Untouched keys keep their defaults.
	assert.Equal(t, 2*time.Minute, cfg.Migration.RollbackTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Health.Enabled)
	assert.Equal(t, "none", cfg.Telemetry.Exporter)
}

// TestLoadRejectsInvalid verifies struct-tag validation failures
// surface as load errors.
func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "unknown log level",
			content: "logging:\n  level: loud\n",
		},
		{
			name:    "unknown store backend",
			content: "store:\n  backend: sqlite\n",
		},
		{
			name:    "badger without path",
			content: "store:\n  backend: badger\n",
		},
		{
			name:    "otlp without endpoint",
			content: "telemetry:\n  exporter: otlp\n",
		},
		{
			name:    "zero health threshold",
			content: "health:\n  threshold: 0\n",
		},
		{
			name:    "negative retention",
			content: "store:\n  retention: -1\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

// TestLoadRejectsMalformedYAML verifies parse errors surface.
func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "tenant_id: [unclosed"))
	assert.Error(t, err)
}

// TestLoadMissingFile verifies a stat error for nonexistent paths.
func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

// TestLoadRejectsOversizedFile verifies the size guard.
func TestLoadRejectsOversizedFile(t *testing.T) {
	big := make([]byte, MaxYAMLFileSize+1)
	for i := range big {
		big[i] = '#'
	}
	_, err := Load(writeConfig(t, string(big)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}
