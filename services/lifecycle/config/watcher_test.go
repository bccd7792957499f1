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

// TestWatcherInitialLoad verifies Current reflects the file at
// construction and that a bad file fails construction.
func TestWatcherInitialLoad(t *testing.T) {
	path := writeConfig(t, "tenant_id: acme\n")

	w, err := NewWatcher(path, nil, nil)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, "acme", w.Current().TenantID)
}

// TestWatcherRejectsBrokenFile verifies construction fails when the
// initial load does.
func TestWatcherRejectsBrokenFile(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: loud\n")
	_, err := NewWatcher(path, nil, nil)
	assert.Error(t, err)
}

// TestWatcherReloadsOnRewrite verifies an in-place rewrite propagates
// to Current and fires onChange.
func TestWatcherReloadsOnRewrite(t *testing.T) {
	path := writeConfig(t, "tenant_id: acme\n")

	changed := make(chan Config, 4)
	w, err := NewWatcher(path, nil, func(cfg Config) {
		changed <- cfg
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("tenant_id: globex\n"), 0o600))

	select {
	case cfg := <-changed:
		assert.Equal(t, "globex", cfg.TenantID)
	case <-time.After(5 * time.Second):
		t.Fatal("reload did not fire")
	}
	assert.Equal(t, "globex", w.Current().TenantID)
}

// TestWatcherSurvivesRename verifies the write-then-rename save pattern
// still triggers a reload, because the parent directory is watched.
func TestWatcherSurvivesRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lifecycle.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tenant_id: acme\n"), 0o600))

	changed := make(chan Config, 4)
	w, err := NewWatcher(path, nil, func(cfg Config) {
		changed <- cfg
	})
	require.NoError(t, err)
	defer w.Close()

	tmp := filepath.Join(dir, ".lifecycle.yaml.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("tenant_id: initech\n"), 0o600))
	require.NoError(t, os.Rename(tmp, path))

	select {
	case cfg := <-changed:
		assert.Equal(t, "initech", cfg.TenantID)
	case <-time.After(5 * time.Second):
		t.Fatal("reload did not fire after rename")
	}
}

// TestWatcherKeepsPreviousOnBadReload verifies a broken rewrite leaves
// the last good configuration in place.
func TestWatcherKeepsPreviousOnBadReload(t *testing.T) {
	path := writeConfig(t, "tenant_id: acme\n")

	w, err := NewWatcher(path, nil, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o600))

	// Wait past the debounce window plus slack for the failed reload.
	time.Sleep(debounceWindow + 500*time.Millisecond)
	assert.Equal(t, "acme", w.Current().TenantID)
}

// TestWatcherCloseIdempotent verifies double Close does not panic.
func TestWatcherCloseIdempotent(t *testing.T) {
	path := writeConfig(t, "tenant_id: acme\n")

	w, err := NewWatcher(path, nil, nil)
	require.NoError(t, err)

	require.NoError(t, w.Close())
	assert.NotPanics(t, func() { w.Close() })
}
