// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/manifest"
)

// TestParseVersion verifies strict semver parsing and the sentinel on
// malformed input.
func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "plain release", input: "1.2.3"},
		{name: "prerelease", input: "2.0.0-beta.1"},
		{name: "build metadata", input: "1.0.0+build.5"},
		{name: "missing patch", input: "1.2", wantErr: true},
		{name: "leading v", input: "v1.2.3", wantErr: true},
		{name: "garbage", input: "not-a-version", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseVersion(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidVersion)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, v)
		})
	}
}

// TestSatisfiesConstraint verifies range checking including the
// never-error contract on malformed input.
func TestSatisfiesConstraint(t *testing.T) {
	tests := []struct {
		name       string
		version    string
		constraint string
		want       bool
	}{
		{name: "exact match", version: "1.2.3", constraint: "1.2.3", want: true},
		{name: "exact mismatch", version: "1.2.4", constraint: "1.2.3", want: false},
		{name: "gte satisfied", version: "1.5.0", constraint: ">=1.2.0", want: true},
		{name: "gte boundary", version: "1.2.0", constraint: ">=1.2.0", want: true},
		{name: "caret within major", version: "1.9.9", constraint: "^1.2.0", want: true},
		{name: "caret across major", version: "2.0.0", constraint: "^1.2.0", want: false},
		{name: "tilde within minor", version: "1.2.9", constraint: "~1.2.0", want: true},
		{name: "tilde across minor", version: "1.3.0", constraint: "~1.2.0", want: false},
		{name: "malformed version", version: "nope", constraint: ">=1.0.0", want: false},
		{name: "malformed constraint", version: "1.0.0", constraint: ">>=1", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SatisfiesConstraint(tt.version, tt.constraint))
		})
	}
}

// TestCompareVersions verifies ordering including prerelease handling.
func TestCompareVersions(t *testing.T) {
	tests := []struct {
		name    string
		a, b    string
		want    int
		wantErr bool
	}{
		{name: "less", a: "1.0.0", b: "2.0.0", want: -1},
		{name: "equal", a: "1.2.3", b: "1.2.3", want: 0},
		{name: "greater", a: "1.10.0", b: "1.9.0", want: 1},
		{name: "prerelease below release", a: "2.0.0-rc.1", b: "2.0.0", want: -1},
		{name: "malformed a", a: "x", b: "1.0.0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CompareVersions(tt.a, tt.b)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestIsUpgrade verifies upgrade detection and the false-on-malformed
// contract.
func TestIsUpgrade(t *testing.T) {
	assert.True(t, IsUpgrade("1.0.0", "1.0.1"))
	assert.True(t, IsUpgrade("1.9.0", "2.0.0"))
	assert.False(t, IsUpgrade("2.0.0", "2.0.0"))
	assert.False(t, IsUpgrade("2.0.0", "1.9.9"))
	assert.False(t, IsUpgrade("bad", "1.0.0"))
}

// TestIsCompatibleUpgrade verifies major-version gating.
func TestIsCompatibleUpgrade(t *testing.T) {
	tests := []struct {
		name       string
		current    string
		target     string
		allowMajor bool
		want       bool
	}{
		{name: "minor bump", current: "1.2.0", target: "1.3.0", want: true},
		{name: "patch bump", current: "1.2.0", target: "1.2.1", want: true},
		{name: "major blocked", current: "1.2.0", target: "2.0.0", want: false},
		{name: "major allowed", current: "1.2.0", target: "2.0.0", allowMajor: true, want: true},
		{name: "downgrade", current: "1.2.0", target: "1.1.0", allowMajor: true, want: false},
		{name: "same version", current: "1.2.0", target: "1.2.0", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCompatibleUpgrade(tt.current, tt.target, tt.allowMajor))
		})
	}
}

// TestValidateManifestVersion verifies the per-field problem reporting.
func TestValidateManifestVersion(t *testing.T) {
	t.Run("valid manifest", func(t *testing.T) {
		m := manifest.Manifest{
			Version:            "1.0.0",
			APIVersion:         "v1",
			MinPlatformVersion: "0.9.0",
		}
		assert.Empty(t, ValidateManifestVersion(m))
	})

	t.Run("missing fields", func(t *testing.T) {
		problems := ValidateManifestVersion(manifest.Manifest{})
		assert.Len(t, problems, 2)
	})

	t.Run("malformed bounds", func(t *testing.T) {
		m := manifest.Manifest{
			Version:            "1.0.0",
			APIVersion:         "v1",
			MinPlatformVersion: "one",
			MaxPlatformVersion: "two",
		}
		problems := ValidateManifestVersion(m)
		assert.Len(t, problems, 2)
	})
}
