// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/datatypes"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/manifest"
)

func publish(cat *Memory, name, version string) datatypes.ExtensionVersion {
	return cat.AddVersion(datatypes.ExtensionVersion{
		Version:  version,
		Manifest: manifest.Manifest{Name: name, Version: version},
	})
}

// TestAddVersionAssignsIDs verifies zero ids are filled in.
func TestAddVersionAssignsIDs(t *testing.T) {
	cat := NewMemory()
	v := publish(cat, "foo", "1.0.0")

	assert.NotEmpty(t, v.VersionID)
	assert.Equal(t, "foo", v.ListingID)
}

// TestListVersionsNewestFirst verifies descending semver ordering
// regardless of publish order.
func TestListVersionsNewestFirst(t *testing.T) {
	cat := NewMemory()
	publish(cat, "foo", "1.2.0")
	publish(cat, "foo", "2.0.0")
	publish(cat, "foo", "1.10.0")

	versions, err := cat.ListVersions(context.Background(), "foo")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, "2.0.0", versions[0].Version)
	assert.Equal(t, "1.10.0", versions[1].Version, "1.10.0 sorts above 1.2.0 numerically")
	assert.Equal(t, "1.2.0", versions[2].Version)
}

// TestListVersionsUnparseableLast verifies malformed versions sort
// after every valid release.
func TestListVersionsUnparseableLast(t *testing.T) {
	cat := NewMemory()
	publish(cat, "foo", "garbage")
	publish(cat, "foo", "1.0.0")

	versions, err := cat.ListVersions(context.Background(), "foo")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "1.0.0", versions[0].Version)
	assert.Equal(t, "garbage", versions[1].Version)
}

// TestGetVersion verifies lookup and both not-found sentinels.
func TestGetVersion(t *testing.T) {
	cat := NewMemory()
	publish(cat, "foo", "1.0.0")
	ctx := context.Background()

	v, err := cat.GetVersion(ctx, "foo", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v.Version)

	_, err = cat.GetVersion(ctx, "foo", "9.9.9")
	assert.ErrorIs(t, err, ErrVersionNotFound)

	_, err = cat.GetVersion(ctx, "bar", "1.0.0")
	assert.ErrorIs(t, err, ErrExtensionNotFound)

	_, err = cat.ListVersions(ctx, "bar")
	assert.ErrorIs(t, err, ErrExtensionNotFound)
}

// TestDependencies verifies declared dependencies are keyed by version
// id.
func TestDependencies(t *testing.T) {
	cat := NewMemory()
	v := publish(cat, "foo", "1.0.0")
	cat.AddDependency(datatypes.ExtensionDependency{
		VersionID:         v.VersionID,
		DependencyName:    "lib",
		DependencyType:    datatypes.DependencyTypeExtension,
		VersionConstraint: ">=1.0.0",
	})

	deps, err := cat.GetDependencies(context.Background(), v.VersionID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "lib", deps[0].DependencyName)

	deps, err = cat.GetDependencies(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, deps)
}

// TestInstalledRows verifies tenant scoping and the not-installed
// sentinel.
func TestInstalledRows(t *testing.T) {
	cat := NewMemory()
	ctx := context.Background()

	cat.SetInstalled(datatypes.ExtensionInstallation{
		ListingID: "foo", ExtensionName: "foo", Version: "1.0.0", TenantID: "acme",
	})
	cat.SetInstalled(datatypes.ExtensionInstallation{
		ListingID: "bar", ExtensionName: "bar", Version: "2.0.0", TenantID: "acme",
	})

	v, err := cat.GetInstalledVersion(ctx, "foo", "acme")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v)

	_, err = cat.GetInstalledVersion(ctx, "foo", "globex")
	assert.ErrorIs(t, err, ErrNotInstalled)

	installed, err := cat.ListInstalled(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, installed, 2)
	assert.Equal(t, "bar", installed[0].ExtensionName, "sorted by name")
	assert.Equal(t, "foo", installed[1].ExtensionName)

	// Replacing a row keeps one entry per name.
	cat.SetInstalled(datatypes.ExtensionInstallation{
		ListingID: "foo", ExtensionName: "foo", Version: "1.5.0", TenantID: "acme",
	})
	v, err = cat.GetInstalledVersion(ctx, "foo", "acme")
	require.NoError(t, err)
	assert.Equal(t, "1.5.0", v)
}

// TestAvailabilityFlags verifies plugin and service availability
// default to false until set.
func TestAvailabilityFlags(t *testing.T) {
	cat := NewMemory()
	ctx := context.Background()

	ok, err := cat.PluginAvailable(ctx, "vector-index")
	require.NoError(t, err)
	assert.False(t, ok)

	cat.SetPluginAvailable("vector-index", true)
	ok, err = cat.PluginAvailable(ctx, "vector-index")
	require.NoError(t, err)
	assert.True(t, ok)

	cat.SetServiceAvailable("object-store", true)
	ok, err = cat.ServiceAvailable(ctx, "object-store")
	require.NoError(t, err)
	assert.True(t, ok)
}
