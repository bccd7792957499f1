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
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/datatypes"
)

// Memory is an in-memory CatalogRegistry.
//
// # Description
//
// Holds versions, dependencies, installations, and plugin/service
// availability in maps. Used by tests and embedded single-node
// deployments where the marketplace service is not running.
//
// # Thread Safety
//
// Safe for concurrent use; all state is guarded by one RWMutex.
type Memory struct {
	mu           sync.RWMutex
	versions     map[string][]datatypes.ExtensionVersion      // extension name → versions
	dependencies map[string][]datatypes.ExtensionDependency   // version id → deps
	installed    map[string]map[string]datatypes.ExtensionInstallation // tenant → name → row
	plugins      map[string]bool
	services     map[string]bool
}

// NewMemory creates an empty in-memory catalog.
func NewMemory() *Memory {
	return &Memory{
		versions:     make(map[string][]datatypes.ExtensionVersion),
		dependencies: make(map[string][]datatypes.ExtensionDependency),
		installed:    make(map[string]map[string]datatypes.ExtensionInstallation),
		plugins:      make(map[string]bool),
		services:     make(map[string]bool),
	}
}

// AddVersion publishes a version. A zero VersionID is assigned a fresh
// UUID. Returns the stored record.
func (m *Memory) AddVersion(v datatypes.ExtensionVersion) datatypes.ExtensionVersion {
	if v.VersionID == "" {
		v.VersionID = uuid.NewString()
	}
	if v.ListingID == "" {
		v.ListingID = v.Manifest.Name
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	name := v.Manifest.Name
	m.versions[name] = append(m.versions[name], v)
	sortVersionsNewestFirst(m.versions[name])
	return v
}

// AddDependency declares a dependency for a published version.
func (m *Memory) AddDependency(d datatypes.ExtensionDependency) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dependencies[d.VersionID] = append(m.dependencies[d.VersionID], d)
}

// SetInstalled records the installed row for (extension, tenant),
// replacing any previous row.
func (m *Memory) SetInstalled(inst datatypes.ExtensionInstallation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byName, ok := m.installed[inst.TenantID]
	if !ok {
		byName = make(map[string]datatypes.ExtensionInstallation)
		m.installed[inst.TenantID] = byName
	}
	byName[inst.ExtensionName] = inst
}

// SetPluginAvailable marks a platform plugin as present or absent.
func (m *Memory) SetPluginAvailable(name string, available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plugins[name] = available
}

// SetServiceAvailable marks a system service as reachable or not.
func (m *Memory) SetServiceAvailable(name string, available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[name] = available
}

// GetVersion returns one published version of an extension.
func (m *Memory) GetVersion(ctx context.Context, extensionName, version string) (*datatypes.ExtensionVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions, ok := m.versions[extensionName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExtensionNotFound, extensionName)
	}
	for i := range versions {
		if versions[i].Version == version {
			v := versions[i]
			return &v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s@%s", ErrVersionNotFound, extensionName, version)
}

// ListVersions returns all published versions, newest first.
func (m *Memory) ListVersions(ctx context.Context, extensionName string) ([]datatypes.ExtensionVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions, ok := m.versions[extensionName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExtensionNotFound, extensionName)
	}
	result := make([]datatypes.ExtensionVersion, len(versions))
	copy(result, versions)
	return result, nil
}

// GetDependencies returns the declared dependencies of a version.
func (m *Memory) GetDependencies(ctx context.Context, versionID string) ([]datatypes.ExtensionDependency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	deps := m.dependencies[versionID]
	result := make([]datatypes.ExtensionDependency, len(deps))
	copy(result, deps)
	return result, nil
}

// GetInstalledVersion returns the installed version for a tenant.
func (m *Memory) GetInstalledVersion(ctx context.Context, extensionName, tenantID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if byName, ok := m.installed[tenantID]; ok {
		if inst, ok := byName[extensionName]; ok {
			return inst.Version, nil
		}
	}
	return "", fmt.Errorf("%w: %s (tenant %s)", ErrNotInstalled, extensionName, tenantID)
}

// ListInstalled returns all installed extensions for a tenant, sorted by
// extension name for deterministic iteration.
func (m *Memory) ListInstalled(ctx context.Context, tenantID string) ([]datatypes.ExtensionInstallation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byName := m.installed[tenantID]
	result := make([]datatypes.ExtensionInstallation, 0, len(byName))
	for _, inst := range byName {
		result = append(result, inst)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExtensionName < result[j].ExtensionName
	})
	return result, nil
}

// PluginAvailable reports whether the named plugin is present.
func (m *Memory) PluginAvailable(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.plugins[name], nil
}

// ServiceAvailable reports whether the named service is reachable.
func (m *Memory) ServiceAvailable(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.services[name], nil
}

// sortVersionsNewestFirst orders by descending semantic version.
// Unparseable versions sort last so valid releases are always preferred.
func sortVersionsNewestFirst(versions []datatypes.ExtensionVersion) {
	sort.SliceStable(versions, func(i, j int) bool {
		vi, erri := semver.NewVersion(versions[i].Version)
		vj, errj := semver.NewVersion(versions[j].Version)
		if erri != nil {
			return false
		}
		if errj != nil {
			return true
		}
		return vi.GreaterThan(vj)
	})
}

// Compile-time interface compliance check.
var _ CatalogRegistry = (*Memory)(nil)
