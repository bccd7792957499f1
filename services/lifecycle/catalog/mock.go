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
	"sync"

	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/datatypes"
)

// Mock is a test double for CatalogRegistry.
//
// Configure the mock by setting function fields before use. If a
// function field is nil and the corresponding method is called, it
// will panic; stub exactly what the test exercises.
type Mock struct {
	GetVersionFunc          func(ctx context.Context, extensionName, version string) (*datatypes.ExtensionVersion, error)
	ListVersionsFunc        func(ctx context.Context, extensionName string) ([]datatypes.ExtensionVersion, error)
	GetDependenciesFunc     func(ctx context.Context, versionID string) ([]datatypes.ExtensionDependency, error)
	GetInstalledVersionFunc func(ctx context.Context, extensionName, tenantID string) (string, error)
	ListInstalledFunc       func(ctx context.Context, tenantID string) ([]datatypes.ExtensionInstallation, error)
	PluginAvailableFunc     func(ctx context.Context, name string) (bool, error)
	ServiceAvailableFunc    func(ctx context.Context, name string) (bool, error)

	// Calls records invoked method names in order.
	Calls []string

	mu sync.Mutex
}

func (m *Mock) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, method)
}

// GetVersion delegates to GetVersionFunc and records the call.
func (m *Mock) GetVersion(ctx context.Context, extensionName, version string) (*datatypes.ExtensionVersion, error) {
	m.record("GetVersion")
	if m.GetVersionFunc == nil {
		panic("catalog.Mock.GetVersionFunc not set")
	}
	return m.GetVersionFunc(ctx, extensionName, version)
}

// ListVersions delegates to ListVersionsFunc and records the call.
func (m *Mock) ListVersions(ctx context.Context, extensionName string) ([]datatypes.ExtensionVersion, error) {
	m.record("ListVersions")
	if m.ListVersionsFunc == nil {
		panic("catalog.Mock.ListVersionsFunc not set")
	}
	return m.ListVersionsFunc(ctx, extensionName)
}

// GetDependencies delegates to GetDependenciesFunc and records the call.
func (m *Mock) GetDependencies(ctx context.Context, versionID string) ([]datatypes.ExtensionDependency, error) {
	m.record("GetDependencies")
	if m.GetDependenciesFunc == nil {
		panic("catalog.Mock.GetDependenciesFunc not set")
	}
	return m.GetDependenciesFunc(ctx, versionID)
}

// GetInstalledVersion delegates to GetInstalledVersionFunc and records the call.
func (m *Mock) GetInstalledVersion(ctx context.Context, extensionName, tenantID string) (string, error) {
	m.record("GetInstalledVersion")
	if m.GetInstalledVersionFunc == nil {
		panic("catalog.Mock.GetInstalledVersionFunc not set")
	}
	return m.GetInstalledVersionFunc(ctx, extensionName, tenantID)
}

// ListInstalled delegates to ListInstalledFunc and records the call.
func (m *Mock) ListInstalled(ctx context.Context, tenantID string) ([]datatypes.ExtensionInstallation, error) {
	m.record("ListInstalled")
	if m.ListInstalledFunc == nil {
		panic("catalog.Mock.ListInstalledFunc not set")
	}
	return m.ListInstalledFunc(ctx, tenantID)
}

// PluginAvailable delegates to PluginAvailableFunc and records the call.
func (m *Mock) PluginAvailable(ctx context.Context, name string) (bool, error) {
	m.record("PluginAvailable")
	if m.PluginAvailableFunc == nil {
		panic("catalog.Mock.PluginAvailableFunc not set")
	}
	return m.PluginAvailableFunc(ctx, name)
}

// ServiceAvailable delegates to ServiceAvailableFunc and records the call.
func (m *Mock) ServiceAvailable(ctx context.Context, name string) (bool, error) {
	m.record("ServiceAvailable")
	if m.ServiceAvailableFunc == nil {
		panic("catalog.Mock.ServiceAvailableFunc not set")
	}
	return m.ServiceAvailableFunc(ctx, name)
}

// Reset clears recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// Compile-time interface compliance check.
var _ CatalogRegistry = (*Mock)(nil)
