// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package migration

import (
	"context"
	"sync"
)

// Deployer performs the data-plane work of migration steps: staging
// release artifacts, swapping files, migrating data, and rewriting
// configuration.
//
// # Description
//
// The platform's deployment layer implements this against its artifact
// store and extension directories. The engine only sequences the calls;
// it never touches files itself. Every operation must be idempotent so
// compensation can re-run safely.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use across different
// extension names.
type Deployer interface {
	// StageVersion fetches the release artifact for name@version into
	// the staging area.
	StageVersion(ctx context.Context, name, version string) error

	// DiscardStaged removes a staged artifact. Compensates StageVersion.
	DiscardStaged(ctx context.Context, name, version string) error

	// ApplyFiles swaps the extension's files to the staged version.
	ApplyFiles(ctx context.Context, name, version string) error

	// RevertFiles restores the extension's files to a previous version.
	// Compensates ApplyFiles.
	RevertFiles(ctx context.Context, name, version string) error

	// MigrateData transforms the extension's stored data from one
	// version's schema to another's.
	MigrateData(ctx context.Context, name, fromVersion, toVersion string) error

	// RevertData undoes a data migration. Compensates MigrateData.
	RevertData(ctx context.Context, name, fromVersion, toVersion string) error

	// UpdateConfig rewrites the extension's configuration for the
	// target version.
	UpdateConfig(ctx context.Context, name, version string) error

	// RevertConfig restores the previous configuration. Compensates
	// UpdateConfig.
	RevertConfig(ctx context.Context, name, version string) error
}

// NopDeployer succeeds at every operation without doing anything.
//
// The default when no deployment layer is wired in: the engine still
// sequences, records, and compensates steps, which is all embedded and
// test deployments need.
type NopDeployer struct{}

func (NopDeployer) StageVersion(ctx context.Context, name, version string) error  { return nil }
func (NopDeployer) DiscardStaged(ctx context.Context, name, version string) error { return nil }
func (NopDeployer) ApplyFiles(ctx context.Context, name, version string) error    { return nil }
func (NopDeployer) RevertFiles(ctx context.Context, name, version string) error   { return nil }
func (NopDeployer) MigrateData(ctx context.Context, name, fromVersion, toVersion string) error {
	return nil
}
func (NopDeployer) RevertData(ctx context.Context, name, fromVersion, toVersion string) error {
	return nil
}
func (NopDeployer) UpdateConfig(ctx context.Context, name, version string) error { return nil }
func (NopDeployer) RevertConfig(ctx context.Context, name, version string) error { return nil }

// MockDeployer is a test double for Deployer.
//
// Unset function fields succeed; set only the operations the test
// exercises. Calls records every invocation in order.
type MockDeployer struct {
	StageVersionFunc  func(ctx context.Context, name, version string) error
	DiscardStagedFunc func(ctx context.Context, name, version string) error
	ApplyFilesFunc    func(ctx context.Context, name, version string) error
	RevertFilesFunc   func(ctx context.Context, name, version string) error
	MigrateDataFunc   func(ctx context.Context, name, fromVersion, toVersion string) error
	RevertDataFunc    func(ctx context.Context, name, fromVersion, toVersion string) error
	UpdateConfigFunc  func(ctx context.Context, name, version string) error
	RevertConfigFunc  func(ctx context.Context, name, version string) error

	// Calls records invoked method names in order.
	Calls []string

	mu sync.Mutex
}

func (m *MockDeployer) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, method)
}

// GetCalls returns a copy of the recorded method names.
func (m *MockDeployer) GetCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]string, len(m.Calls))
	copy(result, m.Calls)
	return result
}

func (m *MockDeployer) StageVersion(ctx context.Context, name, version string) error {
	m.record("StageVersion")
	if m.StageVersionFunc == nil {
		return nil
	}
	return m.StageVersionFunc(ctx, name, version)
}

func (m *MockDeployer) DiscardStaged(ctx context.Context, name, version string) error {
	m.record("DiscardStaged")
	if m.DiscardStagedFunc == nil {
		return nil
	}
	return m.DiscardStagedFunc(ctx, name, version)
}

func (m *MockDeployer) ApplyFiles(ctx context.Context, name, version string) error {
	m.record("ApplyFiles")
	if m.ApplyFilesFunc == nil {
		return nil
	}
	return m.ApplyFilesFunc(ctx, name, version)
}

func (m *MockDeployer) RevertFiles(ctx context.Context, name, version string) error {
	m.record("RevertFiles")
	if m.RevertFilesFunc == nil {
		return nil
	}
	return m.RevertFilesFunc(ctx, name, version)
}

func (m *MockDeployer) MigrateData(ctx context.Context, name, fromVersion, toVersion string) error {
	m.record("MigrateData")
	if m.MigrateDataFunc == nil {
		return nil
	}
	return m.MigrateDataFunc(ctx, name, fromVersion, toVersion)
}

func (m *MockDeployer) RevertData(ctx context.Context, name, fromVersion, toVersion string) error {
	m.record("RevertData")
	if m.RevertDataFunc == nil {
		return nil
	}
	return m.RevertDataFunc(ctx, name, fromVersion, toVersion)
}

func (m *MockDeployer) UpdateConfig(ctx context.Context, name, version string) error {
	m.record("UpdateConfig")
	if m.UpdateConfigFunc == nil {
		return nil
	}
	return m.UpdateConfigFunc(ctx, name, version)
}

func (m *MockDeployer) RevertConfig(ctx context.Context, name, version string) error {
	m.record("RevertConfig")
	if m.RevertConfigFunc == nil {
		return nil
	}
	return m.RevertConfigFunc(ctx, name, version)
}

// Compile-time interface compliance checks.
var (
	_ Deployer = NopDeployer{}
	_ Deployer = (*MockDeployer)(nil)
)
