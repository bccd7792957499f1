// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog defines the marketplace catalog reads the lifecycle
// subsystem depends on: published versions, their declared dependencies,
// installed state per tenant, and plugin/system-service availability.
//
// The production implementation is the platform's marketplace service;
// this package ships an in-memory implementation for tests and embedded
// deployments, plus a function-field Mock for failure injection.
package catalog

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/datatypes"
)

// Sentinel errors for catalog lookups.
var (
	// ErrExtensionNotFound is returned when an extension name is unknown
	// to the catalog.
	ErrExtensionNotFound = errors.New("extension not found")

	// ErrVersionNotFound is returned when an extension exists but the
	// requested version does not.
	ErrVersionNotFound = errors.New("extension version not found")

	// ErrNotInstalled is returned when an extension has no installed
	// row for the tenant.
	ErrNotInstalled = errors.New("extension not installed")
)

// CatalogRegistry is the read-only catalog surface the resolver and
// migration engine consume.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type CatalogRegistry interface {
	// GetVersion returns one published version of an extension.
	// Returns ErrExtensionNotFound or ErrVersionNotFound.
	GetVersion(ctx context.Context, extensionName, version string) (*datatypes.ExtensionVersion, error)

	// ListVersions returns all published versions of an extension,
	// newest first (by semantic version). Returns ErrExtensionNotFound
	// for unknown extensions.
	ListVersions(ctx context.Context, extensionName string) ([]datatypes.ExtensionVersion, error)

	// GetDependencies returns the declared dependencies of a version.
	GetDependencies(ctx context.Context, versionID string) ([]datatypes.ExtensionDependency, error)

	// GetInstalledVersion returns the version string currently installed
	// for (extensionName, tenantID). Returns ErrNotInstalled when absent.
	GetInstalledVersion(ctx context.Context, extensionName, tenantID string) (string, error)

	// ListInstalled returns all installed extensions for a tenant.
	ListInstalled(ctx context.Context, tenantID string) ([]datatypes.ExtensionInstallation, error)

	// PluginAvailable reports whether the named platform plugin is
	// present and loadable.
	PluginAvailable(ctx context.Context, name string) (bool, error)

	// ServiceAvailable reports whether the named system service is
	// reachable.
	ServiceAvailable(ctx context.Context, name string) (bool, error)
}
