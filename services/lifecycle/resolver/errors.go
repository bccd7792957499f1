// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolver implements version and dependency resolution for
// extensions.
//
// The resolver is read-only computation: it parses and compares
// semantic versions, builds the transitive dependency graph of a target
// extension version, rejects cycles, and reports which dependencies can
// be satisfied. It never mutates installations; the installation service
// acts on its results.
//
// # Thread Safety
//
// Resolver is safe for concurrent use. Each resolution builds its own
// transient graph; no state is shared between calls.
package resolver

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for version operations.
var (
	// ErrInvalidVersion is returned when a version string is not a
	// valid semantic version.
	ErrInvalidVersion = errors.New("invalid semantic version")

	// ErrNoCompatibleVersion is returned when no published version of
	// an extension satisfies the given constraint.
	ErrNoCompatibleVersion = errors.New("no compatible version found")

	// ErrNoUpgradePath is returned when no version hop sequence can be
	// planned between two versions.
	ErrNoUpgradePath = errors.New("no upgrade path")
)

// CycleError reports a circular dependency found during graph
// validation. It is embedded into the ResolutionResult's error strings,
// never returned to resolution callers as a raw error.
type CycleError struct {
	// Path is the cycle, first node repeated at the end
	// (e.g. ["a", "b", "a"]).
	Path []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Path, " -> "))
}
