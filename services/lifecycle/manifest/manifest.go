// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package manifest defines the extension manifest document and its
// structural validation.
//
// A manifest describes one extension version: identity, API compatibility,
// platform version bounds, and dependency declarations. Manifests arrive
// as JSON documents from the marketplace catalog and are validated against
// an embedded JSON Schema before any lifecycle operation trusts their
// contents. Semantic version checks (parseability, ranges) are the version
// resolver's concern; this package covers structure only.
package manifest

import (
	"encoding/json"
	"fmt"
)

// DependencyTypeExtension, DependencyTypePlugin, and
// DependencyTypeSystemService are the recognized dependency type values a
// manifest may declare.
const (
	DependencyTypeExtension     = "extension"
	DependencyTypePlugin        = "plugin"
	DependencyTypeSystemService = "system_service"
)

// Dependency is one declared dependency of an extension version.
type Dependency struct {
	// Name identifies the dependency (extension name, plugin name, or
	// system service name).
	Name string `json:"name" yaml:"name"`

	// Type is one of "extension", "plugin", "system_service".
	Type string `json:"type" yaml:"type"`

	// Constraint is an optional semantic-version range ("1.2.3",
	// ">=1.2.0", "^2.0.0"). Empty means any version.
	Constraint string `json:"constraint,omitempty" yaml:"constraint,omitempty"`

	// Optional dependencies are recorded during resolution but never
	// fail it.
	Optional bool `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// Manifest is the structured metadata document for one extension version.
//
// # Fields
//
//   - Name: extension identifier (lowercase slug).
//   - Version: semantic version of this release.
//   - APIVersion: platform extension API generation this release targets.
//   - MinPlatformVersion / MaxPlatformVersion: optional platform bounds.
//   - Dependencies: declared extension/plugin/service dependencies.
//
// The remaining fields are marketplace display metadata.
type Manifest struct {
	Name               string       `json:"name" yaml:"name"`
	Version            string       `json:"version" yaml:"version"`
	DisplayName        string       `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Description        string       `json:"description,omitempty" yaml:"description,omitempty"`
	Author             string       `json:"author,omitempty" yaml:"author,omitempty"`
	License            string       `json:"license,omitempty" yaml:"license,omitempty"`
	Category           string       `json:"category,omitempty" yaml:"category,omitempty"`
	APIVersion         string       `json:"api_version" yaml:"api_version"`
	MinPlatformVersion string       `json:"min_platform_version,omitempty" yaml:"min_platform_version,omitempty"`
	MaxPlatformVersion string       `json:"max_platform_version,omitempty" yaml:"max_platform_version,omitempty"`
	Dependencies       []Dependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// Parse decodes a JSON manifest document. It performs no validation beyond
// JSON well-formedness; call Validate for structural checks.
func Parse(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parsing manifest: %w", err)
	}
	return m, nil
}

// Encode renders the manifest back to canonical JSON.
func (m Manifest) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return data, nil
}

// DependenciesOfType returns the declared dependencies matching the given
// type, preserving declaration order.
func (m Manifest) DependenciesOfType(depType string) []Dependency {
	var out []Dependency
	for _, d := range m.Dependencies {
		if d.Type == depType {
			out = append(out, d)
		}
	}
	return out
}
