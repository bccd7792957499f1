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
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/manifest"
)

// ParseVersion parses a semantic version string
// (major.minor.patch[-pre][+build]).
//
// # Outputs
//
//   - *semver.Version: The parsed version.
//   - error: Wraps ErrInvalidVersion for malformed input.
func ParseVersion(s string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, s, err)
	}
	return v, nil
}

// SatisfiesConstraint reports whether version satisfies constraint.
//
// Constraints use semver range syntax: exact ("1.2.3"), comparison
// (">=1.2.0"), caret ("^1.2.0"), tilde ("~1.2.0"), ranges and unions.
// A malformed version or constraint yields false, never an error; the
// caller treats unparseable declarations as unsatisfiable.
func SatisfiesConstraint(version, constraint string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false
	}
	return c.Check(v)
}

// CompareVersions compares two version strings.
//
// # Outputs
//
//   - int: -1 if a < b, 0 if equal, 1 if a > b.
//   - error: Wraps ErrInvalidVersion if either string is malformed.
func CompareVersions(a, b string) (int, error) {
	va, err := ParseVersion(a)
	if err != nil {
		return 0, err
	}
	vb, err := ParseVersion(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// IsUpgrade reports whether moving from current to target is a version
// increase. Malformed versions yield false.
func IsUpgrade(current, target string) bool {
	cmp, err := CompareVersions(current, target)
	if err != nil {
		return false
	}
	return cmp < 0
}

// IsCompatibleUpgrade reports whether target is an upgrade from current
// that stays within the same major version, unless allowMajor permits
// crossing majors.
func IsCompatibleUpgrade(current, target string, allowMajor bool) bool {
	vc, err := ParseVersion(current)
	if err != nil {
		return false
	}
	vt, err := ParseVersion(target)
	if err != nil {
		return false
	}
	if !vt.GreaterThan(vc) {
		return false
	}
	if !allowMajor && vt.Major() != vc.Major() {
		return false
	}
	return true
}

// ValidateManifestVersion checks the version-related fields of a
// manifest: presence and parseability of version, presence of
// apiVersion, and parseability of the optional platform bounds.
//
// # Outputs
//
//   - []string: Human-readable problems; empty when the manifest's
//     version fields are valid.
func ValidateManifestVersion(m manifest.Manifest) []string {
	var problems []string

	if m.Version == "" {
		problems = append(problems, "manifest is missing required field: version")
	} else if _, err := ParseVersion(m.Version); err != nil {
		problems = append(problems, fmt.Sprintf("version %q is not a valid semantic version", m.Version))
	}

	if m.APIVersion == "" {
		problems = append(problems, "manifest is missing required field: api_version")
	}

	if m.MinPlatformVersion != "" {
		if _, err := ParseVersion(m.MinPlatformVersion); err != nil {
			problems = append(problems, fmt.Sprintf("min_platform_version %q is not a valid semantic version", m.MinPlatformVersion))
		}
	}
	if m.MaxPlatformVersion != "" {
		if _, err := ParseVersion(m.MaxPlatformVersion); err != nil {
			problems = append(problems, fmt.Sprintf("max_platform_version %q is not a valid semantic version", m.MaxPlatformVersion))
		}
	}

	return problems
}
