// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for caller-provided identifiers that end
// up in storage keys, file paths, or lock names. Using these validators
// prevents injection attacks (key collisions, command injection, path
// traversal) at the subsystem boundary.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// extensionNamePattern matches valid extension names.
// Allows: lowercase letters, digits, hyphens, underscores, dots as
// separators. Must start with a letter or digit. Max length: 64.
var extensionNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._\-]{0,63}$`)

// tenantIDPattern matches valid tenant identifiers.
// Allows: letters, digits, hyphens (covers UUIDs and short slugs).
// Max length: 64 characters.
var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9\-]{0,63}$`)

// ValidateExtensionName validates an extension name before it is used as a
// lock key, a store key prefix, or a path segment.
//
// Valid names:
//   - 1-64 characters
//   - lowercase letters a-z, digits 0-9
//   - dots (.), hyphens (-), underscores (_) after the first character
//
// Returns an error if the name is invalid.
//
// Example:
//
//	if err := validation.ValidateExtensionName(name); err != nil {
//	    return nil, err
//	}
//	// Safe to use as a key
func ValidateExtensionName(name string) error {
	if name == "" {
		return fmt.Errorf("extension name cannot be empty")
	}

	if strings.Contains(name, "..") {
		return fmt.Errorf("invalid extension name: %q (path traversal sequence)", name)
	}

	if !extensionNamePattern.MatchString(name) {
		return fmt.Errorf("invalid extension name: %q (must be 1-64 lowercase alphanumeric chars, dots, hyphens, or underscores)", name)
	}

	return nil
}

// ValidateTenantID validates a tenant identifier (UUID or short slug).
//
// Returns an error if the identifier is invalid. An empty tenant ID is
// valid and means the default tenant.
func ValidateTenantID(tenantID string) error {
	if tenantID == "" {
		return nil
	}

	if !tenantIDPattern.MatchString(tenantID) {
		return fmt.Errorf("invalid tenant id: %q (must be 1-64 alphanumeric chars or hyphens)", tenantID)
	}

	return nil
}

// SanitizeExtensionName normalizes and validates an extension name.
// Returns the lowercase trimmed name if valid, or an error if invalid.
//
// Use this at API boundaries where callers may pass display-cased names:
//
//	safeName, err := validation.SanitizeExtensionName(userInput)
//	if err != nil {
//	    return err
//	}
func SanitizeExtensionName(name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if err := ValidateExtensionName(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
