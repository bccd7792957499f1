// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"
)

func TestValidateExtensionName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		// Valid names
		{"simple", "weather", false},
		{"single char", "a", false},
		{"with digit", "weather2", false},
		{"hyphenated", "weather-dashboard", false},
		{"underscored", "weather_dashboard", false},
		{"dotted", "aleutian.weather", false},
		{"max length", strings.Repeat("a", 64), false},
		{"starts with digit", "2fa-helper", false},

		// Invalid names - injection attempts
		{"empty", "", true},
		{"path traversal", "../../etc/passwd", true},
		{"dotdot embedded", "weather..config", true},
		{"slash", "weather/dashboard", true},
		{"uppercase", "Weather", true},
		{"spaces", "weather dashboard", true},
		{"too long", strings.Repeat("a", 65), true},
		{"null byte", "weather\x00", true},
		{"newline", "weather\n", true},
		{"starts with dot", ".weather", true},
		{"starts with hyphen", "-weather", true},
		{"special chars", "weather@#$", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExtensionName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateExtensionName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateTenantID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"empty means default tenant", "", false},
		{"uuid", "550e8400-e29b-41d4-a716-446655440000", false},
		{"slug", "acme-corp", false},
		{"mixed case", "AcmeCorp", false},
		{"max length", strings.Repeat("a", 64), false},

		{"too long", strings.Repeat("a", 65), true},
		{"underscore", "acme_corp", true},
		{"slash", "acme/corp", true},
		{"starts with hyphen", "-acme", true},
		{"spaces", "acme corp", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTenantID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTenantID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeExtensionName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"already clean", "weather", "weather", false},
		{"uppercase normalized", "Weather", "weather", false},
		{"whitespace trimmed", "  weather  ", "weather", false},
		{"mixed", " Weather-Dashboard ", "weather-dashboard", false},
		{"invalid after normalize", " ../evil ", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeExtensionName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SanitizeExtensionName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("SanitizeExtensionName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
