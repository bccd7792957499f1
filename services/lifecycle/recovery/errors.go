// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recovery implements the extension recovery engine: given a
// failing extension, it selects an escalating sequence of remediation
// actions by strategy, executes them in order until one succeeds, and
// records every attempt in the recovery history.
package recovery

import "errors"

// Sentinel errors for recovery operations.
var (
	// ErrUnknownStrategy is returned for a strategy outside
	// auto/conservative/aggressive.
	ErrUnknownStrategy = errors.New("unknown recovery strategy")

	// ErrNoActionSucceeded marks an exhausted recovery run. It is
	// logged, never returned: exhaustion surfaces as (false, nil) with
	// per-action reasons in the history.
	ErrNoActionSucceeded = errors.New("no recovery action succeeded")
)
