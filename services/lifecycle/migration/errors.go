// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package migration implements the extension migration engine: moving
// an installed extension between versions through an ordered sequence
// of compensatable steps, with backup-before-migrate and
// rollback-on-failure semantics.
//
// A migration's status only moves forward:
//
//	pending → running → completed
//	                  → failed → rolled_back
//
// Step bodies are table-driven off serializable step kinds rather than
// closures, so every run's step records can be audited and replayed.
// Collaborator failures never escape MigrateExtension as raw errors;
// they surface as the final status plus ErrorMessage.
package migration

import (
	"errors"
	"fmt"
)

// Sentinel errors for migration operations.
var (
	// ErrMigrationTimeout is recorded when the overall migration
	// deadline expires before the step sequence finishes.
	ErrMigrationTimeout = errors.New("migration timed out")

	// ErrNoDowngradeTarget is returned by RollbackVersion when no
	// stable release below the installed version exists.
	ErrNoDowngradeTarget = errors.New("no earlier stable version to roll back to")

	// ErrUnknownStepKind indicates a step record whose kind has no
	// entry in the step table. Only possible with corrupted records.
	ErrUnknownStepKind = errors.New("unknown migration step kind")
)

// StepError reports a failed migration step. It is consumed internally
// by the rollback sequence and surfaces only through the migration
// record's status and ErrorMessage.
type StepError struct {
	// Step is the step's human-readable name.
	Step string

	// Kind is the step's table kind.
	Kind string

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %q (%s) failed: %v", e.Step, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StepError) Unwrap() error {
	return e.Err
}
