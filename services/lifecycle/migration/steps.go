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
	"fmt"

	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/datatypes"
)

// Step kinds. Each migration hop emits this fixed sequence; execution
// and compensation are table-driven off the kind, so step records stay
// serializable.
const (
	StepDownloadVersion = "download_version"
	StepStopExtension   = "stop_extension"
	StepUpdateFiles     = "update_files"
	StepMigrateData     = "migrate_data"
	StepUpdateConfig    = "update_config"
	StepStartExtension  = "start_extension"
	StepVerify          = "verify"
)

// hop is one planned version transition with the context step bodies
// need.
type hop struct {
	extensionName string
	fromVersion   string
	toVersion     string
}

// stepSpec defines one table entry: the forward body, the optional
// compensating body, and whether failure aborts the migration.
type stepSpec struct {
	kind        string
	description string
	required    bool
	execute     func(ctx context.Context, e *Engine, h hop) error
	compensate  func(ctx context.Context, e *Engine, h hop) error
}

// stepTable maps step kinds to their behavior. Order of execution is
// fixed by hopSteps, not by this table.
var stepTable = map[string]stepSpec{
	StepDownloadVersion: {
		kind:        StepDownloadVersion,
		description: "fetch the target release artifact into staging",
		required:    true,
		execute: func(ctx context.Context, e *Engine, h hop) error {
			// Confirm the hop target is actually published before
			// staging bytes.
			if _, err := e.catalog.GetVersion(ctx, h.extensionName, h.toVersion); err != nil {
				return err
			}
			return e.deployer.StageVersion(ctx, h.extensionName, h.toVersion)
		},
		compensate: func(ctx context.Context, e *Engine, h hop) error {
			return e.deployer.DiscardStaged(ctx, h.extensionName, h.toVersion)
		},
	},
	StepStopExtension: {
		kind:        StepStopExtension,
		description: "stop the extension process",
		required:    true,
		execute: func(ctx context.Context, e *Engine, h hop) error {
			return e.runtime.Stop(ctx, h.extensionName)
		},
		compensate: func(ctx context.Context, e *Engine, h hop) error {
			return e.runtime.Start(ctx, h.extensionName)
		},
	},
	StepUpdateFiles: {
		kind:        StepUpdateFiles,
		description: "swap extension files to the staged version",
		required:    true,
		execute: func(ctx context.Context, e *Engine, h hop) error {
			return e.deployer.ApplyFiles(ctx, h.extensionName, h.toVersion)
		},
		compensate: func(ctx context.Context, e *Engine, h hop) error {
			return e.deployer.RevertFiles(ctx, h.extensionName, h.fromVersion)
		},
	},
	StepMigrateData: {
		kind:        StepMigrateData,
		description: "migrate stored data to the target schema",
		required:    true,
		execute: func(ctx context.Context, e *Engine, h hop) error {
			return e.deployer.MigrateData(ctx, h.extensionName, h.fromVersion, h.toVersion)
		},
		compensate: func(ctx context.Context, e *Engine, h hop) error {
			return e.deployer.RevertData(ctx, h.extensionName, h.fromVersion, h.toVersion)
		},
	},
	StepUpdateConfig: {
		kind:        StepUpdateConfig,
		description: "rewrite configuration for the target version",
		required:    true,
		execute: func(ctx context.Context, e *Engine, h hop) error {
			return e.deployer.UpdateConfig(ctx, h.extensionName, h.toVersion)
		},
		compensate: func(ctx context.Context, e *Engine, h hop) error {
			return e.deployer.RevertConfig(ctx, h.extensionName, h.fromVersion)
		},
	},
	StepStartExtension: {
		kind:        StepStartExtension,
		description: "start the extension process",
		required:    true,
		execute: func(ctx context.Context, e *Engine, h hop) error {
			return e.runtime.Start(ctx, h.extensionName)
		},
		compensate: func(ctx context.Context, e *Engine, h hop) error {
			return e.runtime.Stop(ctx, h.extensionName)
		},
	},
	StepVerify: {
		kind:        StepVerify,
		description: "verify the extension is running at the target version",
		required:    false,
		execute: func(ctx context.Context, e *Engine, h hop) error {
			running, err := e.runtime.IsRunning(ctx, h.extensionName)
			if err != nil {
				return err
			}
			if !running {
				return fmt.Errorf("extension %s is not running after migration", h.extensionName)
			}
			info, err := e.runtime.GetInfo(ctx, h.extensionName)
			if err != nil {
				return err
			}
			if info.Version != "" && info.Version != h.toVersion {
				return fmt.Errorf("extension %s reports version %s, expected %s",
					h.extensionName, info.Version, h.toVersion)
			}
			return nil
		},
		// Verification has nothing to undo.
		compensate: nil,
	},
}

// hopSteps is the fixed per-hop step sequence.
var hopSteps = []string{
	StepDownloadVersion,
	StepStopExtension,
	StepUpdateFiles,
	StepMigrateData,
	StepUpdateConfig,
	StepStartExtension,
	StepVerify,
}

// plannedStep pairs a step record with its hop so the engine can
// execute and compensate without re-deriving context.
type plannedStep struct {
	record datatypes.MigrationStepRecord
	hop    hop
}

// planSteps expands the version-hop path into the ordered step list.
func planSteps(extensionName, fromVersion string, path []string) []plannedStep {
	var steps []plannedStep
	current := fromVersion
	for _, target := range path {
		h := hop{extensionName: extensionName, fromVersion: current, toVersion: target}
		for _, kind := range hopSteps {
			spec := stepTable[kind]
			steps = append(steps, plannedStep{
				record: datatypes.MigrationStepRecord{
					Name:        fmt.Sprintf("%s %s", kind, target),
					Kind:        kind,
					Description: spec.description,
					Required:    spec.required,
				},
				hop: h,
			})
		}
		current = target
	}
	return steps
}
