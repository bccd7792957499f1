// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianExtensions/pkg/logging"
	"github.com/AleutianAI/AleutianExtensions/pkg/validation"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/backup"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/datatypes"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/events"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/lock"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/runtime"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/store"
)

// Recovery strategies.
const (
	StrategyAuto         = "auto"
	StrategyConservative = "conservative"
	StrategyAggressive   = "aggressive"
)

// Recovery actions, in ascending severity.
const (
	ActionRestart           = "restart"
	ActionClearCache        = "clear_cache"
	ActionRestoreLastBackup = "restore_last_backup"
	ActionRollbackVersion   = "rollback_version"
	ActionReinstall         = "reinstall"
	ActionDisable           = "disable"
)

// escalationWindow is the trailing history window the auto strategy
// inspects when deciding how far to escalate.
const escalationWindow = time.Hour

// DefaultSettleDelay is how long restart-style actions wait before
// confirming the extension came up.
const DefaultSettleDelay = 2 * time.Second

// Migrator is the slice of the migration engine recovery drives for
// its rollback_version and reinstall actions.
type Migrator interface {
	RollbackVersion(ctx context.Context, extensionName string) error
	Reinstall(ctx context.Context, extensionName string) error
}

// Options configures an Engine. Runtime, Backups, and Migrator are
// required; the rest default to in-memory / no-op implementations.
type Options struct {
	Runtime  runtime.ExtensionRuntime
	Backups  backup.BackupStore
	Migrator Migrator

	// History records action attempts. Nil uses an in-memory store.
	History store.HistoryStore

	// Events receives audit records. Nil uses events.Nop.
	Events events.EventLog

	// Logger for engine logs. Nil uses logging.Default().
	Logger *logging.Logger

	// SettleDelay is the wait before confirming a restart or restore
	// brought the extension up. Default: DefaultSettleDelay.
	SettleDelay time.Duration
}

// Engine executes escalating remediation for failing extensions.
//
// # Description
//
// One recovery runs per extension name at a time, serialized by a
// per-name lock independent of the migration engine's. Every action
// attempt, successful or not, lands in the history store; the auto
// strategy reads that history back to decide how hard to escalate.
//
// # Thread Safety
//
// Safe for concurrent use.
type Engine struct {
	runtime  runtime.ExtensionRuntime
	backups  backup.BackupStore
	migrator Migrator
	history  store.HistoryStore
	events   events.EventLog
	logger   *logging.Logger
	locks    *lock.Keyed

	settleDelay time.Duration

	actionsTotal metric.Int64Counter
}

// New creates a recovery Engine.
func New(opts Options) (*Engine, error) {
	if opts.Runtime == nil {
		return nil, errors.New("recovery: runtime is required")
	}
	if opts.Backups == nil {
		return nil, errors.New("recovery: backup store is required")
	}
	if opts.Migrator == nil {
		return nil, errors.New("recovery: migrator is required")
	}
	if opts.History == nil {
		opts.History = store.NewMemory(0)
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}

	e := &Engine{
		runtime:     opts.Runtime,
		backups:     opts.Backups,
		migrator:    opts.Migrator,
		history:     opts.History,
		events:      opts.Events,
		logger:      opts.Logger.With("component", "recovery"),
		locks:       lock.NewKeyed(),
		settleDelay: opts.SettleDelay,
	}

	meter := otel.Meter("aleutian.ai/lifecycle/recovery")
	var err error
	e.actionsTotal, err = meter.Int64Counter("lifecycle_recovery_actions_total",
		metric.WithDescription("Recovery actions attempted, by action and outcome"))
	if err != nil {
		e.logger.Warn("recovery counter unavailable", "error", err)
	}

	return e, nil
}

// RecoverExtension runs the strategy's action sequence against a
// failing extension, stopping at the first action that succeeds.
//
// # Description
//
// Unless force is set, a runtime that reports the extension running
// short-circuits to success with no action taken. Action failures are
// recorded in history, never returned; the error return is reserved
// for invalid input and lock/context failures.
//
// # Outputs
//
//   - bool: True iff recovery was unnecessary or some action succeeded.
//   - error: ErrUnknownStrategy, validation, or lock/context failure.
func (e *Engine) RecoverExtension(ctx context.Context, extensionName, strategy string, force bool) (bool, error) {
	if err := validation.ValidateExtensionName(extensionName); err != nil {
		return false, err
	}
	if strategy == "" {
		strategy = StrategyAuto
	}
	switch strategy {
	case StrategyAuto, StrategyConservative, StrategyAggressive:
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	release, err := e.locks.Acquire(ctx, extensionName)
	if err != nil {
		return false, err
	}
	defer release()

	logger := e.logger.With("extension", extensionName, "strategy", strategy)

	if !force {
		running, err := e.runtime.IsRunning(ctx, extensionName)
		if err != nil {
			logger.Warn("running check failed, proceeding with recovery", "error", err)
		} else if running {
			logger.Info("extension already running, no recovery needed")
			return true, nil
		}
	}

	actions := e.actionsFor(ctx, extensionName, strategy)
	logger.Info("recovery started", "actions", actions)
	e.emit(ctx, extensionName, events.TypeRecoveryStarted, map[string]string{
		"strategy": strategy,
		"actions":  fmt.Sprintf("%v", actions),
	})

	for _, action := range actions {
		actionErr := e.executeAction(ctx, extensionName, action)
		e.recordAttempt(ctx, extensionName, action, actionErr)

		if actionErr == nil {
			logger.Info("recovery action succeeded", "action", action)
			e.emit(ctx, extensionName, events.TypeRecoveryCompleted, map[string]string{
				"strategy": strategy,
				"action":   action,
			})
			return true, nil
		}
		logger.Warn("recovery action failed", "action", action, "error", actionErr)

		if ctx.Err() != nil {
			return false, fmt.Errorf("recovery of %s interrupted: %w", extensionName, ctx.Err())
		}
	}

	logger.Error("recovery exhausted", "error", ErrNoActionSucceeded)
	e.emit(ctx, extensionName, events.TypeRecoveryExhausted, map[string]string{
		"strategy": strategy,
	})
	return false, nil
}

// GetRecoveryHistory returns the extension's recorded attempts, newest
// first. limit <= 0 returns all retained entries.
func (e *Engine) GetRecoveryHistory(ctx context.Context, extensionName string, limit int) ([]datatypes.RecoveryHistoryEntry, error) {
	if err := validation.ValidateExtensionName(extensionName); err != nil {
		return nil, err
	}
	return e.history.Recent(ctx, extensionName, limit)
}

// actionsFor builds the strategy's ordered action list. The auto
// strategy escalates on how often a restart has already been attempted
// in the trailing window.
func (e *Engine) actionsFor(ctx context.Context, extensionName, strategy string) []string {
	switch strategy {
	case StrategyConservative:
		return []string{ActionRestart, ActionClearCache}

	case StrategyAggressive:
		return []string{
			ActionRestart, ActionClearCache, ActionRestoreLastBackup,
			ActionRollbackVersion, ActionReinstall,
		}
	}

	actions := []string{ActionRestart}
	restarts := e.recentRestartCount(ctx, extensionName)
	if restarts >= 1 {
		actions = append(actions, ActionClearCache, ActionRestoreLastBackup)
	}
	if restarts >= 3 {
		actions = append(actions, ActionRollbackVersion, ActionDisable)
	}
	return actions
}

// recentRestartCount counts restart attempts in the trailing
// escalation window. History errors degrade to zero so recovery still
// runs, just without escalation.
func (e *Engine) recentRestartCount(ctx context.Context, extensionName string) int {
	entries, err := e.history.Since(ctx, extensionName, time.Now().Add(-escalationWindow))
	if err != nil {
		e.logger.Warn("reading recovery history failed",
			"extension", extensionName, "error", err)
		return 0
	}
	count := 0
	for _, entry := range entries {
		if entry.Action == ActionRestart {
			count++
		}
	}
	return count
}

// executeAction dispatches one action, with panic recovery so a
// misbehaving collaborator cannot cross the lock boundary.
func (e *Engine) executeAction(ctx context.Context, extensionName, action string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovery action panicked: %v", r)
		}
	}()

	switch action {
	case ActionRestart:
		if err := e.runtime.Restart(ctx, extensionName); err != nil {
			return err
		}
		return e.confirmRunning(ctx, extensionName)

	case ActionClearCache:
		return e.runtime.ClearCache(ctx, extensionName)

	case ActionRestoreLastBackup:
		return e.restoreLastBackup(ctx, extensionName)

	case ActionRollbackVersion:
		return e.migrator.RollbackVersion(ctx, extensionName)

	case ActionReinstall:
		return e.migrator.Reinstall(ctx, extensionName)

	case ActionDisable:
		// Terminal fallback: stopping a stuck process is best effort,
		// disabling succeeds at its own goal regardless.
		if err := e.runtime.Stop(ctx, extensionName); err != nil {
			e.logger.Warn("stop before disable failed",
				"extension", extensionName, "error", err)
		}
		return e.runtime.Disable(ctx, extensionName)

	default:
		return fmt.Errorf("unknown recovery action %q", action)
	}
}

// restoreLastBackup restores the extension's newest backup, then
// verifies the extension comes up.
func (e *Engine) restoreLastBackup(ctx context.Context, extensionName string) error {
	handles, err := e.backups.ListBackups(ctx, extensionName, 1)
	if err != nil {
		return fmt.Errorf("list backups: %w", err)
	}
	if len(handles) == 0 {
		return fmt.Errorf("%w: %s", backup.ErrNoBackups, extensionName)
	}

	newest := handles[0]
	if err := e.backups.RestoreBackup(ctx, newest.ID, extensionName); err != nil {
		return fmt.Errorf("restore backup %s: %w", newest.ID, err)
	}
	if err := e.runtime.Restart(ctx, extensionName); err != nil {
		return fmt.Errorf("restart after restore: %w", err)
	}
	return e.confirmRunning(ctx, extensionName)
}

// confirmRunning waits the settle delay, then checks the runtime
// actually reports the extension up.
func (e *Engine) confirmRunning(ctx context.Context, extensionName string) error {
	select {
	case <-time.After(e.settleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	running, err := e.runtime.IsRunning(ctx, extensionName)
	if err != nil {
		return fmt.Errorf("confirm running: %w", err)
	}
	if !running {
		return fmt.Errorf("extension %s did not come up after settle delay", extensionName)
	}
	return nil
}

// recordAttempt appends the attempt to history and bumps the counter.
// A history write failure is logged, never propagated.
func (e *Engine) recordAttempt(ctx context.Context, extensionName, action string, actionErr error) {
	entry := datatypes.RecoveryHistoryEntry{
		Action:    action,
		Timestamp: time.Now(),
		Success:   actionErr == nil,
	}
	if actionErr != nil {
		entry.Error = actionErr.Error()
	}
	if err := e.history.Append(ctx, extensionName, entry); err != nil {
		e.logger.Warn("recording recovery attempt failed",
			"extension", extensionName, "action", action, "error", err)
	}

	e.emit(ctx, extensionName, events.TypeRecoveryAction, map[string]string{
		"action":  action,
		"success": fmt.Sprintf("%t", entry.Success),
	})
	if e.actionsTotal != nil {
		e.actionsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", action),
			attribute.Bool("success", entry.Success)))
	}
}

// emit sends one audit event.
func (e *Engine) emit(ctx context.Context, extensionName, eventType string, details map[string]string) {
	e.events.Log(ctx, events.Event{
		Extension: extensionName,
		Type:      eventType,
		Details:   details,
		Timestamp: time.Now(),
	})
}
