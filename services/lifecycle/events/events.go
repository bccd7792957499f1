// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events defines the fire-and-forget audit sink for lifecycle
// state transitions.
//
// Every migration and recovery state change is reported through EventLog.
// Implementations must never block engine progress: a slow or failing
// sink costs audit entries, never a migration.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianExtensions/pkg/logging"
)

// Event types emitted by the lifecycle engines.
const (
	TypeMigrationStarted    = "migration_started"
	TypeMigrationStep       = "migration_step"
	TypeMigrationCompleted  = "migration_completed"
	TypeMigrationFailed     = "migration_failed"
	TypeMigrationRolledBack = "migration_rolled_back"
	TypeRecoveryStarted     = "recovery_started"
	TypeRecoveryAction      = "recovery_action"
	TypeRecoveryCompleted   = "recovery_completed"
	TypeRecoveryExhausted   = "recovery_exhausted"
	TypeResolutionCompleted = "resolution_completed"
)

// Event is one audit record.
type Event struct {
	// Extension the event concerns.
	Extension string

	// Type is one of the Type* constants.
	Type string

	// Details carries event-specific attributes (migration_id, step,
	// action, error). Values must be identifiers and metadata, never
	// payloads.
	Details map[string]string

	// Timestamp is when the event occurred. The engines fill it; sinks
	// must not overwrite a non-zero value.
	Timestamp time.Time
}

// EventLog is the audit sink consumed by the engines.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; different extensions
// emit events in parallel.
type EventLog interface {
	// Log records an event. Errors are swallowed by the caller;
	// implementations should handle their own delivery failures.
	Log(ctx context.Context, event Event)
}

// Nop discards all events. Used when no audit sink is configured.
type Nop struct{}

// Log discards the event.
func (Nop) Log(ctx context.Context, event Event) {}

// SlogSink writes events to a structured logger at Info level.
type SlogSink struct {
	logger *logging.Logger
}

// NewSlogSink creates a sink backed by the given logger. A nil logger
// falls back to logging.Default().
func NewSlogSink(logger *logging.Logger) *SlogSink {
	if logger == nil {
		logger = logging.Default()
	}
	return &SlogSink{logger: logger}
}

// Log writes the event as one structured log line.
func (s *SlogSink) Log(ctx context.Context, event Event) {
	args := []any{"extension", event.Extension, "event_type", event.Type}
	if !event.Timestamp.IsZero() {
		args = append(args, "event_time", event.Timestamp.Format(time.RFC3339))
	}
	for k, v := range event.Details {
		args = append(args, k, v)
	}
	s.logger.Info("lifecycle event", args...)
}

// Mock records events for test verification.
//
// # Thread Safety
//
// Safe for concurrent use.
type Mock struct {
	mu     sync.Mutex
	events []Event
}

// Log records the event.
func (m *Mock) Log(ctx context.Context, event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// Events returns a copy of all recorded events in emission order.
func (m *Mock) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Event, len(m.events))
	copy(result, m.events)
	return result
}

// EventsOfType returns recorded events matching the given type.
func (m *Mock) EventsOfType(eventType string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Event
	for _, e := range m.events {
		if e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// Reset clears all recorded events.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

// Compile-time interface compliance checks.
var (
	_ EventLog = Nop{}
	_ EventLog = (*SlogSink)(nil)
	_ EventLog = (*Mock)(nil)
)
