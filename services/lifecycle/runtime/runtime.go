// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runtime defines the extension process manager consumed by the
// lifecycle engines.
//
// The implementation lives in the platform's process supervisor, outside
// this subsystem. By abstracting process control behind an interface we
// can mock start/stop/restart in unit tests and keep the engines free of
// OS-level process handling.
package runtime

import (
	"context"
	"sync"
)

// Info describes one managed extension process.
type Info struct {
	// Name is the extension name.
	Name string

	// Version currently deployed.
	Version string

	// Running reports whether the process is up.
	Running bool

	// Disabled marks extensions taken out of service by recovery.
	Disabled bool
}

// ExtensionRuntime controls extension processes.
//
// # Description
//
// All methods address extensions by name. Operations are expected to be
// idempotent: stopping a stopped extension or starting a running one is
// not an error.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use across different
// extension names. The engines serialize calls per name.
type ExtensionRuntime interface {
	// IsRunning reports whether the extension's process is up.
	IsRunning(ctx context.Context, name string) (bool, error)

	// Start launches the extension's process.
	Start(ctx context.Context, name string) error

	// Stop terminates the extension's process.
	Stop(ctx context.Context, name string) error

	// Restart stops then starts the extension's process.
	Restart(ctx context.Context, name string) error

	// ClearCache removes the extension's cached runtime state.
	ClearCache(ctx context.Context, name string) error

	// Disable stops the extension and marks it out of service until an
	// operator re-enables it.
	Disable(ctx context.Context, name string) error

	// GetInfo returns the extension's process info.
	GetInfo(ctx context.Context, name string) (Info, error)
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// Mock is a test double for ExtensionRuntime.
//
// Configure the mock by setting function fields before use. Unset
// function fields behave as successful no-ops (IsRunning reports true,
// GetInfo returns a running Info), so tests only stub what they assert.
//
// # Examples
//
//	mock := &runtime.Mock{
//	    RestartFunc: func(ctx context.Context, name string) error {
//	        return errors.New("restart refused")
//	    },
//	}
type Mock struct {
	IsRunningFunc  func(ctx context.Context, name string) (bool, error)
	StartFunc      func(ctx context.Context, name string) error
	StopFunc       func(ctx context.Context, name string) error
	RestartFunc    func(ctx context.Context, name string) error
	ClearCacheFunc func(ctx context.Context, name string) error
	DisableFunc    func(ctx context.Context, name string) error
	GetInfoFunc    func(ctx context.Context, name string) (Info, error)

	// Calls records all method invocations for verification.
	Calls []Call

	// mu protects Calls for concurrent access.
	mu sync.Mutex
}

// Call records a single method invocation.
type Call struct {
	Method string
	Name   string
}

func (m *Mock) record(method, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, Call{Method: method, Name: name})
}

// IsRunning delegates to IsRunningFunc and records the call.
func (m *Mock) IsRunning(ctx context.Context, name string) (bool, error) {
	m.record("IsRunning", name)
	if m.IsRunningFunc == nil {
		return true, nil
	}
	return m.IsRunningFunc(ctx, name)
}

// Start delegates to StartFunc and records the call.
func (m *Mock) Start(ctx context.Context, name string) error {
	m.record("Start", name)
	if m.StartFunc == nil {
		return nil
	}
	return m.StartFunc(ctx, name)
}

// Stop delegates to StopFunc and records the call.
func (m *Mock) Stop(ctx context.Context, name string) error {
	m.record("Stop", name)
	if m.StopFunc == nil {
		return nil
	}
	return m.StopFunc(ctx, name)
}

// Restart delegates to RestartFunc and records the call.
func (m *Mock) Restart(ctx context.Context, name string) error {
	m.record("Restart", name)
	if m.RestartFunc == nil {
		return nil
	}
	return m.RestartFunc(ctx, name)
}

// ClearCache delegates to ClearCacheFunc and records the call.
func (m *Mock) ClearCache(ctx context.Context, name string) error {
	m.record("ClearCache", name)
	if m.ClearCacheFunc == nil {
		return nil
	}
	return m.ClearCacheFunc(ctx, name)
}

// Disable delegates to DisableFunc and records the call.
func (m *Mock) Disable(ctx context.Context, name string) error {
	m.record("Disable", name)
	if m.DisableFunc == nil {
		return nil
	}
	return m.DisableFunc(ctx, name)
}

// GetInfo delegates to GetInfoFunc and records the call.
func (m *Mock) GetInfo(ctx context.Context, name string) (Info, error) {
	m.record("GetInfo", name)
	if m.GetInfoFunc == nil {
		return Info{Name: name, Running: true}, nil
	}
	return m.GetInfoFunc(ctx, name)
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// GetCalls returns a copy of all recorded calls.
func (m *Mock) GetCalls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Call, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// CallsTo returns the number of recorded calls to the given method.
func (m *Mock) CallsTo(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Compile-time interface compliance check.
var _ ExtensionRuntime = (*Mock)(nil)
