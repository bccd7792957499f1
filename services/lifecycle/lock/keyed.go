// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock provides per-key mutual exclusion for the lifecycle
// engines.
//
// Each engine serializes its operations per extension name: two
// migrations of the same extension queue behind one another, while
// migrations of different extensions run fully in parallel. There is no
// global lock.
package lock

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Keyed is a set of named mutual-exclusion locks created on first use.
//
// # Description
//
// Acquire blocks (respecting the context) until the named lock is free.
// Locks are weighted semaphores of capacity one, so waiting is a
// context-aware suspension rather than a spinning mutex. Entries are
// never removed; the set grows with the number of distinct extension
// names seen by the process, which is bounded by the installed-extension
// population.
//
// # Thread Safety
//
// Safe for concurrent use from multiple goroutines.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// NewKeyed creates an empty lock set.
func NewKeyed() *Keyed {
	return &Keyed{
		locks: make(map[string]*semaphore.Weighted),
	}
}

// get returns the semaphore for key, creating it on first use.
func (k *Keyed) get(key string) *semaphore.Weighted {
	k.mu.Lock()
	defer k.mu.Unlock()
	sem, ok := k.locks[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		k.locks[key] = sem
	}
	return sem
}

// Acquire blocks until the named lock is held or ctx is done.
//
// # Outputs
//
//   - release: Function that releases the lock. Must be called exactly
//     once, typically via defer.
//   - error: Non-nil if ctx expired before the lock was acquired.
func (k *Keyed) Acquire(ctx context.Context, key string) (release func(), err error) {
	sem := k.get(key)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire lock %q: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { sem.Release(1) })
	}, nil
}

// TryAcquire attempts to take the named lock without blocking.
//
// # Outputs
//
//   - release: Non-nil only when acquired.
//   - bool: True if the lock was acquired.
func (k *Keyed) TryAcquire(key string) (release func(), ok bool) {
	sem := k.get(key)
	if !sem.TryAcquire(1) {
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() { sem.Release(1) })
	}, true
}

// Len returns the number of distinct keys seen so far.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
