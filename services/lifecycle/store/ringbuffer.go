// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

// ringBuffer is a fixed-size circular buffer.
//
// # Description
//
// Provides O(1) push and bounded memory usage. When full, the oldest
// item is overwritten. The memory store keeps the last N recovery
// history entries and terminal migration records per extension with it.
//
// # Thread Safety
//
// NOT safe for concurrent use; the owning store synchronizes.
type ringBuffer[T any] struct {
	data  []T
	head  int  // Next write position
	tail  int  // First element position
	count int  // Current number of elements
	cap   int  // Maximum capacity
	full  bool // Whether buffer has wrapped
}

// newRingBuffer creates a ring buffer with the given capacity.
func newRingBuffer[T any](capacity int) *ringBuffer[T] {
	if capacity <= 0 {
		capacity = 100 // Default
	}
	return &ringBuffer[T]{
		data: make([]T, capacity),
		cap:  capacity,
	}
}

// push adds an item, overwriting the oldest when full.
func (r *ringBuffer[T]) push(item T) {
	r.data[r.head] = item
	r.head = (r.head + 1) % r.cap

	if r.full {
		r.tail = (r.tail + 1) % r.cap
	} else {
		r.count++
		if r.count == r.cap {
			r.full = true
		}
	}
}

// len returns the current number of elements.
func (r *ringBuffer[T]) len() int {
	return r.count
}

// last returns the last n items (newest first). n <= 0 returns all.
func (r *ringBuffer[T]) last(n int) []T {
	if r.count == 0 {
		return nil
	}
	if n <= 0 || n > r.count {
		n = r.count
	}

	result := make([]T, n)
	for i := 0; i < n; i++ {
		idx := r.head - 1 - i
		if idx < 0 {
			idx += r.cap
		}
		result[i] = r.data[idx]
	}
	return result
}

// filterNewestFirst returns all items matching the predicate, newest
// first, stopping early when the predicate reports done.
func (r *ringBuffer[T]) filterNewestFirst(predicate func(item T) (keep, done bool)) []T {
	var result []T
	for i := 0; i < r.count; i++ {
		idx := r.head - 1 - i
		if idx < 0 {
			idx += r.cap
		}
		keep, done := predicate(r.data[idx])
		if keep {
			result = append(result, r.data[idx])
		}
		if done {
			break
		}
	}
	return result
}
