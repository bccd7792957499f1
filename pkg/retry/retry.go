// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry provides bounded retries with exponential backoff and
// jitter for transient failures around external collaborators (runtime
// restarts, backup restores, health probes).
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrInvalidConfig indicates a Config that cannot drive a retry loop.
var ErrInvalidConfig = errors.New("retry: invalid configuration")

// Config configures retry behavior with exponential backoff.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	// Default: 1s
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between retries.
	// Default: 30s
	MaxBackoff time.Duration

	// BackoffFactor is the exponential multiplier.
	// Default: 2.0
	BackoffFactor float64

	// JitterFactor is the maximum jitter as a fraction of backoff (0-1).
	// Randomness prevents synchronized retry storms when many extensions
	// recover at once. Default: 0.2
	JitterFactor float64

	// Retryable decides whether an error is worth another attempt.
	// Default: everything except context cancellation/expiry.
	Retryable func(error) bool
}

// DefaultConfig returns sensible defaults for collaborator calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
	}
}

// Validate checks that the configuration can drive a retry loop.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return ErrInvalidConfig
	}
	if c.InitialBackoff <= 0 {
		return ErrInvalidConfig
	}
	if c.MaxBackoff < c.InitialBackoff {
		return ErrInvalidConfig
	}
	if c.BackoffFactor < 1.0 {
		return ErrInvalidConfig
	}
	return nil
}

// Result contains the outcome of a retry operation.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int

	// TotalDuration is the total time spent including waits.
	TotalDuration time.Duration

	// LastError is the error from the last attempt (nil on success).
	LastError error
}

// Func is a function that can be retried. Return nil on success.
type Func func(ctx context.Context, attempt int) error

// Do executes fn with exponential backoff until it succeeds, the attempt
// budget is spent, the error is classified non-retryable, or ctx ends.
//
// Example:
//
//	result, err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context, attempt int) error {
//	    return runtime.Restart(ctx, name)
//	})
func Do(ctx context.Context, config Config, fn Func) (Result, error) {
	start := time.Now()
	result := Result{}

	retryable := config.Retryable
	if retryable == nil {
		retryable = defaultRetryable
	}

	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.LastError = err
			result.TotalDuration = time.Since(start)
			return result, err
		}

		err := fn(ctx, attempt)
		if err == nil {
			result.TotalDuration = time.Since(start)
			return result, nil
		}

		result.LastError = err

		if !retryable(err) {
			result.TotalDuration = time.Since(start)
			return result, err
		}

		// No wait after the final attempt.
		if attempt == config.MaxAttempts {
			break
		}

		waitTime := jittered(backoff, config.JitterFactor)

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result, ctx.Err()
		case <-time.After(waitTime):
		}

		backoff = next(backoff, config.BackoffFactor, config.MaxBackoff)
	}

	result.TotalDuration = time.Since(start)
	return result, result.LastError
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the
// latter case. Used for settle delays between remediation and verification.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// defaultRetryable retries everything except context termination.
func defaultRetryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// jittered spreads base over [base*(1-jitter), base*(1+jitter)].
func jittered(base time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return base
	}
	jitter := (rand.Float64()*2 - 1) * jitterFactor
	return time.Duration(float64(base) * (1.0 + jitter))
}

// next grows the backoff by factor, capped at max.
func next(current time.Duration, factor float64, max time.Duration) time.Duration {
	n := time.Duration(float64(current) * factor)
	if n > max {
		return max
	}
	return n
}
