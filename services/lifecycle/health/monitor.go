// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package health periodically sweeps installed extensions and reports
// the ones that stay down across consecutive checks.
//
// The monitor only observes and reports; remediation belongs to the
// recovery engine, wired in by the orchestrator through the OnUnhealthy
// callback.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianExtensions/pkg/logging"
	"github.com/AleutianAI/AleutianExtensions/pkg/retry"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/catalog"
	"github.com/AleutianAI/AleutianExtensions/services/lifecycle/runtime"
)

// Defaults for Options zero values.
const (
	DefaultInterval    = 30 * time.Second
	DefaultThreshold   = 3
	DefaultConcurrency = 4
	DefaultSuppression = 2 * time.Minute
)

// Options configures a Monitor. Catalog and Runtime are required.
type Options struct {
	Catalog catalog.CatalogRegistry
	Runtime runtime.ExtensionRuntime

	// Logger for monitor logs. Nil uses logging.Default().
	Logger *logging.Logger

	// TenantID scopes the installed-extension sweep. Default: "default".
	TenantID string

	// Interval between sweeps. Default: DefaultInterval.
	Interval time.Duration

	// Threshold is how many consecutive failed checks make an
	// extension unhealthy. Default: DefaultThreshold.
	Threshold int

	// Concurrency bounds parallel checks per sweep.
	// Default: DefaultConcurrency.
	Concurrency int

	// Suppression is how long after an unhealthy report the extension
	// is left alone, giving recovery room to settle.
	// Default: DefaultSuppression.
	Suppression time.Duration

	// Retry governs transient probe errors within one check.
	// Zero value uses retry.DefaultConfig with a 2-attempt budget.
	Retry retry.Config

	// OnUnhealthy is invoked once per threshold crossing, outside the
	// monitor's locks. Nil means report-to-log only.
	OnUnhealthy func(extensionName, reason string)

	// OnProbe is invoked after every individual probe with its outcome.
	// Observability hook; nil means no per-probe reporting.
	OnProbe func(extensionName string, healthy bool)
}

// Monitor is the periodic extension health sweeper.
//
// # Thread Safety
//
// Safe for concurrent use. Start may be called once; Stop is
// idempotent.
type Monitor struct {
	catalog     catalog.CatalogRegistry
	runtime     runtime.ExtensionRuntime
	logger      *logging.Logger
	tenantID    string
	interval    time.Duration
	threshold   int
	concurrency int
	suppression time.Duration
	retryCfg    retry.Config
	onUnhealthy func(extensionName, reason string)
	onProbe     func(extensionName string, healthy bool)

	mu            sync.Mutex
	failures      map[string]int
	suppressUntil map[string]time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMonitor creates a health monitor.
func NewMonitor(opts Options) (*Monitor, error) {
	if opts.Catalog == nil {
		return nil, fmt.Errorf("health: catalog is required")
	}
	if opts.Runtime == nil {
		return nil, fmt.Errorf("health: runtime is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.TenantID == "" {
		opts.TenantID = "default"
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Suppression <= 0 {
		opts.Suppression = DefaultSuppression
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
		opts.Retry.MaxAttempts = 2
		opts.Retry.InitialBackoff = 500 * time.Millisecond
	}
	if err := opts.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}

	return &Monitor{
		catalog:       opts.Catalog,
		runtime:       opts.Runtime,
		logger:        opts.Logger.With("component", "health"),
		tenantID:      opts.TenantID,
		interval:      opts.Interval,
		threshold:     opts.Threshold,
		concurrency:   opts.Concurrency,
		suppression:   opts.Suppression,
		retryCfg:      opts.Retry,
		onUnhealthy:   opts.OnUnhealthy,
		onProbe:       opts.OnProbe,
		failures:      make(map[string]int),
		suppressUntil: make(map[string]time.Time),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}, nil
}

// Start launches the sweep loop. It returns immediately; the loop runs
// until Stop is called or ctx is canceled.
func (m *Monitor) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop terminates the sweep loop and waits for the in-flight sweep to
// finish.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over the tenant's installed extensions. Exposed
// so the orchestrator (and tests) can force a check outside the timer.
func (m *Monitor) Sweep(ctx context.Context) {
	installations, err := m.catalog.ListInstalled(ctx, m.tenantID)
	if err != nil {
		m.logger.Warn("listing installed extensions failed", "error", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, inst := range installations {
		name := inst.ExtensionName
		g.Go(func() error {
			m.checkOne(gctx, name)
			return nil
		})
	}
	// Check failures are absorbed per extension, so Wait cannot fail.
	_ = g.Wait()
}

// checkOne probes a single extension and updates its consecutive
// failure count.
func (m *Monitor) checkOne(ctx context.Context, name string) {
	info, err := m.runtime.GetInfo(ctx, name)
	if err == nil && info.Disabled {
		m.resetFailures(name)
		return
	}

	var running bool
	_, probeErr := retry.Do(ctx, m.retryCfg, func(ctx context.Context, attempt int) error {
		var err error
		running, err = m.runtime.IsRunning(ctx, name)
		return err
	})

	healthy := probeErr == nil && running
	if m.onProbe != nil {
		m.onProbe(name, healthy)
	}

	if probeErr != nil {
		m.recordFailure(name, fmt.Sprintf("health probe failed: %v", probeErr))
		return
	}
	if !running {
		m.recordFailure(name, "extension is not running")
		return
	}
	m.resetFailures(name)
}

// recordFailure bumps the consecutive counter and, at the threshold,
// reports the extension unhealthy once and enters suppression.
func (m *Monitor) recordFailure(name, reason string) {
	m.mu.Lock()
	now := time.Now()
	if until, ok := m.suppressUntil[name]; ok && now.Before(until) {
		m.mu.Unlock()
		return
	}

	m.failures[name]++
	count := m.failures[name]
	report := count >= m.threshold
	if report {
		m.failures[name] = 0
		m.suppressUntil[name] = now.Add(m.suppression)
	}
	m.mu.Unlock()

	if !report {
		m.logger.Debug("health check failed",
			"extension", name, "consecutive", count, "reason", reason)
		return
	}

	m.logger.Warn("extension unhealthy", "extension", name, "reason", reason)
	if m.onUnhealthy != nil {
		m.onUnhealthy(name, reason)
	}
}

// resetFailures clears the extension's consecutive failure state.
func (m *Monitor) resetFailures(name string) {
	m.mu.Lock()
	delete(m.failures, name)
	delete(m.suppressUntil, name)
	m.mu.Unlock()
}

// FailureCount returns the extension's current consecutive failure
// count. Test and introspection hook.
func (m *Monitor) FailureCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[name]
}
