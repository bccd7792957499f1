// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianExtensions/pkg/logging"
)

// debounceWindow coalesces the burst of fsnotify events one editor
// save produces into a single reload.
const debounceWindow = 200 * time.Millisecond

// Watcher hot-reloads a configuration file.
//
// # Description
//
// Watches the file's parent directory rather than the file itself, so
// write-then-rename saves (editors, configmap updates) keep working:
// the renamed-in file re-appears under the watched directory and still
// produces an event. A reload that fails to parse or validate keeps
// the previous configuration and logs the error.
//
// # Thread Safety
//
// Safe for concurrent use. Current may be called from any goroutine.
type Watcher struct {
	path     string
	logger   *logging.Logger
	onChange func(Config)

	fsw *fsnotify.Watcher

	mu      sync.RWMutex
	current Config

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewWatcher loads path once and begins watching it for changes.
// onChange fires after every successful reload with the new Config;
// it may be nil when only Current polling is wanted.
func NewWatcher(path string, logger *logging.Logger, onChange func(Config)) (*Watcher, error) {
	if logger == nil {
		logger = logging.Default()
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:     path,
		logger:   logger.With("component", "config"),
		onChange: onChange,
		fsw:      fsw,
		current:  cfg,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops watching. Idempotent.
func (w *Watcher) Close() error {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
	return w.fsw.Close()
}

func (w *Watcher) run() {
	defer close(w.done)

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceWindow)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(debounceWindow)
			}
			debounceC = debounce.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)

		case <-debounceC:
			debounceC = nil
			w.reload()
		}
	}
}

// reload re-reads the file; failures keep the previous configuration.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous", "error", err)
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	w.logger.Info("configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
