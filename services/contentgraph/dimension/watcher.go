// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dimension

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/contentgraph/pkg/logging"
)

// DefaultDebounce is how long the watcher waits for further writes before
// reloading.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reloads a dimension configuration file into a Registry whenever
// it changes on disk.
//
// Description:
//
//	The parent directory is watched rather than the file itself so that
//	editors replacing the file by rename keep triggering reloads. Bursts of
//	events are debounced into one reload. A reload that fails to parse or
//	validate is logged and the current snapshot stays in place.
//
// Thread Safety: Safe for concurrent use. Reloads run on one goroutine.
type Watcher struct {
	path     string
	registry *Registry
	debounce time.Duration
	logger   *slog.Logger
	watcher  *fsnotify.Watcher

	// onReload, when set, is called after every reload attempt.
	onReload func(*Snapshot, error)

	started  atomic.Bool
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// WatcherOption customises a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithReloadHook registers fn to observe reload outcomes.
func WithReloadHook(fn func(*Snapshot, error)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// NewWatcher prepares a watcher for path. Call Start to begin watching.
func NewWatcher(path string, registry *Registry, logger *slog.Logger, opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		path:     abs,
		registry: registry,
		debounce: DefaultDebounce,
		logger:   logging.Component(logger, "dimension.watcher").With(slog.String("path", abs)),
		watcher:  fw,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. The loop exits on Stop or when ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.started.Store(true)
	go w.loop(ctx)
	w.logger.Info("watching dimension configuration")
	return nil
}

// Stop ends watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
	if w.started.Load() {
		<-w.stopped
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.stopped)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer, timerC = nil, nil
			w.reload(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	dims, err := LoadFile(w.path)
	var snap *Snapshot
	if err == nil {
		snap, err = w.registry.Configure(ctx, dims)
	}
	recordReload(ctx, err == nil)

	if err != nil {
		w.logger.Warn("dimension reload failed, keeping current configuration",
			slog.String("error", err.Error()))
	} else {
		w.logger.Info("dimension configuration reloaded",
			slog.String("config_hash", snap.Hash()))
	}

	if w.onReload != nil {
		w.onReload(snap, err)
	}
}
