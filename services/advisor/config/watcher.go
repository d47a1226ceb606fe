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
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of write events editors emit when
// saving a file.
const watchDebounce = 250 * time.Millisecond

// WatchBundle reloads the bundle whenever either YAML file changes on disk.
//
// Description:
//
//	Watches the pattern and profile files with fsnotify and calls onSwap
//	with a freshly loaded, cross-validated Bundle after each change. A
//	reload that fails validation is logged and dropped; the previous
//	bundle stays live. Blocks until ctx is cancelled.
//
// Inputs:
//
//	ctx - Cancels the watch. Must not be nil.
//	patternsPath - Pattern library file. May be empty (embedded default, not watched).
//	profilesPath - Domain catalogue file. May be empty (embedded default, not watched).
//	onSwap - Receives each successfully reloaded bundle. Must not be nil.
//
// Outputs:
//
//	error - Non-nil if the watcher cannot be established. ctx
//	cancellation returns nil.
func WatchBundle(ctx context.Context, patternsPath, profilesPath string, onSwap func(*Bundle)) error {
	if ctx == nil {
		return fmt.Errorf("WatchBundle: ctx must not be nil")
	}
	if onSwap == nil {
		return fmt.Errorf("WatchBundle: onSwap must not be nil")
	}
	if patternsPath == "" && profilesPath == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("WatchBundle: creating watcher: %w", err)
	}
	defer watcher.Close()

	for _, p := range []string{patternsPath, profilesPath} {
		if p == "" {
			continue
		}
		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("WatchBundle: watching %s: %w", p, err)
		}
	}

	var debounce *time.Timer

	reload := func() {
		bundle, err := LoadBundleFromFiles(patternsPath, profilesPath)
		if err != nil {
			slog.Error("config reload rejected, keeping previous bundle",
				slog.String("error", err.Error()),
			)
			return
		}
		slog.Info("configuration hot-swapped",
			slog.Int("slots", len(bundle.Patterns.Slots)),
			slog.Int("domains", len(bundle.Profiles.Domains)),
		)
		onSwap(bundle)
	}

	pending := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})

		case <-pending:
			reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}
