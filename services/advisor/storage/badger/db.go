// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps a BadgerDB instance behind a small transactional
// API so callers never touch the raw DB handle or its lifecycle from
// request paths.
package badger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// =============================================================================
// Config
// =============================================================================

// Config controls how the embedded BadgerDB is opened.
type Config struct {
	// Path is the on-disk directory. Required unless InMemory is set.
	Path string

	// InMemory keeps everything in RAM. For tests.
	InMemory bool

	// SyncWrites forces an fsync per write. Off by default; session
	// state tolerates losing the last instant on a crash.
	SyncWrites bool

	// GCInterval is how often the value-log garbage collector runs.
	GCInterval time.Duration

	// GCDiscardRatio is passed to RunValueLogGC.
	GCDiscardRatio float64

	// Logger receives open/GC diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the standard configuration. Path must still be
// set by the caller.
func DefaultConfig() Config {
	return Config{
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for a RAM-only DB, used by
// tests that need real Badger semantics without touching disk.
func InMemoryConfig() Config {
	cfg := DefaultConfig()
	cfg.InMemory = true
	return cfg
}

// =============================================================================
// DB
// =============================================================================

// DB is an opened BadgerDB with a background value-log GC loop.
//
// Thread Safety: Safe for concurrent use. Transactions are
// per-goroutine.
type DB struct {
	db     *dgbadger.DB
	logger *slog.Logger
	stopGC chan struct{}
	doneGC chan struct{}
}

// OpenDB opens (creating if needed) the BadgerDB at cfg.Path.
//
// Outputs:
//
//	*DB - The opened wrapper. Never nil on success.
//	error - Non-nil if the path is missing or Badger fails to open.
func OpenDB(cfg Config) (*DB, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, fmt.Errorf("OpenDB: path must not be empty")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = DefaultConfig().GCInterval
	}
	if cfg.GCDiscardRatio <= 0 {
		cfg.GCDiscardRatio = DefaultConfig().GCDiscardRatio
	}

	opts := dgbadger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)

	inner, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("OpenDB: opening badger at %s: %w", cfg.Path, err)
	}

	d := &DB{
		db:     inner,
		logger: logger,
		stopGC: make(chan struct{}),
		doneGC: make(chan struct{}),
	}
	go d.gcLoop(cfg.GCInterval, cfg.GCDiscardRatio)

	logger.Info("badger opened", slog.String("path", cfg.Path))
	return d, nil
}

// gcLoop periodically reclaims value-log space. ErrNoRewrite just means
// there was nothing worth collecting.
func (d *DB) gcLoop(interval time.Duration, discardRatio float64) {
	defer close(d.doneGC)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopGC:
			return
		case <-ticker.C:
			if err := d.db.RunValueLogGC(discardRatio); err != nil && err != dgbadger.ErrNoRewrite {
				d.logger.Warn("badger value log GC failed", slog.String("error", err.Error()))
			}
		}
	}
}

// WithTxn runs fn inside a read-write transaction.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// Close stops the GC loop and closes the underlying DB.
func (d *DB) Close() error {
	close(d.stopGC)
	<-d.doneGC
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("closing badger: %w", err)
	}
	return nil
}
