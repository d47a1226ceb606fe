// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session provides the Badger-backed SessionStore for
// deployments whose conversations must survive a restart.
package session

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianCare/services/advisor/engine"
	badgerstore "github.com/AleutianAI/AleutianCare/services/advisor/storage/badger"
)

// sessionKeyPrefix namespaces session records within the DB. Versioned
// (v1) to allow future format changes without collision.
const sessionKeyPrefix = "advisor/session/v1/"

// ttlSlack keeps a record readable slightly past its logical expiry so
// ListExpired can still observe it; Badger's native TTL does the final
// reclamation.
const ttlSlack = time.Hour

// =============================================================================
// BadgerSessionStore
// =============================================================================

// BadgerSessionStore implements engine.SessionStore on BadgerDB.
//
// # Description
//
// Sessions are gob-encoded under advisor/session/v1/{id}. Every Put
// rewrites the record with a fresh TTL of ttl+slack, so an idle session
// disappears from the DB shortly after it logically expires even if no
// sweeper runs. The store does not own the DB; the caller opens it at
// startup and closes it on shutdown.
//
// Sessions are process-owned: one process writes a given session id at
// a time (the engine serializes turns per id). Sharing the DB directory
// between processes is not supported.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerSessionStore struct {
	db     *badgerstore.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewBadgerSessionStore creates a store backed by the given DB.
//
// # Inputs
//
//   - db: Opened BadgerDB wrapper. Must not be nil.
//   - ttl: Session idle lifetime. Pass 0 for engine.DefaultSessionTTL.
//   - logger: Diagnostics logger. May be nil.
func NewBadgerSessionStore(db *badgerstore.DB, ttl time.Duration, logger *slog.Logger) (*BadgerSessionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("NewBadgerSessionStore: db must not be nil")
	}
	if ttl <= 0 {
		ttl = engine.DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerSessionStore{db: db, ttl: ttl, logger: logger}, nil
}

// Get implements engine.SessionStore.
func (s *BadgerSessionStore) Get(ctx context.Context, id string) (*engine.Session, error) {
	if id == "" {
		return nil, fmt.Errorf("BadgerSessionStore.Get: id must not be empty")
	}

	var raw []byte
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return engine.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("get session key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		return nil
	})
	if errors.Is(err, engine.ErrSessionNotFound) {
		return nil, fmt.Errorf("BadgerSessionStore.Get: %s: %w", id, engine.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("BadgerSessionStore.Get: %w", err)
	}

	sess, err := decodeSession(raw)
	if err != nil {
		return nil, fmt.Errorf("BadgerSessionStore.Get: %w", err)
	}
	return sess, nil
}

// Put implements engine.SessionStore.
func (s *BadgerSessionStore) Put(ctx context.Context, sess *engine.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("BadgerSessionStore.Put: session with non-empty id required")
	}

	raw, err := encodeSession(sess)
	if err != nil {
		return fmt.Errorf("BadgerSessionStore.Put: %w", err)
	}

	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(sessionKey(sess.ID), raw).WithTTL(s.ttl + ttlSlack)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("BadgerSessionStore.Put: %s: %w", sess.ID, err)
	}
	return nil
}

// Delete implements engine.SessionStore.
func (s *BadgerSessionStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Delete(sessionKey(id))
	})
	if err != nil {
		return fmt.Errorf("BadgerSessionStore.Delete: %s: %w", id, err)
	}
	return nil
}

// ListExpired implements engine.SessionStore.
//
// # Description
//
// Scans the session prefix and decodes each record's LastActiveAt.
// Records Badger already reclaimed via native TTL simply do not appear.
// The scan is O(sessions); the sweeper runs on a coarse interval, so
// this is acceptable for single-node session counts.
func (s *BadgerSessionStore) ListExpired(ctx context.Context, ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := time.Now()

	var ids []string
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("copy value: %w", err)
			}
			sess, err := decodeSession(raw)
			if err != nil {
				// A corrupt record is unreadable forever; surface it
				// for eviction rather than skipping it every sweep.
				ids = append(ids, strings.TrimPrefix(string(item.Key()), sessionKeyPrefix))
				s.logger.Warn("undecodable session record queued for eviction",
					slog.String("key", string(item.Key())),
					slog.String("error", err.Error()),
				)
				continue
			}
			if sess.IsExpired(now, ttl) {
				ids = append(ids, sess.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("BadgerSessionStore.ListExpired: %w", err)
	}
	return ids, nil
}

// Close implements engine.SessionStore. The DB is owned by the caller,
// so Close here is a no-op.
func (s *BadgerSessionStore) Close() error {
	return nil
}

// =============================================================================
// Encoding
// =============================================================================

func sessionKey(id string) []byte {
	return []byte(sessionKeyPrefix + id)
}

func encodeSession(sess *engine.Session) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(sess); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeSession(raw []byte) (*engine.Session, error) {
	var sess engine.Session
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&sess); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	return &sess, nil
}
