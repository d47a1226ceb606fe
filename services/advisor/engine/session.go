// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// Session State
// =============================================================================

// DefaultSessionTTL is the idle duration after which a session is
// considered expired and eligible for eviction by the hosting service.
const DefaultSessionTTL = 24 * time.Hour

// Session is the persistent state of one conversation. A session
// exclusively owns its slot map; nothing is shared across sessions.
//
// Thread Safety: Not safe for concurrent use. The orchestrator
// serializes turns per session id.
type Session struct {
	// ID is the caller-supplied opaque identifier.
	ID string `json:"id"`

	// CreatedAt survives Reset; LastActiveAt drives expiry.
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`

	// Turn is the 1-based count of processed turns.
	Turn int `json:"turn"`

	// Domain is the active domain, empty before the first routing.
	Domain string `json:"domain"`

	// QuestionCount counts follow-ups asked in the current domain run.
	QuestionCount int `json:"question_count"`

	// OriginalQuery is the first utterance; relevance scoring anchors
	// keyword overlap against it.
	OriginalQuery string `json:"original_query"`

	// TopicSet is the topic vocabulary derived from OriginalQuery.
	TopicSet []string `json:"topic_set"`

	// Slots is the context store: slot name to filled slot.
	Slots map[string]Slot `json:"slots"`

	// Answered records every slot that was ever filled. It survives
	// pruning so a pruned slot is never re-asked.
	Answered map[string]bool `json:"answered"`

	// History is the bounded conversation log for the answer generator.
	History []Message `json:"history"`
}

// NewSession returns an empty session for the given id.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:           id,
		CreatedAt:    now,
		LastActiveAt: now,
		Slots:        make(map[string]Slot),
		Answered:     make(map[string]bool),
	}
}

// IsExpired reports whether the session has been idle past ttl.
func (s *Session) IsExpired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return now.Sub(s.LastActiveAt) > ttl
}

// ClearContext discards conversational state but keeps the id and
// creation time, turning the session into a fresh conversation.
func (s *Session) ClearContext() {
	s.Turn = 0
	s.Domain = ""
	s.QuestionCount = 0
	s.OriginalQuery = ""
	s.TopicSet = nil
	s.Slots = make(map[string]Slot)
	s.Answered = make(map[string]bool)
	s.History = nil
}

// AppendMessage appends to the bounded history, dropping the oldest
// entries past MaxHistoryMessages.
func (s *Session) AppendMessage(m Message) {
	s.History = append(s.History, m)
	if len(s.History) > MaxHistoryMessages {
		s.History = s.History[len(s.History)-MaxHistoryMessages:]
	}
}

// SlotValues returns the plain name-to-value view of the slot map.
func (s *Session) SlotValues() map[string]SlotValue {
	out := make(map[string]SlotValue, len(s.Slots))
	for name, slot := range s.Slots {
		out[name] = slot.Value
	}
	return out
}

// RelevanceSnapshot returns the per-slot relevance view.
func (s *Session) RelevanceSnapshot() map[string]float64 {
	out := make(map[string]float64, len(s.Slots))
	for name, slot := range s.Slots {
		out[name] = slot.Relevance
	}
	return out
}

// clone deep-copies the session so store implementations can hand out
// aliasing-safe copies.
func (s *Session) clone() *Session {
	cp := *s
	cp.Slots = make(map[string]Slot, len(s.Slots))
	for k, v := range s.Slots {
		cp.Slots[k] = v
	}
	cp.Answered = make(map[string]bool, len(s.Answered))
	for k, v := range s.Answered {
		cp.Answered[k] = v
	}
	cp.TopicSet = append([]string(nil), s.TopicSet...)
	cp.History = append([]Message(nil), s.History...)
	return &cp
}

// =============================================================================
// Session Store
// =============================================================================

// ErrSessionNotFound is returned by SessionStore.Get for unknown ids.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists sessions between turns.
//
// Description:
//
//	The orchestrator is injected with a SessionStore so persistence can
//	be swapped (in-memory for tests and single-node, Badger for
//	restart-surviving deployments) without touching core logic.
//	Implementations must return copies or otherwise guarantee that a
//	returned *Session is not mutated behind the caller's back.
type SessionStore interface {
	// Get returns the session for id, or ErrSessionNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Put stores the session, overwriting any previous state.
	Put(ctx context.Context, session *Session) error

	// Delete removes the session. Deleting an unknown id is a no-op.
	Delete(ctx context.Context, id string) error

	// ListExpired returns ids of sessions idle past ttl. The core never
	// schedules eviction; the hosting service sweeps on its own cadence.
	ListExpired(ctx context.Context, ttl time.Duration) ([]string, error)

	// Close releases the store's resources.
	Close() error
}

// MemorySessionStore is the in-process SessionStore.
//
// Thread Safety: Safe for concurrent use.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemorySessionStore returns an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

// Get implements SessionStore.
func (m *MemorySessionStore) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("MemorySessionStore.Get: id must not be empty")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("MemorySessionStore.Get: %s: %w", id, ErrSessionNotFound)
	}
	return sess.clone(), nil
}

// Put implements SessionStore.
func (m *MemorySessionStore) Put(ctx context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("MemorySessionStore.Put: session with non-empty id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session.clone()
	return nil
}

// Delete implements SessionStore.
func (m *MemorySessionStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// ListExpired implements SessionStore.
func (m *MemorySessionStore) ListExpired(ctx context.Context, ttl time.Duration) ([]string, error) {
	now := time.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, sess := range m.sessions {
		if sess.IsExpired(now, ttl) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Close implements SessionStore.
func (m *MemorySessionStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session)
	return nil
}

// Len reports the number of stored sessions.
func (m *MemorySessionStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
