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
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianCare/services/advisor/config"
)

var engineTracer = otel.Tracer("aleutian.advisor.engine")

// =============================================================================
// Turn Orchestrator
// =============================================================================

// PruneIdleTurns is how many turns a slot must go without update before
// low relevance makes it prunable.
const PruneIdleTurns = 3

// Engine composes extraction, relevance scoring, routing, and follow-up
// decisions into the ProcessTurn boundary operation.
//
// Description:
//
//	Turns are serialized per session id; different sessions process in
//	parallel since they share nothing but read-only configuration. The
//	configuration bundle can be hot-swapped at runtime; a swap rebuilds
//	the extractor, scorer, and router atomically under the write lock.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	mu        sync.RWMutex
	bundle    *config.Bundle
	extractor *Extractor
	scorer    *Scorer
	router    *Router

	store  SessionStore
	ttl    time.Duration
	logger *slog.Logger

	locks sessionLocks
}

// NewEngine builds an Engine over a validated configuration bundle.
//
// Inputs:
//
//	bundle - Cross-validated configuration. Must not be nil.
//	store - Session persistence. Must not be nil.
//	ttl - Session idle expiry; 0 means DefaultSessionTTL.
//	logger - Structured logger; nil means slog.Default().
//
// Outputs:
//
//	*Engine - The orchestrator.
//	error - Non-nil when a required dependency is missing.
func NewEngine(bundle *config.Bundle, store SessionStore, ttl time.Duration, logger *slog.Logger) (*Engine, error) {
	if bundle == nil {
		return nil, fmt.Errorf("NewEngine: bundle must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("NewEngine: store must not be nil")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		store:  store,
		ttl:    ttl,
		logger: logger,
	}
	e.swapLocked(bundle)
	return e, nil
}

// SwapBundle replaces the configuration atomically. In-flight turns
// finish on the old bundle; subsequent turns see the new one.
func (e *Engine) SwapBundle(bundle *config.Bundle) {
	if bundle == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.swapLocked(bundle)
}

func (e *Engine) swapLocked(bundle *config.Bundle) {
	e.bundle = bundle
	e.extractor = NewExtractor(bundle.Patterns, e.logger)
	e.scorer = NewScorer(bundle.Patterns)
	e.router = NewRouter(bundle.Profiles, e.logger)
}

// components returns a consistent view of the swappable parts.
func (e *Engine) components() (*config.Bundle, *Extractor, *Scorer, *Router) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bundle, e.extractor, e.scorer, e.router
}

// ProcessTurn runs one utterance through the full pipeline.
//
// Description:
//
//	Extracts entities, merges them last-write-wins into the session's
//	slot map, recomputes relevance, prunes stale context, routes the
//	domain, and decides between a follow-up question and readiness to
//	answer. An unknown session id transparently creates a fresh
//	session; an expired one restarts in place. The call mutates and
//	persists the session before returning.
//
// Inputs:
//
//	ctx - Context for tracing and store calls. Must not be nil.
//	sessionID - Opaque session id. Must not be empty.
//	utterance - Raw user text. Must not be empty.
//
// Outputs:
//
//	*TurnResult - The turn's outcome. Never nil on success.
//	error - Non-nil on invalid input or store failure.
//
// Thread Safety: Serialized per session id; parallel across sessions.
func (e *Engine) ProcessTurn(ctx context.Context, sessionID, utterance string) (*TurnResult, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ProcessTurn: ctx must not be nil")
	}
	if sessionID == "" {
		return nil, fmt.Errorf("ProcessTurn: sessionID must not be empty")
	}
	if utterance == "" {
		return nil, fmt.Errorf("ProcessTurn: utterance must not be empty")
	}

	ctx, span := engineTracer.Start(ctx, "engine.Engine.ProcessTurn")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	unlock := e.locks.lock(sessionID)
	defer unlock()

	start := time.Now()
	bundle, extractor, scorer, router := e.components()

	sess, err := e.loadOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess.Turn++
	sess.LastActiveAt = now
	if sess.OriginalQuery == "" {
		sess.OriginalQuery = utterance
		sess.TopicSet = DeriveTopicSet(bundle.Patterns, utterance)
	}

	// Extract and merge, last-write-wins.
	known := make(map[string]bool, len(sess.Slots))
	for name := range sess.Slots {
		known[name] = true
	}
	extractions := extractor.Extract(ctx, utterance, known)

	newSlots := make(map[string]SlotValue, len(extractions))
	for _, ex := range extractions {
		prev, existed := sess.Slots[ex.Slot]
		slot := Slot{
			Value:           ex.Value,
			Confidence:      ex.Confidence,
			FirstSeenTurn:   sess.Turn,
			LastUpdatedTurn: sess.Turn,
			UpdatedAt:       now,
		}
		if existed {
			slot.FirstSeenTurn = prev.FirstSeenTurn
		}
		sess.Slots[ex.Slot] = slot
		sess.Answered[ex.Slot] = true
		newSlots[ex.Slot] = ex.Value
	}

	e.rescoreAndPrune(sess, utterance, scorer)

	// Route; a domain switch starts a new follow-up budget. A bare
	// answer to a follow-up question ("$500") matches no domain
	// keywords, so a fallback that would abandon a domain whose
	// required slot this turn just filled is overridden in favor of
	// staying put.
	decision := router.Route(ctx, utterance, sess.Domain)
	if decision.Reason == ReasonFallback && sess.Domain != "" && decision.Domain != sess.Domain {
		if prof := bundle.Profiles.Domain(sess.Domain); prof != nil && fillsRequiredSlot(prof, newSlots) {
			decision = RouteDecision{Domain: sess.Domain, Reason: ReasonContinuity}
		}
	}
	if decision.Domain != sess.Domain {
		sess.Domain = decision.Domain
		sess.QuestionCount = 0
	}

	profile := bundle.Profiles.Domain(sess.Domain)
	if profile == nil {
		// Hot-swap can drop a domain out from under a live session.
		profile = bundle.Profiles.Domain(bundle.Profiles.DefaultDomain)
		sess.Domain = profile.ID
		sess.QuestionCount = 0
	}

	action, target, missing := NextAction(profile, sess)

	result := &TurnResult{
		SessionID:       sessionID,
		Turn:            sess.Turn,
		Domain:          sess.Domain,
		RouteScore:      decision.Score,
		NewSlots:        newSlots,
		AllSlots:        sess.SlotValues(),
		MissingRequired: missing,
		Relevance:       sess.RelevanceSnapshot(),
		Action:          action,
	}

	sess.AppendMessage(Message{Role: RoleUser, Content: utterance, Turn: sess.Turn, Timestamp: now})
	if action == ActionAskFollowUp {
		sess.QuestionCount++
		result.FollowUpSlot = target
		result.Question = profile.Question(target)
		sess.AppendMessage(Message{Role: RoleAssistant, Content: result.Question, Turn: sess.Turn, Timestamp: now})
	}

	if err := e.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("ProcessTurn: persisting session %s: %w", sessionID, err)
	}

	recordTurn(sess.Domain, action, time.Since(start).Seconds())
	span.SetAttributes(
		attribute.String("domain", sess.Domain),
		attribute.String("action", string(action)),
		attribute.Int("new_slots", len(newSlots)),
	)
	e.logger.Info("turn processed",
		slog.String("session_id", sessionID),
		slog.Int("turn", sess.Turn),
		slog.String("domain", sess.Domain),
		slog.String("action", string(action)),
		slog.Int("new_slots", len(newSlots)),
		slog.String("followup_slot", result.FollowUpSlot),
	)

	return result, nil
}

// rescoreAndPrune recomputes every slot's relevance against the current
// utterance, then evicts slots that scored below the prune threshold
// and have gone unmentioned for PruneIdleTurns. The Answered set is
// untouched, so pruning never re-opens a question.
func (e *Engine) rescoreAndPrune(sess *Session, utterance string, scorer *Scorer) {
	gathered := gatheredText(sess.Slots)
	for name, slot := range sess.Slots {
		slot.Relevance = scorer.Score(name, ScoreInput{
			Utterance:     utterance,
			OriginalQuery: sess.OriginalQuery,
			TopicSet:      sess.TopicSet,
			Gathered:      gathered,
			Previous:      slot.Relevance,
		})
		sess.Slots[name] = slot
	}

	for name, slot := range sess.Slots {
		idle := sess.Turn - slot.LastUpdatedTurn
		if slot.Relevance < PruneThreshold && idle >= PruneIdleTurns {
			delete(sess.Slots, name)
			slotsPrunedTotal.Inc()
			e.logger.Debug("pruned stale slot",
				slog.String("session_id", sess.ID),
				slog.String("slot", name),
				slog.Float64("relevance", slot.Relevance),
				slog.Int("idle_turns", idle),
			)
		}
	}
}

// fillsRequiredSlot reports whether any newly extracted slot is one of
// the profile's required slots.
func fillsRequiredSlot(profile *config.DomainProfile, newSlots map[string]SlotValue) bool {
	for _, name := range profile.RequiredSlots {
		if _, ok := newSlots[name]; ok {
			return true
		}
	}
	return false
}

// loadOrCreate fetches the session, transparently creating a fresh one
// for unknown ids and restarting expired ones in place.
func (e *Engine) loadOrCreate(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := e.store.Get(ctx, sessionID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		sessionsCreatedTotal.Inc()
		return NewSession(sessionID, time.Now()), nil
	case err != nil:
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}

	if sess.IsExpired(time.Now(), e.ttl) {
		e.logger.Info("expired session restarted",
			slog.String("session_id", sessionID),
			slog.Time("last_active", sess.LastActiveAt),
		)
		sess.ClearContext()
	}
	return sess, nil
}

// ResetSession clears a session's context while keeping its identity.
// Resetting an unknown session is a no-op.
func (e *Engine) ResetSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("ResetSession: sessionID must not be empty")
	}
	ctx, span := engineTracer.Start(ctx, "engine.Engine.ResetSession")
	defer span.End()

	unlock := e.locks.lock(sessionID)
	defer unlock()

	sess, err := e.store.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ResetSession: loading %s: %w", sessionID, err)
	}

	sess.ClearContext()
	sess.LastActiveAt = time.Now()
	if err := e.store.Put(ctx, sess); err != nil {
		return fmt.Errorf("ResetSession: persisting %s: %w", sessionID, err)
	}
	return nil
}

// GetContext returns the session's current slot, domain, and relevance
// view. Unknown sessions return an empty snapshot.
func (e *Engine) GetContext(ctx context.Context, sessionID string) (*ContextSnapshot, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("GetContext: sessionID must not be empty")
	}
	sess, err := e.store.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return &ContextSnapshot{
			Slots:     map[string]Slot{},
			Relevance: map[string]float64{},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetContext: loading %s: %w", sessionID, err)
	}

	return &ContextSnapshot{
		Domain:    sess.Domain,
		Slots:     sess.Slots,
		Relevance: sess.RelevanceSnapshot(),
	}, nil
}

// IsSessionExpired reports whether the session has idled past maxAge.
// Unknown sessions report true.
func (e *Engine) IsSessionExpired(ctx context.Context, sessionID string, maxAge time.Duration) (bool, error) {
	sess, err := e.store.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("IsSessionExpired: loading %s: %w", sessionID, err)
	}
	if maxAge <= 0 {
		maxAge = e.ttl
	}
	return sess.IsExpired(time.Now(), maxAge), nil
}

// History returns the session's bounded conversation log for the
// answer generator. Unknown sessions return nil.
func (e *Engine) History(ctx context.Context, sessionID string) ([]Message, error) {
	sess, err := e.store.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("History: loading %s: %w", sessionID, err)
	}
	return sess.History, nil
}

// =============================================================================
// Per-Session Serialization
// =============================================================================

// sessionLocks hands out one mutex per live session id so turns for the
// same session never interleave.
type sessionLocks struct {
	mu sync.Mutex
	m  map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func (l *sessionLocks) lock(id string) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*sessionLock)
	}
	sl, ok := l.m[id]
	if !ok {
		sl = &sessionLock{}
		l.m[id] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}
