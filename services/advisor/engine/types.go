// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine implements the slot-filling conversation core: entity
// extraction, relevance scoring, domain routing, and follow-up
// decisions, composed by a turn orchestrator. The engine performs no
// I/O of its own; answer generation and transport live in the layers
// above it.
package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianCare/services/advisor/config"
)

// =============================================================================
// Slot Values
// =============================================================================

// SlotValue is one typed piece of information extracted from the user.
// Exactly one value family is populated, selected by Kind.
type SlotValue struct {
	// Kind mirrors the slot's declared kind in the pattern library.
	Kind config.SlotKind `json:"kind"`

	// Number plus Unit for number slots (age in months, hours of sleep).
	Number float64 `json:"number,omitempty"`
	Unit   string  `json:"unit,omitempty"`

	// Number plus Currency for currency slots.
	Currency string `json:"currency,omitempty"`

	// Text for category and free-text slots.
	Text string `json:"text,omitempty"`
}

// IsZero reports whether the value carries no information. Zero values
// count as missing for follow-up purposes.
func (v SlotValue) IsZero() bool {
	switch v.Kind {
	case config.SlotKindNumber, config.SlotKindCurrency:
		return false
	case config.SlotKindCategory, config.SlotKindText:
		return strings.TrimSpace(v.Text) == ""
	default:
		return true
	}
}

// Equal reports whether two values agree. Used by idempotence checks;
// a disagreeing re-extraction overwrites (last-write-wins).
func (v SlotValue) Equal(o SlotValue) bool {
	return v.Kind == o.Kind && v.Number == o.Number &&
		v.Unit == o.Unit && v.Currency == o.Currency && v.Text == o.Text
}

// String renders the value for context concatenation and logging.
func (v SlotValue) String() string {
	switch v.Kind {
	case config.SlotKindNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64) + " " + v.Unit
	case config.SlotKindCurrency:
		return strconv.FormatFloat(v.Number, 'f', -1, 64) + " " + v.Currency
	default:
		return v.Text
	}
}

// Slot is one filled slot in a session's context store.
type Slot struct {
	// Value is the extracted, normalized value.
	Value SlotValue `json:"value"`

	// Confidence is the weight of the extraction rule that matched.
	Confidence float64 `json:"confidence"`

	// Relevance is recomputed every turn; below the pruning threshold
	// after an idle stretch the slot becomes evictable.
	Relevance float64 `json:"relevance"`

	// FirstSeenTurn and LastUpdatedTurn are 1-based turn indices.
	FirstSeenTurn   int `json:"first_seen_turn"`
	LastUpdatedTurn int `json:"last_updated_turn"`

	// UpdatedAt is the wall-clock time of the last write.
	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// Turn Results
// =============================================================================

// Action is the orchestrator's decision for a turn.
type Action string

const (
	// ActionAskFollowUp means a required slot is still missing and the
	// caller should ask the question in TurnResult.Question.
	ActionAskFollowUp Action = "ask_followup"

	// ActionReady means the domain's requirements are satisfied (or the
	// follow-up budget is exhausted) and an answer should be generated.
	ActionReady Action = "ready"
)

// TurnResult is the outcome of processing one utterance.
type TurnResult struct {
	// SessionID identifies the session the turn ran against.
	SessionID string `json:"session_id"`

	// Turn is the 1-based index of this turn within the session.
	Turn int `json:"turn"`

	// Domain is the active domain after routing.
	Domain string `json:"domain"`

	// RouteScore is the routing confidence for Domain.
	RouteScore float64 `json:"route_score"`

	// NewSlots holds the values extracted from this utterance.
	NewSlots map[string]SlotValue `json:"new_slots"`

	// AllSlots is the full slot snapshot after merging.
	AllSlots map[string]SlotValue `json:"all_slots"`

	// MissingRequired lists the domain's unmet required slots in ask order.
	MissingRequired []string `json:"missing_required"`

	// Relevance is the per-slot relevance snapshot after recomputation.
	Relevance map[string]float64 `json:"relevance"`

	// Action is ask_followup or ready.
	Action Action `json:"action"`

	// FollowUpSlot is the slot being asked about. Empty when ready.
	FollowUpSlot string `json:"followup_slot,omitempty"`

	// Question is the natural-language prompt for FollowUpSlot.
	Question string `json:"question,omitempty"`
}

// =============================================================================
// Conversation History
// =============================================================================

// Message roles in the conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MaxHistoryMessages bounds the per-session history handed to the
// answer generator.
const MaxHistoryMessages = 10

// Message is one entry in a session's bounded conversation history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Turn      int       `json:"turn"`
	Timestamp time.Time `json:"timestamp"`
}

// ContextSnapshot is the read-only view returned by GetContext.
type ContextSnapshot struct {
	// Domain is the active domain, empty when none has been routed.
	Domain string `json:"domain"`

	// Slots is a copy of the session's slot map.
	Slots map[string]Slot `json:"slots"`

	// Relevance is the per-slot relevance snapshot.
	Relevance map[string]float64 `json:"relevance"`
}

// gatheredText concatenates current slot values for context-overlap
// scoring.
func gatheredText(slots map[string]Slot) string {
	if len(slots) == 0 {
		return ""
	}
	var b strings.Builder
	for name, s := range slots {
		fmt.Fprintf(&b, "%s %s ", name, s.Value.String())
	}
	return b.String()
}
