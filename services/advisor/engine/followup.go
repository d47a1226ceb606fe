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
	"github.com/AleutianAI/AleutianCare/services/advisor/config"
)

// =============================================================================
// Follow-up Decision Engine
// =============================================================================

// SlotSubjectAge short-circuits the required-slot scan: when missing it
// is always asked first, whatever the profile's declared order.
const SlotSubjectAge = "subject_age"

// NextAction decides between asking a follow-up and answering.
//
// Description:
//
//	Walks the domain's required slots in declared order and targets the
//	first one missing. A missing subject_age jumps the queue. Once the
//	domain's follow-up budget is spent the decision is always ready,
//	even with slots still missing: a best-effort answer beats endless
//	questioning. A slot that was answered earlier and later pruned
//	counts as answered; pruning is context hygiene, not forgetting.
//
// Inputs:
//
//	profile - The active domain's profile.
//	session - The session after this turn's extraction merge.
//
// Outputs:
//
//	Action - ask_followup or ready.
//	string - The slot to ask about. Empty when ready.
//	[]string - All unmet required slots in ask order.
func NextAction(profile *config.DomainProfile, session *Session) (Action, string, []string) {
	missing := missingRequired(profile, session)
	if len(missing) == 0 {
		return ActionReady, "", nil
	}
	if session.QuestionCount >= profile.MaxFollowUps {
		return ActionReady, "", missing
	}
	return ActionAskFollowUp, missing[0], missing
}

// missingRequired returns the profile's unmet required slots in ask
// order, with subject_age hoisted to the front when missing.
func missingRequired(profile *config.DomainProfile, session *Session) []string {
	var missing []string
	ageMissing := false
	for _, name := range profile.RequiredSlots {
		if slotFilled(session, name) {
			continue
		}
		if name == SlotSubjectAge {
			ageMissing = true
			continue
		}
		missing = append(missing, name)
	}
	if ageMissing {
		missing = append([]string{SlotSubjectAge}, missing...)
	}
	return missing
}

// slotFilled reports whether a slot needs no follow-up: currently held
// with a non-empty value, or answered before and since pruned.
func slotFilled(session *Session, name string) bool {
	if slot, ok := session.Slots[name]; ok && !slot.Value.IsZero() {
		return true
	}
	return session.Answered[name]
}
