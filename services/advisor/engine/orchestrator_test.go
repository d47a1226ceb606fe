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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianCare/services/advisor/config"
)

func makeTestEngine(t *testing.T) (*Engine, *MemorySessionStore) {
	t.Helper()
	store := NewMemorySessionStore()
	eng, err := NewEngine(makeTestBundle(t), store, 0, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return eng, store
}

func TestProcessTurnStrollerScenario(t *testing.T) {
	eng, _ := makeTestEngine(t)
	ctx := context.Background()

	r1, err := eng.ProcessTurn(ctx, "s1", "I have a 6 month old, what stroller should I buy?")
	if err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}
	if r1.Domain != "baby_gear" {
		t.Errorf("turn 1 domain = %s, want baby_gear", r1.Domain)
	}
	age, ok := r1.AllSlots["subject_age"]
	if !ok || age.Number != 6 || age.Unit != "months" {
		t.Errorf("turn 1 subject_age = %+v, want 6 months", age)
	}
	if r1.Action != ActionAskFollowUp || r1.FollowUpSlot != "budget" {
		t.Errorf("turn 1 action = %s/%s, want ask_followup/budget", r1.Action, r1.FollowUpSlot)
	}
	if r1.Question == "" {
		t.Error("turn 1 should carry the budget question text")
	}

	r2, err := eng.ProcessTurn(ctx, "s1", "$500")
	if err != nil {
		t.Fatalf("turn 2 failed: %v", err)
	}
	if r2.Domain != "baby_gear" {
		t.Errorf("turn 2 domain = %s, want baby_gear (answer continuity)", r2.Domain)
	}
	budget, ok := r2.AllSlots["budget"]
	if !ok || budget.Number != 500 || budget.Currency != "USD" {
		t.Errorf("turn 2 budget = %+v, want 500 USD", budget)
	}
	if r2.Action != ActionReady {
		t.Errorf("turn 2 action = %s, want ready with all required slots filled", r2.Action)
	}
	if len(r2.MissingRequired) != 0 {
		t.Errorf("turn 2 missing = %v, want none", r2.MissingRequired)
	}
}

func TestProcessTurnFeverScenario(t *testing.T) {
	eng, _ := makeTestEngine(t)

	r, err := eng.ProcessTurn(context.Background(), "s2", "my baby has a fever of 39 and is 2 months old")
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if r.Domain != "health" {
		t.Errorf("domain = %s, want health", r.Domain)
	}
	age := r.AllSlots["subject_age"]
	if age.Number != 2 || age.Unit != "months" {
		t.Errorf("subject_age = %+v, want 2 months extracted regardless of domain", age)
	}
	temp := r.AllSlots["temperature"]
	if temp.Number != 39 {
		t.Errorf("temperature = %+v, want 39", temp)
	}
	if r.AllSlots["symptom"].Text != "fever" {
		t.Errorf("symptom = %+v, want fever", r.AllSlots["symptom"])
	}
	if r.Action != ActionAskFollowUp || r.FollowUpSlot != "symptom_duration" {
		t.Errorf("action = %s/%s, want ask_followup/symptom_duration", r.Action, r.FollowUpSlot)
	}
}

func TestProcessTurnIdempotentReExtraction(t *testing.T) {
	eng, _ := makeTestEngine(t)
	ctx := context.Background()
	utterance := "I have a 6 month old, what stroller should I buy?"

	r1, err := eng.ProcessTurn(ctx, "s3", utterance)
	if err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}
	r2, err := eng.ProcessTurn(ctx, "s3", utterance)
	if err != nil {
		t.Fatalf("turn 2 failed: %v", err)
	}
	if !r2.AllSlots["subject_age"].Equal(r1.AllSlots["subject_age"]) {
		t.Errorf("same utterance changed subject_age: %+v vs %+v",
			r2.AllSlots["subject_age"], r1.AllSlots["subject_age"])
	}
}

func TestProcessTurnLastWriteWins(t *testing.T) {
	eng, _ := makeTestEngine(t)
	ctx := context.Background()

	if _, err := eng.ProcessTurn(ctx, "s4", "she is a 6 month old"); err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}
	r, err := eng.ProcessTurn(ctx, "s4", "sorry, she is actually 7 months old")
	if err != nil {
		t.Fatalf("turn 2 failed: %v", err)
	}
	age := r.AllSlots["subject_age"]
	if age.Number != 7 {
		t.Errorf("subject_age = %g, want 7 after disagreeing re-extraction", age.Number)
	}
}

func TestProcessTurnFollowUpBound(t *testing.T) {
	eng, _ := makeTestEngine(t)
	ctx := context.Background()

	// "sick" routes to health every turn but fills no slot, so the
	// engine keeps asking until the follow-up budget runs out.
	max := config.DefaultMaxFollowUps
	for i := 0; i < max; i++ {
		r, err := eng.ProcessTurn(ctx, "s5", "he is still sick")
		if err != nil {
			t.Fatalf("turn %d failed: %v", i+1, err)
		}
		if r.Action != ActionAskFollowUp {
			t.Fatalf("turn %d action = %s, want ask_followup within budget", i+1, r.Action)
		}
	}

	r, err := eng.ProcessTurn(ctx, "s5", "he is still sick")
	if err != nil {
		t.Fatalf("final turn failed: %v", err)
	}
	if r.Action != ActionReady {
		t.Errorf("action = %s, want ready once %d follow-ups were asked", r.Action, max)
	}
	if len(r.MissingRequired) == 0 {
		t.Error("missing slots should still be reported on the forced answer")
	}
}

func TestProcessTurnDomainSwitchKeepsSlots(t *testing.T) {
	eng, _ := makeTestEngine(t)
	ctx := context.Background()

	if _, err := eng.ProcessTurn(ctx, "s6", "my 6 month old needs a stroller"); err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}
	r, err := eng.ProcessTurn(ctx, "s6", "also she wakes up crying every night")
	if err != nil {
		t.Fatalf("turn 2 failed: %v", err)
	}
	if r.Domain != "sleep" {
		t.Errorf("domain = %s, want sleep after topic switch", r.Domain)
	}
	if age := r.AllSlots["subject_age"]; age.Number != 6 {
		t.Errorf("subject_age lost across domain switch: %+v", age)
	}
}

func TestResetSessionClearsContext(t *testing.T) {
	eng, _ := makeTestEngine(t)
	ctx := context.Background()

	if _, err := eng.ProcessTurn(ctx, "s7", "I have a 6 month old, what stroller should I buy?"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if err := eng.ResetSession(ctx, "s7"); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	snap, err := eng.GetContext(ctx, "s7")
	if err != nil {
		t.Fatalf("GetContext failed: %v", err)
	}
	if len(snap.Slots) != 0 {
		t.Errorf("slots after reset = %v, want empty", snap.Slots)
	}
	if snap.Domain != "" {
		t.Errorf("domain after reset = %q, want empty", snap.Domain)
	}
}

func TestResetUnknownSessionIsNoOp(t *testing.T) {
	eng, _ := makeTestEngine(t)
	if err := eng.ResetSession(context.Background(), "never-seen"); err != nil {
		t.Errorf("resetting unknown session should be a no-op: %v", err)
	}
}

func TestGetContextUnknownSessionIsEmpty(t *testing.T) {
	eng, _ := makeTestEngine(t)
	snap, err := eng.GetContext(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("GetContext failed: %v", err)
	}
	if len(snap.Slots) != 0 || snap.Domain != "" {
		t.Errorf("unknown session should yield empty snapshot, got %+v", snap)
	}
}

func TestExpiredSessionRestartsTransparently(t *testing.T) {
	store := NewMemorySessionStore()
	eng, err := NewEngine(makeTestBundle(t), store, time.Hour, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	ctx := context.Background()

	if _, err := eng.ProcessTurn(ctx, "s8", "my 6 month old needs a stroller"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	// Age the session past its TTL behind the engine's back.
	sess, err := store.Get(ctx, "s8")
	if err != nil {
		t.Fatalf("store get failed: %v", err)
	}
	sess.LastActiveAt = time.Now().Add(-2 * time.Hour)
	if err := store.Put(ctx, sess); err != nil {
		t.Fatalf("store put failed: %v", err)
	}

	expired, err := eng.IsSessionExpired(ctx, "s8", time.Hour)
	if err != nil || !expired {
		t.Errorf("IsSessionExpired = %v/%v, want true", expired, err)
	}

	r, err := eng.ProcessTurn(ctx, "s8", "hello again")
	if err != nil {
		t.Fatalf("post-expiry turn failed: %v", err)
	}
	if r.Turn != 1 {
		t.Errorf("turn index = %d, want 1 for a restarted session", r.Turn)
	}
	if _, ok := r.AllSlots["subject_age"]; ok {
		t.Error("expired session should restart with empty context")
	}
}

func TestIsSessionExpiredUnknownSession(t *testing.T) {
	eng, _ := makeTestEngine(t)
	expired, err := eng.IsSessionExpired(context.Background(), "never-seen", time.Hour)
	if err != nil {
		t.Fatalf("IsSessionExpired failed: %v", err)
	}
	if !expired {
		t.Error("unknown session should report expired")
	}
}

func TestProcessTurnPrunesStaleSlotWithoutReAsking(t *testing.T) {
	// A dedicated tiny bundle: "color" has no indicators so its
	// relevance only decays once the conversation moves on, and the
	// paint domain requires it.
	bundle, err := config.LoadBundle([]byte(`
slots:
  - name: color
    kind: text
    patterns:
      - regex: 'favorite color is (\w+)'
        weight: 0.9
`), []byte(`
default_domain: general
domains:
  - id: paint
    priority: 1
    required_slots: [color]
    primary_keywords: [paint]
    questions:
      color: "Which color?"
  - id: general
    priority: 99
`))
	if err != nil {
		t.Fatalf("bundle load failed: %v", err)
	}

	store := NewMemorySessionStore()
	eng, err := NewEngine(bundle, store, 0, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	ctx := context.Background()

	if _, err := eng.ProcessTurn(ctx, "s9", "my favorite color is blue"); err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}

	pruned := false
	for i := 0; i < 20; i++ {
		if _, err := eng.ProcessTurn(ctx, "s9", "completely different subject"); err != nil {
			t.Fatalf("filler turn %d failed: %v", i+1, err)
		}
		snap, err := eng.GetContext(ctx, "s9")
		if err != nil {
			t.Fatalf("GetContext failed: %v", err)
		}
		if _, ok := snap.Slots["color"]; !ok {
			pruned = true
			break
		}
	}
	if !pruned {
		t.Fatal("color slot never pruned despite decaying relevance")
	}

	r, err := eng.ProcessTurn(ctx, "s9", "about that paint")
	if err != nil {
		t.Fatalf("paint turn failed: %v", err)
	}
	if r.Domain != "paint" {
		t.Fatalf("domain = %s, want paint", r.Domain)
	}
	if r.Action != ActionReady {
		t.Errorf("action = %s, want ready; pruned-but-answered slot must not be re-asked", r.Action)
	}
}

func TestProcessTurnParallelSessions(t *testing.T) {
	eng, _ := makeTestEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("p%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if _, err := eng.ProcessTurn(ctx, id, "my 6 month old needs a stroller"); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("parallel turn failed: %v", err)
	}
}

func TestProcessTurnInputValidation(t *testing.T) {
	eng, _ := makeTestEngine(t)
	if _, err := eng.ProcessTurn(context.Background(), "", "hi"); err == nil {
		t.Error("empty session id should be rejected")
	}
	if _, err := eng.ProcessTurn(context.Background(), "sid", ""); err == nil {
		t.Error("empty utterance should be rejected")
	}
}

func TestSwapBundleTakesEffect(t *testing.T) {
	eng, _ := makeTestEngine(t)
	ctx := context.Background()

	bundle, err := config.LoadBundle([]byte(`
slots:
  - name: subject_age
    kind: number
    patterns:
      - regex: '(\d+) months old'
        unit: months
`), []byte(`
default_domain: catchall
domains:
  - id: catchall
    priority: 99
`))
	if err != nil {
		t.Fatalf("bundle load failed: %v", err)
	}
	eng.SwapBundle(bundle)

	r, err := eng.ProcessTurn(ctx, "s10", "which stroller should I get?")
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if r.Domain != "catchall" {
		t.Errorf("domain = %s, want catchall after bundle swap", r.Domain)
	}
}
