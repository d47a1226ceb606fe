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
	"testing"
	"time"

	"github.com/AleutianAI/AleutianCare/services/advisor/config"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	sess := NewSession("abc", time.Now())
	sess.Domain = "sleep"
	sess.Slots["subject_age"] = Slot{
		Value: SlotValue{Kind: config.SlotKindNumber, Number: 6, Unit: "months"},
	}
	if err := store.Put(ctx, sess); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := store.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Domain != "sleep" || got.Slots["subject_age"].Value.Number != 6 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestMemoryStoreGetUnknown(t *testing.T) {
	store := NewMemorySessionStore()
	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestMemoryStoreCopiesOnPutAndGet(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	sess := NewSession("abc", time.Now())
	sess.Slots["budget"] = Slot{Value: SlotValue{Kind: config.SlotKindCurrency, Number: 500, Currency: "USD"}}
	if err := store.Put(ctx, sess); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	// Mutating the original after Put must not leak into the store.
	sess.Slots["budget"] = Slot{Value: SlotValue{Kind: config.SlotKindCurrency, Number: 999, Currency: "USD"}}

	got, err := store.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Slots["budget"].Value.Number != 500 {
		t.Error("store aliased the caller's slot map on Put")
	}

	// Mutating a Get result must not leak either.
	got.Slots["budget"] = Slot{Value: SlotValue{Kind: config.SlotKindCurrency, Number: 1, Currency: "USD"}}
	again, err := store.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("second get failed: %v", err)
	}
	if again.Slots["budget"].Value.Number != 500 {
		t.Error("store aliased its internal state on Get")
	}
}

func TestMemoryStoreListExpired(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	fresh := NewSession("fresh", time.Now())
	stale := NewSession("stale", time.Now())
	stale.LastActiveAt = time.Now().Add(-48 * time.Hour)

	if err := store.Put(ctx, fresh); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := store.Put(ctx, stale); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	ids, err := store.ListExpired(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("ListExpired failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "stale" {
		t.Errorf("expired ids = %v, want [stale]", ids)
	}
}

func TestMemoryStoreDeleteUnknownIsNoOp(t *testing.T) {
	store := NewMemorySessionStore()
	if err := store.Delete(context.Background(), "nope"); err != nil {
		t.Errorf("deleting unknown id should be a no-op: %v", err)
	}
}

func TestSessionClearContextKeepsIdentity(t *testing.T) {
	created := time.Now().Add(-time.Hour)
	sess := NewSession("abc", created)
	sess.Turn = 4
	sess.Domain = "health"
	sess.QuestionCount = 2
	sess.OriginalQuery = "my baby is sick"
	sess.Slots["symptom"] = Slot{Value: SlotValue{Kind: config.SlotKindCategory, Text: "fever"}}
	sess.Answered["symptom"] = true
	sess.AppendMessage(Message{Role: RoleUser, Content: "hi", Turn: 1})

	sess.ClearContext()

	if sess.ID != "abc" || !sess.CreatedAt.Equal(created) {
		t.Error("ClearContext must keep id and creation time")
	}
	if sess.Turn != 0 || sess.Domain != "" || sess.QuestionCount != 0 ||
		sess.OriginalQuery != "" || len(sess.Slots) != 0 ||
		len(sess.Answered) != 0 || len(sess.History) != 0 {
		t.Errorf("ClearContext left state behind: %+v", sess)
	}
}

func TestSessionHistoryIsBounded(t *testing.T) {
	sess := NewSession("abc", time.Now())
	for i := 0; i < MaxHistoryMessages+5; i++ {
		sess.AppendMessage(Message{Role: RoleUser, Content: "m", Turn: i + 1})
	}
	if len(sess.History) != MaxHistoryMessages {
		t.Errorf("history length = %d, want %d", len(sess.History), MaxHistoryMessages)
	}
	if sess.History[0].Turn != 6 {
		t.Errorf("oldest kept turn = %d, want 6 (oldest dropped first)", sess.History[0].Turn)
	}
}

func TestSessionIsExpired(t *testing.T) {
	sess := NewSession("abc", time.Now())
	now := time.Now()

	sess.LastActiveAt = now.Add(-25 * time.Hour)
	if !sess.IsExpired(now, 0) {
		t.Error("25h idle should expire with default 24h TTL")
	}
	sess.LastActiveAt = now.Add(-23 * time.Hour)
	if sess.IsExpired(now, 0) {
		t.Error("23h idle should not expire with default 24h TTL")
	}
	if !sess.IsExpired(now, time.Hour) {
		t.Error("23h idle should expire with a 1h TTL")
	}
}
