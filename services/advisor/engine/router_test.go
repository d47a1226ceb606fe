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
	"testing"

	"github.com/AleutianAI/AleutianCare/services/advisor/config"
)

func makeTestRouter(t *testing.T) *Router {
	t.Helper()
	return NewRouter(makeTestBundle(t).Profiles, nil)
}

func TestRoutePrimaryKeyword(t *testing.T) {
	r := makeTestRouter(t)
	d := r.Route(context.Background(), "which stroller should I get?", "")
	if d.Domain != "baby_gear" {
		t.Errorf("domain = %s, want baby_gear", d.Domain)
	}
	if d.Score != 1.0 || d.Reason != ReasonPrimary {
		t.Errorf("score/reason = %g/%s, want 1.0/primary", d.Score, d.Reason)
	}
}

func TestRouteSecondaryKeyword(t *testing.T) {
	r := makeTestRouter(t)
	d := r.Route(context.Background(), "her teething is rough", "")
	if d.Domain != "health" {
		t.Errorf("domain = %s, want health", d.Domain)
	}
	if d.Score != 0.7 || d.Reason != ReasonSecondary {
		t.Errorf("score/reason = %g/%s, want 0.7/secondary", d.Score, d.Reason)
	}
}

func TestRouteTieBreaksByPriority(t *testing.T) {
	// "choking" is an emergency primary; "fever" is a health primary.
	// Both score 1.0 and emergency's lower priority number must win.
	r := makeTestRouter(t)
	d := r.Route(context.Background(), "he has a fever and now he is choking", "")
	if d.Domain != "emergency" {
		t.Errorf("domain = %s, want emergency (priority tie-break)", d.Domain)
	}
}

func TestRouteFallsBackToDefault(t *testing.T) {
	r := makeTestRouter(t)
	d := r.Route(context.Background(), "nothing in particular", "")
	if d.Domain != "general" || d.Reason != ReasonFallback {
		t.Errorf("got %s/%s, want general/fallback", d.Domain, d.Reason)
	}
}

func TestRouteContinuationCueStaysOnCurrentDomain(t *testing.T) {
	r := makeTestRouter(t)
	d := r.Route(context.Background(), "and also what about that other one?", "baby_gear")
	if d.Domain != "baby_gear" || d.Reason != ReasonContinuity {
		t.Errorf("got %s/%s, want baby_gear/continuity", d.Domain, d.Reason)
	}
}

func TestRouteContinuationCueWithoutCurrentDomainFallsBack(t *testing.T) {
	r := makeTestRouter(t)
	d := r.Route(context.Background(), "what about this?", "")
	if d.Domain != "general" {
		t.Errorf("domain = %s, want general", d.Domain)
	}
}

func TestRouteKeywordBeatsContinuationCue(t *testing.T) {
	r := makeTestRouter(t)
	d := r.Route(context.Background(), "what about her sleep though?", "baby_gear")
	if d.Domain != "sleep" {
		t.Errorf("domain = %s, want sleep (keyword over cue)", d.Domain)
	}
}

func TestRouteIsDeterministic(t *testing.T) {
	r := makeTestRouter(t)
	utterance := "my baby has a fever of 39 and is 2 months old"
	first := r.Route(context.Background(), utterance, "")
	for i := 0; i < 10; i++ {
		again := r.Route(context.Background(), utterance, "")
		if again != first {
			t.Fatalf("routing not deterministic: %+v vs %+v", again, first)
		}
	}
}

func TestRouteHebrewKeywords(t *testing.T) {
	r := makeTestRouter(t)
	d := r.Route(context.Background(), "אני רוצה לקנות עגלה", "")
	if d.Domain != "baby_gear" {
		t.Errorf("domain = %s, want baby_gear for Hebrew stroller query", d.Domain)
	}
}

func TestRouteThresholdFallback(t *testing.T) {
	profiles, err := config.LoadProfilesConfig([]byte(`
default_domain: general
route_threshold: 0.8
domains:
  - id: sleep
    priority: 1
    primary_keywords: [sleep]
    secondary_keywords: [tired]
  - id: general
    priority: 99
`))
	if err != nil {
		t.Fatalf("profiles load failed: %v", err)
	}
	r := NewRouter(profiles, nil)

	// A secondary-only match (0.7) sits below the raised threshold.
	d := r.Route(context.Background(), "so tired today", "")
	if d.Domain != "general" || d.Reason != ReasonFallback {
		t.Errorf("got %s/%s, want general/fallback below threshold", d.Domain, d.Reason)
	}
}
