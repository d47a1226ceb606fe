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
	"strings"
	"testing"
)

func TestDefaultBundleLoads(t *testing.T) {
	ResetBundle()
	defer ResetBundle()

	bundle, err := GetBundle(context.Background())
	if err != nil {
		t.Fatalf("GetBundle failed: %v", err)
	}
	if bundle.Patterns == nil || bundle.Profiles == nil {
		t.Fatal("bundle halves must not be nil")
	}
	if bundle.Patterns.Slot("subject_age") == nil {
		t.Error("default patterns missing subject_age slot")
	}
	if bundle.Profiles.Domain("baby_gear") == nil {
		t.Error("default profiles missing baby_gear domain")
	}
	if bundle.Profiles.Domain(bundle.Profiles.DefaultDomain) == nil {
		t.Errorf("default_domain %q not declared", bundle.Profiles.DefaultDomain)
	}
}

func TestGetBundleNilContext(t *testing.T) {
	var ctx context.Context
	if _, err := GetBundle(ctx); err == nil {
		t.Error("expected error for nil context")
	}
}

func TestLoadPatternsRejectsDuplicateSlot(t *testing.T) {
	yaml := `
slots:
  - name: budget
    kind: currency
    patterns:
      - regex: '\$(\d+)'
        currency: USD
  - name: budget
    kind: currency
    patterns:
      - regex: '₪(\d+)'
        currency: ILS
`
	if _, err := LoadPatternsConfig([]byte(yaml)); err == nil {
		t.Error("expected duplicate slot name to fail validation")
	}
}

func TestLoadPatternsRejectsBadRegex(t *testing.T) {
	yaml := `
slots:
  - name: broken
    kind: number
    patterns:
      - regex: '([unclosed'
        unit: months
`
	_, err := LoadPatternsConfig([]byte(yaml))
	if err == nil {
		t.Fatal("expected malformed regex to fail validation")
	}
	if !strings.Contains(err.Error(), "compiling") {
		t.Errorf("error should mention compilation: %v", err)
	}
}

func TestLoadPatternsRejectsMissingCaptureGroup(t *testing.T) {
	yaml := `
slots:
  - name: nogroup
    kind: number
    patterns:
      - regex: '\d+ months'
        unit: months
`
	if _, err := LoadPatternsConfig([]byte(yaml)); err == nil {
		t.Error("expected pattern without capture group to fail validation")
	}
}

func TestLoadPatternsRejectsUnknownKind(t *testing.T) {
	yaml := `
slots:
  - name: odd
    kind: vector
    patterns:
      - regex: '(\d+)'
`
	if _, err := LoadPatternsConfig([]byte(yaml)); err == nil {
		t.Error("expected unknown slot kind to fail validation")
	}
}

func TestLoadPatternsAppliesDefaultWeight(t *testing.T) {
	yaml := `
slots:
  - name: sleep_hours
    kind: number
    patterns:
      - regex: '(\d+) hours'
        unit: hours
`
	cfg, err := LoadPatternsConfig([]byte(yaml))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got := cfg.Slots[0].Patterns[0].Weight; got != DefaultWeight {
		t.Errorf("weight = %g, want default %g", got, DefaultWeight)
	}
}

func TestLoadProfilesRejectsUnknownDefaultDomain(t *testing.T) {
	yaml := `
default_domain: nonexistent
domains:
  - id: general
    priority: 99
`
	if _, err := LoadProfilesConfig([]byte(yaml)); err == nil {
		t.Error("expected undeclared default_domain to fail validation")
	}
}

func TestLoadProfilesRejectsQuestionForUnrequiredSlot(t *testing.T) {
	yaml := `
default_domain: general
domains:
  - id: general
    priority: 99
    questions:
      budget: "What is your budget?"
`
	if _, err := LoadProfilesConfig([]byte(yaml)); err == nil {
		t.Error("expected question for non-required slot to fail validation")
	}
}

func TestLoadProfilesAppliesDefaults(t *testing.T) {
	yaml := `
default_domain: general
domains:
  - id: general
    priority: 99
`
	cfg, err := LoadProfilesConfig([]byte(yaml))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.RouteThreshold != DefaultRouteThreshold {
		t.Errorf("route_threshold = %g, want %g", cfg.RouteThreshold, DefaultRouteThreshold)
	}
	if cfg.Domains[0].MaxFollowUps != DefaultMaxFollowUps {
		t.Errorf("max_followups = %d, want %d", cfg.Domains[0].MaxFollowUps, DefaultMaxFollowUps)
	}
	if cfg.FallbackQuestion == "" {
		t.Error("fallback_question default not applied")
	}
}

func TestNewBundleRejectsUnknownRequiredSlot(t *testing.T) {
	patterns, err := LoadPatternsConfig([]byte(`
slots:
  - name: subject_age
    kind: number
    patterns:
      - regex: '(\d+) months'
        unit: months
`))
	if err != nil {
		t.Fatalf("patterns load failed: %v", err)
	}
	profiles, err := LoadProfilesConfig([]byte(`
default_domain: general
domains:
  - id: health
    priority: 1
    required_slots: [subject_age, symptom]
  - id: general
    priority: 99
`))
	if err != nil {
		t.Fatalf("profiles load failed: %v", err)
	}

	if _, err := NewBundle(patterns, profiles); err == nil {
		t.Error("expected domain requiring undeclared slot to fail bundle validation")
	}
}

func TestDomainQuestionFallback(t *testing.T) {
	d := DomainProfile{
		ID:            "health",
		RequiredSlots: []string{"subject_age", "symptom"},
		Questions:     map[string]string{"subject_age": "How old is your baby?"},
	}
	if got := d.Question("subject_age"); got != "How old is your baby?" {
		t.Errorf("configured question not returned: %q", got)
	}
	if got := d.Question("symptom"); !strings.Contains(got, "symptom") {
		t.Errorf("fallback question should name the slot: %q", got)
	}
}

func TestDefaultPatternsSubjectAgeMatchesCommonPhrasings(t *testing.T) {
	cfg, err := DefaultPatternsConfig()
	if err != nil {
		t.Fatalf("default patterns load failed: %v", err)
	}
	spec := cfg.Slot("subject_age")
	if spec == nil {
		t.Fatal("subject_age slot missing")
	}
	if !spec.HighPriority {
		t.Error("subject_age should be high priority")
	}
	if spec.RelevanceMultiplier != 1.8 {
		t.Errorf("subject_age multiplier = %g, want 1.8", spec.RelevanceMultiplier)
	}
}
