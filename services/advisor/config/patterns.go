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
	_ "embed"
	"fmt"
	"log/slog"
	"regexp"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Pattern Library
// =============================================================================

//go:embed patterns.yaml
var defaultPatternsYAML []byte

// MaxYAMLFileSize caps the size of any loadable YAML config file.
// Configs are hand-written tables; anything past 1MB is a mistake.
const MaxYAMLFileSize = 1 << 20

// =============================================================================
// Pattern Library Types
// =============================================================================

// SlotKind describes how a slot's value is typed and extracted.
type SlotKind string

const (
	// SlotKindNumber extracts a numeric value with a canonical unit
	// (age in months, duration in days, temperature in celsius).
	SlotKindNumber SlotKind = "number"

	// SlotKindCurrency extracts an amount plus an ISO currency code.
	SlotKindCurrency SlotKind = "currency"

	// SlotKindCategory assigns the first category whose keyword set hits.
	SlotKindCategory SlotKind = "category"

	// SlotKindText extracts a free-text capture group.
	SlotKindText SlotKind = "text"
)

// PatternSpec is one ordered extraction rule for a slot.
//
// Description:
//
//	Patterns are tried in declaration order against the lower-cased
//	utterance; the first match wins for the slot in that turn. The
//	first capture group is the value. Unit resolution: a fixed Unit,
//	or UnitGroup pointing at the capture group holding the raw unit
//	word (normalized by the extractor).
type PatternSpec struct {
	// Regex is the extraction pattern. Compiled case-insensitively.
	Regex string `yaml:"regex"`

	// Unit is the canonical unit assigned on match (number slots).
	Unit string `yaml:"unit"`

	// UnitGroup is the 1-based capture group holding the raw unit word.
	// Used when the unit varies within one pattern. 0 = use Unit.
	UnitGroup int `yaml:"unit_group"`

	// Currency is the ISO code assigned on match (currency slots).
	Currency string `yaml:"currency"`

	// Weight becomes the slot's extraction confidence. Default 0.8.
	Weight float64 `yaml:"weight"`
}

// CategorySpec names one category and the keywords that select it.
type CategorySpec struct {
	// Name is the category value stored in the slot.
	Name string `yaml:"name"`

	// Keywords select this category by substring presence. The first
	// category in declaration order with a hit wins.
	Keywords []string `yaml:"keywords"`
}

// SlotSpec declares one slot of the closed vocabulary: its kind, its
// ordered extraction rules, and its relevance indicators.
type SlotSpec struct {
	// Name is the slot identifier (e.g. "subject_age", "budget").
	Name string `yaml:"name"`

	// Kind selects the extraction and value typing strategy.
	Kind SlotKind `yaml:"kind"`

	// HighPriority shifts the relevance weights toward the field signal
	// (budget, age, usage per the canonical formula).
	HighPriority bool `yaml:"high_priority"`

	// RelevanceMultiplier is applied to the slot's relevance score after
	// the weighted sum. 0 means 1.0 (no boost).
	RelevanceMultiplier float64 `yaml:"relevance_multiplier"`

	// Indicators are slot-specific terms for the field-relevance signal.
	// A known slot is only re-extracted when one of these appears fresh
	// in the utterance.
	Indicators []string `yaml:"indicators"`

	// StrongIndicators trigger the 1.5x field-signal multiplier
	// (currency symbols for budget, month/year for age).
	StrongIndicators []string `yaml:"strong_indicators"`

	// Patterns are the ordered extraction rules (number/currency/text).
	Patterns []PatternSpec `yaml:"patterns"`

	// Categories are the ordered keyword sets (category slots).
	Categories []CategorySpec `yaml:"categories"`
}

// TopicBoost multiplies relevance scores when any of its terms appears
// in the utterance (e.g. travel terms x1.5, stroller terms x1.3).
type TopicBoost struct {
	Terms      []string `yaml:"terms"`
	Multiplier float64  `yaml:"multiplier"`
}

// PatternsConfig is the full declarative pattern library.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type PatternsConfig struct {
	// Slots is the closed slot vocabulary with extraction rules.
	Slots []SlotSpec `yaml:"slots"`

	// TopicBoosts are utterance-level relevance multipliers.
	TopicBoosts []TopicBoost `yaml:"topic_boosts"`
}

// SlotNames returns the declared slot vocabulary in declaration order.
func (c *PatternsConfig) SlotNames() []string {
	names := make([]string, 0, len(c.Slots))
	for _, s := range c.Slots {
		names = append(names, s.Name)
	}
	return names
}

// Slot returns the spec for a slot name, or nil if not declared.
func (c *PatternsConfig) Slot(name string) *SlotSpec {
	for i := range c.Slots {
		if c.Slots[i].Name == name {
			return &c.Slots[i]
		}
	}
	return nil
}

// =============================================================================
// Loading
// =============================================================================

// DefaultWeight is the extraction confidence assigned when a pattern
// declares none.
const DefaultWeight = 0.8

// LoadPatternsConfig loads and validates a PatternsConfig from YAML bytes.
//
// Description:
//
//	Parses the YAML, applies defaults for missing fields, and validates
//	every slot declaration. Regexes are compiled here so a malformed
//	pattern fails fast at startup rather than surfacing per-request.
//
// Inputs:
//
//	data - Raw YAML bytes to parse.
//
// Outputs:
//
//	*PatternsConfig - The validated configuration.
//	error - Non-nil if parsing or validation fails.
func LoadPatternsConfig(data []byte) (*PatternsConfig, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("LoadPatternsConfig: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadPatternsConfig: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var cfg PatternsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("LoadPatternsConfig: parsing YAML: %w", err)
	}

	for i := range cfg.Slots {
		for j := range cfg.Slots[i].Patterns {
			if cfg.Slots[i].Patterns[j].Weight <= 0 {
				cfg.Slots[i].Patterns[j].Weight = DefaultWeight
			}
		}
	}
	for i := range cfg.TopicBoosts {
		if cfg.TopicBoosts[i].Multiplier <= 0 {
			cfg.TopicBoosts[i].Multiplier = 1.0
		}
	}

	if err := validatePatternsConfig(&cfg); err != nil {
		return nil, fmt.Errorf("LoadPatternsConfig: validation: %w", err)
	}

	slog.Info("pattern library loaded",
		slog.Int("slots", len(cfg.Slots)),
		slog.Int("topic_boosts", len(cfg.TopicBoosts)),
	)

	return &cfg, nil
}

// DefaultPatternsConfig loads the embedded default pattern library.
func DefaultPatternsConfig() (*PatternsConfig, error) {
	return LoadPatternsConfig(defaultPatternsYAML)
}

// validatePatternsConfig checks every slot declaration for consistency.
func validatePatternsConfig(cfg *PatternsConfig) error {
	if len(cfg.Slots) == 0 {
		return fmt.Errorf("slots must not be empty")
	}

	seen := make(map[string]bool, len(cfg.Slots))
	for i, s := range cfg.Slots {
		if s.Name == "" {
			return fmt.Errorf("slot[%d]: name must not be empty", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("slot[%d] (%s): duplicate slot name", i, s.Name)
		}
		seen[s.Name] = true

		switch s.Kind {
		case SlotKindNumber, SlotKindCurrency, SlotKindText:
			if len(s.Patterns) == 0 {
				return fmt.Errorf("slot %s: %s slots need at least one pattern", s.Name, s.Kind)
			}
		case SlotKindCategory:
			if len(s.Categories) == 0 {
				return fmt.Errorf("slot %s: category slots need at least one category", s.Name)
			}
		default:
			return fmt.Errorf("slot %s: unknown kind %q", s.Name, s.Kind)
		}

		for j, p := range s.Patterns {
			if p.Regex == "" {
				return fmt.Errorf("slot %s pattern[%d]: regex must not be empty", s.Name, j)
			}
			re, err := regexp.Compile("(?i)" + p.Regex)
			if err != nil {
				return fmt.Errorf("slot %s pattern[%d]: compiling %q: %w", s.Name, j, p.Regex, err)
			}
			if re.NumSubexp() < 1 {
				return fmt.Errorf("slot %s pattern[%d]: regex needs a capture group for the value", s.Name, j)
			}
			if p.UnitGroup > re.NumSubexp() {
				return fmt.Errorf("slot %s pattern[%d]: unit_group %d exceeds capture groups (%d)", s.Name, j, p.UnitGroup, re.NumSubexp())
			}
		}

		for j, c := range s.Categories {
			if c.Name == "" {
				return fmt.Errorf("slot %s category[%d]: name must not be empty", s.Name, j)
			}
			if len(c.Keywords) == 0 {
				return fmt.Errorf("slot %s category %s: keywords must not be empty", s.Name, c.Name)
			}
		}
	}

	for i, tb := range cfg.TopicBoosts {
		if len(tb.Terms) == 0 {
			return fmt.Errorf("topic_boost[%d]: terms must not be empty", i)
		}
	}

	return nil
}
