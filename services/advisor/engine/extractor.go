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
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianCare/services/advisor/config"
)

var extractorTracer = otel.Tracer("aleutian.advisor.engine.extractor")

// =============================================================================
// Entity Extractor
// =============================================================================

// Extraction is one slot value observed in an utterance.
type Extraction struct {
	Slot       string
	Value      SlotValue
	Confidence float64
}

type compiledPattern struct {
	re   *regexp.Regexp
	spec config.PatternSpec
}

type compiledSlot struct {
	spec     *config.SlotSpec
	patterns []compiledPattern
}

// Extractor applies the pattern library to single utterances.
//
// Description:
//
//	Patterns are compiled once at construction. A pattern that fails to
//	compile is logged and skipped rather than failing the turn;
//	extraction is always non-fatal. For each slot the first matching
//	pattern wins, so a slot is extracted at most once per utterance.
//
// Thread Safety: Safe for concurrent use after construction.
type Extractor struct {
	slots  []compiledSlot
	logger *slog.Logger
}

// NewExtractor compiles the pattern library into an Extractor.
func NewExtractor(patterns *config.PatternsConfig, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}

	ex := &Extractor{logger: logger}
	for i := range patterns.Slots {
		spec := &patterns.Slots[i]
		cs := compiledSlot{spec: spec}
		for _, p := range spec.Patterns {
			re, err := regexp.Compile("(?i)" + p.Regex)
			if err != nil {
				logger.Warn("skipping malformed extraction pattern",
					slog.String("slot", spec.Name),
					slog.String("regex", p.Regex),
					slog.String("error", err.Error()),
				)
				continue
			}
			cs.patterns = append(cs.patterns, compiledPattern{re: re, spec: p})
		}
		ex.slots = append(ex.slots, cs)
	}
	return ex
}

// Extract applies every slot's patterns to one utterance.
//
// Description:
//
//	Returns newly observed slot values in slot declaration order. Slots
//	in alreadyKnown are only re-extracted when the utterance contains
//	one of the slot's indicator terms (a fresh direct mention);
//	re-extraction overwrites, never merges. Absence of a slot is not an
//	error, the slot is simply omitted.
//
// Inputs:
//
//	ctx - Context for tracing.
//	utterance - Raw user text. Matched lower-cased.
//	alreadyKnown - Slot names already filled in the session.
//
// Outputs:
//
//	[]Extraction - Observed values, in slot declaration order.
func (e *Extractor) Extract(ctx context.Context, utterance string, alreadyKnown map[string]bool) []Extraction {
	_, span := extractorTracer.Start(ctx, "engine.Extractor.Extract")
	defer span.End()

	lowered := strings.ToLower(utterance)
	var out []Extraction

	for _, cs := range e.slots {
		if alreadyKnown[cs.spec.Name] && !containsAnyTerm(lowered, cs.spec.Indicators) {
			continue
		}

		var (
			value SlotValue
			conf  float64
			found bool
		)
		switch cs.spec.Kind {
		case config.SlotKindCategory:
			value, conf, found = extractCategory(lowered, cs.spec)
		default:
			value, conf, found = extractPattern(lowered, cs)
		}
		if !found || value.IsZero() {
			continue
		}

		out = append(out, Extraction{Slot: cs.spec.Name, Value: value, Confidence: conf})
		recordSlotExtracted(cs.spec.Name)
	}

	span.SetAttributes(attribute.Int("extractions", len(out)))
	return out
}

// extractPattern tries the slot's ordered patterns; first match wins.
func extractPattern(lowered string, cs compiledSlot) (SlotValue, float64, bool) {
	for _, cp := range cs.patterns {
		m := cp.re.FindStringSubmatch(lowered)
		if m == nil {
			continue
		}

		switch cs.spec.Kind {
		case config.SlotKindNumber:
			n, err := parseNumber(m[1])
			if err != nil {
				continue
			}
			unit := cp.spec.Unit
			if cp.spec.UnitGroup > 0 && cp.spec.UnitGroup < len(m) {
				unit = normalizeUnit(m[cp.spec.UnitGroup])
			}
			return SlotValue{Kind: config.SlotKindNumber, Number: n, Unit: unit}, cp.spec.Weight, true

		case config.SlotKindCurrency:
			n, err := parseNumber(m[1])
			if err != nil {
				continue
			}
			return SlotValue{Kind: config.SlotKindCurrency, Number: n, Currency: cp.spec.Currency}, cp.spec.Weight, true

		case config.SlotKindText:
			text := strings.TrimSpace(m[1])
			if text == "" {
				continue
			}
			return SlotValue{Kind: config.SlotKindText, Text: text}, cp.spec.Weight, true
		}
	}
	return SlotValue{}, 0, false
}

// extractCategory assigns the first category whose keyword set hits.
func extractCategory(lowered string, spec *config.SlotSpec) (SlotValue, float64, bool) {
	for _, cat := range spec.Categories {
		if containsAnyTerm(lowered, cat.Keywords) {
			return SlotValue{Kind: config.SlotKindCategory, Text: cat.Name}, DefaultCategoryConfidence, true
		}
	}
	return SlotValue{}, 0, false
}

// DefaultCategoryConfidence is the extraction confidence for keyword-set
// category matches, which carry no per-pattern weight.
const DefaultCategoryConfidence = 0.75

// parseNumber parses a captured numeric string, tolerating thousands
// separators ("1,200").
func parseNumber(raw string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
}

// unitAliases maps raw unit words, including Hebrew variants, to
// canonical unit names.
var unitAliases = map[string]string{
	"month": "months", "months": "months", "mo": "months", "mos": "months",
	"week": "weeks", "weeks": "weeks", "wk": "weeks", "wks": "weeks",
	"year": "years", "years": "years", "yr": "years", "yrs": "years",
	"day": "days", "days": "days",
	"hour": "hours", "hours": "hours", "hr": "hours", "hrs": "hours",
	"חודשים": "months", "חודש": "months",
	"שבועות": "weeks", "שבוע": "weeks",
	"שנים": "years", "שנה": "years",
}

// normalizeUnit maps a captured unit word to its canonical form.
// Unknown words pass through unchanged.
func normalizeUnit(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := unitAliases[key]; ok {
		return canonical
	}
	return key
}

// containsAnyTerm reports whether any term appears in the lowered
// utterance. Multi-word terms and symbols match by substring; single
// words match on token boundaries so "hot" does not hit "hotel".
func containsAnyTerm(lowered string, terms []string) bool {
	var tokens map[string]bool
	for _, term := range terms {
		t := strings.ToLower(term)
		if t == "" {
			continue
		}
		if strings.ContainsRune(t, ' ') || !isWordTerm(t) {
			if strings.Contains(lowered, t) {
				return true
			}
			continue
		}
		if tokens == nil {
			tokens = tokenSet(lowered)
		}
		if tokens[t] {
			return true
		}
	}
	return false
}

// isWordTerm reports whether the term is made of letters and digits
// only, i.e. comparable against tokens. Symbols like "$" are not.
func isWordTerm(term string) bool {
	for _, r := range term {
		if !isTokenRune(r) {
			return false
		}
	}
	return len(term) > 0
}
