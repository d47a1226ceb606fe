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
	"strings"
	"unicode"

	"github.com/AleutianAI/AleutianCare/services/advisor/config"
)

// =============================================================================
// Tokenizer
// =============================================================================

// stopwords are excluded from token overlap so filler words never
// inflate relevance.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true,
	"was": true, "be": true, "i": true, "my": true, "me": true,
	"he": true, "she": true, "it": true, "we": true, "you": true,
	"of": true, "to": true, "in": true, "on": true, "at": true,
	"and": true, "or": true, "for": true, "with": true, "have": true,
	"has": true, "had": true, "do": true, "does": true, "what": true,
	"how": true, "should": true, "would": true, "can": true, "so": true,
	"that": true, "this": true,
}

func isTokenRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// tokenize splits lowered text into content tokens, dropping stopwords.
// Letters of any script count, so Hebrew utterances tokenize the same
// way English ones do.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isTokenRune(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

// tokenSet is tokenize collected into a membership set.
func tokenSet(text string) map[string]bool {
	tokens := tokenize(text)
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// overlapFraction reports the fraction of reference tokens present in
// the set. Empty references score 0.
func overlapFraction(set map[string]bool, reference []string) float64 {
	if len(reference) == 0 {
		return 0
	}
	hits := 0
	for _, t := range reference {
		if set[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(reference))
}

// =============================================================================
// Relevance Scorer
// =============================================================================

// Weighted-sum weights for the four relevance signals.
const (
	weightKeyword = 0.3
	weightContext = 0.3
	weightTopic   = 0.2
	weightField   = 0.2

	// High-priority slots (budget, age, usage) shift weight onto the
	// field signal.
	hpWeightField   = 0.4
	hpWeightContext = 0.3
	hpWeightKeyword = 0.2
	hpWeightTopic   = 0.1

	// strongIndicatorBoost multiplies the field signal when a strong
	// indicator (currency symbol, "month"/"year") is present.
	strongIndicatorBoost = 1.5

	// relevanceDecay shrinks a slot's previous relevance each turn it
	// goes unmentioned; a direct re-mention floors the score at its
	// previous value instead.
	relevanceDecay = 0.9
)

// PruneThreshold is the relevance below which an idle slot becomes
// eligible for pruning.
const PruneThreshold = 0.3

// Scorer computes per-slot relevance from the canonical weighted-sum
// formula.
//
// Thread Safety: Safe for concurrent use after construction.
type Scorer struct {
	patterns *config.PatternsConfig
}

// NewScorer returns a Scorer over the given pattern library.
func NewScorer(patterns *config.PatternsConfig) *Scorer {
	return &Scorer{patterns: patterns}
}

// ScoreInput carries the conversational signals relevance is computed
// from.
type ScoreInput struct {
	// Utterance is the current turn's raw text.
	Utterance string

	// OriginalQuery is the session's first utterance.
	OriginalQuery string

	// TopicSet is the topic vocabulary derived from the original query.
	TopicSet []string

	// Gathered is the concatenation of currently held slot values.
	Gathered string

	// Previous is the slot's relevance before this turn; 0 for new slots.
	Previous float64
}

// Score computes the relevance of one slot in [0,1].
//
// Description:
//
//	Weighted sum of four signals: keyword overlap with the original
//	query, context overlap with gathered slot values, topic-set
//	presence, and slot-specific field indicators (with a strong
//	indicator boost). Topic and slot multipliers apply after the sum,
//	then the score is capped at 1.0. Between turns the previous score
//	decays rather than dropping to zero; a direct re-mention of the
//	slot's indicators floors the score at its previous value.
//
// Inputs:
//
//	slotName - Slot being scored. Unknown slots score their decayed previous value.
//	in - Conversational signals for this turn.
//
// Outputs:
//
//	float64 - Relevance in [0,1].
func (sc *Scorer) Score(slotName string, in ScoreInput) float64 {
	spec := sc.patterns.Slot(slotName)
	if spec == nil {
		return clamp01(in.Previous * relevanceDecay)
	}

	lowered := strings.ToLower(in.Utterance)
	utteranceSet := tokenSet(lowered)

	keyword := overlapFraction(utteranceSet, tokenize(in.OriginalQuery))
	contextSig := overlapFraction(utteranceSet, tokenize(in.Gathered))
	topic := overlapFraction(utteranceSet, normalizeTerms(in.TopicSet))

	field := fieldSignal(lowered, utteranceSet, spec)

	var score float64
	if spec.HighPriority {
		score = hpWeightKeyword*keyword + hpWeightContext*contextSig +
			hpWeightTopic*topic + hpWeightField*field
	} else {
		score = weightKeyword*keyword + weightContext*contextSig +
			weightTopic*topic + weightField*field
	}

	for _, tb := range sc.patterns.TopicBoosts {
		if containsAnyTerm(lowered, tb.Terms) {
			score *= tb.Multiplier
		}
	}
	if spec.RelevanceMultiplier > 0 {
		score *= spec.RelevanceMultiplier
	}

	directMention := len(spec.Indicators) > 0 && containsAnyTerm(lowered, spec.Indicators)
	if directMention {
		if in.Previous > score {
			score = in.Previous
		}
	} else if decayed := in.Previous * relevanceDecay; decayed > score {
		score = decayed
	}

	return clamp01(score)
}

// fieldSignal is the fraction of indicator terms present, boosted when
// a strong indicator appears.
func fieldSignal(lowered string, utteranceSet map[string]bool, spec *config.SlotSpec) float64 {
	if len(spec.Indicators) == 0 {
		return 0
	}
	hits := 0
	for _, term := range spec.Indicators {
		if termPresent(lowered, utteranceSet, term) {
			hits++
		}
	}
	sig := float64(hits) / float64(len(spec.Indicators))
	if containsAnyTerm(lowered, spec.StrongIndicators) {
		sig *= strongIndicatorBoost
	}
	return sig
}

// termPresent matches one term the same way containsAnyTerm does.
func termPresent(lowered string, utteranceSet map[string]bool, term string) bool {
	t := strings.ToLower(term)
	if t == "" {
		return false
	}
	if strings.ContainsRune(t, ' ') || !isWordTerm(t) {
		return strings.Contains(lowered, t)
	}
	return utteranceSet[t]
}

// normalizeTerms lower-cases a term list for overlap scoring.
func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && !stopwords[t] {
			out = append(out, t)
		}
	}
	return out
}

// DeriveTopicSet extracts the topic vocabulary from the original query:
// its content tokens plus any topic-boost terms it mentions.
func DeriveTopicSet(patterns *config.PatternsConfig, originalQuery string) []string {
	tokens := tokenize(originalQuery)
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}

	lowered := strings.ToLower(originalQuery)
	for _, tb := range patterns.TopicBoosts {
		for _, term := range tb.Terms {
			lt := strings.ToLower(term)
			if !seen[lt] && strings.Contains(lowered, lt) {
				seen[lt] = true
				out = append(out, lt)
			}
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
