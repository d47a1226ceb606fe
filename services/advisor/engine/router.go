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
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianCare/services/advisor/config"
)

var routerTracer = otel.Tracer("aleutian.advisor.engine.router")

// =============================================================================
// Domain Router
// =============================================================================

// Routing score constants: any primary keyword scores 1.0, else any
// secondary keyword scores 0.7, else 0.0.
const (
	primaryScore   = 1.0
	secondaryScore = 0.7
)

// Routing decision reasons, used for logging and metrics labels.
const (
	ReasonPrimary    = "primary"
	ReasonSecondary  = "secondary"
	ReasonContinuity = "continuity"
	ReasonFallback   = "fallback"
)

// RouteDecision is the router's outcome for one utterance.
type RouteDecision struct {
	// Domain is the selected domain id.
	Domain string

	// Score is the winning match score; 0 for continuity and fallback.
	Score float64

	// Reason says which rule selected the domain.
	Reason string
}

// Router selects the active domain for each utterance.
//
// Description:
//
//	Scores every domain profile against the utterance, breaks ties by
//	profile priority (lower wins), keeps the current domain when only a
//	continuation cue is present, and falls back to the default domain
//	below the routing threshold. Routing never fails: an empty or
//	unmatchable utterance lands in the default domain.
//
// Thread Safety: Safe for concurrent use after construction.
type Router struct {
	profiles *config.ProfilesConfig
	logger   *slog.Logger
}

// NewRouter returns a Router over the given domain catalogue.
func NewRouter(profiles *config.ProfilesConfig, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{profiles: profiles, logger: logger}
}

// Route selects the domain for one utterance.
//
// Inputs:
//
//	ctx - Context for tracing.
//	utterance - Raw user text. Matched lower-cased.
//	currentDomain - The session's active domain, empty when none.
//
// Outputs:
//
//	RouteDecision - Selected domain, score, and selecting rule.
func (r *Router) Route(ctx context.Context, utterance, currentDomain string) RouteDecision {
	_, span := routerTracer.Start(ctx, "engine.Router.Route")
	defer span.End()

	lowered := strings.ToLower(utterance)

	var (
		best      *config.DomainProfile
		bestScore float64
	)
	for i := range r.profiles.Domains {
		d := &r.profiles.Domains[i]
		score := matchScore(lowered, d)
		if score == 0 {
			continue
		}
		if best == nil || score > bestScore ||
			(score == bestScore && d.Priority < best.Priority) {
			best, bestScore = d, score
		}
	}

	decision := r.decide(lowered, currentDomain, best, bestScore)

	span.SetAttributes(
		attribute.String("domain", decision.Domain),
		attribute.Float64("score", decision.Score),
		attribute.String("reason", decision.Reason),
	)
	recordRouteDecision(decision.Domain, decision.Reason)
	return decision
}

func (r *Router) decide(lowered, currentDomain string, best *config.DomainProfile, bestScore float64) RouteDecision {
	if best == nil {
		if currentDomain != "" && containsAnyTerm(lowered, r.profiles.ContinuationCues) {
			return RouteDecision{Domain: currentDomain, Reason: ReasonContinuity}
		}
		return RouteDecision{Domain: r.profiles.DefaultDomain, Reason: ReasonFallback}
	}

	if bestScore < r.profiles.RouteThreshold {
		return RouteDecision{Domain: r.profiles.DefaultDomain, Reason: ReasonFallback}
	}

	reason := ReasonSecondary
	if bestScore >= primaryScore {
		reason = ReasonPrimary
	}
	return RouteDecision{Domain: best.ID, Score: bestScore, Reason: reason}
}

// matchScore scores one profile against the lowered utterance.
func matchScore(lowered string, d *config.DomainProfile) float64 {
	if containsAnyTerm(lowered, d.PrimaryKeywords) {
		return primaryScore
	}
	if containsAnyTerm(lowered, d.SecondaryKeywords) {
		return secondaryScore
	}
	return 0
}
