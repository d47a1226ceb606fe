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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Conversation Engine
// =============================================================================

var (
	// turnsTotal counts processed turns by domain and resulting action.
	// Labels: domain, action (ask_followup, ready)
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "advisor",
		Subsystem: "engine",
		Name:      "turns_total",
		Help:      "Total processed turns by domain and action",
	}, []string{"domain", "action"})

	// turnLatencySeconds measures ProcessTurn latency end to end.
	turnLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "advisor",
		Subsystem: "engine",
		Name:      "turn_latency_seconds",
		Help:      "ProcessTurn latency",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	// slotsExtractedTotal counts extractions by slot name.
	// Labels: slot
	slotsExtractedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "advisor",
		Subsystem: "engine",
		Name:      "slots_extracted_total",
		Help:      "Total slot extractions by slot name",
	}, []string{"slot"})

	// routeDecisionsTotal counts routing outcomes by domain and rule.
	// Labels: domain, reason (primary, secondary, continuity, fallback)
	routeDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "advisor",
		Subsystem: "engine",
		Name:      "route_decisions_total",
		Help:      "Total routing decisions by domain and selecting rule",
	}, []string{"domain", "reason"})

	// slotsPrunedTotal counts slots evicted as stale context.
	slotsPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "advisor",
		Subsystem: "engine",
		Name:      "slots_pruned_total",
		Help:      "Total slots pruned for low relevance",
	})

	// sessionsCreatedTotal counts sessions created on first turn.
	sessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "advisor",
		Subsystem: "engine",
		Name:      "sessions_created_total",
		Help:      "Total sessions created",
	})
)

// recordSlotExtracted records one extraction for a slot.
func recordSlotExtracted(slot string) {
	slotsExtractedTotal.WithLabelValues(slot).Inc()
}

// recordRouteDecision records one routing outcome.
func recordRouteDecision(domain, reason string) {
	routeDecisionsTotal.WithLabelValues(domain, reason).Inc()
}

// recordTurn records a completed turn.
func recordTurn(domain string, action Action, durationSec float64) {
	turnsTotal.WithLabelValues(domain, string(action)).Inc()
	turnLatencySeconds.Observe(durationSec)
}
