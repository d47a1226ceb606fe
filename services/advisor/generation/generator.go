// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generation turns a processed turn into natural-language
// answer text. The engine never imports this package; it hands over a
// TurnResult and the service layer decides whether and how to generate.
package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianCare/services/advisor/engine"
)

// Generator produces the final answer text for a ready turn.
//
// # Description
//
// Implementations receive the turn outcome plus the session's bounded
// conversation history. A generation failure is non-fatal to the
// caller: the service degrades to returning the structured TurnResult
// without answer text.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, result *engine.TurnResult, history []engine.Message) (string, error)
}

// BuildPrompt renders a turn into the user prompt sent to the model.
// The gathered slots are spelled out so the model answers with the
// specifics the engine collected instead of re-asking for them.
func BuildPrompt(result *engine.TurnResult, history []engine.Message) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Topic: %s\n", result.Domain)
	if len(result.AllSlots) > 0 {
		b.WriteString("Known details:\n")
		for name, value := range result.AllSlots {
			fmt.Fprintf(&b, "- %s: %s\n", name, value.String())
		}
	}
	if len(result.MissingRequired) > 0 {
		fmt.Fprintf(&b, "Unknown details (answer best-effort without them): %s\n",
			strings.Join(result.MissingRequired, ", "))
	}

	if len(history) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}

	b.WriteString("\nReply with a JSON object {\"answer\": \"...\"} and nothing else.")
	return b.String()
}
