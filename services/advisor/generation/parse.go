// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generation

import (
	"encoding/json"
	"strings"
)

// answerPayload is the declared schema for structured model output.
type answerPayload struct {
	Answer string `json:"answer"`
}

// ParseAnswer extracts the answer text from raw model output.
//
// # Description
//
// Models are asked for a bare {"answer": "..."} object but routinely
// wrap it in code fences or preamble text. ParseAnswer locates the
// first balanced JSON object in the output and unmarshals it against
// the declared schema. If no parseable object is found, the trimmed
// raw text is returned as the answer; untrusted output is never
// evaluated or executed, only parsed.
//
// # Inputs
//
//   - raw: Complete model output.
//
// # Outputs
//
//   - string: The answer text, never empty unless raw was blank.
func ParseAnswer(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	if obj, ok := firstJSONObject(trimmed); ok {
		var payload answerPayload
		if err := json.Unmarshal([]byte(obj), &payload); err == nil && strings.TrimSpace(payload.Answer) != "" {
			return strings.TrimSpace(payload.Answer)
		}
	}
	return stripFences(trimmed)
}

// firstJSONObject returns the first balanced {...} span in s, tracking
// string literals so braces inside them do not unbalance the scan.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
