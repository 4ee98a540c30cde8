// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"regexp"
)

// redactionPattern pairs a compiled regex with a replacement label.
//
// Thread Safety: This type is immutable after construction.
type redactionPattern struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// redactionPatterns is ordered most specific first: the Anthropic key
// shares the "sk-" prefix with OpenAI keys and must win.
var redactionPatterns = []redactionPattern{
	{
		Pattern:     regexp.MustCompile(`sk-ant-[A-Za-z0-9]{2,8}-[A-Za-z0-9_-]{20,}`),
		Replacement: "[REDACTED:anthropic_key]",
	},
	{
		Pattern:     regexp.MustCompile(`sk-(?:proj-)?[A-Za-z0-9_-]{20,}`),
		Replacement: "[REDACTED:openai_key]",
	},
	{
		Pattern:     regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]{10,}`),
		Replacement: "[REDACTED:bearer_token]",
	},
	// Gateways sometimes echo the request headers in error bodies.
	{
		Pattern:     regexp.MustCompile(`(?i)("?(?:x-api-key|api[_-]?key)"?\s*[:=]\s*"?)[A-Za-z0-9._-]{8,}`),
		Replacement: "${1}[REDACTED]",
	},
	{
		Pattern:     regexp.MustCompile(`key=[A-Za-z0-9._-]{10,}`),
		Replacement: "key=[REDACTED]",
	},
}

// SafeLogString redacts known secret patterns from a string before it is
// logged or embedded into an error.
//
// Description:
//
//	Provider error bodies can echo credentials. Each match is replaced
//	with a labeled placeholder so the reader knows what class of secret
//	was present.
//
// Limitations:
//   - Pattern-based only; keys with non-standard formats are not caught.
//   - A secret spanning multiple lines is not matched.
//
// Thread Safety: This function is safe for concurrent use.
func SafeLogString(s string) string {
	if s == "" {
		return s
	}
	for _, p := range redactionPatterns {
		s = p.Pattern.ReplaceAllString(s, p.Replacement)
	}
	return s
}

// KeyHint returns a loggable identifier for an API key: its last four
// characters prefixed with "...". Keys shorter than eight characters
// yield "...".
func KeyHint(apiKey string) string {
	if len(apiKey) < 8 {
		return "..."
	}
	return "..." + apiKey[len(apiKey)-4:]
}
