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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeLogString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains string
		leaked   string
	}{
		{
			name:     "anthropic key",
			input:    "error with sk-ant-REDACTED in message",
			contains: "error with [REDACTED:anthropic_key] in message",
			leaked:   "sk-ant-api03-",
		},
		{
			name:     "openai key",
			input:    "failed: sk-abcdefghijklmnopqrstuvwxyz1234 returned 401",
			contains: "[REDACTED:openai_key]",
			leaked:   "sk-abcdefghijklmnopqrst",
		},
		{
			name:     "openai project key",
			input:    "sk-proj-abcdefghijklmnopqrstuvwxyz_12",
			contains: "[REDACTED:openai_key]",
			leaked:   "abcdefghij",
		},
		{
			name:     "bearer token",
			input:    "Authorization: Bearer abcdef0123456789",
			contains: "[REDACTED:bearer_token]",
			leaked:   "abcdef0123456789",
		},
		{
			name:     "echoed header",
			input:    `{"x-api-key": "internal-gw-key-99887766"}`,
			contains: `"x-api-key": "[REDACTED]`,
			leaked:   "99887766",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SafeLogString(tt.input)
			assert.Contains(t, got, tt.contains)
			assert.NotContains(t, got, tt.leaked)
		})
	}
}

func TestSafeLogString_NoSecrets(t *testing.T) {
	assert.Equal(t, "", SafeLogString(""))
	assert.Equal(t, "sk-test is short", SafeLogString("sk-test is short"))
	assert.Equal(t, "normal log message", SafeLogString("normal log message"))
}

func TestKeyHint(t *testing.T) {
	assert.Equal(t, "...wxyz", KeyHint("sk-abcdefghijklmnopqrstuvwxyz"))
	assert.Equal(t, "...", KeyHint("short"))
}
