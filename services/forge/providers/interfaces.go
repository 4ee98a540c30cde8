// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package providers turns raw provider clients into the language-model
// service used by the generation pipeline.
//
// Two roles use it: the generator (planning and rendering calls) and the
// judge (scoring calls). Each role gets its own Service with its own key
// ring, retry policy and rate limit.
//
// Thread Safety:
//
//	All interfaces in this package must be implemented as safe for concurrent use.
package providers

import (
	"context"

	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
)

// ChatClient is a single-credential chat endpoint.
//
// Thread Safety: Implementations must be safe for concurrent use.
type ChatClient interface {
	// Chat sends messages and returns the assistant's response text.
	//
	// Inputs:
	//   - ctx: Context for cancellation and timeout.
	//   - messages: Conversation messages (system, user, assistant).
	//   - opts: Provider-agnostic chat options.
	//
	// Outputs:
	//   - string: The assistant's response text.
	//   - error: Non-nil on failure.
	Chat(ctx context.Context, messages []datatypes.Message, opts ChatOptions) (string, error)
}

// ChatOptions holds provider-agnostic options for a chat request.
type ChatOptions struct {
	// Temperature controls randomness. The zero value is an explicit
	// "most deterministic" setting; a negative value omits the field and
	// uses the provider default.
	Temperature float64

	// MaxTokens limits the response length. Zero uses the provider default.
	MaxTokens int

	// Model overrides the model chosen at client construction.
	Model string
}

// LanguageModelService is what the pipeline calls: one logical model call
// with retries, key rotation and rate limiting hidden behind it.
//
// Thread Safety: Implementations must be safe for concurrent use.
type LanguageModelService interface {
	// Generate sends messages, preceded by system when non-empty, and
	// returns the reply text.
	Generate(ctx context.Context, messages []datatypes.Message, system string) (string, error)
}
