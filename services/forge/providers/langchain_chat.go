// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package providers

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
)

// LangChainChatAdapter adapts any langchaingo llms.Model to ChatClient.
//
// Description:
//
//	Used for local models served by Ollama, so dataset generation can run
//	against an open-weights model without a hosted API key.
//
// Thread Safety: Safe for concurrent use if the wrapped model is.
type LangChainChatAdapter struct {
	model    llms.Model
	provider string
}

// NewLangChainChatAdapter wraps model. provider is used for spans and
// metric labels.
func NewLangChainChatAdapter(model llms.Model, provider string) *LangChainChatAdapter {
	return &LangChainChatAdapter{model: model, provider: provider}
}

// NewOllamaChatAdapter creates an adapter backed by langchaingo's Ollama
// client.
//
// Inputs:
//   - cfg: Model is required. BaseURL defaults to ResolveOllamaURL().
//
// Outputs:
//   - *LangChainChatAdapter: The adapter.
//   - error: Non-nil if the model is missing or the client cannot be built.
func NewOllamaChatAdapter(cfg ProviderConfig) (*LangChainChatAdapter, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama: model is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = ResolveOllamaURL()
	}
	model, err := ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("ollama: creating client: %w", err)
	}
	return NewLangChainChatAdapter(model, ProviderOllama), nil
}

// Chat implements ChatClient via llms.Model.GenerateContent.
func (a *LangChainChatAdapter) Chat(ctx context.Context, messages []datatypes.Message, opts ChatOptions) (string, error) {
	if a.model == nil {
		return "", fmt.Errorf("langchain model is nil")
	}
	return tracedChat(ctx, a.provider, "providers.LangChainChatAdapter.Chat", messages, opts,
		func(ctx context.Context) (string, error) {
			content := make([]llms.MessageContent, 0, len(messages))
			for _, m := range messages {
				content = append(content, llms.TextParts(messageType(m.Role), m.Content))
			}

			var callOpts []llms.CallOption
			if opts.Temperature >= 0 {
				callOpts = append(callOpts, llms.WithTemperature(opts.Temperature))
			}
			if opts.MaxTokens > 0 {
				callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
			}
			if opts.Model != "" {
				callOpts = append(callOpts, llms.WithModel(opts.Model))
			}

			resp, err := a.model.GenerateContent(ctx, content, callOpts...)
			if err != nil {
				return "", fmt.Errorf("%s: generate content: %w", a.provider, err)
			}
			if resp == nil || len(resp.Choices) == 0 {
				return "", fmt.Errorf("%s: returned no choices", a.provider)
			}
			return resp.Choices[0].Content, nil
		})
}

func messageType(role string) llms.ChatMessageType {
	switch role {
	case datatypes.RoleSystem:
		return llms.ChatMessageTypeSystem
	case datatypes.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
