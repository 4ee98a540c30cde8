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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
	"github.com/Buycar-arb/ToolForge/services/llm"
)

// toGenerationParams converts ChatOptions into llm.GenerationParams.
func toGenerationParams(opts ChatOptions) llm.GenerationParams {
	params := llm.GenerationParams{ModelOverride: opts.Model}
	if opts.Temperature >= 0 {
		temp := float32(opts.Temperature)
		params.Temperature = &temp
	}
	if opts.MaxTokens > 0 {
		maxTokens := opts.MaxTokens
		params.MaxTokens = &maxTokens
	}
	return params
}

// tracedChat wraps one provider call in a span and records metrics.
func tracedChat(ctx context.Context, provider, spanName string, messages []datatypes.Message, opts ChatOptions,
	call func(ctx context.Context) (string, error)) (string, error) {
	ctx, span := otel.Tracer(chatTracerName).Start(ctx, spanName,
		trace.WithAttributes(
			attribute.String("provider", provider),
			attribute.Int("message_count", len(messages)),
			attribute.Float64("temperature", opts.Temperature),
		),
	)
	defer span.End()

	startTime := time.Now()
	result, err := call(ctx)
	duration := time.Since(startTime)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordChatMetrics(provider, duration, err)
		return "", err
	}

	span.SetAttributes(attribute.Int("response_len", len(result)))
	recordChatMetrics(provider, duration, nil)
	return result, nil
}

// AnthropicChatAdapter wraps llm.AnthropicClient to implement ChatClient.
//
// Thread Safety: AnthropicChatAdapter is safe for concurrent use.
type AnthropicChatAdapter struct {
	client *llm.AnthropicClient
}

// NewAnthropicChatAdapter creates a new AnthropicChatAdapter.
func NewAnthropicChatAdapter(client *llm.AnthropicClient) *AnthropicChatAdapter {
	return &AnthropicChatAdapter{client: client}
}

// Chat implements ChatClient by delegating to AnthropicClient.Chat.
func (a *AnthropicChatAdapter) Chat(ctx context.Context, messages []datatypes.Message, opts ChatOptions) (string, error) {
	if a.client == nil {
		return "", fmt.Errorf("Anthropic client is nil")
	}
	return tracedChat(ctx, ProviderAnthropic, "providers.AnthropicChatAdapter.Chat", messages, opts,
		func(ctx context.Context) (string, error) {
			return a.client.Chat(ctx, messages, toGenerationParams(opts))
		})
}

// OpenAIChatAdapter wraps llm.OpenAIClient to implement ChatClient.
//
// Thread Safety: OpenAIChatAdapter is safe for concurrent use.
type OpenAIChatAdapter struct {
	client *llm.OpenAIClient
}

// NewOpenAIChatAdapter creates a new OpenAIChatAdapter.
func NewOpenAIChatAdapter(client *llm.OpenAIClient) *OpenAIChatAdapter {
	return &OpenAIChatAdapter{client: client}
}

// Chat implements ChatClient by delegating to OpenAIClient.Chat.
func (a *OpenAIChatAdapter) Chat(ctx context.Context, messages []datatypes.Message, opts ChatOptions) (string, error) {
	if a.client == nil {
		return "", fmt.Errorf("OpenAI client is nil")
	}
	return tracedChat(ctx, ProviderOpenAI, "providers.OpenAIChatAdapter.Chat", messages, opts,
		func(ctx context.Context) (string, error) {
			return a.client.Chat(ctx, messages, toGenerationParams(opts))
		})
}

var (
	_ ChatClient = (*AnthropicChatAdapter)(nil)
	_ ChatClient = (*OpenAIChatAdapter)(nil)
	_ ChatClient = (*LangChainChatAdapter)(nil)
)
