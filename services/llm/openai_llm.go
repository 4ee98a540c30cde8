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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/awnumar/memguard"

	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
)

// =============================================================================
// OpenAI Wire Types
// =============================================================================

// DefaultOpenAIBaseURL is the Chat Completions endpoint. Any gateway that
// speaks the same protocol (including ones fronting Claude models) can be
// used through the base URL override.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1/chat/completions"

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Temperature *float32        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	TopP        *float32        `json:"top_p,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Stream      bool            `json:"stream"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Choices []openaiChoice `json:"choices"`
	Error   *openaiError   `json:"error,omitempty"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// OpenAIClient talks to an OpenAI-compatible Chat Completions endpoint.
//
// Thread Safety: OpenAIClient is safe for concurrent use.
type OpenAIClient struct {
	httpClient *http.Client
	key        *memguard.Enclave
	model      string
	baseURL    string
}

// NewOpenAIClient creates a client that authenticates with a sealed key.
//
// Inputs:
//   - key: Sealed API key (see SealKey). Must not be nil.
//   - model: Model identifier, e.g. "gpt-4.1".
//   - baseURL: Endpoint override. Empty uses DefaultOpenAIBaseURL.
//   - timeout: Per-request HTTP timeout. Zero uses 120s.
func NewOpenAIClient(key *memguard.Enclave, model, baseURL string, timeout time.Duration) *OpenAIClient {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAIClient{
		httpClient: &http.Client{Timeout: timeout},
		key:        key,
		model:      model,
		baseURL:    baseURL,
	}
}

// NewOpenAIClientWithConfig seals apiKey and creates a client with the
// default timeout.
func NewOpenAIClientWithConfig(apiKey, model, baseURL string) (*OpenAIClient, error) {
	key, err := SealKey(apiKey)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	return NewOpenAIClient(key, model, baseURL, 0), nil
}

// Model returns the configured model identifier.
func (o *OpenAIClient) Model() string {
	return o.model
}

// Chat sends a chat completion request and returns the first choice.
//
// Description:
//
//	Roles other than system, user and assistant are mapped to user.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - messages: Conversation history.
//   - params: Generation parameters.
//
// Outputs:
//   - string: The assistant's response text.
//   - error: Non-nil if the request fails.
//
// Thread Safety: This method is safe for concurrent use.
func (o *OpenAIClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error) {
	model := o.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}

	oaiMessages := make([]openaiMessage, 0, len(messages))
	for _, msg := range messages {
		role := msg.Role
		switch role {
		case datatypes.RoleSystem, datatypes.RoleUser, datatypes.RoleAssistant:
		default:
			slog.Warn("OpenAI: unknown message role, mapping to user",
				slog.String("unknown_role", role),
				slog.String("model", model),
			)
			role = datatypes.RoleUser
		}
		oaiMessages = append(oaiMessages, openaiMessage{Role: role, Content: msg.Content})
	}

	reqPayload := openaiRequest{
		Model:       model,
		Messages:    oaiMessages,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		TopP:        params.TopP,
		Stop:        params.Stop,
	}

	reqBody, err := json.Marshal(reqPayload)
	if err != nil {
		return "", fmt.Errorf("openai: marshaling request: %w", err)
	}

	var bodyBytes []byte
	var status int
	err = withKey(o.key, func(apiKey string) error {
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(reqBody))
		if reqErr != nil {
			return fmt.Errorf("creating HTTP request: %w", reqErr)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)

		resp, doErr := o.httpClient.Do(httpReq)
		if doErr != nil {
			return fmt.Errorf("HTTP request failed: %w", doErr)
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		var readErr error
		bodyBytes, readErr = io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("reading response body: %w", readErr)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}

	if status != http.StatusOK {
		return "", fmt.Errorf("openai: API returned status %d: %s", status, SafeLogString(string(bodyBytes)))
	}

	var apiResp openaiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("openai: parsing response JSON: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("openai: API error: %s - %s", apiResp.Error.Type, SafeLogString(apiResp.Error.Message))
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("openai: returned no choices")
	}

	slog.Debug("Received OpenAI chat response",
		slog.String("model", model),
		slog.String("finish_reason", apiResp.Choices[0].FinishReason),
		slog.Int("response_len", len(apiResp.Choices[0].Message.Content)),
	)

	return apiResp.Choices[0].Message.Content, nil
}
