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
	"strings"
	"time"

	"github.com/awnumar/memguard"

	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
)

const (
	anthropicAPIVersion = "2023-06-01"

	// DefaultAnthropicBaseURL is the Messages API endpoint.
	DefaultAnthropicBaseURL = "https://api.anthropic.com/v1/messages"

	defaultAnthropicMaxTokens = 4096
)

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      []systemBlock      `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	StopSeqs    []string           `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason,omitempty"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"` // "ephemeral"
}

type anthropicContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnthropicClient talks to the Anthropic Messages API.
//
// Thread Safety: AnthropicClient is safe for concurrent use.
type AnthropicClient struct {
	httpClient *http.Client
	key        *memguard.Enclave
	model      string
	baseURL    string
}

// NewAnthropicClient creates a client that authenticates with a sealed key.
//
// Inputs:
//   - key: Sealed API key (see SealKey). Must not be nil.
//   - model: Model identifier, e.g. "claude-sonnet-4-20250514".
//   - baseURL: Endpoint override. Empty uses DefaultAnthropicBaseURL.
//   - timeout: Per-request HTTP timeout. Zero uses 60s.
//
// Outputs:
//   - *AnthropicClient: The configured client.
func NewAnthropicClient(key *memguard.Enclave, model, baseURL string, timeout time.Duration) *AnthropicClient {
	if baseURL == "" {
		baseURL = DefaultAnthropicBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &AnthropicClient{
		httpClient: &http.Client{Timeout: timeout},
		key:        key,
		model:      model,
		baseURL:    baseURL,
	}
}

// NewAnthropicClientWithConfig seals apiKey and creates a client with the
// default timeout. Used by tests and one-off tools.
func NewAnthropicClientWithConfig(apiKey, model, baseURL string) (*AnthropicClient, error) {
	key, err := SealKey(apiKey)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	return NewAnthropicClient(key, model, baseURL, 0), nil
}

// Model returns the configured model identifier.
func (a *AnthropicClient) Model() string {
	return a.model
}

// Chat sends a conversation and returns the concatenated text blocks.
//
// Description:
//
//	System messages are lifted into the top-level system field; long system
//	prompts (tool lists) are marked for prompt caching. Any other role is
//	passed through as-is.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - messages: Conversation history.
//   - params: Generation parameters.
//
// Outputs:
//   - string: The assistant's text.
//   - error: Non-nil on transport, status, or decoding failure.
//
// Thread Safety: This method is safe for concurrent use.
func (a *AnthropicClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error) {
	model := a.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}

	var apiMessages []anthropicMessage
	var systemParts []string
	for _, msg := range messages {
		if strings.EqualFold(msg.Role, datatypes.RoleSystem) {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		apiMessages = append(apiMessages, anthropicMessage{Role: msg.Role, Content: msg.Content})
	}

	var systemBlocks []systemBlock
	if systemPrompt := strings.Join(systemParts, "\n\n"); systemPrompt != "" {
		block := systemBlock{Type: "text", Text: systemPrompt}
		if len(systemPrompt) > 1024 {
			block.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		systemBlocks = append(systemBlocks, block)
	}

	reqPayload := anthropicRequest{
		Model:       model,
		Messages:    apiMessages,
		System:      systemBlocks,
		MaxTokens:   defaultAnthropicMaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		StopSeqs:    params.Stop,
	}
	if params.MaxTokens != nil {
		reqPayload.MaxTokens = *params.MaxTokens
	}

	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return "", fmt.Errorf("anthropic: marshaling request: %w", err)
	}

	var bodyBytes []byte
	var status int
	err = withKey(a.key, func(apiKey string) error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(reqBodyBytes))
		if reqErr != nil {
			return fmt.Errorf("creating HTTP request: %w", reqErr)
		}
		req.Header.Set("x-api-key", apiKey)
		req.Header.Set("anthropic-version", anthropicAPIVersion)
		req.Header.Set("content-type", "application/json")

		resp, doErr := a.httpClient.Do(req)
		if doErr != nil {
			return fmt.Errorf("HTTP request failed: %w", doErr)
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		var readErr error
		bodyBytes, readErr = io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("reading response body (status %d): %w", status, readErr)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}

	slog.Debug("Anthropic response received",
		slog.Int("status", status),
		slog.Int("body_length", len(bodyBytes)),
		slog.String("model", model),
	)

	if status != http.StatusOK {
		return "", fmt.Errorf("anthropic: API returned status %d: %s", status, SafeLogString(string(bodyBytes)))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("anthropic: parsing response JSON: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("anthropic: API error: %s - %s", apiResp.Error.Type, SafeLogString(apiResp.Error.Message))
	}
	if len(apiResp.Content) == 0 {
		return "", fmt.Errorf("anthropic: received empty content")
	}

	var text strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("anthropic: received content but no text block found")
	}
	return text.String(), nil
}
