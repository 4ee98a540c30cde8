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
	"os"
	"slices"
	"strings"
	"time"

	"github.com/awnumar/memguard"
)

// Provider constants for supported backends.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// Service role names, used as metric labels and in logs.
const (
	RoleGenerator = "generator"
	RoleJudge     = "judge"
)

// ValidProviders contains the set of valid provider names.
var ValidProviders = []string{ProviderAnthropic, ProviderOpenAI, ProviderOllama}

// IsValidProvider reports whether provider is supported.
func IsValidProvider(provider string) bool {
	return slices.Contains(ValidProviders, provider)
}

// ProviderConfig configures a single ChatClient.
type ProviderConfig struct {
	// Provider is the backend: "anthropic", "openai" or "ollama".
	Provider string

	// Model is the provider-specific model identifier.
	Model string

	// BaseURL is an optional endpoint override. For "openai" this may
	// point at any OpenAI-compatible gateway.
	BaseURL string

	// Key is the sealed API key. Ignored by "ollama".
	Key *memguard.Enclave

	// Timeout is the per-request HTTP timeout. Zero uses the client default.
	Timeout time.Duration
}

// ResolveOllamaURL returns OLLAMA_BASE_URL or the local default.
func ResolveOllamaURL() string {
	if url := os.Getenv("OLLAMA_BASE_URL"); url != "" {
		return url
	}
	return "http://localhost:11434"
}

// InferProvider infers the provider from a model name.
//
// Description:
//
//	"claude-*" maps to anthropic and "gpt-*" to openai. Gateway-style
//	names such as "anthropic.claude-sonnet-4" are served through an
//	OpenAI-compatible endpoint and map to openai. Anything else is "".
func InferProvider(model string) string {
	switch {
	case strings.HasPrefix(model, "claude-"):
		return ProviderAnthropic
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "anthropic."):
		return ProviderOpenAI
	default:
		return ""
	}
}
