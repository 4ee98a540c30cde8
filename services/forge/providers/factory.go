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
	"errors"
	"fmt"
	"log/slog"

	"github.com/Buycar-arb/ToolForge/services/llm"
)

// ErrNoKeys is returned when a hosted provider is configured without keys.
var ErrNoKeys = errors.New("providers: no API keys configured")

// ProviderFactory creates ChatClients and Services from configuration.
//
// Thread Safety: ProviderFactory is safe for concurrent use after construction.
type ProviderFactory struct {
	logger *slog.Logger
}

// NewProviderFactory creates a new ProviderFactory. A nil logger uses
// slog.Default().
func NewProviderFactory(logger *slog.Logger) *ProviderFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProviderFactory{logger: logger}
}

// CreateChatClient creates a ChatClient adapter for the given provider config.
//
// Inputs:
//   - cfg: Provider configuration. Hosted providers need cfg.Key.
//
// Outputs:
//   - ChatClient: The chat adapter for the specified provider.
//   - error: Non-nil if the provider is unsupported or construction fails.
//
// Example:
//
//	client, err := factory.CreateChatClient(ProviderConfig{
//	    Provider: "openai",
//	    Model:    "gpt-4.1",
//	    Key:      ring.Enclave(0),
//	})
func (f *ProviderFactory) CreateChatClient(cfg ProviderConfig) (ChatClient, error) {
	switch cfg.Provider {
	case ProviderAnthropic:
		if cfg.Key == nil {
			return nil, fmt.Errorf("API key required for Anthropic provider")
		}
		return NewAnthropicChatAdapter(llm.NewAnthropicClient(cfg.Key, cfg.Model, cfg.BaseURL, cfg.Timeout)), nil

	case ProviderOpenAI:
		if cfg.Key == nil {
			return nil, fmt.Errorf("API key required for OpenAI provider")
		}
		return NewOpenAIChatAdapter(llm.NewOpenAIClient(cfg.Key, cfg.Model, cfg.BaseURL, cfg.Timeout)), nil

	case ProviderOllama:
		return NewOllamaChatAdapter(cfg)

	default:
		return nil, fmt.Errorf("unsupported provider: %q (valid: %v)", cfg.Provider, ValidProviders)
	}
}

// CreateService builds a Service with one client per key in ring.
//
// Description:
//
//	Hosted providers get one ChatClient per key and rotate through them.
//	Ollama needs no key and gets a single client.
//
// Inputs:
//   - cfg: Provider configuration; cfg.Key is ignored.
//   - ring: Keys of this role. May be nil for Ollama.
//   - scfg: Retry and pacing policy.
//
// Outputs:
//   - *Service: The service.
//   - error: ErrNoKeys, or a client construction error.
func (f *ProviderFactory) CreateService(cfg ProviderConfig, ring *KeyRing, scfg ServiceConfig) (*Service, error) {
	if cfg.Provider == ProviderOllama {
		client, err := f.CreateChatClient(cfg)
		if err != nil {
			return nil, err
		}
		return NewService(scfg, []ChatClient{client}, []string{"local"}, f.logger)
	}

	if ring.Len() == 0 {
		return nil, fmt.Errorf("%w: role %q provider %q", ErrNoKeys, scfg.Role, cfg.Provider)
	}

	clients := make([]ChatClient, 0, ring.Len())
	hints := make([]string, 0, ring.Len())
	for i := 0; i < ring.Len(); i++ {
		keyed := cfg
		keyed.Key = ring.Enclave(i)
		client, err := f.CreateChatClient(keyed)
		if err != nil {
			return nil, fmt.Errorf("creating %s client %d: %w", cfg.Provider, i, err)
		}
		clients = append(clients, client)
		hints = append(hints, ring.Hint(i))
	}

	f.logger.Info("model service ready",
		slog.String("role", scfg.Role),
		slog.String("provider", cfg.Provider),
		slog.String("model", cfg.Model),
		slog.Int("keys", len(clients)),
	)
	return NewService(scfg, clients, hints, f.logger)
}
