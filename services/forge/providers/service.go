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
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
)

var (
	// ErrNoClients is returned when a Service is built without clients.
	ErrNoClients = errors.New("providers: service has no clients")

	// ErrAllKeysFailed is returned when every key exhausted its retries.
	ErrAllKeysFailed = errors.New("providers: all keys failed")
)

// ServiceConfig is the retry and pacing policy of one Service.
type ServiceConfig struct {
	// Role labels logs and metrics ("generator", "judge").
	Role string

	// RetryAttempts is the number of attempts per key before rotating.
	// Zero means 1.
	RetryAttempts int

	// RetryDelay is the pause between attempts and between keys.
	RetryDelay time.Duration

	// RetryJitter adds a uniform random [0, RetryJitter) to each pause.
	RetryJitter time.Duration

	// MaxKeys caps how many keys one call may try. Zero means all.
	MaxKeys int

	// RequestsPerSecond limits outgoing requests across all callers.
	// Zero or negative disables limiting.
	RequestsPerSecond float64

	// Burst is the limiter burst. Zero means 1.
	Burst int

	// Options are passed to every chat call.
	Options ChatOptions
}

// Service implements LanguageModelService over a ring of ChatClients,
// one per API key.
//
// Description:
//
//	Each Generate call starts on the next key in round-robin order. A key
//	is retried RetryAttempts times with RetryDelay (+ jitter) between
//	attempts; when exhausted the call moves on to the next key. All
//	requests pass through a shared token-bucket limiter.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	cfg     ServiceConfig
	clients []ChatClient
	hints   []string
	next    atomic.Uint64
	limiter *rate.Limiter
	logger  *slog.Logger

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService creates a Service.
//
// Inputs:
//   - cfg: Retry and pacing policy.
//   - clients: One client per key, in rotation order. Must be non-empty.
//   - hints: Loggable key identifiers aligned with clients. May be nil.
//   - logger: Logger. Nil uses slog.Default().
//
// Outputs:
//   - *Service: The service.
//   - error: ErrNoClients when clients is empty.
func NewService(cfg ServiceConfig, clients []ChatClient, hints []string, logger *slog.Logger) (*Service, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("%w: role %q", ErrNoClients, cfg.Role)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if len(hints) != len(clients) {
		hints = make([]string, len(clients))
		for i := range hints {
			hints[i] = fmt.Sprintf("key#%d", i)
		}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Service{
		cfg:     cfg,
		clients: clients,
		hints:   hints,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger.With(slog.String("role", cfg.Role)),
		sleep:   sleepContext,
	}, nil
}

// Role returns the configured role name.
func (s *Service) Role() string {
	return s.cfg.Role
}

// Generate implements LanguageModelService.
//
// Outputs:
//
//	string - The reply text. An empty reply is returned as-is.
//	error - Context errors immediately; ErrAllKeysFailed (wrapping the last
//	        provider error) once every key is exhausted.
func (s *Service) Generate(ctx context.Context, messages []datatypes.Message, system string) (string, error) {
	msgs := make([]datatypes.Message, 0, len(messages)+1)
	if system != "" {
		msgs = append(msgs, datatypes.Message{Role: datatypes.RoleSystem, Content: system})
	}
	msgs = append(msgs, messages...)

	keys := len(s.clients)
	if s.cfg.MaxKeys > 0 && s.cfg.MaxKeys < keys {
		keys = s.cfg.MaxKeys
	}

	start := s.next.Add(1) - 1
	var lastErr error
	for k := 0; k < keys; k++ {
		idx := int((start + uint64(k)) % uint64(len(s.clients)))
		client := s.clients[idx]

		for attempt := 1; attempt <= s.cfg.RetryAttempts; attempt++ {
			if err := s.limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("providers: %s rate limiter: %w", s.cfg.Role, err)
			}

			reply, err := client.Chat(ctx, msgs, s.cfg.Options)
			if err == nil {
				return reply, nil
			}
			lastErr = err
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", fmt.Errorf("providers: %s generate: %w", s.cfg.Role, ctxErr)
			}

			s.logger.Warn("model call failed",
				slog.String("key", s.hints[idx]),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", s.cfg.RetryAttempts),
				slog.String("error_type", classifyChatError(err)),
				slog.String("error", err.Error()))

			if attempt < s.cfg.RetryAttempts {
				serviceRetriesTotal.WithLabelValues(s.cfg.Role).Inc()
				if err := s.pause(ctx); err != nil {
					return "", err
				}
			}
		}

		serviceKeyRotationsTotal.WithLabelValues(s.cfg.Role).Inc()
		if k < keys-1 {
			s.logger.Info("switching to next API key", slog.String("exhausted_key", s.hints[idx]))
			if err := s.pause(ctx); err != nil {
				return "", err
			}
		}
	}

	serviceExhaustedTotal.WithLabelValues(s.cfg.Role).Inc()
	return "", fmt.Errorf("%w: role %s tried %d keys: %w", ErrAllKeysFailed, s.cfg.Role, keys, lastErr)
}

func (s *Service) pause(ctx context.Context) error {
	d := s.cfg.RetryDelay
	if s.cfg.RetryJitter > 0 {
		d += rand.N(s.cfg.RetryJitter)
	}
	if d <= 0 {
		return nil
	}
	if err := s.sleep(ctx, d); err != nil {
		return fmt.Errorf("providers: %s backoff: %w", s.cfg.Role, err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ LanguageModelService = (*Service)(nil)
