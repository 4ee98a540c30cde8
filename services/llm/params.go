// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm holds raw net/http clients for the hosted chat APIs used to
// plan, render and judge conversations.
//
// API keys are kept sealed in memguard enclaves and only opened for the
// duration of a single request.
package llm

import (
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
)

// ErrEmptyKey is returned when a client is built without an API key.
var ErrEmptyKey = errors.New("llm: API key is empty")

// GenerationParams are the optional sampling parameters of one request.
// Nil pointers leave the provider default in place.
type GenerationParams struct {
	Temperature   *float32
	MaxTokens     *int
	TopP          *float32
	Stop          []string
	ModelOverride string
}

// SealKey moves an API key into an encrypted enclave.
//
// The returned enclave is the only copy the caller should keep; the plain
// string cannot be wiped but the byte copy handed to memguard is.
func SealKey(apiKey string) (*memguard.Enclave, error) {
	if apiKey == "" {
		return nil, ErrEmptyKey
	}
	return memguard.NewEnclave([]byte(apiKey)), nil
}

// withKey opens the enclave, hands the plaintext key to fn and destroys
// the plaintext buffer afterwards.
func withKey(key *memguard.Enclave, fn func(apiKey string) error) error {
	if key == nil {
		return ErrEmptyKey
	}
	buf, err := key.Open()
	if err != nil {
		return fmt.Errorf("llm: opening key enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(string(buf.Bytes()))
}
