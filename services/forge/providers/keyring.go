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
	"log/slog"
	"strings"

	"github.com/awnumar/memguard"

	"github.com/Buycar-arb/ToolForge/services/llm"
)

// KeyRing holds the API keys of one role, each sealed in its own enclave.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type KeyRing struct {
	keys  []*memguard.Enclave
	hints []string
}

// sealKey is replaced in tests.
var sealKey = llm.SealKey

// NewKeyRing seals every non-blank key. Duplicates are kept once. A key
// that cannot be sealed is skipped with a warning naming its hint.
func NewKeyRing(keys []string) *KeyRing {
	ring := &KeyRing{}
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		enclave, err := sealKey(k)
		if err != nil {
			slog.Warn("Skipping API key that could not be sealed",
				slog.String("key", llm.KeyHint(k)),
				slog.String("error", err.Error()))
			continue
		}
		ring.keys = append(ring.keys, enclave)
		ring.hints = append(ring.hints, llm.KeyHint(k))
	}
	return ring
}

// ParseKeyList splits a comma or newline separated key list.
func ParseKeyList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	})
}

// Len returns the number of keys.
func (r *KeyRing) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Enclave returns the sealed key at index i.
func (r *KeyRing) Enclave(i int) *memguard.Enclave {
	return r.keys[i]
}

// Hint returns a loggable identifier of key i.
func (r *KeyRing) Hint(i int) string {
	return r.hints[i]
}
