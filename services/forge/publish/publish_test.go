// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package publish

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	failKey string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memStore) Put(_ context.Context, key, contentType string, r io.Reader) error {
	if key == m.failKey {
		return errors.New("quota exceeded")
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = b
	m.types[key] = contentType
	return nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func outputDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"validated_case_A1.jsonl": "{\"a\":1}\n{\"a\":2}\n",
		"score_case_A1.jsonl":     "{\"s\":1}\n{\"s\":2}\n{\"s\":3}\n",
		"notes.txt":               "ignored",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestPublish(t *testing.T) {
	store := newMemStore()
	p := NewPublisher(store, "toolforge", nil)
	p.now = func() time.Time { return time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC) }

	m, err := p.Publish(context.Background(), outputDir(t), "run-1")
	require.NoError(t, err)

	require.Len(t, m.Files, 2)
	assert.Equal(t, "score_case_A1.jsonl", m.Files[0].Name)
	assert.Equal(t, 3, m.Files[0].Lines)
	assert.Equal(t, "toolforge/run-1/validated_case_A1.jsonl", m.Files[1].Key)
	assert.Equal(t, 2, m.Files[1].Lines)

	body := "{\"a\":1}\n{\"a\":2}\n"
	sum := sha256.Sum256([]byte(body))
	assert.Equal(t, hex.EncodeToString(sum[:]), m.Files[1].SHA256)
	assert.Equal(t, int64(len(body)), m.Files[1].Bytes)

	assert.Equal(t, body, string(store.objects["toolforge/run-1/validated_case_A1.jsonl"]))
	assert.Equal(t, jsonlContentType, store.types["toolforge/run-1/validated_case_A1.jsonl"])
	assert.NotContains(t, store.objects, "toolforge/run-1/notes.txt")

	var back Manifest
	require.NoError(t, json.Unmarshal(store.objects["toolforge/run-1/manifest.json"], &back))
	assert.Equal(t, "run-1", back.Run)
	assert.Equal(t, 2025, back.PublishedAt.Year())

	done, err := p.Published(context.Background(), "run-1")
	require.NoError(t, err)
	assert.True(t, done)
	done, err = p.Published(context.Background(), "run-2")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestPublish_FailureSkipsManifest(t *testing.T) {
	store := newMemStore()
	store.failKey = "toolforge/run-1/score_case_A1.jsonl"
	p := NewPublisher(store, "toolforge", nil)

	_, err := p.Publish(context.Background(), outputDir(t), "run-1")
	require.ErrorContains(t, err, "quota exceeded")
	assert.NotContains(t, store.objects, "toolforge/run-1/manifest.json")
}

func TestPublish_EmptyDir(t *testing.T) {
	p := NewPublisher(newMemStore(), "toolforge", nil)
	_, err := p.Publish(context.Background(), t.TempDir(), "run-1")
	assert.ErrorIs(t, err, ErrNothingToPublish)
}

func TestClientOptions(t *testing.T) {
	assert.Len(t, ClientOptions(""), 1)
	assert.Len(t, ClientOptions(`{"type":"service_account"}`), 2)
	assert.Len(t, ClientOptions("/etc/key.json"), 2)
}

func TestNewGCSStore_RequiresBucket(t *testing.T) {
	_, err := NewGCSStore(context.Background(), "")
	assert.Error(t, err)
}
