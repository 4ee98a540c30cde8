// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package publish uploads a finished output directory to object storage
// together with a manifest describing every file.
package publish

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Buycar-arb/ToolForge/services/forge/record"
)

// ManifestName is the object written last under the run prefix.
const ManifestName = "manifest.json"

const (
	jsonlContentType = "application/x-ndjson"
	jsonContentType  = "application/json"
	defaultParallel  = 4
)

// ErrNothingToPublish is returned when the directory has no output files.
var ErrNothingToPublish = errors.New("publish: no dataset or score files found")

var outputPatterns = []string{"validated_*.jsonl", "score_*.jsonl"}

// FileEntry describes one uploaded file.
type FileEntry struct {
	Name   string `json:"name"`
	Key    string `json:"key"`
	Bytes  int64  `json:"bytes"`
	Lines  int    `json:"lines"`
	SHA256 string `json:"sha256"`
}

// Manifest lists the files of one published run.
type Manifest struct {
	Run         string      `json:"run"`
	Prefix      string      `json:"prefix"`
	PublishedAt time.Time   `json:"published_at"`
	Files       []FileEntry `json:"files"`
}

// Publisher uploads output directories.
type Publisher struct {
	store    ObjectStore
	prefix   string
	parallel int
	logger   *slog.Logger
	now      func() time.Time
}

// NewPublisher creates a Publisher writing under prefix.
func NewPublisher(store ObjectStore, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{store: store, prefix: prefix, parallel: defaultParallel, logger: logger, now: time.Now}
}

// Publish uploads every dataset and score file of dir under
// <prefix>/<run>/ and then writes the manifest.
//
// Description:
//
//	Files are uploaded concurrently. The manifest is only written after all
//	uploads succeed, so its presence marks a complete publish.
//
// Outputs:
//
//	*Manifest - The manifest written.
//	error - ErrNothingToPublish, or the first upload failure.
func (p *Publisher) Publish(ctx context.Context, dir, run string) (*Manifest, error) {
	files, err := outputFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNothingToPublish
	}
	base := path.Join(p.prefix, run)

	entries := make([]FileEntry, len(files))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallel)
	for i, file := range files {
		g.Go(func() error {
			entry, err := p.upload(gctx, file, base)
			if err != nil {
				return err
			}
			mu.Lock()
			entries[i] = entry
			mu.Unlock()
			p.logger.Info("uploaded", slog.String("key", entry.Key), slog.Int("lines", entry.Lines))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m := &Manifest{Run: run, Prefix: base, PublishedAt: p.now().UTC(), Files: entries}
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("publish: encode manifest: %w", err)
	}
	if err := p.store.Put(ctx, path.Join(base, ManifestName), jsonContentType, bytes.NewReader(body)); err != nil {
		return nil, err
	}
	return m, nil
}

// Published reports whether run already has a manifest.
func (p *Publisher) Published(ctx context.Context, run string) (bool, error) {
	key := path.Join(p.prefix, run, ManifestName)
	keys, err := p.store.List(ctx, key)
	if err != nil {
		return false, err
	}
	for _, k := range keys {
		if k == key {
			return true, nil
		}
	}
	return false, nil
}

func (p *Publisher) upload(ctx context.Context, file, base string) (FileEntry, error) {
	entry, err := describe(file)
	if err != nil {
		return FileEntry{}, err
	}
	entry.Key = path.Join(base, entry.Name)

	f, err := os.Open(file)
	if err != nil {
		return FileEntry{}, fmt.Errorf("publish: open %s: %w", file, err)
	}
	defer f.Close()
	if err := p.store.Put(ctx, entry.Key, jsonlContentType, f); err != nil {
		return FileEntry{}, err
	}
	return entry, nil
}

// describe hashes and counts the lines of one file.
func describe(file string) (FileEntry, error) {
	f, err := os.Open(file)
	if err != nil {
		return FileEntry{}, fmt.Errorf("publish: open %s: %w", file, err)
	}
	defer f.Close()

	h := sha256.New()
	counter := &countingWriter{}
	lines := 0
	err = record.ForEachLine(io.TeeReader(f, io.MultiWriter(h, counter)), func(int, []byte) error {
		lines++
		return nil
	})
	if err != nil {
		return FileEntry{}, fmt.Errorf("publish: read %s: %w", file, err)
	}
	return FileEntry{
		Name:   filepath.Base(file),
		Bytes:  counter.n,
		Lines:  lines,
		SHA256: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func outputFiles(dir string) ([]string, error) {
	var files []string
	for _, pattern := range outputPatterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("publish: glob: %w", err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
