// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package progress checkpoints per-case run counters so an interrupted run
// can continue toward its targets.
//
// Storage layout:
//
//	progress/v1/{runKey}/{caseKey}  →  JSON Counts
//
// The run key is a digest of the input file and output directory, so runs
// over different inputs never share counters. Deleting the progress
// directory resets every run.
package progress

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	badgerstore "github.com/Buycar-arb/ToolForge/services/storage/badger"
)

// KeyPrefix is the root of every progress key.
const KeyPrefix = "progress/v1/"

// Counts are the counters of one case in one run.
type Counts struct {
	Accepted  int       `json:"accepted"`
	Attempted int       `json:"attempted"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entry is one stored counter set, as listed by Scan.
type Entry struct {
	Run    string
	Case   string
	Counts Counts
	Err    error
}

// Store reads and writes the counters of one run.
//
// Thread Safety: Safe for concurrent use. Callers serialize updates of the
// same case.
type Store struct {
	db     *badgerstore.DB
	run    string
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a Store for the run identified by runKey.
//
// The DB is owned by the caller and must outlive the store.
func NewStore(db *badgerstore.DB, runKey string, logger *slog.Logger) *Store {
	if db == nil {
		panic("progress.NewStore: db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, run: runKey, logger: logger, now: time.Now}
}

// Run returns the run key.
func (s *Store) Run() string {
	return s.run
}

// Load returns the stored counters of a case. A case never saved returns
// zero Counts and false.
func (s *Store) Load(ctx context.Context, caseKey string) (Counts, bool, error) {
	var (
		counts Counts
		found  bool
	)
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(s.key(caseKey))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get: %w", err)
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		if err := json.Unmarshal(raw, &counts); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return Counts{}, false, fmt.Errorf("progress: load %s: %w", caseKey, err)
	}
	return counts, found, nil
}

// Save stores the counters of a case, stamping UpdatedAt.
func (s *Store) Save(ctx context.Context, caseKey string, c Counts) error {
	c.UpdatedAt = s.now().UTC()
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("progress: encode %s: %w", caseKey, err)
	}
	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(s.key(caseKey), raw)
	})
	if err != nil {
		return fmt.Errorf("progress: save %s: %w", caseKey, err)
	}
	s.logger.Debug("progress saved",
		slog.String("case", caseKey),
		slog.Int("accepted", c.Accepted),
		slog.Int("attempted", c.Attempted))
	return nil
}

// Reset deletes the counters of a case.
func (s *Store) Reset(ctx context.Context, caseKey string) error {
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Delete(s.key(caseKey))
	})
	if err != nil {
		return fmt.Errorf("progress: reset %s: %w", caseKey, err)
	}
	return nil
}

// All returns every case counter of this run.
func (s *Store) All(ctx context.Context) (map[string]Counts, error) {
	entries, err := scan(ctx, s.db, KeyPrefix+s.run+"/")
	if err != nil {
		return nil, err
	}
	out := make(map[string]Counts, len(entries))
	for _, e := range entries {
		if e.Err != nil {
			return nil, fmt.Errorf("progress: %s: %w", e.Case, e.Err)
		}
		out[e.Case] = e.Counts
	}
	return out, nil
}

// Scan lists every stored counter of every run. Undecodable values are
// returned with Err set.
func Scan(ctx context.Context, db *badgerstore.DB) ([]Entry, error) {
	return scan(ctx, db, KeyPrefix)
}

func scan(ctx context.Context, db *badgerstore.DB, prefix string) ([]Entry, error) {
	var entries []Entry
	err := db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			run, caseKey, ok := splitKey(string(item.Key()))
			if !ok {
				continue
			}
			e := Entry{Run: run, Case: caseKey}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				e.Err = fmt.Errorf("copy value: %w", err)
			} else if err := json.Unmarshal(raw, &e.Counts); err != nil {
				e.Err = fmt.Errorf("decode: %w", err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("progress: scan: %w", err)
	}
	return entries, nil
}

// RunKey derives the run key of an input file and output directory.
func RunKey(inputPath, outputDir string) string {
	if abs, err := filepath.Abs(inputPath); err == nil {
		inputPath = abs
	}
	if abs, err := filepath.Abs(outputDir); err == nil {
		outputDir = abs
	}
	h := sha256.New()
	fmt.Fprintf(h, "input=%s\noutput=%s\n", inputPath, outputDir)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (s *Store) key(caseKey string) []byte {
	return []byte(KeyPrefix + s.run + "/" + caseKey)
}

func splitKey(key string) (run, caseKey string, ok bool) {
	rest, found := strings.CutPrefix(key, KeyPrefix)
	if !found {
		return "", "", false
	}
	run, caseKey, ok = strings.Cut(rest, "/")
	return run, caseKey, ok && run != "" && caseKey != ""
}
