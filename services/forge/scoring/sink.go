// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Buycar-arb/ToolForge/services/forge/record"
)

// Sink appends accepted records and score lines to per-case JSONL files in
// one directory: validated_<case>.jsonl and score_<case>.jsonl.
//
// Thread Safety: Safe for concurrent use. Appends to one file are
// serialized; different files proceed in parallel.
type Sink struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSink creates the output directory if needed.
func NewSink(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("scoring: create output dir: %w", err)
	}
	return &Sink{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// Dir returns the output directory.
func (s *Sink) Dir() string {
	return s.dir
}

// DatasetPath is the accepted-record file of a case key such as "case_C4".
func (s *Sink) DatasetPath(caseKey string) string {
	return filepath.Join(s.dir, "validated_"+caseKey+".jsonl")
}

// ScorePath is the score log of a case key.
func (s *Sink) ScorePath(caseKey string) string {
	return filepath.Join(s.dir, "score_"+caseKey+".jsonl")
}

// AppendRecord appends an accepted record to its case's dataset file.
func (s *Sink) AppendRecord(rec *record.ConversationRecord) error {
	return s.appendLine(s.DatasetPath(rec.Case), rec)
}

// AppendScore appends a score line to its case's score log.
func (s *Sink) AppendScore(score record.ScoreRecord) error {
	return s.appendLine(s.ScorePath(score.Case), score)
}

func (s *Sink) lockFor(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	return l
}

func (s *Sink) appendLine(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("scoring: encode line for %s: %w", filepath.Base(path), err)
	}

	l := s.lockFor(path)
	l.Lock()
	defer l.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("scoring: open %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("scoring: append %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("scoring: close %s: %w", filepath.Base(path), err)
	}
	return nil
}
