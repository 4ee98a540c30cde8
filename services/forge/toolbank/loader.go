// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package toolbank loads tool schemas from a directory of per-tool JSONL
// files and samples the tool set shown to the model for one generation
// attempt: a random distractor pool, one variant of each gold tool, and
// optionally a general/fallback tool.
package toolbank

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
)

// DefaultGeneralTool is the file stem of the general/fallback tool.
const DefaultGeneralTool = "general_information_search"

// Distractor pool bounds used when the configuration leaves them unset.
const (
	DefaultMinDistractors = 3
	DefaultMaxDistractors = 8
)

// maxLineSize bounds a single tool definition line.
const maxLineSize = 1 << 20

var (
	// ErrNoTools is returned when the bank directory is missing, unreadable,
	// or holds no tool files. It is fatal for a run.
	ErrNoTools = errors.New("toolbank: no tools")

	// ErrNoGoodTools is returned when none of the record's gold tools could
	// be drawn from the bank. It fails a single attempt.
	ErrNoGoodTools = errors.New("toolbank: no good tools available")
)

// Config configures a Loader.
type Config struct {
	// Dir is the tool bank directory holding one *.jsonl file per tool.
	Dir string

	// GeneralTool is the file stem of the general/fallback tool.
	GeneralTool string

	// MinDistractors and MaxDistractors bound the sampled distractor count.
	MinDistractors int
	MaxDistractors int
}

// Loader samples tool snapshots from a bank directory.
//
// Description:
//
//	The bank is re-read on every Sample call, so edits to the directory are
//	picked up by the next attempt without a restart.
//
// Thread Safety: Loader is safe for concurrent use. The *rand.Rand passed to
// Sample must not be shared across goroutines.
type Loader struct {
	cfg    Config
	logger *slog.Logger
}

// NewLoader creates a Loader, applying defaults for unset fields.
func NewLoader(cfg Config, logger *slog.Logger) *Loader {
	if cfg.GeneralTool == "" {
		cfg.GeneralTool = DefaultGeneralTool
	}
	if cfg.MinDistractors <= 0 {
		cfg.MinDistractors = DefaultMinDistractors
	}
	if cfg.MaxDistractors <= 0 {
		cfg.MaxDistractors = DefaultMaxDistractors
	}
	if cfg.MinDistractors > cfg.MaxDistractors {
		cfg.MinDistractors = cfg.MaxDistractors
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{cfg: cfg, logger: logger}
}

// GeneralTool returns the configured general tool file stem.
func (l *Loader) GeneralTool() string {
	return l.cfg.GeneralTool
}

// Snapshot is the tool sample for one generation attempt.
//
// Thread Safety: Immutable after Sample returns.
type Snapshot struct {
	// Distractors is the sampled distractor subset (no gold tools).
	Distractors []ToolDefinition

	// Good holds one drawn variant per gold tool file, in gold order.
	Good []ToolDefinition

	// Mapping records which variant stands in for each gold tool.
	Mapping []datatypes.ToolMapping

	// Specific is Distractors + Good, shuffled.
	Specific []ToolDefinition

	// GeneralDistractors is a second distractor sample, drawn independently
	// of Distractors, for the general set. It never holds the general tool.
	GeneralDistractors []ToolDefinition

	// General is GeneralDistractors + Good + GeneralTool, shuffled. Nil
	// when GeneralUnavailable is set.
	General []ToolDefinition

	// GeneralTool is the fallback tool shown in the general set.
	GeneralTool *ToolDefinition

	// GeneralUnavailable is set when the fallback tool is itself a gold tool
	// or the bank has no fallback file.
	GeneralUnavailable bool

	// Definitions maps every tool name in the bank to its definition.
	Definitions map[string]ToolDefinition
}

// Lookup resolves a tool name, preferring the tools shown to the model and
// falling back to the whole bank.
func (s *Snapshot) Lookup(name string, shown []ToolDefinition) (ToolDefinition, bool) {
	for _, def := range shown {
		if def.Name == name {
			return def, true
		}
	}
	def, ok := s.Definitions[name]
	return def, ok
}

// toolFile is the parsed content of one bank file.
type toolFile struct {
	stem  string
	tools []ToolDefinition
}

// Sample draws the tool snapshot for one attempt.
//
// Description:
//
//	Bank files are partitioned into "good" files (stem is a gold tool) and
//	"available" files. One random variant is drawn from every file. The
//	distractor subset is a random sample of randint(min, max) draws from the
//	available files, clamped to the pool size. When a general tool is
//	available the general set gets its own sample, drawn the same way from
//	the pool minus the general tool.
//
// Inputs:
//   - goldTools: Gold tool identifiers (file stems) in declared order.
//   - rng: Random source for this attempt.
//
// Outputs:
//   - *Snapshot: The sampled tools.
//   - error: ErrNoTools when the bank cannot be read, ErrNoGoodTools when no
//     gold tool file yields a variant.
func (l *Loader) Sample(goldTools []string, rng *rand.Rand) (*Snapshot, error) {
	files, err := l.readBank()
	if err != nil {
		return nil, err
	}

	byStem := make(map[string]*toolFile, len(files))
	definitions := make(map[string]ToolDefinition)
	for i := range files {
		byStem[files[i].stem] = &files[i]
		for _, def := range files[i].tools {
			definitions[def.Name] = def
		}
	}

	goldSet := make(map[string]bool, len(goldTools))
	for _, g := range goldTools {
		goldSet[g] = true
	}

	snap := &Snapshot{Definitions: definitions}

	for _, g := range goldTools {
		f, ok := byStem[g]
		if !ok || len(f.tools) == 0 {
			l.logger.Warn("gold tool file not found in bank",
				slog.String("tool", g),
				slog.String("dir", l.cfg.Dir))
			continue
		}
		drawn := f.tools[rng.IntN(len(f.tools))]
		snap.Good = append(snap.Good, drawn)
		snap.Mapping = append(snap.Mapping, datatypes.ToolMapping{OriginalTool: g, Diversity: drawn.Name})
	}
	if len(snap.Good) == 0 {
		return nil, fmt.Errorf("%w: gold tools %v", ErrNoGoodTools, goldTools)
	}

	var pool []ToolDefinition
	var generalFromPool *ToolDefinition
	for i := range files {
		f := &files[i]
		if goldSet[f.stem] || len(f.tools) == 0 {
			continue
		}
		drawn := f.tools[rng.IntN(len(f.tools))]
		pool = append(pool, drawn)
		if f.stem == l.cfg.GeneralTool {
			d := drawn
			generalFromPool = &d
		}
	}

	n := l.cfg.MinDistractors + rng.IntN(l.cfg.MaxDistractors-l.cfg.MinDistractors+1)
	snap.Distractors = sampleTools(pool, n, rng)

	snap.Specific = uniqueByName(append(cloneTools(snap.Distractors), snap.Good...))
	shuffleTools(snap.Specific, rng)

	switch {
	case goldSet[l.cfg.GeneralTool]:
		snap.GeneralUnavailable = true
	case generalFromPool != nil:
		snap.GeneralTool = generalFromPool
	default:
		if f, ok := byStem[l.cfg.GeneralTool]; ok && len(f.tools) > 0 {
			d := f.tools[rng.IntN(len(f.tools))]
			snap.GeneralTool = &d
		} else {
			snap.GeneralUnavailable = true
		}
	}

	if snap.GeneralTool != nil {
		generalPool := make([]ToolDefinition, 0, len(pool))
		for _, d := range pool {
			if d.Name != snap.GeneralTool.Name {
				generalPool = append(generalPool, d)
			}
		}
		n := l.cfg.MinDistractors + rng.IntN(l.cfg.MaxDistractors-l.cfg.MinDistractors+1)
		snap.GeneralDistractors = sampleTools(generalPool, n, rng)

		general := append(cloneTools(snap.GeneralDistractors), snap.Good...)
		general = append(general, *snap.GeneralTool)
		snap.General = uniqueByName(general)
		shuffleTools(snap.General, rng)
	}

	l.logger.Debug("tool snapshot sampled",
		slog.Int("bank_files", len(files)),
		slog.Int("pool", len(pool)),
		slog.Int("distractors", len(snap.Distractors)),
		slog.Int("general_distractors", len(snap.GeneralDistractors)),
		slog.Int("good", len(snap.Good)),
		slog.Bool("general_available", !snap.GeneralUnavailable),
	)
	return snap, nil
}

// readBank parses every *.jsonl file in the bank directory, sorted by name.
func (l *Loader) readBank() ([]toolFile, error) {
	paths, err := listBankFiles(l.cfg.Dir)
	if err != nil {
		l.logger.Error("tool bank unreadable", slog.String("dir", l.cfg.Dir), slog.String("error", err.Error()))
		return nil, err
	}

	files := make([]toolFile, 0, len(paths))
	for _, path := range paths {
		tools, err := readToolFile(path, l.logger)
		if err != nil {
			l.logger.Warn("skipping unreadable tool file", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		files = append(files, toolFile{stem: stemOf(path), tools: tools})
	}
	return files, nil
}

// LoadDefinitions loads every tool definition in the bank keyed by name.
//
// Later duplicates of a name overwrite earlier ones.
func LoadDefinitions(dir string, logger *slog.Logger) (map[string]ToolDefinition, error) {
	if logger == nil {
		logger = slog.Default()
	}
	paths, err := listBankFiles(dir)
	if err != nil {
		return nil, err
	}
	defs := make(map[string]ToolDefinition)
	for _, path := range paths {
		tools, err := readToolFile(path, logger)
		if err != nil {
			logger.Warn("skipping unreadable tool file", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		for _, def := range tools {
			defs[def.Name] = def
		}
	}
	return defs, nil
}

func listBankFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoTools, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNoTools, dir)
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoTools, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no *.jsonl files in %s", ErrNoTools, dir)
	}
	sort.Strings(paths)
	return paths, nil
}

// readToolFile parses one bank file. Lines failing schema validation are
// logged and skipped.
func readToolFile(path string, logger *slog.Logger) ([]ToolDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tools []ToolDefinition
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := ValidateToolLine(line); err != nil {
			logger.Warn("invalid tool definition",
				slog.String("path", path),
				slog.Int("line", lineNum),
				slog.String("error", err.Error()))
			continue
		}
		def, err := ParseToolDefinition(line)
		if err != nil {
			logger.Warn("invalid tool definition",
				slog.String("path", path),
				slog.Int("line", lineNum),
				slog.String("error", err.Error()))
			continue
		}
		tools = append(tools, def)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return tools, nil
}

func stemOf(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// sampleTools returns min(n, len(pool)) distinct elements of pool in random
// order.
func sampleTools(pool []ToolDefinition, n int, rng *rand.Rand) []ToolDefinition {
	if n > len(pool) {
		n = len(pool)
	}
	if n <= 0 {
		return nil
	}
	perm := rng.Perm(len(pool))
	out := make([]ToolDefinition, n)
	for i := 0; i < n; i++ {
		out[i] = pool[perm[i]]
	}
	return out
}

func shuffleTools(tools []ToolDefinition, rng *rand.Rand) {
	rng.Shuffle(len(tools), func(i, j int) { tools[i], tools[j] = tools[j], tools[i] })
}

func cloneTools(tools []ToolDefinition) []ToolDefinition {
	return append([]ToolDefinition(nil), tools...)
}

// uniqueByName keeps the first definition of each name.
func uniqueByName(tools []ToolDefinition) []ToolDefinition {
	seen := make(map[string]bool, len(tools))
	out := tools[:0]
	for _, t := range tools {
		if seen[t.Name] {
			continue
		}
		seen[t.Name] = true
		out = append(out, t)
	}
	return out
}
