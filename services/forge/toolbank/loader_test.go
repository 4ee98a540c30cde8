// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package toolbank

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Helpers
// =============================================================================

func toolLine(name string, required ...string) string {
	props := map[string]any{"query": map[string]any{"type": "string"}}
	for _, r := range required {
		props[r] = map[string]any{"type": "string"}
	}
	def := map[string]any{
		"name":        name,
		"description": "tool " + name,
		"parameters": map[string]any{
			"type":       "object",
			"properties": props,
			"required":   append([]string{"query"}, required...),
		},
	}
	b, _ := json.Marshal(def)
	return string(b)
}

// writeBank creates a bank directory where each stem maps to its variants.
func writeBank(t *testing.T, files map[string][]string) string {
	t.Helper()
	dir := t.TempDir()
	for stem, variants := range files {
		lines := make([]string, 0, len(variants))
		for _, v := range variants {
			lines = append(lines, toolLine(v))
		}
		path := filepath.Join(dir, stem+".jsonl")
		require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	}
	return dir
}

func names(tools []ToolDefinition) []string {
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		out = append(out, t.Name)
	}
	return out
}

func testRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// =============================================================================
// Sample Tests
// =============================================================================

func TestSample_MissingDirectory(t *testing.T) {
	l := NewLoader(Config{Dir: filepath.Join(t.TempDir(), "absent")}, nil)
	_, err := l.Sample([]string{"search"}, testRNG(1))
	require.ErrorIs(t, err, ErrNoTools)
}

func TestSample_EmptyDirectory(t *testing.T) {
	l := NewLoader(Config{Dir: t.TempDir()}, nil)
	_, err := l.Sample([]string{"search"}, testRNG(1))
	require.ErrorIs(t, err, ErrNoTools)
}

func TestSample_NoGoodTool(t *testing.T) {
	dir := writeBank(t, map[string][]string{"other": {"other_v1"}})
	l := NewLoader(Config{Dir: dir}, nil)
	_, err := l.Sample([]string{"search"}, testRNG(1))
	require.ErrorIs(t, err, ErrNoGoodTools)
}

func TestSample_GoodToolMappingAndDistractors(t *testing.T) {
	files := map[string][]string{
		"search": {"search_v1", "search_v2"},
		"lookup": {"lookup_v1"},
	}
	for i := 0; i < 12; i++ {
		files[fmt.Sprintf("d%02d", i)] = []string{fmt.Sprintf("d%02d_a", i), fmt.Sprintf("d%02d_b", i)}
	}
	dir := writeBank(t, files)
	l := NewLoader(Config{Dir: dir, MinDistractors: 3, MaxDistractors: 8}, nil)

	for seed := uint64(0); seed < 20; seed++ {
		snap, err := l.Sample([]string{"search", "lookup"}, testRNG(seed))
		require.NoError(t, err)

		require.Len(t, snap.Mapping, 2)
		assert.Equal(t, "search", snap.Mapping[0].OriginalTool)
		assert.Contains(t, []string{"search_v1", "search_v2"}, snap.Mapping[0].Diversity)
		assert.Equal(t, "lookup_v1", snap.Mapping[1].Diversity)

		assert.GreaterOrEqual(t, len(snap.Distractors), 3)
		assert.LessOrEqual(t, len(snap.Distractors), 8)
		for _, d := range snap.Distractors {
			assert.True(t, strings.HasPrefix(d.Name, "d"), "gold tool leaked into distractors: %s", d.Name)
		}

		specific := names(snap.Specific)
		assert.Len(t, specific, len(snap.Distractors)+2)
		for _, m := range snap.Mapping {
			assert.Contains(t, specific, m.Diversity)
		}

		// No general file in this bank.
		assert.True(t, snap.GeneralUnavailable)
		assert.Nil(t, snap.General)
	}
}

func TestSample_DistractorsClampedToPool(t *testing.T) {
	dir := writeBank(t, map[string][]string{
		"search": {"search_v1"},
		"a":      {"a_v1"},
	})
	l := NewLoader(Config{Dir: dir, MinDistractors: 5, MaxDistractors: 6}, nil)
	snap, err := l.Sample([]string{"search"}, testRNG(3))
	require.NoError(t, err)
	assert.Equal(t, []string{"a_v1"}, names(snap.Distractors))
}

func TestSample_GeneralToolFromAvailableFiles(t *testing.T) {
	dir := writeBank(t, map[string][]string{
		"search":          {"search_v1"},
		DefaultGeneralTool: {"general_search_v1"},
		"a":               {"a_v1"},
	})
	l := NewLoader(Config{Dir: dir, MinDistractors: 3, MaxDistractors: 3}, nil)
	snap, err := l.Sample([]string{"search"}, testRNG(5))
	require.NoError(t, err)

	require.False(t, snap.GeneralUnavailable)
	require.NotNil(t, snap.GeneralTool)
	assert.Equal(t, "general_search_v1", snap.GeneralTool.Name)

	general := names(snap.General)
	assert.Contains(t, general, "general_search_v1")
	assert.Contains(t, general, "search_v1")

	seen := make(map[string]bool)
	for _, n := range general {
		assert.False(t, seen[n], "duplicate tool %s in general set", n)
		seen[n] = true
	}
}

func TestSample_GeneralDistractorsDrawnSeparately(t *testing.T) {
	files := map[string][]string{
		"search":           {"search_v1"},
		DefaultGeneralTool: {"general_search_v1"},
	}
	for i := 0; i < 12; i++ {
		files[fmt.Sprintf("d%02d", i)] = []string{fmt.Sprintf("d%02d_a", i)}
	}
	l := NewLoader(Config{Dir: writeBank(t, files), MinDistractors: 3, MaxDistractors: 3}, nil)

	var differed bool
	for seed := uint64(0); seed < 10; seed++ {
		snap, err := l.Sample([]string{"search"}, testRNG(seed))
		require.NoError(t, err)
		require.NotNil(t, snap.GeneralTool)

		require.Len(t, snap.GeneralDistractors, 3)
		assert.NotContains(t, names(snap.GeneralDistractors), "general_search_v1")

		want := append(names(snap.GeneralDistractors), "search_v1", "general_search_v1")
		assert.ElementsMatch(t, want, names(snap.General))

		if !assert.ObjectsAreEqual(sortedNames(snap.Distractors), sortedNames(snap.GeneralDistractors)) {
			differed = true
		}
	}
	assert.True(t, differed, "general set reused the specific distractor sample on every seed")
}

func sortedNames(tools []ToolDefinition) []string {
	out := names(tools)
	sort.Strings(out)
	return out
}

func TestSample_GeneralToolIsGold(t *testing.T) {
	dir := writeBank(t, map[string][]string{
		DefaultGeneralTool: {"general_search_v1"},
		"a":               {"a_v1"},
	})
	l := NewLoader(Config{Dir: dir}, nil)
	snap, err := l.Sample([]string{DefaultGeneralTool}, testRNG(1))
	require.NoError(t, err)
	assert.True(t, snap.GeneralUnavailable)
	assert.Nil(t, snap.GeneralTool)
	assert.Equal(t, []string{"general_search_v1"}, names(snap.Good))
}

func TestSample_SkipsInvalidLines(t *testing.T) {
	dir := t.TempDir()
	content := "not json\n" + `{"description":"missing name","parameters":{}}` + "\n" + toolLine("search_v1") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "search.jsonl"), []byte(content), 0o644))

	l := NewLoader(Config{Dir: dir}, nil)
	snap, err := l.Sample([]string{"search"}, testRNG(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"search_v1"}, names(snap.Good))
}

func TestSnapshot_Lookup(t *testing.T) {
	dir := writeBank(t, map[string][]string{
		"search": {"search_v1", "search_v2"},
		"a":      {"a_v1"},
	})
	l := NewLoader(Config{Dir: dir}, nil)
	snap, err := l.Sample([]string{"search"}, testRNG(9))
	require.NoError(t, err)

	_, ok := snap.Lookup("search_v1", nil)
	assert.True(t, ok, "bank-wide definitions must cover every variant")
	_, ok = snap.Lookup("ghost", snap.Specific)
	assert.False(t, ok)
}

// =============================================================================
// LoadDefinitions / ToolDefinition Tests
// =============================================================================

func TestLoadDefinitions(t *testing.T) {
	dir := writeBank(t, map[string][]string{
		"search": {"search_v1", "search_v2"},
		"lookup": {"lookup_v1"},
	})
	defs, err := LoadDefinitions(dir, nil)
	require.NoError(t, err)
	assert.Len(t, defs, 3)
	assert.True(t, defs["search_v2"].IsRequired("query"))
	assert.True(t, defs["lookup_v1"].HasProperty("query"))
	assert.False(t, defs["lookup_v1"].HasProperty("page"))
}

func TestToolDefinition_MarshalPreservesRawLine(t *testing.T) {
	line := `{"name":"x","description":"d","parameters":{"type":"object","properties":{}},"x-extra":true}`
	def, err := ParseToolDefinition([]byte(line))
	require.NoError(t, err)

	out, err := json.Marshal(def)
	require.NoError(t, err)
	assert.JSONEq(t, line, string(out))
}

func TestToolCall_Query(t *testing.T) {
	call, err := ParseToolCall(`{"name":"search_v1","arguments":{"query":"who","page":2}}`)
	require.NoError(t, err)
	q, err := call.Query()
	require.NoError(t, err)
	assert.Equal(t, "who", q)

	call, err = ParseToolCall(`{"name":"search_v1","arguments":{"page":2}}`)
	require.NoError(t, err)
	_, err = call.Query()
	assert.Error(t, err)

	_, err = ParseToolCall(`{"name":`)
	assert.Error(t, err)
}

func TestGenerateToolJSONSchema(t *testing.T) {
	data, err := GenerateToolJSONSchema()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"parameters"`)

	assert.NoError(t, ValidateToolLine([]byte(toolLine("ok"))))
	assert.Error(t, ValidateToolLine([]byte(`{"name":"x","parameters":{"required":"query"}}`)))
}
