// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Buycar-arb/ToolForge/services/forge/cases"
	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
	"github.com/Buycar-arb/ToolForge/services/forge/toolbank"
)

func mustTool(t *testing.T, line string) toolbank.ToolDefinition {
	t.Helper()
	def, err := toolbank.ParseToolDefinition([]byte(line))
	require.NoError(t, err)
	return def
}

func TestDefault_HasEveryCase(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)

	for _, id := range cases.IDs() {
		assert.True(t, set.Has("flow_"+id), "missing flow for %s", id)
	}
	for _, family := range []string{"A", "B", "C", "D"} {
		out, err := set.ReasoningSystem(family)
		require.NoError(t, err)
		assert.Contains(t, out, "<turn_1>")
	}
	assert.Contains(t, set.Names(), "render")
}

func TestReasoningSystem_TurnFormat(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)

	single, err := set.ReasoningSystem("a")
	require.NoError(t, err)
	assert.NotContains(t, single, "<turn_2>")

	double, err := set.ReasoningSystem("C")
	require.NoError(t, err)
	assert.Contains(t, double, "<turn_2>")

	_, err = set.ReasoningSystem("Z")
	assert.ErrorIs(t, err, ErrMissingTemplate)
}

func TestToolPrompt(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)

	tools := []toolbank.ToolDefinition{
		mustTool(t, `{"name":"search_v2","description":"web <search>","parameters":{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}}`),
		mustTool(t, `{"name":"lookup_v3","description":"lookup","parameters":{"type":"object","properties":{},"required":[]}}`),
	}
	out, err := set.ToolPrompt(tools)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "\n\n# Tools"))
	assert.Contains(t, out, `"name":"search_v2"`)
	assert.Contains(t, out, "web <search>")
	assert.Less(t, strings.Index(out, "search_v2"), strings.Index(out, "lookup_v3"))
}

func TestUserAndSystem(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)

	user, err := set.User("Who wrote Dune?")
	require.NoError(t, err)
	assert.Equal(t, "Who wrote Dune?", user)

	system, err := set.System()
	require.NoError(t, err)
	assert.Contains(t, system, "<think>")
}

func TestRender_Sections(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)

	spec := cases.MustLookup("C4")
	var buckets []RenderBucket
	for _, b := range spec.Buckets {
		buckets = append(buckets, RenderBucket{
			Label:     BucketLabel(b),
			Turn:      b.Turn,
			Kind:      b.Kind.String(),
			Documents: []datatypes.Document{{Title: "T1", Content: "s0 & <gold>"}},
		})
	}

	out, err := set.Render("case_C4", RenderData{
		Query:     "q?",
		Reasoning: "first find X",
		Answer:    "42",
		Turns: []RenderTurn{
			{Number: 1, ToolCalls: []string{`{"name":"a","arguments":{"query":"x"}}`}},
			{Number: 2, ToolCalls: []string{`{"name":"b","arguments":{"query":"y"}}`}},
		},
		Buckets: buckets,
	})
	require.NoError(t, err)

	assert.Contains(t, out, "## Scenario\nC4")
	assert.Contains(t, out, "## right_tool_2")
	assert.Contains(t, out, "## gold_content_1")
	assert.Contains(t, out, "## error_content_2")
	assert.Contains(t, out, "s0 & <gold>")
	assert.Contains(t, out, "Two rounds with a corrected second call.")
	assert.Contains(t, out, "gold_content_1, error_content_2, gold_content_2.")
	assert.NotContains(t, out, "## tool_list")
	assert.NotContains(t, out, "## general_tool")
}

func TestRender_GeneralToolSection(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)

	general := mustTool(t, `{"name":"general_information_search","parameters":{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}}`)
	out, err := set.Render("A4", RenderData{
		ToolListGeneral: []toolbank.ToolDefinition{general},
		GeneralTool:     &general,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "## tool_list_general")
	assert.Contains(t, out, "## general_tool")
}

func TestRender_UnknownCase(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)
	_, err = set.Render("Z9", RenderData{})
	assert.ErrorIs(t, err, ErrMissingTemplate)
}

func TestBucketLabel(t *testing.T) {
	assert.Equal(t, "gold_content_1", BucketLabel(cases.Bucket{Turn: 1, Kind: cases.BucketGood}))
	assert.Equal(t, "error_content_2", BucketLabel(cases.Bucket{Turn: 2, Kind: cases.BucketBad}))
	assert.Equal(t, "error_content_1_1", BucketLabel(cases.Bucket{Turn: 1, Kind: cases.BucketBad1}))
	assert.Equal(t, "error_content_2_3", BucketLabel(cases.Bucket{Turn: 2, Kind: cases.BucketBad3}))
}

func TestJudgeUser_NoHTMLEscaping(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)

	out, err := set.JudgeUser(
		[]datatypes.Message{{Role: "assistant", Content: "<think>x</think>"}},
		[]datatypes.ToolMapping{{OriginalTool: "A", Diversity: "search_v2"}},
	)
	require.NoError(t, err)
	assert.Contains(t, out, "<think>x</think>")
	assert.Contains(t, out, `"diversity":"search_v2"`)
}

func TestLoad_Override(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.tmpl"),
		[]byte(`{{define "flow_A1"}}custom flow{{end}}{{define "render_A1"}}only {{.Flow}} for {{.Query}}{{end}}`), 0o644))

	set, err := Load(dir)
	require.NoError(t, err)

	out, err := set.Render("A1", RenderData{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "only custom flow for q", out)

	// Other cases keep the shared template.
	out, err = set.Render("A2", RenderData{Query: "q"})
	require.NoError(t, err)
	assert.Contains(t, out, "## Flow")
}

func TestLoad_BadOverrideDir(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.tmpl"), []byte(`{{define "x"}}{{.Foo`), 0o644))
	_, err = Load(dir)
	assert.Error(t, err)
}
