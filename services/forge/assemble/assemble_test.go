// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assemble

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Buycar-arb/ToolForge/services/forge/cases"
	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
	"github.com/Buycar-arb/ToolForge/services/forge/forgetest"
	"github.com/Buycar-arb/ToolForge/services/forge/prompts"
	"github.com/Buycar-arb/ToolForge/services/forge/reasoning"
	"github.com/Buycar-arb/ToolForge/services/forge/toolbank"
)

// =============================================================================
// Helpers
// =============================================================================

var (
	duneRef   = datatypes.Document{Title: "Dune", Content: "Dune is a novel by Frank Herbert."}
	herbert   = datatypes.Document{Title: "Frank Herbert", Content: "Frank Herbert was born in 1920."}
	published = datatypes.Document{Title: "Dune", Content: "It was published in 1965."}
	arrakis   = datatypes.Document{Title: "Arrakis", Content: "Arrakis is a desert planet."}
	spice     = datatypes.Document{Title: "Arrakis", Content: "Spice is harvested there."}
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewPCG(1, 7))
}

type fixture struct {
	model *forgetest.Model
	asm   *Assembler
	snap  *toolbank.Snapshot
	rng   *rand.Rand
}

func newFixture(t *testing.T, gold []string) *fixture {
	t.Helper()
	rng := testRNG()
	loader := toolbank.NewLoader(toolbank.Config{Dir: forgetest.DefaultBank(t)}, nil)
	snap, err := loader.Sample(gold, rng)
	require.NoError(t, err)

	set, err := prompts.Default()
	require.NoError(t, err)

	model := &forgetest.Model{}
	return &fixture{
		model: model,
		asm:   NewAssembler(Config{}, set, model, nil, nil),
		snap:  snap,
		rng:   rng,
	}
}

func (f *fixture) context(t *testing.T, caseID, source string) GenerationContext {
	t.Helper()
	return NewGenerationContext(cases.MustLookup(caseID), forgetest.Source(t, source), []byte(source), f.snap, f.rng)
}

func (f *fixture) goodName(i int) string {
	return f.snap.Good[i].Name
}

func roles(msgs []datatypes.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Role)
	}
	return out
}

func setupTracing(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return exporter
}

// =============================================================================
// End-to-end
// =============================================================================

func TestAssemble_SingleTurnCase(t *testing.T) {
	f := newFixture(t, []string{"search"})
	f.model.Plan = func(_, _ string) (string, error) {
		return forgetest.PlanReply([]forgetest.PlannedCall{
			{Tool: f.goodName(0), Query: "Dune author", Refs: []datatypes.Document{duneRef}},
		}), nil
	}

	gc := f.context(t, "A1", forgetest.SourceJSON)
	rec, err := f.asm.Assemble(context.Background(), gc)
	require.NoError(t, err)

	assert.Equal(t, "case_A1", rec.Case)
	_, err = uuid.Parse(rec.UUID)
	assert.NoError(t, err)
	assert.Equal(t, cases.MustLookup("A1").Roles(), roles(rec.Messages))

	system := rec.Messages[0].Content
	assert.Contains(t, system, "# Tools")
	assert.Contains(t, system, f.goodName(0))
	assert.Equal(t, "Who wrote Dune?", rec.Messages[1].Content)

	// Three noise sentences fit in the window, plus the reference.
	require.Len(t, rec.Rags, 1)
	assert.ElementsMatch(t, []datatypes.Document{duneRef, published, arrakis, spice}, rec.Rags[0])

	tool := rec.Messages[3].Content
	for _, d := range rec.Rags[0] {
		assert.Contains(t, tool, d.Content)
	}

	assert.False(t, rec.ArgumentCheck.Required)
	require.Len(t, rec.References, 1)
	assert.Equal(t, []datatypes.Document{duneRef}, rec.References[0].Data)
	assert.Equal(t, f.snap.Specific, rec.ToolBank)
	assert.Equal(t, f.snap.Mapping, rec.GoodToolMapping)
	assert.Equal(t, "Frank Herbert", rec.Answer)
	assert.Contains(t, rec.Reasoning, f.goodName(0))
	assert.Equal(t, forgetest.SourceJSON, string(rec.SourceRaw))

	assert.Equal(t, 1, f.model.Count("plan"))
	assert.Equal(t, 1, f.model.Count("render"))
	render := f.model.Calls()[1].User
	assert.Contains(t, render, "## gold_content_1")
	assert.Contains(t, render, "## right_tool_1")
}

func TestAssemble_GroupedArgumentCheck(t *testing.T) {
	f := newFixture(t, []string{"search", "calendar"})
	f.model.Plan = func(_, _ string) (string, error) {
		return forgetest.PlanReply(
			[]forgetest.PlannedCall{{Tool: f.goodName(0), Query: "Dune author", Refs: []datatypes.Document{duneRef}}},
			[]forgetest.PlannedCall{{Tool: f.goodName(1), Query: "Frank Herbert birth", Refs: []datatypes.Document{herbert}}},
		), nil
	}

	rec, err := f.asm.Assemble(context.Background(), f.context(t, "C4", forgetest.TwoHopSourceJSON))
	require.NoError(t, err)

	assert.Equal(t, cases.MustLookup("C4").Roles(), roles(rec.Messages))
	require.Len(t, rec.Rags, 3)
	assert.Contains(t, rec.Rags[0], duneRef)
	assert.NotContains(t, rec.Rags[1], herbert)
	assert.Contains(t, rec.Rags[2], herbert)

	require.True(t, rec.ArgumentCheck.Required)
	groups := rec.ArgumentCheck.Groups
	require.Len(t, groups, 3)
	for i, g := range groups {
		assert.Equal(t, i+1, g.AssistantIndex)
		require.Len(t, g.Objects, 1)
		require.NotNil(t, g.Objects[0].ToolDefinition)
		assert.Equal(t, g.Objects[0].Name, g.Objects[0].ToolDefinition.Name)
	}
	assert.Equal(t, f.goodName(0), groups[0].Objects[0].Name)
	assert.Equal(t, f.goodName(1), groups[2].Objects[0].Name)
	assert.Equal(t, "Frank Herbert birth", groups[2].Objects[0].Arguments["query"])

	require.Len(t, rec.References, 2)
	assert.Equal(t, 2, rec.References[1].Turn)
}

func TestAssemble_TripleBadBuckets(t *testing.T) {
	f := newFixture(t, []string{"search"})
	f.model.Plan = func(_, _ string) (string, error) {
		return forgetest.PlanReply([]forgetest.PlannedCall{
			{Tool: f.goodName(0), Query: "Dune author", Refs: []datatypes.Document{duneRef}},
		}), nil
	}

	rec, err := f.asm.Assemble(context.Background(), f.context(t, "A4", forgetest.SourceJSON))
	require.NoError(t, err)

	// No noise term matches the query, so the ranking keeps corpus order:
	// published, arrakis, spice. The top third seeds bad3 and good.
	require.Len(t, rec.Rags, 4)
	assert.Equal(t, []datatypes.Document{spice}, rec.Rags[0])
	assert.Equal(t, []datatypes.Document{arrakis}, rec.Rags[1])
	assert.Equal(t, []datatypes.Document{published}, rec.Rags[2])
	assert.ElementsMatch(t, []datatypes.Document{published, duneRef}, rec.Rags[3])

	assert.Equal(t, f.snap.General, rec.ToolBank)
	render := f.model.Calls()[1].User
	assert.Contains(t, render, "## tool_list_general")
	assert.Contains(t, render, "## error_content_1_3")
}

func TestAssemble_MergedSecondTurn(t *testing.T) {
	f := newFixture(t, []string{"search", "calendar"})
	f.model.Plan = func(_, _ string) (string, error) {
		return forgetest.PlanReply(
			[]forgetest.PlannedCall{{Tool: f.goodName(0), Query: "Dune author", Refs: []datatypes.Document{duneRef}}},
			[]forgetest.PlannedCall{{Tool: f.goodName(1), Query: "Herbert lived Washington", Refs: []datatypes.Document{herbert}}},
		), nil
	}
	set, err := prompts.Default()
	require.NoError(t, err)
	f.asm = NewAssembler(Config{MinTopK: 1, MaxTopK: 1}, set, f.model, nil, nil)

	rec, err := f.asm.Assemble(context.Background(), f.context(t, "D2", forgetest.TwoHopSourceJSON))
	require.NoError(t, err)

	// One noise sentence for the turn-1 call plus both references. The
	// second call would rank the Washington sentence first, but merged
	// calls draw no noise of their own.
	require.Len(t, rec.Rags, 1)
	assert.ElementsMatch(t, []datatypes.Document{published, duneRef, herbert}, rec.Rags[0])
	assert.NotContains(t, rec.Rags[0], datatypes.Document{Title: "Frank Herbert", Content: "He lived in Washington."})
	assert.Equal(t, cases.MustLookup("D2").Roles(), roles(rec.Messages))
}

// =============================================================================
// Failures
// =============================================================================

func TestAssemble_GeneralUnavailable(t *testing.T) {
	f := newFixture(t, []string{"general_information_search"})
	rec, err := f.asm.Assemble(context.Background(), f.context(t, "A4", forgetest.SourceJSON))
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, ErrNoRecord)
	assert.ErrorIs(t, err, ErrGeneralUnavailable)
	assert.Empty(t, f.model.Calls())
}

func TestAssemble_ReasoningParseFailure(t *testing.T) {
	exporter := setupTracing(t)
	f := newFixture(t, []string{"search"})
	f.model.Plan = func(_, _ string) (string, error) {
		return "<turn_1>\nno calls here\n</turn_1>", nil
	}

	_, err := f.asm.Assemble(context.Background(), f.context(t, "A1", forgetest.SourceJSON))
	assert.ErrorIs(t, err, ErrNoRecord)
	var pe *reasoning.ParseError
	require.True(t, errors.As(err, &pe))
	assert.ErrorIs(t, err, reasoning.ErrNoToolCalls)
	assert.Equal(t, 0, f.model.Count("render"))

	var found bool
	for _, s := range exporter.GetSpans() {
		if s.Name == "assemble.Assembler.Assemble" {
			found = true
			assert.Equal(t, codes.Error, s.Status.Code)
			assert.Equal(t, stageReasoning, s.Status.Description)
		}
	}
	assert.True(t, found)
}

func TestAssemble_EmptyPlan(t *testing.T) {
	f := newFixture(t, []string{"search"})
	f.model.Plan = func(_, _ string) (string, error) { return "  ", nil }

	_, err := f.asm.Assemble(context.Background(), f.context(t, "A1", forgetest.SourceJSON))
	assert.ErrorIs(t, err, reasoning.ErrEmptyTrace)
}

func TestAssemble_RenderParseFailure(t *testing.T) {
	f := newFixture(t, []string{"search"})
	f.model.Plan = func(_, _ string) (string, error) {
		return forgetest.PlanReply([]forgetest.PlannedCall{
			{Tool: f.goodName(0), Query: "Dune author", Refs: []datatypes.Document{duneRef}},
		}), nil
	}
	f.model.Render = func(_, _ string) (string, error) { return "I cannot do that.", nil }

	_, err := f.asm.Assemble(context.Background(), f.context(t, "A1", forgetest.SourceJSON))
	assert.ErrorIs(t, err, ErrNoRecord)
	assert.ErrorIs(t, err, ErrRenderParse)
}

// =============================================================================
// Parsing
// =============================================================================

func TestParseRendered(t *testing.T) {
	reply := "Sure.\n```json\n" +
		`{"messages":[{"role":"user","content":"q"},{"role":"assistant","content":"a"},{"role":"tool","content":"t"}]}` +
		"\n```\ntrailing"
	msgs, err := ParseRendered(reply)
	require.NoError(t, err)
	assert.Equal(t, []string{"assistant", "tool"}, roles(msgs))

	_, err = ParseRendered("```json\n{not json}\n```")
	assert.ErrorIs(t, err, ErrRenderParse)

	_, err = ParseRendered("```json\n{\"other\": 1}\n```")
	assert.ErrorIs(t, err, ErrRenderParse)

	_, err = ParseRendered("no fence")
	assert.ErrorIs(t, err, ErrRenderParse)
}

func TestBuildArgumentCheck(t *testing.T) {
	known := forgetest.ToolLine("known_tool", "lang")
	def, err := toolbank.ParseToolDefinition([]byte(known))
	require.NoError(t, err)

	msgs := []datatypes.Message{
		{Role: "system", Content: "s"},
		{Role: "user", Content: "q"},
		{Role: "assistant", Content: "<think>\nx\n</think>\n<tool_call>\n{\"name\":\"known_tool\",\"arguments\":{\"query\":\"a\",\"lang\":\"en\"}}\n</tool_call>\n<tool_call>\n{\"name\":\"mystery\",\"arguments\":{}}\n</tool_call>"},
		{Role: "tool", Content: "t"},
		{Role: "assistant", Content: "<think>\nnothing to call\n</think>\nhmm"},
		{Role: "tool", Content: "t"},
		{Role: "assistant", Content: "<think>\ny\n</think>\n<tool_call>\n{\"name\":\"known_tool\",\"arguments\":{\"query\":\"b\"}}\n</tool_call>"},
	}

	groups, err := BuildArgumentCheck(msgs, []toolbank.ToolDefinition{def}, nil)
	require.NoError(t, err)
	require.Len(t, groups, 1, "final assistant and call-less messages produce no group")
	g := groups[0]
	assert.Equal(t, 1, g.AssistantIndex)
	require.Len(t, g.Objects, 2)
	require.NotNil(t, g.Objects[0].ToolDefinition)
	assert.True(t, g.Objects[0].ToolDefinition.IsRequired("lang"))
	assert.Equal(t, "en", g.Objects[0].Arguments["lang"])
	assert.Nil(t, g.Objects[1].ToolDefinition)
	assert.Empty(t, g.Objects[1].Arguments)

	msgs[2].Content = "<think>x</think>\n<tool_call>{broken</tool_call>"
	msgs = append(msgs, datatypes.Message{Role: "assistant", Content: "final"})
	_, err = BuildArgumentCheck(msgs, nil, nil)
	assert.ErrorIs(t, err, ErrRenderParse)
}

func TestNewGenerationContext_ReplacesToolNames(t *testing.T) {
	snap := &toolbank.Snapshot{Mapping: []datatypes.ToolMapping{{OriginalTool: "search", Diversity: "finder_v2"}}}
	src := forgetest.Source(t, forgetest.SourceJSON)
	gc := NewGenerationContext(cases.MustLookup("A1"), src, nil, snap, testRNG())

	assert.Equal(t, "Use finder_v2 to find the author.", gc.Reasoning)
	assert.Equal(t, []datatypes.Document{duneRef}, gc.GoldContents)
	assert.Len(t, gc.AllContents, 3)
	assert.True(t, strings.HasPrefix(gc.Query, "Who wrote"))
}
