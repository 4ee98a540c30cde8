// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reasoning

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
)

type stubService struct {
	reply   string
	err     error
	system  string
	lastMsg []datatypes.Message
}

func (s *stubService) Generate(_ context.Context, messages []datatypes.Message, system string) (string, error) {
	s.system = system
	s.lastMsg = messages
	return s.reply, s.err
}

const twoTurnTrace = `Planning first.
<turn_1>
<tool_call>{"name": "lookup_author", "arguments": {"query": "who wrote it"}}</tool_call>
<reference>[{'title': 'T1', 'content': 'Alice wrote it.'}]</reference>
</turn_1>
<turn_2>
<tool_call>
{"name": "lookup_year", "arguments": {"query": "publication year", "lang": "en"}}
</tool_call>
<reference>["{'title':'T2','content':'Published 1990.'}"]</reference>
</turn_2>`

// =============================================================================
// Tag Tests
// =============================================================================

func TestExtractTags(t *testing.T) {
	text := "<a> one </a> noise <a>\ntwo\n</a><b>x</b>"
	assert.Equal(t, []string{"one", "two"}, ExtractTags(text, "a"))
	assert.Equal(t, "one\ntwo", ExtractTag(text, "a"))
	assert.Empty(t, ExtractTags(text, "c"))
	assert.Equal(t, "", ExtractTag(text, "c"))
	assert.True(t, HasTag(text, "b"))
	assert.False(t, HasTag("<b>open only", "b"))
}

func TestExtractTags_NonGreedy(t *testing.T) {
	got := ExtractTags("<tool_call>{1}</tool_call>\n<tool_call>{2}</tool_call>", "tool_call")
	assert.Equal(t, []string{"{1}", "{2}"}, got)
}

// =============================================================================
// Literal Tests
// =============================================================================

func TestParseLiteral_PythonAndJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want any
	}{
		{"json list", `[{"title": "A", "content": "b"}]`, []any{map[string]any{"title": "A", "content": "b"}}},
		{"python quotes", `[{'title': 'A', 'content': "it's"}]`, []any{map[string]any{"title": "A", "content": "it's"}}},
		{"keywords", `[True, False, None, null]`, []any{true, false, nil, nil}},
		{"tuple and trailing comma", `(1, 2.5,)`, []any{1.0, 2.5}},
		{"escapes", `'a\'b\né'`, "a'b\né"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLiteral(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLiteral_Errors(t *testing.T) {
	for _, in := range []string{"", "[1, 2", "{'a' 1}", "'open", "[1] extra", "nope"} {
		_, err := parseLiteral(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestParseReferences_Shapes(t *testing.T) {
	want := []datatypes.Document{{Title: "T1", Content: "s0"}}

	for _, in := range []string{
		`[{'title': 'T1', 'content': 's0'}]`,
		`{"title": "T1", "content": "s0"}`,
		`["{'title':'T1','content':'s0'}"]`,
	} {
		got, err := ParseReferences(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseReferences(`[{'title': 'T1'}]`)
	assert.Error(t, err)
	_, err = ParseReferences(`"just text"`)
	assert.Error(t, err)
}

// =============================================================================
// Parse Tests
// =============================================================================

func TestParse_TwoTurns(t *testing.T) {
	trace, err := Parse(twoTurnTrace, 2)
	require.NoError(t, err)
	require.Len(t, trace.Turns, 2)

	t1 := trace.Turn(1)
	require.NotNil(t, t1)
	require.Len(t, t1.Calls, 1)
	assert.Equal(t, "lookup_author", t1.Calls[0].Call.Name)
	assert.Equal(t, "who wrote it", t1.Calls[0].Query)
	assert.Equal(t, []datatypes.Document{{Title: "T1", Content: "Alice wrote it."}}, t1.AllReferences())

	t2 := trace.Turn(2)
	require.NotNil(t, t2)
	assert.Equal(t, "publication year", t2.Calls[0].Query)
	assert.Equal(t, []string{`{"name": "lookup_year", "arguments": {"query": "publication year", "lang": "en"}}`}, t2.RawCalls())
	assert.Equal(t, "Published 1990.", t2.References[0][0].Content)

	assert.Nil(t, trace.Turn(3))
	assert.Nil(t, trace.Turn(0))
}

func TestParse_OnlyRequestedTurns(t *testing.T) {
	trace, err := Parse(twoTurnTrace, 1)
	require.NoError(t, err)
	assert.Len(t, trace.Turns, 1)
}

func TestParse_Failures(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		turns int
		stage string
		is    error
	}{
		{
			name: "missing turn", turns: 2, stage: StageTurn, is: ErrMissingTurn,
			in: `<turn_1><tool_call>{"name":"a","arguments":{"query":"q"}}</tool_call><reference>[]</reference></turn_1>`,
		},
		{
			name: "no tool calls", turns: 1, stage: StageToolCall, is: ErrNoToolCalls,
			in: `<turn_1>nothing here</turn_1>`,
		},
		{
			name: "fewer references", turns: 1, stage: StageReference, is: ErrReferenceCount,
			in: `<turn_1><tool_call>{"name":"a","arguments":{"query":"q"}}</tool_call>` +
				`<tool_call>{"name":"b","arguments":{"query":"r"}}</tool_call><reference>[]</reference></turn_1>`,
		},
		{
			name: "malformed call", turns: 1, stage: StageToolCall,
			in: `<turn_1><tool_call>{not json}</tool_call><reference>[]</reference></turn_1>`,
		},
		{
			name: "missing query", turns: 1, stage: StageQuery,
			in: `<turn_1><tool_call>{"name":"a","arguments":{"q":"x"}}</tool_call><reference>[]</reference></turn_1>`,
		},
		{
			name: "malformed reference", turns: 1, stage: StageReference,
			in: `<turn_1><tool_call>{"name":"a","arguments":{"query":"x"}}</tool_call><reference>[{'title':</reference></turn_1>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.in, tt.turns)
			require.Error(t, err)
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "want *ParseError, got %T", err)
			assert.Equal(t, tt.stage, pe.Stage)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestParse_ExtraReferencesRejected(t *testing.T) {
	in := `<turn_1><tool_call>{"name":"a","arguments":{"query":"q"}}</tool_call>` +
		`<reference>[{"title":"A","content":"x"}]</reference><reference>[{"title":"B","content":"y"}]</reference></turn_1>`
	_, err := Parse(in, 1)
	require.ErrorIs(t, err, ErrReferenceCount)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, StageReference, pe.Stage)
	assert.Equal(t, 1, pe.Turn)
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse("  \n", 1)
	assert.ErrorIs(t, err, ErrEmptyTrace)
}

// =============================================================================
// Extractor Tests
// =============================================================================

func TestExtractor_Extract(t *testing.T) {
	svc := &stubService{reply: twoTurnTrace}
	trace, err := NewExtractor(svc, nil).Extract(context.Background(), "sys", "usr", 2)
	require.NoError(t, err)
	assert.Len(t, trace.Turns, 2)
	assert.Equal(t, "sys", svc.system)
	require.Len(t, svc.lastMsg, 1)
	assert.Equal(t, datatypes.Message{Role: datatypes.RoleUser, Content: "usr"}, svc.lastMsg[0])
}

func TestExtractor_TransportError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewExtractor(&stubService{err: boom}, nil).Extract(context.Background(), "s", "u", 1)
	assert.ErrorIs(t, err, boom)
}

func TestExtractor_EmptyReply(t *testing.T) {
	_, err := NewExtractor(&stubService{reply: ""}, nil).Extract(context.Background(), "s", "u", 1)
	assert.ErrorIs(t, err, ErrEmptyTrace)
}
