// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package record

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
	"github.com/Buycar-arb/ToolForge/services/forge/toolbank"
)

func sampleRecord(t *testing.T) ConversationRecord {
	t.Helper()
	def, err := toolbank.ParseToolDefinition([]byte(`{"name":"toolA_v1","description":"d","parameters":{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]},"x-extra":1}`))
	require.NoError(t, err)
	return ConversationRecord{
		Case: "case_A1",
		UUID: "0b6f6a43-6c7a-4a61-9d55-2f3b1d1e0f00",
		Messages: []datatypes.Message{
			{Role: "system", Content: "sys"},
			{Role: "user", Content: "q"},
		},
		Rags:            [][]datatypes.Document{{{Title: "T1", Content: "s0 gold"}}},
		Answer:          "yes",
		Reasoning:       "r",
		GoodToolMapping: []datatypes.ToolMapping{{OriginalTool: "toolA", Diversity: "toolA_v1"}},
		ArgumentCheck:   Skipped(),
		References:      []ReferenceTurn{{Turn: 1, Data: []datatypes.Document{{Title: "T1", Content: "s0 gold"}}}},
		ToolBank:        []toolbank.ToolDefinition{def},
		Source: datatypes.SourceRecord{
			Question:        "q",
			Answer:          "yes",
			SupportingFacts: []datatypes.SupportingFact{{Title: "T1", SentID: 0}},
			Context:         []datatypes.Passage{{Title: "T1", Sentences: []string{"s0 gold", "s1 noise"}}},
			ToolSelect:      "[toolA]",
		},
	}
}

func TestConversationRecord_Layout(t *testing.T) {
	rec := sampleRecord(t)
	b, err := json.Marshal(rec)
	require.NoError(t, err)

	var parts []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &parts))
	require.Len(t, parts, 7)
	assert.JSONEq(t, `"case_A1"`, string(parts[0]["case"]))
	assert.Contains(t, parts[1], "messages")
	assert.Contains(t, parts[2], "rags")
	assert.Contains(t, parts[2], "good_tool_mapping")
	assert.JSONEq(t, `"Don't need to check"`, string(parts[3]["argument_check"]))
	assert.Contains(t, parts[4], "argument_all_reference")
	assert.Contains(t, string(parts[5]["argument_tool_bank"]), `"x-extra":1`)
	assert.JSONEq(t, `[["T1",0]]`, string(parts[6]["supporting_facts"]))
}

func TestConversationRecord_RoundTrip(t *testing.T) {
	rec := sampleRecord(t)
	rec.ArgumentCheck = Grouped([]ArgumentGroup{{
		AssistantIndex: 1,
		Objects: []ToolCallObject{{
			Name:           "toolA_v1",
			Arguments:      map[string]any{"query": "q"},
			ToolDefinition: &rec.ToolBank[0],
		}},
	}})

	b, err := json.Marshal(rec)
	require.NoError(t, err)

	var got ConversationRecord
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, rec.Case, got.Case)
	assert.Equal(t, rec.Messages, got.Messages)
	assert.Equal(t, rec.Rags, got.Rags)
	assert.True(t, got.ArgumentCheck.Required)
	require.Len(t, got.ArgumentCheck.Groups, 1)
	obj := got.ArgumentCheck.Groups[0].Objects[0]
	require.NotNil(t, obj.ToolDefinition)
	assert.True(t, obj.ToolDefinition.IsRequired("query"))
	assert.Equal(t, "[toolA]", got.Source.ToolSelect)
	assert.Equal(t, rec.FlatReferences(), got.FlatReferences())

	// The source is written back verbatim.
	again, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(b), string(again))
}

func TestConversationRecord_ShortForms(t *testing.T) {
	var rec ConversationRecord
	err := json.Unmarshal([]byte(`[{"case":"case_A1","uuid":"u"},{"messages":[]},{"rags":[],"answer":"a"}]`), &rec)
	require.NoError(t, err)
	assert.False(t, rec.ArgumentCheck.Required)
	assert.Empty(t, rec.ToolBank)

	err = json.Unmarshal([]byte(`[{"case":"x"}]`), &rec)
	assert.ErrorIs(t, err, ErrMalformedRecord)

	err = json.Unmarshal([]byte(`{"case":"x"}`), &rec)
	assert.ErrorIs(t, err, ErrMalformedRecord)
}

func TestArgumentCheck_JSON(t *testing.T) {
	var a ArgumentCheck
	require.NoError(t, json.Unmarshal([]byte(`"Don't need to check"`), &a))
	assert.False(t, a.Required)

	require.NoError(t, json.Unmarshal([]byte(`[]`), &a))
	assert.True(t, a.Required)
	assert.Empty(t, a.Groups)

	assert.Error(t, json.Unmarshal([]byte(`"something else"`), &a))

	b, err := json.Marshal(Grouped(nil))
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(b))
}

func TestScoreRecord_JSON(t *testing.T) {
	s := ScoreRecord{Case: "case_A1", RuleScore: 1, GPTScore: NullScore(), TotalScore: 1,
		UUID: "u", ErrorReason: "LLM call failed"}
	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"case":"case_A1","rule_score":1,"gpt_score":"null","total_score":1,"uuid":"u","data":null,"error_reason":"LLM call failed"}`, string(b))

	var got ScoreRecord
	require.NoError(t, json.Unmarshal([]byte(`{"case":"case_A1","rule_score":1,"gpt_score":1,"total_score":2,"uuid":"u","data":{"messages":[]},"good_reason":"ok"}`), &got))
	assert.Equal(t, Score(1), got.GPTScore)
	assert.True(t, got.Accepted())
	assert.Equal(t, "1", got.GPTScore.String())
	assert.Equal(t, "null", NullScore().String())
}

func TestReadSourceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.jsonl")
	content := strings.Join([]string{
		`{"question":"q","answer":"a","supporting_facts":[],"context":[],"route_select":"A1","tool_select":"[x]","reasoning":"r","extra":true}`,
		``,
		`{not json`,
		`{"question":"q2","answer":"a2","supporting_facts":[],"context":[]}`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	lines, err := ReadSourceFile(path)
	require.NoError(t, err)
	require.Len(t, lines, 4)

	assert.True(t, lines[0].HasToolSelect())
	assert.Contains(t, string(lines[0].Raw), `"extra":true`)
	assert.True(t, lines[1].Blank)
	assert.Error(t, lines[2].Err)
	assert.False(t, lines[2].HasToolSelect())
	assert.False(t, lines[3].HasToolSelect())
	assert.Equal(t, 4, lines[3].LineNo)

	_, err = ReadSourceFile(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}

func TestReadConversations(t *testing.T) {
	rec := sampleRecord(t)
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	input := string(b) + "\n\n[1]\n"

	var ok, bad int
	err = ReadConversations(strings.NewReader(input), func(lineNo int, r *ConversationRecord, err error) error {
		if err != nil {
			bad++
			assert.Equal(t, 3, lineNo)
			return nil
		}
		ok++
		assert.Equal(t, "case_A1", r.Case)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, bad)
}
