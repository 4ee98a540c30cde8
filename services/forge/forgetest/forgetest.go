// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package forgetest provides fixtures shared by the forge package tests: a
// tool bank on disk, a source record, and a scripted model that plans,
// renders and judges conversations without a network.
package forgetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
)

// =============================================================================
// Tool Bank
// =============================================================================

// ToolLine returns one tool definition line requiring "query" plus extra.
func ToolLine(name string, extra ...string) string {
	props := map[string]any{"query": map[string]any{"type": "string", "description": "search text"}}
	for _, r := range extra {
		props[r] = map[string]any{"type": "string"}
	}
	def := map[string]any{
		"name":        name,
		"description": "tool " + name,
		"parameters": map[string]any{
			"type":       "object",
			"properties": props,
			"required":   append([]string{"query"}, extra...),
		},
	}
	b, _ := json.Marshal(def)
	return string(b)
}

// WriteBank creates a tool bank directory where each stem maps to its
// variant names.
func WriteBank(t testing.TB, files map[string][]string) string {
	t.Helper()
	dir := t.TempDir()
	for stem, variants := range files {
		lines := make([]string, 0, len(variants))
		for _, v := range variants {
			lines = append(lines, ToolLine(v))
		}
		path := filepath.Join(dir, stem+".jsonl")
		require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	}
	return dir
}

// DefaultBank writes a bank with one gold tool ("search"), three
// distractors and the general fallback tool.
func DefaultBank(t testing.TB) string {
	return WriteBank(t, map[string][]string{
		"search":                     {"web_search_v1", "web_search_v2"},
		"weather":                    {"weather_now"},
		"calendar":                   {"calendar_lookup"},
		"stocks":                     {"stock_quote"},
		"general_information_search": {"general_information_search"},
	})
}

// =============================================================================
// Source Record
// =============================================================================

// SourceJSON is a one-hop source record whose gold tool is "search".
const SourceJSON = `{"question":"Who wrote Dune?","answer":"Frank Herbert",` +
	`"supporting_facts":[["Dune",0]],` +
	`"context":[["Dune",["Dune is a novel by Frank Herbert.","It was published in 1965."]],` +
	`["Arrakis",["Arrakis is a desert planet.","Spice is harvested there."]]],` +
	`"route_select":"A1","tool_select":"[search]","reasoning":"Use search to find the author."}`

// TwoHopSourceJSON is a two-hop source record whose gold tools are
// "search" then "calendar".
const TwoHopSourceJSON = `{"question":"When was the author of Dune born?","answer":"1920",` +
	`"supporting_facts":[["Dune",0],["Frank Herbert",0]],` +
	`"context":[["Dune",["Dune is a novel by Frank Herbert.","It was published in 1965."]],` +
	`["Frank Herbert",["Frank Herbert was born in 1920.","He lived in Washington."]],` +
	`["Arrakis",["Arrakis is a desert planet.","Spice is harvested there."]]],` +
	`"route_select":"C1","tool_select":"[search, calendar]","reasoning":"First search, then calendar."}`

// Source decodes one of the source constants.
func Source(t testing.TB, raw string) datatypes.SourceRecord {
	t.Helper()
	var src datatypes.SourceRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &src))
	return src
}

// =============================================================================
// Planning Replies
// =============================================================================

// PlannedCall is one tool call of a planning reply.
type PlannedCall struct {
	Tool  string
	Query string
	// Extra holds arguments beyond "query".
	Extra map[string]string
	Refs  []datatypes.Document
}

// PlanReply renders a planning reply with one <turn_N> block per turn.
func PlanReply(turns ...[]PlannedCall) string {
	var b strings.Builder
	b.WriteString("Plan follows.\n")
	for i, calls := range turns {
		fmt.Fprintf(&b, "<turn_%d>\n", i+1)
		for _, c := range calls {
			b.WriteString("<tool_call>\n")
			b.WriteString(CallJSON(c))
			b.WriteString("\n</tool_call>\n")
		}
		for _, c := range calls {
			refs, _ := json.Marshal(c.Refs)
			b.WriteString("<reference>\n")
			b.Write(refs)
			b.WriteString("\n</reference>\n")
		}
		fmt.Fprintf(&b, "</turn_%d>\n", i+1)
	}
	return b.String()
}

// CallJSON encodes a planned call as a tool-call object.
func CallJSON(c PlannedCall) string {
	args := map[string]string{"query": c.Query}
	for k, v := range c.Extra {
		args[k] = v
	}
	b, _ := json.Marshal(map[string]any{"name": c.Tool, "arguments": args})
	return string(b)
}

// =============================================================================
// Scripted Model
// =============================================================================

// Responder produces a reply from the system and user prompt.
type Responder func(system, user string) (string, error)

// Call is one recorded Generate call.
type Call struct {
	Kind   string
	System string
	User   string
}

// Model is a scripted language model service.
//
// Description:
//
//	Calls are routed by prompt: a user prompt carrying a "## Flow" section
//	is a render call, a system prompt carrying "<score>" is a judge call,
//	and anything else is a planning call. A nil Render echoes the prompt
//	into a valid conversation; a nil Judge accepts.
//
// Thread Safety: Safe for concurrent use.
type Model struct {
	Plan   Responder
	Render Responder
	Judge  Responder

	mu    sync.Mutex
	calls []Call
}

// Generate implements providers.LanguageModelService.
func (m *Model) Generate(ctx context.Context, messages []datatypes.Message, system string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var user string
	if len(messages) > 0 {
		user = messages[len(messages)-1].Content
	}

	kind := "plan"
	respond := m.Plan
	switch {
	case strings.Contains(user, "## Flow"):
		kind, respond = "render", m.Render
		if respond == nil {
			respond = func(_, user string) (string, error) { return EchoRender(user) }
		}
	case strings.Contains(system, "<score>"):
		kind, respond = "judge", m.Judge
		if respond == nil {
			respond = func(string, string) (string, error) { return JudgeReply(1), nil }
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, Call{Kind: kind, System: system, User: user})
	m.mu.Unlock()

	if respond == nil {
		return "", errors.New("forgetest: no responder for " + kind)
	}
	return respond(system, user)
}

// Calls returns the recorded calls.
func (m *Model) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Count returns how many calls of kind were made.
func (m *Model) Count(kind string) int {
	n := 0
	for _, c := range m.Calls() {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// JudgeReply returns a judge reply with the given score.
func JudgeReply(score int) string {
	return fmt.Sprintf("The conversation is coherent.\n<score>\n[%d]\n</score>", score)
}

// =============================================================================
// Echo Renderer
// =============================================================================

type section struct {
	name string
	body string
}

func splitSections(prompt string) []section {
	var out []section
	var cur *section
	var body []string
	flush := func() {
		if cur != nil {
			cur.body = strings.TrimSpace(strings.Join(body, "\n"))
			out = append(out, *cur)
		}
	}
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, "## ") {
			flush()
			cur = &section{name: strings.TrimSpace(strings.TrimPrefix(line, "## "))}
			body = nil
			continue
		}
		body = append(body, line)
	}
	flush()
	return out
}

// bucketTurn extracts N from "gold_content_N" or "error_content_N[_k]".
func bucketTurn(label string) (int, bool) {
	var rest string
	switch {
	case strings.HasPrefix(label, "gold_content_"):
		rest = strings.TrimPrefix(label, "gold_content_")
	case strings.HasPrefix(label, "error_content_"):
		rest = strings.TrimPrefix(label, "error_content_")
	default:
		return 0, false
	}
	if i := strings.IndexByte(rest, '_'); i >= 0 {
		rest = rest[:i]
	}
	n, err := strconv.Atoi(rest)
	return n, err == nil
}

// FormatToolMessage lays documents out as a tool message.
func FormatToolMessage(docs []datatypes.Document) string {
	if len(docs) == 0 {
		return "No results."
	}
	var b strings.Builder
	for i, d := range docs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "**%d**\ntitle: %s\ncontent: %s", i+1, d.Title, d.Content)
	}
	return b.String()
}

// EchoRender builds a well-formed conversation from a render prompt.
//
// Description:
//
//	Every bucket section becomes an assistant message repeating the tool
//	calls of the bucket's round, followed by a tool message listing the
//	bucket's documents. A final assistant message carries the answer. The
//	reply wraps {"messages": [...]} in a ```json fence and starts the list
//	with the user question, as a real model does.
func EchoRender(prompt string) (string, error) {
	secs := splitSections(prompt)
	calls := make(map[int]string)
	var answer, question string
	for _, s := range secs {
		switch {
		case s.name == "answer":
			answer = s.body
		case s.name == "Question":
			question = s.body
		case strings.HasPrefix(s.name, "right_tool_"):
			n, err := strconv.Atoi(strings.TrimPrefix(s.name, "right_tool_"))
			if err != nil {
				return "", fmt.Errorf("forgetest: bad section %q", s.name)
			}
			calls[n] = s.body
		}
	}

	messages := []datatypes.Message{{Role: datatypes.RoleUser, Content: question}}
	for _, s := range secs {
		turn, ok := bucketTurn(s.name)
		if !ok {
			continue
		}
		var docs []datatypes.Document
		if err := json.Unmarshal([]byte(s.body), &docs); err != nil {
			return "", fmt.Errorf("forgetest: bucket %s: %w", s.name, err)
		}
		messages = append(messages,
			datatypes.Message{Role: datatypes.RoleAssistant,
				Content: fmt.Sprintf("<think>\nLook up round %d.\n</think>\n%s", turn, calls[turn])},
			datatypes.Message{Role: datatypes.RoleTool, Content: FormatToolMessage(docs)},
		)
	}
	messages = append(messages, datatypes.Message{Role: datatypes.RoleAssistant,
		Content: fmt.Sprintf("<think>\nThe evidence answers it.\n</think>\n<answer>\n%s\n</answer>", answer)})

	body, err := json.Marshal(map[string]any{"messages": messages})
	if err != nil {
		return "", err
	}
	return "Here is the conversation.\n```json\n" + string(body) + "\n```\n", nil
}
