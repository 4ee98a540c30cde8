// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/Buycar-arb/ToolForge/services/forge/cases"
	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
	"github.com/Buycar-arb/ToolForge/services/forge/reasoning"
	"github.com/Buycar-arb/ToolForge/services/forge/record"
	"github.com/Buycar-arb/ToolForge/services/forge/toolbank"
)

var (
	thinkThenRest   = regexp.MustCompile(`(?s)^<think>\s*.*?\s*</think>\s*\n\s*(.*?)$`)
	toolCallsOnly   = regexp.MustCompile(`(?s)^(<tool_call>\s*.*?\s*</tool_call>\s*)+$`)
	thinkThenAnswer = regexp.MustCompile(`(?s)^<think>\s*.*?\s*</think>\s*\n\s*<answer>\s*.*?\s*</answer>\s*$`)
	answerBlock     = regexp.MustCompile(`(?s)<answer>\s*(.*?)\s*</answer>`)

	toolItemStart = regexp.MustCompile(`(?m)^\*\*\d+\*\*`)
	toolItem      = regexp.MustCompile(`(?s)^\*\*(\d+)\*\*\s*\ntitle:\s*(.*?)\s*\ncontent:\s*(.*)$`)
	nonAlnum      = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

// =============================================================================
// 1. Dialogue Format
// =============================================================================

// checkFormat requires the role sequence the case prescribes.
func checkFormat(spec cases.CaseSpec, rec *record.ConversationRecord) bool {
	want := spec.Roles()
	if len(rec.Messages) != len(want) {
		return false
	}
	for i, msg := range rec.Messages {
		if msg.Role != want[i] {
			return false
		}
	}
	return true
}

// =============================================================================
// 2. Assistant Content Format
// =============================================================================

// checkAssistantContent requires think + tool calls on every non-final
// assistant message and think + answer on the final one.
func checkAssistantContent(_ cases.CaseSpec, rec *record.ConversationRecord) bool {
	assistants := assistantMessages(rec.Messages)
	if len(assistants) == 0 {
		return false
	}
	last := len(assistants) - 1
	for i, msg := range assistants {
		content := strings.TrimSpace(msg.Content)
		if i == last {
			if !thinkThenAnswer.MatchString(content) {
				return false
			}
			continue
		}
		m := thinkThenRest.FindStringSubmatch(content)
		if m == nil {
			return false
		}
		rest := strings.TrimSpace(m[1])
		if rest == "" || !toolCallsOnly.MatchString(rest) {
			return false
		}
	}
	return true
}

// =============================================================================
// 3. Non-assistant Content
// =============================================================================

func checkNotEmpty(_ cases.CaseSpec, rec *record.ConversationRecord) bool {
	for _, msg := range rec.Messages {
		if msg.Role == datatypes.RoleAssistant {
			continue
		}
		if strings.TrimSpace(msg.Content) == "" {
			return false
		}
	}
	return true
}

// =============================================================================
// 4. Answer Consistency
// =============================================================================

func checkAnswer(_ cases.CaseSpec, rec *record.ConversationRecord) bool {
	assistants := assistantMessages(rec.Messages)
	if len(assistants) == 0 {
		return false
	}
	m := answerBlock.FindStringSubmatch(assistants[len(assistants)-1].Content)
	if m == nil {
		return false
	}
	gold := rec.Answer
	if gold == "" {
		gold = rec.Source.Answer
	}
	return strings.ToLower(strings.TrimSpace(m[1])) == strings.ToLower(strings.TrimSpace(gold))
}

// =============================================================================
// 5. Tool / Evidence Consistency
// =============================================================================

type docKey struct {
	title   string
	content string
}

func normalize(s string) string {
	return strings.ToLower(nonAlnum.ReplaceAllString(s, ""))
}

// ParseToolMessage reads the numbered title/content items of a tool
// message.
func ParseToolMessage(content string) []datatypes.Document {
	starts := toolItemStart.FindAllStringIndex(content, -1)
	var docs []datatypes.Document
	for i, s := range starts {
		end := len(content)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		m := toolItem.FindStringSubmatch(strings.TrimRight(content[s[0]:end], "\n"))
		if m == nil {
			continue
		}
		docs = append(docs, datatypes.Document{Title: m[2], Content: m[3]})
	}
	return docs
}

// checkToolRags requires every tool message to reproduce its evidence
// bucket as a set.
func checkToolRags(spec cases.CaseSpec, rec *record.ConversationRecord) bool {
	var tools []datatypes.Message
	for _, msg := range rec.Messages {
		if msg.Role == datatypes.RoleTool {
			tools = append(tools, msg)
		}
	}
	if len(tools) != len(rec.Rags) || len(rec.Rags) != len(spec.Buckets) {
		return false
	}
	for i, msg := range tools {
		shown := ParseToolMessage(msg.Content)
		if len(shown) != len(rec.Rags[i]) {
			return false
		}
		if !sameDocSet(shown, rec.Rags[i]) {
			return false
		}
	}
	return true
}

func sameDocSet(a, b []datatypes.Document) bool {
	set := func(docs []datatypes.Document) map[docKey]bool {
		out := make(map[docKey]bool, len(docs))
		for _, d := range docs {
			out[docKey{normalize(d.Title), normalize(d.Content)}] = true
		}
		return out
	}
	sa, sb := set(a), set(b)
	if len(sa) != len(sb) {
		return false
	}
	for k := range sa {
		if !sb[k] {
			return false
		}
	}
	return true
}

// =============================================================================
// 6. Argument Stability
// =============================================================================

// checkArguments compares adjacent argument groups inside the case window.
//
// Description:
//
//	For i = start, start+2, ... < end, group i and group i+1 must call the
//	same tools in the same order, and every argument whose value differs
//	between them must be a required parameter of the tool. This is what a
//	corrected retry may change; optional parameters must stay put.
func checkArguments(spec cases.CaseSpec, rec *record.ConversationRecord) bool {
	if !rec.ArgumentCheck.Required {
		return true
	}
	groups := rec.ArgumentCheck.Groups
	if len(groups) < 2 || spec.Window == nil {
		return true
	}
	for i := spec.Window.Start; i < spec.Window.End; i += 2 {
		if i < 0 || i+1 >= len(groups) {
			return false
		}
		if !stableGroups(groups[i], groups[i+1]) {
			return false
		}
	}
	return true
}

func stableGroups(first, second record.ArgumentGroup) bool {
	if len(first.Objects) != len(second.Objects) {
		return false
	}
	for j := range first.Objects {
		a, b := first.Objects[j], second.Objects[j]
		if a.Name != b.Name {
			return false
		}
		if a.ToolDefinition == nil {
			return false
		}
		for _, param := range changedParams(a.Arguments, b.Arguments) {
			if !a.ToolDefinition.IsRequired(param) {
				return false
			}
		}
	}
	return true
}

// changedParams returns the keys whose canonical JSON differs between a and
// b, including keys present on one side only.
func changedParams(a, b map[string]any) []string {
	keys := make(map[string]bool, len(a)+len(b))
	for k := range a {
		keys[k] = true
	}
	for k := range b {
		keys[k] = true
	}
	var changed []string
	for k := range keys {
		va, okA := a[k]
		vb, okB := b[k]
		if okA != okB || canonical(va) != canonical(vb) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

func canonical(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// =============================================================================
// 7. Reference Provenance
// =============================================================================

// checkReferences requires the claimed references to be exactly the
// supporting facts of the source record.
func checkReferences(_ cases.CaseSpec, rec *record.ConversationRecord) bool {
	refs := rec.FlatReferences()
	facts := rec.Source.SupportingFacts
	if len(refs) != len(facts) {
		return false
	}

	refTitles := make(map[string]bool)
	for _, ref := range refs {
		fact, ok := firstFact(facts, ref.Title)
		if !ok {
			return false
		}
		sentences, ok := rec.Source.Sentences(ref.Title)
		if !ok || fact.SentID < 0 || fact.SentID >= len(sentences) {
			return false
		}
		if strings.TrimSpace(ref.Content) != strings.TrimSpace(sentences[fact.SentID]) {
			return false
		}
		refTitles[ref.Title] = true
	}

	factTitles := make(map[string]bool)
	for _, f := range facts {
		factTitles[f.Title] = true
	}
	if len(refTitles) != len(factTitles) {
		return false
	}
	for t := range factTitles {
		if !refTitles[t] {
			return false
		}
	}
	return true
}

func firstFact(facts []datatypes.SupportingFact, title string) (datatypes.SupportingFact, bool) {
	for _, f := range facts {
		if f.Title == title {
			return f, true
		}
	}
	return datatypes.SupportingFact{}, false
}

// =============================================================================
// 8. Tool Selection
// =============================================================================

// checkToolSelection compares the tools called with the tools the source
// record selects, under the case's tool policy.
func checkToolSelection(spec cases.CaseSpec, rec *record.ConversationRecord) bool {
	calls, ok := allToolCalls(rec.Messages)
	if !ok {
		return false
	}
	var extracted []string
	seen := make(map[string]bool)
	for _, c := range calls {
		if c.Name == "" {
			continue
		}
		if !seen[c.Name] {
			seen[c.Name] = true
			extracted = append(extracted, c.Name)
		}
	}
	expected := ExpectedTools(rec.Source.Tools(), rec.GoodToolMapping)
	return ToolSelectionHolds(spec.ToolPolicy, extracted, expected)
}

// ExpectedTools maps source tool identifiers to the variant names shown.
// Identifiers without a mapping were never shown and are dropped.
func ExpectedTools(selected []string, mapping []datatypes.ToolMapping) []string {
	byOriginal := make(map[string]string, len(mapping))
	for _, m := range mapping {
		byOriginal[m.OriginalTool] = m.Diversity
	}
	out := make([]string, 0, len(selected))
	for _, s := range selected {
		if d, ok := byOriginal[s]; ok {
			out = append(out, d)
		}
	}
	return out
}

// ToolSelectionHolds applies a tool policy.
//
// Description:
//
//	fewer: the first extracted tool is expected.
//	more:  every expected tool was extracted.
//	exact: extracted equals expected, order included.
func ToolSelectionHolds(policy cases.ToolPolicy, extracted, expected []string) bool {
	switch policy {
	case cases.ToolPolicyFewer:
		if len(extracted) == 0 {
			return false
		}
		for _, e := range expected {
			if e == extracted[0] {
				return true
			}
		}
		return false
	case cases.ToolPolicyMore:
		have := make(map[string]bool, len(extracted))
		for _, e := range extracted {
			have[e] = true
		}
		for _, e := range expected {
			if !have[e] {
				return false
			}
		}
		return true
	default:
		if len(extracted) != len(expected) {
			return false
		}
		for i := range extracted {
			if extracted[i] != expected[i] {
				return false
			}
		}
		return true
	}
}

// =============================================================================
// 9. Tool Bank Conformance
// =============================================================================

// checkToolBank requires every call to name a shown tool, pass every
// required argument, and pass nothing the tool does not declare.
func checkToolBank(_ cases.CaseSpec, rec *record.ConversationRecord) bool {
	calls, ok := allToolCalls(rec.Messages)
	if !ok {
		return false
	}
	bank := make(map[string]toolbank.ToolDefinition, len(rec.ToolBank))
	for _, def := range rec.ToolBank {
		bank[def.Name] = def
	}

	seen := make(map[string]bool)
	for _, c := range calls {
		args, err := c.ArgumentMap()
		if err != nil {
			return false
		}
		keys := make([]string, 0, len(args))
		for k := range args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sig := c.Name + "\x00" + strings.Join(keys, "\x00")
		if seen[sig] {
			continue
		}
		seen[sig] = true

		def, ok := bank[c.Name]
		if !ok {
			return false
		}
		for _, req := range def.Parameters.Required {
			if _, ok := args[req]; !ok {
				return false
			}
		}
		for _, k := range keys {
			if def.IsRequired(k) {
				continue
			}
			if !def.HasProperty(k) {
				return false
			}
		}
	}
	return true
}

// =============================================================================
// Helpers
// =============================================================================

func assistantMessages(msgs []datatypes.Message) []datatypes.Message {
	var out []datatypes.Message
	for _, m := range msgs {
		if m.Role == datatypes.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}

// allToolCalls decodes every <tool_call> block of every assistant message.
// It reports false when any block is not valid JSON.
func allToolCalls(msgs []datatypes.Message) ([]toolbank.ToolCall, bool) {
	var calls []toolbank.ToolCall
	for _, m := range assistantMessages(msgs) {
		for _, block := range reasoning.ExtractTags(m.Content, "tool_call") {
			c, err := toolbank.ParseToolCall(block)
			if err != nil {
				return nil, false
			}
			calls = append(calls, c)
		}
	}
	return calls, true
}
