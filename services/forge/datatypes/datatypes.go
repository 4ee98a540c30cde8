// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the value types shared by every stage of the
// dialogue synthesis pipeline: chat messages, evidence documents, source
// question-answering records and good-tool mappings.
//
// Thread Safety:
//
//	All types are plain values. Callers must not mutate slices they did not
//	create.
package datatypes

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message roles used in synthesized transcripts.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Document is one evidence item: a sentence together with the title of the
// passage it came from.
type Document struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ToolMapping links a canonical gold tool identifier (the tool bank file
// stem) to the concrete variant name rendered into the prompt.
type ToolMapping struct {
	OriginalTool string `json:"original_tool"`
	Diversity    string `json:"diversity"`
}

// =============================================================================
// Source Records
// =============================================================================

// SupportingFact is a (title, sentence index) pair. On the wire it is a
// two-element JSON array.
type SupportingFact struct {
	Title  string
	SentID int
}

// MarshalJSON encodes the fact as [title, sent_id].
func (f SupportingFact) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{f.Title, f.SentID})
}

// UnmarshalJSON decodes [title, sent_id].
func (f *SupportingFact) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("supporting fact: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("supporting fact: expected 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &f.Title); err != nil {
		return fmt.Errorf("supporting fact title: %w", err)
	}
	if err := json.Unmarshal(raw[1], &f.SentID); err != nil {
		return fmt.Errorf("supporting fact sent_id: %w", err)
	}
	return nil
}

// Passage is a titled list of sentences. On the wire it is
// [title, [sentence, ...]].
type Passage struct {
	Title     string
	Sentences []string
}

// MarshalJSON encodes the passage as [title, [sentences]].
func (p Passage) MarshalJSON() ([]byte, error) {
	sentences := p.Sentences
	if sentences == nil {
		sentences = []string{}
	}
	return json.Marshal([]any{p.Title, sentences})
}

// UnmarshalJSON decodes [title, [sentences]].
func (p *Passage) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("passage: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("passage: expected 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.Title); err != nil {
		return fmt.Errorf("passage title: %w", err)
	}
	if err := json.Unmarshal(raw[1], &p.Sentences); err != nil {
		return fmt.Errorf("passage sentences: %w", err)
	}
	return nil
}

// SourceRecord is one line of the input dataset.
//
// Description:
//
//	Question, gold answer, the supporting facts that justify it, and the
//	passage corpus the facts index into. RouteSelect names the scenario the
//	record was labeled for and ToolSelect is the string-encoded ordered list
//	of gold tool identifiers, e.g. "[search, lookup]".
type SourceRecord struct {
	Question        string           `json:"question"`
	Answer          string           `json:"answer"`
	SupportingFacts []SupportingFact `json:"supporting_facts"`
	Context         []Passage        `json:"context"`
	RouteSelect     string           `json:"route_select"`
	ToolSelect      string           `json:"tool_select"`
	Reasoning       string           `json:"reasoning"`
}

// ParseToolSelect decodes a string-encoded tool list such as "[a, b]".
//
// Brackets and spaces are removed and the remainder is split on commas.
// Empty items are dropped, so "[]" and "" both yield nil.
func ParseToolSelect(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return nil
	}
	var tools []string
	for _, part := range strings.Split(s, ",") {
		part = strings.Trim(part, `"'`)
		if part != "" {
			tools = append(tools, part)
		}
	}
	return tools
}

// Tools returns the parsed gold tool identifiers in declared order.
func (r *SourceRecord) Tools() []string {
	return ParseToolSelect(r.ToolSelect)
}

// Sentences returns the sentences of the first passage with the given title.
func (r *SourceRecord) Sentences(title string) ([]string, bool) {
	for _, p := range r.Context {
		if p.Title == title {
			return p.Sentences, true
		}
	}
	return nil, false
}

// GoldContents returns the context sentences addressed by the supporting
// facts, in context order.
//
// Facts whose title or index do not resolve contribute nothing. The result
// is deduplicated by content, first occurrence wins.
func (r *SourceRecord) GoldContents() []Document {
	gold, _ := r.partition()
	return gold
}

// AllContents returns every context sentence that is not a supporting fact.
//
// This is the noise corpus used for lexical retrieval. The result is
// deduplicated by content, first occurrence wins.
func (r *SourceRecord) AllContents() []Document {
	_, rest := r.partition()
	return rest
}

func (r *SourceRecord) partition() (gold, rest []Document) {
	support := make(map[string]map[int]bool)
	for _, fact := range r.SupportingFacts {
		if support[fact.Title] == nil {
			support[fact.Title] = make(map[int]bool)
		}
		support[fact.Title][fact.SentID] = true
	}

	seenGold := make(map[string]bool)
	seenRest := make(map[string]bool)
	for _, p := range r.Context {
		for i, sentence := range p.Sentences {
			doc := Document{Title: p.Title, Content: sentence}
			if support[p.Title][i] {
				if !seenGold[sentence] {
					seenGold[sentence] = true
					gold = append(gold, doc)
				}
				continue
			}
			if !seenRest[sentence] {
				seenRest[sentence] = true
				rest = append(rest, doc)
			}
		}
	}
	return gold, rest
}

// ReplaceToolNames rewrites every canonical tool identifier in text with the
// variant name it was mapped to.
func ReplaceToolNames(text string, mapping []ToolMapping) string {
	for _, m := range mapping {
		if m.OriginalTool == "" || m.Diversity == "" {
			continue
		}
		text = strings.ReplaceAll(text, m.OriginalTool, m.Diversity)
	}
	return text
}
