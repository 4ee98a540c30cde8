// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package record defines the persisted forms of a synthesized conversation
// and of its score line.
//
// A ConversationRecord is stored as a seven-element JSON array:
//
//	[{case, uuid},
//	 {messages},
//	 {rags, answer, reasoning, good_tool_mapping},
//	 {argument_check},
//	 {argument_all_reference},
//	 {argument_tool_bank},
//	 <source record>]
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
	"github.com/Buycar-arb/ToolForge/services/forge/toolbank"
)

// NotRequired is the argument_check value of cases without a grouped trace.
const NotRequired = "Don't need to check"

// ErrMalformedRecord is returned when a persisted record cannot be decoded.
var ErrMalformedRecord = errors.New("record: malformed conversation record")

// =============================================================================
// Argument Check Trace
// =============================================================================

// ToolCallObject is one tool call of an assistant turn, annotated with the
// definition of the tool it names.
type ToolCallObject struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`

	// ToolDefinition is nil when the name resolves to no known tool.
	ToolDefinition *toolbank.ToolDefinition `json:"tool_definition"`
}

// ArgumentGroup is the tool calls of one non-final assistant message.
type ArgumentGroup struct {
	// AssistantIndex is the 1-based position among assistant messages.
	AssistantIndex int              `json:"assistant_index"`
	Objects        []ToolCallObject `json:"objects"`
}

// ArgumentCheck is either the NotRequired sentinel or a grouped trace.
type ArgumentCheck struct {
	Required bool
	Groups   []ArgumentGroup
}

// Skipped returns the sentinel value.
func Skipped() ArgumentCheck {
	return ArgumentCheck{}
}

// Grouped returns a trace. A nil slice is stored as an empty trace.
func Grouped(groups []ArgumentGroup) ArgumentCheck {
	if groups == nil {
		groups = []ArgumentGroup{}
	}
	return ArgumentCheck{Required: true, Groups: groups}
}

// MarshalJSON encodes the sentinel string or the group list.
func (a ArgumentCheck) MarshalJSON() ([]byte, error) {
	if !a.Required {
		return json.Marshal(NotRequired)
	}
	groups := a.Groups
	if groups == nil {
		groups = []ArgumentGroup{}
	}
	return json.Marshal(groups)
}

// UnmarshalJSON accepts the sentinel string, null, or a group list.
func (a *ArgumentCheck) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*a = Skipped()
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		if s != NotRequired {
			return fmt.Errorf("argument_check: unexpected sentinel %q", s)
		}
		*a = Skipped()
		return nil
	}
	var groups []ArgumentGroup
	if err := json.Unmarshal(trimmed, &groups); err != nil {
		return fmt.Errorf("argument_check: %w", err)
	}
	*a = Grouped(groups)
	return nil
}

// =============================================================================
// Conversation Record
// =============================================================================

// ReferenceTurn is the gold references claimed by one reasoning round.
type ReferenceTurn struct {
	Turn int                  `json:"turn"`
	Data []datatypes.Document `json:"data"`
}

// ConversationRecord is one synthesized conversation with its provenance.
//
// Thread Safety: Treat as immutable once returned by the assembler.
type ConversationRecord struct {
	// Case is the prefixed case key, e.g. "case_C4".
	Case string
	UUID string

	Messages []datatypes.Message

	// Rags holds one evidence bucket per tool message, in transcript order.
	Rags            [][]datatypes.Document
	Answer          string
	Reasoning       string
	GoodToolMapping []datatypes.ToolMapping

	ArgumentCheck ArgumentCheck
	References    []ReferenceTurn

	// ToolBank is the tool set shown to the model.
	ToolBank []toolbank.ToolDefinition

	// Source is the source record the conversation was built from.
	Source datatypes.SourceRecord

	// SourceRaw, when set, is written instead of Source so that fields the
	// model does not know survive a round trip.
	SourceRaw json.RawMessage
}

type headerPart struct {
	Case string `json:"case"`
	UUID string `json:"uuid"`
}

type messagesPart struct {
	Messages []datatypes.Message `json:"messages"`
}

type metadataPart struct {
	Rags            [][]datatypes.Document  `json:"rags"`
	Answer          string                  `json:"answer"`
	Reasoning       string                  `json:"reasoning"`
	GoodToolMapping []datatypes.ToolMapping `json:"good_tool_mapping"`
}

type argumentCheckPart struct {
	ArgumentCheck ArgumentCheck `json:"argument_check"`
}

type referencePart struct {
	References []ReferenceTurn `json:"argument_all_reference"`
}

type toolBankPart struct {
	ToolBank []toolbank.ToolDefinition `json:"argument_tool_bank"`
}

// MessagesPart returns the {"messages": [...]} object stored in score lines.
func (r *ConversationRecord) MessagesPart() json.RawMessage {
	b, err := marshalNoEscape(messagesPart{Messages: nonNilMessages(r.Messages)})
	if err != nil {
		return nil
	}
	return b
}

// FlatReferences returns every turn's references in turn order.
func (r *ConversationRecord) FlatReferences() []datatypes.Document {
	var out []datatypes.Document
	for _, t := range r.References {
		out = append(out, t.Data...)
	}
	return out
}

// MarshalJSON encodes the seven-element array.
func (r ConversationRecord) MarshalJSON() ([]byte, error) {
	var source any = r.Source
	if len(r.SourceRaw) > 0 {
		source = r.SourceRaw
	}
	rags := r.Rags
	if rags == nil {
		rags = [][]datatypes.Document{}
	}
	refs := r.References
	if refs == nil {
		refs = []ReferenceTurn{}
	}
	bank := r.ToolBank
	if bank == nil {
		bank = []toolbank.ToolDefinition{}
	}
	mapping := r.GoodToolMapping
	if mapping == nil {
		mapping = []datatypes.ToolMapping{}
	}

	parts := []any{
		headerPart{Case: r.Case, UUID: r.UUID},
		messagesPart{Messages: nonNilMessages(r.Messages)},
		metadataPart{Rags: rags, Answer: r.Answer, Reasoning: r.Reasoning, GoodToolMapping: mapping},
		argumentCheckPart{ArgumentCheck: r.ArgumentCheck},
		referencePart{References: refs},
		toolBankPart{ToolBank: bank},
		source,
	}
	return marshalNoEscape(parts)
}

// UnmarshalJSON decodes the array form.
//
// Description:
//
//	The first three elements are required. A missing argument_check decodes
//	as the sentinel, missing references and tool bank as empty. The source
//	record is the last element when the array has seven or more.
func (r *ConversationRecord) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if len(parts) < 3 {
		return fmt.Errorf("%w: expected at least 3 elements, got %d", ErrMalformedRecord, len(parts))
	}

	var (
		head headerPart
		msgs messagesPart
		meta metadataPart
		args = argumentCheckPart{ArgumentCheck: Skipped()}
		refs referencePart
		bank toolBankPart
	)
	decode := func(i int, v any) error {
		if i >= len(parts) {
			return nil
		}
		if err := json.Unmarshal(parts[i], v); err != nil {
			return fmt.Errorf("%w: element %d: %v", ErrMalformedRecord, i, err)
		}
		return nil
	}
	for i, v := range []any{&head, &msgs, &meta, &args, &refs, &bank} {
		if err := decode(i, v); err != nil {
			return err
		}
	}

	*r = ConversationRecord{
		Case:            head.Case,
		UUID:            head.UUID,
		Messages:        msgs.Messages,
		Rags:            meta.Rags,
		Answer:          meta.Answer,
		Reasoning:       meta.Reasoning,
		GoodToolMapping: meta.GoodToolMapping,
		ArgumentCheck:   args.ArgumentCheck,
		References:      refs.References,
		ToolBank:        bank.ToolBank,
	}

	if len(parts) >= 7 {
		last := parts[len(parts)-1]
		if err := json.Unmarshal(last, &r.Source); err != nil {
			return fmt.Errorf("%w: source record: %v", ErrMalformedRecord, err)
		}
		r.SourceRaw = append(json.RawMessage(nil), last...)
	}
	return nil
}

// marshalNoEscape keeps <think> and <tool_call> tags readable in the
// persisted transcript.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func nonNilMessages(m []datatypes.Message) []datatypes.Message {
	if m == nil {
		return []datatypes.Message{}
	}
	return m
}
