// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reasoning turns a model's planning output into a structured
// reasoning trace.
//
// The planning model is asked to answer with one <turn_N> block per round.
// Each turn carries <tool_call> blocks (JSON objects naming a tool and its
// arguments) and, positionally aligned with them, <reference> blocks listing
// the supporting sentences that call is expected to retrieve.
//
// Parsing is two-staged: tags are located first, then each payload is
// decoded. Every failure is a *ParseError naming the stage and turn, so an
// attempt can be discarded with a precise reason instead of a crash.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
	"github.com/Buycar-arb/ToolForge/services/forge/providers"
	"github.com/Buycar-arb/ToolForge/services/forge/toolbank"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrEmptyTrace is returned when the planning model replies with nothing.
	ErrEmptyTrace = errors.New("reasoning: empty trace")

	// ErrMissingTurn is returned when a <turn_N> block is absent.
	ErrMissingTurn = errors.New("reasoning: missing turn")

	// ErrNoToolCalls is returned when a turn contains no <tool_call> block.
	ErrNoToolCalls = errors.New("reasoning: turn has no tool calls")

	// ErrReferenceCount is returned when a turn's <reference> blocks do
	// not pair one-to-one with its tool calls.
	ErrReferenceCount = errors.New("reasoning: reference count does not match tool calls")
)

// Parse stages reported by ParseError.
const (
	StageTurn      = "turn"
	StageToolCall  = "tool_call"
	StageQuery     = "query"
	StageReference = "reference"
)

// ParseError describes why a reasoning trace could not be used.
type ParseError struct {
	// Stage is one of the Stage* constants.
	Stage string

	// Turn is the 1-based turn number, 0 when not turn specific.
	Turn int

	// Index is the 0-based block index within the turn, -1 when not
	// block specific.
	Index int

	Err error
}

func (e *ParseError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("reasoning: turn %d %s #%d: %v", e.Turn, e.Stage, e.Index, e.Err)
	}
	return fmt.Sprintf("reasoning: turn %d %s: %v", e.Turn, e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// =============================================================================
// Trace Types
// =============================================================================

// Call is one parsed <tool_call> block.
type Call struct {
	// Raw is the block text exactly as the model wrote it.
	Raw string

	// Call is the decoded tool call.
	Call toolbank.ToolCall

	// Query is arguments.query, used as the retrieval query.
	Query string
}

// Turn is one planning round.
type Turn struct {
	// Number is 1-based.
	Number int

	// Calls are the round's tool calls in order.
	Calls []Call

	// References[i] are the supporting sentences for Calls[i].
	References [][]datatypes.Document
}

// RawCalls returns the verbatim tool-call blocks of the turn.
func (t Turn) RawCalls() []string {
	out := make([]string, 0, len(t.Calls))
	for _, c := range t.Calls {
		out = append(out, c.Raw)
	}
	return out
}

// AllReferences flattens the per-call references in call order.
func (t Turn) AllReferences() []datatypes.Document {
	var out []datatypes.Document
	for _, refs := range t.References {
		out = append(out, refs...)
	}
	if out == nil {
		out = []datatypes.Document{}
	}
	return out
}

// Trace is a fully parsed planning reply.
type Trace struct {
	Raw   string
	Turns []Turn
}

// Turn returns turn n (1-based) or nil.
func (t *Trace) Turn(n int) *Turn {
	if n < 1 || n > len(t.Turns) {
		return nil
	}
	return &t.Turns[n-1]
}

// =============================================================================
// Parsing
// =============================================================================

// Parse extracts turns 1..turnCount from a planning reply.
//
// Description:
//
//	For each turn the <turn_N> block is located, then its <tool_call> and
//	<reference> blocks. Calls must decode as JSON with a string
//	arguments.query. Reference blocks are JSON or Python-style lists of
//	{title, content} objects. Reference blocks beyond the number of calls
//	are ignored.
//
// Outputs:
//
//	*Trace - Parsed trace.
//	error - ErrEmptyTrace, or a *ParseError.
func Parse(raw string, turnCount int) (*Trace, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyTrace
	}
	trace := &Trace{Raw: raw, Turns: make([]Turn, 0, turnCount)}
	for n := 1; n <= turnCount; n++ {
		turn, err := parseTurn(raw, n)
		if err != nil {
			return nil, err
		}
		trace.Turns = append(trace.Turns, turn)
	}
	return trace, nil
}

func parseTurn(raw string, n int) (Turn, error) {
	tag := fmt.Sprintf("turn_%d", n)
	if !HasTag(raw, tag) {
		return Turn{}, &ParseError{Stage: StageTurn, Turn: n, Index: -1, Err: ErrMissingTurn}
	}
	body := ExtractTag(raw, tag)

	rawCalls := ExtractTags(body, "tool_call")
	if len(rawCalls) == 0 {
		return Turn{}, &ParseError{Stage: StageToolCall, Turn: n, Index: -1, Err: ErrNoToolCalls}
	}
	rawRefs := ExtractTags(body, "reference")
	if len(rawRefs) != len(rawCalls) {
		return Turn{}, &ParseError{Stage: StageReference, Turn: n, Index: -1,
			Err: fmt.Errorf("%w: %d references, %d calls", ErrReferenceCount, len(rawRefs), len(rawCalls))}
	}

	turn := Turn{
		Number:     n,
		Calls:      make([]Call, 0, len(rawCalls)),
		References: make([][]datatypes.Document, 0, len(rawCalls)),
	}
	for i, rc := range rawCalls {
		call, err := toolbank.ParseToolCall(rc)
		if err != nil {
			return Turn{}, &ParseError{Stage: StageToolCall, Turn: n, Index: i, Err: err}
		}
		query, err := call.Query()
		if err != nil {
			return Turn{}, &ParseError{Stage: StageQuery, Turn: n, Index: i, Err: err}
		}
		refs, err := ParseReferences(rawRefs[i])
		if err != nil {
			return Turn{}, &ParseError{Stage: StageReference, Turn: n, Index: i, Err: err}
		}
		turn.Calls = append(turn.Calls, Call{Raw: rc, Call: call, Query: query})
		turn.References = append(turn.References, refs)
	}
	return turn, nil
}

// ParseReferences decodes one <reference> payload into documents.
//
// Accepted shapes: a list of objects, a single object, or a list whose
// items are themselves object literals encoded as strings.
func ParseReferences(s string) ([]datatypes.Document, error) {
	v, err := parseLiteral(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case map[string]any:
		items = []any{t}
	default:
		return nil, fmt.Errorf("expected list of references, got %T", v)
	}

	docs := make([]datatypes.Document, 0, len(items))
	for i, item := range items {
		if str, ok := item.(string); ok {
			nested, err := parseLiteral(str)
			if err != nil {
				return nil, fmt.Errorf("reference %d: %w", i, err)
			}
			item = nested
		}
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("reference %d: expected object, got %T", i, item)
		}
		title, ok := obj["title"].(string)
		if !ok {
			return nil, fmt.Errorf("reference %d: missing string title", i)
		}
		content, ok := obj["content"].(string)
		if !ok {
			return nil, fmt.Errorf("reference %d: missing string content", i)
		}
		docs = append(docs, datatypes.Document{Title: title, Content: content})
	}
	return docs, nil
}

// =============================================================================
// Extractor
// =============================================================================

// Extractor requests a planning trace from a language model and parses it.
//
// Thread Safety: Safe for concurrent use if the underlying service is.
type Extractor struct {
	llm    providers.LanguageModelService
	logger *slog.Logger
}

// NewExtractor creates an Extractor. A nil logger uses slog.Default().
func NewExtractor(llm providers.LanguageModelService, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{llm: llm, logger: logger}
}

// Extract sends the planning prompt and parses turns 1..turnCount.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	system - Planning system prompt (family prompt plus tool prompt).
//	user - Planning user prompt.
//	turnCount - Number of turns to extract.
//
// Outputs:
//
//	*Trace - Parsed trace.
//	error - Transport error from the service, ErrEmptyTrace, or *ParseError.
func (e *Extractor) Extract(ctx context.Context, system, user string, turnCount int) (*Trace, error) {
	reply, err := e.llm.Generate(ctx, []datatypes.Message{{Role: datatypes.RoleUser, Content: user}}, system)
	if err != nil {
		return nil, fmt.Errorf("reasoning: generate trace: %w", err)
	}
	trace, err := Parse(reply, turnCount)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			e.logger.Warn("reasoning trace rejected",
				slog.String("stage", pe.Stage),
				slog.Int("turn", pe.Turn),
				slog.String("error", pe.Err.Error()))
		}
		return nil, err
	}
	return trace, nil
}
