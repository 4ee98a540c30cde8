// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assemble builds one synthesized conversation per attempt.
//
// Every case runs through the same algorithm. The CaseSpec decides which
// tools are shown, how many reasoning rounds are extracted, how retrieved
// evidence is split into buckets, and whether the tool calls are grouped for
// argument checking.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Buycar-arb/ToolForge/services/forge/cases"
	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
	"github.com/Buycar-arb/ToolForge/services/forge/prompts"
	"github.com/Buycar-arb/ToolForge/services/forge/providers"
	"github.com/Buycar-arb/ToolForge/services/forge/reasoning"
	"github.com/Buycar-arb/ToolForge/services/forge/record"
	"github.com/Buycar-arb/ToolForge/services/forge/retrieval"
)

const tracerName = "toolforge.assemble"

var (
	// ErrNoRecord wraps every reason an attempt produced no record.
	ErrNoRecord = errors.New("assemble: no record produced")

	// ErrGeneralUnavailable is returned for general-visibility cases when the
	// record's gold tools include the fallback tool.
	ErrGeneralUnavailable = errors.New("assemble: general tool set unavailable")

	// ErrRenderParse is returned when the render reply has no usable
	// conversation.
	ErrRenderParse = errors.New("assemble: render reply unparseable")
)

// Abort stages, used as the "stage" metric label.
const (
	stagePrompt    = "prompt"
	stageTools     = "tools"
	stageReasoning = "reasoning"
	stageRender    = "render"
	stageArguments = "arguments"
)

var (
	assembledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolforge",
			Subsystem: "assemble",
			Name:      "records_total",
			Help:      "Conversation records assembled.",
		},
		[]string{"case"},
	)

	abortedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolforge",
			Subsystem: "assemble",
			Name:      "aborts_total",
			Help:      "Attempts that produced no record, by stage.",
		},
		[]string{"case", "stage"},
	)
)

// Config holds the retrieval window of the assembler.
type Config struct {
	MinTopK int
	MaxTopK int
}

// Assembler turns a GenerationContext into a ConversationRecord.
//
// Thread Safety: Safe for concurrent use when the prompt set, model service
// and retriever are. Each call must use its own GenerationContext.
type Assembler struct {
	prompts   *prompts.Set
	llm       providers.LanguageModelService
	extractor *reasoning.Extractor
	evidence  *evidenceBuilder
	logger    *slog.Logger
	newID     func() string
}

// NewAssembler creates an Assembler.
//
// Inputs:
//
//	cfg - Retrieval window. Zero values select the retrieval defaults.
//	set - Prompt templates.
//	llm - Generator used for both the reasoning and the render call.
//	retriever - Evidence retriever. Nil selects an English retriever.
//	logger - Nil uses slog.Default().
func NewAssembler(cfg Config, set *prompts.Set, llm providers.LanguageModelService,
	retriever *retrieval.Retriever, logger *slog.Logger) *Assembler {
	if cfg.MinTopK <= 0 {
		cfg.MinTopK = retrieval.DefaultMinTopK
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = retrieval.DefaultMaxTopK
	}
	if retriever == nil {
		retriever = retrieval.NewRetriever(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		prompts:   set,
		llm:       llm,
		extractor: reasoning.NewExtractor(llm, logger),
		evidence:  &evidenceBuilder{retriever: retriever, minK: cfg.MinTopK, maxK: cfg.MaxTopK},
		logger:    logger,
		newID:     func() string { return uuid.NewString() },
	}
}

// Assemble runs one attempt.
//
// Description:
//
//	1. Picks the tool set the case shows and renders the tool prompt.
//	2. Asks the generator for a planning trace and extracts its rounds.
//	3. Retrieves evidence per call and partitions it into buckets.
//	4. Asks the generator to render the conversation and parses it.
//	5. Groups the tool calls for argument checking when the case needs it.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	gc - Attempt context.
//
// Outputs:
//
//	*record.ConversationRecord - The assembled record.
//	error - Wraps ErrNoRecord and the underlying cause.
func (a *Assembler) Assemble(ctx context.Context, gc GenerationContext) (*record.ConversationRecord, error) {
	spec := gc.Case
	ctx, span := otel.Tracer(tracerName).Start(ctx, "assemble.Assembler.Assemble",
		trace.WithAttributes(
			attribute.String("case", spec.ID),
			attribute.Int("turns", spec.TurnCount),
			attribute.Int("buckets", len(spec.Buckets)),
		),
	)
	defer span.End()

	rec, stage, err := a.assemble(ctx, gc)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrNoRecord, stage, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		abortedTotal.WithLabelValues(spec.ID, stage).Inc()
		a.logger.Warn("attempt produced no record",
			slog.String("case", spec.ID),
			slog.String("stage", stage),
			slog.String("error", err.Error()))
		return nil, err
	}

	span.SetAttributes(
		attribute.String("uuid", rec.UUID),
		attribute.Int("message_count", len(rec.Messages)),
	)
	assembledTotal.WithLabelValues(spec.ID).Inc()
	return rec, nil
}

func (a *Assembler) assemble(ctx context.Context, gc GenerationContext) (*record.ConversationRecord, string, error) {
	spec := gc.Case

	shown, err := gc.ShownTools()
	if err != nil {
		return nil, stageTools, err
	}
	toolPrompt, err := a.prompts.ToolPrompt(shown)
	if err != nil {
		return nil, stagePrompt, err
	}
	system, err := a.prompts.System()
	if err != nil {
		return nil, stagePrompt, err
	}
	user, err := a.prompts.User(gc.Query)
	if err != nil {
		return nil, stagePrompt, err
	}

	tr, err := a.plan(ctx, gc, toolPrompt)
	if err != nil {
		return nil, stageReasoning, err
	}

	buckets := a.evidence.build(spec, tr, gc.AllContents, gc.Rand)

	body, err := a.render(ctx, gc, tr, buckets)
	if err != nil {
		return nil, stageRender, err
	}

	messages := make([]datatypes.Message, 0, len(body)+2)
	messages = append(messages,
		datatypes.Message{Role: datatypes.RoleSystem, Content: system + toolPrompt},
		datatypes.Message{Role: datatypes.RoleUser, Content: user},
	)
	messages = append(messages, body...)

	argCheck := record.Skipped()
	if spec.ArgumentCheck == cases.ArgumentCheckGrouped {
		groups, err := BuildArgumentCheck(messages, shown, gc.Tools)
		if err != nil {
			return nil, stageArguments, err
		}
		argCheck = record.Grouped(groups)
	}

	rags := make([][]datatypes.Document, 0, len(spec.Buckets))
	for _, b := range spec.Buckets {
		docs := buckets[b]
		if docs == nil {
			docs = []datatypes.Document{}
		}
		rags = append(rags, docs)
	}

	refs := make([]record.ReferenceTurn, 0, len(tr.Turns))
	for _, t := range tr.Turns {
		refs = append(refs, record.ReferenceTurn{Turn: t.Number, Data: t.AllReferences()})
	}

	rec := &record.ConversationRecord{
		Case:            spec.Key(),
		UUID:            a.newID(),
		Messages:        messages,
		Rags:            rags,
		Answer:          gc.Answer,
		Reasoning:       gc.Reasoning,
		GoodToolMapping: gc.Tools.Mapping,
		ArgumentCheck:   argCheck,
		References:      refs,
		ToolBank:        shown,
		Source:          gc.Source,
		SourceRaw:       gc.SourceRaw,
	}
	return rec, "", nil
}

// plan requests and parses the planning trace.
func (a *Assembler) plan(ctx context.Context, gc GenerationContext, toolPrompt string) (*reasoning.Trace, error) {
	system, err := a.prompts.ReasoningSystem(gc.Case.Family)
	if err != nil {
		return nil, err
	}
	user, err := a.prompts.ReasoningUser(prompts.ReasoningData{
		Query:       gc.Query,
		GoodTools:   gc.Tools.Good,
		Reference:   gc.GoldContents,
		Answer:      gc.Answer,
		RouteSelect: gc.RouteSelect,
		Reasoning:   gc.Reasoning,
		TurnCount:   gc.Case.TurnCount,
	})
	if err != nil {
		return nil, err
	}
	return a.extractor.Extract(ctx, system+toolPrompt, user, gc.Case.TurnCount)
}

// render requests the conversation body and parses it.
func (a *Assembler) render(ctx context.Context, gc GenerationContext, tr *reasoning.Trace,
	buckets map[cases.Bucket][]datatypes.Document) ([]datatypes.Message, error) {

	spec := gc.Case
	data := prompts.RenderData{
		Query:     gc.Query,
		Reasoning: gc.Reasoning,
		Answer:    gc.Answer,
	}
	for _, t := range tr.Turns {
		data.Turns = append(data.Turns, prompts.RenderTurn{Number: t.Number, ToolCalls: t.RawCalls()})
	}
	for _, b := range spec.Buckets {
		data.Buckets = append(data.Buckets, prompts.RenderBucket{
			Label:     prompts.BucketLabel(b),
			Turn:      b.Turn,
			Kind:      b.Kind.String(),
			Documents: buckets[b],
		})
	}
	switch spec.ToolList {
	case cases.ToolListDistractors:
		data.ToolList = gc.Tools.Distractors
	case cases.ToolListGeneral:
		data.ToolListGeneral = gc.Tools.General
		data.GeneralTool = gc.Tools.GeneralTool
	}

	system, err := a.prompts.RenderSystem()
	if err != nil {
		return nil, err
	}
	user, err := a.prompts.Render(spec.ID, data)
	if err != nil {
		return nil, err
	}
	reply, err := a.llm.Generate(ctx, []datatypes.Message{{Role: datatypes.RoleUser, Content: user}}, system)
	if err != nil {
		return nil, fmt.Errorf("generate conversation: %w", err)
	}
	return ParseRendered(reply)
}
