// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scoring combines the rule checks with a semantic judge into one
// score line per attempt, and writes the accepted dataset.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
	"github.com/Buycar-arb/ToolForge/services/forge/prompts"
	"github.com/Buycar-arb/ToolForge/services/forge/providers"
	"github.com/Buycar-arb/ToolForge/services/forge/record"
	"github.com/Buycar-arb/ToolForge/services/forge/validate"
)

const tracerName = "toolforge.scoring"

// Reasons written to score lines.
const (
	ReasonJudgeFailed      = "LLM call failed"
	ReasonParsePrefix      = "Failed to parse LLM result: "
	ReasonGenerationPrefix = "Generation failed: "
	ReasonValidationPrefix = "Validation exception: "
	ReasonProcessingPrefix = "Processing exception: "

	reasonSeparator = "; "
)

// Outcome labels of the scoring metric.
const (
	judgeOutcomeAccepted     = "accepted"
	judgeOutcomeRejected     = "rejected"
	judgeOutcomeUnparseable  = "unparseable"
	judgeOutcomeCallFailed   = "call_failed"
	judgeOutcomeRulesFailed  = "rules_failed"
	judgeOutcomeInvalidInput = "invalid_input"
)

var scoredTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "toolforge",
		Subsystem: "scoring",
		Name:      "records_total",
		Help:      "Scored records by case and outcome.",
	},
	[]string{"case", "outcome"},
)

// Outcome is the scoring verdict of one record.
type Outcome struct {
	Score      record.ScoreRecord
	Validation validate.Result
}

// Accepted reports whether the record belongs in the dataset.
func (o Outcome) Accepted() bool {
	return o.Score.Accepted()
}

// Orchestrator scores records.
//
// Thread Safety: Safe for concurrent use when the judge service is.
type Orchestrator struct {
	engine  *validate.Engine
	judge   providers.LanguageModelService
	prompts *prompts.Set
	logger  *slog.Logger
}

// NewOrchestrator creates an Orchestrator. A nil engine or logger gets a
// default.
func NewOrchestrator(engine *validate.Engine, judge providers.LanguageModelService,
	set *prompts.Set, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if engine == nil {
		engine = validate.NewEngine(logger)
	}
	return &Orchestrator{engine: engine, judge: judge, prompts: set, logger: logger}
}

// Score validates rec and, when every rule passes, asks the judge.
//
// Description:
//
//	Rule score 0 ends scoring with the joined failure reasons. Otherwise the
//	judge sees the messages and the good tool mapping. A transport failure
//	or empty reply, and an unparseable score, leave gpt_score null and
//	total 1. A judge score of 0 keeps total 1 with the judge reply as the
//	reason; 1 gives total 2 and acceptance.
//
// Outputs:
//
//	Outcome - Always filled, including for records that cannot be
//	          validated.
//	error - Non-nil only when ctx ended during the judge call.
func (o *Orchestrator) Score(ctx context.Context, rec *record.ConversationRecord) (Outcome, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "scoring.Orchestrator.Score",
		trace.WithAttributes(
			attribute.String("case", rec.Case),
			attribute.String("uuid", rec.UUID),
		),
	)
	defer span.End()

	base := record.ScoreRecord{
		Case:     rec.Case,
		UUID:     rec.UUID,
		GPTScore: record.NullScore(),
		Data:     rec.MessagesPart(),
	}

	result, err := o.engine.Validate(rec)
	if err != nil {
		base.ErrorReason = ReasonValidationPrefix + err.Error()
		o.finish(span, base, judgeOutcomeInvalidInput)
		return Outcome{Score: base}, nil
	}
	out := Outcome{Validation: result}

	if result.RuleScore == 0 {
		base.ErrorReason = strings.Join(result.Reasons, reasonSeparator)
		out.Score = base
		o.finish(span, base, judgeOutcomeRulesFailed)
		return out, nil
	}
	base.RuleScore = 1
	base.TotalScore = 1

	reply, err := o.askJudge(ctx, rec)
	if err != nil && ctx.Err() != nil {
		return out, fmt.Errorf("scoring: judge: %w", ctx.Err())
	}
	if err != nil || strings.TrimSpace(reply) == "" {
		if err != nil {
			o.logger.Warn("judge call failed",
				slog.String("case", rec.Case),
				slog.String("uuid", rec.UUID),
				slog.String("error", err.Error()))
		}
		base.ErrorReason = ReasonJudgeFailed
		out.Score = base
		o.finish(span, base, judgeOutcomeCallFailed)
		return out, nil
	}

	score, err := ParseJudgeScore(reply)
	switch {
	case err != nil:
		base.ErrorReason = ReasonParsePrefix + err.Error()
		o.finish(span, base, judgeOutcomeUnparseable)
	case score == 0:
		base.GPTScore = record.Score(0)
		base.ErrorReason = reply
		o.finish(span, base, judgeOutcomeRejected)
	default:
		base.GPTScore = record.Score(score)
		base.TotalScore = base.RuleScore + score
		base.GoodReason = reply
		o.finish(span, base, judgeOutcomeAccepted)
	}
	out.Score = base
	return out, nil
}

func (o *Orchestrator) askJudge(ctx context.Context, rec *record.ConversationRecord) (string, error) {
	system, err := o.prompts.JudgeSystem()
	if err != nil {
		return "", err
	}
	user, err := o.prompts.JudgeUser(rec.Messages, rec.GoodToolMapping)
	if err != nil {
		return "", err
	}
	return o.judge.Generate(ctx, []datatypes.Message{{Role: datatypes.RoleUser, Content: user}}, system)
}

func (o *Orchestrator) finish(span trace.Span, s record.ScoreRecord, outcome string) {
	span.SetAttributes(
		attribute.Int("rule_score", s.RuleScore),
		attribute.String("gpt_score", s.GPTScore.String()),
		attribute.Int("total_score", s.TotalScore),
		attribute.String("outcome", outcome),
	)
	scoredTotal.WithLabelValues(s.Case, outcome).Inc()
}

// ExceptionScore builds the score line of an attempt that ended before
// scoring.
//
// Inputs:
//
//	caseKey - Prefixed case key, e.g. "case_C4".
//	id - Attempt uuid.
//	data - The {"messages": [...]} object when one exists, else nil.
//	prefix - One of the Reason*Prefix constants.
//	err - The cause.
func ExceptionScore(caseKey, id string, data json.RawMessage, prefix string, err error) record.ScoreRecord {
	return record.ScoreRecord{
		Case:        caseKey,
		GPTScore:    record.NullScore(),
		UUID:        id,
		Data:        data,
		ErrorReason: prefix + err.Error(),
	}
}
