// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validate runs the nine structural and provenance checks over a
// conversation record.
package validate

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Buycar-arb/ToolForge/services/forge/cases"
	"github.com/Buycar-arb/ToolForge/services/forge/record"
)

// Check keys, in evaluation order.
const (
	KeyFormat          = "format_result"
	KeyContent         = "content_result"
	KeyNotEmpty        = "not_empty_result"
	KeyAnswer          = "answer_consistency_result"
	KeyToolRags        = "tool_rags_consistency_result"
	KeyArguments       = "argument_check_result"
	KeyReferences      = "reference_check_result"
	KeyToolConsistency = "tool_consistency_check_result"
	KeyToolBank        = "tool_bank_result"
)

type check struct {
	key     string
	message string
	run     func(cases.CaseSpec, *record.ConversationRecord) bool
}

var checks = []check{
	{KeyFormat, "1. Dialogue format validation failed", checkFormat},
	{KeyContent, "2. Assistant content format validation failed", checkAssistantContent},
	{KeyNotEmpty, "3. Non-assistant field empty validation failed", checkNotEmpty},
	{KeyAnswer, "4. Answer consistency check failed", checkAnswer},
	{KeyToolRags, "5. Tool–RAG consistency check failed", checkToolRags},
	{KeyArguments, "6. Argument validation failed", checkArguments},
	{KeyReferences, "7. Reference error at one or more stages", checkReferences},
	{KeyToolConsistency, "8. Predefined tool count mismatch or inconsistent usage order", checkToolSelection},
	{KeyToolBank, "9. Mismatch between tool_call names/arguments and tool_bank definitions", checkToolBank},
}

var checkOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "toolforge",
		Subsystem: "validate",
		Name:      "check_outcomes_total",
		Help:      "Validation check outcomes by case and check.",
	},
	[]string{"case", "check", "passed"},
)

// CheckResult is the outcome of one check.
type CheckResult struct {
	Key    string `json:"key"`
	Passed bool   `json:"passed"`
}

// Result is the outcome of all nine checks.
type Result struct {
	// Checks holds every check in evaluation order.
	Checks []CheckResult `json:"checks"`

	// Reasons holds the failure message of every failed check, in order.
	Reasons []string `json:"reasons"`

	// RuleScore is 1 when every check passed, else 0.
	RuleScore int `json:"rule_score"`
}

// Passed reports the outcome of the check with the given key.
func (r Result) Passed(key string) bool {
	for _, c := range r.Checks {
		if c.Key == key {
			return c.Passed
		}
	}
	return false
}

// Engine validates conversation records.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates an Engine. A nil logger uses slog.Default().
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Validate runs every check against rec. No check short-circuits another.
//
// Outputs:
//
//	Result - Per-check outcomes, failure reasons and rule score.
//	error - cases.ErrUnknownCase when rec.Case names no case.
func (e *Engine) Validate(rec *record.ConversationRecord) (Result, error) {
	spec, err := cases.Lookup(rec.Case)
	if err != nil {
		return Result{}, fmt.Errorf("validate: %w", err)
	}
	return e.ValidateAs(spec, rec), nil
}

// ValidateAs runs every check against rec as a record of spec.
func (e *Engine) ValidateAs(spec cases.CaseSpec, rec *record.ConversationRecord) Result {
	res := Result{
		Checks:    make([]CheckResult, 0, len(checks)),
		Reasons:   []string{},
		RuleScore: 1,
	}
	for _, c := range checks {
		passed := c.run(spec, rec)
		res.Checks = append(res.Checks, CheckResult{Key: c.key, Passed: passed})
		checkOutcomes.WithLabelValues(spec.ID, c.key, strconv.FormatBool(passed)).Inc()
		if !passed {
			res.Reasons = append(res.Reasons, c.message)
			res.RuleScore = 0
		}
	}

	if res.RuleScore == 0 {
		e.logger.Debug("record failed validation",
			slog.String("case", spec.ID),
			slog.String("uuid", rec.UUID),
			slog.Any("reasons", res.Reasons))
	}
	return res
}
