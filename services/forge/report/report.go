// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report summarizes score logs with an in-memory DuckDB database.
//
// Score lines are loaded into two tables, one row per line in scores and one
// row per individual failure reason in failures, then aggregated with SQL.
package report

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	_ "github.com/marcboeker/go-duckdb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Buycar-arb/ToolForge/services/forge/record"
	"github.com/Buycar-arb/ToolForge/services/forge/scoring"
)

const tracerName = "toolforge.report"

// Outcome categories of a score line.
const (
	CategoryAccepted       = "accepted"
	CategoryRuleFailed     = "rule_failed"
	CategoryJudgeRejected  = "judge_rejected"
	CategoryJudgeFailed    = "judge_failed"
	CategoryGeneration     = "generation_failed"
	CategoryProcessing     = "processing_failed"
	CategoryValidation     = "validation_exception"
	reasonSeparator        = "; "
	scoreFilePattern       = "score_*.jsonl"
	maxStoredReasonLength  = 200
)

const schema = `
CREATE TABLE scores (
	case_key    VARCHAR NOT NULL,
	uuid        VARCHAR,
	rule_score  INTEGER NOT NULL,
	gpt_score   INTEGER,
	total_score INTEGER NOT NULL,
	category    VARCHAR NOT NULL
);
CREATE TABLE failures (
	case_key VARCHAR NOT NULL,
	category VARCHAR NOT NULL,
	reason   VARCHAR NOT NULL
);`

// CaseSummary aggregates one case's score log.
type CaseSummary struct {
	Case           string  `json:"case"`
	Lines          int     `json:"lines"`
	Accepted       int     `json:"accepted"`
	RuleFailed     int     `json:"rule_failed"`
	JudgeRejected  int     `json:"judge_rejected"`
	JudgeFailed    int     `json:"judge_failed"`
	Exceptions     int     `json:"exceptions"`
	PassRate       float64 `json:"pass_rate"`
	RulePassRate   float64 `json:"rule_pass_rate"`
	JudgedPassRate float64 `json:"judged_pass_rate"`
}

// ReasonCount is one failure reason and how often it occurred.
type ReasonCount struct {
	Case     string `json:"case"`
	Category string `json:"category"`
	Reason   string `json:"reason"`
	Count    int    `json:"count"`
}

// Report is the full summary of an output directory.
type Report struct {
	Cases   []CaseSummary `json:"cases"`
	Reasons []ReasonCount `json:"top_reasons"`
	Skipped int           `json:"skipped_lines"`
}

// Reporter owns the DuckDB connection.
//
// Thread Safety: Not safe for concurrent loads.
type Reporter struct {
	db      *sql.DB
	skipped int
	logger  *slog.Logger
}

// Open creates an empty in-memory database with the report schema.
func Open(ctx context.Context, logger *slog.Logger) (*Reporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("report: open duckdb: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("report: create schema: %w", err)
	}
	return &Reporter{db: db, logger: logger}, nil
}

// Close releases the database.
func (r *Reporter) Close() error {
	return r.db.Close()
}

// Classify maps a score line to its outcome category.
func Classify(s record.ScoreRecord) string {
	switch {
	case strings.HasPrefix(s.ErrorReason, scoring.ReasonGenerationPrefix):
		return CategoryGeneration
	case strings.HasPrefix(s.ErrorReason, scoring.ReasonProcessingPrefix):
		return CategoryProcessing
	case strings.HasPrefix(s.ErrorReason, scoring.ReasonValidationPrefix):
		return CategoryValidation
	case s.RuleScore == 0:
		return CategoryRuleFailed
	case !s.GPTScore.Valid:
		return CategoryJudgeFailed
	case s.GPTScore.Value == 1 && s.TotalScore == 2:
		return CategoryAccepted
	default:
		return CategoryJudgeRejected
	}
}

// failureReasons splits a line's error reason into countable entries. Rule
// failures list every failed check; judge rejections carry the judge's full
// reply, which is reduced to a fixed label.
func failureReasons(category, reason string) []string {
	switch category {
	case CategoryAccepted:
		return nil
	case CategoryRuleFailed:
		return strings.Split(reason, reasonSeparator)
	case CategoryJudgeRejected:
		return []string{"judge scored 0"}
	}
	if len(reason) > maxStoredReasonLength {
		reason = reason[:maxStoredReasonLength]
	}
	return []string{reason}
}

// LoadDir loads every score_<case>.jsonl file in dir.
//
// Outputs:
//
//	int - Number of score lines loaded.
//	error - Non-nil on IO or database failure. Undecodable lines are
//	        counted as skipped and logged.
func (r *Reporter) LoadDir(ctx context.Context, dir string) (int, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "report.Reporter.LoadDir")
	defer span.End()

	paths, err := filepath.Glob(filepath.Join(dir, scoreFilePattern))
	if err != nil {
		return 0, fmt.Errorf("report: glob score files: %w", err)
	}
	sort.Strings(paths)

	total := 0
	for _, path := range paths {
		n, err := r.LoadFile(ctx, path)
		if err != nil {
			return total, err
		}
		total += n
	}
	span.SetAttributes(attribute.Int("files", len(paths)), attribute.Int("lines", total))
	return total, nil
}

// LoadFile loads one score log inside a single transaction.
func (r *Reporter) LoadFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("report: open %s: %w", path, err)
	}
	defer f.Close()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("report: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	scoreStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO scores (case_key, uuid, rule_score, gpt_score, total_score, category) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("report: prepare scores: %w", err)
	}
	defer scoreStmt.Close()
	failStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO failures (case_key, category, reason) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("report: prepare failures: %w", err)
	}
	defer failStmt.Close()

	loaded := 0
	err = record.ForEachLine(f, func(lineNo int, line []byte) error {
		if len(bytes.TrimSpace(line)) == 0 {
			return nil
		}
		var s record.ScoreRecord
		if err := json.Unmarshal(line, &s); err != nil || s.Case == "" {
			r.skipped++
			r.logger.Warn("skipping score line",
				slog.String("file", path),
				slog.Int("line", lineNo))
			return nil
		}
		category := Classify(s)
		var gpt sql.NullInt64
		if s.GPTScore.Valid {
			gpt = sql.NullInt64{Int64: int64(s.GPTScore.Value), Valid: true}
		}
		if _, err := scoreStmt.ExecContext(ctx, s.Case, s.UUID, s.RuleScore, gpt, s.TotalScore, category); err != nil {
			return fmt.Errorf("insert score: %w", err)
		}
		for _, reason := range failureReasons(category, s.ErrorReason) {
			if reason == "" {
				continue
			}
			if _, err := failStmt.ExecContext(ctx, s.Case, category, reason); err != nil {
				return fmt.Errorf("insert failure: %w", err)
			}
		}
		loaded++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("report: load %s: %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("report: commit: %w", err)
	}
	return loaded, nil
}

// Summarize aggregates the loaded lines per case, ordered by case key.
func (r *Reporter) Summarize(ctx context.Context) ([]CaseSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT case_key,
       count(*)                                              AS lines,
       count(*) FILTER (WHERE category = 'accepted')         AS accepted,
       count(*) FILTER (WHERE category = 'rule_failed')      AS rule_failed,
       count(*) FILTER (WHERE category = 'judge_rejected')   AS judge_rejected,
       count(*) FILTER (WHERE category = 'judge_failed')     AS judge_failed,
       count(*) FILTER (WHERE category IN ('generation_failed', 'processing_failed', 'validation_exception')) AS exceptions,
       count(*) FILTER (WHERE rule_score = 1)                AS rule_passed,
       count(*) FILTER (WHERE gpt_score IS NOT NULL)         AS judged
FROM scores
GROUP BY case_key
ORDER BY case_key`)
	if err != nil {
		return nil, fmt.Errorf("report: summarize: %w", err)
	}
	defer rows.Close()

	var out []CaseSummary
	for rows.Next() {
		var s CaseSummary
		var rulePassed, judged int
		if err := rows.Scan(&s.Case, &s.Lines, &s.Accepted, &s.RuleFailed,
			&s.JudgeRejected, &s.JudgeFailed, &s.Exceptions, &rulePassed, &judged); err != nil {
			return nil, fmt.Errorf("report: scan summary: %w", err)
		}
		s.PassRate = ratio(s.Accepted, s.Lines)
		s.RulePassRate = ratio(rulePassed, s.Lines)
		s.JudgedPassRate = ratio(s.Accepted, judged)
		out = append(out, s)
	}
	return out, rows.Err()
}

// TopReasons returns the most frequent failure reasons across all cases,
// at most limit entries per case.
func (r *Reporter) TopReasons(ctx context.Context, limit int) ([]ReasonCount, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT case_key, category, reason, n FROM (
	SELECT case_key, category, reason, count(*) AS n,
	       row_number() OVER (PARTITION BY case_key ORDER BY count(*) DESC, reason) AS pos
	FROM failures
	GROUP BY case_key, category, reason
)
WHERE pos <= ?
ORDER BY case_key, n DESC, reason`, limit)
	if err != nil {
		return nil, fmt.Errorf("report: top reasons: %w", err)
	}
	defer rows.Close()

	var out []ReasonCount
	for rows.Next() {
		var rc ReasonCount
		if err := rows.Scan(&rc.Case, &rc.Category, &rc.Reason, &rc.Count); err != nil {
			return nil, fmt.Errorf("report: scan reason: %w", err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// Build loads dir and returns the full report.
func (r *Reporter) Build(ctx context.Context, dir string, reasonLimit int) (*Report, error) {
	if _, err := r.LoadDir(ctx, dir); err != nil {
		return nil, err
	}
	return r.Summary(ctx, reasonLimit)
}

// Summary reports on everything loaded so far.
func (r *Reporter) Summary(ctx context.Context, reasonLimit int) (*Report, error) {
	cases, err := r.Summarize(ctx)
	if err != nil {
		return nil, err
	}
	reasons, err := r.TopReasons(ctx, reasonLimit)
	if err != nil {
		return nil, err
	}
	return &Report{Cases: cases, Reasons: reasons, Skipped: r.skipped}, nil
}

// WriteText renders rep as aligned tables.
func WriteText(w io.Writer, rep *Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CASE\tLINES\tACCEPTED\tRULE_FAIL\tJUDGE_REJECT\tJUDGE_FAIL\tEXCEPTIONS\tPASS_RATE")
	for _, c := range rep.Cases {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%.1f%%\n",
			c.Case, c.Lines, c.Accepted, c.RuleFailed, c.JudgeRejected, c.JudgeFailed, c.Exceptions, c.PassRate*100)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(rep.Reasons) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "CASE\tCATEGORY\tCOUNT\tREASON")
		for _, rc := range rep.Reasons {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", rc.Case, rc.Category, rc.Count, rc.Reason)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if rep.Skipped > 0 {
		fmt.Fprintf(w, "\n%d undecodable score lines skipped\n", rep.Skipped)
	}
	return nil
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
