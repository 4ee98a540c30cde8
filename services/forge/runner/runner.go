// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner drives batch generation: it cycles source records through
// the assembler and the scorer until every case reaches its target.
package runner

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Buycar-arb/ToolForge/services/forge/assemble"
	"github.com/Buycar-arb/ToolForge/services/forge/cases"
	"github.com/Buycar-arb/ToolForge/services/forge/config"
	"github.com/Buycar-arb/ToolForge/services/forge/progress"
	"github.com/Buycar-arb/ToolForge/services/forge/record"
	"github.com/Buycar-arb/ToolForge/services/forge/scoring"
	"github.com/Buycar-arb/ToolForge/services/forge/toolbank"
)

const tracerName = "toolforge.runner"

var (
	// ErrEmptyPool is returned when the source file has no lines.
	ErrEmptyPool = errors.New("runner: source pool is empty")

	// ErrNoTargets is returned when no case is scheduled.
	ErrNoTargets = errors.New("runner: no case targets")
)

// Attempt outcomes, used as metric labels.
const (
	OutcomeAccepted         = "accepted"
	OutcomeRejected         = "rejected"
	OutcomeSkippedLine      = "skipped_line"
	OutcomeSkippedGeneral   = "skipped_general"
	OutcomeGenerationFailed = "generation_failed"
	OutcomeProcessingFailed = "processing_failed"
)

var (
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolforge",
			Subsystem: "runner",
			Name:      "attempts_total",
			Help:      "Attempts by case and outcome.",
		},
		[]string{"case", "outcome"},
	)

	acceptedGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "toolforge",
			Subsystem: "runner",
			Name:      "accepted_records",
			Help:      "Accepted records per case, including resumed progress.",
		},
		[]string{"case"},
	)

	inflightGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "toolforge",
			Subsystem: "runner",
			Name:      "attempts_in_flight",
			Help:      "Attempts currently running.",
		},
	)
)

// Config schedules a run.
type Config struct {
	Targets []config.CaseTarget

	// Workers bounds attempts in flight across all cases.
	Workers int

	// AttemptMultiplier caps attempts per case at multiplier × pool size.
	AttemptMultiplier int

	// Seed makes tool sampling and retrieval reproducible. Zero picks a
	// random seed.
	Seed uint64
}

// Deps are the collaborators of a Runner.
type Deps struct {
	Loader    *toolbank.Loader
	Assembler *assemble.Assembler
	Scorer    *scoring.Orchestrator
	Sink      *scoring.Sink

	// Progress checkpoints counters. Nil disables resume.
	Progress *progress.Store
}

// CaseStatus is the live state of one case.
type CaseStatus struct {
	Case      string `json:"case"`
	Target    int    `json:"target"`
	Accepted  int    `json:"accepted"`
	Attempted int    `json:"attempted"`
	Ceiling   int    `json:"ceiling"`
	InFlight  int    `json:"in_flight"`
	Done      bool   `json:"done"`
}

// Runner executes the run plan.
//
// Description:
//
//	Each case cycles through the source pool from its checkpointed cursor.
//	Every visited line counts as an attempt, including blank lines, lines
//	that are not valid JSON and records without tool_select, which are
//	skipped. A case stops when it has Target accepted records or has made
//	AttemptMultiplier × pool attempts. Attempts run concurrently up to
//	Workers across all cases; a case never has more attempts in flight than
//	it still needs.
//
// Thread Safety: Run may be called once at a time. Status is safe to call
// concurrently with Run.
type Runner struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	newID  func() string

	mu    sync.Mutex
	state []*caseRun
}

// NewRunner creates a Runner. A nil logger uses slog.Default().
func NewRunner(cfg Config, deps Deps, logger *slog.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = config.DefaultWorkers
	}
	if cfg.AttemptMultiplier <= 0 {
		cfg.AttemptMultiplier = config.DefaultAttemptMultiplier
	}
	if cfg.Seed == 0 {
		cfg.Seed = rand.Uint64()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, deps: deps, logger: logger, newID: uuid.NewString}
}

// RunFile reads the source file and runs the plan over it.
func (r *Runner) RunFile(ctx context.Context, path string) ([]CaseStatus, error) {
	pool, err := record.ReadSourceFile(path)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, pool)
}

// Run executes the plan over pool.
//
// Outputs:
//
//	[]CaseStatus - Final state of every case.
//	error - Fatal errors only: empty pool, unreadable tool bank, output or
//	        context failures. Per-attempt failures are score lines.
func (r *Runner) Run(ctx context.Context, pool []record.SourceLine) ([]CaseStatus, error) {
	if len(pool) == 0 {
		return nil, ErrEmptyPool
	}
	if len(r.cfg.Targets) == 0 {
		return nil, ErrNoTargets
	}

	ceiling := r.cfg.AttemptMultiplier * len(pool)
	state := make([]*caseRun, 0, len(r.cfg.Targets))
	for _, t := range r.cfg.Targets {
		cr := &caseRun{spec: t.Spec, target: t.Target, ceiling: ceiling, wake: make(chan struct{}, 1)}
		if err := r.resume(ctx, cr, len(pool)); err != nil {
			return nil, err
		}
		state = append(state, cr)
	}
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()

	r.logger.Info("run started",
		slog.Int("cases", len(state)),
		slog.Int("pool", len(pool)),
		slog.Int("ceiling", ceiling),
		slog.Int("workers", r.cfg.Workers))
	started := time.Now()

	sem := semaphore.NewWeighted(int64(r.cfg.Workers))
	g, gctx := errgroup.WithContext(ctx)
	for _, cr := range state {
		g.Go(func() error {
			return r.runCase(gctx, cr, pool, sem)
		})
	}
	err := g.Wait()

	statuses := r.Status()
	for _, s := range statuses {
		r.logger.Info("case finished",
			slog.String("case", s.Case),
			slog.Int("accepted", s.Accepted),
			slog.Int("target", s.Target),
			slog.Int("attempted", s.Attempted))
	}
	r.logger.Info("run finished", slog.Duration("elapsed", time.Since(started)))
	return statuses, err
}

// Status returns a snapshot of every case in plan order.
func (r *Runner) Status() []CaseStatus {
	r.mu.Lock()
	state := r.state
	r.mu.Unlock()

	out := make([]CaseStatus, 0, len(state))
	for _, cr := range state {
		out = append(out, cr.status())
	}
	return out
}

func (r *Runner) resume(ctx context.Context, cr *caseRun, poolSize int) error {
	key := cr.spec.Key()
	if r.deps.Progress != nil {
		c, found, err := r.deps.Progress.Load(ctx, key)
		if err != nil {
			return err
		}
		if found {
			cr.accepted, cr.attempted = c.Accepted, c.Attempted
			cr.cursor = c.Attempted % poolSize
			r.logger.Info("resuming case",
				slog.String("case", key),
				slog.Int("accepted", c.Accepted),
				slog.Int("attempted", c.Attempted))
		}
	}
	acceptedGauge.WithLabelValues(key).Set(float64(cr.accepted))
	return nil
}

func (r *Runner) runCase(ctx context.Context, cr *caseRun, pool []record.SourceLine, sem *semaphore.Weighted) error {
	key := cr.spec.Key()
	g, gctx := errgroup.WithContext(ctx)

	for {
		cr.mu.Lock()
		if cr.done() {
			cr.mu.Unlock()
			break
		}
		if cr.accepted+cr.inflight >= cr.target {
			cr.mu.Unlock()
			if err := cr.wait(gctx); err != nil {
				break
			}
			continue
		}
		line := pool[cr.cursor]
		cr.cursor = (cr.cursor + 1) % len(pool)
		cr.attempted++
		attemptNo := cr.attempted
		if !usable(line) {
			cr.mu.Unlock()
			attemptsTotal.WithLabelValues(key, OutcomeSkippedLine).Inc()
			r.checkpoint(gctx, cr)
			continue
		}
		cr.inflight++
		cr.mu.Unlock()

		if err := sem.Acquire(gctx, 1); err != nil {
			cr.finish(false)
			break
		}
		inflightGauge.Inc()
		g.Go(func() error {
			defer func() {
				inflightGauge.Dec()
				sem.Release(1)
			}()
			accepted, err := r.attempt(gctx, cr.spec, line, attemptNo)
			cr.finish(accepted)
			if accepted {
				acceptedGauge.WithLabelValues(key).Inc()
			}
			r.checkpoint(gctx, cr)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// attempt runs one source line for one case.
//
// Outputs:
//
//	bool - The record was accepted and written.
//	error - Fatal errors only.
func (r *Runner) attempt(ctx context.Context, spec cases.CaseSpec, line record.SourceLine, attemptNo int) (bool, error) {
	key := spec.Key()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "runner.Runner.attempt",
		trace.WithAttributes(
			attribute.String("case", key),
			attribute.Int("line", line.LineNo),
			attribute.Int("attempt", attemptNo),
		),
	)
	defer span.End()

	rng := r.attemptRand(key, attemptNo)
	src := line.Record

	snap, err := r.deps.Loader.Sample(src.Tools(), rng)
	if err != nil {
		if errors.Is(err, toolbank.ErrNoTools) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "tool bank unavailable")
			return false, err
		}
		return false, r.writeException(span, key, scoring.ReasonProcessingPrefix, err, OutcomeProcessingFailed)
	}

	if spec.IsGeneral() && snap.GeneralUnavailable {
		r.logger.Debug("general tool among gold tools, skipping",
			slog.String("case", key),
			slog.Int("line", line.LineNo))
		attemptsTotal.WithLabelValues(key, OutcomeSkippedGeneral).Inc()
		span.SetAttributes(attribute.String("outcome", OutcomeSkippedGeneral))
		return false, nil
	}

	gc := assemble.NewGenerationContext(spec, src, line.Raw, snap, rng)
	rec, err := r.deps.Assembler.Assemble(ctx, gc)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		r.logger.Info("generation failed",
			slog.String("case", key),
			slog.Int("line", line.LineNo),
			slog.String("error", err.Error()))
		return false, r.writeException(span, key, scoring.ReasonGenerationPrefix, err, OutcomeGenerationFailed)
	}

	out, err := r.deps.Scorer.Score(ctx, rec)
	if err != nil {
		return false, err
	}
	if err := r.deps.Sink.AppendScore(out.Score); err != nil {
		return false, err
	}

	outcome := OutcomeRejected
	if out.Accepted() {
		if err := r.deps.Sink.AppendRecord(rec); err != nil {
			return false, err
		}
		outcome = OutcomeAccepted
	}
	attemptsTotal.WithLabelValues(key, outcome).Inc()
	span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("total_score", out.Score.TotalScore),
	)
	r.logger.Info("attempt scored",
		slog.String("case", key),
		slog.String("uuid", rec.UUID),
		slog.Int("line", line.LineNo),
		slog.Int("rule_score", out.Score.RuleScore),
		slog.String("gpt_score", out.Score.GPTScore.String()),
		slog.Int("total_score", out.Score.TotalScore))
	return outcome == OutcomeAccepted, nil
}

func (r *Runner) writeException(span trace.Span, key, prefix string, cause error, outcome string) error {
	attemptsTotal.WithLabelValues(key, outcome).Inc()
	span.RecordError(cause)
	span.SetAttributes(attribute.String("outcome", outcome))
	return r.deps.Sink.AppendScore(scoring.ExceptionScore(key, r.newID(), nil, prefix, cause))
}

func (r *Runner) checkpoint(ctx context.Context, cr *caseRun) {
	if r.deps.Progress == nil {
		return
	}
	cr.saveMu.Lock()
	defer cr.saveMu.Unlock()
	s := cr.status()
	err := r.deps.Progress.Save(context.WithoutCancel(ctx), cr.spec.Key(),
		progress.Counts{Accepted: s.Accepted, Attempted: s.Attempted})
	if err != nil {
		r.logger.Warn("progress checkpoint failed",
			slog.String("case", cr.spec.Key()),
			slog.String("error", err.Error()))
	}
}

func (r *Runner) attemptRand(caseKey string, attemptNo int) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(caseKey))
	return rand.New(rand.NewPCG(r.cfg.Seed^h.Sum64(), uint64(attemptNo)))
}

func usable(line record.SourceLine) bool {
	return !line.Blank && line.Err == nil && line.HasToolSelect()
}

// =============================================================================
// Per-Case State
// =============================================================================

type caseRun struct {
	spec    cases.CaseSpec
	target  int
	ceiling int

	mu        sync.Mutex
	accepted  int
	attempted int
	inflight  int
	cursor    int

	saveMu sync.Mutex
	wake   chan struct{}
}

// done reports whether the case may stop dispatching. Callers hold mu.
func (c *caseRun) done() bool {
	return c.accepted >= c.target || c.attempted >= c.ceiling
}

func (c *caseRun) finish(accepted bool) {
	c.mu.Lock()
	c.inflight--
	if accepted {
		c.accepted++
	}
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *caseRun) wait(ctx context.Context) error {
	select {
	case <-c.wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *caseRun) status() CaseStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CaseStatus{
		Case:      c.spec.Key(),
		Target:    c.target,
		Accepted:  c.accepted,
		Attempted: c.attempted,
		Ceiling:   c.ceiling,
		InFlight:  c.inflight,
		Done:      c.done() && c.inflight == 0,
	}
}
