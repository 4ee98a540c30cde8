// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Buycar-arb/ToolForge/services/forge/assemble"
	"github.com/Buycar-arb/ToolForge/services/forge/config"
	"github.com/Buycar-arb/ToolForge/services/forge/progress"
	"github.com/Buycar-arb/ToolForge/services/forge/prompts"
	"github.com/Buycar-arb/ToolForge/services/forge/providers"
	"github.com/Buycar-arb/ToolForge/services/forge/retrieval"
	"github.com/Buycar-arb/ToolForge/services/forge/runner"
	"github.com/Buycar-arb/ToolForge/services/forge/scoring"
	"github.com/Buycar-arb/ToolForge/services/forge/server"
	"github.com/Buycar-arb/ToolForge/services/forge/telemetry"
	"github.com/Buycar-arb/ToolForge/services/forge/toolbank"
	"github.com/Buycar-arb/ToolForge/services/forge/validate"
	badgerstore "github.com/Buycar-arb/ToolForge/services/storage/badger"
)

type runOptions struct {
	input       string
	output      string
	toolBank    string
	workers     int
	seed        uint64
	cases       map[string]int
	metricsAddr string
	noResume    bool
	reset       bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate, validate and score records until every case reaches its target",
		Long: `Run cycles through the source records for every configured case, assembles a
conversation per attempt, scores it and appends accepted records to
validated_case_<ID>.jsonl in the output directory. Every attempt writes a line
to score_case_<ID>.jsonl.

API keys are read from TOOLFORGE_API_KEYS (comma-separated) and, for the judge,
TOOLFORGE_JUDGE_API_KEYS.`,
		Example: `  toolforge run --config forge.yaml
  toolforge run --case C4=100 --case A1=50 --workers 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, root, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.input, "input", "", "Source JSONL file (overrides paths.input)")
	f.StringVar(&opts.output, "output", "", "Output directory (overrides paths.output_dir)")
	f.StringVar(&opts.toolBank, "tool-bank", "", "Tool bank directory (overrides paths.tool_bank)")
	f.IntVar(&opts.workers, "workers", 0, "Concurrent attempts (overrides concurrency.workers)")
	f.Uint64Var(&opts.seed, "seed", 0, "Sampling seed; 0 picks a random seed")
	f.StringToIntVar(&opts.cases, "case", nil, "Case target as ID=N, repeatable (replaces the cases section)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Status server address, e.g. :9090 (overrides telemetry.metrics_addr)")
	f.BoolVar(&opts.noResume, "no-resume", false, "Ignore and do not write progress checkpoints")
	f.BoolVar(&opts.reset, "reset", false, "Clear the checkpoints of the scheduled cases before running")
	return cmd
}

// apply folds the flag overrides into cfg.
func (o *runOptions) apply(cfg *config.Config) error {
	if o.input != "" {
		cfg.Paths.Input = o.input
	}
	if o.output != "" {
		cfg.Paths.OutputDir = o.output
	}
	if o.toolBank != "" {
		cfg.Paths.ToolBank = o.toolBank
	}
	if o.workers > 0 {
		cfg.Concurrency.Workers = o.workers
	}
	if o.metricsAddr != "" {
		cfg.Telemetry.MetricsAddr = o.metricsAddr
	}
	if o.noResume {
		cfg.Paths.ProgressDir = ""
	}
	if len(o.cases) > 0 {
		return cfg.SetCases(o.cases)
	}
	return nil
}

func runRun(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	ctx := cmd.Context()
	logger, err := root.logger(cmd)
	if err != nil {
		return err
	}
	cfg, err := root.config(ctx)
	if err != nil {
		return err
	}
	if err := opts.apply(cfg); err != nil {
		return err
	}
	defer memguard.Purge()

	shutdown, err := telemetry.SetupTracing(ctx, telemetry.OptionsFromConfig(cfg.Telemetry))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("trace shutdown", slog.String("error", err.Error()))
		}
	}()

	p, err := buildPipeline(ctx, cfg, opts, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	start := time.Now()
	logger.Info("run starting",
		slog.String("input", cfg.Paths.Input),
		slog.String("output", cfg.Paths.OutputDir),
		slog.Int("cases", len(cfg.Cases)),
		slog.Int("workers", cfg.Concurrency.Workers),
	)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	var statuses []runner.CaseStatus
	g.Go(func() error {
		defer cancelRun()
		var err error
		statuses, err = p.runner.RunFile(gctx, cfg.Paths.Input)
		return err
	})
	if cfg.Telemetry.MetricsAddr != "" {
		srv := server.New(cfg.Telemetry.MetricsAddr, cfg.Telemetry.ServiceName, p.runner, logger)
		g.Go(func() error { return srv.Serve(gctx) })
	}

	err = g.Wait()
	printStatuses(cmd.OutOrStdout(), statuses)
	logger.Info("run finished", slog.Duration("elapsed", time.Since(start)))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

// pipeline owns the components of one run.
type pipeline struct {
	runner *runner.Runner
	db     *badgerstore.DB
}

// Close releases the checkpoint store.
func (p *pipeline) Close() {
	if p.db != nil {
		p.db.Close()
	}
}

// buildPipeline wires the run components from cfg.
func buildPipeline(ctx context.Context, cfg *config.Config, opts *runOptions, logger *slog.Logger) (*pipeline, error) {
	set, err := prompts.Load(cfg.Paths.PromptsDir)
	if err != nil {
		return nil, err
	}
	tokenizer, err := retrieval.NewTokenizer(cfg.Generation.Tokenizer)
	if err != nil {
		return nil, err
	}

	factory := providers.NewProviderFactory(logger)
	generator, err := factory.CreateService(
		cfg.Providers.Generator.ProviderConfig(),
		providers.NewKeyRing(cfg.GeneratorKeys),
		cfg.Providers.Generator.ServiceConfig(providers.RoleGenerator, cfg.Generation),
	)
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	judge, err := factory.CreateService(
		cfg.Providers.Judge.ProviderConfig(),
		providers.NewKeyRing(cfg.JudgeKeys),
		cfg.Providers.Judge.ServiceConfig(providers.RoleJudge, cfg.Generation),
	)
	if err != nil {
		return nil, fmt.Errorf("judge: %w", err)
	}

	sink, err := scoring.NewSink(cfg.Paths.OutputDir)
	if err != nil {
		return nil, err
	}

	p := &pipeline{}
	var store *progress.Store
	if cfg.Paths.ProgressDir != "" {
		dbCfg := badgerstore.DefaultConfig()
		dbCfg.Path = cfg.Paths.ProgressDir
		p.db, err = badgerstore.OpenDB(dbCfg)
		if err != nil {
			return nil, err
		}
		store = progress.NewStore(p.db, progress.RunKey(cfg.Paths.Input, cfg.Paths.OutputDir), logger)
		if opts.reset {
			for _, t := range cfg.Targets() {
				if err := store.Reset(ctx, t.Spec.Key()); err != nil {
					p.Close()
					return nil, err
				}
			}
		}
	}

	assembler := assemble.NewAssembler(
		assemble.Config{MinTopK: cfg.Generation.MinTopK, MaxTopK: cfg.Generation.MaxTopK},
		set, generator, retrieval.NewRetriever(tokenizer), logger,
	)
	p.runner = runner.NewRunner(
		runner.Config{
			Targets:           cfg.Targets(),
			Workers:           cfg.Concurrency.Workers,
			AttemptMultiplier: cfg.Concurrency.AttemptMultiplier,
			Seed:              opts.seed,
		},
		runner.Deps{
			Loader:    toolbank.NewLoader(cfg.ToolBank(), logger),
			Assembler: assembler,
			Scorer:    scoring.NewOrchestrator(validate.NewEngine(logger), judge, set, logger),
			Sink:      sink,
			Progress:  store,
		},
		logger,
	)
	return p, nil
}

func printStatuses(w io.Writer, statuses []runner.CaseStatus) {
	for _, s := range statuses {
		state := "incomplete"
		if s.Accepted >= s.Target {
			state = "complete"
		}
		fmt.Fprintf(w, "%s: %d/%d accepted, %d attempts (ceiling %d), %s\n",
			s.Case, s.Accepted, s.Target, s.Attempted, s.Ceiling, state)
	}
}
