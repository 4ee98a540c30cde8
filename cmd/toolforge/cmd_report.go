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
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/Buycar-arb/ToolForge/services/forge/report"
)

type reportOptions struct {
	jsonOut bool
	top     int
}

func newReportCmd(root *rootOptions) *cobra.Command {
	opts := &reportOptions{}
	cmd := &cobra.Command{
		Use:   "report [DIR | SCORE_FILE]...",
		Short: "Summarize pass rates and failure reasons from score logs",
		Long: `Report loads score_case_<ID>.jsonl files, either named directly or found in
the given directories, and prints per-case pass rates and the most frequent
failure reasons. With no arguments the configured output directory is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, root, opts, args)
		},
	}
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Emit the report as JSON")
	cmd.Flags().IntVar(&opts.top, "top", 5, "Failure reasons shown per case")
	return cmd
}

func runReport(cmd *cobra.Command, root *rootOptions, opts *reportOptions, args []string) error {
	ctx := cmd.Context()
	logger, err := root.logger(cmd)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		cfg, err := root.config(ctx)
		if err != nil {
			return err
		}
		args = []string{cfg.Paths.OutputDir}
	}

	r, err := report.Open(ctx, logger)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, p := range args {
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		if info.IsDir() {
			_, err = r.LoadDir(ctx, p)
		} else {
			_, err = r.LoadFile(ctx, p)
		}
		if err != nil {
			return err
		}
	}
	rep, err := r.Summary(ctx, opts.top)
	if err != nil {
		return err
	}

	if opts.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	return report.WriteText(cmd.OutOrStdout(), rep)
}
