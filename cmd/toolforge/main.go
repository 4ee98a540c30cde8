// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// toolforge generates tool-calling conversation datasets.
//
// Usage:
//
//	toolforge run --config forge.yaml
//	toolforge validate output/validated_case_C4.jsonl
//	toolforge report output/
//	toolforge publish --bucket my-bucket
//	toolforge cases
//	toolforge schema
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Buycar-arb/ToolForge/services/forge/config"
	"github.com/Buycar-arb/ToolForge/services/forge/telemetry"
)

var version = "dev"

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "toolforge",
		Short:         "Generate and score tool-calling conversation datasets",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to forge.yaml (default: embedded config)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")

	root.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newCasesCmd(),
		newSchemaCmd(opts),
		newReportCmd(opts),
		newPublishCmd(opts),
	)
	return root
}

// logger builds the stderr logger and installs it as the default.
func (o *rootOptions) logger(cmd *cobra.Command) (*slog.Logger, error) {
	logger, err := telemetry.NewLogger(cmd.ErrOrStderr(), o.logLevel, o.logFormat)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

// config loads the config file, or the embedded default, and applies the
// environment.
func (o *rootOptions) config(ctx context.Context) (*config.Config, error) {
	cfg, err := config.LoadConfigFile(ctx, o.configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}
