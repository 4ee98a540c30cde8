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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Buycar-arb/ToolForge/services/forge/config"
	"github.com/Buycar-arb/ToolForge/services/forge/publish"
)

type publishOptions struct {
	dir         string
	bucket      string
	prefix      string
	run         string
	credentials string
	force       bool
}

func newPublishCmd(root *rootOptions) *cobra.Command {
	opts := &publishOptions{}
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload dataset and score files to Google Cloud Storage",
		Long: `Publish uploads every validated_*.jsonl and score_*.jsonl file of the output
directory to gs://<bucket>/<prefix>/<run>/ and writes manifest.json last.

Credentials come from --credentials, GOOGLE_APPLICATION_CREDENTIALS (a key
file path or inline JSON), or application default credentials.`,
		Example: `  toolforge publish --bucket datasets --run 2025-05-01`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPublish(cmd, root, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.dir, "dir", "", "Directory to upload (default: paths.output_dir)")
	f.StringVar(&opts.bucket, "bucket", "", "Bucket name (default: publish.bucket)")
	f.StringVar(&opts.prefix, "prefix", "", "Object prefix (default: publish.prefix)")
	f.StringVar(&opts.run, "run", "", "Run label under the prefix (default: UTC timestamp)")
	f.StringVar(&opts.credentials, "credentials", "", "Service account key file or JSON")
	f.BoolVar(&opts.force, "force", false, "Overwrite a run that already has a manifest")
	return cmd
}

// resolve fills unset options from cfg.
func (o *publishOptions) resolve(cfg *config.Config, now time.Time) error {
	if o.dir == "" {
		o.dir = cfg.Paths.OutputDir
	}
	if o.bucket == "" {
		o.bucket = cfg.Publish.Bucket
	}
	if o.prefix == "" {
		o.prefix = cfg.Publish.Prefix
	}
	if o.run == "" {
		o.run = now.UTC().Format("20060102T150405Z")
	}
	if o.credentials == "" {
		o.credentials = os.Getenv(publish.EnvCredentials)
	}
	if o.bucket == "" {
		return errors.New("no bucket: set --bucket or publish.bucket")
	}
	return nil
}

func runPublish(cmd *cobra.Command, root *rootOptions, opts *publishOptions) error {
	ctx := cmd.Context()
	logger, err := root.logger(cmd)
	if err != nil {
		return err
	}
	cfg, err := root.config(ctx)
	if err != nil {
		return err
	}
	if err := opts.resolve(cfg, time.Now()); err != nil {
		return err
	}

	store, err := publish.NewGCSStore(ctx, opts.bucket, publish.ClientOptions(opts.credentials)...)
	if err != nil {
		return err
	}
	defer store.Close()

	p := publish.NewPublisher(store, opts.prefix, logger)
	if !opts.force {
		done, err := p.Published(ctx, opts.run)
		if err != nil {
			return err
		}
		if done {
			return fmt.Errorf("run %q is already published; use --force to overwrite", opts.run)
		}
	}

	m, err := p.Publish(ctx, opts.dir, opts.run)
	if err != nil {
		return err
	}
	logger.Info("published", slog.String("bucket", opts.bucket), slog.String("prefix", m.Prefix), slog.Int("files", len(m.Files)))
	fmt.Fprintf(cmd.OutOrStdout(), "gs://%s/%s/%s\n", opts.bucket, m.Prefix, publish.ManifestName)
	return nil
}
