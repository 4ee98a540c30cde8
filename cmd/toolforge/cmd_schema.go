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
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Buycar-arb/ToolForge/services/forge/record"
	"github.com/Buycar-arb/ToolForge/services/forge/toolbank"
)

var errSchemaViolations = errors.New("tool bank has schema violations")

func newSchemaCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of a tool bank line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := toolbank.GenerateToolJSONSchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check PATH...",
		Short: "Validate tool bank files or directories against the schema",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchemaCheck(cmd, args)
		},
	})
	return cmd
}

func runSchemaCheck(cmd *cobra.Command, paths []string) error {
	files, err := expandJSONL(paths)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	lines, bad := 0, 0
	for _, file := range files {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = record.ForEachLine(f, func(lineNo int, line []byte) error {
			if len(bytes.TrimSpace(line)) == 0 {
				return nil
			}
			lines++
			if err := toolbank.ValidateToolLine(line); err != nil {
				bad++
				fmt.Fprintf(out, "%s:%d %v\n", file, lineNo, err)
			}
			return nil
		})
		f.Close()
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%d files, %d tools, %d invalid\n", len(files), lines, bad)
	if bad > 0 {
		return errSchemaViolations
	}
	return nil
}

// expandJSONL replaces directories with the .jsonl files they contain.
func expandJSONL(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(p, "*.jsonl"))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	return files, nil
}
