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
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Buycar-arb/ToolForge/services/forge/cases"
	"github.com/Buycar-arb/ToolForge/services/forge/record"
	"github.com/Buycar-arb/ToolForge/services/forge/validate"
)

// errValidationFailed makes the command exit non-zero under --strict.
var errValidationFailed = errors.New("one or more records failed validation")

type validateOptions struct {
	asCase  string
	jsonOut bool
	strict  bool
}

// validateLine is one --json output line.
type validateLine struct {
	File      string   `json:"file"`
	Line      int      `json:"line"`
	Case      string   `json:"case,omitempty"`
	UUID      string   `json:"uuid,omitempty"`
	RuleScore int      `json:"rule_score"`
	Reasons   []string `json:"reasons,omitempty"`
	Error     string   `json:"error,omitempty"`
}

func newValidateCmd(root *rootOptions) *cobra.Command {
	opts := &validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate FILE...",
		Short: "Re-run the rule checks on persisted dataset files",
		Example: `  toolforge validate output/validated_case_C4.jsonl
  toolforge validate --as C4 --json old_batch.jsonl`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, root, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.asCase, "as", "", "Validate every record as this case instead of its own")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Emit one JSON object per record")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Exit non-zero when any record fails")
	return cmd
}

func runValidate(cmd *cobra.Command, root *rootOptions, opts *validateOptions, files []string) error {
	logger, err := root.logger(cmd)
	if err != nil {
		return err
	}
	var asSpec *cases.CaseSpec
	if opts.asCase != "" {
		spec, err := cases.Lookup(opts.asCase)
		if err != nil {
			return err
		}
		asSpec = &spec
	}

	engine := validate.NewEngine(logger)
	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	total, passed := 0, 0

	for _, file := range files {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = record.ReadConversations(f, func(lineNo int, rec *record.ConversationRecord, decodeErr error) error {
			total++
			line := validateLine{File: file, Line: lineNo}
			switch {
			case decodeErr != nil:
				line.Error = decodeErr.Error()
			case asSpec != nil:
				line.Case, line.UUID = rec.Case, rec.UUID
				res := engine.ValidateAs(*asSpec, rec)
				line.RuleScore, line.Reasons = res.RuleScore, res.Reasons
			default:
				line.Case, line.UUID = rec.Case, rec.UUID
				res, err := engine.Validate(rec)
				if err != nil {
					line.Error = err.Error()
				} else {
					line.RuleScore, line.Reasons = res.RuleScore, res.Reasons
				}
			}
			if line.RuleScore == 1 {
				passed++
			}
			if opts.jsonOut {
				return enc.Encode(line)
			}
			printValidateLine(out, line)
			return nil
		})
		f.Close()
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "%d/%d records passed\n", passed, total)
	if opts.strict && passed < total {
		return errValidationFailed
	}
	return nil
}

func printValidateLine(w io.Writer, l validateLine) {
	switch {
	case l.Error != "":
		fmt.Fprintf(w, "%s:%d ERROR %s\n", l.File, l.Line, l.Error)
	case l.RuleScore == 1:
		fmt.Fprintf(w, "%s:%d PASS %s %s\n", l.File, l.Line, l.Case, l.UUID)
	default:
		fmt.Fprintf(w, "%s:%d FAIL %s %s: %s\n", l.File, l.Line, l.Case, l.UUID, strings.Join(l.Reasons, "; "))
	}
}
