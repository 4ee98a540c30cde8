// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// progress_dump inspects the run checkpoint store.
//
// The runner persists accepted and attempted counts per case in BadgerDB so
// an interrupted run resumes toward its targets. This tool opens the store
// read-only and prints every checkpoint grouped by run.
//
// Usage:
//
//	progress_dump [--path output/.progress] [--run <run key>]
//
// If --path is not given, reads TOOLFORGE_PROGRESS_DIR from the environment,
// falling back to output/.progress.
//
// Exit codes:
//
//	0 - success, including an empty or missing store
//	1 - error opening or reading the database
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Buycar-arb/ToolForge/services/forge/progress"
	badgerstore "github.com/Buycar-arb/ToolForge/services/storage/badger"
)

const defaultProgressDir = "output/.progress"

func main() {
	pathFlag := flag.String("path", "", "Path to the progress BadgerDB directory (overrides TOOLFORGE_PROGRESS_DIR)")
	runFlag := flag.String("run", "", "Only show this run key")
	flag.Parse()

	dbPath := *pathFlag
	if dbPath == "" {
		dbPath = os.Getenv("TOOLFORGE_PROGRESS_DIR")
	}
	if dbPath == "" {
		dbPath = defaultProgressDir
	}

	fmt.Printf("Progress store: %s\n", dbPath)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Store does not exist. No run has checkpointed yet.")
		os.Exit(0)
	}

	cfg := badgerstore.DefaultConfig()
	cfg.Path = dbPath
	cfg.ReadOnly = true
	db, err := badgerstore.OpenDB(cfg)
	if err != nil {
		fatalf("open progress store at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	if _, err := dump(context.Background(), os.Stdout, db, *runFlag, time.Now()); err != nil {
		fatalf("read progress store: %v", err)
	}
}

// dump writes every checkpoint, optionally limited to one run, and returns
// the number printed.
func dump(ctx context.Context, w io.Writer, db *badgerstore.DB, run string, now time.Time) (int, error) {
	entries, err := progress.Scan(ctx, db)
	if err != nil {
		return 0, err
	}
	if run != "" {
		kept := entries[:0]
		for _, e := range entries {
			if e.Run == run {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "\nNo checkpoints found.")
		return 0, nil
	}

	fmt.Fprintf(w, "\nFound %d checkpoint%s:\n", len(entries), plural(len(entries)))
	fmt.Fprintln(w, strings.Repeat("─", 80))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tCASE\tACCEPTED\tATTEMPTED\tUPDATED")
	lastRun := ""
	for _, e := range entries {
		runCol := e.Run
		if runCol == lastRun {
			runCol = ""
		}
		lastRun = e.Run
		if e.Err != nil {
			fmt.Fprintf(tw, "%s\t%s\tDECODE ERROR: %v\t\t\n", runCol, e.Case, e.Err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", runCol, e.Case, e.Counts.Accepted, e.Counts.Attempted,
			formatAge(e.Counts.UpdatedAt, now))
	}
	if err := tw.Flush(); err != nil {
		return 0, err
	}
	fmt.Fprintln(w, strings.Repeat("─", 80))
	return len(entries), nil
}

func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return fmt.Sprintf("%s ago", now.Sub(t).Round(time.Second))
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
