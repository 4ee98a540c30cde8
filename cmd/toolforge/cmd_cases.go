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
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Buycar-arb/ToolForge/services/forge/cases"
)

func newCasesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cases",
		Short: "List the registered generation cases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKEY\tFAMILY\tTURNS\tVISIBILITY\tTOOL POLICY\tBUCKETS")
			for _, id := range cases.IDs() {
				spec := cases.MustLookup(id)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%v\n",
					spec.ID, spec.Key(), spec.Family, spec.TurnCount,
					spec.Visibility, spec.ToolPolicy, spec.Buckets)
			}
			return tw.Flush()
		},
	}
}
