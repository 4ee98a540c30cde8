// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cases

import "strconv"

// =============================================================================
// Case Table
// =============================================================================
//
// Families:
//   A: single-round, the model answers after one tool round.
//   B: single-round variants with different prompting of the same shapes.
//   C: two-round, the second round depends on the first round's evidence.
//   D: two-round shapes mirroring C; D2 issues both rounds in parallel.
//
// The argument-stability windows are recorded per case as observed in the
// curated datasets, not derived from the other axes. C8 and D8 carry a
// window but never emit a grouped trace, so their check always passes.

func good(turn int) Bucket { return Bucket{Turn: turn, Kind: BucketGood} }
func bad(turn int) Bucket  { return Bucket{Turn: turn, Kind: BucketBad} }

func tripleBad(turn int) []Bucket {
	return []Bucket{
		{Turn: turn, Kind: BucketBad1},
		{Turn: turn, Kind: BucketBad2},
		{Turn: turn, Kind: BucketBad3},
	}
}

func buckets(parts ...any) []Bucket {
	var out []Bucket
	for _, p := range parts {
		switch v := p.(type) {
		case Bucket:
			out = append(out, v)
		case []Bucket:
			out = append(out, v...)
		}
	}
	return out
}

func window(start, end int) *Window { return &Window{Start: start, End: end} }

// twoRound builds the shared C/D shapes; family selects the letter.
func twoRound(family string, n int) CaseSpec {
	id := family + strconv.Itoa(n)
	switch n {
	case 1:
		return CaseSpec{ID: id, Family: family, TurnCount: 2,
			Buckets: buckets(good(1), good(2))}
	case 3:
		return CaseSpec{ID: id, Family: family, TurnCount: 2,
			Buckets:    buckets(good(1), bad(2), good(2)),
			ToolPolicy: ToolPolicyMore, ToolList: ToolListDistractors}
	case 4:
		return CaseSpec{ID: id, Family: family, TurnCount: 2,
			Buckets:       buckets(good(1), bad(2), good(2)),
			ArgumentCheck: ArgumentCheckGrouped, Window: window(1, 2)}
	case 5:
		return CaseSpec{ID: id, Family: family, TurnCount: 2,
			Buckets:       buckets(bad(1), good(1), bad(2), good(2)),
			ArgumentCheck: ArgumentCheckGrouped, Window: window(0, 3),
			ToolList:      ToolListDistractors}
	case 6:
		return CaseSpec{ID: id, Family: family, TurnCount: 2,
			Buckets:    buckets(bad(1), good(1), bad(2), good(2)),
			ToolPolicy: ToolPolicyMore, ToolList: ToolListDistractors}
	case 7:
		return CaseSpec{ID: id, Family: family, TurnCount: 2,
			Buckets:    buckets(bad(1), good(1), good(2)),
			ToolPolicy: ToolPolicyMore, ToolList: ToolListDistractors}
	case 8:
		return CaseSpec{ID: id, Family: family, TurnCount: 2,
			Buckets: buckets(bad(1), good(1), good(2)),
			Window:  window(0, 1)}
	case 9:
		return CaseSpec{ID: id, Family: family, TurnCount: 2, Visibility: VisibilityGeneral,
			Buckets:       buckets(good(1), tripleBad(2), good(2)),
			ArgumentCheck: ArgumentCheckGrouped, Window: window(2, 3),
			ToolPolicy:    ToolPolicyMore, ToolList: ToolListGeneral}
	case 10:
		return CaseSpec{ID: id, Family: family, TurnCount: 2, Visibility: VisibilityGeneral,
			Buckets:       buckets(tripleBad(1), good(1), good(2)),
			ArgumentCheck: ArgumentCheckGrouped, Window: window(1, 2),
			ToolPolicy:    ToolPolicyMore, ToolList: ToolListGeneral}
	}
	panic("cases: no two-round shape " + id)
}

// registry maps a case id to a builder, so specs are constructed only when
// a case is resolved.
var registry = map[string]func() CaseSpec{
	"A1": func() CaseSpec {
		return CaseSpec{ID: "A1", Family: "A", TurnCount: 1,
			Buckets: buckets(good(1))}
	},
	"A2": func() CaseSpec {
		return CaseSpec{ID: "A2", Family: "A", TurnCount: 1,
			Buckets:       buckets(bad(1), good(1)),
			ArgumentCheck: ArgumentCheckGrouped, Window: window(0, 1)}
	},
	"A3": func() CaseSpec {
		return CaseSpec{ID: "A3", Family: "A", TurnCount: 1,
			Buckets:    buckets(bad(1), good(1)),
			ToolPolicy: ToolPolicyMore, ToolList: ToolListDistractors}
	},
	"A4": func() CaseSpec {
		return CaseSpec{ID: "A4", Family: "A", TurnCount: 1, Visibility: VisibilityGeneral,
			Buckets:       buckets(tripleBad(1), good(1)),
			ArgumentCheck: ArgumentCheckGrouped, Window: window(1, 2),
			ToolPolicy:    ToolPolicyMore, ToolList: ToolListGeneral}
	},
	"B1": func() CaseSpec {
		return CaseSpec{ID: "B1", Family: "B", TurnCount: 1,
			Buckets: buckets(good(1))}
	},
	"B2": func() CaseSpec {
		return CaseSpec{ID: "B2", Family: "B", TurnCount: 1,
			Buckets:       buckets(bad(1), good(1)),
			ArgumentCheck: ArgumentCheckGrouped, Window: window(0, 1)}
	},
	"B3": func() CaseSpec {
		return CaseSpec{ID: "B3", Family: "B", TurnCount: 1,
			Buckets:       buckets(bad(1), good(1)),
			ArgumentCheck: ArgumentCheckGrouped, Window: window(0, 1)}
	},
	"B4": func() CaseSpec {
		return CaseSpec{ID: "B4", Family: "B", TurnCount: 1,
			Buckets:    buckets(bad(1), good(1)),
			ToolPolicy: ToolPolicyMore, ToolList: ToolListDistractors}
	},
	"B5": func() CaseSpec {
		return CaseSpec{ID: "B5", Family: "B", TurnCount: 1,
			Buckets:    buckets(bad(1), good(1)),
			ToolPolicy: ToolPolicyMore, ToolList: ToolListDistractors}
	},
	"B6": func() CaseSpec {
		return CaseSpec{ID: "B6", Family: "B", TurnCount: 1, Visibility: VisibilityGeneral,
			Buckets:       buckets(tripleBad(1), good(1)),
			ArgumentCheck: ArgumentCheckGrouped, Window: window(1, 2),
			ToolPolicy:    ToolPolicyMore, ToolList: ToolListGeneral}
	},
	"C1":  func() CaseSpec { return twoRound("C", 1) },
	"C3":  func() CaseSpec { return twoRound("C", 3) },
	"C4":  func() CaseSpec { return twoRound("C", 4) },
	"C5":  func() CaseSpec { return twoRound("C", 5) },
	"C6":  func() CaseSpec { return twoRound("C", 6) },
	"C7":  func() CaseSpec { return twoRound("C", 7) },
	"C8":  func() CaseSpec { return twoRound("C", 8) },
	"C9":  func() CaseSpec { return twoRound("C", 9) },
	"C10": func() CaseSpec { return twoRound("C", 10) },
	"D1":  func() CaseSpec { return twoRound("D", 1) },
	"D2": func() CaseSpec {
		return CaseSpec{ID: "D2", Family: "D", TurnCount: 2,
			Buckets:         buckets(good(1)),
			MergeSecondTurn: true,
			ToolPolicy:      ToolPolicyFewer}
	},
	"D3":  func() CaseSpec { return twoRound("D", 3) },
	"D4":  func() CaseSpec { return twoRound("D", 4) },
	"D5":  func() CaseSpec { return twoRound("D", 5) },
	"D6":  func() CaseSpec { return twoRound("D", 6) },
	"D7":  func() CaseSpec { return twoRound("D", 7) },
	"D8":  func() CaseSpec { return twoRound("D", 8) },
	"D9":  func() CaseSpec { return twoRound("D", 9) },
	"D10": func() CaseSpec { return twoRound("D", 10) },
}
