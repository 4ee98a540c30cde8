// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cases defines the generation scenarios ("cases") as static data.
//
// Each CaseSpec fixes one point in a three-axis space (turn count, evidence
// noise policy per turn, tool visibility) plus the validation knobs that
// depend on the scenario. One generic assembler consumes these specs; there
// is no per-case code.
package cases

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
)

// ErrUnknownCase is returned for a case id with no CaseSpec.
var ErrUnknownCase = errors.New("cases: unknown case")

// Visibility selects which tool set the model sees.
type Visibility int

const (
	// VisibilitySpecific shows gold + distractor tools.
	VisibilitySpecific Visibility = iota
	// VisibilityGeneral adds the general/fallback tool to the shown set.
	VisibilityGeneral
)

func (v Visibility) String() string {
	if v == VisibilityGeneral {
		return "general"
	}
	return "specific"
}

// NoisePolicy is the evidence partition applied to one turn.
type NoisePolicy int

const (
	// NoiseNone shows gold evidence (mixed with retrieved context) only.
	NoiseNone NoisePolicy = iota
	// NoiseSingleBad adds one noise-only bucket before the gold bucket.
	NoiseSingleBad
	// NoiseTripleBad splits a widened noise window into thirds.
	NoiseTripleBad
)

func (p NoisePolicy) String() string {
	switch p {
	case NoiseSingleBad:
		return "single_bad"
	case NoiseTripleBad:
		return "triple_bad"
	default:
		return "none"
	}
}

// BucketKind names one evidence bucket within a turn.
type BucketKind int

const (
	BucketGood BucketKind = iota
	BucketBad
	// BucketBad1..3 are the triple-bad thirds: Bad1 is the lowest-ranked
	// third, Bad3 the highest-ranked.
	BucketBad1
	BucketBad2
	BucketBad3
)

func (k BucketKind) String() string {
	switch k {
	case BucketBad:
		return "bad"
	case BucketBad1:
		return "bad1"
	case BucketBad2:
		return "bad2"
	case BucketBad3:
		return "bad3"
	default:
		return "good"
	}
}

// Bucket addresses one evidence bucket: a turn (1-based) and a kind.
type Bucket struct {
	Turn int
	Kind BucketKind
}

func (b Bucket) String() string {
	return fmt.Sprintf("t%d_%s", b.Turn, b.Kind)
}

// ArgumentCheck says whether the assembler emits a grouped tool-call trace.
type ArgumentCheck int

const (
	ArgumentCheckNone ArgumentCheck = iota
	ArgumentCheckGrouped
)

// ToolPolicy is the tool-selection consistency rule.
type ToolPolicy int

const (
	// ToolPolicyExact requires extracted tool names to equal the expected
	// order exactly.
	ToolPolicyExact ToolPolicy = iota
	// ToolPolicyMore requires every expected tool to be among the extracted
	// ones; extra calls (distractors, fallback) are allowed.
	ToolPolicyMore
	// ToolPolicyFewer requires only the first extracted tool to be expected.
	ToolPolicyFewer
)

func (p ToolPolicy) String() string {
	switch p {
	case ToolPolicyMore:
		return "more"
	case ToolPolicyFewer:
		return "fewer"
	default:
		return "exact"
	}
}

// ToolList selects the tool list embedded into the render prompt.
type ToolList int

const (
	ToolListNone ToolList = iota
	ToolListDistractors
	ToolListGeneral
)

// Window is an argument-stability window over grouped tool calls:
// groups i and i+1 are compared for i = Start, Start+2, ... < End.
type Window struct {
	Start int
	End   int
}

// CaseSpec describes one generation scenario.
//
// Thread Safety: CaseSpecs are immutable; Lookup returns copies.
type CaseSpec struct {
	// ID is the short case identifier, e.g. "C4".
	ID string

	// Family is the scenario family letter; it selects the reasoning prompt.
	Family string

	// TurnCount is the number of reasoning rounds (1 or 2).
	TurnCount int

	// Visibility selects the tool set shown to the model.
	Visibility Visibility

	// Buckets lists the evidence buckets in the order they become tool
	// messages in the transcript.
	Buckets []Bucket

	// MergeSecondTurn folds turn-2 references into the turn-1 good bucket
	// (both rounds' calls issued in parallel within one round).
	MergeSecondTurn bool

	// ArgumentCheck selects whether a grouped tool-call trace is emitted.
	ArgumentCheck ArgumentCheck

	// Window is the argument-stability window, nil when not applicable.
	Window *Window

	// ToolPolicy is the tool-selection consistency rule.
	ToolPolicy ToolPolicy

	// ToolList selects the tool list embedded into the render prompt.
	ToolList ToolList
}

// Key returns the prefixed identifier used in prompts and file names,
// e.g. "case_C4".
func (c CaseSpec) Key() string {
	return "case_" + c.ID
}

// ToolTurns is the number of tool messages in the transcript.
func (c CaseSpec) ToolTurns() int {
	return len(c.Buckets)
}

// Roles returns the expected transcript role sequence: system, user,
// assistant, then one (tool, assistant) pair per tool turn.
func (c CaseSpec) Roles() []string {
	roles := []string{datatypes.RoleSystem, datatypes.RoleUser, datatypes.RoleAssistant}
	for i := 0; i < c.ToolTurns(); i++ {
		roles = append(roles, datatypes.RoleTool, datatypes.RoleAssistant)
	}
	return roles
}

// NoisePolicy derives the noise policy of a turn from the bucket list.
func (c CaseSpec) NoisePolicy(turn int) NoisePolicy {
	policy := NoiseNone
	for _, b := range c.Buckets {
		if b.Turn != turn {
			continue
		}
		switch b.Kind {
		case BucketBad1, BucketBad2, BucketBad3:
			return NoiseTripleBad
		case BucketBad:
			policy = NoiseSingleBad
		}
	}
	return policy
}

// IsGeneral reports whether the case shows the general/fallback tool.
func (c CaseSpec) IsGeneral() bool {
	return c.Visibility == VisibilityGeneral
}

// =============================================================================
// Registry
// =============================================================================

// NormalizeID accepts "C4", "c4" or "case_C4" and returns "C4".
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "case_")
	return strings.ToUpper(id)
}

// Lookup resolves a case id to its CaseSpec.
func Lookup(id string) (CaseSpec, error) {
	norm := NormalizeID(id)
	build, ok := registry[norm]
	if !ok {
		return CaseSpec{}, fmt.Errorf("%w: %q", ErrUnknownCase, id)
	}
	return build(), nil
}

// MustLookup is Lookup for ids known at compile time.
func MustLookup(id string) CaseSpec {
	spec, err := Lookup(id)
	if err != nil {
		panic(err)
	}
	return spec
}

// IDs returns every registered case id in family then numeric order.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i][0] != ids[j][0] {
			return ids[i][0] < ids[j][0]
		}
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) < len(ids[j])
		}
		return ids[i] < ids[j]
	})
	return ids
}

// GeneralIDs returns the ids of every general-visibility case.
func GeneralIDs() []string {
	var out []string
	for _, id := range IDs() {
		if MustLookup(id).IsGeneral() {
			out = append(out, id)
		}
	}
	return out
}
