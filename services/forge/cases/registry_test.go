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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDs_AllTwentyNineCases(t *testing.T) {
	ids := IDs()
	assert.Len(t, ids, 29)
	assert.Equal(t, "A1", ids[0])
	assert.Equal(t, "D10", ids[len(ids)-1])
	// C2 does not exist.
	assert.NotContains(t, ids, "C2")
	// Numeric ordering within a family.
	assert.Equal(t, []string{"C8", "C9", "C10"}, ids[16:19])
}

func TestLookup_AcceptsPrefixedIDs(t *testing.T) {
	for _, id := range []string{"C4", "c4", "case_C4", " case_C4 "} {
		spec, err := Lookup(id)
		require.NoError(t, err, id)
		assert.Equal(t, "C4", spec.ID)
		assert.Equal(t, "case_C4", spec.Key())
	}
}

func TestLookup_Unknown(t *testing.T) {
	_, err := Lookup("Z9")
	require.ErrorIs(t, err, ErrUnknownCase)
}

func TestToolTurns_MatchDialoguePatterns(t *testing.T) {
	want := map[int][]string{
		1: {"A1", "B1", "D2"},
		2: {"A2", "A3", "B2", "B3", "B4", "B5", "C1", "D1"},
		3: {"C3", "C4", "C7", "C8", "D3", "D4", "D7", "D8"},
		4: {"A4", "B6", "C5", "C6", "D5", "D6"},
		5: {"C9", "C10", "D9", "D10"},
	}
	for turns, ids := range want {
		for _, id := range ids {
			spec := MustLookup(id)
			assert.Equal(t, turns, spec.ToolTurns(), "case %s", id)
			assert.Len(t, spec.Roles(), 3+2*turns, "case %s", id)
		}
	}
}

func TestRoles_Shape(t *testing.T) {
	assert.Equal(t,
		[]string{"system", "user", "assistant", "tool", "assistant", "tool", "assistant"},
		MustLookup("A2").Roles())
}

func TestWindows_PreservedVerbatim(t *testing.T) {
	want := map[string]Window{
		"C4": {1, 2}, "D4": {1, 2}, "B6": {1, 2}, "A4": {1, 2}, "C10": {1, 2}, "D10": {1, 2},
		"C5": {0, 3}, "D5": {0, 3},
		"C9": {2, 3}, "D9": {2, 3},
		"C8": {0, 1}, "D8": {0, 1}, "A2": {0, 1}, "B2": {0, 1}, "B3": {0, 1},
	}
	for _, id := range IDs() {
		spec := MustLookup(id)
		w, ok := want[id]
		if !ok {
			assert.Nil(t, spec.Window, "case %s", id)
			continue
		}
		require.NotNil(t, spec.Window, "case %s", id)
		assert.Equal(t, w, *spec.Window, "case %s", id)
	}
}

func TestToolPolicies(t *testing.T) {
	more := []string{"D3", "C3", "C6", "C7", "D6", "D7", "C9", "D9", "C10", "D10", "A3", "A4", "B4", "B5", "B6"}
	for _, id := range more {
		assert.Equal(t, ToolPolicyMore, MustLookup(id).ToolPolicy, id)
	}
	assert.Equal(t, ToolPolicyFewer, MustLookup("D2").ToolPolicy)
	assert.Equal(t, ToolPolicyExact, MustLookup("C4").ToolPolicy)
}

func TestGeneralIDs(t *testing.T) {
	assert.Equal(t, []string{"A4", "B6", "C9", "C10", "D9", "D10"}, GeneralIDs())
}

func TestNoisePolicy(t *testing.T) {
	c9 := MustLookup("C9")
	assert.Equal(t, NoiseNone, c9.NoisePolicy(1))
	assert.Equal(t, NoiseTripleBad, c9.NoisePolicy(2))

	c7 := MustLookup("C7")
	assert.Equal(t, NoiseSingleBad, c7.NoisePolicy(1))
	assert.Equal(t, NoiseNone, c7.NoisePolicy(2))
}

func TestBucketOrder_TripleBad(t *testing.T) {
	a4 := MustLookup("A4")
	got := make([]string, 0, len(a4.Buckets))
	for _, b := range a4.Buckets {
		got = append(got, b.String())
	}
	assert.Equal(t, []string{"t1_bad1", "t1_bad2", "t1_bad3", "t1_good"}, got)
}
