// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
)

func testRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, 7))
}

func sampleCorpus() []datatypes.Document {
	return []datatypes.Document{
		{Title: "Paris", Content: "Paris is the capital of France."},
		{Title: "Berlin", Content: "Berlin is the capital of Germany."},
		{Title: "Eiffel", Content: "The Eiffel Tower is in Paris and Paris loves it."},
		{Title: "Rhine", Content: "The Rhine flows through Germany."},
		{Title: "Cheese", Content: "France produces many cheeses."},
	}
}

// =============================================================================
// BuildIndex / Rank Tests
// =============================================================================

func TestBuildIndex_Empty(t *testing.T) {
	idx := BuildIndex(nil, nil)
	require.NotNil(t, idx)
	assert.Equal(t, 0, idx.Len())
	assert.Nil(t, idx.Rank("anything", 3))
}

func TestBuildIndex_IDFSmoothing(t *testing.T) {
	// IDF = log((N+1)/(df+1)) + 1. With N=1, df=1, IDF = 1.0.
	idx := BuildIndex([]datatypes.Document{{Content: "alpha beta"}}, nil)
	for term, idf := range idx.idf {
		assert.InDelta(t, 1.0, idf, 1e-9, "term %s", term)
	}
}

func TestBuildIndex_TrueTermFrequency(t *testing.T) {
	idx := BuildIndex([]datatypes.Document{{Content: "paris paris lyon"}}, nil)
	require.Len(t, idx.docs, 1)
	assert.Equal(t, 2, idx.docs[0].tf["paris"])
	assert.Equal(t, 3, idx.docs[0].len)
}

func TestRank_PrefersMatchingDocuments(t *testing.T) {
	idx := BuildIndex(sampleCorpus(), nil)
	ranked := idx.Rank("Paris tower", 2)
	require.Len(t, ranked, 2)
	assert.Equal(t, "Eiffel", ranked[0].Doc.Title)
	assert.Equal(t, "Paris", ranked[1].Doc.Title)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
}

func TestRank_NoOverlapKeepsCorpusOrder(t *testing.T) {
	idx := BuildIndex(sampleCorpus(), nil)
	ranked := idx.Rank("zebra", 3)
	require.Len(t, ranked, 3)
	assert.Equal(t, "Paris", ranked[0].Doc.Title)
	assert.Equal(t, "Berlin", ranked[1].Doc.Title)
	assert.Equal(t, 0.0, ranked[0].Score)
}

func TestRank_ClampsK(t *testing.T) {
	idx := BuildIndex(sampleCorpus(), nil)
	assert.Len(t, idx.Rank("paris", 50), 5)
	assert.Nil(t, idx.Rank("paris", 0))
}

// =============================================================================
// Retrieve Tests
// =============================================================================

func TestRetrieve_BoundedWindow(t *testing.T) {
	r := NewRetriever(nil)
	corpus := make([]datatypes.Document, 0, 40)
	for i := 0; i < 40; i++ {
		corpus = append(corpus, datatypes.Document{Title: "T", Content: fmt.Sprintf("sentence number %d about rivers", i)})
	}

	for _, tc := range []struct{ minK, maxK, n int }{
		{5, 10, 40},
		{5, 10, 7},
		{5, 10, 3},
		{15, 30, 40},
		{10, 5, 40},
	} {
		for seed := uint64(0); seed < 30; seed++ {
			got := r.Retrieve(corpus[:tc.n], "rivers", tc.minK, tc.maxK, testRNG(seed))
			lo := int(math.Min(float64(tc.minK), float64(tc.maxK)))
			hi := int(math.Max(float64(tc.minK), float64(tc.maxK)))
			assert.LessOrEqual(t, len(got), tc.n)
			assert.LessOrEqual(t, len(got), hi)
			if tc.n >= lo {
				assert.GreaterOrEqual(t, len(got), lo, "case %+v seed %d", tc, seed)
			}
		}
	}
}

func TestRetrieve_EmptyCorpus(t *testing.T) {
	assert.Empty(t, NewRetriever(nil).Retrieve(nil, "q", 5, 10, testRNG(1)))
}

func TestRetrieve_ReturnsFullDocuments(t *testing.T) {
	got := NewRetriever(nil).Retrieve(sampleCorpus(), "Germany Rhine", 1, 1, testRNG(1))
	require.Len(t, got, 1)
	assert.Equal(t, datatypes.Document{Title: "Rhine", Content: "The Rhine flows through Germany."}, got[0])
}

// =============================================================================
// Dedupe Tests
// =============================================================================

func TestDedupe_RemovesNormalizedDuplicates(t *testing.T) {
	batches := [][]datatypes.Document{
		{{Title: "A", Content: "Same  text"}, {Title: "B", Content: "other"}},
		{{Title: "C", Content: " same text "}, {Title: "D", Content: "third"}},
	}
	got := Dedupe(batches, testRNG(2))
	assert.Len(t, got, 3)

	titles := map[string]bool{}
	for _, d := range got {
		titles[d.Title] = true
	}
	assert.True(t, titles["A"], "first occurrence must win")
	assert.False(t, titles["C"])
}

func TestDedupe_Idempotent(t *testing.T) {
	batches := [][]datatypes.Document{sampleCorpus(), sampleCorpus()[:2]}
	once := Dedupe(batches, testRNG(3))
	twice := Dedupe([][]datatypes.Document{once}, testRNG(4))
	assert.ElementsMatch(t, once, twice)
}

func TestDedupe_Empty(t *testing.T) {
	assert.Empty(t, Dedupe(nil, testRNG(1)))
}

// =============================================================================
// Tokenizer Tests
// =============================================================================

func TestEnglishTokenizer(t *testing.T) {
	got := EnglishTokenizer{}.Tokenize("The Capital-of France, in 1990!")
	assert.Equal(t, []string{"capital", "france", "1990"}, got)
}

func TestCJKTokenizer(t *testing.T) {
	tok, err := NewCJKTokenizer()
	require.NoError(t, err)

	got := tok.Tokenize("北京是中国的首都, Beijing 2024!")
	assert.Contains(t, got, "北京")
	assert.Contains(t, got, "首都")
	assert.Contains(t, got, "beijing")
	assert.Contains(t, got, "2024")
	assert.NotContains(t, got, "北")
	assert.NotContains(t, got, ",")
	assert.NotContains(t, got, " ")
}

func TestCJKTokenizer_RanksByWord(t *testing.T) {
	tok, err := NewCJKTokenizer()
	require.NoError(t, err)

	corpus := []datatypes.Document{
		{Title: "a", Content: "北方的天气很冷。"},
		{Title: "b", Content: "北京是中国的首都。"},
	}
	ranked := BuildIndex(corpus, tok).Rank("北京", 1)
	require.Len(t, ranked, 1)
	assert.Equal(t, "b", ranked[0].Doc.Title)
}

func TestNewTokenizer(t *testing.T) {
	tok, err := NewTokenizer("")
	require.NoError(t, err)
	assert.IsType(t, EnglishTokenizer{}, tok)

	tok, err = NewTokenizer("Chinese")
	require.NoError(t, err)
	assert.IsType(t, &CJKTokenizer{}, tok)

	_, err = NewTokenizer("klingon")
	assert.Error(t, err)
}
