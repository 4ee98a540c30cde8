// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval ranks an evidence corpus against a tool-call query with
// BM25 and shapes the result into evidence buckets: a randomly sized top-k
// window, and a deduplicate-and-shuffle step that hides gold/noise position.
package retrieval

import (
	"math/rand/v2"
	"strings"

	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
)

// Default top-k window bounds for one retrieval.
const (
	DefaultMinTopK = 5
	DefaultMaxTopK = 10

	// TripleBadFactor widens the window for turns whose noise is split
	// three ways.
	TripleBadFactor = 3
)

// Retriever draws a randomly sized top-k window of BM25 results.
//
// Thread Safety: Retriever is safe for concurrent use. The *rand.Rand passed
// to Retrieve must not be shared across goroutines.
type Retriever struct {
	tokenizer Tokenizer
}

// NewRetriever creates a Retriever. Nil tokenizer selects English.
func NewRetriever(tokenizer Tokenizer) *Retriever {
	if tokenizer == nil {
		tokenizer = EnglishTokenizer{}
	}
	return &Retriever{tokenizer: tokenizer}
}

// Retrieve ranks corpus against query and returns the top k documents.
//
// Description:
//
//	k is drawn uniformly from [minK, maxK] and clamped to the corpus size,
//	so the result length always satisfies min(minK, N) <= k <= min(maxK, N).
//	Swapped bounds are reordered. Ranked contents are mapped back to the
//	first corpus document with that content.
//
// Inputs:
//   - corpus: Candidate documents.
//   - query: Tool-call query text.
//   - minK, maxK: Window bounds.
//   - rng: Random source for this attempt.
//
// Outputs:
//   - []datatypes.Document: Ranked documents, best first. Empty for an
//     empty corpus.
func (r *Retriever) Retrieve(corpus []datatypes.Document, query string, minK, maxK int, rng *rand.Rand) []datatypes.Document {
	if len(corpus) == 0 {
		return nil
	}
	k := TopK(minK, maxK, len(corpus), rng)

	idx := BuildIndex(corpus, r.tokenizer)
	byContent := make(map[string]datatypes.Document, len(corpus))
	for _, doc := range corpus {
		if _, ok := byContent[doc.Content]; !ok {
			byContent[doc.Content] = doc
		}
	}

	ranked := idx.Rank(query, k)
	out := make([]datatypes.Document, 0, len(ranked))
	for _, s := range ranked {
		out = append(out, byContent[s.Doc.Content])
	}
	return out
}

// TopK draws the window size for one retrieval.
func TopK(minK, maxK, corpusSize int, rng *rand.Rand) int {
	if minK > maxK {
		minK, maxK = maxK, minK
	}
	if minK < 0 {
		minK = 0
	}
	k := minK
	if maxK > minK {
		k = minK + rng.IntN(maxK-minK+1)
	}
	if k > corpusSize {
		k = corpusSize
	}
	return k
}

// NormalizeContent is the dedup key for evidence content: trimmed,
// lowercased, internal whitespace collapsed.
func NormalizeContent(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Dedupe flattens retrieved batches, keeps the first document per
// normalized content, and shuffles the result.
//
// Applying Dedupe to its own output yields the same set of documents.
func Dedupe(batches [][]datatypes.Document, rng *rand.Rand) []datatypes.Document {
	seen := make(map[string]bool)
	var out []datatypes.Document
	for _, batch := range batches {
		for _, doc := range batch {
			key := NormalizeContent(doc.Content)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, doc)
		}
	}
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
