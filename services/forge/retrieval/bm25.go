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
	"math"
	"sort"

	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
)

// =============================================================================
// BM25 Index
// =============================================================================

// BM25 tuning constants. Standard values recommended by Robertson et al.
const (
	// bm25K1 controls term frequency saturation. Higher = slower saturation.
	bm25K1 = 1.5

	// bm25B controls document length normalization.
	// 0 = no normalization, 1 = full normalization.
	bm25B = 0.75
)

// bm25Doc holds the BM25 representation of one corpus sentence.
type bm25Doc struct {
	// pos is the document's position in the corpus.
	pos int

	// tf maps each term to its frequency within this document.
	tf map[string]int

	// len is the raw token count of the document.
	len int
}

// Index is an inverted BM25 index over a sentence corpus.
//
// # Description
//
// Implements Okapi BM25 ranking where each document is one evidence
// sentence. Unlike keyword routing over short tool descriptions, evidence
// sentences repeat terms, so term frequency is counted exactly and document
// length is the raw token count.
//
// # Thread Safety
//
// Index is immutable after construction via BuildIndex. Safe for concurrent
// use without additional synchronization.
type Index struct {
	corpus    []datatypes.Document
	docs      []bm25Doc
	idf       map[string]float64
	avgLen    float64
	tokenizer Tokenizer
}

// BuildIndex constructs an Index over the content of each corpus document.
//
// # Description
//
// IDF is computed with Lucene-style add-one smoothing:
// log((N+1)/(df+1)) + 1, which is always >= 1.
//
// # Inputs
//
//   - corpus: Documents to index. Empty corpus yields an index that ranks
//     nothing.
//   - tokenizer: Splits text into terms. Nil selects EnglishTokenizer.
//
// # Outputs
//
//   - *Index: The constructed index. Never nil.
func BuildIndex(corpus []datatypes.Document, tokenizer Tokenizer) *Index {
	if tokenizer == nil {
		tokenizer = EnglishTokenizer{}
	}
	idx := &Index{
		corpus:    corpus,
		idf:       make(map[string]float64),
		tokenizer: tokenizer,
	}
	if len(corpus) == 0 {
		return idx
	}

	df := make(map[string]int)
	totalLen := 0
	idx.docs = make([]bm25Doc, 0, len(corpus))
	for i, doc := range corpus {
		terms := tokenizer.Tokenize(doc.Content)
		tf := make(map[string]int, len(terms))
		for _, term := range terms {
			tf[term]++
		}
		for term := range tf {
			df[term]++
		}
		idx.docs = append(idx.docs, bm25Doc{pos: i, tf: tf, len: len(terms)})
		totalLen += len(terms)
	}

	n := len(idx.docs)
	idx.avgLen = float64(totalLen) / float64(n)
	for term, docFreq := range df {
		idx.idf[term] = math.Log(float64(n+1)/float64(docFreq+1)) + 1.0
	}
	return idx
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int {
	return len(idx.docs)
}

// Scored is one ranked document.
type Scored struct {
	Doc   datatypes.Document
	Score float64
}

// Rank returns the top k documents for query by descending BM25 score.
//
// # Description
//
// Every document is ranked, including those with zero score, so a query
// with no overlapping terms still returns k documents in corpus order. Ties
// keep corpus order.
//
// # Inputs
//
//   - query: Raw query text.
//   - k: Number of documents to return. Clamped to [0, Len()].
//
// # Outputs
//
//   - []Scored: At most k documents, best first.
func (idx *Index) Rank(query string, k int) []Scored {
	if k > len(idx.docs) {
		k = len(idx.docs)
	}
	if k <= 0 {
		return nil
	}

	queryTerms := make(map[string]bool)
	for _, term := range idx.tokenizer.Tokenize(query) {
		queryTerms[term] = true
	}

	scored := make([]Scored, len(idx.docs))
	for i, doc := range idx.docs {
		scored[i] = Scored{
			Doc:   idx.corpus[doc.pos],
			Score: bm25Score(queryTerms, doc, idx.idf, idx.avgLen),
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored[:k]
}

// bm25Score computes the raw BM25 score for a single (query, doc) pair.
func bm25Score(queryTerms map[string]bool, doc bm25Doc, idf map[string]float64, avgLen float64) float64 {
	if avgLen == 0 {
		return 0
	}
	dl := float64(doc.len)
	var score float64

	for term := range queryTerms {
		tf, inDoc := doc.tf[term]
		if !inDoc {
			continue
		}
		termIDF, knownTerm := idf[term]
		if !knownTerm {
			continue
		}

		// BM25 numerator: tf * (k1 + 1)
		tfFloat := float64(tf)
		numerator := tfFloat * (bm25K1 + 1)

		// BM25 denominator: tf + k1 * (1 - b + b * dl/avgdl)
		lengthNorm := bm25K1 * (1.0 - bm25B + bm25B*dl/avgLen)
		denominator := tfFloat + lengthNorm

		score += termIDF * (numerator / denominator)
	}
	return score
}
