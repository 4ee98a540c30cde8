// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assemble

import (
	"math/rand/v2"

	"github.com/Buycar-arb/ToolForge/services/forge/cases"
	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
	"github.com/Buycar-arb/ToolForge/services/forge/reasoning"
	"github.com/Buycar-arb/ToolForge/services/forge/retrieval"
)

// bucketKinds fixes the order buckets consume the attempt's random source.
var bucketKinds = []cases.BucketKind{
	cases.BucketGood, cases.BucketBad, cases.BucketBad1, cases.BucketBad2, cases.BucketBad3,
}

// evidenceBuilder partitions retrieved context into the buckets of a case.
type evidenceBuilder struct {
	retriever *retrieval.Retriever
	minK      int
	maxK      int
}

// build returns the documents of every bucket the case declares.
//
// Description:
//
//	For each call the noise corpus is ranked against arguments.query. The
//	good bucket of a call is the retrieved window plus the call's
//	references; a plain bad bucket is the window alone. Triple-bad turns
//	widen the window by retrieval.TripleBadFactor and split it into thirds,
//	the highest-ranked third going to bad3 and also seeding good. Every
//	bucket is deduplicated across the turn's calls.
//
//	With MergeSecondTurn, the calls of turn 2 add only their references to
//	the turn-1 good bucket. They draw no noise and no turn-2 bucket exists.
func (e *evidenceBuilder) build(spec cases.CaseSpec, trace *reasoning.Trace,
	corpus []datatypes.Document, rng *rand.Rand) map[cases.Bucket][]datatypes.Document {

	out := make(map[cases.Bucket][]datatypes.Document)
	for n := 1; n <= spec.TurnCount; n++ {
		if spec.MergeSecondTurn && n > 1 {
			break
		}
		turns := []*reasoning.Turn{trace.Turn(n)}
		if spec.MergeSecondTurn {
			for m := n + 1; m <= spec.TurnCount; m++ {
				turns = append(turns, trace.Turn(m))
			}
		}

		policy := spec.NoisePolicy(n)
		minK, maxK := e.minK, e.maxK
		if policy == cases.NoiseTripleBad {
			minK *= retrieval.TripleBadFactor
			maxK *= retrieval.TripleBadFactor
		}

		batches := make(map[cases.BucketKind][][]datatypes.Document)
		for ti, turn := range turns {
			if turn == nil {
				continue
			}
			for i, call := range turn.Calls {
				var refs []datatypes.Document
				if i < len(turn.References) {
					refs = turn.References[i]
				}
				if ti > 0 {
					batches[cases.BucketGood] = append(batches[cases.BucketGood], refs)
					continue
				}
				rag := e.retriever.Retrieve(corpus, call.Query, minK, maxK, rng)

				if policy == cases.NoiseTripleBad {
					third := len(rag) / 3
					batches[cases.BucketBad3] = append(batches[cases.BucketBad3], rag[:third])
					batches[cases.BucketBad2] = append(batches[cases.BucketBad2], rag[third:2*third])
					batches[cases.BucketBad1] = append(batches[cases.BucketBad1], rag[2*third:])
					batches[cases.BucketGood] = append(batches[cases.BucketGood], rag[:third], refs)
					continue
				}
				batches[cases.BucketBad] = append(batches[cases.BucketBad], rag)
				batches[cases.BucketGood] = append(batches[cases.BucketGood], rag, refs)
			}
		}

		for _, kind := range bucketKinds {
			b, ok := batches[kind]
			if !ok {
				continue
			}
			docs := retrieval.Dedupe(b, rng)
			if docs == nil {
				docs = []datatypes.Document{}
			}
			out[cases.Bucket{Turn: n, Kind: kind}] = docs
		}
	}
	return out
}
