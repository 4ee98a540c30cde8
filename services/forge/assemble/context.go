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
	"encoding/json"
	"math/rand/v2"

	"github.com/Buycar-arb/ToolForge/services/forge/cases"
	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
	"github.com/Buycar-arb/ToolForge/services/forge/toolbank"
)

// GenerationContext carries everything one attempt needs.
//
// Description:
//
//	Built once per attempt by NewGenerationContext and never modified
//	afterwards. The derived fields (gold and noise corpora, reasoning with
//	tool names replaced) are computed up front so the assembler only reads.
//
// Thread Safety: The value is read-only, but Rand is not safe for
// concurrent use. One context belongs to one goroutine.
type GenerationContext struct {
	Case cases.CaseSpec

	Source    datatypes.SourceRecord
	SourceRaw json.RawMessage

	Query       string
	Answer      string
	RouteSelect string

	// Reasoning is the source reasoning with every gold tool name replaced
	// by the variant drawn for this attempt.
	Reasoning string

	GoldContents []datatypes.Document
	AllContents  []datatypes.Document

	Tools *toolbank.Snapshot

	Rand *rand.Rand
}

// NewGenerationContext derives the attempt context from a source record and
// a sampled tool snapshot.
//
// Inputs:
//
//	spec - The target case.
//	src - Decoded source record.
//	raw - The source line as read, written back verbatim. May be nil.
//	snap - Tool snapshot sampled for this attempt.
//	rng - Random source owned by this attempt.
func NewGenerationContext(spec cases.CaseSpec, src datatypes.SourceRecord, raw json.RawMessage,
	snap *toolbank.Snapshot, rng *rand.Rand) GenerationContext {
	return GenerationContext{
		Case:         spec,
		Source:       src,
		SourceRaw:    raw,
		Query:        src.Question,
		Answer:       src.Answer,
		RouteSelect:  src.RouteSelect,
		Reasoning:    datatypes.ReplaceToolNames(src.Reasoning, snap.Mapping),
		GoldContents: src.GoldContents(),
		AllContents:  src.AllContents(),
		Tools:        snap,
		Rand:         rng,
	}
}

// ShownTools returns the tool set the case shows to the model.
func (gc GenerationContext) ShownTools() ([]toolbank.ToolDefinition, error) {
	if !gc.Case.IsGeneral() {
		return gc.Tools.Specific, nil
	}
	if gc.Tools.GeneralUnavailable {
		return nil, ErrGeneralUnavailable
	}
	return gc.Tools.General, nil
}
