// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// JudgeScore is the semantic judge's verdict. On the wire an unknown score
// is the string "null".
type JudgeScore struct {
	Value int
	Valid bool
}

// Score returns a valid JudgeScore.
func Score(v int) JudgeScore {
	return JudgeScore{Value: v, Valid: true}
}

// NullScore returns the unknown score.
func NullScore() JudgeScore {
	return JudgeScore{}
}

// String returns the integer or "null".
func (s JudgeScore) String() string {
	if !s.Valid {
		return "null"
	}
	return strconv.Itoa(s.Value)
}

// MarshalJSON encodes an integer or the string "null".
func (s JudgeScore) MarshalJSON() ([]byte, error) {
	if !s.Valid {
		return []byte(`"null"`), nil
	}
	return []byte(strconv.Itoa(s.Value)), nil
}

// UnmarshalJSON accepts an integer, "null", or JSON null.
func (s *JudgeScore) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte(`"null"`)) {
		*s = NullScore()
		return nil
	}
	var v int
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return fmt.Errorf("gpt_score: %w", err)
	}
	*s = Score(v)
	return nil
}

// ScoreRecord is one line of a score log. Every attempt writes one,
// accepted or not.
type ScoreRecord struct {
	Case       string     `json:"case"`
	RuleScore  int        `json:"rule_score"`
	GPTScore   JudgeScore `json:"gpt_score"`
	TotalScore int        `json:"total_score"`
	UUID       string     `json:"uuid"`

	// Data is the {"messages": [...]} object, or null when generation
	// failed before a transcript existed.
	Data json.RawMessage `json:"data"`

	GoodReason  string `json:"good_reason,omitempty"`
	ErrorReason string `json:"error_reason,omitempty"`
}

// Accepted reports whether the record reached the maximum total score.
func (s ScoreRecord) Accepted() bool {
	return s.TotalScore == 2
}
