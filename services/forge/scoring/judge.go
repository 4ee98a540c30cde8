// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scoring

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrNoScoreBlock is returned when the judge reply has no <score> block.
	ErrNoScoreBlock = errors.New("scoring: judge reply has no score block")

	// ErrInvalidScore is returned when the score block is not 0 or 1.
	ErrInvalidScore = errors.New("scoring: invalid judge score")
)

var scoreBlock = regexp.MustCompile(`(?s)<score>\s*(.*?)\s*</score>`)

var bracketPairs = map[byte]byte{'[': ']', '(': ')', '{': '}'}

// ParseJudgeScore reads the verdict from a judge reply.
//
// Description:
//
//	The reply must contain a <score> block holding 0 or 1, optionally wrapped
//	in one pair of brackets: "[1]", "(0)" or "{1}".
//
// Outputs:
//
//	int - 0 or 1.
//	error - Wraps ErrNoScoreBlock or ErrInvalidScore.
func ParseJudgeScore(reply string) (int, error) {
	m := scoreBlock.FindStringSubmatch(reply)
	if m == nil {
		return 0, ErrNoScoreBlock
	}
	inner := strings.TrimSpace(m[1])
	if len(inner) >= 2 {
		if closing, ok := bracketPairs[inner[0]]; ok && inner[len(inner)-1] == closing {
			inner = strings.TrimSpace(inner[1 : len(inner)-1])
		}
	}
	v, err := strconv.Atoi(inner)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidScore, m[1])
	}
	if v != 0 && v != 1 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidScore, v)
	}
	return v, nil
}
