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
	"strings"
	"sync"
	"unicode"

	"github.com/go-ego/gse"
)

// Tokenizer splits text into index terms.
type Tokenizer interface {
	Tokenize(text string) []string
}

// Tokenizer modes accepted by NewTokenizer.
const (
	LanguageEnglish = "english"
	LanguageChinese = "chinese"
)

// NewTokenizer returns the tokenizer for a language mode. Empty selects
// English.
func NewTokenizer(language string) (Tokenizer, error) {
	switch strings.ToLower(language) {
	case "", LanguageEnglish:
		return EnglishTokenizer{}, nil
	case LanguageChinese:
		return NewCJKTokenizer()
	default:
		return nil, fmt.Errorf("retrieval: unsupported tokenizer language %q", language)
	}
}

// englishStopwords are dropped from both documents and queries.
var englishStopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "if": true, "in": true,
	"into": true, "is": true, "it": true, "no": true, "not": true, "of": true,
	"on": true, "or": true, "such": true, "that": true, "the": true,
	"their": true, "then": true, "there": true, "these": true, "they": true,
	"this": true, "to": true, "was": true, "will": true, "with": true,
}

// EnglishTokenizer lowercases, splits on anything that is not a letter or
// digit, and drops common English stopwords.
type EnglishTokenizer struct{}

// Tokenize implements Tokenizer.
func (EnglishTokenizer) Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if !englishStopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

// CJKTokenizer segments Chinese text into words with a jieba-compatible
// dictionary segmenter. Non-Han letter and digit runs come out as single
// words; whitespace and punctuation are dropped.
type CJKTokenizer struct {
	seg *gse.Segmenter
}

var (
	sharedSegOnce sync.Once
	sharedSeg     *gse.Segmenter
	sharedSegErr  error
)

// NewCJKTokenizer returns a tokenizer backed by the embedded dictionary.
//
// Description:
//
//	The dictionary is loaded once per process and shared by every
//	CJKTokenizer.
//
// Outputs:
//   - *CJKTokenizer: The tokenizer.
//   - error: Non-nil if the dictionary cannot be loaded.
//
// Thread Safety: Safe for concurrent use.
func NewCJKTokenizer() (*CJKTokenizer, error) {
	sharedSegOnce.Do(func() {
		var seg gse.Segmenter
		if err := seg.LoadDictEmbed(); err != nil {
			sharedSegErr = fmt.Errorf("retrieval: load segmenter dictionary: %w", err)
			return
		}
		sharedSeg = &seg
	})
	if sharedSegErr != nil {
		return nil, sharedSegErr
	}
	return &CJKTokenizer{seg: sharedSeg}, nil
}

// Tokenize implements Tokenizer.
func (t *CJKTokenizer) Tokenize(text string) []string {
	words := t.seg.Cut(strings.ToLower(text), true)
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if strings.IndexFunc(w, func(r rune) bool {
			return unicode.IsLetter(r) || unicode.IsDigit(r)
		}) < 0 {
			continue
		}
		out = append(out, w)
	}
	return out
}
