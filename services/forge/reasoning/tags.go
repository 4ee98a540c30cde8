// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reasoning

import (
	"regexp"
	"strings"
	"sync"
)

var tagPatterns sync.Map // tag -> *regexp.Regexp

func tagPattern(tag string) *regexp.Regexp {
	if re, ok := tagPatterns.Load(tag); ok {
		return re.(*regexp.Regexp)
	}
	q := regexp.QuoteMeta(tag)
	re := regexp.MustCompile(`(?s)<` + q + `>\s*(.*?)\s*</` + q + `>`)
	actual, _ := tagPatterns.LoadOrStore(tag, re)
	return actual.(*regexp.Regexp)
}

// ExtractTags returns the trimmed inner text of every non-overlapping
// <tag>...</tag> block in text, in document order.
//
// Thread Safety: Safe for concurrent use.
func ExtractTags(text, tag string) []string {
	matches := tagPattern(tag).FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// ExtractTag joins every <tag> block with newlines. It returns "" when the
// tag is absent.
func ExtractTag(text, tag string) string {
	return strings.Join(ExtractTags(text, tag), "\n")
}

// HasTag reports whether text contains at least one complete <tag> block.
func HasTag(text, tag string) bool {
	return tagPattern(tag).MatchString(text)
}
