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
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
)

// MaxLineSize bounds one JSONL line. Records embed whole passage corpora,
// so lines are far larger than bufio's default.
const MaxLineSize = 64 << 20

// ForEachLine calls fn for every line of r, 1-based, including blank lines
// so that line numbers match the file. It stops at the first error fn
// returns.
func ForEachLine(r io.Reader, fn func(lineNo int, line []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := fn(lineNo, scanner.Bytes()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("record: read line %d: %w", lineNo+1, err)
	}
	return nil
}

// SourceLine is one input line kept verbatim next to its decoded form.
type SourceLine struct {
	LineNo int
	Raw    json.RawMessage
	// Blank is set for empty lines; Record is zero.
	Blank  bool
	Record datatypes.SourceRecord
	// Err is set when the line is not valid JSON.
	Err error
}

// HasToolSelect reports whether the raw line carries a tool_select key.
func (l SourceLine) HasToolSelect() bool {
	if l.Blank || l.Err != nil {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(l.Raw, &fields); err != nil {
		return false
	}
	_, ok := fields["tool_select"]
	return ok
}

// ReadSourceFile reads every line of a source JSONL file. Malformed lines
// are returned with Err set rather than failing the whole file.
func ReadSourceFile(path string) ([]SourceLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("record: open source file: %w", err)
	}
	defer f.Close()

	var lines []SourceLine
	err = ForEachLine(f, func(lineNo int, line []byte) error {
		trimmed := bytes.TrimSpace(line)
		sl := SourceLine{LineNo: lineNo}
		if len(trimmed) == 0 {
			sl.Blank = true
			lines = append(lines, sl)
			return nil
		}
		sl.Raw = append(json.RawMessage(nil), trimmed...)
		if err := json.Unmarshal(trimmed, &sl.Record); err != nil {
			sl.Err = fmt.Errorf("line %d: %w", lineNo, err)
		}
		lines = append(lines, sl)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// ReadConversations decodes every non-blank line of r as a
// ConversationRecord and calls fn with it, or with the decode error.
func ReadConversations(r io.Reader, fn func(lineNo int, rec *ConversationRecord, err error) error) error {
	return ForEachLine(r, func(lineNo int, line []byte) error {
		if len(bytes.TrimSpace(line)) == 0 {
			return nil
		}
		var rec ConversationRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return fn(lineNo, nil, err)
		}
		return fn(lineNo, &rec, nil)
	})
}
