// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package toolbank

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// ToolDefinition is one tool schema as stored in the tool bank. Follows the
// OpenAI function calling schema without the outer "function" wrapper.
//
// Description:
//
//	Each line of a tool bank file decodes into one ToolDefinition. The raw
//	line is retained so the snapshot shown to the model, and persisted with
//	the record, reproduces the bank entry byte-for-byte including fields this
//	type does not model.
//
// Thread Safety: ToolDefinition is immutable after loading and safe for
// concurrent read access.
type ToolDefinition struct {
	// Name is the function name the model will call.
	Name string `json:"name" jsonschema:"minLength=1"`

	// Description explains what the function does.
	Description string `json:"description,omitempty"`

	// Parameters defines the JSON Schema for function parameters.
	Parameters ToolParameters `json:"parameters"`

	raw json.RawMessage
}

// ToolParameters defines the JSON Schema for tool parameters.
type ToolParameters struct {
	// Type is the JSON Schema type. Always "object" for tool parameters.
	Type string `json:"type,omitempty"`

	// Properties maps parameter names to their definitions.
	Properties map[string]ToolParamDef `json:"properties,omitempty"`

	// Required lists parameter names that must be provided.
	Required []string `json:"required,omitempty"`
}

// ToolParamDef defines a single parameter in JSON Schema format.
type ToolParamDef struct {
	// Type is the JSON Schema type (string, integer, boolean, number, array).
	Type string `json:"type,omitempty"`

	// Description explains what the parameter is for.
	Description string `json:"description,omitempty"`

	// Enum restricts values to a set of options.
	Enum []any `json:"enum,omitempty"`

	// Default is the default value if not provided.
	Default any `json:"default,omitempty"`
}

// ParseToolDefinition decodes one tool bank line and keeps the raw bytes.
func ParseToolDefinition(line []byte) (ToolDefinition, error) {
	var def ToolDefinition
	if err := json.Unmarshal(line, &def); err != nil {
		return ToolDefinition{}, fmt.Errorf("decode tool definition: %w", err)
	}
	if def.Name == "" {
		return ToolDefinition{}, fmt.Errorf("decode tool definition: name must not be empty")
	}
	def.raw = append(json.RawMessage(nil), bytes.TrimSpace(line)...)
	return def, nil
}

// MarshalJSON returns the original bank line when the definition was parsed
// from one, otherwise the modeled fields.
func (d ToolDefinition) MarshalJSON() ([]byte, error) {
	if len(d.raw) > 0 {
		return d.raw, nil
	}
	type plain ToolDefinition
	return json.Marshal(plain(d))
}

// UnmarshalJSON decodes the modeled fields and keeps the raw bytes.
func (d *ToolDefinition) UnmarshalJSON(data []byte) error {
	type plain ToolDefinition
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*d = ToolDefinition(p)
	d.raw = append(json.RawMessage(nil), bytes.TrimSpace(data)...)
	return nil
}

// PropertyNames returns the declared parameter names, sorted.
func (d ToolDefinition) PropertyNames() []string {
	names := make([]string, 0, len(d.Parameters.Properties))
	for name := range d.Parameters.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRequired reports whether param is in the required list.
func (d ToolDefinition) IsRequired(param string) bool {
	for _, r := range d.Parameters.Required {
		if r == param {
			return true
		}
	}
	return false
}

// HasProperty reports whether param is declared in the schema properties.
func (d ToolDefinition) HasProperty(param string) bool {
	_, ok := d.Parameters.Properties[param]
	return ok
}

// =============================================================================
// Tool Calls
// =============================================================================

// ToolCall is one decoded <tool_call> block: {"name": ..., "arguments": {...}}.
type ToolCall struct {
	// Name is the function name the model called.
	Name string `json:"name"`

	// Arguments is the raw JSON arguments object.
	Arguments json.RawMessage `json:"arguments"`
}

// ParseToolCall decodes a tool call JSON object.
func ParseToolCall(s string) (ToolCall, error) {
	var call ToolCall
	if err := json.Unmarshal([]byte(s), &call); err != nil {
		return ToolCall{}, fmt.Errorf("decode tool call: %w", err)
	}
	return call, nil
}

// ArgumentMap decodes the arguments object.
//
// Outputs:
//   - map[string]any: The arguments. Empty (non-nil) when arguments are
//     absent or JSON null.
//   - error: Non-nil when arguments are present but not a JSON object.
func (c ToolCall) ArgumentMap() (map[string]any, error) {
	args := make(map[string]any)
	trimmed := bytes.TrimSpace(c.Arguments)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return args, nil
	}
	if err := json.Unmarshal(trimmed, &args); err != nil {
		return nil, fmt.Errorf("decode arguments of %q: %w", c.Name, err)
	}
	return args, nil
}

// Query returns the string "query" argument, used to drive evidence
// retrieval.
func (c ToolCall) Query() (string, error) {
	args, err := c.ArgumentMap()
	if err != nil {
		return "", err
	}
	q, ok := args["query"].(string)
	if !ok {
		return "", fmt.Errorf("tool call %q: missing string argument \"query\"", c.Name)
	}
	return q, nil
}
