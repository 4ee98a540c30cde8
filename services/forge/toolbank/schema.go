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
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const toolSchemaResource = "tool-definition-v1.json"

var (
	toolSchemaOnce     sync.Once
	compiledToolSchema *sjsonschema.Schema
	toolSchemaErr      error
)

// GenerateToolJSONSchema produces a JSON Schema Draft 2020-12 document for
// one tool bank line, reflected from ToolDefinition.
//
// Additional properties are allowed at every level: bank lines routinely
// carry provider-specific fields that the pipeline passes through untouched.
func GenerateToolJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.AllowAdditionalProperties = true
	r.DoNotReference = true

	s := r.Reflect(&ToolDefinition{})
	s.ID = "https://github.com/Buycar-arb/ToolForge/schemas/" + toolSchemaResource
	s.Title = "Tool Bank Definition v1"
	s.Description = "Schema for one line of a tool bank .jsonl file"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tool schema: %w", err)
	}
	return data, nil
}

func toolSchema() (*sjsonschema.Schema, error) {
	toolSchemaOnce.Do(func() {
		schemaJSON, err := GenerateToolJSONSchema()
		if err != nil {
			toolSchemaErr = err
			return
		}
		var schemaDoc any
		if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
			toolSchemaErr = fmt.Errorf("unmarshal tool schema: %w", err)
			return
		}
		c := sjsonschema.NewCompiler()
		if err := c.AddResource(toolSchemaResource, schemaDoc); err != nil {
			toolSchemaErr = fmt.Errorf("add tool schema resource: %w", err)
			return
		}
		compiledToolSchema, toolSchemaErr = c.Compile(toolSchemaResource)
		if toolSchemaErr != nil {
			toolSchemaErr = fmt.Errorf("compile tool schema: %w", toolSchemaErr)
		}
	})
	return compiledToolSchema, toolSchemaErr
}

// ValidateToolLine checks one raw tool bank line against the tool schema.
//
// Outputs:
//   - error: Nil when the line is a well-formed tool definition. Otherwise
//     the error lists every violated location, e.g.
//     "/parameters/required: got string, want array".
func ValidateToolLine(line []byte) error {
	sch, err := toolSchema()
	if err != nil {
		return err
	}

	var doc any
	if err := json.Unmarshal(line, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := sch.Validate(doc); err != nil {
		ve, ok := err.(*sjsonschema.ValidationError)
		if !ok {
			return err
		}
		var msgs []string
		for _, cause := range flattenValidationErrors(ve) {
			msgs = append(msgs, fmt.Sprintf("/%s: %v", strings.Join(cause.InstanceLocation, "/"), cause.ErrorKind))
		}
		return fmt.Errorf("schema violation: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}
