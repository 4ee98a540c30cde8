// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompts renders every prompt the pipeline sends to a model.
//
// Templates are text/template files embedded in the binary. An override
// directory may redefine any named template (for example a single case's
// render template) without rebuilding.
package prompts

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/Buycar-arb/ToolForge/services/forge/cases"
	"github.com/Buycar-arb/ToolForge/services/forge/datatypes"
	"github.com/Buycar-arb/ToolForge/services/forge/toolbank"
)

//go:embed templates/*.tmpl
var embedded embed.FS

// Template names.
const (
	nameSystem          = "system"
	nameUser            = "user"
	nameTools           = "tools"
	nameReasoningUser   = "reasoning_user"
	nameRenderSystem    = "render_system"
	nameRender          = "render"
	nameJudgeSystem     = "judge_system"
	nameJudgeUser       = "judge_user"
	prefixReasoningSys  = "reasoning_system_"
	prefixRenderForCase = "render_"
	prefixFlow          = "flow_"
)

// ErrMissingTemplate is returned when a required template is not defined.
var ErrMissingTemplate = errors.New("prompts: template not defined")

// Set is a parsed collection of prompt templates.
//
// Thread Safety: Safe for concurrent use after Load returns.
type Set struct {
	tmpl *template.Template
}

var (
	defaultOnce sync.Once
	defaultSet  *Set
	defaultErr  error
)

// Default returns the embedded template set, parsed once.
func Default() (*Set, error) {
	defaultOnce.Do(func() {
		defaultSet, defaultErr = Load("")
	})
	return defaultSet, defaultErr
}

// Load parses the embedded templates and then every *.tmpl file in
// overrideDir, which may redefine embedded templates by name.
//
// Inputs:
//   - overrideDir: Optional directory of template overrides. Empty skips it.
//
// Outputs:
//   - *Set: The parsed set.
//   - error: Non-nil if a template fails to parse or the directory is
//     unreadable.
func Load(overrideDir string) (*Set, error) {
	root := template.New("prompts").Funcs(template.FuncMap{
		"json":      toJSON,
		"jsonLines": toJSONLines,
		"join":      strings.Join,
		"trim":      strings.TrimSpace,
	})

	tmpl, err := root.ParseFS(embedded, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("prompts: parse embedded templates: %w", err)
	}

	if overrideDir != "" {
		info, err := os.Stat(overrideDir)
		if err != nil {
			return nil, fmt.Errorf("prompts: override dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("prompts: override dir %s is not a directory", overrideDir)
		}
		matches, err := filepath.Glob(filepath.Join(overrideDir, "*.tmpl"))
		if err != nil {
			return nil, fmt.Errorf("prompts: glob overrides: %w", err)
		}
		if len(matches) > 0 {
			if tmpl, err = tmpl.ParseFiles(matches...); err != nil {
				return nil, fmt.Errorf("prompts: parse overrides: %w", err)
			}
		}
	}

	s := &Set{tmpl: tmpl}
	for _, required := range []string{nameSystem, nameUser, nameTools, nameReasoningUser,
		nameRenderSystem, nameRender, nameJudgeSystem, nameJudgeUser} {
		if !s.Has(required) {
			return nil, fmt.Errorf("%w: %s", ErrMissingTemplate, required)
		}
	}
	return s, nil
}

// Has reports whether a template with the given name is defined.
func (s *Set) Has(name string) bool {
	t := s.tmpl.Lookup(name)
	return t != nil && t.Tree != nil
}

// Names returns every defined template name, sorted.
func (s *Set) Names() []string {
	var names []string
	for _, t := range s.tmpl.Templates() {
		if t.Tree == nil || strings.HasSuffix(t.Name(), ".tmpl") || t.Name() == "prompts" {
			continue
		}
		names = append(names, t.Name())
	}
	sort.Strings(names)
	return names
}

func (s *Set) execute(name string, data any) (string, error) {
	if !s.Has(name) {
		return "", fmt.Errorf("%w: %s", ErrMissingTemplate, name)
	}
	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("prompts: execute %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// =============================================================================
// Conversation Head
// =============================================================================

// System returns the system prompt that opens every synthesized transcript.
// The tool prompt is appended by the caller.
func (s *Set) System() (string, error) {
	return s.execute(nameSystem, nil)
}

// User renders the first user turn of a transcript.
func (s *Set) User(query string) (string, error) {
	return s.execute(nameUser, struct{ Query string }{query})
}

// ToolPrompt renders the tool list block shown to the model. Each tool is
// one JSON line, in the given order.
func (s *Set) ToolPrompt(tools []toolbank.ToolDefinition) (string, error) {
	out, err := s.execute(nameTools, struct{ Tools []toolbank.ToolDefinition }{tools})
	if err != nil {
		return "", err
	}
	// Separate from the system prompt it is appended to.
	return "\n\n" + out, nil
}

// =============================================================================
// Reasoning Trace
// =============================================================================

// ReasoningData fills the reasoning user prompt.
type ReasoningData struct {
	Query     string
	GoodTools []toolbank.ToolDefinition
	Reference []datatypes.Document
	Answer    string
	// RouteSelect is the scenario label of the source record.
	RouteSelect string
	Reasoning   string
	TurnCount   int
}

// ReasoningSystem returns the reasoning system prompt of a case family
// ("A", "B", "C" or "D").
func (s *Set) ReasoningSystem(family string) (string, error) {
	return s.execute(prefixReasoningSys+strings.ToUpper(family), nil)
}

// ReasoningUser renders the reasoning user prompt.
func (s *Set) ReasoningUser(d ReasoningData) (string, error) {
	return s.execute(nameReasoningUser, d)
}

// =============================================================================
// Transcript Rendering
// =============================================================================

// RenderBucket is one evidence bucket, in transcript order.
type RenderBucket struct {
	// Label is the name the prompt uses for the bucket, e.g.
	// "gold_content_1" or "error_content_2_3".
	Label     string
	Turn      int
	Kind      string
	Documents []datatypes.Document
}

// RenderTurn is one reasoning round's tool calls.
type RenderTurn struct {
	Number int
	// ToolCalls are the raw tool-call JSON blocks of the round.
	ToolCalls []string
}

// RenderData fills a case render template.
type RenderData struct {
	CaseID    string
	Query     string
	Reasoning string
	Answer    string
	Turns     []RenderTurn
	Buckets   []RenderBucket

	// ToolList, ToolListGeneral and GeneralTool are set only for cases whose
	// flow refers to them.
	ToolList        []toolbank.ToolDefinition
	ToolListGeneral []toolbank.ToolDefinition
	GeneralTool     *toolbank.ToolDefinition

	// Flow is filled by Render from the case's flow template.
	Flow string
}

// BucketLabel names a bucket for the render prompt.
func BucketLabel(b cases.Bucket) string {
	switch b.Kind {
	case cases.BucketGood:
		return fmt.Sprintf("gold_content_%d", b.Turn)
	case cases.BucketBad:
		return fmt.Sprintf("error_content_%d", b.Turn)
	case cases.BucketBad1:
		return fmt.Sprintf("error_content_%d_1", b.Turn)
	case cases.BucketBad2:
		return fmt.Sprintf("error_content_%d_2", b.Turn)
	default:
		return fmt.Sprintf("error_content_%d_3", b.Turn)
	}
}

// RenderSystem returns the system prompt of the render call.
func (s *Set) RenderSystem() (string, error) {
	return s.execute(nameRenderSystem, nil)
}

// Render renders the render user prompt of a case.
//
// Description:
//
//	The case's flow description ("flow_<ID>") is rendered first and placed in
//	d.Flow. The case-specific template "render_<ID>" is used when defined,
//	otherwise the shared "render" template.
func (s *Set) Render(caseID string, d RenderData) (string, error) {
	id := cases.NormalizeID(caseID)
	d.CaseID = id

	flow, err := s.execute(prefixFlow+id, d)
	if err != nil {
		return "", err
	}
	d.Flow = flow

	name := nameRender
	if s.Has(prefixRenderForCase + id) {
		name = prefixRenderForCase + id
	}
	return s.execute(name, d)
}

// =============================================================================
// Judge
// =============================================================================

// JudgeSystem returns the semantic judge system prompt.
func (s *Set) JudgeSystem() (string, error) {
	return s.execute(nameJudgeSystem, nil)
}

// JudgeUser renders the judge user prompt from a transcript and the good
// tool mapping.
func (s *Set) JudgeUser(messages []datatypes.Message, mapping []datatypes.ToolMapping) (string, error) {
	return s.execute(nameJudgeUser, struct {
		Messages []datatypes.Message
		Mapping  []datatypes.ToolMapping
	}{messages, mapping})
}

// =============================================================================
// Template Functions
// =============================================================================

func toJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func toJSONLines(tools []toolbank.ToolDefinition) (string, error) {
	lines := make([]string, 0, len(tools))
	for _, t := range tools {
		line, err := toJSON(t)
		if err != nil {
			return "", err
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}
