// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Buycar-arb/ToolForge/services/forge/providers"
)

const minimalYAML = `
paths:
  input: in.jsonl
  tool_bank: tools
  output_dir: out
cases:
  case_C4: 3
  a1: 2
`

func TestLoadConfig_Embedded(t *testing.T) {
	cfg, err := LoadConfig(context.Background(), defaultConfigYAML)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Generation.MinDistractors)
	assert.Equal(t, 8, cfg.Generation.MaxDistractors)
	assert.Equal(t, 5, cfg.Generation.MinTopK)
	assert.Equal(t, 10, cfg.Generation.MaxTopK)
	assert.Equal(t, 8192, cfg.Generation.MaxTokens)
	assert.Equal(t, 2, cfg.Concurrency.AttemptMultiplier)
	assert.Equal(t, 40*time.Second, cfg.Providers.Generator.RetryDelay)
	assert.Equal(t, "gpt-4.1", cfg.Providers.Judge.Model)
	assert.Equal(t, map[string]int{"C1": 1}, cfg.Cases)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(context.Background(), []byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, DefaultMinDistractors, cfg.Generation.MinDistractors)
	assert.Equal(t, "english", cfg.Generation.Tokenizer)
	assert.Equal(t, "general_information_search", cfg.Generation.GeneralTool)
	assert.Equal(t, DefaultWorkers, cfg.Concurrency.Workers)
	assert.Equal(t, DefaultGeneratorModel, cfg.Providers.Generator.Model)
	assert.Equal(t, DefaultRetryAttempts, cfg.Providers.Judge.RetryAttempts)
	assert.Equal(t, DefaultJudgeDelay, cfg.Providers.Judge.RetryDelay)
	assert.Equal(t, TraceExporterNone, cfg.Telemetry.TraceExporter)
	assert.Equal(t, map[string]int{"C4": 3, "A1": 2}, cfg.Cases, "case keys are normalized")
}

func TestLoadConfig_Targets(t *testing.T) {
	cfg, err := LoadConfig(context.Background(), []byte(minimalYAML))
	require.NoError(t, err)

	targets := cfg.Targets()
	require.Len(t, targets, 2)
	assert.Equal(t, "A1", targets[0].Spec.ID)
	assert.Equal(t, 2, targets[0].Target)
	assert.Equal(t, "C4", targets[1].Spec.ID)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown case", minimalYAML + "  Q9: 1\n", "unknown case"},
		{"duplicate case", minimalYAML + "  C4: 1\n", "listed twice"},
		{"no cases", strings.Replace(minimalYAML, "  case_C4: 3\n  a1: 2\n", "", 1), "Cases"},
		{"distractor bounds", minimalYAML + "generation:\n  min_distractors: 9\n  max_distractors: 2\n", "MaxDistractors"},
		{"top-k bounds", minimalYAML + "generation:\n  min_top_k: 7\n  max_top_k: 6\n", "MaxTopK"},
		{"tokenizer", minimalYAML + "generation:\n  tokenizer: klingon\n", "Tokenizer"},
		{"provider", minimalYAML + "providers:\n  judge:\n    provider: bard\n", "Provider"},
		{"uninferable model", minimalYAML + "providers:\n  judge:\n    model: mistral\n", "cannot infer provider"},
		{"exporter", minimalYAML + "telemetry:\n  trace_exporter: jaeger\n", "TraceExporter"},
		{"otlp endpoint", minimalYAML + "telemetry:\n  trace_exporter: otlp\n", "OTLPEndpoint"},
		{"missing input", strings.Replace(minimalYAML, "  input: in.jsonl\n", "", 1), "Input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(context.Background(), []byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_EmptyAndOversized(t *testing.T) {
	_, err := LoadConfig(context.Background(), nil)
	assert.Error(t, err)

	_, err = LoadConfig(context.Background(), make([]byte, MaxConfigFileSize+1))
	assert.ErrorContains(t, err, "maximum size")

	_, err = LoadConfig(context.Background(), []byte("paths: [unclosed"))
	assert.ErrorContains(t, err, "parsing YAML")
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o644))

	cfg, err := LoadConfigFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "in.jsonl", cfg.Paths.Input)

	_, err = LoadConfigFile(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigFile_DefaultIsACopy(t *testing.T) {
	a, err := LoadConfigFile(context.Background(), "")
	require.NoError(t, err)
	a.Cases["C9"] = 5

	b, err := LoadConfigFile(context.Background(), "")
	require.NoError(t, err)
	assert.NotContains(t, b.Cases, "C9")
}

func TestApplyEnv(t *testing.T) {
	cfg, err := LoadConfig(context.Background(), []byte(minimalYAML))
	require.NoError(t, err)

	env := map[string]string{EnvAPIKeys: "k1, k2,,k3"}
	cfg.ApplyEnv(func(k string) string { return env[k] })
	assert.Equal(t, []string{"k1", "k2", "k3"}, cfg.GeneratorKeys)
	assert.Equal(t, cfg.GeneratorKeys, cfg.JudgeKeys, "judge falls back to generator keys")

	env[EnvJudgeAPIKeys] = "j1"
	cfg.ApplyEnv(func(k string) string { return env[k] })
	assert.Equal(t, []string{"j1"}, cfg.JudgeKeys)
}

func TestProviderSettings(t *testing.T) {
	cfg, err := LoadConfig(context.Background(), []byte(minimalYAML+`
providers:
  generator:
    model: claude-sonnet-4
    timeout: 90s
    requests_per_second: 2.5
`))
	require.NoError(t, err)

	pc := cfg.Providers.Generator.ProviderConfig()
	assert.Equal(t, providers.ProviderAnthropic, pc.Provider)
	assert.Equal(t, 90*time.Second, pc.Timeout)

	sc := cfg.Providers.Generator.ServiceConfig(providers.RoleGenerator, cfg.Generation)
	assert.Equal(t, providers.RoleGenerator, sc.Role)
	assert.Equal(t, 2.5, sc.RequestsPerSecond)
	assert.Equal(t, DefaultRetryAttempts, sc.RetryAttempts)
	assert.Equal(t, 8192, sc.Options.MaxTokens)

	tb := cfg.ToolBank()
	assert.Equal(t, "tools", tb.Dir)
	assert.Equal(t, 3, tb.MinDistractors)
}

func TestSetCases(t *testing.T) {
	cfg, err := LoadConfig(context.Background(), []byte(minimalYAML))
	require.NoError(t, err)

	require.NoError(t, cfg.SetCases(map[string]int{"case_B2": 4}))
	assert.Equal(t, map[string]int{"B2": 4}, cfg.Cases)

	assert.ErrorIs(t, cfg.SetCases(map[string]int{"Z1": 1}), ErrInvalidConfig)
	assert.ErrorIs(t, cfg.SetCases(map[string]int{"B2": -1}), ErrInvalidConfig)
}
