// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the run configuration of the generation pipeline.
//
// A default configuration is embedded in the binary. Files passed on the
// command line replace it wholesale; missing fields fall back to the
// defaults below. API keys are never read from YAML.
package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	"github.com/Buycar-arb/ToolForge/services/forge/cases"
	"github.com/Buycar-arb/ToolForge/services/forge/providers"
	"github.com/Buycar-arb/ToolForge/services/forge/retrieval"
	"github.com/Buycar-arb/ToolForge/services/forge/toolbank"
)

// =============================================================================
// Embedded Default Configuration
// =============================================================================

//go:embed forge.yaml
var defaultConfigYAML []byte

const tracerName = "toolforge.config"

// MaxConfigFileSize bounds a configuration file.
const MaxConfigFileSize = 1 << 20

// Environment variables holding API keys.
const (
	EnvAPIKeys      = "TOOLFORGE_API_KEYS"
	EnvJudgeAPIKeys = "TOOLFORGE_JUDGE_API_KEYS"
)

// Trace exporters accepted by telemetry.trace_exporter.
const (
	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"
	TraceExporterOTLP   = "otlp"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the full run configuration.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Config struct {
	Paths       PathsConfig       `yaml:"paths"`
	Generation  GenerationConfig  `yaml:"generation"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`

	// Cases maps a case id ("C4" or "case_C4") to its target count of
	// accepted records. Keys are normalized to the bare id on load.
	Cases map[string]int `yaml:"cases" validate:"required,min=1,dive,min=0"`

	Providers ProvidersConfig `yaml:"providers"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Publish   PublishConfig   `yaml:"publish"`

	// GeneratorKeys and JudgeKeys come from the environment only.
	GeneratorKeys []string `yaml:"-"`
	JudgeKeys     []string `yaml:"-"`
}

// PathsConfig locates inputs and outputs.
type PathsConfig struct {
	// Input is the source record JSONL file.
	Input string `yaml:"input" validate:"required"`

	// ToolBank is the directory of per-tool *.jsonl files.
	ToolBank string `yaml:"tool_bank" validate:"required"`

	// PromptsDir optionally overrides embedded prompt templates.
	PromptsDir string `yaml:"prompts_dir"`

	// OutputDir receives validated_case_*.jsonl and score_case_*.jsonl.
	OutputDir string `yaml:"output_dir" validate:"required"`

	// ProgressDir holds the checkpoint store. Empty disables resume.
	ProgressDir string `yaml:"progress_dir"`
}

// GenerationConfig tunes one attempt.
type GenerationConfig struct {
	MinDistractors int `yaml:"min_distractors" validate:"min=0"`
	MaxDistractors int `yaml:"max_distractors" validate:"gtefield=MinDistractors"`

	MinTopK int `yaml:"min_top_k" validate:"min=1"`
	MaxTopK int `yaml:"max_top_k" validate:"gtefield=MinTopK"`

	// Tokenizer selects the retrieval tokenizer: "english" or "chinese".
	Tokenizer string `yaml:"tokenizer" validate:"oneof=english chinese"`

	// GeneralTool is the file stem of the fallback tool.
	GeneralTool string `yaml:"general_tool" validate:"required"`

	Temperature float64 `yaml:"temperature" validate:"min=0,max=2"`
	MaxTokens   int     `yaml:"max_tokens" validate:"min=1"`
}

// ConcurrencyConfig bounds parallel work.
type ConcurrencyConfig struct {
	// Workers is the number of attempts in flight across all cases.
	Workers int `yaml:"workers" validate:"min=1,max=256"`

	// AttemptMultiplier caps attempts per case at multiplier × pool size.
	AttemptMultiplier int `yaml:"attempt_multiplier" validate:"min=1"`
}

// ProvidersConfig holds one model endpoint per role.
type ProvidersConfig struct {
	Generator ProviderSettings `yaml:"generator"`
	Judge     ProviderSettings `yaml:"judge"`
}

// ProviderSettings configures the model service of one role.
type ProviderSettings struct {
	Provider string `yaml:"provider" validate:"omitempty,oneof=anthropic openai ollama"`
	Model    string `yaml:"model" validate:"required"`
	BaseURL  string `yaml:"base_url" validate:"omitempty,url"`

	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts int           `yaml:"retry_attempts" validate:"min=1"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	RetryJitter   time.Duration `yaml:"retry_jitter"`

	// RequestsPerSecond of zero disables client-side limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"min=0"`
	Burst             int     `yaml:"burst" validate:"min=0"`
}

// TelemetryConfig controls metrics and tracing.
type TelemetryConfig struct {
	// MetricsAddr is the status server listen address. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`

	TraceExporter string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	ServiceName   string `yaml:"service_name"`

	// OTLPEndpoint is the collector host:port when TraceExporter is "otlp".
	OTLPEndpoint string `yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

// PublishConfig names the upload destination of `toolforge publish`.
type PublishConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// CaseTarget is one entry of the run plan.
type CaseTarget struct {
	Spec   cases.CaseSpec
	Target int
}

// =============================================================================
// Defaults
// =============================================================================

const (
	DefaultMinDistractors    = 3
	DefaultMaxDistractors    = 8
	DefaultWorkers           = 4
	DefaultAttemptMultiplier = 2
	DefaultMaxTokens         = 8192
	DefaultRetryAttempts     = 5
	DefaultGeneratorModel    = "anthropic.claude-sonnet-4"
	DefaultJudgeModel        = "gpt-4.1"
	DefaultGeneratorDelay    = 40 * time.Second
	DefaultJudgeDelay        = time.Second
	DefaultServiceName       = "toolforge"
)

// =============================================================================
// Loading
// =============================================================================

var (
	defaultOnce sync.Once
	defaultCfg  *Config
	defaultErr  error
)

// Default returns the embedded configuration, parsed once.
//
// The returned value is shared; callers that need to change it must Clone
// it first.
func Default(ctx context.Context) (*Config, error) {
	defaultOnce.Do(func() {
		defaultCfg, defaultErr = LoadConfig(ctx, defaultConfigYAML)
	})
	return defaultCfg, defaultErr
}

// LoadConfig parses, defaults and validates YAML bytes.
//
// Description:
//
//	Missing numeric fields get the package defaults, case ids are
//	normalized, and the result is validated with struct tags plus the
//	cross-field rules in validateConfig. Environment keys are not read;
//	see ApplyEnv.
//
// Inputs:
//
//	ctx - Context for tracing.
//	data - Raw YAML bytes.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Parse errors, or ErrInvalidConfig.
func LoadConfig(ctx context.Context, data []byte) (*Config, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "config.LoadConfig")
	defer span.End()

	if len(data) == 0 {
		return nil, fmt.Errorf("config: empty YAML data")
	}
	if len(data) > MaxConfigFileSize {
		return nil, fmt.Errorf("config: YAML data exceeds maximum size (%d > %d)", len(data), MaxConfigFileSize)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing YAML: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.normalizeCases(); err != nil {
		return nil, err
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("cases", len(cfg.Cases)),
		attribute.Int("workers", cfg.Concurrency.Workers),
		attribute.String("generator_model", cfg.Providers.Generator.Model),
		attribute.String("judge_model", cfg.Providers.Judge.Model),
	)
	return &cfg, nil
}

// LoadConfigFile reads a configuration file. An empty path returns a copy
// of the embedded default.
func LoadConfigFile(ctx context.Context, path string) (*Config, error) {
	if path == "" {
		def, err := Default(ctx)
		if err != nil {
			return nil, err
		}
		return def.Clone(), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}
	if info.Size() > MaxConfigFileSize {
		return nil, fmt.Errorf("config: %s exceeds maximum size (%d > %d)", path, info.Size(), MaxConfigFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := LoadConfig(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	slog.Info("configuration loaded",
		slog.String("path", path),
		slog.Int("cases", len(cfg.Cases)),
		slog.Int("workers", cfg.Concurrency.Workers),
	)
	return cfg, nil
}

// ApplyEnv fills API keys from the environment. Judge keys fall back to
// the generator keys when TOOLFORGE_JUDGE_API_KEYS is unset.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	c.GeneratorKeys = envKeys(getenv(EnvAPIKeys))
	c.JudgeKeys = envKeys(getenv(EnvJudgeAPIKeys))
	if len(c.JudgeKeys) == 0 {
		c.JudgeKeys = c.GeneratorKeys
	}
}

func envKeys(raw string) []string {
	var keys []string
	for _, k := range providers.ParseKeyList(raw) {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// SetCases replaces the run plan, e.g. from command-line overrides, and
// revalidates the configuration.
func (c *Config) SetCases(targets map[string]int) error {
	c.Cases = make(map[string]int, len(targets))
	for id, n := range targets {
		c.Cases[id] = n
	}
	if err := c.normalizeCases(); err != nil {
		return err
	}
	return validateConfig(c)
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Cases = make(map[string]int, len(c.Cases))
	for k, v := range c.Cases {
		out.Cases[k] = v
	}
	out.GeneratorKeys = append([]string(nil), c.GeneratorKeys...)
	out.JudgeKeys = append([]string(nil), c.JudgeKeys...)
	return &out
}

// Targets returns the run plan in registry order.
func (c *Config) Targets() []CaseTarget {
	out := make([]CaseTarget, 0, len(c.Cases))
	for _, id := range cases.IDs() {
		target, ok := c.Cases[id]
		if !ok {
			continue
		}
		out = append(out, CaseTarget{Spec: cases.MustLookup(id), Target: target})
	}
	return out
}

// ToolBank returns the tool bank loader configuration.
func (c *Config) ToolBank() toolbank.Config {
	return toolbank.Config{
		Dir:            c.Paths.ToolBank,
		GeneralTool:    c.Generation.GeneralTool,
		MinDistractors: c.Generation.MinDistractors,
		MaxDistractors: c.Generation.MaxDistractors,
	}
}

// ProviderConfig returns the chat client settings of one role.
func (s ProviderSettings) ProviderConfig() providers.ProviderConfig {
	provider := s.Provider
	if provider == "" {
		provider = providers.InferProvider(s.Model)
	}
	return providers.ProviderConfig{
		Provider: provider,
		Model:    s.Model,
		BaseURL:  s.BaseURL,
		Timeout:  s.Timeout,
	}
}

// ServiceConfig returns the retry and pacing policy of one role.
func (s ProviderSettings) ServiceConfig(role string, gen GenerationConfig) providers.ServiceConfig {
	return providers.ServiceConfig{
		Role:              role,
		RetryAttempts:     s.RetryAttempts,
		RetryDelay:        s.RetryDelay,
		RetryJitter:       s.RetryJitter,
		RequestsPerSecond: s.RequestsPerSecond,
		Burst:             s.Burst,
		Options: providers.ChatOptions{
			Temperature: gen.Temperature,
			MaxTokens:   gen.MaxTokens,
		},
	}
}

func (c *Config) applyDefaults() {
	g := &c.Generation
	if g.MinDistractors <= 0 {
		g.MinDistractors = DefaultMinDistractors
	}
	if g.MaxDistractors <= 0 {
		g.MaxDistractors = DefaultMaxDistractors
	}
	if g.MinTopK <= 0 {
		g.MinTopK = retrieval.DefaultMinTopK
	}
	if g.MaxTopK <= 0 {
		g.MaxTopK = retrieval.DefaultMaxTopK
	}
	if g.Tokenizer == "" {
		g.Tokenizer = retrieval.LanguageEnglish
	}
	if g.GeneralTool == "" {
		g.GeneralTool = toolbank.DefaultGeneralTool
	}
	if g.MaxTokens <= 0 {
		g.MaxTokens = DefaultMaxTokens
	}

	if c.Concurrency.Workers <= 0 {
		c.Concurrency.Workers = DefaultWorkers
	}
	if c.Concurrency.AttemptMultiplier <= 0 {
		c.Concurrency.AttemptMultiplier = DefaultAttemptMultiplier
	}

	applyProviderDefaults(&c.Providers.Generator, DefaultGeneratorModel, DefaultGeneratorDelay)
	applyProviderDefaults(&c.Providers.Judge, DefaultJudgeModel, DefaultJudgeDelay)

	if c.Telemetry.TraceExporter == "" {
		c.Telemetry.TraceExporter = TraceExporterNone
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
}

func applyProviderDefaults(p *ProviderSettings, model string, delay time.Duration) {
	if p.Model == "" {
		p.Model = model
	}
	if p.RetryAttempts <= 0 {
		p.RetryAttempts = DefaultRetryAttempts
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = delay
	}
}

func (c *Config) normalizeCases() error {
	if len(c.Cases) == 0 {
		return nil
	}
	norm := make(map[string]int, len(c.Cases))
	for id, target := range c.Cases {
		spec, err := cases.Lookup(id)
		if err != nil {
			return fmt.Errorf("%w: cases: %w", ErrInvalidConfig, err)
		}
		if _, dup := norm[spec.ID]; dup {
			return fmt.Errorf("%w: cases: %q listed twice", ErrInvalidConfig, spec.ID)
		}
		norm[spec.ID] = target
	}
	c.Cases = norm
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateConfig runs the struct tags, then the rules tags cannot express.
func validateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("%w: %s failed %q (value %v)", ErrInvalidConfig,
				first.Namespace(), first.Tag(), first.Value())
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	for _, role := range []struct {
		name string
		p    ProviderSettings
	}{
		{providers.RoleGenerator, cfg.Providers.Generator},
		{providers.RoleJudge, cfg.Providers.Judge},
	} {
		if role.p.ProviderConfig().Provider == "" {
			return fmt.Errorf("%w: providers.%s: cannot infer provider from model %q; set provider",
				ErrInvalidConfig, role.name, role.p.Model)
		}
		if role.p.Timeout < 0 || role.p.RetryDelay < 0 || role.p.RetryJitter < 0 {
			return fmt.Errorf("%w: providers.%s: durations must not be negative", ErrInvalidConfig, role.name)
		}
	}
	return nil
}
