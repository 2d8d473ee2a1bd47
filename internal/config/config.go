// Package config loads and validates the orchestrator's runtime
// configuration: retry/evaluation thresholds, per-stage deadlines, trigger
// phrases, and the logical model tags used by C2/C4/C5.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete orchestrator configuration (spec.md §6,
// "Configuration (recognized options)").
type Config struct {
	MaxAttempts      int      `yaml:"max_attempts" koanf:"max_attempts" validate:"gte=1"`
	EvalMinScore     int      `yaml:"eval_min_score" koanf:"eval_min_score" validate:"gte=0"`
	SearchTopK       int      `yaml:"search_top_k" koanf:"search_top_k" validate:"gte=1"`
	SnippetByteBudget int     `yaml:"snippet_byte_budget" koanf:"snippet_byte_budget" validate:"gte=0"`
	TriggerPhrases   []string `yaml:"trigger_phrases" koanf:"trigger_phrases"`
	ModelTagGenerator string  `yaml:"model_tag_generator" koanf:"model_tag_generator"`
	ModelTagEvaluator string  `yaml:"model_tag_evaluator" koanf:"model_tag_evaluator"`

	Deadlines DeadlineConfig `yaml:"deadlines" koanf:"deadlines"`
}

// DeadlineConfig carries every deadline named by spec.md §6 as
// millisecond durations so they can be loaded from YAML/env without a
// custom duration unmarshaler.
type DeadlineConfig struct {
	SearchMS      int            `yaml:"search_deadline_ms" koanf:"search_deadline_ms" validate:"gte=0"`
	OverallRunMS  int            `yaml:"overall_run_deadline_ms" koanf:"overall_run_deadline_ms" validate:"gte=0"`
	StageMS       map[string]int `yaml:"stage_deadlines_ms" koanf:"stage_deadlines_ms"`
}

// Search returns the search deadline as a time.Duration. It bounds the
// whole fan-out: all adapters share this one deadline.
func (d DeadlineConfig) Search() time.Duration {
	return time.Duration(d.SearchMS) * time.Millisecond
}

// OverallRun returns the whole-run deadline as a time.Duration.
func (d DeadlineConfig) OverallRun() time.Duration {
	return time.Duration(d.OverallRunMS) * time.Millisecond
}

// Stage returns the configured deadline for the named stage, or zero if
// unset (callers treat zero as "no stage-specific deadline").
func (d DeadlineConfig) Stage(name string) time.Duration {
	ms, ok := d.StageMS[name]
	if !ok {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// Default returns the configuration baseline named throughout spec.md §6.
func Default() *Config {
	return &Config{
		MaxAttempts:       3,
		EvalMinScore:      3,
		SearchTopK:        5,
		SnippetByteBudget: 2048,
		TriggerPhrases: []string{
			"let me take a look", "let me check", "i'll look into", "checking that for you",
		},
		ModelTagGenerator: "default",
		ModelTagEvaluator: "default",
		Deadlines: DeadlineConfig{
			SearchMS:     10000,
			OverallRunMS: 90000,
			StageMS:      map[string]int{},
		},
	}
}

// Validate applies invariants not expressible via struct tags.
func (c *Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.EvalMinScore < 0 {
		return fmt.Errorf("eval_min_score must be non-negative, got %d", c.EvalMinScore)
	}
	if c.SearchTopK < 1 {
		return fmt.Errorf("search_top_k must be at least 1, got %d", c.SearchTopK)
	}
	if c.Deadlines.SearchMS < 0 || c.Deadlines.OverallRunMS < 0 {
		return fmt.Errorf("deadlines must be non-negative")
	}
	for _, phrase := range c.TriggerPhrases {
		if strings.TrimSpace(phrase) == "" {
			return fmt.Errorf("trigger_phrases must not contain blank entries")
		}
	}
	return nil
}

// NormalizedTriggerPhrases returns trigger phrases lower-cased for
// case-insensitive matching (spec.md §6: "trigger_phrases ... case-insensitive").
func (c *Config) NormalizedTriggerPhrases() []string {
	out := make([]string, len(c.TriggerPhrases))
	for i, p := range c.TriggerPhrases {
		out[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return out
}
