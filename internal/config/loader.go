package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix is the environment variable prefix recognized by Load, e.g.
// REPASSIST_MAX_ATTEMPTS or REPASSIST_DEADLINES__SEARCH_DEADLINE_MS.
const envPrefix = "REPASSIST_"

// Load builds a Config with precedence environment > config file >
// defaults. configPath may be empty to skip file loading.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultsMap(Default())), nil); err != nil {
		return nil, fmt.Errorf("config: loading defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: loading file %s: %w", configPath, err)
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	v := validator.New()
	if err := v.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}
	return &cfg, nil
}

// defaultsMap flattens a *Config's defaults into the plain map confmap.Provider
// expects, keyed the same way as the koanf struct tags above.
func defaultsMap(cfg *Config) map[string]interface{} {
	return map[string]interface{}{
		"max_attempts":        cfg.MaxAttempts,
		"eval_min_score":      cfg.EvalMinScore,
		"search_top_k":        cfg.SearchTopK,
		"snippet_byte_budget": cfg.SnippetByteBudget,
		"trigger_phrases":     cfg.TriggerPhrases,
		"model_tag_generator": cfg.ModelTagGenerator,
		"model_tag_evaluator": cfg.ModelTagEvaluator,
		"deadlines": map[string]interface{}{
			"search_deadline_ms":      cfg.Deadlines.SearchMS,
			"overall_run_deadline_ms": cfg.Deadlines.OverallRunMS,
			"stage_deadlines_ms":      cfg.Deadlines.StageMS,
		},
	}
}
