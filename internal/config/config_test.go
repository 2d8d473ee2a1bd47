package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 3, cfg.EvalMinScore)
	assert.Equal(t, 5, cfg.SearchTopK)
	assert.Equal(t, 2048, cfg.SnippetByteBudget)
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().MaxAttempts, cfg.MaxAttempts)
	assert.NotEmpty(t, cfg.TriggerPhrases)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	yamlContent := `
max_attempts: 5
eval_min_score: 4
trigger_phrases:
  - "need assistance"
deadlines:
  search_deadline_ms: 4000
  overall_run_deadline_ms: 60000
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 4, cfg.EvalMinScore)
	assert.Equal(t, []string{"need assistance"}, cfg.TriggerPhrases)
	assert.Equal(t, 4000, cfg.Deadlines.SearchMS)
	assert.Equal(t, 60000, cfg.Deadlines.OverallRunMS)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("max_attempts: 5\n"), 0o644))

	t.Setenv("REPASSIST_MAX_ATTEMPTS", "7")
	t.Setenv("REPASSIST_DEADLINES__SEARCH_DEADLINE_MS", "2500")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxAttempts)
	assert.Equal(t, 2500, cfg.Deadlines.SearchMS)
}

func TestValidate_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max attempts", func(c *Config) { c.MaxAttempts = 0 }},
		{"negative eval score", func(c *Config) { c.EvalMinScore = -1 }},
		{"zero top k", func(c *Config) { c.SearchTopK = 0 }},
		{"blank trigger phrase", func(c *Config) { c.TriggerPhrases = []string{"  "} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNormalizedTriggerPhrases_LowercasesAndTrims(t *testing.T) {
	cfg := Default()
	cfg.TriggerPhrases = []string{" Need Help ", "STUCK"}
	assert.Equal(t, []string{"need help", "stuck"}, cfg.NormalizedTriggerPhrases())
}

func TestDeadlineConfig_StageFallsBackToZero(t *testing.T) {
	d := DeadlineConfig{StageMS: map[string]int{"searching": 3000}}
	assert.Equal(t, 3000, int(d.Stage("searching").Milliseconds()))
	assert.Equal(t, time.Duration(0), d.Stage("unknown"))
}
