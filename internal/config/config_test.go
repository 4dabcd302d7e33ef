package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 12*time.Second, cfg.LLMTimeout())
	assert.Equal(t, 3, cfg.MinAnswers)
	assert.Len(t, cfg.Offsets, 13)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
backend = "anthropic"
model = "claude-test"
min_answers = 5
offsets = [0, -10, 10]
ephemeris_command = ["python3", "ephemeris.py"]
`)
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("RECTIFY_DB", "/tmp/rectify.db")
	t.Setenv("RECTIFY_DEBUG", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendAnthropic, cfg.Backend)
	assert.Equal(t, "claude-test", cfg.Model)
	assert.Equal(t, 5, cfg.MinAnswers)
	assert.Equal(t, []int{0, -10, 10}, cfg.Offsets)
	assert.Equal(t, []string{"python3", "ephemeris.py"}, cfg.EphemerisCommand)
	assert.Equal(t, "sk-test", cfg.APIKey())
	assert.Equal(t, "/tmp/rectify.db", cfg.DBPath)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 12, cfg.LLMTimeoutSeconds)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `backend = "openai"`)
	t.Setenv("RECTIFY_BACKEND", "gemini")
	t.Setenv("RECTIFY_EPHEMERIS_COMMAND", "swe-server --stdio")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendGemini, cfg.Backend)
	assert.Equal(t, []string{"swe-server", "--stdio"}, cfg.EphemerisCommand)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `backend = [`))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `backend = "palm"`))
	assert.ErrorContains(t, err, "unknown backend")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"timeout", func(c *Config) { c.LLMTimeoutSeconds = 0 }},
		{"retries", func(c *Config) { c.MaxRetries = 4 }},
		{"min answers", func(c *Config) { c.MinAnswers = 0 }},
		{"target", func(c *Config) { c.TargetConfidence = 120 }},
		{"offsets", func(c *Config) { c.Offsets = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
