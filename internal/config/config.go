package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	BackendNone      = "none"
	BackendOllama    = "ollama"
	BackendAnthropic = "anthropic"
	BackendGrok      = "grok"
	BackendOpenAI    = "openai"
	BackendGemini    = "gemini"
)

// Backends lists every accepted backend name
var Backends = []string{BackendNone, BackendOllama, BackendAnthropic, BackendGrok, BackendOpenAI, BackendGemini}

// Config holds application configuration
type Config struct {
	Backend   string `toml:"backend"`
	Model     string `toml:"model"` // empty selects the backend default
	OllamaURL string `toml:"ollama_url"`
	Debug     bool   `toml:"debug"`

	// API keys are normally supplied through the environment or .env
	AnthropicAPIKey string `toml:"anthropic_api_key"`
	OpenAIAPIKey    string `toml:"openai_api_key"`
	GrokAPIKey      string `toml:"grok_api_key"`
	GeminiAPIKey    string `toml:"gemini_api_key"`

	LLMTimeoutSeconds int     `toml:"llm_timeout_seconds"`
	MaxTokens         int     `toml:"max_tokens"`
	MaxRetries        int     `toml:"max_retries"`
	CacheSize         int     `toml:"cache_size"`
	CacheTTLMinutes   int     `toml:"cache_ttl_minutes"`
	MinAnswers        int     `toml:"min_answers"`
	TargetConfidence  float64 `toml:"target_confidence"`
	MaxQuestions      int     `toml:"max_questions"`
	Offsets           []int   `toml:"offsets"`

	DBPath          string `toml:"db_path"` // empty keeps sessions in memory
	SessionTTLHours int    `toml:"session_ttl_hours"`
	LogDir          string `toml:"log_dir"`

	ChartDir         string   `toml:"chart_dir"`
	ChartCacheSize   int      `toml:"chart_cache_size"`
	EphemerisURL     string   `toml:"ephemeris_url"`
	EphemerisCommand []string `toml:"ephemeris_command"`
	ProgressURL      string   `toml:"progress_url"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Backend:           BackendOllama,
		OllamaURL:         "http://localhost:11434",
		LLMTimeoutSeconds: 12,
		MaxTokens:         1024,
		MaxRetries:        3,
		CacheSize:         256,
		CacheTTLMinutes:   60,
		MinAnswers:        3,
		TargetConfidence:  85,
		MaxQuestions:      20,
		Offsets:           []int{0, -5, 5, -15, 15, -30, 30, -60, 60, -90, 90, -120, 120},
		SessionTTLHours:   72,
		LogDir:            "logs",
		ChartDir:          "charts",
		ChartCacheSize:    128,
	}
}

// DefaultPath returns <user config dir>/rectify/config.toml
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "rectify.toml"
	}
	return filepath.Join(dir, "rectify", "config.toml")
}

// Load builds the configuration from defaults, a .env file, the TOML file at
// path and environment overrides, in that order. An empty path uses
// DefaultPath and tolerates its absence.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || explicit {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setString(&c.Backend, "RECTIFY_BACKEND")
	setString(&c.Model, "RECTIFY_MODEL")
	setString(&c.DBPath, "RECTIFY_DB")
	setString(&c.LogDir, "RECTIFY_LOG_DIR")
	setString(&c.ChartDir, "RECTIFY_CHART_DIR")
	setString(&c.EphemerisURL, "RECTIFY_EPHEMERIS_URL")
	setString(&c.ProgressURL, "RECTIFY_PROGRESS_URL")
	setString(&c.OllamaURL, "OLLAMA_HOST")
	setString(&c.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setString(&c.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&c.GrokAPIKey, "GROK_API_KEY")
	setString(&c.GeminiAPIKey, "GEMINI_API_KEY")

	if v, ok := os.LookupEnv("RECTIFY_DEBUG"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Debug = b
		}
	}
	if v, ok := os.LookupEnv("RECTIFY_EPHEMERIS_COMMAND"); ok && strings.TrimSpace(v) != "" {
		c.EphemerisCommand = strings.Fields(v)
	}
}

// Validate rejects settings the engine cannot run with
func (c Config) Validate() error {
	known := false
	for _, b := range Backends {
		if c.Backend == b {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown backend: %s", c.Backend)
	}
	if c.LLMTimeoutSeconds <= 0 {
		return fmt.Errorf("llm_timeout_seconds must be positive")
	}
	if c.MaxRetries < 0 || c.MaxRetries > 3 {
		return fmt.Errorf("max_retries must be between 0 and 3")
	}
	if c.MinAnswers < 1 {
		return fmt.Errorf("min_answers must be at least 1")
	}
	if c.TargetConfidence <= 0 || c.TargetConfidence > 100 {
		return fmt.Errorf("target_confidence must be in (0, 100]")
	}
	if len(c.Offsets) == 0 {
		return fmt.Errorf("offsets must not be empty")
	}
	return nil
}

// LLMTimeout returns the per-call generation deadline
func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// CacheTTL returns the response cache lifetime
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// SessionTTL returns how long idle sessions are kept
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// APIKey returns the key for the configured backend
func (c Config) APIKey() string {
	switch c.Backend {
	case BackendAnthropic:
		return c.AnthropicAPIKey
	case BackendOpenAI:
		return c.OpenAIAPIKey
	case BackendGrok:
		return c.GrokAPIKey
	case BackendGemini:
		return c.GeminiAPIKey
	}
	return ""
}
