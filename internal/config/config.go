package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Provider names accepted in [analysis].
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Session backend names accepted in [session].
const (
	SessionBackendMemory = "memory"
	SessionBackendSQLite = "sqlite"
)

// Config holds all application configuration
type Config struct {
	Version  int            `toml:"version"`
	Query    QueryConfig    `toml:"query"`
	Sources  SourcesConfig  `toml:"sources"`
	Analysis AnalysisConfig `toml:"analysis"`
	Session  SessionConfig  `toml:"session"`
}

type QueryConfig struct {
	DefaultWindowDays int `toml:"default_window_days"`
	MaxConversations  int `toml:"max_conversations"`
	CompressionBudget int `toml:"compression_budget"` // runes of prompt corpus text
	ExcerptLength     int `toml:"excerpt_length"`     // runes kept per compressed middle message
}

type SourcesConfig struct {
	PreferredOrder []string     `toml:"preferred_order"` // e.g. ["stream", "rest"]
	RetryBackoffMS int          `toml:"retry_backoff_ms"`
	Rest           RestConfig   `toml:"rest"`
	Stream         StreamConfig `toml:"stream"`
}

type RestConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	PageSize       int    `toml:"page_size"`
	MaxConcurrency int    `toml:"max_concurrency"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type StreamConfig struct {
	URL               string `toml:"url"`
	APIKey            string `toml:"api_key"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	KeepaliveSchedule string `toml:"keepalive_schedule"` // cron spec for connection health checks
}

type AnalysisConfig struct {
	LLMProvider     string  `toml:"llm_provider"`
	APIKey          string  `toml:"api_key"`
	Model           string  `toml:"model"`
	MaxTokens       int     `toml:"max_tokens"`
	TimeoutSeconds  int     `toml:"timeout_seconds"`
	InputCostPer1K  float64 `toml:"input_cost_per_1k"`
	OutputCostPer1K float64 `toml:"output_cost_per_1k"`
}

type SessionConfig struct {
	Backend string `toml:"backend"` // "memory" or "sqlite"
	DBPath  string `toml:"db_path"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version: 1,
		Query: QueryConfig{
			DefaultWindowDays: 7,
			MaxConversations:  200,
			CompressionBudget: 48000,
			ExcerptLength:     240,
		},
		Sources: SourcesConfig{
			PreferredOrder: []string{"stream", "rest"},
			RetryBackoffMS: 250,
			Rest: RestConfig{
				PageSize:       50,
				MaxConcurrency: 4,
				TimeoutSeconds: 15,
			},
			Stream: StreamConfig{
				TimeoutSeconds:    10,
				KeepaliveSchedule: "*/5 * * * *",
			},
		},
		Analysis: AnalysisConfig{
			LLMProvider:     ProviderAnthropic,
			Model:           "claude-sonnet-4-20250514",
			MaxTokens:       8192,
			TimeoutSeconds:  120,
			InputCostPer1K:  0.003,
			OutputCostPer1K: 0.015,
		},
		Session: SessionConfig{
			Backend: SessionBackendMemory,
		},
	}
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "convolens"), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DefaultDBPath returns the default location of the session database.
func DefaultDBPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sessions.db"), nil
}

// Load reads config from disk
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes config to disk
func (c *Config) Save() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	path, err := ConfigPath()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}
