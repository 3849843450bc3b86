// Package config defines the Zeke application configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Zeke configuration.
type Config struct {
	Providers    []ProviderConfig   `json:"providers" yaml:"providers"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
	Cache        CacheConfig        `json:"cache" yaml:"cache"`
	DataDir      string             `json:"data_dir" yaml:"data_dir"`
	LogLevel     string             `json:"log_level" yaml:"log_level"`
}

// ProviderConfig configures one backend client.
type ProviderConfig struct {
	Provider string `json:"provider" yaml:"provider"` // "openai", "claude", "ghostllm", "ollama", "deepseek"
	APIKey   string `json:"api_key,omitempty" yaml:"api_key"`
	Model    string `json:"model,omitempty" yaml:"model"`
	BaseURL  string `json:"base_url,omitempty" yaml:"base_url"`
}

// OrchestratorConfig controls worker dispatch and cleanup.
type OrchestratorConfig struct {
	// Workers sizes the worker pool. Zero means spawn-per-task.
	Workers int `json:"workers" yaml:"workers"`

	// CleanupAfterSeconds is how long terminal tasks linger before the
	// cleanup sweep purges them.
	CleanupAfterSeconds int `json:"cleanup_after_seconds" yaml:"cleanup_after_seconds"`

	// CleanupSchedule is the cron spec for the janitor.
	CleanupSchedule string `json:"cleanup_schedule" yaml:"cleanup_schedule"`
}

// CacheConfig controls the two-tier response cache.
type CacheConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	TTLSeconds int    `json:"ttl_seconds" yaml:"ttl_seconds"`
	MaxEntries int    `json:"max_entries" yaml:"max_entries"`
	Path       string `json:"path,omitempty" yaml:"path"` // durable tier; empty = memory only
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:  "./data",
		LogLevel: "info",
		Orchestrator: OrchestratorConfig{
			Workers:             8,
			CleanupAfterSeconds: 300,
			CleanupSchedule:     "@every 1m",
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTLSeconds: 3600,
			MaxEntries: 1000,
			Path:       "./data/response_cache.db",
		},
		Providers: []ProviderConfig{
			{Provider: "ollama"},
		},
	}
}

// Load reads a YAML config file and returns the parsed configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	seen := make(map[string]bool)
	for _, p := range c.Providers {
		if p.Provider == "" {
			return fmt.Errorf("provider entry missing provider name")
		}
		if seen[p.Provider] {
			return fmt.Errorf("duplicate provider %q", p.Provider)
		}
		seen[p.Provider] = true
	}
	if c.Orchestrator.Workers < 0 {
		return fmt.Errorf("orchestrator workers must not be negative")
	}
	if c.Cache.Enabled {
		if c.Cache.TTLSeconds <= 0 {
			return fmt.Errorf("cache ttl_seconds must be positive")
		}
		if c.Cache.MaxEntries <= 0 {
			return fmt.Errorf("cache max_entries must be positive")
		}
	}
	return nil
}
