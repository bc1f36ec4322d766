// ABOUTME: Configuration loading and parsing for coven-chat
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-chat configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Resume  ResumeConfig  `yaml:"resume"`
	Backlog BacklogConfig `yaml:"backlog"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds backend endpoint configuration
type ServerConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// SessionConfig holds session cache and streaming timing configuration
type SessionConfig struct {
	MaxCached      int           `yaml:"max_cached"`
	DedupWindow    time.Duration `yaml:"-"`
	ToolClearGrace time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	DedupWindowRaw    string `yaml:"dedup_window"`
	ToolClearGraceRaw string `yaml:"tool_clear_grace"`
}

// ResumeConfig holds interrupted-stream recovery configuration
type ResumeConfig struct {
	Freshness    time.Duration `yaml:"-"`
	PollInterval time.Duration `yaml:"-"`
	MaxAttempts  int           `yaml:"max_attempts"`

	FreshnessRaw    string `yaml:"freshness"`
	PollIntervalRaw string `yaml:"poll_interval"`
}

// BacklogConfig holds the local snapshot database configuration
type BacklogConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the config file at the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a config with every tunable at its default value. The
// server section still needs filling in before use.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if c.Resume.MaxAttempts <= 0 {
		return fmt.Errorf("resume.max_attempts must be positive")
	}
	if c.Session.MaxCached <= 0 {
		return fmt.Errorf("session.max_cached must be positive")
	}
	return nil
}

// applyDefaults fills zero-valued tunables with their defaults
func (c *Config) applyDefaults() {
	if c.Session.MaxCached == 0 {
		c.Session.MaxCached = 32
	}
	if c.Session.DedupWindow == 0 {
		c.Session.DedupWindow = time.Second
	}
	if c.Session.ToolClearGrace == 0 {
		c.Session.ToolClearGrace = 1500 * time.Millisecond
	}
	if c.Resume.Freshness == 0 {
		c.Resume.Freshness = 30 * time.Second
	}
	if c.Resume.PollInterval == 0 {
		c.Resume.PollInterval = 2 * time.Second
	}
	if c.Resume.MaxAttempts == 0 {
		c.Resume.MaxAttempts = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Session.DedupWindowRaw != "" {
		cfg.Session.DedupWindow, err = time.ParseDuration(cfg.Session.DedupWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing dedup_window %q: %w", cfg.Session.DedupWindowRaw, err)
		}
	}

	if cfg.Session.ToolClearGraceRaw != "" {
		cfg.Session.ToolClearGrace, err = time.ParseDuration(cfg.Session.ToolClearGraceRaw)
		if err != nil {
			return fmt.Errorf("parsing tool_clear_grace %q: %w", cfg.Session.ToolClearGraceRaw, err)
		}
	}

	if cfg.Resume.FreshnessRaw != "" {
		cfg.Resume.Freshness, err = time.ParseDuration(cfg.Resume.FreshnessRaw)
		if err != nil {
			return fmt.Errorf("parsing freshness %q: %w", cfg.Resume.FreshnessRaw, err)
		}
	}

	if cfg.Resume.PollIntervalRaw != "" {
		cfg.Resume.PollInterval, err = time.ParseDuration(cfg.Resume.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", cfg.Resume.PollIntervalRaw, err)
		}
	}

	return nil
}
