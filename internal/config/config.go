// ABOUTME: Configuration loading and parsing for talkto-hub
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete talkto-hub configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Invoke    InvokeConfig    `yaml:"invoke"`
	Providers ProvidersConfig `yaml:"providers"`
	Agents    AgentsConfig    `yaml:"agents"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// InvokeConfig holds invocation timing and prompt-context configuration
type InvokeConfig struct {
	PromptTimeout        time.Duration `yaml:"-"`
	GhostRefreshInterval time.Duration `yaml:"-"`
	ContextWindow        int           `yaml:"context_window"`

	// Raw string values for YAML unmarshaling
	PromptTimeoutRaw        string `yaml:"prompt_timeout"`
	GhostRefreshIntervalRaw string `yaml:"ghost_refresh_interval"`
}

// ProvidersConfig holds provider binary locations
type ProvidersConfig struct {
	ClaudeBin string `yaml:"claude_bin"`
	CodexBin  string `yaml:"codex_bin"`
}

// AgentsConfig holds the optional agent roster seed file
type AgentsConfig struct {
	File string `yaml:"file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when fields are absent from the config file.
const (
	DefaultHTTPAddr             = "localhost:8090"
	DefaultPromptTimeout        = 3 * time.Minute
	DefaultGhostRefreshInterval = 30 * time.Second
	DefaultContextWindow        = 5
	DefaultClaudeBin            = "claude"
	DefaultCodexBin             = "codex"
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
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

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in zero-valued fields with their defaults.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Invoke.PromptTimeout == 0 {
		c.Invoke.PromptTimeout = DefaultPromptTimeout
	}
	if c.Invoke.GhostRefreshInterval == 0 {
		c.Invoke.GhostRefreshInterval = DefaultGhostRefreshInterval
	}
	if c.Invoke.ContextWindow == 0 {
		c.Invoke.ContextWindow = DefaultContextWindow
	}
	if c.Providers.ClaudeBin == "" {
		c.Providers.ClaudeBin = DefaultClaudeBin
	}
	if c.Providers.CodexBin == "" {
		c.Providers.CodexBin = DefaultCodexBin
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Invoke.ContextWindow < 1 {
		return fmt.Errorf("invoke.context_window must be at least 1")
	}
	if c.Invoke.PromptTimeout < time.Second {
		return fmt.Errorf("invoke.prompt_timeout must be at least 1s")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Invoke.PromptTimeoutRaw != "" {
		cfg.Invoke.PromptTimeout, err = time.ParseDuration(cfg.Invoke.PromptTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing prompt_timeout %q: %w", cfg.Invoke.PromptTimeoutRaw, err)
		}
	}

	if cfg.Invoke.GhostRefreshIntervalRaw != "" {
		cfg.Invoke.GhostRefreshInterval, err = time.ParseDuration(cfg.Invoke.GhostRefreshIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing ghost_refresh_interval %q: %w", cfg.Invoke.GhostRefreshIntervalRaw, err)
		}
	}

	return nil
}
