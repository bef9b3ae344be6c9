package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/aschepis/backscratcher/llmrt/llm"
	"github.com/aschepis/backscratcher/llmrt/mcp"
)

// AnthropicConfig represents configuration for the Anthropic provider.
type AnthropicConfig struct {
	APIKey  string            `yaml:"api_key,omitempty"`
	BaseURL string            `yaml:"base_url,omitempty"` // Custom base URL (default: official API)
	Model   string            `yaml:"model,omitempty"`
	Timeout time.Duration     `yaml:"timeout,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// OllamaConfig represents configuration for the Ollama provider.
type OllamaConfig struct {
	Host    string        `yaml:"host,omitempty"` // Ollama host (default: "http://localhost:11434")
	Model   string        `yaml:"model,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// OpenAIConfig represents configuration for the OpenAI provider.
type OpenAIConfig struct {
	APIKey       string            `yaml:"api_key,omitempty"`
	BaseURL      string            `yaml:"base_url,omitempty"` // Custom base URL (default: official API)
	Model        string            `yaml:"model,omitempty"`
	Organization string            `yaml:"organization,omitempty"`
	Timeout      time.Duration     `yaml:"timeout,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty"`
}

// RetryConfig selects a retry preset and optionally overrides its fields.
type RetryConfig struct {
	Preset       string        `yaml:"preset,omitempty"` // default, aggressive, conservative or none
	MaxRetries   int           `yaml:"max_retries,omitempty"`
	InitialDelay time.Duration `yaml:"initial_delay,omitempty"`
	MaxDelay     time.Duration `yaml:"max_delay,omitempty"`
}

// RateLimitConfig is a token bucket for one provider.
type RateLimitConfig struct {
	Capacity       int           `yaml:"capacity,omitempty"`
	RefillInterval time.Duration `yaml:"refill_interval,omitempty"`
}

// ToolCacheConfig configures the tool result cache.
type ToolCacheConfig struct {
	Strategy    string        `yaml:"strategy,omitempty"` // always-full, token-budget or smart-summarization
	TokenBudget int           `yaml:"token_budget,omitempty"`
	TTL         time.Duration `yaml:"ttl,omitempty"`

	// SummaryProvider, when set, names the provider that writes summaries
	// of large results. Empty keeps extractive summaries.
	SummaryProvider string `yaml:"summary_provider,omitempty"`
	SummaryModel    string `yaml:"summary_model,omitempty"`
}

// CallLogConfig configures call logging.
type CallLogConfig struct {
	Disabled      bool   `yaml:"disabled,omitempty"` // Disable call logging (enabled by default)
	DBPath        string `yaml:"db_path,omitempty"`  // Empty keeps logs in memory
	RetentionDays int    `yaml:"retention_days,omitempty"`
	BufferSize    int    `yaml:"buffer_size,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	File   string `yaml:"file,omitempty"`
	Pretty bool   `yaml:"pretty,omitempty"`
}

// Config is the runtime configuration.
type Config struct {
	ActiveProvider string `yaml:"active_provider,omitempty"`

	// LLM provider configurations
	Anthropic AnthropicConfig `yaml:"anthropic,omitempty"`
	Ollama    OllamaConfig    `yaml:"ollama,omitempty"`
	OpenAI    OpenAIConfig    `yaml:"openai,omitempty"`

	Retry      RetryConfig                  `yaml:"retry,omitempty"`
	RateLimits map[string]RateLimitConfig   `yaml:"rate_limits,omitempty"`
	ToolCache  ToolCacheConfig              `yaml:"tool_cache,omitempty"`
	CallLog    CallLogConfig                `yaml:"call_log,omitempty"`
	MCPServers map[string]*mcp.ServerConfig `yaml:"mcp_servers,omitempty"`

	// Workspace, when set, exposes read-only file functions rooted there.
	Workspace   string    `yaml:"workspace,omitempty"`
	Workers     int       `yaml:"workers,omitempty"`
	Maintenance string    `yaml:"maintenance,omitempty"` // cron spec for cache and log cleanup
	Log         LogConfig `yaml:"log,omitempty"`
}

// Defaults returns the configuration used when no file overrides it.
func Defaults() Config {
	return Config{
		ActiveProvider: llm.ProviderOpenAI,
		Ollama: OllamaConfig{
			Host: "http://localhost:11434",
		},
		Retry: RetryConfig{Preset: "default"},
		ToolCache: ToolCacheConfig{
			Strategy: "smart-summarization",
			TTL:      time.Hour,
		},
		CallLog: CallLogConfig{
			DBPath:        "~/.llmrt/calls.db",
			RetentionDays: 30,
			BufferSize:    256,
		},
		RateLimits:  make(map[string]RateLimitConfig),
		MCPServers:  make(map[string]*mcp.ServerConfig),
		Workers:     4,
		Maintenance: "@every 10m",
	}
}

// GetConfigPath returns the default config file path.
// Can be overridden via LLMRT_CONFIG_PATH environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv("LLMRT_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.llmrt/config.yaml"
	}
	return filepath.Join(homeDir, ".llmrt", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// LoadDotEnv loads .env from the working directory into the process
// environment. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load reads the config file at path and merges it over Defaults.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	expandedPath := expandPath(path)
	data, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
	default:
		if err := merge(&cfg, data); err != nil {
			return nil, err
		}
	}

	if cfg.RateLimits == nil {
		cfg.RateLimits = make(map[string]RateLimitConfig)
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]*mcp.ServerConfig)
	}
	for name, srv := range cfg.MCPServers {
		if srv.Name == "" {
			srv.Name = name
		}
	}
	if cfg.CallLog.DBPath != "" && cfg.CallLog.DBPath != ":memory:" {
		cfg.CallLog.DBPath = expandPath(cfg.CallLog.DBPath)
	}
	cfg.Workspace = expandPath(cfg.Workspace)
	cfg.Log.File = expandPath(cfg.Log.File)
	return &cfg, nil
}

func merge(dst *Config, data []byte) error {
	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := mergo.Merge(dst, fileCfg, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// Save writes cfg to path as YAML.
func Save(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
