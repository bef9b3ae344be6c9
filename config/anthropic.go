package config

import (
	"os"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

// AnthropicBackend returns the Anthropic backend config with environment overrides applied.
func (c *Config) AnthropicBackend() llm.BackendConfig {
	out := llm.BackendConfig{
		APIKey:  c.Anthropic.APIKey,
		BaseURL: c.Anthropic.BaseURL,
		Model:   c.Anthropic.Model,
		Timeout: c.Anthropic.Timeout,
		Headers: c.Anthropic.Headers,
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		out.APIKey = v
	}
	return out
}
