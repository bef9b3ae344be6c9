package config

import (
	"os"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

// OpenAIBackend returns the OpenAI backend config with environment overrides applied.
func (c *Config) OpenAIBackend() llm.BackendConfig {
	out := llm.BackendConfig{
		APIKey:       c.OpenAI.APIKey,
		BaseURL:      c.OpenAI.BaseURL,
		Model:        c.OpenAI.Model,
		Organization: c.OpenAI.Organization,
		Timeout:      c.OpenAI.Timeout,
		Headers:      c.OpenAI.Headers,
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		out.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		out.BaseURL = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		out.Model = v
	}
	if v := os.Getenv("OPENAI_ORG_ID"); v != "" {
		out.Organization = v
	}
	return out
}
