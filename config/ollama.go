package config

import (
	"os"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

// OllamaBackend returns the Ollama backend config with environment overrides applied.
func (c *Config) OllamaBackend() llm.BackendConfig {
	out := llm.BackendConfig{
		BaseURL: c.Ollama.Host,
		Model:   c.Ollama.Model,
		Timeout: c.Ollama.Timeout,
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		out.BaseURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		out.Model = v
	}
	if out.BaseURL == "" {
		out.BaseURL = "http://localhost:11434"
	}
	return out
}
