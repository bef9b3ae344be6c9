package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ServerConfig describes one MCP server. Exactly one of Command or URL is set.
type ServerConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     []string          `yaml:"env,omitempty"`
	URL     string            `yaml:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout time.Duration     `yaml:"timeout,omitempty"`
}

// DefaultStartTimeout bounds the handshake when ServerConfig.Timeout is unset.
const DefaultStartTimeout = 30 * time.Second

// Connect creates the client for cfg and starts it.
func Connect(ctx context.Context, logger zerolog.Logger, cfg ServerConfig) (Client, error) {
	var (
		c   Client
		err error
	)
	switch {
	case cfg.URL != "" && cfg.Command != "":
		return nil, fmt.Errorf("mcp server %q: set either command or url, not both", cfg.Name)
	case cfg.URL != "":
		c, err = NewHTTPClient(logger, cfg.URL, cfg.Headers)
	case cfg.Command != "":
		c, err = NewStdioClient(logger, cfg.Command, cfg.Args, cfg.Env)
	default:
		return nil, fmt.Errorf("mcp server %q: command or url is required", cfg.Name)
	}
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	startCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := c.Start(startCtx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("mcp server %q: %w", cfg.Name, err)
	}
	return c, nil
}
