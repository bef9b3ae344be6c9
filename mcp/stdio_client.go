package mcp

import (
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/rs/zerolog"
)

// StdioClient runs an MCP server as a subprocess and talks to it over stdio.
type StdioClient struct {
	session
	command string
	args    []string
}

// NewStdioClient spawns command. A command containing spaces is split and
// its trailing words are prepended to args.
func NewStdioClient(logger zerolog.Logger, command string, args, env []string) (*StdioClient, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("command is required for STDIO MCP client")
	}
	logger = logger.With().Str("component", "stdio_mcp_client").Logger()

	parts := strings.Fields(command)
	cmd := parts[0]
	cmdArgs := append(append([]string(nil), parts[1:]...), args...)

	logger.Info().Str("command", cmd).Strs("args", cmdArgs).Msg("Creating STDIO MCP client")
	c, err := client.NewStdioMCPClient(cmd, env, cmdArgs...)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create underlying client")
		return nil, fmt.Errorf("failed to create stdio MCP client: %w", err)
	}

	return &StdioClient{
		session: session{client: c, target: cmd, logger: logger},
		command: cmd,
		args:    cmdArgs,
	}, nil
}
