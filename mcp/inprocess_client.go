package mcp

import (
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// InProcessClient connects to an MCP server running in the same process.
type InProcessClient struct {
	session
}

func NewInProcessClient(logger zerolog.Logger, srv *server.MCPServer) (*InProcessClient, error) {
	logger = logger.With().Str("component", "inprocess_mcp_client").Logger()
	c, err := client.NewInProcessClient(srv)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-process MCP client: %w", err)
	}
	return &InProcessClient{session: session{client: c, target: "in-process", logger: logger}}, nil
}
