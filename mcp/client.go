// Package mcp connects to Model Context Protocol servers so their tools can
// be offered to a model alongside native functions.
package mcp

import (
	"context"
)

// ClientName is reported to servers during initialization.
const ClientName = "llmrt"

// ClientVersion is reported to servers during initialization.
const ClientVersion = "1.0.0"

// ToolDefinition is a tool advertised by an MCP server.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Client is the interface for interacting with MCP servers.
type Client interface {
	// Start initializes the connection and performs the protocol handshake.
	Start(ctx context.Context) error

	// ListTools returns all tools available from the server.
	ListTools(ctx context.Context) ([]ToolDefinition, error)

	// InvokeTool calls a tool by its original (server-side) name. The result
	// carries "text" (string or []string) and, on tool failure, "error" and
	// "error_message".
	InvokeTool(ctx context.Context, name string, input map[string]any) (map[string]any, error)

	// Close closes the connection to the server.
	Close() error
}
