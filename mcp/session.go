package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// session holds what every transport shares once an mcp-go client exists.
type session struct {
	client *client.Client
	target string
	logger zerolog.Logger
}

// protocolVersions are tried in order during the handshake.
var protocolVersions = []string{
	mcp.LATEST_PROTOCOL_VERSION,
	"2024-11-05",
}

// Start starts the transport and runs the initialize handshake, falling back
// to older protocol versions when the server rejects the latest one.
func (s *session) Start(ctx context.Context) error {
	s.logger.Debug().Str("target", s.target).Msg("Starting MCP client")
	if err := s.client.Start(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to start MCP transport")
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	var lastErr error
	for _, version := range protocolVersions {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled during initialize: %w", err)
		}
		req := mcp.InitializeRequest{
			Params: mcp.InitializeParams{
				ProtocolVersion: version,
				Capabilities:    mcp.ClientCapabilities{},
				ClientInfo: mcp.Implementation{
					Name:    ClientName,
					Version: ClientVersion,
				},
			},
		}
		if _, err := s.client.Initialize(ctx, req); err != nil {
			lastErr = err
			s.logger.Warn().Str("protocolVersion", version).Err(err).Msg("Initialize failed, trying next protocol version")
			continue
		}
		s.logger.Info().Str("target", s.target).Str("protocolVersion", version).Msg("MCP client started")
		return nil
	}
	s.logger.Error().Err(lastErr).Msg("All initialization attempts failed")
	return fmt.Errorf("failed to initialize MCP client: %w", lastErr)
}

// ListTools returns all tools available from the server.
func (s *session) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	result, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list tools")
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	s.logger.Info().Int("toolCount", len(result.Tools)).Str("target", s.target).Msg("Received tools from MCP server")

	return lo.Map(result.Tools, func(tool mcp.Tool, _ int) ToolDefinition {
		schema := map[string]any{"type": tool.InputSchema.Type}
		if tool.InputSchema.Properties != nil {
			schema["properties"] = tool.InputSchema.Properties
		}
		if len(tool.InputSchema.Required) > 0 {
			schema["required"] = tool.InputSchema.Required
		}
		if len(tool.InputSchema.Defs) > 0 {
			schema["$defs"] = tool.InputSchema.Defs
		}
		return ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		}
	}), nil
}

// InvokeTool invokes a tool on the server.
func (s *session) InvokeTool(ctx context.Context, name string, input map[string]any) (map[string]any, error) {
	s.logger.Debug().Str("tool", name).Msg("Invoking MCP tool")
	result, err := s.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: input,
		},
	})
	if err != nil {
		s.logger.Error().Str("tool", name).Err(err).Msg("Failed to invoke MCP tool")
		return nil, fmt.Errorf("failed to invoke tool %s: %w", name, err)
	}
	return toolOutput(result), nil
}

func toolOutput(result *mcp.CallToolResult) map[string]any {
	output := make(map[string]any)
	texts := lo.FilterMap(result.Content, func(content mcp.Content, _ int) (string, bool) {
		if text, ok := mcp.AsTextContent(content); ok {
			return text.Text, true
		}
		text := mcp.GetTextFromContent(content)
		return text, text != ""
	})
	switch len(texts) {
	case 0:
	case 1:
		output["text"] = texts[0]
	default:
		output["text"] = texts
	}
	if result.IsError {
		output["error"] = true
		if len(texts) > 0 {
			output["error_message"] = texts[0]
		}
	}
	return output
}

// Close closes the connection to the server.
func (s *session) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
