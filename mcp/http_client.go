package mcp

import (
	"fmt"
	"net/url"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/rs/zerolog"
)

// HTTPClient talks to an MCP server over the streamable HTTP transport.
type HTTPClient struct {
	session
	baseURL string
}

// NewHTTPClient creates an HTTP MCP client. headers are sent on every request.
func NewHTTPClient(logger zerolog.Logger, baseURL string, headers map[string]string) (*HTTPClient, error) {
	logger = logger.With().Str("component", "http_mcp_client").Logger()
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required for HTTP MCP client")
	}
	if _, err := url.Parse(baseURL); err != nil {
		logger.Error().Err(err).Msg("Invalid URL")
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}

	var opts []transport.StreamableHTTPCOption
	if len(headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(headers))
	}
	c, err := client.NewStreamableHttpClient(baseURL, opts...)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create underlying client")
		return nil, fmt.Errorf("failed to create HTTP MCP client: %w", err)
	}
	logger.Info().Str("baseURL", baseURL).Msg("Created HTTP MCP client")

	return &HTTPClient{
		session: session{client: c, target: baseURL, logger: logger},
		baseURL: baseURL,
	}, nil
}
