package tools

import (
	"context"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aschepis/backscratcher/llmrt/mcp"
)

func startMCPServer(t *testing.T) mcp.Client {
	t.Helper()
	srv := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(false))
	srv.AddTool(
		mcpgo.NewTool("text.reverse",
			mcpgo.WithDescription("Reverse text"),
			mcpgo.WithString("text", mcpgo.Required(), mcpgo.Description("Text to reverse")),
		),
		func(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			text, err := req.RequireString("text")
			if err != nil {
				return mcpgo.NewToolResultError(err.Error()), nil
			}
			runes := []rune(text)
			for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
				runes[i], runes[j] = runes[j], runes[i]
			}
			return mcpgo.NewToolResultText(string(runes)), nil
		},
	)

	c, err := mcp.NewInProcessClient(zerolog.Nop(), srv)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRegisterMCPTools(t *testing.T) {
	client := startMCPServer(t)
	r := NewRegistry(zerolog.Nop())

	names, err := RegisterMCPTools(context.Background(), r, client, "textsrv")
	require.NoError(t, err)
	assert.Equal(t, []string{"text_reverse"}, names)

	fn, ok := r.Get("text_reverse")
	require.True(t, ok)
	assert.Equal(t, "textsrv", fn.Source)
	assert.Equal(t, "Reverse text", fn.Description)
	assert.Contains(t, fn.Parameters.Properties, "text")
	assert.Equal(t, []string{"text"}, fn.Parameters.Required)

	out, err := r.Execute(context.Background(), "text_reverse", map[string]any{"text": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "cba", out)

	_, err = r.Execute(context.Background(), "text_reverse", map[string]any{})
	var execErr *FunctionExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.True(t, strings.Contains(execErr.Err.Error(), "text"))

	assert.Equal(t, 1, r.UnregisterSource("textsrv"))
	assert.False(t, r.Has("text_reverse"))
}
