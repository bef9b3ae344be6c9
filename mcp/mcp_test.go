package mcp

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer() *server.MCPServer {
	srv := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(false))
	srv.AddTool(
		mcp.NewTool("text.upper",
			mcp.WithDescription("Upper-case text"),
			mcp.WithString("text", mcp.Required(), mcp.Description("Input text")),
		),
		func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			text, err := req.RequireString("text")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(toUpper(text)), nil
		},
	)
	return srv
}

func toUpper(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r >= 'a' && r <= 'z' {
			out[i] = r - 32
		}
	}
	return string(out)
}

func startInProcess(t *testing.T) *InProcessClient {
	t.Helper()
	c, err := NewInProcessClient(zerolog.Nop(), newTestServer())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestInProcessClient_ListTools(t *testing.T) {
	c := startInProcess(t)

	defs, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "text.upper", defs[0].Name)
	assert.Equal(t, "Upper-case text", defs[0].Description)
	assert.Equal(t, "object", defs[0].InputSchema["type"])
	assert.Equal(t, []string{"text"}, defs[0].InputSchema["required"])
}

func TestInProcessClient_InvokeTool(t *testing.T) {
	c := startInProcess(t)

	out, err := c.InvokeTool(context.Background(), "text.upper", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "HELLO", out["text"])
	assert.Nil(t, out["error"])

	out, err = c.InvokeTool(context.Background(), "text.upper", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out["error"])
	assert.NotEmpty(t, out["error_message"])
}

func TestNameAdapter(t *testing.T) {
	a := NewNameAdapter()
	assert.Equal(t, "gmail_messages_list", a.SafeName("", "gmail.messages.list"))
	assert.Equal(t, "mail_send", a.SafeName("mail", "send"))

	orig, ok := a.ToOriginalName("mail_send")
	require.True(t, ok)
	assert.Equal(t, "send", orig)

	_, ok = a.ToOriginalName("unknown")
	assert.False(t, ok)
}

func TestConnect_RequiresTarget(t *testing.T) {
	_, err := Connect(context.Background(), zerolog.Nop(), ServerConfig{Name: "empty"})
	assert.Error(t, err)

	_, err = Connect(context.Background(), zerolog.Nop(), ServerConfig{Name: "both", URL: "http://x", Command: "y"})
	assert.Error(t, err)
}
