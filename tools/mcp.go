package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/aschepis/backscratcher/llmrt/llm"
	"github.com/aschepis/backscratcher/llmrt/mcp"
)

// RegisterMCPTools lists the tools of a started MCP client and registers one
// function per tool. Function names are the tool names with dots replaced by
// underscores; the handler invokes the tool under its original name.
// It returns the registered function names.
func RegisterMCPTools(ctx context.Context, r *Registry, client mcp.Client, serverName string) ([]string, error) {
	defs, err := client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools from %s: %w", serverName, err)
	}

	logger := r.logger.With().Str("mcpServer", serverName).Logger()
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		safeName := mcp.ToSafeName(def.Name)
		fn := &Function{
			Name:        safeName,
			Description: def.Description,
			Parameters:  schemaFromMap(def.InputSchema),
			Handler:     mcpHandler(client, def.Name),
			Source:      serverName,
		}
		if err := r.Register(fn); err != nil {
			return names, err
		}
		logger.Debug().Str("safeName", safeName).Str("originalName", def.Name).Msg("Registered MCP tool")
		names = append(names, safeName)
	}
	logger.Info().Int("toolCount", len(names)).Msg("Registered MCP tools")
	return names, nil
}

// UnregisterSource removes every function discovered from source.
func (r *Registry) UnregisterSource(source string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	matched := lo.PickBy(r.functions, func(_ string, fn *Function) bool { return fn.Source == source })
	for name := range matched {
		delete(r.functions, name)
	}
	return len(matched)
}

func mcpHandler(client mcp.Client, originalName string) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		out, err := client.InvokeTool(ctx, originalName, args)
		if err != nil {
			return nil, err
		}
		if failed, _ := out["error"].(bool); failed {
			msg, _ := out["error_message"].(string)
			if msg == "" {
				msg = "remote tool reported an error"
			}
			return nil, errors.New(msg)
		}
		if text, ok := out["text"]; ok && len(out) == 1 {
			return text, nil
		}
		return out, nil
	}
}

// schemaFromMap converts a JSON-schema map into llm.JSONSchema. Keys the
// struct does not model are dropped.
func schemaFromMap(m map[string]any) llm.JSONSchema {
	schema := llm.ObjectSchema()
	if len(m) == 0 {
		return schema
	}
	data, err := json.Marshal(m)
	if err != nil {
		return schema
	}
	var parsed llm.JSONSchema
	if err := json.Unmarshal(data, &parsed); err != nil {
		return schema
	}
	if parsed.Type == "" {
		parsed.Type = "object"
	}
	if parsed.Properties == nil {
		parsed.Properties = schema.Properties
	}
	return parsed
}
