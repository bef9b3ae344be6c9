package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/samber/lo"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

const defaultRetryAfter = 60 * time.Second

// toolUseID names the tool_use block for the function call at message index i.
// The function result that follows refers back to it.
func toolUseID(i int) string {
	return fmt.Sprintf("toolu_%04d", i)
}

// ToMessageParams converts messages to Anthropic params. System messages are
// joined into the returned system prompt; function messages become
// tool_result blocks answering the preceding function call.
func ToMessageParams(msgs []llm.Message) ([]anthropic.MessageParam, string) {
	var (
		out      []anthropic.MessageParam
		system   []string
		lastCall = -1
	)
	for i, msg := range msgs {
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Content)
		case llm.RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 2)
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			if msg.FunctionCall != nil {
				args, err := msg.FunctionCall.ParseArguments()
				if err != nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(toolUseID(i), args, msg.FunctionCall.Name))
				lastCall = i
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case llm.RoleFunction:
			if lastCall >= 0 {
				out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(toolUseID(lastCall), msg.Content, false)))
				lastCall = -1
				continue
			}
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(fmt.Sprintf("Function %s returned: %s", msg.Name, msg.Content))))
		default:
			if msg.Content != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		}
	}
	return out, strings.Join(system, "\n\n")
}

// ToToolUnionParams converts function definitions to Anthropic tools.
func ToToolUnionParams(defs []llm.FunctionDefinition) []anthropic.ToolUnionParam {
	return lo.Map(defs, func(def llm.FunctionDefinition, _ int) anthropic.ToolUnionParam {
		tool := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: def.Parameters.Properties,
				Required:   def.Parameters.Required,
			},
		}
		return anthropic.ToolUnionParam{OfTool: &tool}
	})
}

// BuildParams assembles the request.
func BuildParams(model string, msgs []llm.Message, opts *llm.ChatOptions) anthropic.MessageNewParams {
	messages, system := ToMessageParams(msgs)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(llm.DefaultChatOptions().MaxTokens),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts == nil {
		return params
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = int64(opts.MaxTokens)
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	if opts.TopP != nil {
		params.TopP = anthropic.Float(*opts.TopP)
	}
	if len(opts.Stop) > 0 {
		params.StopSequences = opts.Stop
	}
	if len(opts.Functions) > 0 && opts.FunctionCall != "none" {
		params.Tools = ToToolUnionParams(opts.Functions)
	}
	return params
}

// finishReason maps Anthropic stop reasons to the OpenAI-style vocabulary used in responses.
func finishReason(stop string) string {
	switch stop {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "function_call"
	default:
		return stop
	}
}

// FromMessage converts a complete Anthropic message.
func FromMessage(msg *anthropic.Message) *llm.ChatResponse {
	resp := &llm.ChatResponse{
		ID:           msg.ID,
		Model:        string(msg.Model),
		FinishReason: finishReason(string(msg.StopReason)),
		Usage: llm.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
	}
	var text, thinking strings.Builder
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ThinkingBlock:
			thinking.WriteString(b.Thinking)
		case anthropic.ToolUseBlock:
			if resp.FunctionCall == nil {
				args, _ := json.Marshal(b.Input)
				resp.FunctionCall = &llm.FunctionCall{Name: b.Name, Arguments: string(args)}
			}
		}
	}
	resp.Content = text.String()
	resp.ThinkingContent = thinking.String()
	return resp
}

// convertError maps SDK errors to *llm.Error.
func convertError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return llm.NewNetworkError("Anthropic request failed", err)
	}
	switch apiErr.StatusCode {
	case http.StatusTooManyRequests:
		retryAfter := defaultRetryAfter
		if apiErr.Response != nil {
			if secs, convErr := strconv.Atoi(apiErr.Response.Header.Get("Retry-After")); convErr == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return llm.NewRateLimitError("Anthropic rate limit", &retryAfter, err)
	case http.StatusRequestEntityTooLarge:
		return llm.NewRequestTooLargeError("Anthropic request too large", err)
	default:
		return llm.NewBackendError(apiErr.StatusCode, "Anthropic API error", err)
	}
}
