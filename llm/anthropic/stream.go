package anthropic

import (
	"context"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

// ChatStream implements llm.Provider. Text deltas go to OnToken and thinking
// deltas to OnThinking; exactly one of OnComplete or OnError is called.
func (p *Provider) ChatStream(ctx context.Context, msgs []llm.Message, opts *llm.ChatOptions, listener llm.ChatListener) error {
	if listener == nil {
		listener = llm.NopListener
	}
	fail := func(err error) error {
		listener.OnError(err)
		return err
	}

	if err := p.Validate(msgs, opts); err != nil {
		return fail(err)
	}
	model, err := p.ResolveModel(opts)
	if err != nil {
		return fail(err)
	}

	started := time.Now()
	stream := p.client.Messages.NewStreaming(ctx, BuildParams(model, msgs, opts))
	defer stream.Close() //nolint:errcheck // Close error can be ignored

	resp := &llm.ChatResponse{Model: model}
	var (
		text, thinking, toolInput strings.Builder
		toolName                  string
	)
	for stream.Next() {
		switch evt := stream.Current().AsAny().(type) {
		case anthropic.MessageStartEvent:
			resp.ID = evt.Message.ID
			if evt.Message.Model != "" {
				resp.Model = string(evt.Message.Model)
			}
			resp.Usage.PromptTokens = int(evt.Message.Usage.InputTokens)
		case anthropic.ContentBlockStartEvent:
			if block, ok := evt.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok && toolName == "" {
				toolName = block.Name
			}
		case anthropic.ContentBlockDeltaEvent:
			switch d := evt.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if d.Text != "" {
					text.WriteString(d.Text)
					listener.OnToken(d.Text)
				}
			case anthropic.ThinkingDelta:
				if d.Thinking != "" {
					thinking.WriteString(d.Thinking)
					listener.OnThinking(d.Thinking)
				}
			case anthropic.InputJSONDelta:
				toolInput.WriteString(d.PartialJSON)
			}
		case anthropic.MessageDeltaEvent:
			resp.FinishReason = finishReason(string(evt.Delta.StopReason))
			resp.Usage.CompletionTokens = int(evt.Usage.OutputTokens)
		}
	}
	if err := stream.Err(); err != nil {
		p.logger.Debug().Err(err).Msg("Stream failed")
		return fail(convertError(err))
	}

	resp.Content = text.String()
	resp.ThinkingContent = thinking.String()
	if toolName != "" {
		args := toolInput.String()
		if args == "" {
			args = "{}"
		}
		resp.FunctionCall = &llm.FunctionCall{Name: toolName, Arguments: args}
		listener.OnToolCall(*resp.FunctionCall)
	}
	listener.OnComplete(p.Finish(resp, started))
	return nil
}
