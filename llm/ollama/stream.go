package ollama

import (
	"context"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

// ChatStream implements llm.Provider. Exactly one of OnComplete or OnError is called.
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

	streamCtx, idle, cancel := llm.WithIdleTimeout(ctx, p.Config().EffectiveTimeout())
	defer cancel()

	started := time.Now()
	var (
		content, thinking strings.Builder
		last              api.ChatResponse
	)
	err = p.client.Chat(streamCtx, toChatRequest(model, msgs, opts, true), func(resp api.ChatResponse) error {
		idle.Touch()
		if resp.Message.Thinking != "" {
			thinking.WriteString(resp.Message.Thinking)
			listener.OnThinking(resp.Message.Thinking)
		}
		if resp.Message.Content != "" {
			content.WriteString(resp.Message.Content)
			listener.OnToken(resp.Message.Content)
		}
		last = resp
		return nil
	})
	if err != nil {
		p.logger.Debug().Err(err).Msg("Stream failed")
		if idle.Expired() {
			return fail(idle.Err(err, "Ollama stream"))
		}
		return fail(convertError(err))
	}
	listener.OnComplete(p.Finish(fromChatResponse(last, content.String(), thinking.String()), started))
	return nil
}
