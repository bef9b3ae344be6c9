package openai

import (
	"context"
	"strings"
	"time"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

// accumulator folds stream chunks into the final response.
type accumulator struct {
	content  strings.Builder
	fnName   strings.Builder
	fnArgs   strings.Builder
	id       string
	model    string
	finish   string
	listener llm.ChatListener
}

func (a *accumulator) OnChunk(chunk llm.StreamChunk) {
	if a.id == "" {
		a.id = chunk.ID
	}
	if a.model == "" {
		a.model = chunk.Model
	}
	if chunk.Content != "" {
		a.content.WriteString(chunk.Content)
		a.listener.OnToken(chunk.Content)
	}
	if fc := chunk.FunctionCall; fc != nil {
		a.fnName.WriteString(fc.Name)
		a.fnArgs.WriteString(fc.Arguments)
	}
	if chunk.FinishReason != "" {
		a.finish = chunk.FinishReason
	}
}

func (a *accumulator) OnComplete() {}
func (a *accumulator) OnError(error) {}

func (a *accumulator) response(model string) *llm.ChatResponse {
	resp := &llm.ChatResponse{
		ID:           a.id,
		Model:        a.model,
		Content:      a.content.String(),
		FinishReason: a.finish,
	}
	if resp.Model == "" {
		resp.Model = model
	}
	if a.fnName.Len() > 0 {
		resp.FunctionCall = &llm.FunctionCall{Name: a.fnName.String(), Arguments: a.fnArgs.String()}
	}
	return resp
}

// ChatStream implements llm.Provider. Tokens are delivered in arrival order;
// exactly one of OnComplete or OnError is called.
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

	// Headers are bounded by the transport; the body by the gap between reads.
	streamCtx, idle, cancel := llm.WithIdleTimeout(ctx, p.Config().EffectiveTimeout())
	defer cancel()

	started := time.Now()
	req, err := p.newRequest(streamCtx, ToOpenAIRequest(model, msgs, opts, true))
	if err != nil {
		return fail(err)
	}
	resp, err := p.do(req)
	if err != nil {
		return fail(idle.Err(err, "OpenAI stream"))
	}
	defer resp.Body.Close() //nolint:errcheck // Body close error can be ignored
	idle.Touch()

	acc := &accumulator{listener: listener}
	if err := p.decoder.Decode(streamCtx, idle.Reader(resp.Body), acc); err != nil {
		err = idle.Err(err, "OpenAI stream")
		p.logger.Debug().Err(err).Msg("Stream failed")
		return fail(err)
	}

	out := p.Finish(acc.response(model), started)
	out.Usage.PromptTokens = p.CountTokens(msgs)
	out.Usage.CompletionTokens = p.CountTokens([]llm.Message{llm.AssistantMessage(out.Content)}) - llm.MessageOverheadTokens
	out.Usage.TotalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens
	if out.FunctionCall != nil {
		listener.OnToolCall(*out.FunctionCall)
	}
	listener.OnComplete(out)
	return nil
}
