// Package llmtest provides a scripted in-memory llm.Provider for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

// Step is one scripted reply. Either Err or Response is used; for streams,
// Tokens are delivered before the response completes.
type Step struct {
	Response *llm.ChatResponse
	Tokens   []string
	Err      error
}

// Provider replays Steps in order. When the script runs out the last step repeats.
type Provider struct {
	*llm.Base

	mu    sync.Mutex
	steps []Step
	calls atomic.Int64
	seen  [][]llm.Message
}

var _ llm.Provider = (*Provider)(nil)

// DefaultCapabilities are the capabilities New reports.
var DefaultCapabilities = llm.Capabilities{Streaming: true, FunctionCalling: true, MaxTokens: 4096, ContextWindow: 128000}

// New creates a fake provider named name.
func New(name string, steps ...Step) *Provider {
	return NewWith(name, DefaultCapabilities, nil, steps...)
}

// NewWith creates a fake provider with explicit capabilities and model table.
func NewWith(name string, caps llm.Capabilities, models []llm.ModelInfo, steps ...Step) *Provider {
	base := llm.NewBase(name, caps, models, false)
	base.SetConfig(llm.BackendConfig{Model: "fake-model"})
	return &Provider{Base: base, steps: steps}
}

// Reply is a convenience step returning content.
func Reply(content string) Step {
	return Step{Response: &llm.ChatResponse{Content: content, FinishReason: "stop"}}
}

// Fail is a convenience step returning err.
func Fail(err error) Step {
	return Step{Err: err}
}

// Calls returns how many times Chat or ChatStream was invoked.
func (p *Provider) Calls() int {
	return int(p.calls.Load())
}

// Received returns the message lists passed to each call.
func (p *Provider) Received() [][]llm.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]llm.Message(nil), p.seen...)
}

func (p *Provider) next(messages []llm.Message) Step {
	n := int(p.calls.Add(1)) - 1
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, messages)
	if len(p.steps) == 0 {
		return Step{Err: errors.New("llmtest: no scripted steps")}
	}
	if n >= len(p.steps) {
		n = len(p.steps) - 1
	}
	return p.steps[n]
}

// Configure implements llm.Provider.
func (p *Provider) Configure(cfg llm.BackendConfig) error {
	p.SetConfig(cfg)
	return nil
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, messages []llm.Message, _ *llm.ChatOptions) (*llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	step := p.next(messages)
	if step.Err != nil {
		return nil, step.Err
	}
	resp := *step.Response
	resp.Provider = p.Name()
	return &resp, nil
}

// ChatStream implements llm.Provider.
func (p *Provider) ChatStream(ctx context.Context, messages []llm.Message, _ *llm.ChatOptions, listener llm.ChatListener) error {
	if listener == nil {
		listener = llm.NopListener
	}
	step := p.next(messages)
	if step.Err != nil {
		listener.OnError(step.Err)
		return step.Err
	}
	for _, tok := range step.Tokens {
		if err := ctx.Err(); err != nil {
			listener.OnError(err)
			return err
		}
		listener.OnToken(tok)
	}
	resp := *step.Response
	resp.Provider = p.Name()
	listener.OnComplete(&resp)
	return nil
}

// TestConnection implements llm.Provider.
func (p *Provider) TestConnection(ctx context.Context) error {
	return llm.TestConnection(ctx, p)
}
