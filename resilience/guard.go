package resilience

import (
	"context"
	"sync/atomic"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

// Guard wraps a provider so each call first takes a rate-limit token for the
// provider name and then runs under the retry policy.
type Guard struct {
	llm.Provider
	limiter *RateLimiter
	policy  RetryPolicy
}

var _ llm.Provider = (*Guard)(nil)

// NewGuard wraps p. A nil limiter disables throttling.
func NewGuard(p llm.Provider, limiter *RateLimiter, policy RetryPolicy) *Guard {
	return &Guard{Provider: p, limiter: limiter, policy: policy}
}

// Unwrap returns the wrapped provider.
func (g *Guard) Unwrap() llm.Provider {
	return g.Provider
}

func (g *Guard) acquire(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Acquire(ctx, g.Name(), 1)
}

// Chat implements llm.Provider.
func (g *Guard) Chat(ctx context.Context, messages []llm.Message, opts *llm.ChatOptions) (*llm.ChatResponse, error) {
	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	return Do(ctx, g.policy, func(ctx context.Context) (*llm.ChatResponse, error) {
		return g.Provider.Chat(ctx, messages, opts)
	})
}

// ChatStream implements llm.Provider. A failed attempt is retried only if no
// token has reached the listener yet; the listener sees exactly one terminal event.
func (g *Guard) ChatStream(ctx context.Context, messages []llm.Message, opts *llm.ChatOptions, listener llm.ChatListener) error {
	if listener == nil {
		listener = llm.NopListener
	}
	if err := g.acquire(ctx); err != nil {
		listener.OnError(err)
		return err
	}

	var started atomic.Bool
	policy := g.policy
	inner := policy.ShouldRetry
	if inner == nil {
		inner = DefaultShouldRetry
	}
	policy.ShouldRetry = func(err error) bool {
		return !started.Load() && inner(err)
	}

	err := policy.Execute(ctx, func(ctx context.Context) error {
		proxy := llm.ChatListenerFuncs{
			TokenFunc: func(tok string) {
				started.Store(true)
				listener.OnToken(tok)
			},
			ThinkingFunc: func(text string) {
				started.Store(true)
				listener.OnThinking(text)
			},
			ToolCallFunc: listener.OnToolCall,
			CompleteFunc: listener.OnComplete,
			// errors are reported once, after the retry decision
			ErrorFunc: func(error) {},
		}
		return g.Provider.ChatStream(ctx, messages, opts, proxy)
	})
	if err != nil {
		listener.OnError(err)
	}
	return err
}

// TestConnection bypasses throttling and retries.
func (g *Guard) TestConnection(ctx context.Context) error {
	return g.Provider.TestConnection(ctx)
}
