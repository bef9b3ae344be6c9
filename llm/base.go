package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Base carries the state and helpers shared by every provider implementation.
// Vendor packages embed it and supply the wire-specific Chat/ChatStream.
type Base struct {
	mu           sync.RWMutex
	name         string
	config       BackendConfig
	capabilities Capabilities
	models       []ModelInfo
	counter      TokenCounter
	requiresKey  bool
}

// NewBase creates the shared provider state.
func NewBase(name string, caps Capabilities, models []ModelInfo, requiresKey bool) *Base {
	return &Base{
		name:         name,
		capabilities: caps,
		models:       models,
		counter:      HeuristicCounter{},
		requiresKey:  requiresKey,
	}
}

// Name returns the provider name.
func (b *Base) Name() string {
	return b.name
}

// SetConfig stores the configuration. Vendor Configure methods call it after rebuilding clients.
func (b *Base) SetConfig(cfg BackendConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config = cfg
}

// Config returns the stored configuration.
func (b *Base) Config() BackendConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config
}

// Capabilities returns the provider capability table.
func (b *Base) Capabilities() Capabilities {
	return b.capabilities
}

// Models returns the provider model list.
func (b *Base) Models() []ModelInfo {
	return b.models
}

// Model looks up a model by id.
func (b *Base) Model(id string) (ModelInfo, bool) {
	for _, m := range b.models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// SetTokenCounter replaces the token counter.
func (b *Base) SetTokenCounter(c TokenCounter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counter = c
}

// CountTokens estimates the prompt size of messages.
func (b *Base) CountTokens(messages []Message) int {
	b.mu.RLock()
	c := b.counter
	b.mu.RUnlock()
	return c.CountMessages(messages)
}

// IsReady reports whether the configuration is usable. Key-less backends only need a URL or default.
func (b *Base) IsReady() bool {
	cfg := b.Config()
	if b.requiresKey {
		return strings.TrimSpace(cfg.APIKey) != ""
	}
	return true
}

// ResolveModel picks the model for a call: options first, then config.
func (b *Base) ResolveModel(opts *ChatOptions) (string, error) {
	if opts != nil && opts.Model != "" {
		return opts.Model, nil
	}
	if m := b.Config().Model; m != "" {
		return m, nil
	}
	return "", fmt.Errorf("%s: model is required", b.name)
}

// ContextWindowFor returns the window of model when the model table lists
// one, falling back to the provider-wide capability.
func (b *Base) ContextWindowFor(model string) int {
	if m, ok := b.Model(model); ok && m.ContextWindow > 0 {
		return m.ContextWindow
	}
	return b.capabilities.ContextWindow
}

// Validate checks a request before it is sent: non-empty messages,
// a ready provider, and a prompt that fits the window of the model opts resolves to.
func (b *Base) Validate(messages []Message, opts *ChatOptions) error {
	if len(messages) == 0 {
		return &Error{Type: ErrorTypeInvalidRequest, Message: "messages cannot be empty"}
	}
	if !b.IsReady() {
		return NewNotReadyError(b.name)
	}
	model, _ := b.ResolveModel(opts)
	if window := b.ContextWindowFor(model); window > 0 {
		if n := b.CountTokens(messages); n > window {
			return NewRequestTooLargeError(fmt.Sprintf("prompt of %d tokens exceeds context window of %d for %q", n, window, model), nil)
		}
	}
	return nil
}

// ContextWindowOf returns the window size p reports for model, or 0 when unknown.
func ContextWindowOf(p Provider, model string) int {
	for _, m := range p.Models() {
		if m.ID == model && m.ContextWindow > 0 {
			return m.ContextWindow
		}
	}
	return p.Capabilities().ContextWindow
}

// Finish fills the bookkeeping fields of a response.
func (b *Base) Finish(resp *ChatResponse, started time.Time) *ChatResponse {
	resp.Provider = b.name
	resp.Latency = time.Since(started)
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now()
	}
	if resp.Usage.TotalTokens == 0 {
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
	return resp
}

// Chatter is the subset of Provider needed by TestConnection.
type Chatter interface {
	Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*ChatResponse, error)
}

// TestConnection sends a tiny prompt through p.
func TestConnection(ctx context.Context, p Chatter) error {
	opts := DefaultChatOptions()
	opts.MaxTokens = 5
	if _, err := p.Chat(ctx, []Message{UserMessage("test")}, opts); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}
