package llm

import (
	"context"
	"time"
)

// Provider is implemented once per backend vendor.
// Implementations handle wire encoding, transport and decoding internally.
type Provider interface {
	// Name returns the registry name of the provider (e.g. "openai").
	Name() string

	// Configure replaces the backend configuration.
	Configure(cfg BackendConfig) error

	// Config returns the current backend configuration.
	Config() BackendConfig

	// Chat sends a request and returns the complete response.
	Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*ChatResponse, error)

	// ChatStream sends a streaming request and reports progress to listener.
	// It blocks until the stream terminates. The listener receives exactly one
	// of OnComplete or OnError, and the same error (if any) is returned.
	ChatStream(ctx context.Context, messages []Message, opts *ChatOptions, listener ChatListener) error

	// Capabilities describes what the provider supports.
	Capabilities() Capabilities

	// Models lists the models the provider offers.
	Models() []ModelInfo

	// CountTokens estimates the prompt size of messages.
	CountTokens(messages []Message) int

	// IsReady reports whether the provider has the configuration it needs.
	IsReady() bool

	// TestConnection issues a minimal request to verify connectivity.
	TestConnection(ctx context.Context) error
}

// ChatListener receives events from a streaming chat call.
type ChatListener interface {
	OnToken(token string)
	OnThinking(text string)
	OnToolCall(call FunctionCall)
	OnComplete(resp *ChatResponse)
	OnError(err error)
}

// ChunkObserver receives raw stream chunks from the decoder.
type ChunkObserver interface {
	OnChunk(chunk StreamChunk)
	OnComplete()
	OnError(err error)
}

// ChatListenerFuncs is a function-field implementation of ChatListener.
// Nil fields are ignored.
type ChatListenerFuncs struct {
	TokenFunc    func(token string)
	ThinkingFunc func(text string)
	ToolCallFunc func(call FunctionCall)
	CompleteFunc func(resp *ChatResponse)
	ErrorFunc    func(err error)
}

// OnToken calls TokenFunc if set.
func (f ChatListenerFuncs) OnToken(token string) {
	if f.TokenFunc != nil {
		f.TokenFunc(token)
	}
}

// OnThinking calls ThinkingFunc if set.
func (f ChatListenerFuncs) OnThinking(text string) {
	if f.ThinkingFunc != nil {
		f.ThinkingFunc(text)
	}
}

// OnToolCall calls ToolCallFunc if set.
func (f ChatListenerFuncs) OnToolCall(call FunctionCall) {
	if f.ToolCallFunc != nil {
		f.ToolCallFunc(call)
	}
}

// OnComplete calls CompleteFunc if set.
func (f ChatListenerFuncs) OnComplete(resp *ChatResponse) {
	if f.CompleteFunc != nil {
		f.CompleteFunc(resp)
	}
}

// OnError calls ErrorFunc if set.
func (f ChatListenerFuncs) OnError(err error) {
	if f.ErrorFunc != nil {
		f.ErrorFunc(err)
	}
}

// ChunkObserverFuncs is a function-field implementation of ChunkObserver.
type ChunkObserverFuncs struct {
	ChunkFunc    func(chunk StreamChunk)
	CompleteFunc func()
	ErrorFunc    func(err error)
}

// OnChunk calls ChunkFunc if set.
func (f ChunkObserverFuncs) OnChunk(chunk StreamChunk) {
	if f.ChunkFunc != nil {
		f.ChunkFunc(chunk)
	}
}

// OnComplete calls CompleteFunc if set.
func (f ChunkObserverFuncs) OnComplete() {
	if f.CompleteFunc != nil {
		f.CompleteFunc()
	}
}

// OnError calls ErrorFunc if set.
func (f ChunkObserverFuncs) OnError(err error) {
	if f.ErrorFunc != nil {
		f.ErrorFunc(err)
	}
}

// NopListener ignores every event.
var NopListener ChatListener = ChatListenerFuncs{}

// Call describes one provider invocation as seen by middleware.
type Call struct {
	Provider  string
	Messages  []Message
	Options   *ChatOptions
	Stream    bool
	StartedAt time.Time
}

// Middleware provides hooks for decorating Provider calls.
// This allows adding cross-cutting concerns like logging, metrics and auditing.
type Middleware interface {
	// BeforeRequest is called before the provider is invoked.
	// Returning an error aborts the call.
	BeforeRequest(ctx context.Context, call *Call) error

	// AfterResponse is called after a successful call. For streams the
	// response is the one delivered to OnComplete.
	AfterResponse(ctx context.Context, call *Call, resp *ChatResponse) (*ChatResponse, error)

	// OnError is called when the call fails.
	// It can return a modified error or nil to keep the original one.
	OnError(ctx context.Context, call *Call, err error) error
}

// MiddlewareFunc is a function type that implements Middleware.
type MiddlewareFunc struct {
	BeforeRequestFunc func(ctx context.Context, call *Call) error
	AfterResponseFunc func(ctx context.Context, call *Call, resp *ChatResponse) (*ChatResponse, error)
	OnErrorFunc       func(ctx context.Context, call *Call, err error) error
}

// BeforeRequest calls the BeforeRequestFunc if set.
func (f MiddlewareFunc) BeforeRequest(ctx context.Context, call *Call) error {
	if f.BeforeRequestFunc != nil {
		return f.BeforeRequestFunc(ctx, call)
	}
	return nil
}

// AfterResponse calls the AfterResponseFunc if set.
func (f MiddlewareFunc) AfterResponse(ctx context.Context, call *Call, resp *ChatResponse) (*ChatResponse, error) {
	if f.AfterResponseFunc != nil {
		return f.AfterResponseFunc(ctx, call, resp)
	}
	return resp, nil
}

// OnError calls the OnErrorFunc if set.
func (f MiddlewareFunc) OnError(ctx context.Context, call *Call, err error) error {
	if f.OnErrorFunc != nil {
		return f.OnErrorFunc(ctx, call, err)
	}
	return err
}

// WrapWithMiddleware wraps a Provider with middleware.
// Middleware is applied in order: the first one sees the request first and the response last.
func WrapWithMiddleware(p Provider, middlewares ...Middleware) Provider {
	if len(middlewares) == 0 {
		return p
	}
	return &middlewareProvider{Provider: p, middlewares: middlewares}
}

type middlewareProvider struct {
	Provider
	middlewares []Middleware
}

var _ Provider = (*middlewareProvider)(nil)

func (m *middlewareProvider) before(ctx context.Context, call *Call) error {
	for _, mw := range m.middlewares {
		if err := mw.BeforeRequest(ctx, call); err != nil {
			return err
		}
	}
	return nil
}

func (m *middlewareProvider) after(ctx context.Context, call *Call, resp *ChatResponse) (*ChatResponse, error) {
	var err error
	for i := len(m.middlewares) - 1; i >= 0; i-- {
		resp, err = m.middlewares[i].AfterResponse(ctx, call, resp)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (m *middlewareProvider) fail(ctx context.Context, call *Call, err error) error {
	for i := len(m.middlewares) - 1; i >= 0; i-- {
		if modified := m.middlewares[i].OnError(ctx, call, err); modified != nil {
			err = modified
		}
	}
	return err
}

// Chat implements Provider.
func (m *middlewareProvider) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*ChatResponse, error) {
	call := &Call{Provider: m.Name(), Messages: messages, Options: opts, StartedAt: time.Now()}
	if err := m.before(ctx, call); err != nil {
		return nil, err
	}
	resp, err := m.Provider.Chat(ctx, call.Messages, call.Options)
	if err != nil {
		return nil, m.fail(ctx, call, err)
	}
	return m.after(ctx, call, resp)
}

// ChatStream implements Provider. Completion and failure are routed through
// the middleware chain before reaching the caller's listener.
func (m *middlewareProvider) ChatStream(ctx context.Context, messages []Message, opts *ChatOptions, listener ChatListener) error {
	if listener == nil {
		listener = NopListener
	}
	call := &Call{Provider: m.Name(), Messages: messages, Options: opts, Stream: true, StartedAt: time.Now()}
	if err := m.before(ctx, call); err != nil {
		listener.OnError(err)
		return err
	}

	var finalErr error
	wrapped := ChatListenerFuncs{
		TokenFunc:    listener.OnToken,
		ThinkingFunc: listener.OnThinking,
		ToolCallFunc: listener.OnToolCall,
		CompleteFunc: func(resp *ChatResponse) {
			out, err := m.after(ctx, call, resp)
			if err != nil {
				finalErr = err
				listener.OnError(err)
				return
			}
			listener.OnComplete(out)
		},
		ErrorFunc: func(err error) {
			finalErr = m.fail(ctx, call, err)
			listener.OnError(finalErr)
		},
	}

	if err := m.Provider.ChatStream(ctx, call.Messages, call.Options, wrapped); err != nil {
		if finalErr != nil {
			return finalErr
		}
		return err
	}
	return finalErr
}
