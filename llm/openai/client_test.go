package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aschepis/backscratcher/llmrt/llm"
	"github.com/aschepis/backscratcher/llmrt/resilience"
)

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello there"}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 9, "completion_tokens": 2, "total_tokens": 11}
}`

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := New(zerolog.Nop(), llm.BackendConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-4", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return p
}

func TestProvider_ChatSendsWireRequest(t *testing.T) {
	var got openai.ChatCompletionRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody))
	})

	opts := llm.DefaultChatOptions().WithFunctions([]llm.FunctionDefinition{{
		Name:       "echo",
		Parameters: llm.ObjectSchema().WithProperty("text", llm.StringProperty("text"), true),
	}})
	resp, err := p.Chat(context.Background(), []llm.Message{llm.SystemMessage("be nice"), llm.UserMessage("hi")}, opts)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, 2000, got.MaxTokens)
	require.Len(t, got.Functions, 1)
	assert.Equal(t, "echo", got.Functions[0].Name)
	assert.Equal(t, "auto", got.FunctionCall)

	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, "Hello there", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 11, resp.TotalTokens())
	assert.Equal(t, llm.ProviderOpenAI, resp.Provider)
}

func TestProvider_ChatFunctionCall(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"x","model":"gpt-4","choices":[{"index":0,"message":{"role":"assistant","content":"","function_call":{"name":"echo","arguments":"{\"text\":\"hi\"}"}},"finish_reason":"function_call"}]}`))
	})

	resp, err := p.Chat(context.Background(), []llm.Message{llm.UserMessage("hi")}, nil)
	require.NoError(t, err)
	require.True(t, resp.HasFunctionCall())
	assert.Equal(t, "echo", resp.FunctionCall.Name)
	args, err := resp.FunctionCall.ParseArguments()
	require.NoError(t, err)
	assert.Equal(t, "hi", args["text"])
}

func TestProvider_ErrorMapping(t *testing.T) {
	tests := []struct {
		status    int
		header    string
		retryable bool
		check     func(error) bool
	}{
		{http.StatusTooManyRequests, "7", true, llm.IsRateLimitError},
		{http.StatusRequestEntityTooLarge, "", false, llm.IsRequestTooLargeError},
		{http.StatusServiceUnavailable, "", true, llm.IsRetryableError},
		{http.StatusUnauthorized, "", false, func(err error) bool { return llm.StatusCode(err) == http.StatusUnauthorized }},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"server_error"}}`))
			})
			_, err := p.Chat(context.Background(), []llm.Message{llm.UserMessage("hi")}, nil)
			require.Error(t, err)
			assert.True(t, tt.check(err))
			assert.Equal(t, tt.retryable, llm.IsRetryableError(err))
			assert.Contains(t, err.Error(), "nope")
			if tt.header != "" {
				require.NotNil(t, llm.ExtractRetryAfter(err))
				assert.Equal(t, 7*time.Second, *llm.ExtractRetryAfter(err))
			}
		})
	}
}

func TestProvider_RetriesTransientFailures(t *testing.T) {
	var attempts atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(completionBody))
	})

	policy := resilience.DefaultRetryPolicy()
	policy.MaxRetries = 3
	policy.InitialDelay = time.Millisecond
	policy.MaxDelay = 5 * time.Millisecond
	guard := resilience.NewGuard(p, nil, policy)

	resp, err := guard.Chat(context.Background(), []llm.Message{llm.UserMessage("hi")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello there", resp.Content)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestProvider_NotReadyWithoutKey(t *testing.T) {
	p, err := New(zerolog.Nop(), llm.BackendConfig{})
	require.NoError(t, err)
	assert.False(t, p.IsReady())
	assert.Equal(t, DefaultBaseURL, p.Config().BaseURL)

	_, err = p.Chat(context.Background(), []llm.Message{llm.UserMessage("hi")}, nil)
	assert.Error(t, err)
}

func TestProvider_ChatStream(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			`{"id":"s1","model":"gpt-4","choices":[{"index":0,"delta":{"role":"assistant"}}]}`,
			`{"id":"s1","model":"gpt-4","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
			`not json`,
			`{"id":"s1","model":"gpt-4","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
			`{"id":"s1","model":"gpt-4","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		}
		for _, f := range frames {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", f)
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	})

	var tokens []string
	var final *llm.ChatResponse
	var errs int
	err := p.ChatStream(context.Background(), []llm.Message{llm.UserMessage("hi")}, nil, llm.ChatListenerFuncs{
		TokenFunc:    func(tok string) { tokens = append(tokens, tok) },
		CompleteFunc: func(resp *llm.ChatResponse) { final = resp },
		ErrorFunc:    func(error) { errs++ },
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, tokens)
	require.NotNil(t, final)
	assert.Equal(t, "Hello", final.Content)
	assert.Equal(t, "s1", final.ID)
	assert.Equal(t, "stop", final.FinishReason)
	assert.Zero(t, errs)
}

func TestProvider_ChatStreamBackendError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	var errs []error
	err := p.ChatStream(context.Background(), []llm.Message{llm.UserMessage("hi")}, nil, llm.ChatListenerFuncs{
		ErrorFunc: func(err error) { errs = append(errs, err) },
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, llm.StatusCode(err))
	assert.Len(t, errs, 1)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, defaultRetryAfter, parseRetryAfter(""))
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, defaultRetryAfter, parseRetryAfter("soon"))
}

func newStreamProvider(t *testing.T, timeout time.Duration, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := New(zerolog.Nop(), llm.BackendConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-4", Timeout: timeout})
	require.NoError(t, err)
	return p
}

func TestProvider_ChatStreamStalledBodyTimesOut(t *testing.T) {
	p := newStreamProvider(t, 200*time.Millisecond, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, "data: {\"id\":\"x\",\"choices\":[{\"delta\":{\"content\":\"Hi\"},\"index\":0}]}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	var tokens, errs atomic.Int32
	listener := llm.ChatListenerFuncs{
		TokenFunc: func(string) { tokens.Add(1) },
		ErrorFunc: func(error) { errs.Add(1) },
	}

	done := make(chan error, 1)
	go func() {
		done <- p.ChatStream(context.Background(), []llm.Message{llm.UserMessage("hi")}, nil, listener)
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, llm.IsRetryableError(err), "stall should be retryable: %v", err)
		assert.Equal(t, int32(1), tokens.Load())
		assert.Equal(t, int32(1), errs.Load())
	case <-time.After(3 * time.Second):
		t.Fatal("ChatStream still blocked after the configured timeout")
	}
}

func TestProvider_ChatStreamSlowButSteadyCompletes(t *testing.T) {
	p := newStreamProvider(t, 300*time.Millisecond, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 0; i < 4; i++ {
			_, _ = fmt.Fprintf(w, "data: {\"id\":\"x\",\"choices\":[{\"delta\":{\"content\":\"%d\"},\"index\":0}]}\n\n", i)
			w.(http.Flusher).Flush()
			time.Sleep(100 * time.Millisecond)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var final *llm.ChatResponse
	err := p.ChatStream(context.Background(), []llm.Message{llm.UserMessage("hi")}, nil, llm.ChatListenerFuncs{
		CompleteFunc: func(resp *llm.ChatResponse) { final = resp },
	})
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Equal(t, "0123", final.Content)
}

func TestProvider_ValidateUsesModelContextWindow(t *testing.T) {
	var hits atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody))
	})
	// Roughly 10k tokens: over gpt-4's 8192 window, well under gpt-4-turbo's.
	prompt := []llm.Message{llm.UserMessage(strings.Repeat("word ", 8000))}

	_, err := p.Chat(context.Background(), prompt, nil)
	require.Error(t, err)
	assert.True(t, llm.IsRequestTooLargeError(err), "got %v", err)
	assert.False(t, llm.IsRetryableError(err))
	assert.Equal(t, int32(0), hits.Load())

	_, err = p.Chat(context.Background(), prompt, llm.DefaultChatOptions().WithModel("gpt-4-turbo-preview"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	assert.Equal(t, 8192, p.ContextWindowFor("gpt-4"))
	assert.Equal(t, capabilities.ContextWindow, p.ContextWindowFor("unknown-model"))
}
