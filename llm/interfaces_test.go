package llm_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aschepis/backscratcher/llmrt/llm"
	"github.com/aschepis/backscratcher/llmrt/llm/llmtest"
)

func TestWrapWithMiddleware_Order(t *testing.T) {
	var trace []string
	mw := func(name string) llm.Middleware {
		return llm.MiddlewareFunc{
			BeforeRequestFunc: func(ctx context.Context, call *llm.Call) error {
				trace = append(trace, "before-"+name)
				return nil
			},
			AfterResponseFunc: func(ctx context.Context, call *llm.Call, resp *llm.ChatResponse) (*llm.ChatResponse, error) {
				trace = append(trace, "after-"+name)
				return resp, nil
			},
		}
	}

	p := llm.WrapWithMiddleware(llmtest.New("fake", llmtest.Reply("hi")), mw("a"), mw("b"))
	resp, err := p.Chat(context.Background(), []llm.Message{llm.UserMessage("hello")}, nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "hi" {
		t.Errorf("Expected 'hi', got '%s'", resp.Content)
	}

	got := strings.Join(trace, ",")
	if got != "before-a,before-b,after-b,after-a" {
		t.Errorf("Unexpected middleware order: %s", got)
	}
}

func TestWrapWithMiddleware_OnError(t *testing.T) {
	backendErr := llm.NewBackendError(500, "boom", nil)
	var seen error
	p := llm.WrapWithMiddleware(llmtest.New("fake", llmtest.Fail(backendErr)), llm.MiddlewareFunc{
		OnErrorFunc: func(ctx context.Context, call *llm.Call, err error) error {
			seen = err
			return nil
		},
	})

	_, err := p.Chat(context.Background(), []llm.Message{llm.UserMessage("hello")}, nil)
	if !errors.Is(err, backendErr) {
		t.Errorf("Expected original error when OnError returns nil, got %v", err)
	}
	if seen != backendErr {
		t.Error("Expected middleware to observe the error")
	}
}

func TestWrapWithMiddleware_StreamCompletesOnce(t *testing.T) {
	var afterCalls int
	p := llm.WrapWithMiddleware(
		llmtest.New("fake", llmtest.Step{Tokens: []string{"a", "b"}, Response: &llm.ChatResponse{Content: "ab"}}),
		llm.MiddlewareFunc{
			AfterResponseFunc: func(ctx context.Context, call *llm.Call, resp *llm.ChatResponse) (*llm.ChatResponse, error) {
				afterCalls++
				if !call.Stream {
					t.Error("Expected call to be marked as stream")
				}
				return resp, nil
			},
		},
	)

	var tokens []string
	var completes, errs int
	err := p.ChatStream(context.Background(), []llm.Message{llm.UserMessage("hello")}, nil, llm.ChatListenerFuncs{
		TokenFunc:    func(tok string) { tokens = append(tokens, tok) },
		CompleteFunc: func(*llm.ChatResponse) { completes++ },
		ErrorFunc:    func(error) { errs++ },
	})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}
	if strings.Join(tokens, "") != "ab" {
		t.Errorf("Expected tokens 'ab', got %v", tokens)
	}
	if completes != 1 || errs != 0 || afterCalls != 1 {
		t.Errorf("Expected exactly one completion, got completes=%d errs=%d after=%d", completes, errs, afterCalls)
	}
}
