package calllog

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

// NewMiddleware returns provider middleware that logs every call through l.
// Cost is computed from models when the response model is listed there.
func NewMiddleware(l *AsyncLogger, models []llm.ModelInfo) llm.Middleware {
	pricing := lo.SliceToMap(models, func(m llm.ModelInfo) (string, llm.ModelInfo) { return m.ID, m })

	record := func(ctx context.Context, call *llm.Call) *CallLog {
		c := &CallLog{
			ID:              CallIDFrom(ctx),
			ConversationID:  ConversationFrom(ctx),
			Provider:        call.Provider,
			Timestamp:       call.StartedAt,
			Duration:        time.Since(call.StartedAt),
			RequestMessages: call.Messages,
			RequestOptions:  call.Options,
		}
		if call.Options != nil {
			c.Model = call.Options.Model
			c.RequestTools = lo.Map(call.Options.Functions, func(f llm.FunctionDefinition, _ int) string { return f.Name })
			c.UserID = call.Options.User
		}
		if call.Stream {
			c.Metadata = map[string]any{"stream": true}
		}
		return c
	}

	return llm.MiddlewareFunc{
		AfterResponseFunc: func(ctx context.Context, call *llm.Call, resp *llm.ChatResponse) (*llm.ChatResponse, error) {
			c := record(ctx, call)
			if resp.ID != "" {
				c.Metadata = lo.Assign(c.Metadata, map[string]any{"responseId": resp.ID})
			}
			if resp.Model != "" {
				c.Model = resp.Model
			}
			c.ResponseContent = resp.Content
			c.ThinkingContent = resp.ThinkingContent
			c.FunctionCall = resp.FunctionCall
			c.Usage = resp.Usage
			c.FinishReason = resp.FinishReason
			if m, ok := pricing[c.Model]; ok {
				c.Cost = m.EstimateCost(resp.Usage)
			}
			l.LogCall(c)
			return resp, nil
		},
		OnErrorFunc: func(ctx context.Context, call *llm.Call, err error) error {
			c := record(ctx, call)
			c.HasError = true
			c.ErrorMessage = err.Error()
			l.LogCall(c)
			return err
		},
	}
}
