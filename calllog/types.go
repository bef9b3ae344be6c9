// Package calllog records provider calls and tool executions.
package calllog

import (
	"context"
	"time"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

// CallLog is one provider call, successful or not.
type CallLog struct {
	ID              string
	ConversationID  string
	Provider        string
	Model           string
	Timestamp       time.Time
	Duration        time.Duration
	RequestMessages []llm.Message
	RequestOptions  *llm.ChatOptions
	RequestTools    []string
	ResponseContent string
	ThinkingContent string
	FunctionCall    *llm.FunctionCall
	Usage           llm.Usage
	Cost            float64
	FinishReason    string
	HasError        bool
	ErrorMessage    string
	UserID          string
	SessionID       string
	Metadata        map[string]any
}

// ToolCallLog is one tool execution triggered by a call.
type ToolCallLog struct {
	ID             string
	CallID         string
	ToolName       string
	Timestamp      time.Time
	Duration       time.Duration
	Arguments      map[string]any
	Success        bool
	Result         string
	ErrorMessage   string
	Provider       string
	ExecutionOrder int
}

// Statistics aggregates calls logged since a point in time.
type Statistics struct {
	TotalCalls          int64
	TotalTokens         int64
	TotalCost           float64
	AvgDuration         time.Duration
	UniqueConversations int64
	ErrorCount          int64
	ErrorRate           float64
}

// Store persists call and tool logs.
type Store interface {
	LogCall(ctx context.Context, call *CallLog) error
	LogToolExecution(ctx context.Context, exec *ToolCallLog) error
	GetByConversation(ctx context.Context, conversationID string) ([]*CallLog, error)
	// GetByTimeRange returns calls in [start, end], newest first. A limit <= 0 means no limit.
	GetByTimeRange(ctx context.Context, start, end time.Time, limit int) ([]*CallLog, error)
	// GetStatistics aggregates calls in [start, end]. A zero end means no upper bound.
	GetStatistics(ctx context.Context, start, end time.Time) (*Statistics, error)
	// CleanupOldLogs deletes calls and tool executions older than retentionDays
	// and returns the number of calls removed.
	CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error)
	Close() error
}

type (
	conversationKey struct{}
	callIDKey       struct{}
)

// WithConversation tags ctx so that calls made with it are logged under id.
func WithConversation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationKey{}, id)
}

// ConversationFrom returns the conversation id stored by WithConversation.
func ConversationFrom(ctx context.Context) string {
	id, _ := ctx.Value(conversationKey{}).(string)
	return id
}

// WithCallID fixes the ID under which the next call made with ctx is logged,
// so that tool executions can reference it.
func WithCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callIDKey{}, id)
}

// CallIDFrom returns the id stored by WithCallID.
func CallIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey{}).(string)
	return id
}

func retentionCutoff(now time.Time, retentionDays int) time.Time {
	return now.Add(-time.Duration(retentionDays) * 24 * time.Hour)
}
