package runtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/aschepis/backscratcher/llmrt/calllog"
	"github.com/aschepis/backscratcher/llmrt/llm"
	"github.com/aschepis/backscratcher/llmrt/toolcache"
	"github.com/aschepis/backscratcher/llmrt/tools"
)

// ErrMaxRounds is returned when the model keeps requesting functions past the round limit.
var ErrMaxRounds = errors.New("maximum function call rounds exceeded")

// ToolExecution records one function call made during Converse.
type ToolExecution struct {
	CallID    string
	Name      string
	Arguments map[string]any
	Result    toolcache.Result
	Err       error
	Duration  time.Duration
}

// Conversation is the outcome of Converse.
type Conversation struct {
	ID string
	// Messages is the input history followed by every message produced.
	Messages []llm.Message
	// Response is the last provider response.
	Response       *llm.ChatResponse
	Rounds         int
	ToolExecutions []ToolExecution
	Usage          llm.Usage
}

// Converse sends messages to the active provider and resolves function calls
// until the model answers without one. Each round executes the requested
// function (through the tool cache), appends its result and calls the model
// again. An empty conversationID gets a fresh one.
func (r *Runtime) Converse(ctx context.Context, conversationID string, messages []llm.Message, opts *llm.ChatOptions) (*Conversation, error) {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	logger := r.logger.With().Str("conversationID", conversationID).Logger()
	ctx = calllog.WithConversation(logger.WithContext(ctx), conversationID)

	p, err := r.Provider("")
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = llm.DefaultChatOptions()
	}
	if len(opts.Functions) == 0 && r.functions.Count() > 0 && p.Capabilities().FunctionCalling {
		opts = opts.WithFunctions(r.functions.AllTools())
	}
	window := contextWindow(p, opts)

	conv := &Conversation{
		ID:       conversationID,
		Messages: append([]llm.Message(nil), messages...),
	}

	for round := 1; round <= r.maxRounds; round++ {
		conv.Rounds = round
		callID := uuid.NewString()

		prompt := conv.Messages
		if window != nil {
			prompt = window.Trim(prompt)
			if len(prompt) < len(conv.Messages) {
				logger.Debug().Int("dropped", len(conv.Messages)-len(prompt)).Msg("Trimmed history to fit context window")
			}
		}

		resp, err := p.Chat(calllog.WithCallID(ctx, callID), prompt, opts)
		if err != nil {
			return conv, err
		}
		conv.Response = resp
		addUsage(&conv.Usage, resp.Usage)

		reply := llm.AssistantMessage(resp.Content)
		if !resp.HasFunctionCall() {
			conv.Messages = append(conv.Messages, reply)
			logger.Debug().Int("rounds", round).Msg("Conversation finished")
			return conv, nil
		}
		reply.FunctionCall = resp.FunctionCall
		conv.Messages = append(conv.Messages, reply)

		exec := r.invoke(ctx, p.Name(), callID, *resp.FunctionCall, len(conv.ToolExecutions)+1, window, conv.Messages)
		conv.ToolExecutions = append(conv.ToolExecutions, exec)
		conv.Messages = append(conv.Messages, llm.FunctionMessage(exec.Name, functionContent(exec)))
	}

	logger.Warn().Int("maxRounds", r.maxRounds).Msg("Function call round limit reached")
	return conv, fmt.Errorf("%w (%d)", ErrMaxRounds, r.maxRounds)
}

// invoke executes one function call, consulting the tool cache first.
func (r *Runtime) invoke(ctx context.Context, provider, callID string, call llm.FunctionCall, order int, window *llm.ContextWindow, history []llm.Message) ToolExecution {
	exec := ToolExecution{CallID: callID, Name: call.Name}
	start := time.Now()

	args, err := call.ParseArguments()
	if err != nil {
		exec.Err = fmt.Errorf("invalid arguments for %s: %w", call.Name, err)
	} else {
		exec.Arguments = args
		raw, hit := r.cache.Peek(call.Name, args)
		r.metrics.RecordCacheLookup(ctx, hit)
		if !hit {
			res := r.ExecuteTools(ctx, []tools.Call{{ID: callID, Name: call.Name, Args: args}}, false)[0]
			raw, exec.Err = res.Output, res.Err
		}
		if exec.Err == nil {
			// Without a known window there is no pressure to relieve.
			remaining := math.MaxInt
			if window != nil {
				remaining = window.Remaining(history)
			}
			exec.Result = r.cache.Process(toolcache.ExecutionContext{
				ToolName:               call.Name,
				Arguments:              args,
				RawResult:              raw,
				ResultTokens:           r.counter.CountText(toolcache.Stringify(raw)),
				RemainingContextTokens: remaining,
				LastInSequence:         true,
			})
		}
	}
	exec.Duration = time.Since(start)

	if exec.Err != nil {
		r.logger.Warn().Err(exec.Err).Str("function", call.Name).Msg("Function execution failed")
	}
	if r.calls != nil {
		entry := &calllog.ToolCallLog{
			CallID:         callID,
			ToolName:       call.Name,
			Timestamp:      start,
			Duration:       exec.Duration,
			Arguments:      args,
			Success:        exec.Err == nil,
			Result:         exec.Result.DisplayResult,
			Provider:       provider,
			ExecutionOrder: order,
		}
		if exec.Err != nil {
			entry.ErrorMessage = exec.Err.Error()
		}
		r.calls.LogToolExecution(entry)
	}
	return exec
}

func functionContent(exec ToolExecution) string {
	if exec.Err != nil {
		return fmt.Sprintf("Error: %v", exec.Err)
	}
	return exec.Result.DisplayResult
}

// contextWindow returns nil when the provider does not report a window
// size for the model the call resolves to.
func contextWindow(p llm.Provider, opts *llm.ChatOptions) *llm.ContextWindow {
	model := p.Config().Model
	if opts != nil && opts.Model != "" {
		model = opts.Model
	}
	limit := llm.ContextWindowOf(p, model)
	if limit <= 0 {
		return nil
	}
	return llm.NewContextWindow(limit, opts.MaxTokens)
}

func addUsage(total *llm.Usage, u llm.Usage) {
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	if u.TotalTokens > 0 {
		total.TotalTokens += u.TotalTokens
	} else {
		total.TotalTokens += u.PromptTokens + u.CompletionTokens
	}
}
