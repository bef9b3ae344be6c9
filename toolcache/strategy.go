package toolcache

import (
	"fmt"
)

// Summarizer names used in Decision.Strategy.
const (
	SummarizerExtractive = "extractive"
	SummarizerLLM        = "llm"
)

// Smart strategy thresholds, in estimated tokens.
const (
	SmallResultTokens = 500
	LargeResultTokens = 2000
	contextPressure   = 1.5
)

// ExecutionContext describes one tool invocation. It is built per call and never stored.
type ExecutionContext struct {
	ToolName               string
	Arguments              map[string]any
	RawResult              any
	ResultTokens           int
	RemainingContextTokens int
	LastInSequence         bool
}

// Decision is the outcome of a Strategy.
type Decision struct {
	ShouldCache     bool
	ShouldSummarize bool
	Strategy        string // summarizer to use when ShouldSummarize is set
	Reason          string
}

// Strategy decides whether a tool result is cached and summarized.
type Strategy interface {
	Name() string
	Decide(ctx ExecutionContext) Decision
}

// AlwaysFull caches every result and never summarizes.
type AlwaysFull struct{}

func (AlwaysFull) Name() string { return "always-full" }

func (AlwaysFull) Decide(ExecutionContext) Decision {
	return Decision{ShouldCache: true, Reason: "Always send full results"}
}

// TokenBudget summarizes results larger than a fixed per-call budget.
type TokenBudget struct {
	Budget int
}

func (s TokenBudget) Name() string { return fmt.Sprintf("token-budget-%d", s.Budget) }

func (s TokenBudget) Decide(ctx ExecutionContext) Decision {
	if ctx.ResultTokens > s.Budget {
		return Decision{
			ShouldCache:     true,
			ShouldSummarize: true,
			Strategy:        SummarizerExtractive,
			Reason:          fmt.Sprintf("Result (%d tokens) exceeds budget (%d tokens)", ctx.ResultTokens, s.Budget),
		}
	}
	return Decision{ShouldCache: true, Reason: "Result within token budget"}
}

// Smart sends small results in full, always summarizes large ones, and for
// the middle band summarizes only when the remaining context is tight.
type Smart struct{}

func (Smart) Name() string { return "smart-summarization" }

func (Smart) Decide(ctx ExecutionContext) Decision {
	switch {
	case ctx.ResultTokens < SmallResultTokens:
		return Decision{ShouldCache: true, Reason: "Result is small enough to send in full"}
	case ctx.ResultTokens > LargeResultTokens:
		return Decision{
			ShouldCache:     true,
			ShouldSummarize: true,
			Strategy:        SummarizerExtractive,
			Reason:          fmt.Sprintf("Result is large (%d tokens)", ctx.ResultTokens),
		}
	case float64(ctx.RemainingContextTokens) < contextPressure*float64(ctx.ResultTokens):
		return Decision{
			ShouldCache:     true,
			ShouldSummarize: true,
			Strategy:        SummarizerExtractive,
			Reason:          fmt.Sprintf("Limited context remaining (%d tokens)", ctx.RemainingContextTokens),
		}
	default:
		return Decision{ShouldCache: true, Reason: "Sufficient context available for full result"}
	}
}

// StrategyByName resolves a configured strategy name. Unknown names fall back to Smart.
func StrategyByName(name string, budget int) Strategy {
	switch name {
	case "always-full", "full":
		return AlwaysFull{}
	case "token-budget":
		if budget <= 0 {
			budget = LargeResultTokens
		}
		return TokenBudget{Budget: budget}
	default:
		return Smart{}
	}
}

// WithSummarizerName wraps s so that every summarize decision uses the named
// summarizer instead of the one s picked.
func WithSummarizerName(s Strategy, summarizer string) Strategy {
	return preferred{Strategy: s, summarizer: summarizer}
}

type preferred struct {
	Strategy
	summarizer string
}

func (p preferred) Decide(ctx ExecutionContext) Decision {
	d := p.Strategy.Decide(ctx)
	if d.ShouldSummarize {
		d.Strategy = p.summarizer
	}
	return d
}
