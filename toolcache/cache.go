// Package toolcache decides, per tool call, whether a result is cached and
// whether it is summarized before it re-enters the conversation.
package toolcache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

// DefaultTTL is how long an entry stays live.
const DefaultTTL = time.Hour

// Entry is a cached tool result. Only the cache mutates it, and only its use count.
type Entry struct {
	ToolName  string
	Arguments map[string]any
	RawResult any
	Summary   string
	CachedAt  time.Time
	TTL       time.Duration

	useCount atomic.Int64
}

// IsExpired is true iff now is after CachedAt+TTL.
func (e *Entry) IsExpired(now time.Time) bool {
	return now.After(e.CachedAt.Add(e.TTL))
}

// UseCount returns how many times the entry was served from cache.
func (e *Entry) UseCount() int64 {
	return e.useCount.Load()
}

// Result is what the conversation loop appends back into the conversation.
type Result struct {
	RawResult     any
	DisplayResult string
	FromCache     bool
	WasSummarized bool
	TokensSaved   int
	Decision      Decision
}

// Stats summarizes cache contents.
type Stats struct {
	Entries     int
	Expired     int
	TotalReuses int64
	HitRate     float64
	Hits        int64
	Misses      int64
}

// Cache is a keyed, expiring store of tool results. Entries live in a
// sync.Map; per-entry use counts are atomic, so there is no global lock.
type Cache struct {
	entries     sync.Map // key -> *Entry
	strategy    Strategy
	summarizers map[string]Summarizer
	counter     llm.TokenCounter
	ttl         time.Duration
	now         func() time.Time
	logger      zerolog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithTokenCounter sets the counter used to estimate summary size.
func WithTokenCounter(counter llm.TokenCounter) Option {
	return func(c *Cache) {
		c.counter = counter
	}
}

// WithSummarizer registers a summarizer under name, replacing any existing one.
func WithSummarizer(name string, s Summarizer) Option {
	return func(c *Cache) {
		c.summarizers[name] = s
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache driven by strategy.
func New(strategy Strategy, logger zerolog.Logger, opts ...Option) *Cache {
	if strategy == nil {
		strategy = Smart{}
	}
	logger = logger.With().Str("component", "tool_cache").Logger()
	c := &Cache{
		strategy: strategy,
		counter:  llm.HeuristicCounter{},
		ttl:      DefaultTTL,
		now:      time.Now,
		logger:   logger,
	}
	c.summarizers = map[string]Summarizer{
		SummarizerExtractive: Extractive{MaxChars: DefaultExtractLength},
		SummarizerLLM:        llmFallback{logger: logger},
	}
	for _, opt := range opts {
		opt(c)
	}
	logger.Info().Str("strategy", strategy.Name()).Dur("ttl", c.ttl).Msg("Tool result cache initialized")
	return c
}

// Strategy returns the active strategy.
func (c *Cache) Strategy() Strategy {
	return c.strategy
}

// Key builds the cache key: tool name followed by ":k=v" for each argument in key order.
func Key(toolName string, args map[string]any) string {
	var sb strings.Builder
	sb.WriteString(toolName)
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, ":%s=%v", k, args[k])
	}
	return sb.String()
}

// live returns the entry for key if present and not expired. Expired entries are evicted.
func (c *Cache) live(key string) (*Entry, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	e := v.(*Entry)
	if e.IsExpired(c.now()) {
		c.entries.CompareAndDelete(key, v)
		c.logger.Debug().Str("key", key).Msg("Evicted expired entry")
		return nil, false
	}
	return e, true
}

// Peek returns the raw result of a live entry without counting a use.
// Callers use it to skip re-executing a tool whose result is still cached.
func (c *Cache) Peek(toolName string, args map[string]any) (any, bool) {
	e, ok := c.live(Key(toolName, args))
	if !ok {
		return nil, false
	}
	return e.RawResult, true
}

// Process applies the strategy to one tool result. A live entry is a hit:
// its use count is incremented and the current decision picks raw or summary.
// Otherwise ctx.RawResult is decided on, optionally summarized, and stored.
func (c *Cache) Process(ctx ExecutionContext) Result {
	key := Key(ctx.ToolName, ctx.Arguments)

	if e, ok := c.live(key); ok {
		e.useCount.Add(1)
		c.hits.Add(1)
		decision := c.strategy.Decide(ctx)
		c.logger.Debug().Str("tool", ctx.ToolName).Int64("useCount", e.UseCount()).Msg("Cache hit")

		res := Result{RawResult: e.RawResult, FromCache: true, Decision: decision}
		if !decision.ShouldSummarize {
			res.DisplayResult = Stringify(e.RawResult)
			return res
		}
		summary := e.Summary
		if summary == "" {
			summary = c.summarize(e.RawResult, decision.Strategy)
		}
		res.DisplayResult = summary
		res.WasSummarized = true
		res.TokensSaved = c.saved(ctx, e.RawResult, summary)
		return res
	}

	c.misses.Add(1)
	decision := c.strategy.Decide(ctx)
	res := Result{RawResult: ctx.RawResult, Decision: decision}

	var summary string
	if decision.ShouldSummarize {
		summary = c.summarize(ctx.RawResult, decision.Strategy)
		res.DisplayResult = summary
		res.WasSummarized = true
		res.TokensSaved = c.saved(ctx, ctx.RawResult, summary)
		c.logger.Debug().
			Str("tool", ctx.ToolName).
			Int("originalTokens", ctx.ResultTokens).
			Int("tokensSaved", res.TokensSaved).
			Str("reason", decision.Reason).
			Msg("Summarized tool result")
	} else {
		res.DisplayResult = Stringify(ctx.RawResult)
	}

	if decision.ShouldCache {
		c.entries.Store(key, &Entry{
			ToolName:  ctx.ToolName,
			Arguments: ctx.Arguments,
			RawResult: ctx.RawResult,
			Summary:   summary,
			CachedAt:  c.now(),
			TTL:       c.ttl,
		})
		c.logger.Debug().Str("key", key).Msg("Cached tool result")
	}
	return res
}

func (c *Cache) saved(ctx ExecutionContext, raw any, summary string) int {
	original := ctx.ResultTokens
	if original == 0 {
		original = c.counter.CountText(Stringify(raw))
	}
	return original - c.counter.CountText(summary)
}

func (c *Cache) summarize(raw any, strategy string) string {
	s, ok := c.summarizers[strategy]
	if !ok {
		return Stringify(raw)
	}
	return s.Summarize(Stringify(raw))
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.entries.Clear()
	c.logger.Info().Msg("Cache cleared")
}

// CleanupExpired removes expired entries and returns how many were removed.
func (c *Cache) CleanupExpired() int {
	now := c.now()
	removed := 0
	c.entries.Range(func(k, v any) bool {
		if v.(*Entry).IsExpired(now) && c.entries.CompareAndDelete(k, v) {
			removed++
		}
		return true
	})
	if removed > 0 {
		c.logger.Info().Int("removed", removed).Msg("Removed expired cache entries")
	}
	return removed
}

// Stats reports entry counts and the reuse-based hit rate.
func (c *Cache) Stats() Stats {
	now := c.now()
	var st Stats
	c.entries.Range(func(_, v any) bool {
		e := v.(*Entry)
		st.Entries++
		if e.IsExpired(now) {
			st.Expired++
		}
		st.TotalReuses += e.UseCount()
		return true
	})
	if st.TotalReuses > 0 {
		st.HitRate = float64(st.TotalReuses) / float64(st.TotalReuses+int64(st.Entries))
	}
	st.Hits = c.hits.Load()
	st.Misses = c.misses.Load()
	return st
}

// Stringify renders a tool result as the text sent to the model.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case json.RawMessage:
		return string(t)
	case fmt.Stringer:
		return t.String()
	case error:
		return t.Error()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
