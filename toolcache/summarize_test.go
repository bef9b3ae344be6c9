package toolcache

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/aschepis/backscratcher/llmrt/llm"
	"github.com/aschepis/backscratcher/llmrt/llm/llmtest"
)

func TestModelSummarizer_UsesProvider(t *testing.T) {
	p := llmtest.New("fake", llmtest.Reply("  a, b, c  "))
	s := NewModelSummarizer(p, "", 0, zerolog.Nop())

	assert.Equal(t, "a, b, c", s.Summarize("- a\n- b\n- c"))
	assert.Equal(t, 1, p.Calls())

	sent := p.Received()[0]
	assert.Equal(t, llm.RoleSystem, sent[0].Role)
	assert.Contains(t, sent[1].Content, "- a\n- b\n- c")
}

func TestModelSummarizer_FallsBackOnError(t *testing.T) {
	p := llmtest.New("fake", llmtest.Fail(errors.New("boom")))
	s := NewModelSummarizer(p, "", 0, zerolog.Nop())

	text := strings.Repeat("y", DefaultExtractLength+10)
	assert.Equal(t, strings.Repeat("y", DefaultExtractLength)+truncationMarker, s.Summarize(text))
}

func TestModelSummarizer_FallsBackOnEmptyReply(t *testing.T) {
	p := llmtest.New("fake", llmtest.Reply("   "))
	s := NewModelSummarizer(p, "", 0, zerolog.Nop())
	assert.Equal(t, "short", s.Summarize("short"))
}

func TestModelSummarizer_EmptyInputSkipsCall(t *testing.T) {
	p := llmtest.New("fake")
	s := NewModelSummarizer(p, "", 0, zerolog.Nop())
	assert.Equal(t, "", s.Summarize(""))
	assert.Equal(t, 0, p.Calls())
}

func TestWithSummarizerName_RoutesSummaries(t *testing.T) {
	p := llmtest.New("fake", llmtest.Reply("model summary"))
	c, _ := newTestCache(t, WithSummarizerName(TokenBudget{Budget: 1}, SummarizerLLM))
	c.summarizers[SummarizerLLM] = NewModelSummarizer(p, "", 0, zerolog.Nop())

	res := c.Process(ExecutionContext{ToolName: "t", RawResult: "long enough", ResultTokens: 10})
	assert.True(t, res.WasSummarized)
	assert.Equal(t, "model summary", res.DisplayResult)
	assert.Equal(t, SummarizerLLM, res.Decision.Strategy)
	assert.Equal(t, "token-budget-1", c.Strategy().Name())

	small := WithSummarizerName(TokenBudget{Budget: 100}, SummarizerLLM).Decide(ExecutionContext{ResultTokens: 5})
	assert.False(t, small.ShouldSummarize)
	assert.Empty(t, small.Strategy)
}
