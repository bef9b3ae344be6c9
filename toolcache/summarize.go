package toolcache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

// DefaultExtractLength is the number of characters kept by extractive summaries.
const DefaultExtractLength = 500

// DefaultSummaryTimeout bounds a single model summarization call.
const DefaultSummaryTimeout = 30 * time.Second

const truncationMarker = "... [truncated]"

const summarySystemPrompt = `You summarize tool output that will be shown to another model.

Rules:
- Produce concise sentences or fragments
- Convert lists to comma-separated values
- Keep every identifier, number, path and error message
- Use plain text only`

// Summarizer reduces a tool result to a shorter text.
type Summarizer interface {
	Summarize(text string) string
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(text string) string

func (f SummarizerFunc) Summarize(text string) string { return f(text) }

// Extractive keeps the first MaxChars characters.
type Extractive struct {
	MaxChars int
}

func (e Extractive) Summarize(text string) string {
	limit := e.MaxChars
	if limit <= 0 {
		limit = DefaultExtractLength
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + truncationMarker
}

// ModelSummarizer asks a provider to summarize. Any failure falls back to
// an extractive summary so a result is always produced.
type ModelSummarizer struct {
	provider llm.Provider
	model    string
	timeout  time.Duration
	fallback Extractive
	logger   zerolog.Logger
}

// NewModelSummarizer summarizes with provider. An empty model uses the
// provider default; a non-positive timeout uses DefaultSummaryTimeout.
func NewModelSummarizer(provider llm.Provider, model string, timeout time.Duration, logger zerolog.Logger) *ModelSummarizer {
	if timeout <= 0 {
		timeout = DefaultSummaryTimeout
	}
	return &ModelSummarizer{
		provider: provider,
		model:    model,
		timeout:  timeout,
		fallback: Extractive{MaxChars: DefaultExtractLength},
		logger:   logger.With().Str("component", "model_summarizer").Logger(),
	}
}

func (m *ModelSummarizer) Summarize(text string) string {
	if text == "" {
		return text
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	summary, err := m.summarize(ctx, text)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to summarize with model, using extractive")
		return m.fallback.Summarize(text)
	}
	m.logger.Debug().Int("originalChars", len(text)).Int("summaryChars", len(summary)).Msg("Summarized tool result")
	return summary
}

func (m *ModelSummarizer) summarize(ctx context.Context, text string) (string, error) {
	temp := 0.3
	opts := &llm.ChatOptions{Model: m.model, Temperature: &temp, MaxTokens: SmallResultTokens}
	resp, err := m.provider.Chat(ctx, []llm.Message{
		llm.SystemMessage(summarySystemPrompt),
		{Role: llm.RoleUser, Content: "Summarize the following tool output:\n\n" + text},
	}, opts)
	if err != nil {
		return "", fmt.Errorf("failed to generate summary: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", fmt.Errorf("received empty summary from model")
	}
	return summary, nil
}

// llmFallback stands in for model-generated summaries until one is configured
// with WithSummarizer(SummarizerLLM, ...).
type llmFallback struct {
	logger zerolog.Logger
}

func (f llmFallback) Summarize(text string) string {
	f.logger.Warn().Msg("LLM summarization not configured, using extractive")
	return Extractive{MaxChars: DefaultExtractLength}.Summarize(text)
}
