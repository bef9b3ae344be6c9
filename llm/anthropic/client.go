// Package anthropic implements llm.Provider on the Anthropic Messages API.
package anthropic

import (
	"context"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

// DefaultModel is used when neither the options nor the config name a model.
const DefaultModel = "claude-3-5-sonnet-20241022"

var capabilities = llm.Capabilities{
	Streaming:       true,
	FunctionCalling: true,
	Vision:          true,
	Thinking:        true,
	MaxTokens:       8192,
	ContextWindow:   200000,
}

var models = []llm.ModelInfo{
	{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", Provider: llm.ProviderAnthropic, ContextWindow: 200000, MaxOutputTokens: 8192, SupportsTools: true, CostPer1kInputTokens: 0.003, CostPer1kOutputTokens: 0.015},
	{ID: "claude-3-opus-20240229", Name: "Claude 3 Opus", Provider: llm.ProviderAnthropic, ContextWindow: 200000, MaxOutputTokens: 4096, SupportsTools: true, CostPer1kInputTokens: 0.015, CostPer1kOutputTokens: 0.075},
	{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", Provider: llm.ProviderAnthropic, ContextWindow: 200000, MaxOutputTokens: 4096, SupportsTools: true, CostPer1kInputTokens: 0.00025, CostPer1kOutputTokens: 0.00125},
	{ID: "claude-3-7-sonnet-20250219", Name: "Claude 3.7 Sonnet", Provider: llm.ProviderAnthropic, ContextWindow: 200000, MaxOutputTokens: 8192, SupportsTools: true, SupportsThinking: true, CostPer1kInputTokens: 0.003, CostPer1kOutputTokens: 0.015},
}

// Provider wraps the Anthropic SDK client.
type Provider struct {
	*llm.Base

	client anthropic.Client
	logger zerolog.Logger
}

var _ llm.Provider = (*Provider)(nil)

// New creates and configures an Anthropic provider.
func New(logger zerolog.Logger, cfg llm.BackendConfig) (*Provider, error) {
	p := &Provider{
		Base:   llm.NewBase(llm.ProviderAnthropic, capabilities, models, true),
		logger: logger.With().Str("component", "anthropic_provider").Logger(),
	}
	if err := p.Configure(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// Configure implements llm.Provider and rebuilds the SDK client. SDK retries
// are disabled; callers wrap the provider in a retry policy.
func (p *Provider) Configure(cfg llm.BackendConfig) error {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.EffectiveTimeout()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	p.client = anthropic.NewClient(opts...)
	p.SetConfig(cfg)
	p.logger.Debug().Str("model", cfg.Model).Msg("Configured provider")
	return nil
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, msgs []llm.Message, opts *llm.ChatOptions) (*llm.ChatResponse, error) {
	if err := p.Validate(msgs, opts); err != nil {
		return nil, err
	}
	model, err := p.ResolveModel(opts)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	message, err := p.client.Messages.New(ctx, BuildParams(model, msgs, opts))
	if err != nil {
		p.logger.Debug().Err(err).Str("model", model).Msg("Chat request failed")
		return nil, convertError(err)
	}
	return p.Finish(FromMessage(message), started), nil
}

// TestConnection implements llm.Provider.
func (p *Provider) TestConnection(ctx context.Context) error {
	return llm.TestConnection(ctx, p)
}
