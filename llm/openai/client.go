// Package openai implements llm.Provider for OpenAI-compatible chat
// completion endpoints.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/aschepis/backscratcher/llmrt/llm"
	"github.com/aschepis/backscratcher/llmrt/llm/sse"
)

// DefaultBaseURL is used when BackendConfig.BaseURL is empty.
const DefaultBaseURL = "https://api.openai.com/v1"

// DefaultModel is used when neither the options nor the config name a model.
const DefaultModel = "gpt-4-turbo-preview"

var capabilities = llm.Capabilities{
	Streaming:       true,
	FunctionCalling: true,
	Vision:          true,
	Thinking:        false,
	MaxTokens:       4096,
	ContextWindow:   128000,
}

var models = []llm.ModelInfo{
	{ID: "gpt-4-turbo-preview", Name: "GPT-4 Turbo", Provider: llm.ProviderOpenAI, ContextWindow: 128000, MaxOutputTokens: 4096, SupportsTools: true, CostPer1kInputTokens: 0.01, CostPer1kOutputTokens: 0.03},
	{ID: "gpt-4", Name: "GPT-4", Provider: llm.ProviderOpenAI, ContextWindow: 8192, MaxOutputTokens: 4096, SupportsTools: true, CostPer1kInputTokens: 0.03, CostPer1kOutputTokens: 0.06},
	{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", Provider: llm.ProviderOpenAI, ContextWindow: 16385, MaxOutputTokens: 4096, SupportsTools: true, CostPer1kInputTokens: 0.0005, CostPer1kOutputTokens: 0.0015},
}

// Provider talks to an OpenAI-compatible /chat/completions endpoint.
type Provider struct {
	*llm.Base

	httpClient *http.Client
	decoder    *sse.Decoder
	logger     zerolog.Logger
}

var _ llm.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the HTTP client built from the config timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// New creates and configures an OpenAI provider.
func New(logger zerolog.Logger, cfg llm.BackendConfig, opts ...Option) (*Provider, error) {
	logger = logger.With().Str("component", "openai_provider").Logger()
	p := &Provider{
		Base:    llm.NewBase(llm.ProviderOpenAI, capabilities, models, true),
		decoder: sse.NewDecoder(logger),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.Configure(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// Configure implements llm.Provider. An empty key is accepted; IsReady
// reports false until one is set.
func (p *Provider) Configure(cfg llm.BackendConfig) error {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if p.httpClient == nil {
		p.httpClient = newHTTPClient(cfg.EffectiveTimeout())
	}
	p.SetConfig(cfg)
	p.logger.Debug().Str("baseURL", cfg.BaseURL).Str("model", cfg.Model).Msg("Configured provider")
	return nil
}

// newHTTPClient bounds connecting and waiting for response headers but not
// reading the body, so long streams are not cut off.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: timeout,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

func (p *Provider) newRequest(ctx context.Context, body openai.ChatCompletionRequest) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	cfg := p.Config()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	if cfg.Organization != "" {
		req.Header.Set("OpenAI-Organization", cfg.Organization)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

// do sends req and returns the response when it is 2xx.
func (p *Provider) do(req *http.Request) (*http.Response, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, llm.NewNetworkError("OpenAI request failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close() //nolint:errcheck // Body close error can be ignored
		return nil, decodeError(resp)
	}
	return resp, nil
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

	callCtx, cancel := context.WithTimeout(ctx, p.Config().EffectiveTimeout())
	defer cancel()

	started := time.Now()
	req, err := p.newRequest(callCtx, ToOpenAIRequest(model, msgs, opts, false))
	if err != nil {
		return nil, err
	}
	resp, err := p.do(req)
	if err != nil {
		p.logger.Debug().Err(err).Str("model", model).Msg("Chat request failed")
		return nil, timeoutAsNetwork(ctx, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Body close error can be ignored

	var wire openai.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		if callCtx.Err() != nil {
			return nil, timeoutAsNetwork(ctx, callCtx.Err())
		}
		return nil, llm.NewMalformedResponseError("failed to decode OpenAI response", err)
	}
	out, err := FromOpenAIResponse(wire)
	if err != nil {
		return nil, err
	}
	if out.Model == "" {
		out.Model = model
	}
	return p.Finish(out, started), nil
}

// timeoutAsNetwork turns an expired per-call deadline into a retryable
// network error. Cancellation of the caller's ctx is returned as is.
func timeoutAsNetwork(parent context.Context, err error) error {
	if parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return llm.NewNetworkError("OpenAI request timed out", err)
	}
	return err
}

// TestConnection implements llm.Provider.
func (p *Provider) TestConnection(ctx context.Context) error {
	return llm.TestConnection(ctx, p)
}
