// Package ollama implements llm.Provider for a local Ollama server.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

// DefaultHost is used when BackendConfig.BaseURL is empty.
const DefaultHost = "http://localhost:11434"

// DefaultModel is used when neither the options nor the config name a model.
const DefaultModel = "llama2"

var capabilities = llm.Capabilities{
	Streaming:       true,
	FunctionCalling: false,
	Vision:          false,
	Thinking:        false,
	MaxTokens:       2048,
	ContextWindow:   4096,
}

var models = []llm.ModelInfo{
	{ID: "llama2", Name: "Llama 2", Provider: llm.ProviderOllama, ContextWindow: 4096, MaxOutputTokens: 2048},
	{ID: "mistral", Name: "Mistral", Provider: llm.ProviderOllama, ContextWindow: 8192, MaxOutputTokens: 2048},
	{ID: "codellama", Name: "Code Llama", Provider: llm.ProviderOllama, ContextWindow: 16384, MaxOutputTokens: 2048},
}

// Provider talks to Ollama's /api/chat.
type Provider struct {
	*llm.Base

	client *api.Client
	logger zerolog.Logger
}

var _ llm.Provider = (*Provider)(nil)

// New creates and configures an Ollama provider. No credential is required.
func New(logger zerolog.Logger, cfg llm.BackendConfig) (*Provider, error) {
	p := &Provider{
		Base:   llm.NewBase(llm.ProviderOllama, capabilities, models, false),
		logger: logger.With().Str("component", "ollama_provider").Logger(),
	}
	if err := p.Configure(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// Configure implements llm.Provider.
func (p *Provider) Configure(cfg llm.BackendConfig) error {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	baseURL, err := parseHost(cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid host: %w", err)
	}
	timeout := cfg.EffectiveTimeout()
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
			ResponseHeaderTimeout: timeout,
		},
	}
	p.client = api.NewClient(baseURL, httpClient)
	p.SetConfig(cfg)
	p.logger.Debug().Str("host", baseURL.String()).Str("model", cfg.Model).Msg("Configured provider")
	return nil
}

func parseHost(host string) (*url.URL, error) {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return url.Parse(host)
}

// toChatRequest builds the request. Function messages are sent with the
// "tool" role; system messages stay inline.
func toChatRequest(model string, msgs []llm.Message, opts *llm.ChatOptions, stream bool) *api.ChatRequest {
	req := &api.ChatRequest{
		Model:    model,
		Messages: make([]api.Message, 0, len(msgs)),
		Stream:   &stream,
		Options:  make(map[string]any),
	}
	for _, m := range msgs {
		role := string(m.Role)
		if m.Role == llm.RoleFunction {
			role = "tool"
		}
		req.Messages = append(req.Messages, api.Message{Role: role, Content: m.Content})
	}
	if opts == nil {
		return req
	}
	if opts.MaxTokens > 0 {
		req.Options["num_predict"] = opts.MaxTokens
	}
	if opts.Temperature != nil {
		req.Options["temperature"] = *opts.Temperature
	}
	if opts.TopP != nil {
		req.Options["top_p"] = *opts.TopP
	}
	if len(opts.Stop) > 0 {
		req.Options["stop"] = opts.Stop
	}
	return req
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

	ctx, cancel := context.WithTimeout(ctx, p.Config().EffectiveTimeout())
	defer cancel()

	started := time.Now()
	var final api.ChatResponse
	err = p.client.Chat(ctx, toChatRequest(model, msgs, opts, false), func(resp api.ChatResponse) error {
		final = resp
		return nil
	})
	if err != nil {
		p.logger.Debug().Err(err).Str("model", model).Msg("Chat request failed")
		return nil, convertError(err)
	}
	return p.Finish(fromChatResponse(final, final.Message.Content, final.Message.Thinking), started), nil
}

func fromChatResponse(resp api.ChatResponse, content, thinking string) *llm.ChatResponse {
	out := &llm.ChatResponse{
		Model:           resp.Model,
		Content:         content,
		ThinkingContent: thinking,
		FinishReason:    resp.DoneReason,
		Usage: llm.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
		},
		CreatedAt: resp.CreatedAt,
	}
	if out.FinishReason == "" && resp.Done {
		out.FinishReason = "stop"
	}
	return out
}

// ListLocalModels returns the names of models pulled on the server.
func (p *Provider) ListLocalModels(ctx context.Context) ([]string, error) {
	resp, err := p.client.List(ctx)
	if err != nil {
		return nil, convertError(err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// TestConnection checks the server heartbeat, then sends a tiny prompt.
func (p *Provider) TestConnection(ctx context.Context) error {
	if err := p.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("connection test failed: %w", convertError(err))
	}
	return llm.TestConnection(ctx, p)
}

func convertError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		msg := statusErr.ErrorMessage
		if msg == "" {
			msg = statusErr.Status
		}
		return llm.NewBackendError(statusErr.StatusCode, "Ollama error: "+msg, err)
	}
	return llm.NewNetworkError("Ollama request failed", err)
}
