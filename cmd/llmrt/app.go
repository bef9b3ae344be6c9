package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/aschepis/backscratcher/llmrt/calllog"
	"github.com/aschepis/backscratcher/llmrt/config"
	"github.com/aschepis/backscratcher/llmrt/llm"
	"github.com/aschepis/backscratcher/llmrt/llm/anthropic"
	"github.com/aschepis/backscratcher/llmrt/llm/ollama"
	"github.com/aschepis/backscratcher/llmrt/llm/openai"
	"github.com/aschepis/backscratcher/llmrt/logger"
	"github.com/aschepis/backscratcher/llmrt/mcp"
	"github.com/aschepis/backscratcher/llmrt/observe"
	"github.com/aschepis/backscratcher/llmrt/resilience"
	"github.com/aschepis/backscratcher/llmrt/runtime"
	"github.com/aschepis/backscratcher/llmrt/toolcache"
	"github.com/aschepis/backscratcher/llmrt/tools"
)

const shutdownTimeout = 10 * time.Second

// app is everything a command needs, built from the config file.
type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	logCloser  io.Closer
	rt         *runtime.Runtime
	store      calllog.Store
	mcpClients []mcp.Client
}

type appOptions struct {
	// connectMCP discovers tools from configured MCP servers.
	connectMCP bool
}

func newApp(ctx context.Context, flags *globalFlags, opts appOptions) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logOpts := logger.Options{File: flags.logFile, Pretty: flags.pretty, Level: flags.logLevel}
	if logOpts.File == "" && !logOpts.Pretty {
		logOpts.File, logOpts.Pretty = cfg.Log.File, cfg.Log.Pretty
	}
	if logOpts.Level == "" && os.Getenv("LOG_LEVEL") == "" {
		logOpts.Level = "warn"
	}
	log, closer, err := logger.New(logOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a := &app{cfg: cfg, logger: log, logCloser: closer}

	providers, err := buildProviders(cfg, log)
	if err != nil {
		a.close()
		return nil, err
	}

	if !cfg.CallLog.Disabled {
		store, err := openStore(cfg.CallLog.DBPath, log)
		if err != nil {
			a.close()
			return nil, err
		}
		a.store = store
	}

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	cache, err := toolCache(cfg.ToolCache, providers, log)
	if err != nil {
		a.close()
		return nil, err
	}

	retry := retryPolicy(cfg.Retry)
	rt, err := runtime.New(runtime.Options{
		Providers:       providers,
		Functions:       tools.NewRegistry(log),
		Limiter:         rateLimiter(cfg, log),
		Retry:           &retry,
		Cache:           cache,
		Store:           a.store,
		LogBufferSize:   cfg.CallLog.BufferSize,
		Metrics:         metrics,
		Workers:         cfg.Workers,
		MaintenanceSpec: cfg.Maintenance,
		RetentionDays:   cfg.CallLog.RetentionDays,
		Logger:          log,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.rt = rt

	if err := tools.RegisterBuiltins(rt.Functions()); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to register builtin tools: %w", err)
	}
	if cfg.Workspace != "" {
		if err := tools.RegisterFilesystemTools(rt.Functions(), cfg.Workspace); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to register filesystem tools: %w", err)
		}
	}
	if opts.connectMCP {
		a.connectMCPServers(ctx)
	}
	return a, nil
}

func buildProviders(cfg *config.Config, log zerolog.Logger) (*llm.ProviderRegistry, error) {
	registry := llm.NewProviderRegistry(log)

	oa, err := openai.New(log, cfg.OpenAIBackend())
	if err != nil {
		return nil, fmt.Errorf("failed to create openai provider: %w", err)
	}
	an, err := anthropic.New(log, cfg.AnthropicBackend())
	if err != nil {
		return nil, fmt.Errorf("failed to create anthropic provider: %w", err)
	}
	ol, err := ollama.New(log, cfg.OllamaBackend())
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama provider: %w", err)
	}
	for _, p := range []llm.Provider{oa, an, ol} {
		if err := registry.Register(p.Name(), p); err != nil {
			return nil, err
		}
	}
	if cfg.ActiveProvider != "" {
		if err := registry.SetActive(cfg.ActiveProvider); err != nil {
			return nil, fmt.Errorf("invalid active_provider: %w", err)
		}
	}
	return registry, nil
}

// toolCache builds the result cache. With a summary provider configured, every
// summary is written by that provider's model.
func toolCache(cfg config.ToolCacheConfig, providers *llm.ProviderRegistry, log zerolog.Logger) (*toolcache.Cache, error) {
	strategy := toolcache.StrategyByName(cfg.Strategy, cfg.TokenBudget)
	opts := []toolcache.Option{toolcache.WithTTL(cfg.TTL)}
	if cfg.SummaryProvider != "" {
		p, err := providers.Get(cfg.SummaryProvider)
		if err != nil {
			return nil, fmt.Errorf("invalid tool_cache.summary_provider: %w", err)
		}
		strategy = toolcache.WithSummarizerName(strategy, toolcache.SummarizerLLM)
		opts = append(opts, toolcache.WithSummarizer(toolcache.SummarizerLLM,
			toolcache.NewModelSummarizer(p, cfg.SummaryModel, 0, log)))
	}
	return toolcache.New(strategy, log, opts...), nil
}

func openStore(path string, log zerolog.Logger) (calllog.Store, error) {
	if path == "" {
		return calllog.NewMemoryStore(), nil
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create call log directory: %w", err)
		}
	}
	store, err := calllog.OpenSQLite(path, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open call log: %w", err)
	}
	return store, nil
}

func retryPolicy(cfg config.RetryConfig) resilience.RetryPolicy {
	var p resilience.RetryPolicy
	switch cfg.Preset {
	case "aggressive":
		p = resilience.AggressiveRetryPolicy()
	case "conservative":
		p = resilience.ConservativeRetryPolicy()
	case "none":
		p = resilience.NoRetry()
	default:
		p = resilience.DefaultRetryPolicy()
	}
	if cfg.MaxRetries > 0 {
		p.MaxRetries = cfg.MaxRetries
	}
	if cfg.InitialDelay > 0 {
		p.InitialDelay = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	return p
}

// rateLimiter applies the per-provider presets, then config overrides.
func rateLimiter(cfg *config.Config, log zerolog.Logger) *resilience.RateLimiter {
	limiter := resilience.ForOpenAI(log)
	limiter.SetLimit(llm.ProviderAnthropic, 5, 12*time.Second)
	limiter.SetLimit(llm.ProviderOllama, 1000, time.Millisecond)
	for name, rl := range cfg.RateLimits {
		interval := rl.RefillInterval
		if interval <= 0 {
			interval = time.Second
		}
		limiter.SetLimit(name, rl.Capacity, interval)
	}
	return limiter
}

func (a *app) connectMCPServers(ctx context.Context) {
	for name, srv := range a.cfg.MCPServers {
		client, err := mcp.Connect(ctx, a.logger, *srv)
		if err != nil {
			a.logger.Warn().Err(err).Str("server", name).Msg("Skipping MCP server")
			continue
		}
		a.mcpClients = append(a.mcpClients, client)
		registered, err := tools.RegisterMCPTools(ctx, a.rt.Functions(), client, name)
		if err != nil {
			a.logger.Warn().Err(err).Str("server", name).Msg("Failed to register MCP tools")
			continue
		}
		a.logger.Info().Str("server", name).Int("tools", len(registered)).Msg("Registered MCP tools")
	}
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.rt != nil {
		if err := a.rt.Close(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Runtime did not shut down cleanly")
		}
	}
	for _, c := range a.mcpClients {
		if err := c.Close(); err != nil {
			a.logger.Debug().Err(err).Msg("Failed to close MCP client")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close call log")
		}
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}
