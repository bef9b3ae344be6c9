// Package runtime ties providers, tools, caching, resilience and call logging
// into one explicitly constructed object.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aschepis/backscratcher/llmrt/calllog"
	"github.com/aschepis/backscratcher/llmrt/llm"
	"github.com/aschepis/backscratcher/llmrt/observe"
	"github.com/aschepis/backscratcher/llmrt/resilience"
	"github.com/aschepis/backscratcher/llmrt/toolcache"
	"github.com/aschepis/backscratcher/llmrt/tools"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 64
	DefaultMaxRounds = 5
)

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("runtime is closed")

// Options configures New. Nil fields get working defaults.
type Options struct {
	Providers *llm.ProviderRegistry
	Functions *tools.Registry
	// Limiter throttles every provider call by provider name. Nil disables throttling.
	Limiter *resilience.RateLimiter
	Retry   *resilience.RetryPolicy
	Cache   *toolcache.Cache
	// Store receives call and tool logs through an async logger. Nil disables logging.
	Store         calllog.Store
	LogBufferSize int
	Metrics       *observe.Metrics

	Workers   int
	QueueSize int
	MaxRounds int

	// MaintenanceSpec is a cron spec for cache and log cleanup. Empty disables it.
	MaintenanceSpec string
	RetentionDays   int

	Logger zerolog.Logger
}

// Runtime owns every long-lived component. Create it with New and release it with Close.
type Runtime struct {
	providers   *llm.ProviderRegistry
	functions   *tools.Registry
	executor    *tools.Executor
	limiter     *resilience.RateLimiter
	retry       resilience.RetryPolicy
	cache       *toolcache.Cache
	calls       *calllog.AsyncLogger
	metrics     *observe.Metrics
	counter     llm.TokenCounter
	maintenance *Maintenance
	maxRounds   int
	logger      zerolog.Logger

	jobs    chan func()
	workers errgroup.Group

	mu     sync.RWMutex
	closed bool
}

// New builds a runtime and starts its worker pool.
func New(opts Options) (*Runtime, error) {
	logger := opts.Logger.With().Str("component", "runtime").Logger()

	r := &Runtime{
		providers: opts.Providers,
		functions: opts.Functions,
		limiter:   opts.Limiter,
		retry:     resilience.DefaultRetryPolicy(),
		cache:     opts.Cache,
		metrics:   opts.Metrics,
		counter:   llm.HeuristicCounter{},
		maxRounds: opts.MaxRounds,
		logger:    logger,
	}
	if r.providers == nil {
		r.providers = llm.NewProviderRegistry(opts.Logger)
	}
	if r.functions == nil {
		r.functions = tools.NewRegistry(opts.Logger)
	}
	if opts.Retry != nil {
		r.retry = *opts.Retry
	}
	if r.cache == nil {
		r.cache = toolcache.New(toolcache.Smart{}, opts.Logger)
	}
	if r.metrics == nil {
		r.metrics = observe.Noop()
	}
	if r.maxRounds <= 0 {
		r.maxRounds = DefaultMaxRounds
	}
	if r.limiter != nil && r.limiter.OnWait == nil {
		r.limiter.OnWait = func(key string, waited time.Duration, granted bool) {
			r.metrics.RecordRateLimitWait(context.Background(), key, waited, granted)
		}
	}
	if opts.Store != nil {
		r.calls = calllog.NewAsyncLogger(opts.Store, opts.LogBufferSize, opts.Logger)
	}

	r.executor = tools.NewExecutor(r.functions, opts.Workers, opts.Logger)
	r.executor.OnResult = func(res tools.Result) {
		r.metrics.RecordToolExecution(context.Background(), res.Name, res.Err)
	}

	if opts.MaintenanceSpec != "" {
		m, err := NewMaintenance(opts.MaintenanceSpec, r.cache, opts.Store, opts.RetentionDays, opts.Logger)
		if err != nil {
			if r.calls != nil {
				_ = r.calls.Close(context.Background())
			}
			return nil, err
		}
		r.maintenance = m
		m.Start()
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	queue := opts.QueueSize
	if queue <= 0 {
		queue = DefaultQueueSize
	}
	r.jobs = make(chan func(), queue)
	for i := 0; i < workers; i++ {
		r.workers.Go(func() error {
			for job := range r.jobs {
				r.run(job)
			}
			return nil
		})
	}

	logger.Info().Int("workers", workers).Int("queueSize", queue).Int("maxRounds", r.maxRounds).Msg("Runtime started")
	return r, nil
}

func (r *Runtime) run(job func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Interface("panic", p).Msg("Job panicked")
		}
	}()
	job()
}

// recoverInto turns a panic in a provider call into the call's terminal
// error, so callers always get a result.
func (r *Runtime) recoverInto(fail func(error)) {
	if p := recover(); p != nil {
		r.logger.Error().Interface("panic", p).Msg("Provider call panicked")
		fail(fmt.Errorf("provider panicked: %v", p))
	}
}

// submit enqueues job, blocking while the queue is full.
func (r *Runtime) submit(ctx context.Context, job func()) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	select {
	case r.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Providers returns the provider registry.
func (r *Runtime) Providers() *llm.ProviderRegistry { return r.providers }

// Functions returns the function registry.
func (r *Runtime) Functions() *tools.Registry { return r.functions }

// Cache returns the tool result cache.
func (r *Runtime) Cache() *toolcache.Cache { return r.cache }

// Maintenance returns the cleanup scheduler, or nil when none is configured.
func (r *Runtime) Maintenance() *Maintenance { return r.maintenance }

// Provider returns the named provider (the active one for "") decorated with
// rate limiting, retries, metrics and call logging.
func (r *Runtime) Provider(name string) (llm.Provider, error) {
	var (
		p   llm.Provider
		err error
	)
	if name == "" {
		p, err = r.providers.GetActive()
	} else {
		p, err = r.providers.Get(name)
	}
	if err != nil {
		return nil, err
	}

	providerName := p.Name()
	policy := r.retry
	prev := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		r.metrics.RecordRetry(context.Background(), providerName)
		if prev != nil {
			prev(attempt, delay, err)
		}
	}

	middlewares := []llm.Middleware{r.metrics.Middleware()}
	if r.calls != nil {
		middlewares = append(middlewares, calllog.NewMiddleware(r.calls, p.Models()))
	}
	return llm.WrapWithMiddleware(resilience.NewGuard(p, r.limiter, policy), middlewares...), nil
}

// Chat runs a chat call on the worker pool.
func (r *Runtime) Chat(ctx context.Context, messages []llm.Message, opts *llm.ChatOptions) *Future {
	f := newFuture()
	err := r.submit(ctx, func() {
		defer r.recoverInto(func(err error) { f.resolve(nil, err) })
		p, err := r.Provider("")
		if err != nil {
			f.resolve(nil, err)
			return
		}
		f.resolve(p.Chat(r.logger.WithContext(ctx), messages, opts))
	})
	if err != nil {
		f.resolve(nil, err)
	}
	return f
}

// ChatStream enqueues a streaming call and returns once it is queued. The
// listener is called from a pool goroutine and receives exactly one terminal
// event, including when queuing fails.
func (r *Runtime) ChatStream(ctx context.Context, messages []llm.Message, opts *llm.ChatOptions, listener llm.ChatListener) error {
	if listener == nil {
		listener = llm.NopListener
	}
	err := r.submit(ctx, func() {
		var terminated atomic.Bool
		guarded := llm.ChatListenerFuncs{
			TokenFunc:    listener.OnToken,
			ThinkingFunc: listener.OnThinking,
			ToolCallFunc: listener.OnToolCall,
			CompleteFunc: func(resp *llm.ChatResponse) {
				if terminated.CompareAndSwap(false, true) {
					listener.OnComplete(resp)
				}
			},
			ErrorFunc: func(err error) {
				if terminated.CompareAndSwap(false, true) {
					listener.OnError(err)
				}
			},
		}
		defer r.recoverInto(guarded.OnError)
		p, err := r.Provider("")
		if err != nil {
			guarded.OnError(err)
			return
		}
		_ = p.ChatStream(r.logger.WithContext(ctx), messages, opts, guarded)
	})
	if err != nil {
		listener.OnError(err)
	}
	return err
}

// StreamChunks is ChatStream in channel form. Each token arrives as a chunk;
// the final chunk carries the finish reason. The error channel yields at most
// one error and both channels are closed when the stream ends. Callers must
// drain chunks or cancel ctx.
func (r *Runtime) StreamChunks(ctx context.Context, messages []llm.Message, opts *llm.ChatOptions) (<-chan llm.StreamChunk, <-chan error) {
	chunks := make(chan llm.StreamChunk, DefaultQueueSize)
	errc := make(chan error, 1)

	var once sync.Once
	finish := func(err error) {
		once.Do(func() {
			if err != nil {
				errc <- err
			}
			close(chunks)
			close(errc)
		})
	}
	send := func(c llm.StreamChunk) {
		select {
		case chunks <- c:
		case <-ctx.Done():
		}
	}

	_ = r.ChatStream(ctx, messages, opts, llm.ChatListenerFuncs{
		TokenFunc: func(tok string) {
			send(llm.StreamChunk{Role: string(llm.RoleAssistant), Content: tok})
		},
		CompleteFunc: func(resp *llm.ChatResponse) {
			reason := resp.FinishReason
			if reason == "" {
				reason = "stop"
			}
			send(llm.StreamChunk{ID: resp.ID, Model: resp.Model, FinishReason: reason, FunctionCall: resp.FunctionCall})
			finish(nil)
		},
		ErrorFunc: finish,
	})
	return chunks, errc
}

// ExecuteTools runs calls through the function registry, concurrently when parallel is set.
func (r *Runtime) ExecuteTools(ctx context.Context, calls []tools.Call, parallel bool) []tools.Result {
	if parallel {
		return r.executor.ExecuteParallel(ctx, calls)
	}
	return r.executor.ExecuteAll(ctx, calls)
}

// Close stops accepting work, waits for queued and running jobs, stops
// maintenance and drains the call logger. It does not close the log store.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = r.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if r.maintenance != nil {
		if err := r.maintenance.Stop(ctx); err != nil {
			return err
		}
	}
	if r.calls != nil {
		if err := r.calls.Close(ctx); err != nil {
			return err
		}
	}
	r.logger.Info().Msg("Runtime closed")
	return nil
}
