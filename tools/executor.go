package tools

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultParallelism bounds ExecuteParallel when no limit is configured.
const DefaultParallelism = 4

// Call is one requested function invocation.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// Result is the outcome of one Call.
type Result struct {
	CallID   string
	Name     string
	Output   any
	Err      error
	Duration time.Duration
}

// Executor runs batches of calls against a registry.
type Executor struct {
	registry    *Registry
	parallelism int
	logger      zerolog.Logger

	// OnResult, if set, observes every finished call. It may be called concurrently.
	OnResult func(Result)
}

// NewExecutor creates an executor. parallelism <= 0 means DefaultParallelism.
func NewExecutor(registry *Registry, parallelism int, logger zerolog.Logger) *Executor {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &Executor{
		registry:    registry,
		parallelism: parallelism,
		logger:      logger.With().Str("component", "function_executor").Logger(),
	}
}

func (e *Executor) run(ctx context.Context, call Call) Result {
	start := time.Now()
	out, err := e.registry.Execute(ctx, call.Name, call.Args)
	res := Result{CallID: call.ID, Name: call.Name, Output: out, Err: err, Duration: time.Since(start)}
	if e.OnResult != nil {
		e.OnResult(res)
	}
	return res
}

// ExecuteAll runs calls one after another. A failed call does not stop the
// batch; a cancelled context does, and the remaining results carry ctx.Err().
func (e *Executor) ExecuteAll(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))
	for i, call := range calls {
		if err := ctx.Err(); err != nil {
			results[i] = Result{CallID: call.ID, Name: call.Name, Err: err}
			continue
		}
		results[i] = e.run(ctx, call)
	}
	return results
}

// ExecuteParallel runs calls concurrently, at most parallelism at a time.
// Results are returned in input order.
func (e *Executor) ExecuteParallel(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, call := range calls {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = Result{CallID: call.ID, Name: call.Name, Err: err}
				return nil
			}
			results[i] = e.run(gctx, call)
			return nil
		})
	}
	_ = g.Wait()
	e.logger.Debug().Int("calls", len(calls)).Msg("Parallel execution finished")
	return results
}
