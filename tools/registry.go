// Package tools holds the functions a model may call: a thread-safe registry,
// an executor for batches of calls, built-in functions, and MCP discovery.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

// Handler executes a function call.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Function is a callable tool: its schema as shown to the model plus the handler.
type Function struct {
	Name        string
	Description string
	Parameters  llm.JSONSchema
	Handler     Handler
	// Source is "native" or the MCP server name it was discovered from.
	Source string
}

// SourceNative marks functions registered by start-up code.
const SourceNative = "native"

// Definition returns the model-facing definition.
func (f *Function) Definition() llm.FunctionDefinition {
	return llm.FunctionDefinition{
		Name:        f.Name,
		Description: f.Description,
		Parameters:  f.Parameters,
	}
}

// ErrFunctionNotFound is returned when no function has the requested name.
var ErrFunctionNotFound = errors.New("function not found")

// FunctionExecutionError wraps a handler failure.
type FunctionExecutionError struct {
	Name string
	Args map[string]any
	Err  error
}

func (e *FunctionExecutionError) Error() string {
	return fmt.Sprintf("function %s failed: %v", e.Name, e.Err)
}

func (e *FunctionExecutionError) Unwrap() error {
	return e.Err
}

// Registry maps function names to functions.
type Registry struct {
	mu        sync.RWMutex
	functions map[string]*Function
	logger    zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	logger = logger.With().Str("component", "function_registry").Logger()
	return &Registry{
		functions: make(map[string]*Function),
		logger:    logger,
	}
}

// Register adds fn, silently replacing any function with the same name.
func (r *Registry) Register(fn *Function) error {
	if fn == nil || fn.Name == "" {
		return fmt.Errorf("function name is required")
	}
	if fn.Handler == nil {
		return fmt.Errorf("function %s has no handler", fn.Name)
	}
	if fn.Parameters.Type == "" {
		fn.Parameters = llm.ObjectSchema()
	}
	if fn.Source == "" {
		fn.Source = SourceNative
	}
	r.mu.Lock()
	r.functions[fn.Name] = fn
	r.mu.Unlock()
	r.logger.Debug().Str("name", fn.Name).Str("source", fn.Source).Msg("Registered function")
	return nil
}

// RegisterFunc is shorthand for Register with a native function.
func (r *Registry) RegisterFunc(name, description string, params llm.JSONSchema, h Handler) error {
	return r.Register(&Function{Name: name, Description: description, Parameters: params, Handler: h})
}

// Get returns the function registered under name.
func (r *Registry) Get(name string) (*Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.functions[name]
	return fn, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := lo.Keys(r.functions)
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Unregister removes name and reports whether it was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.functions[name]; !ok {
		return false
	}
	delete(r.functions, name)
	r.logger.Debug().Str("name", name).Msg("Unregistered function")
	return true
}

func (r *Registry) Clear() {
	r.mu.Lock()
	r.functions = make(map[string]*Function)
	r.mu.Unlock()
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.functions)
}

// AllTools returns every definition, sorted by name.
func (r *Registry) AllTools() []llm.FunctionDefinition {
	return r.Tools(r.Names()...)
}

// Tools returns the definitions for names, sorted by name. Unknown names are skipped.
func (r *Registry) Tools(names ...string) []llm.FunctionDefinition {
	r.mu.RLock()
	defs := lo.FilterMap(lo.Uniq(names), func(name string, _ int) (llm.FunctionDefinition, bool) {
		fn, ok := r.functions[name]
		if !ok {
			return llm.FunctionDefinition{}, false
		}
		return fn.Definition(), true
	})
	r.mu.RUnlock()
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs the named function. Unknown names yield an error wrapping
// ErrFunctionNotFound; handler failures come back as *FunctionExecutionError.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	fn, ok := r.Get(name)
	if !ok {
		r.logger.Error().Str("function", name).Msg("Unknown function requested")
		return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, name)
	}
	if args == nil {
		args = map[string]any{}
	}

	r.logger.Info().Str("function", name).Msg("Executing function")
	result, err := fn.Handler(ctx, args)
	if err != nil {
		r.logger.Warn().Str("function", name).Err(err).Msg("Function returned error")
		return nil, &FunctionExecutionError{Name: name, Args: args, Err: err}
	}
	if r.logger.GetLevel() <= zerolog.DebugLevel {
		r.logger.Debug().Str("function", name).Str("result", preview(result)).Msg("Function returned result")
	}
	return result, nil
}

// ExecuteCall parses a model function call and executes it.
func (r *Registry) ExecuteCall(ctx context.Context, call llm.FunctionCall) (map[string]any, any, error) {
	args, err := call.ParseArguments()
	if err != nil {
		return nil, nil, &FunctionExecutionError{Name: call.Name, Err: fmt.Errorf("invalid arguments: %w", err)}
	}
	result, err := r.Execute(ctx, call.Name, args)
	return args, result, err
}

const previewLimit = 500

func preview(v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	default:
		data, err := json.Marshal(v)
		if err != nil {
			s = fmt.Sprintf("%v", v)
		} else {
			s = string(data)
		}
	}
	if len(s) > previewLimit {
		s = s[:previewLimit] + "... (truncated)"
	}
	return s
}
