package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

func constant(v any) Handler {
	return func(context.Context, map[string]any) (any, error) { return v, nil }
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	require.NoError(t, r.RegisterFunc("b", "second", llm.ObjectSchema(), constant(2)))
	require.NoError(t, r.RegisterFunc("a", "first", llm.JSONSchema{}, constant(1)))

	fn, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "first", fn.Description)
	assert.Equal(t, "object", fn.Parameters.Type, "empty schema defaults to object")
	assert.Equal(t, SourceNative, fn.Source)

	assert.True(t, r.Has("b"))
	assert.False(t, r.Has("c"))
	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.Equal(t, 2, r.Count())
}

func TestRegistry_RegisterOverwrites(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	require.NoError(t, r.RegisterFunc("f", "old", llm.ObjectSchema(), constant("old")))
	require.NoError(t, r.RegisterFunc("f", "new", llm.ObjectSchema(), constant("new")))

	out, err := r.Execute(context.Background(), "f", nil)
	require.NoError(t, err)
	assert.Equal(t, "new", out)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_RegisterRejectsInvalid(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(&Function{Handler: constant(1)}))
	assert.Error(t, r.Register(&Function{Name: "nohandler"}))
}

func TestRegistry_ExecuteUnknown(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	_, err := r.Execute(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrFunctionNotFound)
}

func TestRegistry_ExecuteWrapsHandlerError(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	boom := errors.New("boom")
	require.NoError(t, r.RegisterFunc("f", "", llm.ObjectSchema(), func(context.Context, map[string]any) (any, error) {
		return nil, boom
	}))

	_, err := r.Execute(context.Background(), "f", map[string]any{"x": 1})
	var execErr *FunctionExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "f", execErr.Name)
	assert.Equal(t, map[string]any{"x": 1}, execErr.Args)
	assert.ErrorIs(t, err, boom)
}

func TestRegistry_ExecuteCallParsesArguments(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	require.NoError(t, RegisterBuiltins(r))

	args, out, err := r.ExecuteCall(context.Background(), llm.FunctionCall{Name: "echo", Arguments: `{"text":"hi"}`})
	require.NoError(t, err)
	assert.Equal(t, "hi", args["text"])
	assert.Equal(t, "hi", out)

	_, _, err = r.ExecuteCall(context.Background(), llm.FunctionCall{Name: "echo", Arguments: `{broken`})
	var execErr *FunctionExecutionError
	assert.ErrorAs(t, err, &execErr)
}

func TestRegistry_UnregisterAndClear(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	require.NoError(t, r.RegisterFunc("a", "", llm.ObjectSchema(), constant(1)))
	require.NoError(t, r.RegisterFunc("b", "", llm.ObjectSchema(), constant(2)))

	assert.True(t, r.Unregister("a"))
	assert.False(t, r.Unregister("a"))
	assert.Equal(t, []string{"b"}, r.Names())

	r.Clear()
	assert.Zero(t, r.Count())
	assert.Empty(t, r.AllTools())
}

func TestRegistry_ToolsSortedAndFiltered(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.RegisterFunc(name, name+" desc", llm.ObjectSchema(), constant(name)))
	}

	all := r.AllTools()
	require.Len(t, all, 3)
	assert.Equal(t, "alpha", all[0].Name)
	assert.Equal(t, "zeta", all[2].Name)

	some := r.Tools("zeta", "unknown", "alpha", "zeta")
	require.Len(t, some, 2)
	assert.Equal(t, "alpha", some[0].Name)
	assert.Equal(t, "zeta", some[1].Name)
	assert.Equal(t, "zeta desc", some[1].Description)
}
