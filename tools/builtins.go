package tools

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aschepis/backscratcher/llmrt/llm"
)

// RegisterBuiltins registers current_time, echo and calculate.
func RegisterBuiltins(r *Registry) error {
	builtins := []*Function{
		{
			Name:        "current_time",
			Description: "Returns the current date and time, optionally in a named IANA time zone.",
			Parameters: llm.ObjectSchema().
				WithProperty("timezone", llm.StringProperty("IANA time zone, e.g. Europe/Berlin. Defaults to UTC."), false),
			Handler: currentTime,
		},
		{
			Name:        "echo",
			Description: "Returns the given text unchanged.",
			Parameters: llm.ObjectSchema().
				WithProperty("text", llm.StringProperty("Text to echo"), true),
			Handler: echo,
		},
		{
			Name:        "calculate",
			Description: "Applies an arithmetic operation to two numbers.",
			Parameters: llm.ObjectSchema().
				WithProperty("operation", llm.EnumProperty("Operation to apply", "add", "subtract", "multiply", "divide", "power"), true).
				WithProperty("a", llm.NumberProperty("First operand"), true).
				WithProperty("b", llm.NumberProperty("Second operand"), true),
			Handler: calculate,
		},
	}
	for _, fn := range builtins {
		if err := r.Register(fn); err != nil {
			return err
		}
	}
	return nil
}

func currentTime(_ context.Context, args map[string]any) (any, error) {
	loc := time.UTC
	if tz, _ := args["timezone"].(string); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q: %w", tz, err)
		}
		loc = l
	}
	now := time.Now().In(loc)
	return map[string]any{
		"time":     now.Format(time.RFC3339),
		"timezone": loc.String(),
		"unix":     now.Unix(),
	}, nil
}

func echo(_ context.Context, args map[string]any) (any, error) {
	text, ok := args["text"].(string)
	if !ok {
		return nil, fmt.Errorf("text must be a string")
	}
	return text, nil
}

func calculate(_ context.Context, args map[string]any) (any, error) {
	op, _ := args["operation"].(string)
	a, err := number(args, "a")
	if err != nil {
		return nil, err
	}
	b, err := number(args, "b")
	if err != nil {
		return nil, err
	}

	var result float64
	switch op {
	case "add":
		result = a + b
	case "subtract":
		result = a - b
	case "multiply":
		result = a * b
	case "divide":
		if b == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		result = a / b
	case "power":
		result = math.Pow(a, b)
	default:
		return nil, fmt.Errorf("unsupported operation %q", op)
	}
	return map[string]any{"operation": op, "result": result}, nil
}

// number reads a numeric argument; JSON numbers decode as float64.
func number(args map[string]any, key string) (float64, error) {
	switch v := args[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case nil:
		return 0, fmt.Errorf("%s is required", key)
	default:
		return 0, fmt.Errorf("%s must be a number", key)
	}
}
