package llm

import (
	"testing"
)

func TestFunctionCall_ParseArguments(t *testing.T) {
	call := &FunctionCall{Name: "get_weather", Arguments: `{"city":"Paris","days":3}`}
	args, err := call.ParseArguments()
	if err != nil {
		t.Fatalf("Failed to parse arguments: %v", err)
	}
	if args["city"] != "Paris" {
		t.Errorf("Expected city 'Paris', got %v", args["city"])
	}
	if args["days"] != float64(3) {
		t.Errorf("Expected days 3, got %v", args["days"])
	}

	empty := &FunctionCall{Name: "noop"}
	args, err = empty.ParseArguments()
	if err != nil || len(args) != 0 {
		t.Errorf("Expected empty args, got %v (%v)", args, err)
	}

	bad := &FunctionCall{Name: "bad", Arguments: "{"}
	if _, err := bad.ParseArguments(); err == nil {
		t.Error("Expected error for invalid JSON arguments")
	}
}

func TestChatOptions_WithFunctionsCopies(t *testing.T) {
	base := DefaultChatOptions()
	defs := []FunctionDefinition{{Name: "echo", Parameters: ObjectSchema()}}

	withFns := base.WithFunctions(defs)
	if len(base.Functions) != 0 {
		t.Error("WithFunctions must not modify the receiver")
	}
	if withFns.FunctionCall != "auto" {
		t.Errorf("Expected function_call 'auto', got '%s'", withFns.FunctionCall)
	}
	if withFns.MaxTokens != 2000 || *withFns.Temperature != 0.7 {
		t.Error("Expected defaults to be preserved")
	}

	var nilOpts *ChatOptions
	if m := nilOpts.WithModel("gpt-4"); m.Model != "gpt-4" {
		t.Errorf("Expected model gpt-4, got %s", m.Model)
	}
}

func TestChatResponse_Helpers(t *testing.T) {
	resp := &ChatResponse{
		Content: "hello",
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 5},
	}
	if !resp.HasContent() {
		t.Error("Expected HasContent to be true")
	}
	if resp.HasFunctionCall() {
		t.Error("Expected HasFunctionCall to be false")
	}
	if resp.TotalTokens() != 15 {
		t.Errorf("Expected 15 total tokens, got %d", resp.TotalTokens())
	}

	resp.FunctionCall = &FunctionCall{Name: "echo"}
	if !resp.HasFunctionCall() {
		t.Error("Expected HasFunctionCall to be true")
	}
}

func TestStreamChunk_Empty(t *testing.T) {
	if !(StreamChunk{ID: "x", Index: 0}).Empty() {
		t.Error("Chunk without content, role or finish reason should be empty")
	}
	if (StreamChunk{Role: "assistant"}).Empty() {
		t.Error("Chunk with a role should not be empty")
	}
	if !(StreamChunk{FinishReason: "stop"}).IsLast() {
		t.Error("Chunk with finish reason should be last")
	}
}

func TestJSONSchema_Map(t *testing.T) {
	schema := ObjectSchema().
		WithProperty("city", StringProperty("City name"), true).
		WithProperty("unit", EnumProperty("Unit", "c", "f"), false)

	m := schema.Map()
	if m["type"] != "object" {
		t.Errorf("Expected type object, got %v", m["type"])
	}
	props, ok := m["properties"].(map[string]any)
	if !ok || len(props) != 2 {
		t.Fatalf("Expected 2 properties, got %v", m["properties"])
	}
	required, ok := m["required"].([]any)
	if !ok || len(required) != 1 || required[0] != "city" {
		t.Errorf("Expected required [city], got %v", m["required"])
	}
}

func TestModelInfo_EstimateCost(t *testing.T) {
	m := ModelInfo{CostPer1kInputTokens: 0.01, CostPer1kOutputTokens: 0.03}
	cost := m.EstimateCost(Usage{PromptTokens: 1000, CompletionTokens: 2000})
	if cost < 0.0699 || cost > 0.0701 {
		t.Errorf("Expected cost 0.07, got %f", cost)
	}
}
