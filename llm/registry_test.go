package llm_test

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/llmrt/llm"
	"github.com/aschepis/backscratcher/llmrt/llm/llmtest"
)

func TestProviderRegistry_FirstRegisteredIsActive(t *testing.T) {
	registry := llm.NewProviderRegistry(zerolog.Nop())

	if err := registry.Register("openai", llmtest.New("openai")); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if err := registry.Register("ollama", llmtest.New("ollama")); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	active, err := registry.GetActive()
	if err != nil {
		t.Fatalf("Expected an active provider: %v", err)
	}
	if active.Name() != "openai" {
		t.Errorf("Expected 'openai' to be active, got '%s'", active.Name())
	}
}

func TestProviderRegistry_GetActiveEmpty(t *testing.T) {
	registry := llm.NewProviderRegistry(zerolog.Nop())

	_, err := registry.GetActive()
	if !errors.Is(err, llm.ErrNoActiveProvider) {
		t.Errorf("Expected ErrNoActiveProvider, got %v", err)
	}
}

func TestProviderRegistry_RegisterValidation(t *testing.T) {
	registry := llm.NewProviderRegistry(zerolog.Nop())

	if err := registry.Register("", llmtest.New("x")); err == nil {
		t.Error("Expected error for empty name")
	}
	if err := registry.Register("x", nil); err == nil {
		t.Error("Expected error for nil provider")
	}
	if registry.Count() != 0 {
		t.Errorf("Expected empty registry, got %d", registry.Count())
	}
}

func TestProviderRegistry_SetActive(t *testing.T) {
	registry := llm.NewProviderRegistry(zerolog.Nop())
	_ = registry.Register("openai", llmtest.New("openai"))
	_ = registry.Register("anthropic", llmtest.New("anthropic"))

	if err := registry.SetActive("anthropic"); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	if registry.ActiveName() != "anthropic" {
		t.Errorf("Expected 'anthropic' active, got '%s'", registry.ActiveName())
	}

	err := registry.SetActive("missing")
	if !errors.Is(err, llm.ErrProviderNotFound) {
		t.Errorf("Expected ErrProviderNotFound, got %v", err)
	}
	if registry.ActiveName() != "anthropic" {
		t.Error("Failed SetActive must not change the active provider")
	}
}

func TestProviderRegistry_UnregisterActivePromotes(t *testing.T) {
	registry := llm.NewProviderRegistry(zerolog.Nop())
	_ = registry.Register("openai", llmtest.New("openai"))
	_ = registry.Register("anthropic", llmtest.New("anthropic"))
	_ = registry.Register("ollama", llmtest.New("ollama"))

	registry.Unregister("openai")

	active, err := registry.GetActive()
	if err != nil {
		t.Fatalf("Expected a promoted provider: %v", err)
	}
	if active.Name() == "openai" {
		t.Error("Unregistered provider must not stay active")
	}
	if registry.Count() != 2 {
		t.Errorf("Expected 2 providers, got %d", registry.Count())
	}

	registry.Unregister("anthropic")
	registry.Unregister("ollama")

	if _, err := registry.GetActive(); !errors.Is(err, llm.ErrNoActiveProvider) {
		t.Errorf("Expected ErrNoActiveProvider after removing all, got %v", err)
	}
}

func TestProviderRegistry_UnregisterInactiveKeepsActive(t *testing.T) {
	registry := llm.NewProviderRegistry(zerolog.Nop())
	_ = registry.Register("openai", llmtest.New("openai"))
	_ = registry.Register("ollama", llmtest.New("ollama"))

	registry.Unregister("ollama")
	registry.Unregister("does-not-exist")

	if registry.ActiveName() != "openai" {
		t.Errorf("Expected 'openai' to stay active, got '%s'", registry.ActiveName())
	}
	if _, err := registry.Get("ollama"); !errors.Is(err, llm.ErrProviderNotFound) {
		t.Errorf("Expected ErrProviderNotFound, got %v", err)
	}
}

func TestProviderRegistry_Names(t *testing.T) {
	registry := llm.NewProviderRegistry(zerolog.Nop())
	_ = registry.Register("openai", llmtest.New("openai"))
	_ = registry.Register("anthropic", llmtest.New("anthropic"))

	names := registry.Names()
	if len(names) != 2 || names[0] != "anthropic" || names[1] != "openai" {
		t.Errorf("Expected sorted names [anthropic openai], got %v", names)
	}
}
