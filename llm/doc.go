// Package llm provides a provider-neutral abstraction layer for Large Language Model (LLM) APIs.
//
// This package defines the common types, the Provider contract and the
// registry that let the runtime talk to interchangeable backends (OpenAI
// compatible servers, Anthropic, Ollama) without being coupled to any SDK.
//
// # Core Concepts
//
//  1. Messages: Message carries a role (system, user, assistant, function) and
//     text content. Assistant messages may carry a FunctionCall.
//
//  2. Functions: FunctionDefinition with a JSONSchema parameter description is
//     the wire form of a callable function.
//
//  3. Provider Interface: Chat returns a complete ChatResponse; ChatStream
//     reports tokens to a ChatListener and terminates with exactly one of
//     OnComplete or OnError.
//
//  4. ProviderRegistry: holds provider instances by name and tracks the
//     active one. The first registered provider becomes active.
//
//  5. Middleware: decorates a Provider with cross-cutting concerns such as call
//     logging or metrics without modifying provider implementations.
//
//  6. Errors: Error carries a category, the backend status code and whether
//     the failure is worth retrying.
//
// Usage Example
//
//	registry := llm.NewProviderRegistry(logger)
//	_ = registry.Register(llm.ProviderOpenAI, openai.NewProvider(cfg, logger))
//
//	p, err := registry.GetActive()
//	if err != nil {
//	    return err
//	}
//	resp, err := p.Chat(ctx, []llm.Message{llm.UserMessage("Hello!")}, nil)
//
// # Extension Points
//
// To add a new LLM provider:
//  1. Embed *Base for configuration, capabilities and token counting
//  2. Implement Chat and ChatStream against the vendor wire format
//  3. Translate vendor failures into *Error values with a status code
package llm
