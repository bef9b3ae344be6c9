package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
)

// ProviderRegistry holds configured provider instances and tracks the active one.
// At most one provider is active at any time; the registry is safe for concurrent use.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string // registration order, used for promotion
	active    string
	logger    zerolog.Logger
}

// NewProviderRegistry creates an empty registry.
func NewProviderRegistry(logger zerolog.Logger) *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[string]Provider),
		logger:    logger.With().Str("component", "provider_registry").Logger(),
	}
}

// Register adds a provider under name. The first registered provider becomes active.
// Registering an existing name replaces the instance and keeps the active slot.
func (r *ProviderRegistry) Register(name string, p Provider) error {
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	if p == nil {
		return fmt.Errorf("provider %s: instance is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.providers[name] = p
	if r.active == "" {
		r.active = name
		r.logger.Info().Str("provider", name).Msg("Provider registered and set active")
		return nil
	}
	r.logger.Info().Str("provider", name).Msg("Provider registered")
	return nil
}

// Get returns the provider registered under name.
func (r *ProviderRegistry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return p, nil
}

// GetActive returns the active provider, or ErrNoActiveProvider.
func (r *ProviderRegistry) GetActive() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.active == "" {
		return nil, ErrNoActiveProvider
	}
	return r.providers[r.active], nil
}

// ActiveName returns the active provider name, or "" if none.
func (r *ProviderRegistry) ActiveName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// SetActive makes name the active provider.
func (r *ProviderRegistry) SetActive(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	r.active = name
	r.logger.Info().Str("provider", name).Msg("Active provider changed")
	return nil
}

// Unregister removes a provider. If it was active, the earliest remaining
// registration is promoted; with none left the active slot is cleared.
func (r *ProviderRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[name]; !ok {
		return
	}
	delete(r.providers, name)
	r.order = lo.Without(r.order, name)

	if r.active != name {
		r.logger.Info().Str("provider", name).Msg("Provider unregistered")
		return
	}
	r.active = ""
	if len(r.order) > 0 {
		r.active = r.order[0]
	}
	r.logger.Info().Str("provider", name).Str("promoted", r.active).Msg("Active provider unregistered")
}

// Names returns the registered provider names, sorted.
func (r *ProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := lo.Keys(r.providers)
	sort.Strings(names)
	return names
}

// Count returns the number of registered providers.
func (r *ProviderRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
