package model

import (
	"fmt"
	"strings"
	"sync"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(name string, provider Provider) {
	if r == nil || provider == nil {
		return
	}
	key := normalizeProviderName(name)
	if key == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[key] = provider
}

func (r *Registry) Get(name string) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	key := normalizeProviderName(name)
	if key == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.providers[key]
	return provider, ok
}

// Resolve parses a provider/model reference and looks up its provider.
func (r *Registry) Resolve(raw string) (Provider, Ref, error) {
	ref, err := ParseRef(raw)
	if err != nil {
		return nil, Ref{}, err
	}
	provider, ok := r.Get(ref.Provider)
	if !ok {
		return nil, Ref{}, fmt.Errorf("model provider %q is not configured", ref.Provider)
	}
	return provider, ref, nil
}

// RegisterFromKeys registers the built-in providers for which a key is set.
func (r *Registry) RegisterFromKeys(anthropicKey, openAIKey string) []string {
	var registered []string
	if strings.TrimSpace(anthropicKey) != "" {
		r.Register(ProviderAnthropic, NewAnthropicProvider(anthropicKey))
		registered = append(registered, ProviderAnthropic)
	}
	if strings.TrimSpace(openAIKey) != "" {
		r.Register(ProviderOpenAI, NewOpenAIProvider(openAIKey))
		registered = append(registered, ProviderOpenAI)
	}
	return registered
}

func normalizeProviderName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
