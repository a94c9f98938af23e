package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/scribe/pkg/provider/llm"
	"github.com/MrWong99/scribe/pkg/provider/stt"
)

// ErrProviderNotRegistered means no factory exists for a configured
// provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its configuration entry.
type Factory[P any] func(ProviderEntry) (P, error)

type factories[P any] map[string]Factory[P]

func (f factories[P]) create(kind string, entry ProviderEntry) (P, error) {
	build, ok := f[entry.Name]
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s %q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return build(entry)
}

// Registry resolves provider names from the config file to constructors.
// Registration usually happens once at startup; lookups are safe from any
// goroutine.
type Registry struct {
	mu  sync.RWMutex
	llm factories[llm.Provider]
	stt factories[stt.Provider]
}

// NewRegistry returns a registry without any factories.
func NewRegistry() *Registry {
	return &Registry{
		llm: make(factories[llm.Provider]),
		stt: make(factories[stt.Provider]),
	}
}

// RegisterLLM binds name to a language model factory, replacing any earlier
// binding.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	r.llm[name] = f
	r.mu.Unlock()
}

// RegisterSTT binds name to a speech-to-text factory, replacing any earlier
// binding.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	r.stt[name] = f
	r.mu.Unlock()
}

// CreateLLM builds the language model named by entry.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create("llm", entry)
}

// CreateSTT builds the speech-to-text backend named by entry.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create("stt", entry)
}

// Names returns the sorted provider names registered for kind, "llm" or
// "stt". Unknown kinds have no names.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "llm":
		return slices.Sorted(maps.Keys(r.llm))
	case "stt":
		return slices.Sorted(maps.Keys(r.stt))
	}
	return nil
}
