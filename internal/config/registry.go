package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/voxgate/pkg/provider/llm"
	"github.com/MrWong99/voxgate/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by the Create methods when nothing is
// registered under the entry's name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds one provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is one name → Factory table. The zero value is not usable.
type factories[T any] struct {
	kind string
	byID map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, byID: make(map[string]Factory[T])}
}

func (f factories[T]) create(entry ProviderEntry) (T, error) {
	build, ok := f.byID[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return build(entry)
}

// Registry maps provider names from the config to constructors. main fills it
// with the built-in backends; tests register doubles. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	engines factories[llm.Provider]
	stt     factories[stt.Provider]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		engines: newFactories[llm.Provider]("engine"),
		stt:     newFactories[stt.Provider]("stt"),
	}
}

// RegisterEngine registers a generation backend. A second registration under
// the same name replaces the first.
func (r *Registry) RegisterEngine(name string, factory Factory[llm.Provider]) {
	r.mu.Lock()
	r.engines.byID[name] = factory
	r.mu.Unlock()
}

// RegisterSTT registers a speech-to-text backend.
func (r *Registry) RegisterSTT(name string, factory Factory[stt.Provider]) {
	r.mu.Lock()
	r.stt.byID[name] = factory
	r.mu.Unlock()
}

// CreateEngine builds the backend named by entry.Name.
func (r *Registry) CreateEngine(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engines.create(entry)
}

// CreateSTT builds the speech-to-text backend named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// EngineNames lists the registered engines in sorted order.
func (r *Registry) EngineNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.engines.byID))
}

// STTNames lists the registered STT backends in sorted order.
func (r *Registry) STTNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.stt.byID))
}
