// Package storage provides the Storage Adapter (C1) contract and the explicit registry that
// selects a single active adapter by storage.type, replacing conditional bean construction
// with a lookup table built once at startup.
package storage

import (
	"fmt"
	"sync"

	"github.com/familyhub/gateway/pkg/types"
)

// Factory builds a StorageAdapter for a given storage.type.
type Factory func() (types.StorageAdapter, error)

// Registry maps a storage.type name to the Factory that constructs it.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates name (e.g. "local", "object") with a Factory. Registering the same
// name twice replaces the earlier factory, which lets tests substitute a fake adapter.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Build constructs the adapter registered under name.
func (r *Registry) Build(name string) (types.StorageAdapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("storage: no adapter registered for type %q", name)
	}
	return factory()
}

// Names returns the registered storage.type values, for diagnostics and --help output.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
