package indexer

import (
	"fmt"
	"slices"
	"sync"
)

// Registry maps strategy names to indexers.
type Registry struct {
	mu       sync.RWMutex
	indexers map[string]Indexer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{indexers: make(map[string]Indexer)}
}

// Register adds ix under name, replacing any previous strategy of that name.
func (r *Registry) Register(name string, ix Indexer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexers[name] = ix
}

// Get returns the strategy registered as name.
func (r *Registry) Get(name string) (Indexer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ix, ok := r.indexers[name]
	if !ok {
		return nil, fmt.Errorf("unknown indexer %q", name)
	}
	return ix, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.indexers))
	for name := range r.indexers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
