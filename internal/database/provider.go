package database

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/kozaktomas/face-search/internal/config"
	"github.com/kozaktomas/face-search/internal/descriptor"
)

// OpenFunc opens a store backend for the given descriptor layout.
type OpenFunc func(ctx context.Context, cfg *config.StoreConfig, layout descriptor.Layout) (Store, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]OpenFunc)
)

// RegisterBackend registers a store constructor under name.
// This is called by cmd for each backend package to avoid import cycles.
func RegisterBackend(name string, open OpenFunc) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = open
}

// Backends returns the sorted names of the registered backends.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Open opens the configured backend. With HNSW enabled the store is wrapped in an
// HNSWStore so queries can pre-select candidates.
func Open(ctx context.Context, cfg *config.StoreConfig, layout descriptor.Layout, logger *slog.Logger) (Store, error) {
	backendsMu.RLock()
	open, ok := backends[cfg.Backend]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store backend %q not registered (available: %v)", cfg.Backend, Backends())
	}

	store, err := open(ctx, cfg, layout)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Backend, err)
	}
	if !cfg.HNSWEnabled {
		return store, nil
	}

	hs, err := NewHNSWStore(ctx, store, cfg.HNSWIndexPath, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return hs, nil
}
