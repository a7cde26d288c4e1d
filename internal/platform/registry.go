// Package platform holds the adapter registry. Adapters translate abstract
// crawl work into platform-specific requests and parse the responses; the
// rest of the engine is written once against engine.Adapter.
package platform

import (
	"fmt"
	"sync"

	"github.com/socialminer/crawler/internal/engine"
)

// Registry maps platform ids to their adapters.
type Registry struct {
	mu sync.RWMutex
	m  map[string]engine.Adapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[string]engine.Adapter)}
}

// Register adds an adapter, replacing any previous one for the platform.
func (r *Registry) Register(a engine.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[a.Platform()] = a
}

// Get returns the adapter for a platform id.
func (r *Registry) Get(platform string) (engine.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.m[platform]
	if !ok {
		return nil, fmt.Errorf("adapter for %q: %w", platform, engine.ErrUnknownPlatform)
	}
	return a, nil
}

// Platforms lists the registered platform ids.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for p := range r.m {
		out = append(out, p)
	}
	return out
}
