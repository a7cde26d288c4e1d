// Package sink provides storage sink implementations. The engine enforces
// at-most-once delivery per item key within a session; sinks enforce
// persistence semantics.
package sink

import (
	"context"
	"sync"

	"github.com/socialminer/crawler/internal/engine"
)

// Memory keeps items in process memory. Used as the default sink in tests
// and dry runs.
type Memory struct {
	mu    sync.Mutex
	items map[string]engine.NormalizedItem
	order []string
}

// NewMemory builds an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]engine.NormalizedItem)}
}

func itemKey(item engine.NormalizedItem) string {
	return item.Platform + "/" + item.Key
}

// Put stores the item, reporting Duplicate for an already-seen key.
func (m *Memory) Put(_ context.Context, item engine.NormalizedItem) (engine.PutResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := itemKey(item)
	if _, ok := m.items[key]; ok {
		return engine.PutDuplicate, nil
	}
	m.items[key] = item
	m.order = append(m.order, key)
	return engine.PutOK, nil
}

// Items returns the stored items in insertion order.
func (m *Memory) Items() []engine.NormalizedItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]engine.NormalizedItem, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.items[k])
	}
	return out
}

// Len reports the number of distinct items stored.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
