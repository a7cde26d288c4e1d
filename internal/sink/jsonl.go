package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/socialminer/crawler/internal/engine"
)

// JSONL appends one JSON line per item to a file. Dedup within the process
// is tracked in memory; restarting the process may append keys already in
// the file, which downstream consumers treat as upserts.
type JSONL struct {
	mu   sync.Mutex
	f    *os.File
	enc  *json.Encoder
	seen map[string]bool
}

// NewJSONL opens (or creates) the output file for appending.
func NewJSONL(path string) (*JSONL, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sink dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open sink file: %w", err)
	}
	return &JSONL{
		f:    f,
		enc:  json.NewEncoder(f),
		seen: make(map[string]bool),
	}, nil
}

// Put appends the item as one JSON line.
func (j *JSONL) Put(_ context.Context, item engine.NormalizedItem) (engine.PutResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	key := itemKey(item)
	if j.seen[key] {
		return engine.PutDuplicate, nil
	}
	if err := j.enc.Encode(item); err != nil {
		return "", fmt.Errorf("write item %s: %w", key, err)
	}
	j.seen[key] = true
	return engine.PutOK, nil
}

// Close flushes and closes the underlying file.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.f.Close(); err != nil {
		return fmt.Errorf("close sink file: %w", err)
	}
	return nil
}
