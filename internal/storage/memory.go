package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/blacktide/blacktide/internal/intel"
)

// MemoryStore is an in-process Store used in tests and database-less runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]intel.DetectionEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]intel.DetectionEntry)}
}

func (m *MemoryStore) Persist(_ context.Context, entries []intel.DetectionEntry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.entries[e.Key()] = e
	}
	return len(entries), nil
}

func (m *MemoryStore) Recent(_ context.Context, since time.Time) ([]intel.DetectionEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]intel.DetectionEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if !e.DetectionDate.Before(since) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out, nil
}

// All returns a snapshot of everything persisted so far.
func (m *MemoryStore) All() []intel.DetectionEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]intel.DetectionEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}

func (m *MemoryStore) Close() {}
