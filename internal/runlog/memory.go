package runlog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/blacktide/blacktide/internal/intel"
)

// MemoryStore keeps run records in process. Used in tests and in
// deployments that run without a database.
type MemoryStore struct {
	mu   sync.RWMutex
	recs []intel.RunLogRecord
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Append(_ context.Context, rec intel.RunLogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *MemoryStore) ListBySource(_ context.Context, source string, since time.Time) ([]intel.RunLogRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []intel.RunLogRecord
	for _, r := range m.recs {
		if r.Source == source && !r.StartedAt.Before(since) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (m *MemoryStore) Close() {}
