package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/blacktide/blacktide/internal/logging"
)

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits            int64 `json:"hits"`
	Misses          int64 `json:"misses"`
	Sets            int64 `json:"sets"`
	Deletes         int64 `json:"deletes"`
	PrimaryHits     int64 `json:"primary_hits"`
	FallbackHits    int64 `json:"fallback_hits"`
	FallbackEntries int   `json:"fallback_entries"`
}

// Health reports backend reachability and fallback occupancy.
type Health struct {
	PrimaryAvailable bool  `json:"primary_available"`
	FallbackSize     int   `json:"fallback_size"`
	Stats            Stats `json:"stats"`
}

// Backend is the unified cache surface: a redis primary with an in-process
// fallback store. A primary outage degrades capacity and cross-process
// sharing but never produces a hard failure for callers.
type Backend struct {
	primary *redis.Client
	fb      *fallbackStore
	log     *logging.Logger

	mu    sync.Mutex
	stats Stats
}

// New builds a Backend. redisAddr may be empty to run fallback-only.
// An unreachable redis at construction time is tolerated: the client is
// kept and retried on every call.
func New(redisAddr string, fallbackCapacity int, log *logging.Logger) *Backend {
	var cli *redis.Client
	if redisAddr != "" {
		cli = redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := cli.Ping(context.Background()).Err(); err != nil {
			log.Warn("cache primary unreachable, starting degraded", "addr", redisAddr, "err", err)
		}
	}
	return &Backend{
		primary: cli,
		fb:      newFallbackStore(fallbackCapacity),
		log:     log,
	}
}

// Get tries the primary first and falls through to the fallback store.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool) {
	if b.primary != nil {
		val, err := b.primary.Get(ctx, key).Bytes()
		if err == nil {
			b.count(func(s *Stats) { s.Hits++; s.PrimaryHits++ })
			return val, true
		}
		if err != redis.Nil {
			b.log.Debug("cache primary get failed", "key", key, "err", err)
		}
	}
	if val, ok := b.fb.get(key); ok {
		b.count(func(s *Stats) { s.Hits++; s.FallbackHits++ })
		return val, true
	}
	b.count(func(s *Stats) { s.Misses++ })
	return nil, false
}

// Set writes to the primary when reachable and always to the fallback, so
// the fallback stays warm for a primary outage.
func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if b.primary != nil {
		if err := b.primary.Set(ctx, key, value, ttl).Err(); err != nil {
			b.log.Debug("cache primary set failed", "key", key, "err", err)
		}
	}
	b.fb.set(key, value, ttl)
	b.count(func(s *Stats) { s.Sets++ })
}

// Delete removes the key from both backends, best-effort on the primary.
func (b *Backend) Delete(ctx context.Context, key string) {
	if b.primary != nil {
		if err := b.primary.Del(ctx, key).Err(); err != nil {
			b.log.Debug("cache primary delete failed", "key", key, "err", err)
		}
	}
	b.fb.delete(key)
	b.count(func(s *Stats) { s.Deletes++ })
}

// HealthCheck pings the primary and reports fallback occupancy.
func (b *Backend) HealthCheck(ctx context.Context) Health {
	available := false
	if b.primary != nil {
		available = b.primary.Ping(ctx).Err() == nil
	}
	return Health{
		PrimaryAvailable: available,
		FallbackSize:     b.fb.size(),
		Stats:            b.GetStats(),
	}
}

// GetStats returns a snapshot of the counters.
func (b *Backend) GetStats() Stats {
	b.mu.Lock()
	s := b.stats
	b.mu.Unlock()
	s.FallbackEntries = b.fb.size()
	return s
}

func (b *Backend) count(fn func(*Stats)) {
	b.mu.Lock()
	fn(&b.stats)
	b.mu.Unlock()
}

// fallbackStore is a bounded in-process map. Expired entries are evicted
// lazily on get; when capacity is exceeded the oldest-inserted key goes
// first. One mutex guards everything.
type fallbackStore struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*fbEntry
	order    *list.List // front = oldest inserted
}

type fbEntry struct {
	value     []byte
	expiresAt time.Time
	elem      *list.Element
}

func newFallbackStore(capacity int) *fallbackStore {
	if capacity < 1 {
		capacity = 1
	}
	return &fallbackStore{
		capacity: capacity,
		entries:  make(map[string]*fbEntry),
		order:    list.New(),
	}
}

func (f *fallbackStore) get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		f.order.Remove(e.elem)
		delete(f.entries, key)
		return nil, false
	}
	return e.value, true
}

func (f *fallbackStore) set(key string, value []byte, ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[key]; ok {
		// Overwrite keeps the original insertion position.
		e.value = value
		e.expiresAt = time.Now().Add(ttl)
		return
	}
	for len(f.entries) >= f.capacity {
		oldest := f.order.Front()
		if oldest == nil {
			break
		}
		f.order.Remove(oldest)
		delete(f.entries, oldest.Value.(string))
	}
	f.entries[key] = &fbEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
		elem:      f.order.PushBack(key),
	}
}

func (f *fallbackStore) delete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[key]; ok {
		f.order.Remove(e.elem)
		delete(f.entries, key)
	}
}

func (f *fallbackStore) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
