package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestBackend_SetGetWithPrimary(t *testing.T) {
	mr := miniredis.RunT(t)
	b := New(mr.Addr(), 16, testLogger())
	ctx := context.Background()

	b.Set(ctx, "k", []byte("v"), time.Minute)
	val, ok := b.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	stats := b.GetStats()
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.PrimaryHits)
	assert.Equal(t, int64(0), stats.FallbackHits)
}

func TestBackend_FallbackWhenPrimaryDown(t *testing.T) {
	mr := miniredis.RunT(t)
	b := New(mr.Addr(), 16, testLogger())
	ctx := context.Background()

	b.Set(ctx, "k", []byte("v"), time.Minute)
	mr.Close()

	val, ok := b.Get(ctx, "k")
	require.True(t, ok, "fallback should serve the dual-written value")
	assert.Equal(t, []byte("v"), val)

	stats := b.GetStats()
	assert.Equal(t, int64(1), stats.FallbackHits)
}

func TestBackend_SetSurvivesPrimaryOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	b := New(mr.Addr(), 16, testLogger())
	ctx := context.Background()
	mr.Close()

	// Must not fail even though the primary is gone.
	b.Set(ctx, "k", []byte("v"), time.Minute)
	_, ok := b.Get(ctx, "k")
	assert.True(t, ok)
}

func TestBackend_Miss(t *testing.T) {
	b := New("", 16, testLogger())
	_, ok := b.Get(context.Background(), "nope")
	assert.False(t, ok)
	assert.Equal(t, int64(1), b.GetStats().Misses)
}

func TestBackend_Delete(t *testing.T) {
	mr := miniredis.RunT(t)
	b := New(mr.Addr(), 16, testLogger())
	ctx := context.Background()

	b.Set(ctx, "k", []byte("v"), time.Minute)
	b.Delete(ctx, "k")

	_, ok := b.Get(ctx, "k")
	assert.False(t, ok)
	assert.False(t, mr.Exists("k"))
}

func TestBackend_HealthCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	b := New(mr.Addr(), 16, testLogger())
	ctx := context.Background()

	h := b.HealthCheck(ctx)
	assert.True(t, h.PrimaryAvailable)

	b.Set(ctx, "k", []byte("v"), time.Minute)
	mr.Close()

	h = b.HealthCheck(ctx)
	assert.False(t, h.PrimaryAvailable)
	assert.Equal(t, 1, h.FallbackSize)
}

func TestFallback_TTLExpiry(t *testing.T) {
	b := New("", 16, testLogger())
	ctx := context.Background()

	b.Set(ctx, "k", []byte("v"), 10*time.Millisecond)
	_, ok := b.Get(ctx, "k")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = b.Get(ctx, "k")
	assert.False(t, ok, "expired entry must be evicted on get")
}

func TestFallback_EvictsOldestInserted(t *testing.T) {
	b := New("", 2, testLogger())
	ctx := context.Background()

	b.Set(ctx, "a", []byte("1"), time.Minute)
	b.Set(ctx, "b", []byte("2"), time.Minute)
	b.Set(ctx, "c", []byte("3"), time.Minute)

	_, ok := b.Get(ctx, "a")
	assert.False(t, ok, "oldest-inserted key should have been evicted")
	_, ok = b.Get(ctx, "b")
	assert.True(t, ok)
	_, ok = b.Get(ctx, "c")
	assert.True(t, ok)
}

func TestFallback_OverwriteDoesNotGrow(t *testing.T) {
	b := New("", 2, testLogger())
	ctx := context.Background()

	b.Set(ctx, "a", []byte("1"), time.Minute)
	b.Set(ctx, "a", []byte("2"), time.Minute)
	b.Set(ctx, "b", []byte("3"), time.Minute)

	val, ok := b.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, []byte("2"), val)
	assert.Equal(t, 2, b.GetStats().FallbackEntries)
}
