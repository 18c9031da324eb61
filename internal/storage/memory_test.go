package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacktide/blacktide/internal/intel"
)

func entry(ip, source string, date time.Time) intel.DetectionEntry {
	return intel.DetectionEntry{IP: ip, Source: source, DetectionDate: date, Confidence: intel.ConfidenceHigh}
}

func TestMemoryStore_PersistIsUpsert(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	date := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)

	n, err := s.Persist(ctx, []intel.DetectionEntry{entry("203.0.113.5", "regtech", date)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Same (ip, source) again: replaced, not duplicated.
	later := entry("203.0.113.5", "regtech", date.AddDate(0, 0, 1))
	_, err = s.Persist(ctx, []intel.DetectionEntry{later})
	require.NoError(t, err)

	all := s.All()
	require.Len(t, all, 1)
	assert.Equal(t, later.DetectionDate, all[0].DetectionDate)

	// Same IP from the other source is a distinct entry.
	_, err = s.Persist(ctx, []intel.DetectionEntry{entry("203.0.113.5", "secudium", date)})
	require.NoError(t, err)
	assert.Len(t, s.All(), 2)
}

func TestMemoryStore_RecentFiltersByDate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	old := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	fresh := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)

	_, err := s.Persist(ctx, []intel.DetectionEntry{
		entry("203.0.113.5", "regtech", old),
		entry("198.51.100.7", "regtech", fresh),
		entry("198.51.100.8", "secudium", fresh),
	})
	require.NoError(t, err)

	got, err := s.Recent(ctx, fresh.AddDate(0, 0, -7))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "198.51.100.7", got[0].IP, "results ordered by IP")
	assert.Equal(t, "198.51.100.8", got[1].IP)
}
