// Package storage persists normalized detection entries. The relational
// schema is owned by the external storage layer; this package only upserts.
package storage

import (
	"context"
	"time"

	"github.com/blacktide/blacktide/internal/intel"
)

// Store defines the detection-entry persistence interface. Persist is an
// idempotent upsert keyed by (ip, source) and returns the number of
// entries written. Recent returns entries detected on or after since,
// for feed generation.
type Store interface {
	Persist(ctx context.Context, entries []intel.DetectionEntry) (int, error)
	Recent(ctx context.Context, since time.Time) ([]intel.DetectionEntry, error)
	Close()
}
