// Package runlog persists one record per collection run. The run log is
// append-only and is the sole input of the statistics engine.
package runlog

import (
	"context"
	"time"

	"github.com/blacktide/blacktide/internal/intel"
)

// Store defines the run-log persistence interface.
type Store interface {
	// Append durably writes one record. The orchestrator does not report
	// a run as finished until Append has returned.
	Append(ctx context.Context, rec intel.RunLogRecord) error

	// ListBySource returns records for source started at or after since,
	// newest first.
	ListBySource(ctx context.Context, source string, since time.Time) ([]intel.RunLogRecord, error)

	Close()
}
