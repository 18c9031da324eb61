// Package stats derives source success rates and period availability from
// the run log. The engine is read-only and safe for concurrent use.
package stats

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/blacktide/blacktide/internal/intel"
)

// Reader is the slice of the run-log store the engine needs.
type Reader interface {
	ListBySource(ctx context.Context, source string, since time.Time) ([]intel.RunLogRecord, error)
}

// PeriodStatus describes one availability window for a source.
type PeriodStatus struct {
	Available  bool `json:"available"`
	EntryCount int  `json:"entry_count"`
}

// Periods are the fixed availability windows, label -> trailing days.
var Periods = map[string]int{
	"last_day":     1,
	"last_week":    7,
	"last_month":   30,
	"last_quarter": 90,
}

type Engine struct {
	log Reader
	now func() time.Time
}

func New(log Reader) *Engine {
	return &Engine{log: log, now: time.Now}
}

// SuccessRate returns the percentage of successful runs for source within
// the trailing window, rounded to one decimal. Zero records in the window
// yields 0.0, not an error.
func (e *Engine) SuccessRate(ctx context.Context, source string, windowDays int) (float64, error) {
	since := e.now().UTC().AddDate(0, 0, -windowDays)
	recs, err := e.log.ListBySource(ctx, source, since)
	if err != nil {
		return 0, fmt.Errorf("failed to read run log: %w", err)
	}
	if len(recs) == 0 {
		return 0.0, nil
	}
	successes := 0
	for _, r := range recs {
		if r.Status == intel.RunSuccess {
			successes++
		}
	}
	pct := float64(successes) / float64(len(recs)) * 100
	return math.Round(pct*10) / 10, nil
}

// PeriodAvailability reports, for each fixed window, whether at least one
// successful run with entries exists fully inside it, plus the total entry
// count successful runs contributed in that window.
func (e *Engine) PeriodAvailability(ctx context.Context, source string) (map[string]PeriodStatus, error) {
	// One read covering the widest window, then bucket locally.
	maxDays := 0
	for _, d := range Periods {
		if d > maxDays {
			maxDays = d
		}
	}
	now := e.now().UTC()
	recs, err := e.log.ListBySource(ctx, source, now.AddDate(0, 0, -maxDays))
	if err != nil {
		return nil, fmt.Errorf("failed to read run log: %w", err)
	}

	out := make(map[string]PeriodStatus, len(Periods))
	for label, days := range Periods {
		cutoff := now.AddDate(0, 0, -days)
		status := PeriodStatus{}
		for _, r := range recs {
			if r.StartedAt.Before(cutoff) || r.Status != intel.RunSuccess {
				continue
			}
			status.EntryCount += r.ResultCount
			if r.ResultCount > 0 {
				status.Available = true
			}
		}
		out[label] = status
	}
	return out, nil
}
