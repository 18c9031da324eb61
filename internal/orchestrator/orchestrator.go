// Package orchestrator owns the per-source collection state machine. It is
// the fault-isolation boundary: whatever a collector does, the worst
// outcome for the rest of the system is a failure run-log record.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/blacktide/blacktide/internal/cache"
	"github.com/blacktide/blacktide/internal/collector"
	"github.com/blacktide/blacktide/internal/dedup"
	"github.com/blacktide/blacktide/internal/intel"
	"github.com/blacktide/blacktide/internal/logging"
	"github.com/blacktide/blacktide/internal/metrics"
	"github.com/blacktide/blacktide/internal/runlog"
	"github.com/blacktide/blacktide/internal/storage"
)

var (
	ErrUnknownSource  = errors.New("unknown source")
	ErrSourceDisabled = errors.New("source disabled")
	ErrAlreadyRunning = errors.New("collection already running")
)

// Status is the observable per-source state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusDisabled  Status = "disabled"
)

// SourceState is a snapshot of one source, as returned to callers.
type SourceState struct {
	Name      string     `json:"name"`
	Enabled   bool       `json:"enabled"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	Status    Status     `json:"status"`
}

type sourceState struct {
	enabled   bool
	running   bool
	lastRunAt *time.Time
	last      Status // succeeded or failed after the first run
}

// Orchestrator coordinates collectors, the run log, entry storage and the
// status cache. All state is owned by the instance; nothing is global, so
// independent instances (e.g. in tests) cannot interfere.
type Orchestrator struct {
	mu         sync.Mutex
	states     map[string]*sourceState
	collectors map[string]collector.Collector

	runs     runlog.Store
	store    storage.Store
	cache    *cache.Backend
	dedup    dedup.Interface
	exporter Exporter
	log      *logging.Logger

	wg sync.WaitGroup
}

// Exporter receives newly persisted entries after a successful run.
// Export failures are the exporter's problem; they never fail a run.
type Exporter interface {
	Push(ctx context.Context, source string, entries []intel.DetectionEntry)
}

// New builds an orchestrator over the given collectors. Every source
// starts enabled and idle. cache and dd may be nil.
func New(collectors map[string]collector.Collector, runs runlog.Store, store storage.Store,
	cacheBackend *cache.Backend, dd dedup.Interface, log *logging.Logger) *Orchestrator {
	states := make(map[string]*sourceState, len(collectors))
	for name := range collectors {
		states[name] = &sourceState{enabled: true}
	}
	return &Orchestrator{
		states:     states,
		collectors: collectors,
		runs:       runs,
		store:      store,
		cache:      cacheBackend,
		dedup:      dd,
		log:        log,
	}
}

// SetExporter attaches a downstream feed exporter. Must be called before
// the first Trigger.
func (o *Orchestrator) SetExporter(e Exporter) { o.exporter = e }

// Enable allows triggers for source again.
func (o *Orchestrator) Enable(source string) error {
	return o.setEnabled(source, true)
}

// Disable rejects future triggers for source. A run already in flight is
// not interrupted.
func (o *Orchestrator) Disable(source string) error {
	return o.setEnabled(source, false)
}

func (o *Orchestrator) setEnabled(source string, enabled bool) error {
	o.mu.Lock()
	st, ok := o.states[source]
	if !ok {
		o.mu.Unlock()
		return ErrUnknownSource
	}
	st.enabled = enabled
	o.mu.Unlock()
	o.mirrorState(source)
	o.log.Info("source toggled", "source", source, "enabled", enabled)
	return nil
}

// Trigger starts a collection run for source. The call is fire-and-forget:
// a nil return means the run was accepted and is executing in its own
// goroutine; the outcome is observable via State and the statistics engine.
func (o *Orchestrator) Trigger(ctx context.Context, source string, dr intel.DateRange) error {
	o.mu.Lock()
	st, ok := o.states[source]
	if !ok {
		o.mu.Unlock()
		return ErrUnknownSource
	}
	if !st.enabled {
		o.mu.Unlock()
		return ErrSourceDisabled
	}
	if st.running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	st.running = true
	o.mu.Unlock()
	o.mirrorState(source)

	c := o.collectors[source]
	o.wg.Add(1)
	go o.run(ctx, c, dr)
	return nil
}

// State returns a snapshot for one source.
func (o *Orchestrator) State(source string) (SourceState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.states[source]
	if !ok {
		return SourceState{}, false
	}
	return snapshot(source, st), true
}

// States returns snapshots for every configured source.
func (o *Orchestrator) States() []SourceState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]SourceState, 0, len(o.states))
	for name, st := range o.states {
		out = append(out, snapshot(name, st))
	}
	return out
}

// Wait blocks until all in-flight runs have finished. For shutdown.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func snapshot(name string, st *sourceState) SourceState {
	s := SourceState{Name: name, Enabled: st.enabled, LastRunAt: st.lastRunAt}
	switch {
	case st.running:
		s.Status = StatusRunning
	case !st.enabled:
		s.Status = StatusDisabled
	case st.last != "":
		s.Status = st.last
	default:
		s.Status = StatusIdle
	}
	return s
}

// run executes one collection. The running flag is always released, and
// exactly one run-log record is written, whatever happens inside the
// collector - including a panic.
func (o *Orchestrator) run(ctx context.Context, c collector.Collector, dr intel.DateRange) {
	defer o.wg.Done()
	source := c.Source()
	startedAt := time.Now().UTC()

	tr := otel.Tracer("blacktide/orchestrator")
	ctx, span := tr.Start(ctx, "CollectRun")
	span.SetAttributes(attribute.String("source", source))
	defer span.End()

	var (
		res    *collector.CollectionResult
		runErr error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("collector panic: %v", r)
				o.log.Error("collector panicked", "source", source, "panic", r)
			}
		}()
		res, runErr = c.Collect(ctx, dr)
	}()

	persisted := 0
	if runErr == nil {
		persisted, runErr = o.persist(ctx, source, res)
	}

	// ResultCount is what the run collected; dedup only reduces what gets
	// re-written to storage.
	rec := intel.RunLogRecord{
		Source:     source,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
		Status:     intel.RunSuccess,
	}
	if res != nil {
		rec.ResultCount = len(res.Entries)
	}
	if runErr != nil {
		rec.Status = intel.RunFailure
		rec.Error = runErr.Error()
	}
	// Append before the state flips: a run is not finished until its
	// record is durable.
	if err := o.runs.Append(ctx, rec); err != nil {
		o.log.Error("run log append failed", "source", source, "err", err)
	}

	o.mu.Lock()
	st := o.states[source]
	st.running = false
	st.lastRunAt = &rec.FinishedAt
	if runErr != nil {
		st.last = StatusFailed
	} else {
		st.last = StatusSucceeded
	}
	o.mu.Unlock()
	o.mirrorState(source)

	metrics.RunsTotal.WithLabelValues(source, string(rec.Status)).Inc()
	if runErr != nil {
		o.log.Warn("collection run failed", "source", source, "err", runErr)
		return
	}
	metrics.EntriesTotal.WithLabelValues(source).Add(float64(persisted))
	metrics.SkippedTotal.WithLabelValues(source).Add(float64(res.Skipped))
	o.log.Info("collection run finished", "source", source,
		"collected", len(res.Entries), "persisted", persisted, "skipped", res.Skipped)
}

func (o *Orchestrator) persist(ctx context.Context, source string, res *collector.CollectionResult) (int, error) {
	entries := dedup.FilterNew(o.dedup, res.Entries)
	if len(entries) == 0 {
		return 0, nil
	}
	n, err := o.store.Persist(ctx, entries)
	if err != nil {
		return n, fmt.Errorf("failed to persist entries: %w", err)
	}
	if o.exporter != nil {
		o.exporter.Push(ctx, source, entries)
	}
	return n, nil
}

// mirrorState publishes the source snapshot into the cache backend so
// other processes can read collection status without touching this one.
func (o *Orchestrator) mirrorState(source string) {
	if o.cache == nil {
		return
	}
	st, ok := o.State(source)
	if !ok {
		return
	}
	b, err := json.Marshal(st)
	if err != nil {
		return
	}
	o.cache.Set(context.Background(), "source:state:"+source, b, time.Hour)
}
