package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/blacktide/blacktide/internal/intel"
	"github.com/blacktide/blacktide/internal/logging"
	"github.com/blacktide/blacktide/internal/metrics"
)

// Batch is one ingest payload.
type Batch struct {
	ExportedAt time.Time             `json:"exported_at"`
	Source     string                `json:"source"`
	Entries    []intel.DetectionEntry `json:"entries"`
}

// Pusher POSTs entry batches to an ingest endpoint. When the endpoint is
// down the batch is spooled to disk and resent on the next Drain.
type Pusher struct {
	endpoint string
	spoolDir string
	client   *http.Client
	log      *logging.Logger
}

func NewPusher(endpoint, spoolDir string, log *logging.Logger) *Pusher {
	_ = os.MkdirAll(spoolDir, 0o755)
	return &Pusher{
		endpoint: endpoint,
		spoolDir: spoolDir,
		client:   &http.Client{Timeout: 20 * time.Second},
		log:      log,
	}
}

// Push ships one batch. A failed POST is spooled, not returned as an
// error: export must never fail a collection run.
func (p *Pusher) Push(ctx context.Context, source string, entries []intel.DetectionEntry) {
	if p.endpoint == "" || len(entries) == 0 {
		return
	}
	b := Batch{ExportedAt: time.Now().UTC(), Source: source, Entries: entries}
	if err := p.post(ctx, b); err != nil {
		p.log.Warn("ingest failed, spooling", "source", source, "err", err)
		p.spool(b)
		return
	}
	metrics.ExportBatches.Inc()
}

func (p *Pusher) post(ctx context.Context, b Batch) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return err
	}
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("bad status: %d", resp.StatusCode)
		}
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

func (p *Pusher) spool(b Batch) {
	name := time.Now().UTC().Format("20060102T150405.000000000") + ".json"
	path := filepath.Join(p.spoolDir, name)
	f, err := os.Create(path)
	if err != nil {
		p.log.Error("spool create failed", "err", err)
		return
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(b); err != nil {
		p.log.Error("spool write failed", "path", path, "err", err)
	}
}

// Drain resends spooled batches, deleting each one that the endpoint
// accepts. Called on startup and shutdown.
func (p *Pusher) Drain(ctx context.Context) {
	if p.endpoint == "" {
		return
	}
	entries, err := os.ReadDir(p.spoolDir)
	if err != nil {
		return
	}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		path := filepath.Join(p.spoolDir, ent.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var b Batch
		if err := json.Unmarshal(raw, &b); err != nil {
			// Unreadable spool files are kept for operator inspection.
			p.log.Warn("skipping malformed spool file", "path", path)
			continue
		}
		if err := p.post(ctx, b); err != nil {
			p.log.Warn("spooled batch still undeliverable", "path", path, "err", err)
			continue
		}
		metrics.ExportBatches.Inc()
		_ = os.Remove(path)
	}
}
