package export

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/blacktide/blacktide/internal/intel"
)

func sampleEntries() []intel.DetectionEntry {
	date := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	return []intel.DetectionEntry{
		{IP: "203.0.113.5", Source: "regtech", DetectionDate: date, ThreatType: "C2", Country: "KR", Confidence: intel.ConfidenceHigh},
		{IP: "198.51.100.7", Source: "secudium", DetectionDate: date, ThreatType: "Scan", Country: "CN", Confidence: intel.ConfidenceMedium},
	}
}

func TestWrite_Plain(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatPlain, sampleEntries()); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := "203.0.113.5\n198.51.100.7\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestWrite_CSVHasHeaderAndRows(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatCSV, sampleEntries()); err != nil {
		t.Fatalf("write: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2 rows", len(lines))
	}
	if !strings.HasPrefix(lines[0], "ip,source,") {
		t.Errorf("unexpected header: %q", lines[0])
	}
	if !strings.Contains(lines[1], "203.0.113.5") {
		t.Errorf("first row missing ip: %q", lines[1])
	}
}

func TestWrite_JSONLOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatJSONL, sampleEntries()); err != nil {
		t.Fatalf("write: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var e intel.DetectionEntry
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatalf("line 0 not json: %v", err)
	}
	if e.IP != "203.0.113.5" {
		t.Errorf("ip = %s", e.IP)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"plain": FormatPlain, "txt": FormatPlain, "CSV": FormatCSV,
		"ndjson": FormatJSONL, "json": FormatJSON,
	} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("parquet"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestPusher_PushDeliversBatch(t *testing.T) {
	var got Batch
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	p := NewPusher(srv.URL, t.TempDir(), zap.NewNop().Sugar())
	p.Push(context.Background(), "regtech", sampleEntries())

	if calls.Load() != 1 {
		t.Fatalf("calls = %d", calls.Load())
	}
	if got.Source != "regtech" || len(got.Entries) != 2 {
		t.Errorf("unexpected batch: %+v", got)
	}
}

func TestPusher_OutageSpoolsThenDrains(t *testing.T) {
	spool := t.TempDir()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	p := NewPusher(down.URL, spool, zap.NewNop().Sugar())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	p.Push(ctx, "regtech", sampleEntries())
	cancel()
	down.Close()

	files, _ := os.ReadDir(spool)
	if len(files) != 1 {
		t.Fatalf("spooled files = %d, want 1", len(files))
	}

	var delivered atomic.Int64
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered.Add(1)
	}))
	defer up.Close()

	p2 := NewPusher(up.URL, spool, zap.NewNop().Sugar())
	p2.Drain(context.Background())

	if delivered.Load() != 1 {
		t.Errorf("delivered = %d, want 1", delivered.Load())
	}
	files, _ = os.ReadDir(spool)
	if len(files) != 0 {
		t.Errorf("spool not emptied: %d files left", len(files))
	}
}

func TestPusher_DrainKeepsMalformedFiles(t *testing.T) {
	spool := t.TempDir()
	bad := filepath.Join(spool, "broken.json")
	if err := os.WriteFile(bad, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	p := NewPusher(srv.URL, spool, zap.NewNop().Sugar())
	p.Drain(context.Background())

	if _, err := os.Stat(bad); err != nil {
		t.Error("malformed spool file must be kept for inspection")
	}
}

func TestPusher_EmptyEndpointIsNoop(t *testing.T) {
	p := NewPusher("", t.TempDir(), zap.NewNop().Sugar())
	p.Push(context.Background(), "regtech", sampleEntries())
	files, _ := os.ReadDir(p.spoolDir)
	if len(files) != 0 {
		t.Error("no endpoint configured, nothing should be spooled")
	}
}
