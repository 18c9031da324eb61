package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func doHealth(t *testing.T, h *Handler) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("undecodable health body: %v", err)
	}
	return rec, resp
}

func TestHandler_AllHealthy(t *testing.T) {
	h := NewHandler(zap.NewNop().Sugar())
	h.Register("runlog", func(ctx context.Context) error { return nil })

	rec, resp := doHealth(t, h)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if resp.Status != StatusHealthy {
		t.Errorf("overall = %s, want healthy", resp.Status)
	}
}

func TestHandler_UnhealthyCheckFailsService(t *testing.T) {
	h := NewHandler(zap.NewNop().Sugar())
	h.Register("runlog", func(ctx context.Context) error { return errors.New("db down") })

	rec, resp := doHealth(t, h)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if resp.Status != StatusUnhealthy {
		t.Errorf("overall = %s, want unhealthy", resp.Status)
	}
}

func TestHandler_DegradedCheckKeeps200(t *testing.T) {
	h := NewHandler(zap.NewNop().Sugar())
	h.Register("runlog", func(ctx context.Context) error { return nil })
	h.RegisterDegraded("cache-primary", func(ctx context.Context) error { return errors.New("redis down") })

	rec, resp := doHealth(t, h)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for degraded", rec.Code)
	}
	if resp.Status != StatusDegraded {
		t.Errorf("overall = %s, want degraded", resp.Status)
	}
}

func TestHandler_Readiness(t *testing.T) {
	h := NewHandler(zap.NewNop().Sugar())

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("not-ready status = %d, want 503", rec.Code)
	}

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("ready status = %d, want 200", rec.Code)
	}
}
