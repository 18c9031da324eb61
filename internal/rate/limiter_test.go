package rate

import (
	"context"
	"testing"
	"time"
)

func TestPerHost_Allow(t *testing.T) {
	p := New(1.0, 1)

	if !p.Allow("portal.example.com") {
		t.Error("first request should be allowed")
	}
	if p.Allow("portal.example.com") {
		t.Error("second immediate request should be limited")
	}
	if !p.Allow("other.example.com") {
		t.Error("different host has its own limiter")
	}
}

func TestPerHost_WaitRespectsContext(t *testing.T) {
	p := New(0.1, 1)
	host := "slow.example.com"

	if err := p.Wait(context.Background(), host); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx, host); err == nil {
		t.Error("expected context deadline error while rate limited")
	}
}

func TestPerHost_WaitEventuallyAllows(t *testing.T) {
	p := New(50.0, 1)
	host := "portal.example.com"

	for i := 0; i < 3; i++ {
		if err := p.Wait(context.Background(), host); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
}
