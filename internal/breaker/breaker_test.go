package breaker

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failingConfig() *Config {
	return &Config{
		Threshold:    3,
		FailureRatio: 0.5,
		Timeout:      50 * time.Millisecond,
		Interval:     time.Minute,
	}
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	b := New(failingConfig())

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errBoom })
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen while open, got %v", err)
	}
}

func TestBreaker_StaysClosedOnSuccess(t *testing.T) {
	b := New(failingConfig())
	for i := 0; i < 10; i++ {
		if err := b.Execute(func() error { return nil }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := New(failingConfig())
	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errBoom })
	}
	if b.State() != StateOpen {
		t.Fatal("breaker should be open")
	}

	time.Sleep(60 * time.Millisecond)

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("half-open probe should be allowed: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed after successful probe", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(failingConfig())
	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errBoom })
	}
	time.Sleep(60 * time.Millisecond)

	_ = b.Execute(func() error { return errBoom })
	if b.State() != StateOpen {
		t.Errorf("state = %v, want open after failed probe", b.State())
	}
}

func TestHostBreaker_Isolation(t *testing.T) {
	h := NewHostBreaker(failingConfig())

	for i := 0; i < 3; i++ {
		_ = h.Execute("bad.example.com", func() error { return errBoom })
	}

	if err := h.Execute("good.example.com", func() error { return nil }); err != nil {
		t.Errorf("unrelated host must not be affected: %v", err)
	}
	if err := h.Execute("bad.example.com", func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen for tripped host, got %v", err)
	}

	stats := h.Stats()
	if stats["bad.example.com"].State != "open" {
		t.Errorf("stats state = %q, want open", stats["bad.example.com"].State)
	}
}

func TestHostBreaker_Reset(t *testing.T) {
	h := NewHostBreaker(failingConfig())
	for i := 0; i < 3; i++ {
		_ = h.Execute("bad.example.com", func() error { return errBoom })
	}
	h.Reset("bad.example.com")
	if err := h.Execute("bad.example.com", func() error { return nil }); err != nil {
		t.Errorf("reset breaker should allow requests: %v", err)
	}
}
