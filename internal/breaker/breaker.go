// Package breaker implements a per-host circuit breaker for portal calls.
// A portal that keeps failing gets a cool-off window before the next probe
// request is allowed through.
package breaker

import (
	"errors"
	"sync"
	"time"
)

var ErrOpen = errors.New("circuit breaker open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes when a breaker trips and how long it stays open.
type Config struct {
	// Threshold is the minimum number of requests in the current interval
	// before the failure ratio is evaluated.
	Threshold uint32
	// FailureRatio at or above which the breaker opens.
	FailureRatio float64
	// Timeout is how long the breaker stays open before a half-open probe.
	Timeout time.Duration
	// Interval is the cyclic period after which closed-state counts reset.
	Interval time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Threshold:    5,
		FailureRatio: 0.6,
		Timeout:      30 * time.Second,
		Interval:     60 * time.Second,
	}
}

// Breaker is a single counting circuit breaker.
type Breaker struct {
	mu          sync.Mutex
	cfg         *Config
	state       State
	requests    uint32
	failures    uint32
	nextAttempt time.Time
	lastReset   time.Time
}

func New(cfg *Config) *Breaker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Breaker{cfg: cfg, state: StateClosed, lastReset: time.Now()}
}

// Execute runs fn if the breaker allows it and records the outcome.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn()
	b.record(err == nil)
	return err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Counts() (requests, failures uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests, b.failures
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()

	if b.state == StateClosed && now.Sub(b.lastReset) > b.cfg.Interval {
		b.requests, b.failures = 0, 0
		b.lastReset = now
	}

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if now.After(b.nextAttempt) {
			b.state = StateHalfOpen
			return true
		}
		return false
	}
	return false
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()

	b.requests++
	if !success {
		b.failures++
	}

	switch b.state {
	case StateClosed:
		if b.requests >= b.cfg.Threshold &&
			float64(b.failures)/float64(b.requests) >= b.cfg.FailureRatio {
			b.state = StateOpen
			b.nextAttempt = now.Add(b.cfg.Timeout)
		}
	case StateHalfOpen:
		if success {
			b.state = StateClosed
			b.requests, b.failures = 0, 0
			b.lastReset = now
		} else {
			b.state = StateOpen
			b.nextAttempt = now.Add(b.cfg.Timeout)
		}
	}
}

// HostBreaker keys independent breakers by portal host.
type HostBreaker struct {
	mu       sync.Mutex
	cfg      *Config
	breakers map[string]*Breaker
}

func NewHostBreaker(cfg *Config) *HostBreaker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &HostBreaker{cfg: cfg, breakers: make(map[string]*Breaker)}
}

func (h *HostBreaker) get(host string) *Breaker {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.breakers[host]
	if !ok {
		b = New(h.cfg)
		h.breakers[host] = b
	}
	return b
}

// Execute runs fn under the breaker for host.
func (h *HostBreaker) Execute(host string, fn func() error) error {
	return h.get(host).Execute(fn)
}

// Reset discards the breaker for host.
func (h *HostBreaker) Reset(host string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.breakers, host)
}

// Stats reports per-host breaker state.
func (h *HostBreaker) Stats() map[string]struct {
	State    string
	Requests uint32
	Failures uint32
} {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]struct {
		State    string
		Requests uint32
		Failures uint32
	}, len(h.breakers))
	for host, b := range h.breakers {
		req, fail := b.Counts()
		out[host] = struct {
			State    string
			Requests uint32
			Failures uint32
		}{State: b.State().String(), Requests: req, Failures: fail}
	}
	return out
}
