package rate

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// PerHost limits request rates independently per portal host. The host set
// is small and fixed, so entries are never evicted.
type PerHost struct {
	mu        sync.Mutex
	m         map[string]*rate.Limiter
	perSecond float64
	burst     int
}

func New(perSecond float64, burst int) *PerHost {
	if burst < 1 {
		burst = 1
	}
	return &PerHost{m: make(map[string]*rate.Limiter), perSecond: perSecond, burst: burst}
}

func (p *PerHost) limiter(host string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.m[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(p.perSecond), p.burst)
		p.m[host] = l
	}
	return l
}

// Allow reports whether a request for host may proceed immediately.
func (p *PerHost) Allow(host string) bool {
	return p.limiter(host).Allow()
}

// Wait blocks until a request for host may proceed or ctx is done.
func (p *PerHost) Wait(ctx context.Context, host string) error {
	return p.limiter(host).Wait(ctx)
}
