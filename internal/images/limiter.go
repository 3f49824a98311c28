package images

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// hostLimiter bounds downloads globally and per host, and optionally paces
// each host with a token bucket.
type hostLimiter struct {
	global  *semaphore.Weighted
	perHost int64
	rate    rate.Limit
	burst   int

	mu    sync.Mutex
	hosts map[string]*hostSlot
}

type hostSlot struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

func newHostLimiter(cfg Config) *hostLimiter {
	r := rate.Limit(cfg.HostQPS)
	if cfg.HostQPS <= 0 {
		r = rate.Inf
	}
	return &hostLimiter{
		global:  semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		perHost: int64(cfg.PerHost),
		rate:    r,
		burst:   cfg.HostBurst,
		hosts:   make(map[string]*hostSlot),
	}
}

func (l *hostLimiter) slot(host string) *hostSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.hosts[host]
	if !ok {
		s = &hostSlot{
			sem:     semaphore.NewWeighted(l.perHost),
			limiter: rate.NewLimiter(l.rate, l.burst),
		}
		l.hosts[host] = s
	}
	return s
}

// acquire blocks until host has a free slot, a global slot is free and the
// host's pacing allows a request. The host slot is taken first so waiting on
// a busy host does not hold a global slot.
func (l *hostLimiter) acquire(ctx context.Context, host string) (func(), error) {
	s := l.slot(host)
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait host slot: %w", err)
	}
	if err := l.global.Acquire(ctx, 1); err != nil {
		s.sem.Release(1)
		return nil, fmt.Errorf("wait download slot: %w", err)
	}
	release := func() {
		l.global.Release(1)
		s.sem.Release(1)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		release()
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return release, nil
}
