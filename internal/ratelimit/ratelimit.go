// Package ratelimit provides per-endpoint token-bucket limiting for
// outbound calls, so a burst of swap activity can't overwhelm the scoring
// engine. The risk client is the only caller that consults a Limiter;
// chain adapter calls are not rate-limited.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter guards a named set of endpoints, each with its own token
// bucket. A missing name is treated as unlimited — callers only need to
// register the endpoints they want bounded.
type Limiter struct {
	mu       sync.RWMutex
	buckets  map[string]*rate.Limiter
}

// New creates an empty Limiter.
func New() *Limiter {
	return &Limiter{buckets: make(map[string]*rate.Limiter)}
}

// Configure installs or replaces the token bucket for name: rps is the
// steady-state rate and burst is the maximum instantaneous allowance.
func (l *Limiter) Configure(name string, rps float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[name] = rate.NewLimiter(rate.Limit(rps), burst)
}

// Wait blocks until name's bucket admits one call, or ctx is cancelled.
// An unconfigured name never blocks.
func (l *Limiter) Wait(ctx context.Context, name string) error {
	l.mu.RLock()
	b, ok := l.buckets[name]
	l.mu.RUnlock()
	if !ok {
		return nil
	}
	return b.Wait(ctx)
}

// Allow reports whether name's bucket currently has a token available,
// without blocking or consuming it on a negative result. An unconfigured
// name always allows.
func (l *Limiter) Allow(name string) bool {
	l.mu.RLock()
	b, ok := l.buckets[name]
	l.mu.RUnlock()
	if !ok {
		return true
	}
	return b.Allow()
}
