// Package ratelimit provides the per-key limiter CapabilityStore applies to
// capabilities carrying a rate_limit constraint (at the Limiter's own
// configured rate, not the constraint's value), wrapping
// golang.org/x/time/rate the way the teacher's infrastructure/ratelimit
// package wraps it for outbound service calls.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config describes a single rate_limit constraint (spec.md §3 Capability
// constraints: "N per interval").
type Config struct {
	Requests int
	Interval time.Duration
}

// Limiter enforces one Config per key (typically "agent_id:resource_uri"),
// lazily creating an x/time/rate.Limiter per key.
type Limiter struct {
	mu       sync.Mutex
	cfg      Config
	perKey   map[string]*rate.Limiter
}

// New creates a Limiter enforcing cfg.Requests events per cfg.Interval for
// each distinct key it sees.
func New(cfg Config) *Limiter {
	return &Limiter{cfg: cfg, perKey: make(map[string]*rate.Limiter)}
}

func (l *Limiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.perKey[key]
	if !ok {
		every := rate.Every(l.cfg.Interval / time.Duration(l.cfg.Requests))
		lim = rate.NewLimiter(every, l.cfg.Requests)
		l.perKey[key] = lim
	}
	return lim
}

// Allow reports whether an event for key may proceed now, consuming a token
// if so.
func (l *Limiter) Allow(key string) bool {
	return l.limiterFor(key).Allow()
}

// Reset drops the limiter state tracked for key, so the next Allow for key
// starts from a full bucket.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.perKey, key)
}
