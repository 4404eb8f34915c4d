package server

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// namespaceLimiter applies a token bucket per namespace and periodically
// evicts idle entries. A nil limiter allows everything.
type namespaceLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	byKey   map[string]*limiterEntry
	hits    uint64
	idleTTL time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newNamespaceLimiter returns nil if rps or burst is not positive.
func newNamespaceLimiter(rps float64, burst int, idleTTL time.Duration) *namespaceLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &namespaceLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		byKey:   make(map[string]*limiterEntry),
		idleTTL: idleTTL,
	}
}

// Allow reports whether one request in namespace may proceed at now.
func (l *namespaceLimiter) Allow(namespace string, now time.Time) bool {
	if l == nil {
		return true
	}
	namespace = strings.TrimSpace(namespace)

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[namespace]
	if !ok {
		e = &limiterEntry{
			limiter:  rate.NewLimiter(l.limit, l.burst),
			lastSeen: now,
		}
		l.byKey[namespace] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}

	return allowed
}
