// Package ratelimiter gates inbound records per service using a
// sharded token-bucket predicate.
package ratelimiter

import (
	"sync"
	"time"
)

// bucket is a direct token-bucket implementation: storedPermits refill at
// permitsPerSecond and are capped at maxPermits. Built by hand rather than
// through a general-purpose rate limiting library, because the warm/cold
// burst behavior this package needs (see newBucket) is not reachable
// through such a library's public API without reflecting into private
// fields.
type bucket struct {
	mu sync.Mutex

	permitsPerSecond float64
	maxPermits       float64
	storedPermits    float64
	lastRefill       time.Time

	now func() time.Time
}

// newBucket constructs a bucket with the given steady-state rate and burst
// capacity expressed in seconds of accumulation. If warm, the bucket
// starts full (storedPermits == maxPermits); otherwise it starts empty and
// must accumulate permits before admitting anything.
func newBucket(permitsPerSecond float64, maxBurstSeconds float64, warm bool, now func() time.Time) *bucket {
	if now == nil {
		now = time.Now
	}
	maxPermits := permitsPerSecond * maxBurstSeconds
	stored := 0.0
	if warm {
		stored = maxPermits
	}
	return &bucket{
		permitsPerSecond: permitsPerSecond,
		maxPermits:       maxPermits,
		storedPermits:    stored,
		lastRefill:       now(),
		now:              now,
	}
}

// tryAcquire attempts to take `permits` tokens without blocking. It
// refills based on elapsed wall-clock time, then admits iff enough
// permits are stored.
func (b *bucket) tryAcquire(permits float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(b.now())

	if b.storedPermits < permits {
		return false
	}
	b.storedPermits -= permits
	return true
}

func (b *bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.lastRefill = now

	b.storedPermits += elapsed.Seconds() * b.permitsPerSecond
	if b.storedPermits > b.maxPermits {
		b.storedPermits = b.maxPermits
	}
}
