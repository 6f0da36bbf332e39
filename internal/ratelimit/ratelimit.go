// Package ratelimit provides a token bucket used to cap per-connection
// message rates. Buckets are touched only by the hub's event loop, so
// they carry no lock.
package ratelimit

import "time"

type Bucket struct {
	rate       float64 // tokens per second
	burst      float64
	tokens     float64
	lastUpdate time.Time
}

func NewBucket(rate float64, burst int) *Bucket {
	return &Bucket{
		rate:       rate,
		burst:      float64(burst),
		tokens:     float64(burst),
		lastUpdate: time.Now(),
	}
}

// Allow consumes one token if available.
func (b *Bucket) Allow() bool {
	b.refill(time.Now())
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastUpdate).Seconds()
	b.lastUpdate = now

	b.tokens += elapsed * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
}
