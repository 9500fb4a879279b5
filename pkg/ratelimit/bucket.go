package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is a single token-bucket rate limiter.
type TokenBucket struct {
	capacity   int
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucket creates a bucket allowing bursts of capacity requests,
// refilled at refillRate requests per second.
func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow reports whether a request should be admitted.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens = min(float64(tb.capacity), tb.tokens+elapsed*tb.refillRate)
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

// KeyedBuckets keeps one token bucket per key (client IP, user ID). The HTTP
// layer uses it to cap request rates on the verification endpoints.
type KeyedBuckets struct {
	buckets    map[string]*TokenBucket
	capacity   int
	refillRate float64
	ttl        time.Duration
	mu         sync.Mutex
}

// NewKeyedBuckets creates a per-key limiter. Buckets idle longer than ttl
// are dropped; ttl 0 keeps them forever.
func NewKeyedBuckets(capacity int, refillRate float64, ttl time.Duration) *KeyedBuckets {
	kb := &KeyedBuckets{
		buckets:    make(map[string]*TokenBucket),
		capacity:   capacity,
		refillRate: refillRate,
		ttl:        ttl,
	}
	if ttl > 0 {
		go kb.cleanup()
	}
	return kb
}

// Allow reports whether a request for the given key should be admitted.
func (kb *KeyedBuckets) Allow(key string) bool {
	kb.mu.Lock()
	bucket, ok := kb.buckets[key]
	if !ok {
		bucket = NewTokenBucket(kb.capacity, kb.refillRate)
		kb.buckets[key] = bucket
	}
	kb.mu.Unlock()

	return bucket.Allow()
}

func (kb *KeyedBuckets) cleanup() {
	ticker := time.NewTicker(kb.ttl)
	defer ticker.Stop()

	for range ticker.C {
		kb.mu.Lock()
		now := time.Now()
		for key, bucket := range kb.buckets {
			bucket.mu.Lock()
			idle := now.Sub(bucket.lastRefill)
			bucket.mu.Unlock()
			if idle > kb.ttl {
				delete(kb.buckets, key)
			}
		}
		kb.mu.Unlock()
	}
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
