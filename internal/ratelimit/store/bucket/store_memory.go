package bucket

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"healthid/internal/ratelimit/models"
)

// maxIdleBuckets bounds the map before idle buckets are swept.
const maxIdleBuckets = 10_000

// InMemoryBucketStore implements BucketStore with one token bucket per key.
// A bucket holds limit tokens and refills one token every window/limit, so a
// client may burst up to limit requests and then proceeds at the average rate.
// It is per-process; use RedisBucketStore when running more than one replica.
type InMemoryBucketStore struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	now     func() time.Time
}

type tokenBucket struct {
	limiter  *rate.Limiter
	limit    int
	window   time.Duration
	lastSeen time.Time
}

type MemoryOption func(*InMemoryBucketStore)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *InMemoryBucketStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewInMemoryBucketStore creates a new in-memory bucket store.
func NewInMemoryBucketStore(opts ...MemoryOption) *InMemoryBucketStore {
	s := &InMemoryBucketStore{
		buckets: make(map[string]*tokenBucket),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow takes one token from the bucket for key.
func (s *InMemoryBucketStore) Allow(_ context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b := s.getOrCreateBucket(key, limit, window, now)
	b.lastSeen = now

	interval := refillInterval(limit, window)
	result := &models.RateLimitResult{Limit: limit}
	if b.limiter.AllowN(now, 1) {
		tokens := b.limiter.TokensAt(now)
		result.Allowed = true
		result.Remaining = int(tokens)
		result.ResetAt = now.Add(time.Duration((float64(limit) - tokens) * float64(interval)))
		return result, nil
	}

	missing := 1 - b.limiter.TokensAt(now)
	result.ResetAt = now.Add(time.Duration(missing * float64(interval)))
	result.Deny(now)
	return result, nil
}

// Reset drops the bucket for key.
func (s *InMemoryBucketStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

// Len reports the number of live buckets.
func (s *InMemoryBucketStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// getOrCreateBucket returns the bucket for key, replacing it when the limit
// changed. Must be called while holding s.mu.
func (s *InMemoryBucketStore) getOrCreateBucket(key string, limit int, window time.Duration, now time.Time) *tokenBucket {
	if b := s.buckets[key]; b != nil && b.limit == limit && b.window == window {
		return b
	}
	if len(s.buckets) >= maxIdleBuckets {
		s.sweep(now)
	}
	b := &tokenBucket{
		limiter: rate.NewLimiter(rate.Every(refillInterval(limit, window)), limit),
		limit:   limit,
		window:  window,
	}
	s.buckets[key] = b
	return b
}

// sweep removes buckets that have been idle for a full window and are
// therefore back at capacity. Must be called while holding s.mu.
func (s *InMemoryBucketStore) sweep(now time.Time) {
	for key, b := range s.buckets {
		if now.Sub(b.lastSeen) >= b.window {
			delete(s.buckets, key)
		}
	}
}

func refillInterval(limit int, window time.Duration) time.Duration {
	if limit <= 0 {
		return window
	}
	return window / time.Duration(limit)
}
