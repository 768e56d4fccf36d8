// Package bucket holds the counters behind the OTP rate limiter.
package bucket

import (
	"context"
	"time"

	"healthid/internal/ratelimit/models"
)

// BucketStore counts requests per key within a window.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
	Reset(ctx context.Context, key string) error
}

var (
	_ BucketStore = (*InMemoryBucketStore)(nil)
	_ BucketStore = (*RedisBucketStore)(nil)
)
