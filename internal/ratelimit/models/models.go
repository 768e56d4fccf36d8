package models

import (
	"math"
	"time"
)

// RateLimitResult is the outcome of one check against a bucket.
type RateLimitResult struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	// RetryAfter is in whole seconds and only set when not allowed.
	RetryAfter int `json:"retry_after,omitempty"`
}

// Deny marks the result as rejected and derives RetryAfter from ResetAt.
func (r *RateLimitResult) Deny(now time.Time) {
	r.Allowed = false
	r.Remaining = 0
	r.RetryAfter = RetryAfterSeconds(r.ResetAt.Sub(now))
}

// RetryAfterSeconds rounds d up to whole seconds, never below one.
func RetryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
