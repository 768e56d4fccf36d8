// Package requesttime captures a single "now" per request so that transaction
// timestamps, token expiry checks and audit events agree.
package requesttime

import (
	"net/http"
	"time"

	"healthid/pkg/requestcontext"
)

// Middleware stamps each request with the wall clock.
var Middleware = WithClock(time.Now)

// WithClock stamps each request with now(), truncated to milliseconds to match
// the precision carried in audit events.
func WithClock(now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			stamped := now().UTC().Truncate(time.Millisecond)
			next.ServeHTTP(w, r.WithContext(requestcontext.WithTime(r.Context(), stamped)))
		})
	}
}
