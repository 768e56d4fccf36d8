package testutil

import (
	"net/http"
	"time"

	"healthid/pkg/requestcontext"
)

// WithRequestID adds a request id to the request context.
func WithRequestID(req *http.Request, id string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), id))
}

// WithRequestTime pins the request time used for token expiry checks.
func WithRequestTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}

// WithClient sets the caller IP and user agent seen by audit and rate limiting.
func WithClient(req *http.Request, ip, userAgent string) *http.Request {
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, userAgent))
}
