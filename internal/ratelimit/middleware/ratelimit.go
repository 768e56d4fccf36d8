package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"healthid/internal/abdm/apierr"
	"healthid/internal/audit"
	"healthid/internal/platform/logger"
	"healthid/internal/ratelimit/metrics"
	"healthid/internal/ratelimit/models"
	"healthid/internal/ratelimit/observability"
	"healthid/internal/ratelimit/store/bucket"
	"healthid/pkg/platform/circuit"
	"healthid/pkg/platform/httputil"
	metadata "healthid/pkg/platform/middleware/metadata"
	"healthid/pkg/requestcontext"
)

const msgOTPRateLimited = "Too many OTP requests. Please wait before requesting another OTP."

// Middleware limits OTP issuance per client IP.
type Middleware struct {
	store    bucket.BucketStore
	fallback bucket.BucketStore
	breaker  *circuit.Breaker
	limit    int
	window   time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	audit    observability.AuditPublisher
	disabled bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely (for testing/demo mode).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

// WithFallback sets the store used while the primary store is failing.
func WithFallback(store bucket.BucketStore) Option {
	return func(m *Middleware) {
		m.fallback = store
	}
}

func WithMetrics(met *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = met
	}
}

func WithAuditPublisher(publisher observability.AuditPublisher) Option {
	return func(m *Middleware) {
		m.audit = publisher
	}
}

// New creates a limiter allowing limit OTP requests per window per client.
func New(store bucket.BucketStore, limit int, window time.Duration, logger *slog.Logger, opts ...Option) (*Middleware, error) {
	if store == nil {
		return nil, errors.New("rate limit store is required")
	}
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limit and window must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Middleware{
		store:   store,
		breaker: circuit.New("ratelimit-store"),
		limit:   limit,
		window:  window,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m, nil
}

// OTP returns middleware for routes that make the authority send an OTP.
// Store failures never block the request.
func (m *Middleware) OTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		ip := requestcontext.ClientIP(ctx)
		if ip == "" {
			ip = metadata.ClientIPFromRequest(r)
		}

		result, degraded, err := m.check(ctx, models.NewOTPKey(ip))
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to check OTP rate limit",
				"error", err,
				"client", logger.Fingerprint(ip),
			)
			next.ServeHTTP(w, r)
			return
		}

		addRateLimitHeaders(w, result)
		if degraded {
			w.Header().Set("X-RateLimit-Status", "degraded")
		}

		if !result.Allowed {
			m.metrics.IncrementRejected()
			observability.LogAudit(ctx, m.logger, m.audit, audit.ActionRateLimitExceeded,
				"subject", logger.Fingerprint(ip),
				"reason", string(apierr.KindRateLimited),
				"path", r.URL.Path,
				"retry_after", result.RetryAfter,
			)
			writeRateLimitExceeded(w, result)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteError(w, apierr.New(apierr.KindRateLimited, msgOTPRateLimited))
}
