package middleware

import (
	"context"

	"healthid/internal/ratelimit/models"
)

// check consults the primary store and switches to the fallback store while
// the primary fails. degraded reports that the fallback answered. An error is
// returned only when no store could answer.
func (m *Middleware) check(ctx context.Context, key string) (result *models.RateLimitResult, degraded bool, err error) {
	result, err = m.store.Allow(ctx, key, m.limit, m.window)
	if err == nil {
		if _, change := m.breaker.RecordSuccess(); change.Closed {
			m.logger.InfoContext(ctx, "rate limit store recovered")
			m.metrics.SetDegraded(false)
		}
		return result, false, nil
	}

	m.metrics.IncrementStoreErrors()
	if _, change := m.breaker.RecordFailure(); change.Opened {
		m.logger.WarnContext(ctx, "rate limit store failing, using in-memory fallback", "error", err)
		m.metrics.SetDegraded(true)
	}
	if m.fallback == nil {
		return nil, false, err
	}

	result, fbErr := m.fallback.Allow(ctx, key, m.limit, m.window)
	if fbErr != nil {
		return nil, false, fbErr
	}
	return result, true, nil
}
