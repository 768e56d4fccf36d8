// Package auth extracts the end-user ABHA session token from incoming requests.
package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"healthid/internal/abdm/apierr"
	"healthid/pkg/platform/httputil"
	"healthid/pkg/requestcontext"
)

const (
	headerXToken        = "X-Token"
	headerAuthorization = "Authorization"
	bearerPrefix        = "Bearer "
)

// TokenFromRequest returns the user token from X-Token, falling back to
// Authorization, with any "Bearer " prefix removed.
func TokenFromRequest(r *http.Request) string {
	raw := r.Header.Get(headerXToken)
	if strings.TrimSpace(raw) == "" {
		raw = r.Header.Get(headerAuthorization)
	}
	raw = strings.TrimSpace(raw)
	if after, ok := strings.CutPrefix(raw, bearerPrefix); ok {
		raw = strings.TrimSpace(after)
	}
	return raw
}

// RequireUserToken rejects requests without a user token and stores the token
// in the request context. Tokens that parse as JWTs and carry a past exp claim
// are rejected locally; signatures are left to the authority.
func RequireUserToken(logger *slog.Logger) func(http.Handler) http.Handler {
	parser := jwt.NewParser()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token := TokenFromRequest(r)
			if token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing user token",
					"request_id", requestID,
				)
				httputil.WriteError(w, apierr.New(apierr.KindUnauthorized, "Authorization token is required."))
				return
			}

			claims := jwt.MapClaims{}
			if _, _, err := parser.ParseUnverified(token, claims); err == nil {
				exp, err := claims.GetExpirationTime()
				if err == nil && exp != nil && !requestcontext.Now(ctx).Before(exp.Time) {
					logger.WarnContext(ctx, "unauthorized access - user token expired",
						"request_id", requestID,
						"expired_at", exp.Time,
					)
					httputil.WriteError(w, apierr.New(apierr.KindSessionExpired, "Your session has expired. Please log in again."))
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithUserToken(ctx, token)))
		})
	}
}
