package auth

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthid/pkg/requestcontext"
	"healthid/pkg/testutil"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "91-1234-5678-9012",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return s
}

func serve(t *testing.T, r *http.Request) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var seen string
	h := RequireUserToken(slog.New(slog.NewTextHandler(io.Discard, nil)))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = requestcontext.UserToken(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w, seen
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error.Code
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"x-token with bearer", map[string]string{"X-Token": "Bearer abc"}, "abc"},
		{"x-token bare", map[string]string{"X-Token": "abc"}, "abc"},
		{"authorization fallback", map[string]string{"Authorization": "Bearer xyz"}, "xyz"},
		{"x-token preferred", map[string]string{"X-Token": "Bearer a", "Authorization": "Bearer b"}, "a"},
		{"none", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, TokenFromRequest(r))
		})
	}
}

func TestRequireUserToken(t *testing.T) {
	t.Run("missing token is unauthorized", func(t *testing.T) {
		w, _ := serve(t, httptest.NewRequest(http.MethodGet, "/api/profile", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "UNAUTHORIZED", errorCode(t, w))
	})

	t.Run("opaque token passes through", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
		r.Header.Set("X-Token", "Bearer opaque-session")

		w, seen := serve(t, r)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "opaque-session", seen)
	})

	t.Run("unexpired jwt passes through", func(t *testing.T) {
		token := signedToken(t, time.Now().Add(time.Hour))
		r := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
		r.Header.Set("Authorization", "Bearer "+token)

		w, seen := serve(t, r)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, token, seen)
	})

	t.Run("expired jwt is rejected as session expired", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
		r.Header.Set("X-Token", "Bearer "+signedToken(t, time.Now().Add(-time.Minute)))

		w, seen := serve(t, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "SESSION_EXPIRED", errorCode(t, w))
		assert.Empty(t, seen)
	})

	t.Run("request time decides expiry", func(t *testing.T) {
		exp := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		r := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
		r.Header.Set("X-Token", signedToken(t, exp))
		r = testutil.WithRequestTime(r, exp.Add(-time.Second))

		w, _ := serve(t, r)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}
