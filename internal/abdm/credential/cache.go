// Package credential owns the gateway's service credential for the identity
// authority. It is the only component that sees the client secret.
package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"healthid/internal/abdm"
	"healthid/internal/abdm/apierr"
	abdmmetrics "healthid/internal/abdm/metrics"
)

const (
	// RefreshBuffer is how long before expiry a credential stops being used.
	RefreshBuffer = 5 * time.Minute
	// DefaultLifetime applies when the exchange response omits expiresIn.
	DefaultLifetime = 900 * time.Second

	refreshKey      = "service-credential"
	maxResponseSize = 64 << 10
)

// Credential is a bearer token and its absolute expiry.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// usableAt reports whether the credential may be used at now.
func (c *Credential) usableAt(now time.Time) bool {
	return c != nil && c.Token != "" && now.Before(c.ExpiresAt.Add(-RefreshBuffer))
}

// Config identifies the gateway to the authority.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	CMID         string
}

// Cache hands out a service token, exchanging client credentials when the
// cached one is missing or inside the refresh buffer. Concurrent refreshes
// are collapsed into one exchange.
type Cache struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *abdmmetrics.Metrics
	now        func() time.Time

	current atomic.Pointer[Credential]
	group   singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithHTTPClient sets the client used for the exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(cc *Cache) {
		if c != nil {
			cc.httpClient = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cc *Cache) {
		if l != nil {
			cc.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *abdmmetrics.Metrics) Option {
	return func(cc *Cache) {
		cc.metrics = m
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(cc *Cache) {
		if now != nil {
			cc.now = now
		}
	}
}

// New creates an empty cache.
func New(cfg Config, opts ...Option) *Cache {
	c := &Cache{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a usable service token.
func (c *Cache) Token(ctx context.Context) (string, error) {
	if cur := c.current.Load(); cur.usableAt(c.now()) {
		return cur.Token, nil
	}

	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		c.logger.ErrorContext(ctx, "abdm client credentials are not configured")
		return "", apierr.New(apierr.KindCredentialsMissing, "Health ID service credentials are not configured. Please contact the administrator.")
	}

	// The exchange is detached from the first caller's cancellation so that a
	// single aborted request does not fail every waiter.
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		if cur := c.current.Load(); cur.usableAt(c.now()) {
			return cur, nil
		}
		cred, err := c.exchange(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.current.Store(cred)
		return cred, nil
	})

	select {
	case <-ctx.Done():
		return "", apierr.Network(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(*Credential).Token, nil
	}
}

// Invalidate drops the cached credential so the next call exchanges again.
// Used when the authority rejects a token before its recorded expiry.
func (c *Cache) Invalidate() {
	c.current.Store(nil)
}

// Current returns a copy of the cached credential, if any.
func (c *Cache) Current() (Credential, bool) {
	cur := c.current.Load()
	if cur == nil {
		return Credential{}, false
	}
	return *cur, true
}

type sessionRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	GrantType    string `json:"grantType"`
}

type sessionResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

func (c *Cache) exchange(ctx context.Context) (*Credential, error) {
	body, err := json.Marshal(sessionRequest{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		GrantType:    "client_credentials",
	})
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("encode session request: %w", err))
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + abdm.SessionPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("build session request: %w", err))
	}
	requestID := abdm.SetStandardHeaders(req.Header, c.cfg.CMID, c.now())

	c.logger.InfoContext(ctx, "exchanging abdm client credentials", "abdm_request_id", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.IncrementCredentialRefresh("network")
		c.logger.ErrorContext(ctx, "abdm session exchange failed", "abdm_request_id", requestID, "error", err)
		return nil, apierr.Network(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.metrics.IncrementCredentialRefresh("network")
		return nil, apierr.Network(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.IncrementCredentialRefresh("rejected")
		c.logger.ErrorContext(ctx, "abdm session exchange rejected",
			"abdm_request_id", requestID,
			"status", resp.StatusCode,
		)
		return nil, exchangeError(resp.StatusCode, raw)
	}

	var parsed sessionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.AccessToken == "" {
		c.metrics.IncrementCredentialRefresh("malformed")
		if err == nil {
			err = errors.New("empty accessToken")
		}
		return nil, apierr.Wrap(err, apierr.KindUpstreamAuthFailure, "Authentication with the health ID service failed.")
	}

	lifetime := DefaultLifetime
	if parsed.ExpiresIn > 0 {
		lifetime = time.Duration(parsed.ExpiresIn) * time.Second
	}
	cred := &Credential{Token: parsed.AccessToken, ExpiresAt: c.now().Add(lifetime)}

	c.metrics.IncrementCredentialRefresh("ok")
	c.logger.InfoContext(ctx, "abdm service credential refreshed",
		"abdm_request_id", requestID,
		"expires_at", cred.ExpiresAt,
	)
	return cred, nil
}

// exchangeError maps a rejected exchange. Authentication statuses always mean
// bad client credentials, whatever the body says.
func exchangeError(status int, body []byte) *apierr.Error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		e := apierr.New(apierr.KindUpstreamAuthFailure, "Invalid health ID service credentials. Please contact the administrator.")
		e.Status = status
		return e
	}
	return apierr.Normalize(status, body)
}
