// Package upstream issues authenticated calls to the ABHA endpoints of the
// identity authority and normalizes every failure into an *apierr.Error.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"healthid/internal/abdm"
	"healthid/internal/abdm/apierr"
	abdmmetrics "healthid/internal/abdm/metrics"
	"healthid/pkg/platform/circuit"
)

const (
	maxJSONResponse   = 1 << 20
	maxBinaryResponse = 10 << 20

	msgResponseTooLarge = "The Health ID service returned an unexpectedly large response. Please try again later."

	defaultContentType = "application/octet-stream"
	defaultTimeout     = 15 * time.Second
	tracerName         = "healthid/abdm"
)

// TokenSource supplies the service bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Config locates the ABHA API.
type Config struct {
	BaseURL string
	CMID    string
	Timeout time.Duration
	// UserCallsAttachServiceToken sends Authorization alongside X-Token on
	// user-scoped calls.
	UserCallsAttachServiceToken bool
}

// Request describes one authority call.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Body    any
	Headers map[string]string
	// UserToken makes the call user-scoped: it is sent as X-Token.
	UserToken string
}

func (r Request) userScoped() bool {
	return r.UserToken != ""
}

// Response is a successful JSON reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the body into v. An empty body leaves v untouched.
func (r *Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return apierr.Wrap(err, apierr.KindUpstream, "Unexpected response from the health ID service.")
	}
	return nil
}

// Binary is a successful artifact download.
type Binary struct {
	Data        []byte
	ContentType string
}

// Client calls the authority. Safe for concurrent use.
type Client struct {
	cfg        Config
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *abdmmetrics.Metrics
	breaker    *circuit.Breaker
	tracer     trace.Tracer
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

func WithMetrics(m *abdmmetrics.Metrics) Option {
	return func(cl *Client) {
		cl.metrics = m
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(cl *Client) {
		if b != nil {
			cl.breaker = b
		}
	}
}

// WithTracerProvider sets the provider spans are created from. Defaults to
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cl *Client) {
		if tp != nil {
			cl.tracer = tp.Tracer(tracerName)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(cl *Client) {
		if now != nil {
			cl.now = now
		}
	}
}

// New creates a client. tokens may be nil only if every call is user-scoped
// and UserCallsAttachServiceToken is off.
func New(cfg Config, tokens TokenSource, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		cfg:        cfg,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
		breaker:    circuit.New("abdm"),
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CircuitState reports whether recent calls have been failing at the transport level.
func (c *Client) CircuitState() circuit.State {
	return c.breaker.State()
}

// Invoke performs a JSON call.
func (c *Client) Invoke(ctx context.Context, req Request) (*Response, error) {
	return c.do(ctx, req, "application/json", maxJSONResponse)
}

// InvokeBinary performs a call whose reply is a raw artifact.
func (c *Client) InvokeBinary(ctx context.Context, req Request) (*Binary, error) {
	resp, err := c.do(ctx, req, "*/*", maxBinaryResponse)
	if err != nil {
		return nil, err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	return &Binary{Data: resp.Body, ContentType: contentType}, nil
}

// FetchPublicKey downloads the authority's encryption certificate. The reply
// is either {"publicKey": "..."} or the key material itself.
func (c *Client) FetchPublicKey(ctx context.Context) ([]byte, error) {
	resp, err := c.Invoke(ctx, Request{Method: http.MethodGet, Path: abdm.PublicCertificatePath})
	if err != nil {
		return nil, err
	}
	var wrapped struct {
		PublicKey string `json:"publicKey"`
	}
	if json.Unmarshal(resp.Body, &wrapped) == nil && wrapped.PublicKey != "" {
		return []byte(wrapped.PublicKey), nil
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, req Request, accept string, limit int64) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	ctx, span := c.tracer.Start(ctx, "abdm.invoke",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", req.Path),
			attribute.Bool("abdm.user_scoped", req.userScoped()),
		),
	)
	defer span.End()

	httpReq, requestID, err := c.build(ctx, method, req, accept)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request")
		return nil, err
	}
	span.SetAttributes(attribute.String("abdm.request_id", requestID))

	start := c.now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.recordTransport(ctx, false)
		c.metrics.ObserveUpstream(req.Path, "network", c.now().Sub(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		c.logger.ErrorContext(ctx, "abdm request failed",
			"method", method,
			"path", req.Path,
			"abdm_request_id", requestID,
			"error", err,
		)
		return nil, apierr.Network(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		c.recordTransport(ctx, false)
		c.metrics.ObserveUpstream(req.Path, "network", c.now().Sub(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return nil, apierr.Network(err)
	}
	oversized := int64(len(body)) > limit
	if oversized {
		body = body[:limit]
	}

	elapsed := c.now().Sub(start)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	c.recordTransport(ctx, resp.StatusCode < http.StatusInternalServerError)

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if oversized {
			c.metrics.ObserveUpstream(req.Path, "error", elapsed)
			span.SetStatus(codes.Error, "response too large")
			c.logger.ErrorContext(ctx, "abdm response exceeds size limit",
				"method", method,
				"path", req.Path,
				"abdm_request_id", requestID,
				"limit_bytes", limit,
			)
			return nil, &apierr.Error{Kind: apierr.KindUpstream, Message: msgResponseTooLarge, Status: http.StatusBadGateway}
		}
		c.metrics.ObserveUpstream(req.Path, "ok", elapsed)
		c.logger.DebugContext(ctx, "abdm request completed",
			"method", method,
			"path", req.Path,
			"status", resp.StatusCode,
			"abdm_request_id", requestID,
			"duration_ms", elapsed.Milliseconds(),
		)
		return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
	}

	c.metrics.ObserveUpstream(req.Path, "error", elapsed)
	if resp.StatusCode == http.StatusUnauthorized && !req.userScoped() && c.tokens != nil {
		c.tokens.Invalidate()
	}

	normalized := apierr.Normalize(resp.StatusCode, body)
	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	c.logger.WarnContext(ctx, "abdm request rejected",
		"method", method,
		"path", req.Path,
		"status", resp.StatusCode,
		"abdm_request_id", requestID,
		"kind", normalized.Kind,
		"code", normalized.Code,
	)
	return nil, normalized
}

func (c *Client) build(ctx context.Context, method string, req Request, accept string) (*http.Request, string, error) {
	target := strings.TrimRight(c.cfg.BaseURL, "/") + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, "", apierr.Internal(fmt.Errorf("encode %s body: %w", req.Path, err))
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, "", apierr.Internal(fmt.Errorf("build %s request: %w", req.Path, err))
	}

	requestID := abdm.SetStandardHeaders(httpReq.Header, c.cfg.CMID, c.now())
	httpReq.Header.Set("Accept", accept)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	if req.userScoped() {
		httpReq.Header.Set(abdm.HeaderXToken, abdm.Bearer(req.UserToken))
	}
	if !req.userScoped() || c.cfg.UserCallsAttachServiceToken {
		if c.tokens == nil {
			return nil, "", apierr.New(apierr.KindCredentialsMissing, "Health ID service credentials are not configured. Please contact the administrator.")
		}
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, "", err
		}
		httpReq.Header.Set(abdm.HeaderAuthorization, abdm.Bearer(token))
	}
	return httpReq, requestID, nil
}

func (c *Client) recordTransport(ctx context.Context, ok bool) {
	if ok {
		if _, change := c.breaker.RecordSuccess(); change.Closed {
			c.metrics.SetCircuitOpen(false)
			c.logger.InfoContext(ctx, "abdm circuit closed")
		}
		return
	}
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.metrics.SetCircuitOpen(true)
		c.logger.WarnContext(ctx, "abdm circuit opened")
	}
}

// IsNotFound reports whether err is the authority's "no such record" reply.
func IsNotFound(err error) bool {
	e, ok := apierr.As(err)
	if !ok {
		return false
	}
	return e.Status == http.StatusNotFound || e.Kind == apierr.KindNotFound || e.Code == "404"
}
