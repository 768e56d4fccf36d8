// Package abha orchestrates the health identity flows: enrollment, mobile
// verification, address assignment, login, profile retrieval, search and
// facility-side verification.
//
// The service holds no transaction state. Every step is addressed by the
// authority-issued transaction id, validated and encrypted locally, and sent
// through the upstream client. Errors leave the service already normalized.
package abha

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"healthid/internal/abdm/apierr"
	"healthid/internal/abha/metrics"
	"healthid/internal/abha/ports"
	"healthid/internal/audit"
	"healthid/internal/platform/logger"
	"healthid/pkg/requestcontext"
)

// Type aliases for interfaces from the ports package.
type (
	Upstream         = ports.Upstream
	Encryptor        = ports.Encryptor
	CredentialProber = ports.CredentialProber
	AuditPublisher   = ports.AuditPublisher
)

type Service struct {
	upstream  Upstream
	encryptor Encryptor
	prober    CredentialProber
	audit     AuditPublisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithCredentialProber enables the credential check in Health.
func WithCredentialProber(p CredentialProber) Option {
	return func(s *Service) {
		s.prober = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(upstream Upstream, encryptor Encryptor, opts ...Option) (*Service, error) {
	if upstream == nil {
		return nil, errors.New("upstream client is required")
	}
	if encryptor == nil {
		return nil, errors.New("encryptor is required")
	}

	svc := &Service{
		upstream:  upstream,
		encryptor: encryptor,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Health forces a credential fetch (served from cache when fresh) and
// reports the upstream circuit.
func (s *Service) Health(ctx context.Context) (*Health, error) {
	h := &Health{Circuit: s.upstream.CircuitState().String()}
	if s.prober != nil {
		if _, err := s.prober.Token(ctx); err != nil {
			return h, err
		}
	}
	h.Reachable = true
	h.Message = "ABDM API is reachable"
	return h, nil
}

// newTransaction stamps a transaction at the request time.
func (s *Service) newTransaction(ctx context.Context, id string, flow Flow, stage Stage, subject string) Transaction {
	createdAt, ok := requestcontext.RequestTime(ctx)
	if !ok {
		createdAt = s.now()
	}
	return Transaction{
		ID:             id,
		Flow:           flow,
		Stage:          stage,
		Subject:        subject,
		MobileVerified: MobileUnknown,
		CreatedAt:      createdAt.UTC(),
	}
}

// operation carries what is known about one call for logs, metrics and audit.
type operation struct {
	name    string
	action  audit.Action
	flow    Flow
	txnID   string
	subject string
	start   time.Time
}

func (s *Service) begin(name string, action audit.Action, flow Flow) *operation {
	return &operation{name: name, action: action, flow: flow, start: s.now()}
}

// fingerprint hides an identity value before it reaches logs or audit.
func fingerprint(value string) string {
	return logger.Fingerprint(value)
}

// finish records the outcome. Audit failures are logged and never change
// the result of the flow.
func (s *Service) finish(ctx context.Context, op *operation, outcome audit.Outcome, err error) {
	elapsed := s.now().Sub(op.start)
	s.metrics.RecordOperation(op.name, string(outcome), elapsed)
	if outcome == audit.OutcomeExisting {
		s.metrics.IncrementExisting(string(op.flow))
	}

	var errorKind string
	if err != nil {
		errorKind = string(apierr.KindOf(err))
		level := slog.LevelWarn
		if apierr.Is(err, apierr.KindInternal, apierr.KindCredentialsMissing, apierr.KindEncryptionKeyUnavailable, apierr.KindUpstreamAuthFailure) {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "abha operation failed",
			"operation", op.name,
			"flow", op.flow,
			"transaction_id", op.txnID,
			"subject", op.subject,
			"error_kind", errorKind,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	} else {
		s.logger.InfoContext(ctx, "abha operation completed",
			"operation", op.name,
			"flow", op.flow,
			"transaction_id", op.txnID,
			"outcome", outcome,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", requestcontext.RequestID(ctx),
		)
	}

	if s.audit == nil {
		return
	}
	if auditErr := s.audit.Emit(ctx, audit.Event{
		Action:        op.action,
		Flow:          string(op.flow),
		TransactionID: op.txnID,
		Subject:       op.subject,
		Outcome:       outcome,
		ErrorKind:     errorKind,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"action", op.action,
			"error", auditErr,
		)
	}
}

// fail records err and returns it.
func (s *Service) fail(ctx context.Context, op *operation, err error) error {
	s.finish(ctx, op, audit.OutcomeFailure, err)
	return err
}

func (s *Service) succeed(ctx context.Context, op *operation) {
	s.finish(ctx, op, audit.OutcomeSuccess, nil)
}
