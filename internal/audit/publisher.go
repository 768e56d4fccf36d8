package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"healthid/pkg/requestcontext"
)

// Sink receives enriched events.
type Sink interface {
	Write(ctx context.Context, event Event) error
}

// Publisher enriches events with request metadata and fans them out to
// every sink. A failing sink is logged and does not stop the others.
type Publisher struct {
	sinks  []Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher creates a publisher. With no sinks it only enriches.
func NewPublisher(logger *slog.Logger, sinks ...Sink) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{sinks: sinks, logger: logger, now: time.Now}
}

// Emit publishes event. The returned error joins every sink failure.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	p.enrich(ctx, &event)

	var errs []error
	for _, sink := range p.sinks {
		if err := sink.Write(ctx, event); err != nil {
			p.logger.WarnContext(ctx, "audit sink write failed",
				"action", event.Action,
				"event_id", event.ID,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) enrich(ctx context.Context, e *Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = p.now().UTC()
	}
	if e.Category == "" {
		e.Category = e.Action.Category(e.Outcome)
	}
	if e.RequestID == "" {
		e.RequestID = requestcontext.RequestID(ctx)
	}
	if e.ClientIP == "" {
		e.ClientIP = requestcontext.ClientIP(ctx)
	}
	if e.Browser == "" && e.OS == "" {
		e.Browser, e.OS, e.Mobile = describeAgent(requestcontext.UserAgent(ctx))
	}
}

// describeAgent reduces a User-Agent header to browser, OS and form factor.
func describeAgent(raw string) (browser, os string, mobile bool) {
	if raw == "" {
		return "", "", false
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	browser = name
	if version != "" {
		browser += " " + version
	}
	return browser, ua.OS(), ua.Mobile()
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(ctx context.Context, e Event) error {
	s.logger.InfoContext(ctx, "audit event",
		"event_id", e.ID,
		"category", e.Category,
		"action", e.Action,
		"flow", e.Flow,
		"transaction_id", e.TransactionID,
		"subject", e.Subject,
		"outcome", e.Outcome,
		"error_kind", e.ErrorKind,
		"request_id", e.RequestID,
		"client_ip", e.ClientIP,
		"browser", e.Browser,
		"os", e.OS,
	)
	return nil
}
