// Package observability provides audit logging helpers for the ratelimit module.
package observability

import (
	"context"
	"log/slog"

	"healthid/internal/audit"
	"healthid/pkg/requestcontext"
)

// AuditPublisher receives rate limit events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// LogAudit logs a security event and publishes it. Callers pass the client
// as a fingerprinted "subject" attribute.
func LogAudit(ctx context.Context, log *slog.Logger, publisher AuditPublisher, action audit.Action, attrList ...any) {
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		attrList = append(attrList, "request_id", requestID)
	}

	if log != nil {
		log.WarnContext(ctx, string(action), append(attrList, "event", string(action), "log_type", "audit")...)
	}

	if publisher == nil {
		return
	}

	event := audit.Event{
		Category:  action.Category(audit.OutcomeRejected),
		Action:    action,
		Subject:   stringAttr(attrList, "subject"),
		Outcome:   audit.OutcomeRejected,
		ErrorKind: stringAttr(attrList, "reason"),
		RequestID: requestID,
	}
	if err := publisher.Emit(ctx, event); err != nil && log != nil {
		log.WarnContext(ctx, "failed to publish rate limit audit event", "error", err)
	}
}

// stringAttr returns the string value following key in a slog-style
// key/value list.
func stringAttr(attrList []any, key string) string {
	for i := 0; i+1 < len(attrList); i += 2 {
		if k, ok := attrList[i].(string); ok && k == key {
			v, _ := attrList[i+1].(string)
			return v
		}
	}
	return ""
}
