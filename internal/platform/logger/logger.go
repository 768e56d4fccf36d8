// Package logger builds the gateway's structured logger.
//
// Records pass through a sanitizing handler: secrets are redacted and
// identity values (Aadhaar, mobile, ABHA number, email) are replaced by a
// keyed fingerprint so that log lines can be correlated without exposing them.
package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/blake2b"
)

const redactedValue = "[REDACTED]"

var (
	sensitiveKeyParts   = []string{"token", "secret", "password", "authorization", "otp"}
	fingerprintKeyParts = []string{"aadhaar", "identity_number", "mobile", "login_id", "abha_number", "email"}

	fingerprintKey = randomKey()
)

// New returns a JSON logger writing to stdout at the given level.
func New(level string) *slog.Logger {
	return NewWithWriter(os.Stdout, level)
}

// NewWithWriter returns a JSON logger writing to w.
func NewWithWriter(w io.Writer, level string) *slog.Logger {
	json := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(WrapHandler(json))
}

// ParseLevel maps LOG_LEVEL values to slog levels, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Fingerprint returns a stable, process-scoped digest of an identity value.
func Fingerprint(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	h, err := blake2b.New256(fingerprintKey)
	if err != nil {
		return redactedValue
	}
	h.Write([]byte(trimmed))
	return "fp_" + hex.EncodeToString(h.Sum(nil)[:8])
}

// SanitizingHandler redacts secrets, fingerprints identity values and adds
// trace ids from the context.
type SanitizingHandler struct {
	next slog.Handler
}

// WrapHandler wraps next with sanitization.
func WrapHandler(next slog.Handler) slog.Handler {
	return &SanitizingHandler{next: next}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(SanitizeAttr(attr))
		return true
	})
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		out.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.next.Handle(ctx, out)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	sanitized := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		sanitized = append(sanitized, SanitizeAttr(a))
	}
	return &SanitizingHandler{next: h.next.WithAttrs(sanitized)}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name)}
}

// SanitizeAttr applies redaction and fingerprinting to a single attribute,
// descending into groups.
func SanitizeAttr(attr slog.Attr) slog.Attr {
	key := strings.ToLower(strings.TrimSpace(attr.Key))
	switch {
	case matchesAny(key, sensitiveKeyParts):
		return slog.String(attr.Key, redactedValue)
	case matchesAny(key, fingerprintKeyParts):
		return slog.String(attr.Key+"_fp", Fingerprint(valueToString(attr.Value)))
	}
	if attr.Value.Kind() == slog.KindGroup {
		group := attr.Value.Group()
		out := make([]any, 0, len(group))
		for _, a := range group {
			out = append(out, SanitizeAttr(a))
		}
		return slog.Group(attr.Key, out...)
	}
	return attr
}

func matchesAny(key string, parts []string) bool {
	for _, p := range parts {
		if strings.Contains(key, p) {
			return true
		}
	}
	return false
}

func valueToString(v slog.Value) string {
	if v.Kind() == slog.KindString {
		return v.String()
	}
	return fmt.Sprint(v.Resolve().Any())
}

func randomKey() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return []byte("healthid-fallback-fingerprint-key")
	}
	return buf
}
