// Package logging configures the process-wide structured logger and
// masks provider credentials before they reach any log sink.
//
// The relay holds real API keys for every configured provider and
// rewrites Authorization headers on each forwarded request, so raw
// key material can easily end up in an attribute by accident. Every
// string attribute passes through the redactor before emission.
package logging

import (
	"context"
	"log/slog"
	"regexp"
)

// Credential patterns recognized in log attribute values.
var (
	// Anthropic and OpenAI style secret keys (sk-ant-..., sk-proj-..., sk-...).
	apiKeyPattern = regexp.MustCompile(`\bsk-[a-zA-Z0-9_-]{8,}`)

	// Bearer tokens in header dumps or error messages.
	bearerPattern = regexp.MustCompile(`(?i)\bBearer\s+[a-zA-Z0-9\-._~+/]+=*`)

	// Generic key-value leaks such as "api_key: abc123" or "apikey=abc123".
	keyFieldPattern = regexp.MustCompile(`(?i)\b(api[-_]?key)\s*[:=]\s*\S+`)
)

// Redact masks any credential material embedded in s. Non-matching
// input is returned unchanged.
func Redact(s string) string {
	s = apiKeyPattern.ReplaceAllString(s, "sk-***")
	s = bearerPattern.ReplaceAllString(s, "Bearer ***")
	s = keyFieldPattern.ReplaceAllString(s, "$1=***")
	return s
}

// redactingHandler wraps a slog.Handler and rewrites string attribute
// values through Redact before delegating.
type redactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler returns a handler that masks credentials in all
// string attributes and in the record message.
func NewRedactingHandler(inner slog.Handler) slog.Handler {
	return &redactingHandler{inner: inner}
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, rec slog.Record) error {
	clean := slog.NewRecord(rec.Time, rec.Level, Redact(rec.Message), rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cleaned := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		cleaned[i] = redactAttr(a)
	}
	return &redactingHandler{inner: h.inner.WithAttrs(cleaned)}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, Redact(a.Value.String()))
	case slog.KindGroup:
		members := a.Value.Group()
		cleaned := make([]any, 0, len(members))
		for _, m := range members {
			cleaned = append(cleaned, redactAttr(m))
		}
		return slog.Group(a.Key, cleaned...)
	default:
		return a
	}
}
