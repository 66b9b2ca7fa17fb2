package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	sessionIDKey ctxKey = iota
	resultIDKey
	chartIDKey
)

// WithSessionID returns a context with the session ID set.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// WithResultID returns a context with the result ID set.
func WithResultID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, resultIDKey, id)
}

// WithChartID returns a context with the chart ID set.
func WithChartID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, chartIDKey, id)
}

// SessionID extracts the session ID from the context, or "" if absent.
func SessionID(ctx context.Context) string {
	v, _ := ctx.Value(sessionIDKey).(string)
	return v
}

// ResultID extracts the result ID from the context, or "" if absent.
func ResultID(ctx context.Context) string {
	v, _ := ctx.Value(resultIDKey).(string)
	return v
}

// ChartID extracts the chart ID from the context, or "" if absent.
func ChartID(ctx context.Context) string {
	v, _ := ctx.Value(chartIDKey).(string)
	return v
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record. Use with
// slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := SessionID(ctx); v != "" {
		r.AddAttrs(slog.String("session_id", v))
	}
	if v := ResultID(ctx); v != "" {
		r.AddAttrs(slog.String("result_id", v))
	}
	if v := ChartID(ctx); v != "" {
		r.AddAttrs(slog.String("chart_id", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
