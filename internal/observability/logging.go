// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Logger is the structured logger shared by every package.
var Logger *slog.Logger

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// Context keys for logging
const (
	ViewerIDKey      LogContextKey = "viewer_id"
	CorrelationIDKey LogContextKey = "correlation_id"
)

// ctxHandler is a slog.Handler that adds context values to the log record.
type ctxHandler struct {
	slog.Handler
}

// Handle adds context values to the record before passing it to the underlying handler.
func (h *ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	if vid, ok := ctx.Value(ViewerIDKey).(string); ok && vid != "" {
		r.AddAttrs(slog.String("viewer_id", vid))
	}
	if cid, ok := ctx.Value(CorrelationIDKey).(string); ok && cid != "" {
		r.AddAttrs(slog.String("correlation_id", cid))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ctxHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ctxHandler{h.Handler.WithAttrs(attrs)}
}

func (h *ctxHandler) WithGroup(name string) slog.Handler {
	return &ctxHandler{h.Handler.WithGroup(name)}
}

func init() {
	Logger = NewLogger(os.Getenv("APP_ENV"), slog.LevelInfo)
}

// NewLogger builds a JSON logger for production and a text logger otherwise.
func NewLogger(env string, level slog.Level) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(env) {
	case "production", "prod":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(&ctxHandler{handler})
}

// WithViewer returns a context whose log records carry the viewer identity.
func WithViewer(ctx context.Context, viewerID string) context.Context {
	return context.WithValue(ctx, ViewerIDKey, viewerID)
}

// WithCorrelationID returns a new context with the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// ViewLogger provides structured logging for materializer operations.
type ViewLogger struct {
	view   string
	logger *slog.Logger
}

// NewViewLogger creates a new ViewLogger for the given view name.
func NewViewLogger(view string) *ViewLogger {
	return &ViewLogger{view: view, logger: Logger}
}

// LogRefresh logs a completed refresh and its outcome.
func (l *ViewLogger) LogRefresh(ctx context.Context, outcome string, fields map[string]any) {
	attrs := []any{
		slog.String("view", l.view),
		slog.String("operation", "refresh"),
		slog.String("outcome", outcome),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.DebugContext(ctx, "view refresh", attrs...)
}

// LogFetchError logs a failed fetch. Fetch failures never reach the caller.
func (l *ViewLogger) LogFetchError(ctx context.Context, err error, fields map[string]any) {
	attrs := []any{
		slog.String("view", l.view),
		slog.String("operation", "refresh"),
		slog.String("error", err.Error()),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.ErrorContext(ctx, "view fetch failed", attrs...)
}

// LogMutation logs a mutation attempt and whether it was confirmed.
func (l *ViewLogger) LogMutation(ctx context.Context, mutation string, err error, fields map[string]any) {
	attrs := []any{
		slog.String("view", l.view),
		slog.String("operation", mutation),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		l.logger.WarnContext(ctx, "view mutation failed", attrs...)
		return
	}
	l.logger.InfoContext(ctx, "view mutation", attrs...)
}

// LogLifecycle logs activation and teardown of a view.
func (l *ViewLogger) LogLifecycle(ctx context.Context, event string, fields map[string]any) {
	attrs := []any{
		slog.String("view", l.view),
		slog.String("event", event),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.InfoContext(ctx, "view lifecycle", attrs...)
}
