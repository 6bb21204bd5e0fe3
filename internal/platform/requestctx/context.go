package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerContextKey  contextKey = "github.com/BUIHOANGDU/nail-store/internal/platform/requestctx/logger"
	sessionContextKey contextKey = "github.com/BUIHOANGDU/nail-store/internal/platform/requestctx/session"
	localeContextKey  contextKey = "github.com/BUIHOANGDU/nail-store/internal/platform/requestctx/locale"
)

var noopLogger = zap.NewNop()

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance used across the package.
func NoopLogger() *zap.Logger { return noopLogger }

// WithSessionID records the browser session identifier that owns the cart snapshot.
func WithSessionID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sessionContextKey, id)
}

// SessionID returns the browser session identifier when present.
func SessionID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(sessionContextKey).(string)
	return id
}

// WithLocale stores the negotiated display language.
func WithLocale(ctx context.Context, lang string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, localeContextKey, lang)
}

// Locale returns the negotiated display language or an empty string.
func Locale(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	lang, _ := ctx.Value(localeContextKey).(string)
	return lang
}
