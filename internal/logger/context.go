package logger

import (
	"context"
	"fmt"
	"log/slog"
)

type ctxKey struct{}

var defaultLogger = NewLogger()

// WithLogger attaches l to ctx, for retrieval by FromContext or the
// package-level Debug/Info/Warn/Error helpers.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the Logger attached to ctx, or a package-default
// Logger (text format, stdout, info level) if none was attached.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return l
	}
	return defaultLogger
}

// fromCtx resolves ctx's Logger as the concrete type so package-level
// helpers can call log() directly and preserve the external caller's
// source location, the same way a Logger method call does.
func fromCtx(ctx context.Context) *logger {
	if l, ok := ctx.Value(ctxKey{}).(*logger); ok {
		return l
	}
	return defaultLogger.(*logger)
}

func Debug(ctx context.Context, msg string, args ...any) { fromCtx(ctx).log(slog.LevelDebug, msg, args) }
func Info(ctx context.Context, msg string, args ...any)  { fromCtx(ctx).log(slog.LevelInfo, msg, args) }
func Warn(ctx context.Context, msg string, args ...any)  { fromCtx(ctx).log(slog.LevelWarn, msg, args) }
func Error(ctx context.Context, msg string, args ...any) { fromCtx(ctx).log(slog.LevelError, msg, args) }

func Debugf(ctx context.Context, format string, args ...any) {
	fromCtx(ctx).log(slog.LevelDebug, fmt.Sprintf(format, args...), nil)
}
func Infof(ctx context.Context, format string, args ...any) {
	fromCtx(ctx).log(slog.LevelInfo, fmt.Sprintf(format, args...), nil)
}
func Warnf(ctx context.Context, format string, args ...any) {
	fromCtx(ctx).log(slog.LevelWarn, fmt.Sprintf(format, args...), nil)
}
func Errorf(ctx context.Context, format string, args ...any) {
	fromCtx(ctx).log(slog.LevelError, fmt.Sprintf(format, args...), nil)
}
