// Package requestctx carries the per-request logger and trace metadata
// through context so the HTTP layer, services, and repositories all log
// under the same request identity.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type loggerKey struct{}

type traceKey struct{}

var noop = zap.NewNop()

// TraceInfo is the trace identity attached by the tracing middleware.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger attaches a logger to the context. A nil logger degrades to
// the shared no-op logger so callers never need a nil check.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noop
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the attached logger, or the no-op logger when the
// context carries none.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noop
	}
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noop
}

// NoopLogger returns the shared no-op instance so callers can test
// whether a context carries a real logger.
func NoopLogger() *zap.Logger { return noop }

// WithTrace attaches trace metadata to the context.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(ctx, traceKey{}, info)
}

// Trace returns the attached trace metadata, if any.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey{}).(TraceInfo)
	return info, ok
}

// TraceID is a convenience accessor for the trace identifier.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}
