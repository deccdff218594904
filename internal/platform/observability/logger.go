// Package observability wires structured logging and Cloud Trace
// propagation for the storefront API. Log entries are shaped for Cloud
// Logging so checkout and webhook requests can be correlated by trace.
package observability

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/northmart/api/internal/platform/requestctx"
)

// NewLogger builds the process logger. Output is JSON on stdout with
// Cloud Logging field names; the LOG_LEVEL env var overrides the
// default info level.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(levelFromEnv()),
		Encoding:          "json",
		EncoderConfig:     cloudEncoderConfig(),
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	return cfg.Build()
}

func levelFromEnv() zapcore.Level {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if raw == "" {
		return zapcore.InfoLevel
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func cloudEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey:    "message",
		TimeKey:       "timestamp",
		LevelKey:      "severity",
		CallerKey:     "caller",
		StacktraceKey: "stacktrace",
		EncodeTime:    zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			// Cloud Logging expects upper-case severity values.
			enc.AppendString(strings.ToUpper(l.String()))
		},
	}
}

// WithLogger stores the logger on the context for downstream handlers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// FromContext returns the request logger, or a no-op logger when none
// was attached.
func FromContext(ctx context.Context) *zap.Logger {
	return requestctx.Logger(ctx)
}

// PrintfAdapter lets zap satisfy printf-style logger parameters, such
// as the checkout replay guard's diagnostics hook.
type PrintfAdapter struct {
	sugar *zap.SugaredLogger
}

func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{sugar: logger.Sugar()}
}

func (a PrintfAdapter) Printf(format string, args ...any) {
	a.sugar.Infof(format, args...)
}
