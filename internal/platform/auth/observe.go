package auth

import (
	"context"
	"time"
)

// Logger is the printf-style diagnostics hook the webhook verifier
// writes rejection details to.
type Logger interface {
	Printf(format string, args ...any)
}

// MetricsRecorder counts signature and token verification outcomes so
// a burst of gateway rejections shows up on the dashboard.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

// MetricsRecorderFunc adapts a plain function to MetricsRecorder.
type MetricsRecorderFunc func(context.Context, string, bool, string, time.Duration)

func (f MetricsRecorderFunc) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	if f != nil {
		f(ctx, kind, success, reason, duration)
	}
}
