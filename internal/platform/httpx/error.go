// Package httpx defines the JSON error envelope every storefront
// endpoint returns, so the web client can key off a stable "error" code
// regardless of which handler produced the failure.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/northmart/api/internal/platform/requestctx"
)

// Error is a response envelope. The zero Status renders as 500.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    flatten(code, 80),
		Message: flatten(message, 512),
		Status:  status,
	}
}

// WithDetails adds extra top-level payload fields, such as the denial
// reason on a stock rejection.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(details))
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// WriteError renders the envelope as JSON. Request and trace
// identifiers are pulled from the context so every error response is
// correlatable with its log entries.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	payload := map[string]any{
		"error":   err.Code,
		"message": err.Message,
		"status":  status,
	}
	if requestID := flatten(middleware.GetReqID(ctx), 80); requestID != "" {
		payload["request_id"] = requestID
	}
	if traceID := flatten(requestctx.TraceID(ctx), 64); traceID != "" {
		payload["trace_id"] = traceID
	}
	for k, v := range err.Details {
		payload[k] = v
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// flatten folds newlines out of values that may echo request input and
// caps their length.
func flatten(value string, limit int) string {
	value = strings.NewReplacer("\n", " ", "\r", " ").Replace(value)
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
