package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/northmart/api/internal/domain"
	"github.com/northmart/api/internal/platform/auth"
	"github.com/northmart/api/internal/platform/httpx"
)

var errBodyTooLarge = errors.New("request body too large")

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// requireIdentity extracts the authenticated user, writing a 401 when absent.
func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// writeStockDenial reports a guard refusal. The denial message is safe to
// show the shopper verbatim.
func writeStockDenial(ctx context.Context, w http.ResponseWriter, denial *domain.StockDenial) {
	httpx.WriteError(ctx, w, httpx.NewError("stock_denied", denial.Message, http.StatusBadRequest).
		WithDetails(map[string]any{"reason": string(denial.Reason)}))
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339Nano)
}

func formatTimestampPtr(ts *time.Time) string {
	if ts == nil {
		return ""
	}
	return formatTimestamp(*ts)
}
