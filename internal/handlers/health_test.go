package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/northmart/api/internal/domain"
	"github.com/northmart/api/internal/services"
)

func TestHealthHandlersHealthz(t *testing.T) {
	handler := NewHealthHandlers(nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler.Healthz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", resp["status"])
	}
	if resp["timestamp"] == "" {
		t.Fatalf("expected timestamp to be set")
	}
}

func TestHealthHandlersReadyz(t *testing.T) {
	now := time.Date(2025, 6, 4, 9, 0, 0, 0, time.UTC)
	svc := &stubSystemService{
		reportFunc: func(ctx context.Context) (services.SystemHealthReport, error) {
			return services.SystemHealthReport{
				Status: domain.HealthStatusOK,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond},
					"secrets":   {Status: domain.HealthStatusOK},
				},
				Version:     "1.4.2",
				CommitSHA:   "abc1234",
				Environment: "production",
				Uptime:      90 * time.Second,
				GeneratedAt: now,
			}, nil
		},
	}

	handler := NewHealthHandlers(svc)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp struct {
		Status      string                    `json:"status"`
		Checks      map[string]map[string]any `json:"checks"`
		Version     string                    `json:"version"`
		Environment string                    `json:"environment"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected ok status, got %s", resp.Status)
	}
	if len(resp.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(resp.Checks))
	}
	if resp.Checks["firestore"]["status"] != "ok" {
		t.Fatalf("unexpected firestore check: %#v", resp.Checks["firestore"])
	}
	if resp.Version != "1.4.2" || resp.Environment != "production" {
		t.Fatalf("unexpected build metadata: %#v", resp)
	}
}

func TestHealthHandlersReadyzDependencyDown(t *testing.T) {
	svc := &stubSystemService{
		reportFunc: func(ctx context.Context) (services.SystemHealthReport, error) {
			return services.SystemHealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusError, Error: "deadline exceeded"},
				},
			}, nil
		},
	}

	handler := NewHealthHandlers(svc)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestHealthHandlersReadyzReportError(t *testing.T) {
	svc := &stubSystemService{
		reportFunc: func(ctx context.Context) (services.SystemHealthReport, error) {
			return services.SystemHealthReport{}, errors.New("collector failed")
		},
	}

	handler := NewHealthHandlers(svc)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestHealthHandlersReadyzWithoutService(t *testing.T) {
	handler := NewHealthHandlers(nil)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}
