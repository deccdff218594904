package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

type silentLogger struct{}

func (silentLogger) Printf(string, ...any) {}

type verificationRecord struct {
	kind    string
	success bool
	reason  string
}

type recordingVerifierMetrics struct {
	records []verificationRecord
}

func (m *recordingVerifierMetrics) RecordVerification(_ context.Context, kind string, success bool, reason string, _ time.Duration) {
	m.records = append(m.records, verificationRecord{kind: kind, success: success, reason: reason})
}

const webhookIngestPath = "/api/v1/webhooks/payment"

var paymentEventBody = []byte(`{"type":"payment.succeeded","data":{"order_number":"NM-20260314-0001","payment_id":"pi_1"}}`)

func staticWebhookSecrets(secrets map[string]string) WebhookSecretSourceFunc {
	return func(_ context.Context, provider string) (string, error) {
		if secret, ok := secrets[provider]; ok {
			return secret, nil
		}
		return "", errors.New("unknown provider")
	}
}

func signedWebhookRequest(t *testing.T, secret, nonce string, at time.Time, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, webhookIngestPath, strings.NewReader(string(body)))
	timestamp := strconv.FormatInt(at.Unix(), 10)
	req.Header.Set("X-Gateway-Timestamp", timestamp)
	req.Header.Set("X-Gateway-Nonce", nonce)
	req.Header.Set("X-Gateway-Signature",
		SignWebhookBody([]byte(secret), http.MethodPost, webhookIngestPath, timestamp, nonce, body))
	return req
}

func verifierHarness(t *testing.T, now time.Time, metrics *recordingVerifierMetrics) http.Handler {
	t.Helper()
	verifier := NewWebhookVerifier(
		staticWebhookSecrets(map[string]string{"stripe": "whsec_stripe_test"}),
		NewMemoryNonceRegistry(),
		WithVerifierLogger(silentLogger{}),
		WithVerifierMetrics(metrics),
		WithVerifierClock(func() time.Time { return now }),
	)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return verifier.RequireSignature("stripe")(inner)
}

func decodeDenial(t *testing.T, rec *httptest.ResponseRecorder) (string, int) {
	t.Helper()
	var payload struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode denial body: %v", err)
	}
	return payload.Error, payload.Status
}

func TestWebhookVerifierAcceptsSignedDelivery(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	metrics := &recordingVerifierMetrics{}

	verifier := NewWebhookVerifier(
		staticWebhookSecrets(map[string]string{"stripe": "whsec_stripe_test"}),
		NewMemoryNonceRegistry(),
		WithVerifierLogger(silentLogger{}),
		WithVerifierMetrics(metrics),
		WithVerifierClock(func() time.Time { return now }),
	)

	var sig *WebhookSignature
	handler := verifier.RequireSignature("stripe")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig, _ = WebhookSignatureFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, "whsec_stripe_test", "nonce-1", now, paymentEventBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body %s", rec.Code, rec.Body.String())
	}
	if sig == nil {
		t.Fatalf("expected verified signature on context")
	}
	if sig.Provider != "stripe" || sig.Nonce != "nonce-1" {
		t.Fatalf("unexpected signature context %+v", sig)
	}
	if !sig.Timestamp.Equal(now) {
		t.Fatalf("expected timestamp %v, got %v", now, sig.Timestamp)
	}
	if len(metrics.records) != 1 || !metrics.records[0].success || metrics.records[0].reason != "ok" {
		t.Fatalf("unexpected metrics %+v", metrics.records)
	}
	if metrics.records[0].kind != "webhook_signature" {
		t.Fatalf("expected webhook_signature metric kind, got %q", metrics.records[0].kind)
	}
}

func TestWebhookVerifierRejectsTamperedBody(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	metrics := &recordingVerifierMetrics{}
	handler := verifierHarness(t, now, metrics)

	tampered := strings.Replace(string(paymentEventBody), "pi_1", "pi_2", 1)
	req := httptest.NewRequest(http.MethodPost, webhookIngestPath, strings.NewReader(tampered))
	req.Header = signedWebhookRequest(t, "whsec_stripe_test", "nonce-1", now, paymentEventBody).Header

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if code, _ := decodeDenial(t, rec); code != "signature_mismatch" {
		t.Fatalf("expected signature_mismatch, got %q", code)
	}
	if len(metrics.records) != 1 || metrics.records[0].reason != "signature_mismatch" {
		t.Fatalf("unexpected metrics %+v", metrics.records)
	}
}

func TestWebhookVerifierRejectsReplayedNonce(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	metrics := &recordingVerifierMetrics{}
	handler := verifierHarness(t, now, metrics)

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, signedWebhookRequest(t, "whsec_stripe_test", "nonce-dup", now, paymentEventBody))
	if first.Code != http.StatusOK {
		t.Fatalf("expected first delivery to pass, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, signedWebhookRequest(t, "whsec_stripe_test", "nonce-dup", now, paymentEventBody))
	if second.Code != http.StatusUnauthorized {
		t.Fatalf("expected replay to be rejected, got %d", second.Code)
	}
	if code, _ := decodeDenial(t, second); code != "nonce_replay" {
		t.Fatalf("expected nonce_replay, got %q", code)
	}
}

func TestWebhookVerifierRejectsStaleTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	metrics := &recordingVerifierMetrics{}
	handler := verifierHarness(t, now, metrics)

	stale := now.Add(-10 * time.Minute)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, "whsec_stripe_test", "nonce-1", stale, paymentEventBody))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if code, _ := decodeDenial(t, rec); code != "timestamp_skew" {
		t.Fatalf("expected timestamp_skew, got %q", code)
	}
}

func TestWebhookVerifierRequiresSignatureHeaders(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	metrics := &recordingVerifierMetrics{}
	handler := verifierHarness(t, now, metrics)

	cases := []struct {
		name   string
		drop   string
		code   string
		reason string
	}{
		{name: "missing signature", drop: "X-Gateway-Signature", code: "signature_missing", reason: "signature_missing"},
		{name: "missing timestamp", drop: "X-Gateway-Timestamp", code: "timestamp_missing", reason: "timestamp_missing"},
		{name: "missing nonce", drop: "X-Gateway-Nonce", code: "nonce_missing", reason: "nonce_missing"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := signedWebhookRequest(t, "whsec_stripe_test", "nonce-1", now, paymentEventBody)
			req.Header.Del(tc.drop)

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if code, _ := decodeDenial(t, rec); code != tc.code {
				t.Fatalf("expected %q, got %q", tc.code, code)
			}
		})
	}
}

func TestWebhookVerifierAcceptsPrefixedHexSignature(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	metrics := &recordingVerifierMetrics{}
	handler := verifierHarness(t, now, metrics)

	req := signedWebhookRequest(t, "whsec_stripe_test", "nonce-1", now, paymentEventBody)
	req.Header.Set("X-Gateway-Signature", "sha256="+req.Header.Get("X-Gateway-Signature"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected sha256= prefixed signature to verify, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestWebhookVerifierSecretUnavailable(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	verifier := NewWebhookVerifier(
		staticWebhookSecrets(map[string]string{}),
		NewMemoryNonceRegistry(),
		WithVerifierLogger(silentLogger{}),
		WithVerifierClock(func() time.Time { return now }),
	)
	handler := verifier.RequireSignature("stripe")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run without a secret")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, "whsec_stripe_test", "nonce-1", now, paymentEventBody))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if code, _ := decodeDenial(t, rec); code != "verification_unavailable" {
		t.Fatalf("expected verification_unavailable, got %q", code)
	}
}

func TestWebhookVerifierResolvesProviderFromPath(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	metrics := &recordingVerifierMetrics{}
	verifier := NewWebhookVerifier(
		staticWebhookSecrets(map[string]string{"stripe": "whsec_stripe_test"}),
		NewMemoryNonceRegistry(),
		WithVerifierLogger(silentLogger{}),
		WithVerifierMetrics(metrics),
		WithVerifierClock(func() time.Time { return now }),
	)

	resolve := func(r *http.Request) (string, bool) {
		if strings.HasSuffix(r.URL.Path, "/webhooks/payment") {
			return "stripe", true
		}
		return "", false
	}
	handler := verifier.RequireSignatureFor(resolve)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(t, "whsec_stripe_test", "nonce-1", now, paymentEventBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected resolved provider to verify, got %d", rec.Code)
	}

	unknown := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/unknown", strings.NewReader("{}"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, unknown)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected unknown provider to be rejected, got %d", rec.Code)
	}
	if code, _ := decodeDenial(t, rec); code != "unknown_provider" {
		t.Fatalf("expected unknown_provider, got %q", code)
	}
}

func TestMemoryNonceRegistryExpiresEntries(t *testing.T) {
	registry := NewMemoryNonceRegistry()
	ctx := context.Background()

	fresh, err := registry.Register(ctx, "stripe", "nonce-exp", time.Now().Add(20*time.Millisecond))
	if err != nil || !fresh {
		t.Fatalf("expected first registration to succeed, got fresh=%v err=%v", fresh, err)
	}

	if fresh, _ := registry.Register(ctx, "stripe", "nonce-exp", time.Now().Add(time.Minute)); fresh {
		t.Fatalf("expected duplicate nonce to be rejected while live")
	}

	time.Sleep(30 * time.Millisecond)

	fresh, err = registry.Register(ctx, "stripe", "nonce-exp", time.Now().Add(time.Minute))
	if err != nil || !fresh {
		t.Fatalf("expected expired nonce to be reusable, got fresh=%v err=%v", fresh, err)
	}

	if _, err := registry.Register(ctx, "", "nonce", time.Now().Add(time.Minute)); err == nil {
		t.Fatalf("expected error for empty provider")
	}
}
