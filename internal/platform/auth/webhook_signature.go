package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultGatewaySignatureHeader = "X-Gateway-Signature"
	defaultGatewayTimestampHeader = "X-Gateway-Timestamp"
	defaultGatewayNonceHeader     = "X-Gateway-Nonce"

	defaultSignatureSkew = 5 * time.Minute
	defaultNonceWindow   = 5 * time.Minute

	// signaturePayloadVersion leads the signed payload so the scheme can
	// change without ambiguity for already-deployed gateways.
	signaturePayloadVersion = "v1"
)

// WebhookSecretSource resolves the shared signing secret for a payment
// gateway provider such as "stripe" or "default".
type WebhookSecretSource interface {
	WebhookSecret(ctx context.Context, provider string) (string, error)
}

// WebhookSecretSourceFunc adapts a function to the WebhookSecretSource interface.
type WebhookSecretSourceFunc func(context.Context, string) (string, error)

// WebhookSecret implements WebhookSecretSource.
func (f WebhookSecretSourceFunc) WebhookSecret(ctx context.Context, provider string) (string, error) {
	if f == nil {
		return "", errors.New("auth: webhook secret source not configured")
	}
	return f(ctx, provider)
}

// NonceRegistry fences replayed deliveries. Register records the nonce when
// it has not been seen within the provider scope; false means a replay.
type NonceRegistry interface {
	Register(ctx context.Context, provider, nonce string, expiry time.Time) (bool, error)
}

// MemoryNonceRegistry keeps nonces in process memory. Good enough for a
// single API instance and for tests; a multi-instance deployment would back
// this with Firestore.
type MemoryNonceRegistry struct {
	mu     sync.Mutex
	nonces map[string]time.Time
}

// NewMemoryNonceRegistry constructs the registry.
func NewMemoryNonceRegistry() *MemoryNonceRegistry {
	return &MemoryNonceRegistry{nonces: make(map[string]time.Time)}
}

// Register records the nonce until expiry, rejecting replays until then.
func (s *MemoryNonceRegistry) Register(_ context.Context, provider, nonce string, expiry time.Time) (bool, error) {
	if provider == "" || nonce == "" {
		return false, errors.New("auth: provider and nonce are required")
	}

	key := provider + "::" + nonce

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, exp := range s.nonces {
		if exp.Before(now) {
			delete(s.nonces, k)
		}
	}

	if expiry.Before(now) {
		return false, errors.New("auth: nonce expiry is in the past")
	}

	if existing, ok := s.nonces[key]; ok && existing.After(now) {
		return false, nil
	}

	s.nonces[key] = expiry
	return true, nil
}

// WebhookVerifier authenticates payment gateway deliveries. The gateway
// signs the request method, path, timestamp, nonce, and body digest with the
// provider's shared secret; the verifier recomputes the signature and fences
// replays through the nonce registry.
type WebhookVerifier struct {
	secrets WebhookSecretSource
	nonces  NonceRegistry

	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time

	signatureHeader string
	timestampHeader string
	nonceHeader     string

	skew        time.Duration
	nonceWindow time.Duration

	secretCache sync.Map
}

// WebhookVerifierOption customises the verifier.
type WebhookVerifierOption func(*WebhookVerifier)

// NewWebhookVerifier builds a verifier over the given secret source and nonce registry.
func NewWebhookVerifier(secrets WebhookSecretSource, nonces NonceRegistry, opts ...WebhookVerifierOption) *WebhookVerifier {
	verifier := &WebhookVerifier{
		secrets:         secrets,
		nonces:          nonces,
		logger:          log.Default(),
		now:             time.Now,
		signatureHeader: defaultGatewaySignatureHeader,
		timestampHeader: defaultGatewayTimestampHeader,
		nonceHeader:     defaultGatewayNonceHeader,
		skew:            defaultSignatureSkew,
		nonceWindow:     defaultNonceWindow,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(verifier)
		}
	}

	return verifier
}

// WithVerifierLogger overrides the verifier logger.
func WithVerifierLogger(logger Logger) WebhookVerifierOption {
	return func(v *WebhookVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithVerifierMetrics sets the metrics recorder.
func WithVerifierMetrics(metrics MetricsRecorder) WebhookVerifierOption {
	return func(v *WebhookVerifier) {
		v.metrics = metrics
	}
}

// WithVerifierClock injects a custom clock, primarily for tests.
func WithVerifierClock(now func() time.Time) WebhookVerifierOption {
	return func(v *WebhookVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithVerifierHeaders customises the header names the gateway sends.
func WithVerifierHeaders(signature, timestamp, nonce string) WebhookVerifierOption {
	return func(v *WebhookVerifier) {
		if signature != "" {
			v.signatureHeader = signature
		}
		if timestamp != "" {
			v.timestampHeader = timestamp
		}
		if nonce != "" {
			v.nonceHeader = nonce
		}
	}
}

// WithVerifierSkew adjusts the accepted timestamp skew.
func WithVerifierSkew(d time.Duration) WebhookVerifierOption {
	return func(v *WebhookVerifier) {
		if d > 0 {
			v.skew = d
		}
	}
}

// WithVerifierNonceWindow customises how long nonces are retained.
func WithVerifierNonceWindow(d time.Duration) WebhookVerifierOption {
	return func(v *WebhookVerifier) {
		if d > 0 {
			v.nonceWindow = d
		}
	}
}

// WebhookSignature carries the verified delivery context for downstream
// handlers, keyed on the context by RequireSignature.
type WebhookSignature struct {
	Provider  string
	Timestamp time.Time
	Nonce     string
	Digest    []byte
}

type webhookSignatureKey struct{}

// WithWebhookSignature stores the verified signature on the context.
func WithWebhookSignature(ctx context.Context, sig *WebhookSignature) context.Context {
	if sig == nil {
		return ctx
	}
	return context.WithValue(ctx, webhookSignatureKey{}, sig)
}

// WebhookSignatureFromContext retrieves the verified signature, if present.
func WebhookSignatureFromContext(ctx context.Context) (*WebhookSignature, bool) {
	sig, ok := ctx.Value(webhookSignatureKey{}).(*WebhookSignature)
	if !ok || sig == nil {
		return nil, false
	}
	return sig, true
}

// signatureDenial is the HTTP rejection for an unverified delivery.
type signatureDenial struct {
	status  int
	code    string
	message string
	reason  string
}

func denial(status int, code, message, reason string) *signatureDenial {
	return &signatureDenial{status: status, code: code, message: message, reason: reason}
}

// RequireSignature enforces a valid gateway signature for the given provider.
func (v *WebhookVerifier) RequireSignature(provider string) func(http.Handler) http.Handler {
	provider = strings.TrimSpace(provider)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			ctx := r.Context()

			sig, deny := v.verify(r, provider)
			if deny != nil {
				v.record(ctx, false, deny.reason, start)
				writeAuthError(ctx, w, deny.status, deny.code, deny.message)
				return
			}

			v.record(ctx, true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithWebhookSignature(ctx, sig)))
		})
	}
}

// RequireSignatureFor resolves the provider per request, typically from the
// webhook path suffix, before enforcing its signature.
func (v *WebhookVerifier) RequireSignatureFor(resolve func(*http.Request) (string, bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolve == nil {
				start := v.now()
				v.record(r.Context(), false, "resolver_not_configured", start)
				writeAuthError(r.Context(), w, http.StatusServiceUnavailable, "verification_unavailable", "webhook provider resolver not configured")
				return
			}

			provider, ok := resolve(r)
			if !ok || strings.TrimSpace(provider) == "" {
				start := v.now()
				v.record(r.Context(), false, "provider_unknown", start)
				writeAuthError(r.Context(), w, http.StatusUnauthorized, "unknown_provider", "webhook provider not recognised")
				return
			}

			v.RequireSignature(provider)(next).ServeHTTP(w, r)
		})
	}
}

// verify runs every check against the request. The nonce is registered only
// after the signature matches, so forged deliveries cannot burn nonces.
func (v *WebhookVerifier) verify(r *http.Request, provider string) (*WebhookSignature, *signatureDenial) {
	ctx := r.Context()

	if provider == "" {
		return nil, denial(http.StatusServiceUnavailable, "verification_unavailable", "webhook secret not configured", "secret_not_configured")
	}

	secret, err := v.loadSecret(ctx, provider)
	if err != nil {
		if v.logger != nil {
			v.logger.Printf("auth: webhook secret lookup for %s failed: %v", provider, err)
		}
		return nil, denial(http.StatusServiceUnavailable, "verification_unavailable", "webhook secret unavailable", "secret_unavailable")
	}

	signatureValue := strings.TrimSpace(r.Header.Get(v.signatureHeader))
	if signatureValue == "" {
		return nil, denial(http.StatusUnauthorized, "signature_missing", "signature header missing", "signature_missing")
	}

	timestampValue := strings.TrimSpace(r.Header.Get(v.timestampHeader))
	if timestampValue == "" {
		return nil, denial(http.StatusUnauthorized, "timestamp_missing", "signature timestamp missing", "timestamp_missing")
	}

	timestamp, err := parseSignatureTimestamp(timestampValue)
	if err != nil {
		return nil, denial(http.StatusUnauthorized, "timestamp_invalid", "signature timestamp invalid", "timestamp_invalid")
	}

	if skew := v.now().Sub(timestamp); skew > v.skew || skew < -v.skew {
		return nil, denial(http.StatusUnauthorized, "timestamp_skew", "signature timestamp outside allowed window", "timestamp_skew")
	}

	nonce := strings.TrimSpace(r.Header.Get(v.nonceHeader))
	if nonce == "" {
		return nil, denial(http.StatusUnauthorized, "nonce_missing", "signature nonce missing", "nonce_missing")
	}

	body, err := readAndRestoreBody(r)
	if err != nil {
		return nil, denial(http.StatusBadRequest, "invalid_body", "unable to read body for signature verification", "body_unreadable")
	}

	signature, err := decodeSignature(signatureValue)
	if err != nil {
		return nil, denial(http.StatusUnauthorized, "signature_invalid", "signature encoding invalid", "signature_invalid")
	}

	expected := computeSignature(secret, signaturePayload(r.Method, r.URL.EscapedPath(), timestampValue, nonce, body))
	if !hmac.Equal(signature, expected) {
		return nil, denial(http.StatusUnauthorized, "signature_mismatch", "signature verification failed", "signature_mismatch")
	}

	if v.nonces == nil {
		return nil, denial(http.StatusServiceUnavailable, "verification_unavailable", "nonce registry unavailable", "nonce_registry_unavailable")
	}

	expiry := timestamp.Add(v.nonceWindow)
	if expiry.Before(v.now()) {
		expiry = v.now().Add(v.nonceWindow)
	}

	fresh, err := v.nonces.Register(ctx, provider, nonce, expiry)
	if err != nil {
		if v.logger != nil {
			v.logger.Printf("auth: nonce registry error: %v", err)
		}
		return nil, denial(http.StatusServiceUnavailable, "verification_unavailable", "nonce registry error", "nonce_registry_error")
	}
	if !fresh {
		return nil, denial(http.StatusUnauthorized, "nonce_replay", "duplicate signature nonce", "nonce_replay")
	}

	return &WebhookSignature{
		Provider:  provider,
		Timestamp: timestamp,
		Nonce:     nonce,
		Digest:    signature,
	}, nil
}

func (v *WebhookVerifier) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v == nil || v.metrics == nil {
		return
	}
	duration := v.now().Sub(start)
	v.metrics.RecordVerification(ctx, "webhook_signature", success, reason, duration)
}

func (v *WebhookVerifier) loadSecret(ctx context.Context, provider string) ([]byte, error) {
	if v == nil || v.secrets == nil {
		return nil, errors.New("auth: webhook secret source not configured")
	}

	if cached, ok := v.secretCache.Load(provider); ok {
		if secret, ok := cached.([]byte); ok && len(secret) > 0 {
			return secret, nil
		}
	}

	raw, err := v.secrets.WebhookSecret(ctx, provider)
	if err != nil {
		return nil, err
	}

	secret := []byte(raw)
	if len(secret) == 0 {
		return nil, errors.New("auth: webhook secret is empty")
	}

	v.secretCache.Store(provider, secret)
	return secret, nil
}

// SignWebhookBody computes the signature a gateway would attach to a request
// with the given shape, hex encoded. The retry worker uses it when replaying
// deliveries to the ingest endpoint, and tests use it to build valid requests.
func SignWebhookBody(secret []byte, method, path, timestamp, nonce string, body []byte) string {
	return hex.EncodeToString(computeSignature(secret, signaturePayload(method, path, timestamp, nonce, body)))
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func decodeSignature(value string) ([]byte, error) {
	value = strings.TrimPrefix(value, "sha256=")
	if value == "" {
		return nil, errors.New("auth: empty signature")
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be hex or base64 encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("auth: timestamp empty")
	}

	value = strings.TrimSpace(value)
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}

	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}

	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}

	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}

func signaturePayload(method, path, timestamp, nonce string, body []byte) []byte {
	method = strings.ToUpper(method)
	if path == "" {
		path = "/"
	}

	digest := sha256.Sum256(body)
	payload := strings.Join([]string{
		signaturePayloadVersion,
		method,
		path,
		timestamp,
		nonce,
		hex.EncodeToString(digest[:]),
	}, "\n")
	return []byte(payload)
}

func computeSignature(secret, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}
