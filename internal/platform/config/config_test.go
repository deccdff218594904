package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func loadForTest(t *testing.T, env map[string]string, extra ...Option) Config {
	t.Helper()
	opts := append([]Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}, extra...)
	cfg, err := Load(context.Background(), opts...)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	return cfg
}

func mapResolver(secrets map[string]string) SecretResolver {
	return SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})
}

func TestLoadWithDefaults(t *testing.T) {
	cfg := loadForTest(t, map[string]string{"API_FIREBASE_PROJECT_ID": "nm-dev"})

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"server port", cfg.Server.Port, "8080"},
		{"read timeout", cfg.Server.ReadTimeout, 15 * time.Second},
		{"firestore project follows firebase", cfg.Firestore.ProjectID, "nm-dev"},
		{"jobs project follows firebase", cfg.Jobs.ProjectID, "nm-dev"},
		{"retry topic", cfg.Jobs.WebhookRetryTopic, defaultRetryTopic},
		{"checkout currency", cfg.Checkout.Currency, "usd"},
		{"cart clear policy", cfg.Checkout.CartClearPolicy, "snapshot"},
		{"order number prefix", cfg.Orders.NumberPrefix, defaultOrderNumberPrefix},
		{"payment timeout", cfg.Orders.PaymentTimeout, defaultPaymentTimeout},
		{"default rate limit", cfg.RateLimits.DefaultPerMinute, 120},
		{"allowed host count", len(cfg.Webhooks.AllowedHosts), 0},
		{"security environment", cfg.Security.Environment, "local"},
		{"hmac signature header", cfg.Security.HMAC.SignatureHeader, defaultHMACSignatureHeader},
		{"idempotency header", cfg.Idempotency.Header, defaultIdempotencyHeader},
		{"idempotency ttl", cfg.Idempotency.TTL, defaultIdempotencyTTL},
		{"cleanup interval", cfg.Idempotency.CleanupInterval, defaultIdempotencyInterval},
		{"cleanup batch size", cfg.Idempotency.CleanupBatchSize, defaultIdempotencyBatchSize},
	}
	for _, check := range checks {
		if check.got != check.want {
			t.Errorf("%s: got %v, want %v", check.name, check.got, check.want)
		}
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                    "9090",
		"API_SERVER_READ_TIMEOUT":            "20s",
		"API_SERVER_WRITE_TIMEOUT":           "25s",
		"API_SERVER_IDLE_TIMEOUT":            "2m",
		"API_FIREBASE_PROJECT_ID":            "nm-prod",
		"API_FIRESTORE_PROJECT_ID":           "nm-fire",
		"API_JOBS_PROJECT_ID":                "nm-jobs",
		"API_JOBS_WEBHOOK_RETRY_TOPIC":       "retries-prod",
		"API_JOBS_ORDER_EVENTS_TOPIC":        "events-prod",
		"API_PSP_STRIPE_API_KEY":             "secret://stripe/api",
		"API_PSP_SUCCESS_URL":                "https://shop.example.com/checkout/success",
		"API_PSP_CANCEL_URL":                 "https://shop.example.com/checkout/cancel",
		"API_CHECKOUT_CURRENCY":              "EUR",
		"API_CHECKOUT_CART_CLEAR_POLICY":     "all",
		"API_ORDERS_NUMBER_PREFIX":           "NMX",
		"API_ORDERS_PAYMENT_TIMEOUT":         "45m",
		"API_WEBHOOK_SIGNING_SECRET":         "secret://webhook/secret",
		"API_WEBHOOK_ALLOWED_HOSTS":          "https://example.com, https://foo.bar",
		"API_RATELIMIT_DEFAULT_PER_MIN":      "150",
		"API_RATELIMIT_AUTH_PER_MIN":         "300",
		"API_RATELIMIT_WEBHOOK_BURST":        "80",
		"API_SECURITY_ENVIRONMENT":           "prod",
		"API_SECURITY_HMAC_SECRETS":          "payments=secret://hmac/payments,shipping=shipping-secret",
		"API_SECURITY_HMAC_HEADER_SIGNATURE": "X-Custom-Signature",
		"API_SECURITY_HMAC_CLOCK_SKEW":       "3m",
		"API_SECURITY_HMAC_NONCE_TTL":        "10m",
		"API_IDEMPOTENCY_HEADER":             "X-Idem-Key",
		"API_IDEMPOTENCY_TTL":                "48h",
		"API_IDEMPOTENCY_CLEANUP_INTERVAL":   "30m",
		"API_IDEMPOTENCY_CLEANUP_BATCH":      "500",
	}

	resolver := mapResolver(map[string]string{
		"secret://stripe/api":     "stripe-key",
		"secret://webhook/secret": "webhook-secret",
		"secret://hmac/payments":  "payments-hmac",
	})

	cfg := loadForTest(t, env, WithSecretResolver(resolver))

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"server port", cfg.Server.Port, "9090"},
		{"idle timeout", cfg.Server.IdleTimeout, 2 * time.Minute},
		{"resolved stripe api key", cfg.PSP.StripeAPIKey, "stripe-key"},
		{"currency lowercased", cfg.Checkout.Currency, "eur"},
		{"cart clear policy", cfg.Checkout.CartClearPolicy, "all"},
		{"order number prefix", cfg.Orders.NumberPrefix, "NMX"},
		{"payment timeout", cfg.Orders.PaymentTimeout, 45 * time.Minute},
		{"jobs project", cfg.Jobs.ProjectID, "nm-jobs"},
		{"retry topic", cfg.Jobs.WebhookRetryTopic, "retries-prod"},
		{"events topic", cfg.Jobs.OrderEventsTopic, "events-prod"},
		{"allowed host count", len(cfg.Webhooks.AllowedHosts), 2},
		{"security environment", cfg.Security.Environment, "prod"},
		{"resolved payments hmac secret", cfg.Security.HMAC.Secrets["payments"], "payments-hmac"},
		{"literal shipping secret", cfg.Security.HMAC.Secrets["shipping"], "shipping-secret"},
		{"signature header", cfg.Security.HMAC.SignatureHeader, "X-Custom-Signature"},
		{"clock skew", cfg.Security.HMAC.ClockSkew, 3 * time.Minute},
		{"nonce ttl", cfg.Security.HMAC.NonceTTL, 10 * time.Minute},
		{"idempotency header", cfg.Idempotency.Header, "X-Idem-Key"},
		{"idempotency ttl", cfg.Idempotency.TTL, 48 * time.Hour},
		{"cleanup interval", cfg.Idempotency.CleanupInterval, 30 * time.Minute},
		{"cleanup batch size", cfg.Idempotency.CleanupBatchSize, 500},
	}
	for _, check := range checks {
		if check.got != check.want {
			t.Errorf("%s: got %v, want %v", check.name, check.got, check.want)
		}
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env.test")
	content := "API_SERVER_PORT=7070\nAPI_FIREBASE_PROJECT_ID=nm-dot\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "nm-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestLoadRejectsUnknownClearPolicy(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(map[string]string{
			"API_FIREBASE_PROJECT_ID":        "nm-dev",
			"API_CHECKOUT_CART_CLEAR_POLICY": "sometimes",
		}),
		WithoutSystemEnv(), WithEnvFile(""),
	)
	if err == nil {
		t.Fatal("expected validation error for unknown clear policy")
	}
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if fields := validation.Fields(); len(fields) != 1 || fields[0] != "Checkout.CartClearPolicy" {
		t.Fatalf("unexpected invalid fields %v", fields)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(map[string]string{
			"API_FIREBASE_PROJECT_ID": "nm-dev",
			"API_PSP_STRIPE_API_KEY":  "secret://missing",
		}),
		WithoutSystemEnv(), WithEnvFile(""),
	)
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
		"API_SECRET_VERSION_PINS": "secret://stripe/api=5",
	}))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	expected := map[string]string{
		"API_FIREBASE_PROJECT_ID":  "override-project",
		"API_SECRET_FALLBACK_FILE": ".dot.local",
		"API_SECRET_PROJECT_IDS":   "prod=project-prod",
		"API_SECRET_VERSION_PINS":  "secret://stripe/api=5",
	}
	for key, want := range expected {
		if got := values[key]; got != want {
			t.Fatalf("%s: got %q, want %q", key, got, want)
		}
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(map[string]string{"API_FIREBASE_PROJECT_ID": "nm-dev"}),
		WithoutSystemEnv(), WithEnvFile(""),
		WithRequiredSecrets("Webhooks.SigningSecret"),
	)
	if err == nil {
		t.Fatal("expected missing secrets error, got nil")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expectedRedacted := redactSecretName("Webhooks.SigningSecret")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if names := missing.Names(); len(names) != 1 || names[0] != "Webhooks.SigningSecret" {
			t.Fatalf("unexpected missing secrets %v", names)
		}
	}()

	Load(context.Background(),
		WithEnvMap(map[string]string{"API_FIREBASE_PROJECT_ID": "nm-dev"}),
		WithoutSystemEnv(), WithEnvFile(""),
		WithRequiredSecrets("Webhooks.SigningSecret"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	resolver := mapResolver(map[string]string{
		"secret://webhook/secret": "legacy-secret",
	})

	cfg := loadForTest(t, map[string]string{
		"API_FIREBASE_PROJECT_ID":    "nm-dev",
		"API_WEBHOOK_SIGNING_SECRET": "sm://webhook/secret",
	}, WithSecretResolver(resolver))

	if cfg.Webhooks.SigningSecret != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.Webhooks.SigningSecret)
	}
}
