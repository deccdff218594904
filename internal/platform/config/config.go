// Package config loads the storefront API configuration from defaults,
// a local dotenv file, the process environment, and Secret Manager
// references, in that order of precedence.
package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile               = ".env"
	defaultPort                  = "8080"
	defaultReadTimeout           = 15 * time.Second
	defaultWriteTimeout          = 30 * time.Second
	defaultIdleTimeout           = 120 * time.Second
	defaultRateLimitDefault      = 120
	defaultRateLimitAuth         = 240
	defaultRateLimitWebhookBurst = 60
	defaultHMACSignatureHeader   = "X-Gateway-Signature"
	defaultHMACTimestampHeader   = "X-Gateway-Timestamp"
	defaultHMACNonceHeader       = "X-Gateway-Nonce"
	defaultHMACClockSkew         = 5 * time.Minute
	defaultHMACNonceTTL          = 5 * time.Minute
	defaultIdempotencyHeader     = "Idempotency-Key"
	defaultIdempotencyTTL        = 24 * time.Hour
	defaultIdempotencyInterval   = time.Hour
	defaultIdempotencyBatchSize  = 200
	defaultOrderNumberPrefix     = "NM"
	defaultPaymentTimeout        = 30 * time.Minute
	defaultCartClearPolicy       = "snapshot"
	defaultCurrency              = "usd"
	defaultRetryTopic            = "payment-webhook-retries"
	defaultEventsTopic           = "order-events"
)

// Config is the full runtime configuration, grouped by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	PSP         PSPConfig
	Checkout    CheckoutConfig
	Orders      OrdersConfig
	Jobs        JobsConfig
	Webhooks    WebhookConfig
	RateLimits  RateLimitConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig identifies the Firebase project used for shopper auth.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig identifies the database. EmulatorHost switches the
// client to a local emulator.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PSPConfig holds payment provider credentials and redirect URLs.
type PSPConfig struct {
	StripeAPIKey       string
	SuccessURL         string
	CancelURL          string
	SessionExpiryHours int
}

// CheckoutConfig controls order creation behaviour.
type CheckoutConfig struct {
	Currency string
	// CartClearPolicy is "snapshot" (only snapshotted lines are removed)
	// or "all" (the whole cart is emptied).
	CartClearPolicy string
}

// OrdersConfig tunes the order lifecycle.
type OrdersConfig struct {
	NumberPrefix   string
	PaymentTimeout time.Duration
}

// JobsConfig names the Pub/Sub topics used for asynchronous work.
type JobsConfig struct {
	ProjectID         string
	WebhookRetryTopic string
	OrderEventsTopic  string
}

// WebhookConfig contains webhook security parameters.
type WebhookConfig struct {
	SigningSecret string
	AllowedHosts  []string
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute       int
	AuthenticatedPerMinute int
	WebhookBurst           int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	HMAC        HMACConfig
}

// HMACConfig captures gateway webhook signing expectations.
type HMACConfig struct {
	Secrets         map[string]string
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string
	ClockSkew       time.Duration
	NonceTTL        time.Duration
}

// IdempotencyConfig controls the checkout replay guard.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver turns secret:// references into their values.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError reports required fields that are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError wraps a failed secret reference lookup.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secrets that resolved empty. The
// error string carries hashed names only, so it is safe to log.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

func (e *MissingSecretsError) Error() string {
	redacted := e.RedactedNames()
	if len(redacted) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(redacted, ", "))
}

// RedactedNames returns hashed identifiers, sorted.
func (e *MissingSecretsError) RedactedNames() []string {
	return e.collect(func(s missingSecret) string { return s.redacted })
}

// Names returns the raw identifiers, sorted.
func (e *MissingSecretsError) Names() []string {
	return e.collect(func(s missingSecret) string { return s.name })
}

func (e *MissingSecretsError) collect(pick func(missingSecret) string) []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, pick(secret))
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// WithEnvFile overrides the dotenv path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects explicit key/value pairs that win over system
// environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores os.Environ, relying only on the dotenv file
// and explicit maps.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks secrets as mandatory. Identifiers match the
// config field paths recorded by the loader, such as "PSP.StripeAPIKey"
// or "Security.HMAC.Secrets[payments]".
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets makes Load panic instead of returning the
// missing-secrets error.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissingSecrets = true }
}

func applyOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// env resolves configuration keys with the loader precedence: explicit
// map, then system environment, then dotenv.
type env struct {
	overrides map[string]string
	system    bool
	dotenv    map[string]string
}

func (e env) lookup(key string) (string, bool) {
	if value, ok := e.overrides[key]; ok {
		return value, true
	}
	if e.system {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	value, ok := e.dotenv[key]
	return value, ok
}

func (e env) str(key, fallback string) string {
	if value, ok := e.lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func (e env) duration(key string, fallback time.Duration) time.Duration {
	if value, ok := e.lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (e env) number(key string, fallback int) int {
	if value, ok := e.lookup(key); ok && value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func (e env) csv(key string) []string {
	raw, _ := e.lookup(key)
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// pairs parses "name=value,name=value" lists. Names are lowercased.
func (e env) pairs(key string) map[string]string {
	out := make(map[string]string)
	raw, _ := e.lookup(key)
	for _, entry := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if name != "" && value != "" {
			out[name] = value
		}
	}
	return out
}

// EnvironmentValues returns the merged key/value environment applying
// the same precedence as Load. Callers use it to prime dependencies,
// such as the secret fetcher, before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := applyOptions(opts)

	dotenv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(dotenv)+len(options.envMap))
	for key, value := range dotenv {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the configuration and resolves any secret references
// it finds in credential fields.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := applyOptions(opts)
	if options.secret == nil {
		options.secret = SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		})
	}

	dotenv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	e := env{overrides: options.envMap, system: options.useSystemEnv, dotenv: dotenv}

	cfg := Config{
		Server: ServerConfig{
			Port:         e.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  e.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: e.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  e.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       e.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: e.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    e.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: e.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PSP: PSPConfig{
			StripeAPIKey:       e.str("API_PSP_STRIPE_API_KEY", ""),
			SuccessURL:         e.str("API_PSP_SUCCESS_URL", ""),
			CancelURL:          e.str("API_PSP_CANCEL_URL", ""),
			SessionExpiryHours: e.number("API_PSP_SESSION_EXPIRY_HOURS", 24),
		},
		Checkout: CheckoutConfig{
			Currency:        strings.ToLower(e.str("API_CHECKOUT_CURRENCY", defaultCurrency)),
			CartClearPolicy: strings.ToLower(e.str("API_CHECKOUT_CART_CLEAR_POLICY", defaultCartClearPolicy)),
		},
		Orders: OrdersConfig{
			NumberPrefix:   e.str("API_ORDERS_NUMBER_PREFIX", defaultOrderNumberPrefix),
			PaymentTimeout: e.duration("API_ORDERS_PAYMENT_TIMEOUT", defaultPaymentTimeout),
		},
		Jobs: JobsConfig{
			ProjectID:         e.str("API_JOBS_PROJECT_ID", ""),
			WebhookRetryTopic: e.str("API_JOBS_WEBHOOK_RETRY_TOPIC", defaultRetryTopic),
			OrderEventsTopic:  e.str("API_JOBS_ORDER_EVENTS_TOPIC", defaultEventsTopic),
		},
		Webhooks: WebhookConfig{
			SigningSecret: e.str("API_WEBHOOK_SIGNING_SECRET", ""),
			AllowedHosts:  e.csv("API_WEBHOOK_ALLOWED_HOSTS"),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:       e.number("API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			AuthenticatedPerMinute: e.number("API_RATELIMIT_AUTH_PER_MIN", defaultRateLimitAuth),
			WebhookBurst:           e.number("API_RATELIMIT_WEBHOOK_BURST", defaultRateLimitWebhookBurst),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(e.str("API_SECURITY_ENVIRONMENT", "local")),
			HMAC: HMACConfig{
				Secrets:         e.pairs("API_SECURITY_HMAC_SECRETS"),
				SignatureHeader: e.str("API_SECURITY_HMAC_HEADER_SIGNATURE", defaultHMACSignatureHeader),
				TimestampHeader: e.str("API_SECURITY_HMAC_HEADER_TIMESTAMP", defaultHMACTimestampHeader),
				NonceHeader:     e.str("API_SECURITY_HMAC_HEADER_NONCE", defaultHMACNonceHeader),
				ClockSkew:       e.duration("API_SECURITY_HMAC_CLOCK_SKEW", defaultHMACClockSkew),
				NonceTTL:        e.duration("API_SECURITY_HMAC_NONCE_TTL", defaultHMACNonceTTL),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           e.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              e.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  e.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: e.number("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	// Firestore and Pub/Sub projects default to the Firebase project.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Jobs.ProjectID == "" {
		cfg.Jobs.ProjectID = cfg.Firebase.ProjectID
	}

	resolved := make(map[string]string)
	resolve := func(name string, field *string) error {
		value, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return err
		}
		*field = value
		resolved[name] = strings.TrimSpace(value)
		return nil
	}

	for key := range cfg.Security.HMAC.Secrets {
		value := cfg.Security.HMAC.Secrets[key]
		if err := resolve(fmt.Sprintf("Security.HMAC.Secrets[%s]", key), &value); err != nil {
			return Config{}, err
		}
		cfg.Security.HMAC.Secrets[key] = value
	}
	if err := resolve("PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey); err != nil {
		return Config{}, err
	}
	if err := resolve("Webhooks.SigningSecret", &cfg.Webhooks.SigningSecret); err != nil {
		return Config{}, err
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	ref := strings.TrimSpace(value)
	switch {
	case strings.HasPrefix(ref, "sm://"):
		// Legacy scheme from the first deployment generation.
		ref = "secret://" + strings.TrimPrefix(ref, "sm://")
	case strings.HasPrefix(ref, "secret://"):
	default:
		return value, nil
	}
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var bad []string
	require := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}

	require(cfg.Server.Port != "", "Server.Port")
	require(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	require(cfg.Checkout.CartClearPolicy == "snapshot" || cfg.Checkout.CartClearPolicy == "all", "Checkout.CartClearPolicy")
	require(cfg.Orders.PaymentTimeout > 0, "Orders.PaymentTimeout")
	require(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	require(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	require(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(bad) > 0 {
		return &ValidationError{fields: bad}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []missingSecret
	seen := make(map[string]struct{}, len(required))
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(resolved[name]) != "" {
			continue
		}
		missing = append(missing, missingSecret{name: name, redacted: redactSecretName(name)})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}
