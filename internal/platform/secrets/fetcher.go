package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	metricNamespace     = "github.com/northmart/api/internal/platform/secrets"
)

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// Fetcher resolves secret:// references against Google Secret Manager,
// caching resolved values for the process lifetime. The config loader uses it
// for the Stripe API key and webhook signing secrets, and the readiness probe
// uses it to confirm Secret Manager access. A local key=value file backs the
// fetcher when running without cloud credentials.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool

	logger *zap.Logger

	env            string
	defaultProject string
	projectByEnv   map[string]string
	versionPins    map[string]string

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]resolvedSecret

	resolveLatency   metric.Float64Histogram
	latencyEnabled   bool
	cacheHits        metric.Int64Counter
	cacheHitsEnabled bool
}

type resolvedSecret struct {
	value     string
	ref       string
	version   string
	source    string
	fetchedAt time.Time
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Option customises Fetcher construction.
type Option func(*Fetcher, *fetcherSetup)

type fetcherSetup struct {
	meter      metric.Meter
	client     secretManagerClient
	clientOpts []option.ClientOption
}

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher, _ *fetcherSetup) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithEnvironment selects the deployment environment ("local", "staging",
// "production") used to pick the Secret Manager project and version pins.
func WithEnvironment(env string) Option {
	return func(f *Fetcher, _ *fetcherSetup) {
		f.env = strings.ToLower(strings.TrimSpace(env))
	}
}

// WithDefaultProject sets the project used when no per-environment mapping matches.
func WithDefaultProject(projectID string) Option {
	return func(f *Fetcher, _ *fetcherSetup) {
		f.defaultProject = strings.TrimSpace(projectID)
	}
}

// WithProjectMap supplies per-environment Secret Manager project IDs.
func WithProjectMap(m map[string]string) Option {
	return func(f *Fetcher, _ *fetcherSetup) {
		f.projectByEnv = copyStringMap(m)
	}
}

// WithFallbackFile overrides the path to the local fallback secrets file.
func WithFallbackFile(path string) Option {
	return func(f *Fetcher, _ *fetcherSetup) {
		f.fallbackPath = strings.TrimSpace(path)
	}
}

// WithVersionPins sets explicit version overrides keyed by canonical secret
// reference, optionally scoped by environment as "env:secret://name".
func WithVersionPins(pins map[string]string) Option {
	return func(f *Fetcher, _ *fetcherSetup) {
		f.versionPins = copyStringMap(pins)
	}
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(_ *Fetcher, setup *fetcherSetup) {
		setup.meter = m
	}
}

// WithSecretManagerClient injects a preconfigured client, primarily for tests.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(_ *Fetcher, setup *fetcherSetup) {
		setup.client = client
	}
}

// WithClientOptions forwards Cloud client options when constructing the client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(_ *Fetcher, setup *fetcherSetup) {
		setup.clientOpts = append(setup.clientOpts, opts...)
	}
}

// NewFetcher builds a Fetcher. A missing Secret Manager client is not fatal;
// the fetcher then serves only fallback-file values, which is the expected
// mode for local development against the emulator.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		logger:       zap.NewNop(),
		env:          strings.ToLower(strings.TrimSpace(os.Getenv("API_SECURITY_ENVIRONMENT"))),
		fallbackPath: defaultFallbackPath,
		projectByEnv: map[string]string{},
		versionPins:  map[string]string{},
		cache:        make(map[string]resolvedSecret),
	}
	if f.env == "" {
		f.env = defaultEnvironment
	}

	setup := fetcherSetup{}
	for _, opt := range opts {
		if opt != nil {
			opt(f, &setup)
		}
	}

	meter := setup.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}

	latency, latencyErr := meter.Float64Histogram(
		"secrets.resolve.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for secret resolution"),
	)
	if latencyErr != nil {
		f.logger.Warn("secrets: unable to register latency metric", zap.Error(latencyErr))
	}
	f.resolveLatency = latency
	f.latencyEnabled = latencyErr == nil

	cacheHits, cacheErr := meter.Int64Counter(
		"secrets.resolve.cache_hits",
		metric.WithDescription("Count of cache hits when resolving secrets"),
	)
	if cacheErr != nil {
		f.logger.Warn("secrets: unable to register cache hit metric", zap.Error(cacheErr))
	}
	f.cacheHits = cacheHits
	f.cacheHitsEnabled = cacheErr == nil

	if setup.client != nil {
		f.client = setup.client
	} else {
		client, err := newSecretManagerClient(ctx, setup.clientOpts...)
		if err != nil {
			f.logger.Warn("secrets: secret manager client unavailable; serving fallback values only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}

	return f, nil
}

// Close releases the underlying client when the fetcher owns it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the secret value for a secret://name[?version=N&project=P]
// reference. Resolution order is cache, Secret Manager, then the fallback
// file; auth and availability errors from Secret Manager degrade to the
// fallback, anything else surfaces to the caller.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := parseRef(ref)
	if err != nil {
		return "", err
	}

	version := f.pinnedVersion(parsed)
	key := cacheKey(parsed.Canonical, version)

	if value, ok := f.cached(key); ok {
		f.recordCacheHit(ctx, parsed.Canonical)
		f.recordLatency(ctx, time.Since(start), "cache", nil)
		return value, nil
	}

	projectID := f.resolveProject(parsed)
	remoteUsable := projectID != "" && f.client != nil

	if remoteUsable {
		value, fetchErr := f.fetchRemote(ctx, projectID, parsed.Secret, version)
		if fetchErr == nil {
			f.store(key, value, parsed.Canonical, version, "remote")
			f.recordLatency(ctx, time.Since(start), "remote", nil)
			return value, nil
		}

		if !degradesToFallback(fetchErr) {
			f.recordLatency(ctx, time.Since(start), "error", fetchErr)
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", parsed.Canonical, fetchErr)
		}

		f.logger.Debug("secrets: falling back to local secrets",
			zap.String("ref", parsed.Canonical), zap.Error(fetchErr))
	}

	value, ok := f.fallbackValue(parsed, version)
	if !ok {
		err := fmt.Errorf("secrets: fallback value not found for %s", parsed.Canonical)
		f.recordLatency(ctx, time.Since(start), "error", err)
		return "", err
	}

	f.store(key, value, parsed.Canonical, version, "fallback")
	f.recordLatency(ctx, time.Since(start), "fallback", nil)
	return value, nil
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	if !ok {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) store(key, value, canonical, version, source string) {
	f.mu.Lock()
	f.cache[key] = resolvedSecret{
		value:     value,
		ref:       canonical,
		version:   version,
		source:    source,
		fetchedAt: time.Now(),
	}
	f.mu.Unlock()
}

func (f *Fetcher) fetchRemote(ctx context.Context, projectID, secretName, version string) (string, error) {
	resourceName := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, secretName, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resourceName})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Payload == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", resourceName)
	}
	return string(resp.Payload.GetData()), nil
}

func (f *Fetcher) resolveProject(ref secretRef) string {
	if ref.Project != "" {
		return ref.Project
	}
	if id, ok := f.projectByEnv[f.env]; ok && strings.TrimSpace(id) != "" {
		return strings.TrimSpace(id)
	}
	return f.defaultProject
}

func (f *Fetcher) pinnedVersion(ref secretRef) string {
	if ref.Version != "" {
		return ref.Version
	}
	if pin, ok := f.versionPins[f.env+":"+ref.Canonical]; ok && strings.TrimSpace(pin) != "" {
		return strings.TrimSpace(pin)
	}
	if pin, ok := f.versionPins[ref.Canonical]; ok && strings.TrimSpace(pin) != "" {
		return strings.TrimSpace(pin)
	}
	return "latest"
}

func (f *Fetcher) fallbackValue(ref secretRef, version string) (string, bool) {
	f.loadFallback()

	if f.fallbackErr != nil {
		f.logger.Debug("secrets: fallback load error", zap.Error(f.fallbackErr))
		return "", false
	}

	if val, ok := f.fallback[cacheKey(ref.Canonical, version)]; ok {
		return val, true
	}
	if val, ok := f.fallback[ref.Canonical]; ok {
		return val, true
	}
	return "", false
}

// loadFallback reads the key=value fallback file once. Keys are secret
// references ("secret://stripe/api" or the "sm://" alias); lines starting
// with # are comments.
func (f *Fetcher) loadFallback() {
	f.fallbackOnce.Do(func() {
		f.fallback = map[string]string{}

		path := strings.TrimSpace(f.fallbackPath)
		if path == "" {
			return
		}

		absPath, err := filepath.Abs(path)
		if err != nil {
			absPath = path
		}

		file, err := os.Open(absPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				f.fallbackErr = fmt.Errorf("secrets: unable to open fallback file %s: %w", absPath, err)
			}
			return
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			rawKey, rawValue, found := strings.Cut(line, "=")
			if !found {
				continue
			}
			key := normalizeRef(strings.TrimSpace(rawKey))
			value := strings.TrimSpace(rawValue)
			if key == "" {
				continue
			}
			parsed, err := parseRef(key)
			if err != nil {
				f.fallback[key] = value
				continue
			}
			version := parsed.Version
			if version == "" {
				version = "latest"
			}
			f.fallback[parsed.Canonical] = value
			f.fallback[cacheKey(parsed.Canonical, version)] = value
		}
		if err := scanner.Err(); err != nil {
			f.fallbackErr = fmt.Errorf("secrets: failed reading %s: %w", absPath, err)
		}
	})
}

func (f *Fetcher) recordLatency(ctx context.Context, d time.Duration, source string, err error) {
	if !f.latencyEnabled {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("source", source)}
	if err != nil {
		attrs = append(attrs, attribute.String("error", err.Error()))
	}
	f.resolveLatency.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(attrs...))
}

func (f *Fetcher) recordCacheHit(ctx context.Context, canonical string) {
	if !f.cacheHitsEnabled {
		return
	}
	// Secret names are masked so the metric never leaks which secrets exist.
	f.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", maskRef(canonical))))
}

type secretRef struct {
	Canonical string
	Secret    string
	Version   string
	Project   string
}

func parseRef(ref string) (secretRef, error) {
	if strings.TrimSpace(ref) == "" {
		return secretRef{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return secretRef{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return secretRef{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	secret := strings.Trim(strings.TrimPrefix(u.Host+u.Path, "/"), "/")
	if secret == "" {
		return secretRef{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}

	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""

	values := u.Query()
	return secretRef{
		Canonical: canonical.String(),
		Secret:    secret,
		Version:   strings.TrimSpace(values.Get("version")),
		Project:   strings.TrimSpace(values.Get("project")),
	}, nil
}

func normalizeRef(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func cacheKey(canonical, version string) string {
	return canonical + "#" + version
}

func copyStringMap(src map[string]string) map[string]string {
	if src == nil {
		return map[string]string{}
	}
	dst := make(map[string]string, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

func maskRef(ref string) string {
	h := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(h[:8])
}

func degradesToFallback(err error) bool {
	if err == nil {
		return false
	}
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
