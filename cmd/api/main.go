package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/northmart/api/internal/di"
	"github.com/northmart/api/internal/handlers"
	"github.com/northmart/api/internal/payments"
	"github.com/northmart/api/internal/platform/auth"
	"github.com/northmart/api/internal/platform/config"
	pfirestore "github.com/northmart/api/internal/platform/firestore"
	"github.com/northmart/api/internal/platform/idempotency"
	"github.com/northmart/api/internal/platform/jobs"
	"github.com/northmart/api/internal/platform/observability"
	"github.com/northmart/api/internal/platform/secrets"
	"github.com/northmart/api/internal/repositories"
	firestoreRepo "github.com/northmart/api/internal/repositories/firestore"
	"github.com/northmart/api/internal/services"
)

const (
	expireSweepInterval = time.Minute
	expireSweepLimit    = 50
)

func main() {
	ctx := context.Background()
	bootTime := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger bootstrap failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("cannot read environment", zap.Error(err))
	}

	fetcher, err := secretFetcherFromEnv(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("secret fetcher bootstrap failed", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("closing secret fetcher", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(mandatorySecretFields(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("required secrets unresolved", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("configuration load failed", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("firestore client unavailable", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("closing firestore", zap.Error(err))
		}
	}()

	healthRepo, err := newHealthRepository(firestoreClient, fetcher)
	if err != nil {
		logger.Warn("readiness checks disabled", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("repository registry bootstrap failed", zap.Error(err))
	}

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: cfg.PSP.StripeAPIKey,
		Logger: serviceLogFunc(logger.Named("payments")),
		Clock:  time.Now,
	})
	if err != nil {
		logger.Fatal("stripe provider bootstrap failed", zap.Error(err))
	}
	paymentManager, err := payments.NewManager(map[string]payments.Provider{"stripe": stripeProvider})
	if err != nil {
		logger.Fatal("payment manager bootstrap failed", zap.Error(err))
	}

	var pubsubClient *pubsub.Client
	var orderEvents services.OrderEventPublisher
	var retryQueue services.WebhookRetryPublisher
	if projectID := strings.TrimSpace(cfg.Jobs.ProjectID); projectID != "" {
		pubsubClient, err = pubsub.NewClient(ctx, projectID)
		if err != nil {
			logger.Fatal("pubsub client unavailable", zap.Error(err))
		}
		defer pubsubClient.Close()

		if topic := strings.TrimSpace(cfg.Jobs.OrderEventsTopic); topic != "" {
			t := pubsubClient.Topic(topic)
			defer t.Stop()
			orderEvents, err = jobs.NewPubSubOrderEventPublisher(t)
			if err != nil {
				logger.Fatal("order event publisher bootstrap failed", zap.Error(err))
			}
		}
		if topic := strings.TrimSpace(cfg.Jobs.WebhookRetryTopic); topic != "" {
			t := pubsubClient.Topic(topic)
			defer t.Stop()
			retryQueue, err = jobs.NewPubSubWebhookRetryPublisher(t)
			if err != nil {
				logger.Fatal("webhook retry publisher bootstrap failed", zap.Error(err))
			}
		}
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.ContainerDeps{
		Payments:    paymentManager,
		OrderEvents: orderEvents,
		RetryQueue:  retryQueue,
		Logger:      serviceLogFunc(logger.Named("services")),
		Build:       buildMetadata(envValues, cfg, bootTime),
	})
	if err != nil {
		logger.Fatal("service container assembly failed", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("firebase verifier bootstrap failed", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier))

	replayStore := idempotency.NewFirestoreStore(firestoreClient)
	replayGuard := idempotency.Middleware(
		replayStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	background := newBackgroundRunner()
	if cfg.Idempotency.CleanupInterval > 0 {
		background.every(cfg.Idempotency.CleanupInterval, func(runCtx context.Context) {
			swept, err := replayStore.Sweep(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
			if err != nil {
				logger.Named("idempotency").Error("replay record sweep error", zap.Error(err))
				return
			}
			if swept > 0 {
				logger.Named("idempotency").Info("swept expired replay records", zap.Int("count", swept))
			}
		})
	}
	if cfg.Orders.PaymentTimeout > 0 {
		background.every(expireSweepInterval, func(runCtx context.Context) {
			expired, err := container.Services.Orders.ExpirePendingOrders(runCtx, expireSweepLimit)
			if err != nil {
				logger.Named("orders").Error("pending order sweep error", zap.Error(err))
				return
			}
			if expired > 0 {
				logger.Named("orders").Info("cancelled expired pending orders", zap.Int("count", expired))
			}
		})
	}

	productHandlers := handlers.NewProductHandlers(container.Services.Catalog)
	cartHandlers := handlers.NewCartHandlers(authenticator, container.Services.Cart)
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, container.Services.Checkout)
	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders)
	adminCatalogHandlers := handlers.NewAdminCatalogHandlers(authenticator, container.Services.Catalog)
	adminOrderHandlers := handlers.NewAdminOrderHandlers(authenticator, container.Services.Orders)
	webhookHandlers := handlers.NewWebhookHandlers(container.Services.Webhooks)
	healthHandlers := handlers.NewHealthHandlers(container.Services.System)

	projectID := tracingProject(cfg)
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithProductRoutes(productHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithCheckoutMiddlewares(replayGuard),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(func(r chi.Router) {
			r.Group(adminCatalogHandlers.Routes)
			r.Group(adminOrderHandlers.Routes)
		}),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	}
	if hmacMiddleware := webhookSignatureMiddleware(logger.Named("auth"), cfg); hmacMiddleware != nil {
		opts = append(opts, handlers.WithWebhookMiddlewares(hmacMiddleware))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(opts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("northmart storefront api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server stopped unexpectedly", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("stop signal received, draining in-flight requests")

	background.stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown deadline exceeded", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("closing service container", zap.Error(err))
	}
}

// backgroundRunner owns the periodic maintenance loops: the replay
// record sweep and the pending-payment timeout sweep. Each tick runs
// under a one-minute deadline.
type backgroundRunner struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	tickers []*time.Ticker
}

func newBackgroundRunner() *backgroundRunner {
	ctx, cancel := context.WithCancel(context.Background())
	return &backgroundRunner{ctx: ctx, cancel: cancel}
}

func (b *backgroundRunner) every(interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	b.tickers = append(b.tickers, ticker)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(b.ctx, time.Minute)
				tick(runCtx)
				cancel()
			case <-b.ctx.Done():
				return
			}
		}
	}()
}

func (b *backgroundRunner) stop() {
	for _, ticker := range b.tickers {
		ticker.Stop()
	}
	b.cancel()
	b.wg.Wait()
}

func serviceLogFunc(logger *zap.Logger) func(context.Context, string, map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service log", zFields...)
	}
}

func buildMetadata(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	info := services.BuildInfo{
		Version:     strings.TrimSpace(env["API_BUILD_VERSION"]),
		CommitSHA:   strings.TrimSpace(env["API_BUILD_COMMIT_SHA"]),
		Environment: strings.TrimSpace(cfg.Security.Environment),
		StartedAt:   started,
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	if info.CommitSHA == "" {
		info.CommitSHA = "unknown"
	}
	if info.Environment == "" {
		info.Environment = "local"
	}
	return info
}

func newHealthRepository(client *firestore.Client, fetcher *secrets.Fetcher) (repositories.HealthRepository, error) {
	var checks []repositories.DependencyCheck
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				_, err := c.Collections(ctx).Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if fetcher != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				// The probe secret does not need to exist; NotFound still
				// proves the Secret Manager round trip works.
				_, err := fetcher.Resolve(ctx, "secret://system/healthz?version=latest")
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: nothing to probe")
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func webhookSignatureMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	secretValues := make(map[string]string)
	for key, value := range cfg.Security.HMAC.Secrets {
		if strings.TrimSpace(value) != "" {
			secretValues[strings.ToLower(key)] = value
		}
	}
	if cfg.Webhooks.SigningSecret != "" {
		if _, ok := secretValues["default"]; !ok {
			secretValues["default"] = cfg.Webhooks.SigningSecret
		}
	}
	if len(secretValues) == 0 {
		return nil
	}

	verifier := auth.NewWebhookVerifier(
		staticWebhookSecrets{secrets: secretValues},
		auth.NewMemoryNonceRegistry(),
		auth.WithVerifierLogger(observability.NewPrintfAdapter(logger)),
		auth.WithVerifierHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader, cfg.Security.HMAC.NonceHeader),
		auth.WithVerifierSkew(cfg.Security.HMAC.ClockSkew),
		auth.WithVerifierNonceWindow(cfg.Security.HMAC.NonceTTL),
	)
	return verifier.RequireSignatureFor(webhookSecretResolver(secretValues))
}

type staticWebhookSecrets struct {
	secrets map[string]string
}

func (p staticWebhookSecrets) WebhookSecret(_ context.Context, name string) (string, error) {
	if len(p.secrets) == 0 {
		return "", errors.New("auth: no webhook signing secrets configured")
	}
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", errors.New("auth: webhook secret name required")
	}
	if secret, ok := p.secrets[key]; ok && secret != "" {
		return secret, nil
	}
	return "", errors.New("auth: no signing secret for name")
}

// webhookSecretResolver picks the signing secret for a webhook request
// by path: "payments/stripe" before "payments" before "default".
func webhookSecretResolver(secretValues map[string]string) func(*http.Request) (string, bool) {
	return func(r *http.Request) (string, bool) {
		path := r.URL.Path
		if idx := strings.Index(path, "/webhooks/"); idx >= 0 {
			path = path[idx+len("/webhooks/"):]
		}
		path = strings.Trim(path, "/")

		var candidates []string
		if path != "" {
			segments := strings.Split(path, "/")
			if len(segments) >= 2 {
				candidates = append(candidates, strings.ToLower(segments[0]+"/"+segments[1]))
			}
			candidates = append(candidates, strings.ToLower(segments[0]))
		}
		candidates = append(candidates, "default")

		for _, candidate := range candidates {
			if secret, ok := secretValues[candidate]; ok && secret != "" {
				return candidate, true
			}
		}
		return "", false
	}
}

func tracingProject(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func secretFetcherFromEnv(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projectMap := splitPairs(env["API_SECRET_PROJECT_IDS"], strings.ToLower); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPins(env["API_SECRET_VERSION_PINS"]); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

func mandatorySecretFields(env map[string]string) []string {
	names := map[string]struct{}{
		"PSP.StripeAPIKey":       {},
		"Webhooks.SigningSecret": {},
	}
	for key := range splitPairs(env["API_SECURITY_HMAC_SECRETS"], strings.ToLower) {
		names[fmt.Sprintf("Security.HMAC.Secrets[%s]", key)] = struct{}{}
	}

	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// splitPairs parses "key=value,key=value" env values. normalizeKey
// transforms each key, pass strings.ToLower for case-insensitive maps.
func splitPairs(raw string, normalizeKey func(string) string) map[string]string {
	out := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if normalizeKey != nil {
			key = normalizeKey(key)
		}
		value = strings.TrimSpace(value)
		if key != "" && value != "" {
			out[key] = value
		}
	}
	return out
}

// secretVersionPins parses API_SECRET_VERSION_PINS entries of the form
// "[env:]ref=version", normalising each ref to the secret:// scheme.
func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range splitPairs(raw, nil) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		if strings.HasPrefix(ref, "sm://") {
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		} else if !strings.HasPrefix(ref, "secret://") {
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}
