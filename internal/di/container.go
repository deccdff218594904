package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/northmart/api/internal/domain"
	"github.com/northmart/api/internal/payments"
	"github.com/northmart/api/internal/platform/config"
	"github.com/northmart/api/internal/repositories"
	"github.com/northmart/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog  services.CatalogService
	Cart     services.CartService
	Checkout services.CheckoutService
	Orders   services.OrderService
	Webhooks services.WebhookService
	Counters services.CounterService
	System   services.SystemService
}

// ContainerDeps carries the external collaborators the service layer needs
// beyond repositories: the PSP manager and the Pub/Sub publishers.
type ContainerDeps struct {
	Payments    *payments.Manager
	OrderEvents services.OrderEventPublisher
	RetryQueue  services.WebhookRetryPublisher
	Logger      func(context.Context, string, map[string]any)
	Build       services.BuildInfo
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring will provide real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps ContainerDeps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(cfg, reg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, reg repositories.Registry, deps ContainerDeps) (Services, error) {
	var svc Services

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products: reg.Products(),
		Clock:    time.Now,
		Logger:   deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:    reg.Carts(),
		Products: reg.Products(),
		Clock:    time.Now,
		Logger:   deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository:        reg.Counters(),
		Clock:             time.Now,
		OrderNumberPrefix: cfg.Orders.NumberPrefix,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:         reg.Orders(),
		Carts:          reg.Carts(),
		Events:         deps.OrderEvents,
		Clock:          time.Now,
		Logger:         deps.Logger,
		PaymentTimeout: cfg.Orders.PaymentTimeout,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	checkoutDeps := services.CheckoutServiceDeps{
		Carts:           reg.Carts(),
		Products:        reg.Products(),
		Orders:          reg.Orders(),
		Numbers:         counterSvc,
		Events:          deps.OrderEvents,
		Clock:           time.Now,
		Logger:          deps.Logger,
		ClearPolicy:     domainClearPolicy(cfg.Checkout.CartClearPolicy),
		DefaultCurrency: cfg.Checkout.Currency,
		SuccessURL:      cfg.PSP.SuccessURL,
		CancelURL:       cfg.PSP.CancelURL,
		SessionExpiry:   time.Duration(cfg.PSP.SessionExpiryHours) * time.Hour,
	}
	if deps.Payments != nil {
		checkoutDeps.Payments = deps.Payments
	}
	checkoutSvc, err := services.NewCheckoutService(checkoutDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	webhookSvc, err := services.NewWebhookService(services.WebhookServiceDeps{
		Orders:     orderSvc,
		Repository: reg.Orders(),
		Retry:      deps.RetryQueue,
		Clock:      time.Now,
		Logger:     deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build webhook service: %w", err)
	}
	svc.Webhooks = webhookSvc

	build := deps.Build
	if build.Environment == "" {
		build.Environment = cfg.Security.Environment
	}
	if build.StartedAt.IsZero() {
		build.StartedAt = time.Now().UTC()
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            time.Now,
		Build:            build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}

func domainClearPolicy(raw string) domain.CartClearPolicy {
	policy := domain.CartClearPolicy(raw)
	if !policy.Valid() {
		return domain.ClearSnapshotLines
	}
	return policy
}
