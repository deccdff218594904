package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/northmart/api/internal/platform/httpx"
)

// RouteRegistrar mounts a handler set onto a route group.
type RouteRegistrar func(r chi.Router)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// routeGroup pairs a mount path with its registrar and any middleware
// scoped to that group alone.
type routeGroup struct {
	path        string
	name        string
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[string]*routeGroup
}

// Option customises the router before construction.
type Option func(*routerConfig)

func (cfg *routerConfig) group(name string) *routeGroup {
	g, ok := cfg.groups[name]
	if !ok {
		g = &routeGroup{path: "/" + name, name: name}
		cfg.groups[name] = g
	}
	return g
}

// NewRouter assembles the storefront router: health probes at the root,
// every API group under /api/v1, JSON envelopes for unmatched routes.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(requestTimeout),
		},
		groups: make(map[string]*routeGroup),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers(nil)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, name := range []string{"products", "cart", "checkout", "orders", "admin", "webhooks", "internal"} {
			g := cfg.group(name)
			api.Route(g.path, func(group chi.Router) {
				for _, mw := range g.middlewares {
					if mw != nil {
						group.Use(mw)
					}
				}
				if g.registrar != nil {
					g.registrar(group)
					return
				}
				mountPlaceholder(group, g.name)
			})
		}
	})

	return r
}

// WithMiddlewares appends global middleware.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the /healthz and /readyz handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

func withGroupRoutes(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group(name).registrar = reg }
}

func withGroupMiddlewares(name string, mw []func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(name)
		g.middlewares = append(g.middlewares, mw...)
	}
}

// WithProductRoutes mounts the public catalog endpoints.
func WithProductRoutes(reg RouteRegistrar) Option { return withGroupRoutes("products", reg) }

// WithCartRoutes mounts the shopper cart endpoints.
func WithCartRoutes(reg RouteRegistrar) Option { return withGroupRoutes("cart", reg) }

// WithCheckoutRoutes mounts the checkout endpoints.
func WithCheckoutRoutes(reg RouteRegistrar) Option { return withGroupRoutes("checkout", reg) }

// WithCheckoutMiddlewares scopes middleware to /checkout, such as the
// replay guard.
func WithCheckoutMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares("checkout", mw)
}

// WithOrderRoutes mounts the shopper order endpoints.
func WithOrderRoutes(reg RouteRegistrar) Option { return withGroupRoutes("orders", reg) }

// WithAdminRoutes mounts the staff back-office endpoints.
func WithAdminRoutes(reg RouteRegistrar) Option { return withGroupRoutes("admin", reg) }

// WithWebhookRoutes mounts the payment gateway webhook endpoints.
func WithWebhookRoutes(reg RouteRegistrar) Option { return withGroupRoutes("webhooks", reg) }

// WithWebhookMiddlewares scopes middleware to /webhooks, such as
// gateway signature verification.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares("webhooks", mw)
}

// WithInternalRoutes mounts the service-to-service endpoints.
func WithInternalRoutes(reg RouteRegistrar) Option { return withGroupRoutes("internal", reg) }

// WithInternalMiddlewares scopes middleware to /internal.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares("internal", mw)
}

func mountPlaceholder(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
