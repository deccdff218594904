package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the normalised payment state shared across PSP adapters.
type Status string

const (
	// StatusPending means the shopper has not completed payment yet.
	StatusPending Status = "pending"
	// StatusSucceeded means the PSP captured the payment.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the PSP reports a terminal failure.
	StatusFailed Status = "failed"
	// StatusRefunded means the payment was refunded, partially or fully.
	StatusRefunded Status = "refunded"
)

// ErrUnsupportedProvider is returned when no registered provider can
// serve the payment.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// CheckoutLineItem is one order line forwarded to the PSP session.
type CheckoutLineItem struct {
	Name      string
	ProductID string
	Quantity  int64
	UnitPrice int64
	Currency  string
}

// CheckoutSessionRequest carries everything a provider needs to open a
// hosted checkout session for an order.
type CheckoutSessionRequest struct {
	OrderID        string
	OrderNumber    string
	Amount         int64
	Currency       string
	CustomerID     string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
	ExpiresIn      time.Duration
	Items          []CheckoutLineItem
}

// CheckoutSession is the PSP session handed back to the storefront.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
	IntentID    string
	ExpiresAt   time.Time
}

// RefundRequest asks a provider to return a captured payment, used by
// the cancellation compensator.
type RefundRequest struct {
	PaymentID      string
	Amount         *int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundResult is the normalised refund acknowledgement.
type RefundResult struct {
	RefundID string
	Status   Status
	Amount   int64
}

// Provider is the contract PSP adapters implement.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// Manager routes each payment to a provider: an explicit preference
// first, then currency routing, then the default.
type Manager struct {
	registry       map[string]Provider
	fallback       string
	currencyRoutes map[string]string
}

type ManagerOption func(*Manager)

// WithDefaultProvider sets the provider used when neither preference
// nor currency routing selects one. An empty name clears the default.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.fallback = provider
	}
}

// WithCurrencyRoutes maps ISO currency codes to provider names.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for currency, provider := range routes {
			if m.currencyRoutes == nil {
				m.currencyRoutes = make(map[string]string, len(routes))
			}
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(currency))] = strings.TrimSpace(provider)
		}
	}
}

// NewManager registers the providers under lowercased names. Stripe
// becomes the default when present.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}

	m := &Manager{registry: make(map[string]Provider, len(providers))}
	for name, provider := range providers {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || provider == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", name)
		}
		m.registry[key] = provider
	}
	if _, ok := m.registry["stripe"]; ok {
		m.fallback = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext carries the routing hints for one payment.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) pick(name string) (string, Provider, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", nil, false
	}
	provider, ok := m.registry[key]
	return key, provider, ok
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil || len(m.registry) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}

	if key, provider, ok := m.pick(ctx.PreferredProvider); ok {
		return key, provider, nil
	}
	if routed := m.currencyRoutes[strings.ToUpper(strings.TrimSpace(ctx.Currency))]; routed != "" {
		if key, provider, ok := m.pick(routed); ok {
			return key, provider, nil
		}
	}
	if key, provider, ok := m.pick(m.fallback); ok {
		return key, provider, nil
	}
	if len(m.registry) == 1 {
		for key, provider := range m.registry {
			return key, provider, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateCheckoutSession opens a session with the resolved provider and
// stamps the provider name on the result.
func (m *Manager) CreateCheckoutSession(ctx context.Context, paymentCtx PaymentContext, req CheckoutSessionRequest) (CheckoutSession, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return CheckoutSession{}, err
	}
	session, err := provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		return CheckoutSession{}, err
	}
	session.Provider = key
	return session, nil
}

// Refund forwards the refund to the resolved provider.
func (m *Manager) Refund(ctx context.Context, paymentCtx PaymentContext, req RefundRequest) (RefundResult, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return RefundResult{}, err
	}
	return provider.Refund(ctx, req)
}
