package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/northmart/api/internal/domain"
	"github.com/northmart/api/internal/payments"
	"github.com/northmart/api/internal/repositories"
)

const (
	orderIDPrefix    = "ord_"
	trackingIDPrefix = "trk_"

	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	checkoutNoteCreated = "order created"

	// checkoutMaxAttempts bounds retries when the cart mutates or the order
	// number collides between snapshot and commit.
	checkoutMaxAttempts = 3
)

// ErrCheckoutInvalidInput indicates the caller supplied invalid input.
var ErrCheckoutInvalidInput = errors.New("checkout service: invalid input")

// ErrCheckoutEmptyCart indicates there is nothing to order.
var ErrCheckoutEmptyCart = errors.New("checkout service: cart is empty")

// ErrCheckoutConflict indicates the cart kept changing under the checkout.
var ErrCheckoutConflict = errors.New("checkout service: conflict")

// ErrCheckoutUnavailable indicates a backend dependency failed.
var ErrCheckoutUnavailable = errors.New("checkout service: unavailable")

type paymentSessionCreator interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CheckoutServiceDeps bundles collaborators required to construct the checkout service.
type CheckoutServiceDeps struct {
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Orders      repositories.OrderRepository
	Numbers     CounterService
	Payments    paymentSessionCreator
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)

	ClearPolicy     domain.CartClearPolicy
	DefaultCurrency string
	SuccessURL      string
	CancelURL       string
	SessionExpiry   time.Duration
}

type checkoutService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	orders   repositories.OrderRepository
	numbers  CounterService
	payments paymentSessionCreator
	events   OrderEventPublisher
	now      func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)

	clearPolicy   domain.CartClearPolicy
	currency      string
	successURL    string
	cancelURL     string
	sessionExpiry time.Duration
}

// NewCheckoutService wires dependencies into a concrete CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("checkout service: product repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Numbers == nil {
		return nil, errors.New("checkout service: counter service is required")
	}

	policy := deps.ClearPolicy
	if policy == "" {
		policy = domain.ClearSnapshotLines
	}
	if !policy.Valid() {
		return nil, fmt.Errorf("checkout service: unknown cart clear policy %q", policy)
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = "USD"
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		carts:         deps.Carts,
		products:      deps.Products,
		orders:        deps.Orders,
		numbers:       deps.Numbers,
		payments:      deps.Payments,
		events:        deps.Events,
		now:           func() time.Time { return clock().UTC() },
		newID:         idGen,
		logger:        logger,
		clearPolicy:   policy,
		currency:      currency,
		successURL:    strings.TrimSpace(deps.SuccessURL),
		cancelURL:     strings.TrimSpace(deps.CancelURL),
		sessionExpiry: deps.SessionExpiry,
	}, nil
}

// Checkout snapshots the user's cart into an immutable order, consumes the
// reserved stock, clears the cart, and opens a gateway payment session. The
// snapshot, number claim, stock consumption, and cart clear commit as one
// transaction; a cart that mutates mid-flight triggers a bounded rebuild.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return CheckoutResult{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}
	if err := validateShippingAddress(cmd.ShippingAddress); err != nil {
		return CheckoutResult{}, err
	}

	var (
		order   domain.Order
		lastErr error
	)

	for attempt := 0; attempt < checkoutMaxAttempts; attempt++ {
		cart, err := s.carts.Get(ctx, uid)
		if err != nil {
			return CheckoutResult{}, s.translateRepoError(err)
		}
		if cart.IsEmpty() {
			return CheckoutResult{}, ErrCheckoutEmptyCart
		}

		snapshot, err := s.buildSnapshot(ctx, cart)
		if err != nil {
			return CheckoutResult{}, err
		}
		if len(snapshot) == 0 {
			return CheckoutResult{}, ErrCheckoutEmptyCart
		}

		number, err := s.numbers.NextOrderNumber(ctx)
		if err != nil {
			return CheckoutResult{}, fmt.Errorf("%w: order number: %v", ErrCheckoutUnavailable, err)
		}

		now := s.now()
		candidate := domain.Order{
			ID:                 orderIDPrefix + s.newID(),
			OrderNumber:        number,
			UserID:             uid,
			Status:             domain.OrderStatusPending,
			Currency:           firstNonEmpty(cart.Currency, s.currency),
			Total:              snapshotTotal(snapshot),
			Items:              snapshot,
			ShippingAddress:    cmd.ShippingAddress,
			PaymentInitiatedAt: &now,
			CreatedAt:          now,
			UpdatedAt:          now,
		}

		tracking := domain.TrackingEntry{
			ID:        trackingIDPrefix + s.newID(),
			OrderID:   candidate.ID,
			Status:    domain.OrderStatusPending,
			ActorID:   uid,
			ActorName: "Customer",
			Note:      checkoutNoteCreated,
			CreatedAt: now,
		}

		created, err := s.orders.Create(ctx, repositories.OrderCreateRequest{
			Order:         candidate,
			Tracking:      tracking,
			CartUpdatedAt: cart.UpdatedAt,
			ClearPolicy:   s.clearPolicy,
		})
		if err == nil {
			order = created
			lastErr = nil
			break
		}

		lastErr = err
		var orderErr *repositories.OrderError
		if errors.As(err, &orderErr) {
			switch orderErr.Code {
			case repositories.OrderErrorNumberTaken, repositories.OrderErrorCartChanged:
				s.logger(ctx, "checkout.retry", map[string]any{
					"userID":  uid,
					"attempt": attempt + 1,
					"code":    string(orderErr.Code),
				})
				continue
			case repositories.OrderErrorInvalidInput:
				return CheckoutResult{}, fmt.Errorf("%w: %s", ErrCheckoutInvalidInput, orderErr.Message)
			}
		}
		return CheckoutResult{}, s.translateRepoError(err)
	}

	if lastErr != nil {
		var orderErr *repositories.OrderError
		if errors.As(lastErr, &orderErr) && orderErr.Code == repositories.OrderErrorCartChanged {
			return CheckoutResult{}, fmt.Errorf("%w: cart kept changing", ErrCheckoutConflict)
		}
		return CheckoutResult{}, s.translateRepoError(lastErr)
	}

	result := CheckoutResult{Order: order}
	if session := s.openPaymentSession(ctx, cmd, order); session != nil {
		result.PaymentSession = session
	}

	s.publishCreated(ctx, order)

	return result, nil
}

// buildSnapshot freezes the cart lines against current product data. Lines
// whose product is gone are dropped; inactive products and lines that no
// longer fit within live stock surface as guard denials.
func (s *checkoutService) buildSnapshot(ctx context.Context, cart domain.Cart) ([]domain.OrderLineSnapshot, error) {
	ids := make([]string, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		ids = append(ids, line.ProductID)
	}

	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, s.translateRepoError(err)
	}

	snapshot := make([]domain.OrderLineSnapshot, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		product, ok := products[line.ProductID]
		if !ok {
			s.logger(ctx, "checkout.orphan_line_dropped", map[string]any{
				"userID":    cart.UserID,
				"productID": line.ProductID,
			})
			continue
		}
		if !product.Active {
			return nil, &domain.StockDenial{
				Reason:  domain.DenialProductInactive,
				Message: fmt.Sprintf("%s is no longer available", product.Name),
			}
		}
		if line.Quantity > product.Stock {
			return nil, &domain.StockDenial{
				Reason:  domain.DenialInsufficientStock,
				Message: fmt.Sprintf("only %d available", product.Stock),
			}
		}
		snapshot = append(snapshot, domain.OrderLineSnapshot{
			ProductID:    product.ID,
			ProductName:  product.Name,
			ProductImage: product.Image,
			UnitPrice:    product.Price,
			Quantity:     line.Quantity,
		})
	}
	return snapshot, nil
}

// openPaymentSession creates the gateway session after the order committed.
// A gateway failure does not undo the order: it stays pending and the
// payment timeout reclaims it if the shopper never pays.
func (s *checkoutService) openPaymentSession(ctx context.Context, cmd CheckoutCommand, order domain.Order) *domain.PaymentSession {
	if s.payments == nil {
		return nil
	}

	items := make([]payments.CheckoutLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, payments.CheckoutLineItem{
			Name:      item.ProductName,
			ProductID: item.ProductID,
			Quantity:  int64(item.Quantity),
			UnitPrice: item.UnitPrice,
			Currency:  order.Currency,
		})
	}

	session, err := s.payments.CreateCheckoutSession(ctx, payments.PaymentContext{
		PreferredProvider: cmd.PreferredProvider,
		Currency:          order.Currency,
	}, payments.CheckoutSessionRequest{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Amount:         order.Total,
		Currency:       order.Currency,
		CustomerID:     order.UserID,
		SuccessURL:     s.successURL,
		CancelURL:      s.cancelURL,
		IdempotencyKey: order.ID,
		ExpiresIn:      s.sessionExpiry,
		Items:          items,
	})
	if err != nil {
		s.logger(ctx, "checkout.payment_session_failed", map[string]any{
			"orderID":     order.ID,
			"orderNumber": order.OrderNumber,
			"error":       err.Error(),
		})
		return nil
	}

	if intent := strings.TrimSpace(session.IntentID); intent != "" {
		status := "pending"
		if _, err := s.orders.UpdatePaymentMeta(ctx, order.ID, repositories.PaymentMetaPatch{
			PaymentID: &intent,
			Status:    &status,
		}, s.now()); err != nil {
			s.logger(ctx, "checkout.payment_meta_failed", map[string]any{
				"orderID": order.ID,
				"error":   err.Error(),
			})
		}
	}

	return &domain.PaymentSession{
		SessionID:   session.ID,
		Provider:    session.Provider,
		RedirectURL: session.RedirectURL,
		ExpiresAt:   session.ExpiresAt,
	}
}

func (s *checkoutService) publishCreated(ctx context.Context, order domain.Order) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, OrderEventMessage{
		Event:       orderEventCreated,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      string(order.Status),
		OccurredAt:  order.CreatedAt,
	}); err != nil {
		s.logger(ctx, "checkout.event_publish_failed", map[string]any{
			"orderID": order.ID,
			"error":   err.Error(),
		})
	}
}

func validateShippingAddress(addr Address) error {
	if strings.TrimSpace(addr.RecipientName) == "" {
		return fmt.Errorf("%w: recipient name is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(addr.Line1) == "" {
		return fmt.Errorf("%w: address line is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(addr.PostalCode) == "" {
		return fmt.Errorf("%w: postal code is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(addr.Country) == "" {
		return fmt.Errorf("%w: country is required", ErrCheckoutInvalidInput)
	}
	return nil
}

func snapshotTotal(items []domain.OrderLineSnapshot) int64 {
	var total int64
	for _, item := range items {
		total += item.Subtotal()
	}
	return total
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func (s *checkoutService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			return ErrCheckoutConflict
		case repoErr.IsUnavailable():
			return ErrCheckoutUnavailable
		}
	}
	return ErrCheckoutUnavailable
}
