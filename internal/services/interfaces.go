package services

import (
	"context"
	"time"

	domain "github.com/northmart/api/internal/domain"
	"github.com/northmart/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination          = domain.Pagination
	SortOrder           = domain.SortOrder
	Product             = domain.Product
	Cart                = domain.Cart
	CartLine            = domain.CartLine
	CartView            = domain.CartView
	CartViewLine        = domain.CartViewLine
	Address             = domain.Address
	Actor               = domain.Actor
	Order               = domain.Order
	OrderStatus         = domain.OrderStatus
	OrderLineSnapshot   = domain.OrderLineSnapshot
	TrackingEntry       = domain.TrackingEntry
	PaymentSession      = domain.PaymentSession
	CancellationResult  = domain.CancellationResult
	CancellationOutcome = domain.CancellationOutcome
	SystemHealthReport  = domain.SystemHealthReport
)

// CartService manages per-user cart state. Every mutation is guard-checked
// against live stock inside the repository transaction; denials surface as
// *domain.StockDenial so callers can relay the exact message.
type CartService interface {
	GetCart(ctx context.Context, userID string) (CartView, error)
	AddItem(ctx context.Context, cmd CartItemCommand) (CartView, error)
	SetItemQuantity(ctx context.Context, cmd CartItemCommand) (CartView, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (CartView, error)
	ClearCart(ctx context.Context, userID string) error
}

// CheckoutService turns a cart into an immutable order plus a gateway
// payment session.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
}

// OrderService encapsulates order reads, status transitions, cancellation
// compensation, and the pending-payment timeout sweep.
type OrderService interface {
	GetOrder(ctx context.Context, query OrderQuery) (OrderDetail, error)
	ListOrders(ctx context.Context, filter OrderHistoryFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (CancellationResult, error)
	ExpirePendingOrders(ctx context.Context, limit int) (int, error)
}

// WebhookService applies gateway payment events to orders. Deliveries are
// at-least-once and unordered; processing is idempotent and the result is
// always acknowledgeable.
type WebhookService interface {
	ProcessEvent(ctx context.Context, delivery WebhookDelivery) (WebhookResult, error)
}

// CatalogService provides product reads for storefront surfaces and upserts
// for operator tooling.
type CatalogService interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) (domain.CursorPage[Product], error)
	UpsertProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
}

// CounterService manages named sequences and formatted business numbers.
type CounterService interface {
	Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextOrderNumber(ctx context.Context) (string, error)
}

// SystemService aggregates utility surfaces such as health checks.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// WebhookRetryPublisher queues webhook deliveries that failed on a transient
// backend error so they can be replayed out of band.
type WebhookRetryPublisher interface {
	PublishWebhookRetry(ctx context.Context, message WebhookRetryMessage) (string, error)
}

// OrderEventPublisher emits order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, message OrderEventMessage) (string, error)
}

// WebhookRetryMessage is the payload replayed through the retry topic.
type WebhookRetryMessage struct {
	DeliveryID  string    `json:"deliveryId"`
	EventType   string    `json:"eventType"`
	OrderNumber string    `json:"orderNumber"`
	Payload     []byte    `json:"payload"`
	ReceivedAt  time.Time `json:"receivedAt"`
	Attempt     int       `json:"attempt"`
}

// OrderEventMessage captures metadata for emitted order lifecycle events.
type OrderEventMessage struct {
	Event       string    `json:"event"`
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	UserID      string    `json:"userId"`
	Status      string    `json:"status"`
	Previous    string    `json:"previous,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Command and DTO definitions ------------------------------------------------

// CartItemCommand adds or sets a single product line on the user's cart.
type CartItemCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

type RemoveCartItemCommand struct {
	UserID    string
	ProductID string
}

// CheckoutCommand carries everything needed to place an order from the
// user's current cart.
type CheckoutCommand struct {
	UserID            string
	ShippingAddress   Address
	PreferredProvider string
}

// CheckoutResult returns the created order and the gateway session handle.
// PaymentSession is nil when the gateway was unavailable; the order still
// exists in pending status and the payment timeout applies.
type CheckoutResult struct {
	Order          Order
	PaymentSession *PaymentSession
}

// OrderQuery identifies an order read. A non-empty UserID enforces
// ownership; mismatches read as not found.
type OrderQuery struct {
	OrderID         string
	UserID          string
	IncludeTracking bool
}

// OrderDetail pairs an order with its tracking log.
type OrderDetail struct {
	Order    Order
	Tracking []TrackingEntry
}

type OrderHistoryFilter = repositories.OrderListFilter

// OrderStatusTransitionCommand requests a compare-and-set status change.
// Expected defaults to the order's current status when nil.
type OrderStatusTransitionCommand struct {
	OrderID  string
	Target   OrderStatus
	Actor    Actor
	Note     string
	Expected *OrderStatus
	Payment  *repositories.PaymentMetaPatch
}

// CancelOrderCommand cancels an order and compensates by returning its
// snapshot lines to the user's cart where current stock admits them.
type CancelOrderCommand struct {
	OrderID string
	UserID  string
	Actor   Actor
	Reason  string
}

// WebhookDelivery is one raw gateway delivery handed to the ingester.
type WebhookDelivery struct {
	DeliveryID string
	Payload    []byte
	ReceivedAt time.Time
	Attempt    int
}

// WebhookDisposition classifies how a delivery was handled. Every
// disposition is acknowledged to the gateway.
type WebhookDisposition string

const (
	// WebhookApplied means the event changed order state.
	WebhookApplied WebhookDisposition = "applied"
	// WebhookIgnored means the event was a no-op (unknown type, already
	// satisfied, or order unknown).
	WebhookIgnored WebhookDisposition = "ignored"
	// WebhookMalformed means the payload could not be decoded.
	WebhookMalformed WebhookDisposition = "malformed"
	// WebhookQueued means a transient failure pushed the delivery onto the
	// retry topic.
	WebhookQueued WebhookDisposition = "queued"
)

// WebhookResult reports the outcome of processing one delivery.
type WebhookResult struct {
	Disposition WebhookDisposition
	EventType   string
	OrderNumber string
}

type ProductFilter struct {
	ActiveOnly bool
	InStock    bool
	Pagination Pagination
}

type UpsertProductCommand struct {
	Product Product
	ActorID string
}

// CounterGenerationOptions controls how counter values are incremented and formatted.
type CounterGenerationOptions struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
	Prefix       string
	Suffix       string
	PadLength    int
	Formatter    func(now time.Time, value int64) string
}

// CounterValue pairs a raw sequence value with its formatted representation.
type CounterValue struct {
	Value     int64
	Formatted string
}
