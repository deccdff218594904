package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage is the standard shape for cursor-paginated results.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// Product is the catalog entity as seen by the cart and checkout paths.
// Stock counts units available for sale; Reserved counts units currently
// held by cart lines across all users.
type Product struct {
	ID               string
	Name             string
	Image            string
	Price            int64
	Currency         string
	Stock            int
	Reserved         int
	MinOrderQuantity int
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AvailableStock returns the units not yet held by any cart.
func (p Product) AvailableStock() int {
	avail := p.Stock - p.Reserved
	if avail < 0 {
		return 0
	}
	return avail
}

// Cart aggregates the mutable shopping cart state for a user.
type Cart struct {
	ID        string
	UserID    string
	Currency  string
	Lines     []CartLine
	UpdatedAt time.Time
}

// LineFor returns the cart line for the given product, if present.
func (c Cart) LineFor(productID string) (CartLine, bool) {
	for _, line := range c.Lines {
		if line.ProductID == productID {
			return line, true
		}
	}
	return CartLine{}, false
}

// IsEmpty reports whether the cart has no line items.
func (c Cart) IsEmpty() bool { return len(c.Lines) == 0 }

// CartLine stores a single product reservation within a cart.
type CartLine struct {
	ProductID string
	Quantity  int
	AddedAt   time.Time
	UpdatedAt time.Time
}

// CartView is a cart joined with live product data for display. Lines whose
// product no longer exists are excluded and reported as orphans.
type CartView struct {
	Cart        Cart
	Lines       []CartViewLine
	Subtotal    int64
	OrphanCount int
}

// CartViewLine pairs a cart line with the current product record.
type CartViewLine struct {
	ProductID   string
	ProductName string
	Image       string
	UnitPrice   int64
	Quantity    int
	Subtotal    int64
}

// CartClearPolicy controls which lines are removed from the cart when an
// order is created from it.
type CartClearPolicy string

const (
	// ClearSnapshotLines removes only the lines captured in the order
	// snapshot; lines added after the snapshot was read survive.
	ClearSnapshotLines CartClearPolicy = "snapshot"
	// ClearAllLines empties the cart entirely at order creation.
	ClearAllLines CartClearPolicy = "all"
)

// Valid reports whether the policy is one of the known values.
func (p CartClearPolicy) Valid() bool {
	return p == ClearSnapshotLines || p == ClearAllLines
}

// Address is the shipping address captured at checkout. It is stored as an
// opaque value; validation happens upstream.
type Address struct {
	RecipientName string
	Line1         string
	Line2         string
	City          string
	Region        string
	PostalCode    string
	Country       string
	Phone         string
}

// Actor identifies who performed an order status transition. System actors
// use reserved IDs such as "system/webhook" and "system/timeout".
type Actor struct {
	ID   string
	Name string
}

// Reserved system actors recorded on machine-driven transitions.
var (
	// WebhookActor is recorded on transitions driven by gateway events.
	WebhookActor = Actor{ID: "system/webhook", Name: "Payment Gateway"}
	// TimeoutActor is recorded when a pending order exceeds the payment window.
	TimeoutActor = Actor{ID: "system/timeout", Name: "Payment Timeout"}
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits payment confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates payment succeeded.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being prepared for shipment.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before delivery.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusFailed indicates payment failed and the order will not proceed.
	OrderStatusFailed OrderStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// Valid reports whether the status is one of the known values.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// Order is the durable purchase record. Items, Total, and ShippingAddress
// are frozen at creation; only Status and the payment fields mutate, and
// every status mutation appends exactly one TrackingEntry.
type Order struct {
	ID                 string
	OrderNumber        string
	UserID             string
	Status             OrderStatus
	Currency           string
	Total              int64
	Items              []OrderLineSnapshot
	ShippingAddress    Address
	Payment            PaymentInfo
	PaymentInitiatedAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ConfirmedAt        *time.Time
	ShippedAt          *time.Time
	DeliveredAt        *time.Time
	CancelledAt        *time.Time
	FailedAt           *time.Time
}

// OrderLineSnapshot is the immutable copy of a cart line taken at
// order-creation time. Later product edits never change it.
type OrderLineSnapshot struct {
	ProductID    string
	ProductName  string
	ProductImage string
	UnitPrice    int64
	Quantity     int
}

// Subtotal returns unit price times quantity for the line.
func (s OrderLineSnapshot) Subtotal() int64 {
	return s.UnitPrice * int64(s.Quantity)
}

// PaymentInfo carries the gateway correlation fields on an order.
type PaymentInfo struct {
	PaymentID     string
	Status        string
	Method        string
	Amount        int64
	FailureReason string
	RefundID      string
	RefundStatus  string
	RefundAmount  int64
}

// PaymentSession is the gateway checkout session handle returned at order
// creation for the client to complete payment with.
type PaymentSession struct {
	SessionID   string
	Provider    string
	RedirectURL string
	ExpiresAt   time.Time
}

// TrackingEntry is one immutable audit record of a status transition.
// PreviousStatus is empty for the creation entry.
type TrackingEntry struct {
	ID             string
	OrderID        string
	Status         OrderStatus
	PreviousStatus OrderStatus
	ActorID        string
	ActorName      string
	Note           string
	CreatedAt      time.Time
}

// CancellationOutcome classifies how much of a cancelled order made it back
// into the cart.
type CancellationOutcome string

const (
	// RestoredFully means every order line was returned to the cart.
	RestoredFully CancellationOutcome = "full"
	// RestoredPartially means some lines were skipped.
	RestoredPartially CancellationOutcome = "partial"
	// RestoredNothing means no line could be returned.
	RestoredNothing CancellationOutcome = "none"
)

// CancellationResult reports per-item compensation counts after an order
// is cancelled.
type CancellationResult struct {
	Order         Order
	RestoredCount int
	SkippedCount  int
}

// Outcome classifies the result for caller-facing messaging.
func (r CancellationResult) Outcome() CancellationOutcome {
	switch {
	case r.SkippedCount == 0 && r.RestoredCount > 0:
		return RestoredFully
	case r.RestoredCount > 0:
		return RestoredPartially
	default:
		return RestoredNothing
	}
}
