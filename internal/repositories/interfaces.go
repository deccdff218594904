package repositories

import (
	"context"
	"time"

	domain "github.com/northmart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Carts() CartRepository
	Orders() OrderRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository stores catalog products together with their live stock
// and reservation counters.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
	Upsert(ctx context.Context, product domain.Product) (domain.Product, error)
}

// CartMutationOp identifies the kind of line change applied to a cart.
type CartMutationOp string

const (
	// CartOpAdd increments the line quantity, creating the line when absent.
	CartOpAdd CartMutationOp = "add"
	// CartOpSet replaces the line quantity. Setting zero removes the line.
	CartOpSet CartMutationOp = "set"
	// CartOpRemove deletes the line regardless of quantity.
	CartOpRemove CartMutationOp = "remove"
)

// CartMutation describes a single transactional line change. The repository
// evaluates the stock guard against the product inside the same transaction
// that adjusts the cart and the product's reserved counter.
type CartMutation struct {
	UserID    string
	ProductID string
	Op        CartMutationOp
	Quantity  int
	Now       time.Time
}

// CartRepository owns cart persistence. Line mutations run transactionally
// against the product's stock counters so that reservations never exceed
// stock across concurrent carts.
type CartRepository interface {
	// Get returns the user's cart, or an empty cart when none exists.
	Get(ctx context.Context, userID string) (domain.Cart, error)
	// MutateLine applies the mutation and returns the updated cart. Guard
	// denials surface as *domain.StockDenial.
	MutateLine(ctx context.Context, mutation CartMutation) (domain.Cart, error)
	// Clear removes the named lines, releasing their reservations. A nil
	// productIDs slice clears every line.
	Clear(ctx context.Context, userID string, productIDs []string, now time.Time) (domain.Cart, error)
}

// OrderCreateRequest bundles everything the repository persists atomically
// when an order is placed: the order document, its creation tracking entry,
// the order-number registry claim, and the cart lines to consume.
type OrderCreateRequest struct {
	Order    domain.Order
	Tracking domain.TrackingEntry
	// CartUpdatedAt guards against the cart changing between snapshot and
	// commit. A mismatch fails the transaction with a conflict.
	CartUpdatedAt time.Time
	ClearPolicy   domain.CartClearPolicy
}

// OrderStatusUpdate describes a compare-and-set status transition together
// with the tracking entry appended in the same transaction.
type OrderStatusUpdate struct {
	OrderID    string
	TrackingID string
	Expected   domain.OrderStatus
	Next       domain.OrderStatus
	Actor      domain.Actor
	Note       string
	Now        time.Time
	// Payment optionally patches gateway correlation fields alongside the
	// transition.
	Payment *PaymentMetaPatch
}

// PaymentMetaPatch mutates the payment block of an order without touching
// the frozen snapshot fields.
type PaymentMetaPatch struct {
	PaymentID     *string
	Status        *string
	Method        *string
	Amount        *int64
	FailureReason *string
	RefundID      *string
	RefundStatus  *string
	RefundAmount  *int64
}

// OrderRepository persists order snapshots, their append-only tracking log,
// and the order-number registry used for uniqueness and webhook lookups.
type OrderRepository interface {
	Create(ctx context.Context, req OrderCreateRequest) (domain.Order, error)
	UpdateStatus(ctx context.Context, update OrderStatusUpdate) (domain.Order, error)
	UpdatePaymentMeta(ctx context.Context, orderID string, patch PaymentMetaPatch, now time.Time) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListTracking(ctx context.Context, orderID string) ([]domain.TrackingEntry, error)
	// ListPendingBefore returns pending orders whose payment window opened
	// before the cutoff, for the timeout sweeper.
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type ProductListFilter struct {
	ActiveOnly bool
	InStock    bool
	Pagination domain.Pagination
}

type OrderListFilter struct {
	UserID        string
	Status        []domain.OrderStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Pagination    domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
