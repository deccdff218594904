package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/northmart/api/internal/domain"
	"github.com/northmart/api/internal/repositories"
)

const (
	timeoutCancelNote  = "payment window expired"
	defaultExpireLimit = 50
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order service: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order service: not found")
	// ErrOrderInvalidState indicates an illegal status transition was attempted.
	ErrOrderInvalidState = errors.New("order service: invalid status transition")
	// ErrOrderConflict indicates a concurrent transition won the race.
	ErrOrderConflict = errors.New("order service: conflict")
	// ErrOrderUnavailable indicates a backend dependency failed.
	ErrOrderUnavailable = errors.New("order service: unavailable")
)

// orderStateTransitions encodes the order lifecycle. Cancellation is legal
// from every non-terminal state; delivered, cancelled, and failed are
// terminal.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled, domain.OrderStatusFailed},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
}

func canTransition(from, to domain.OrderStatus) bool {
	for _, next := range orderStateTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Carts       repositories.CartRepository
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)

	// PaymentTimeout is the window a pending order may wait for payment
	// before the on-read check force-cancels it. Zero disables the check.
	PaymentTimeout time.Duration
}

type orderService struct {
	orders repositories.OrderRepository
	carts  repositories.CartRepository
	events OrderEventPublisher
	now    func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)

	paymentTimeout time.Duration
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
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

	return &orderService{
		orders:         deps.Orders,
		carts:          deps.Carts,
		events:         deps.Events,
		now:            func() time.Time { return clock().UTC() },
		newID:          idGen,
		logger:         logger,
		paymentTimeout: deps.PaymentTimeout,
	}, nil
}

// GetOrder loads an order, enforcing ownership when a user id is supplied.
// The pending-payment timeout is applied on read.
func (s *orderService) GetOrder(ctx context.Context, query OrderQuery) (OrderDetail, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return OrderDetail{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderDetail{}, s.translateRepoError(err)
	}

	if uid := strings.TrimSpace(query.UserID); uid != "" && order.UserID != uid {
		return OrderDetail{}, ErrOrderNotFound
	}

	order = s.applyPaymentTimeout(ctx, order)

	detail := OrderDetail{Order: order}
	if query.IncludeTracking {
		tracking, err := s.orders.ListTracking(ctx, order.ID)
		if err != nil {
			return OrderDetail{}, s.translateRepoError(err)
		}
		detail.Tracking = tracking
	}

	return detail, nil
}

// ListOrders returns the paged order history for the filter.
func (s *orderService) ListOrders(ctx context.Context, filter OrderHistoryFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.translateRepoError(err)
	}
	return page, nil
}

// TransitionStatus applies a compare-and-set lifecycle transition, appending
// the tracking entry in the same transaction. When the order already sits at
// the target status the call is an idempotent no-op.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !cmd.Target.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Target)
	}
	if strings.TrimSpace(cmd.Actor.ID) == "" {
		return Order{}, fmt.Errorf("%w: actor is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}

	order = s.applyPaymentTimeout(ctx, order)

	expected := order.Status
	if cmd.Expected != nil {
		expected = *cmd.Expected
	}

	if order.Status == cmd.Target {
		return order, nil
	}
	if !canTransition(expected, cmd.Target) {
		return Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, expected, cmd.Target)
	}

	updated, err := s.orders.UpdateStatus(ctx, repositories.OrderStatusUpdate{
		OrderID:    order.ID,
		TrackingID: trackingIDPrefix + s.newID(),
		Expected:   expected,
		Next:       cmd.Target,
		Actor:      cmd.Actor,
		Note:       strings.TrimSpace(cmd.Note),
		Now:        s.now(),
		Payment:    cmd.Payment,
	})
	if err != nil {
		var orderErr *repositories.OrderError
		if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorStatusChanged {
			if orderErr.Current == cmd.Target {
				// A concurrent writer already satisfied the intent.
				return s.refreshOrder(ctx, order.ID, order)
			}
			return Order{}, fmt.Errorf("%w: status is now %s", ErrOrderConflict, orderErr.Current)
		}
		return Order{}, s.translateRepoError(err)
	}

	s.publishStatusChanged(ctx, updated, expected)

	return updated, nil
}

// Cancel transitions the order to cancelled and compensates by returning
// each snapshot line to the user's cart. Every line passes the stock guard
// at current stock; lines that no longer fit are skipped, never partially
// restored.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (CancellationResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return CancellationResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.Actor.ID) == "" {
		return CancellationResult{}, fmt.Errorf("%w: actor is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return CancellationResult{}, s.translateRepoError(err)
	}

	if uid := strings.TrimSpace(cmd.UserID); uid != "" && order.UserID != uid {
		return CancellationResult{}, ErrOrderNotFound
	}

	order = s.applyPaymentTimeout(ctx, order)

	if order.Status.Terminal() {
		if order.Status == domain.OrderStatusCancelled {
			return CancellationResult{Order: order}, nil
		}
		return CancellationResult{}, fmt.Errorf("%w: order is %s", ErrOrderInvalidState, order.Status)
	}

	note := strings.TrimSpace(cmd.Reason)
	if note == "" {
		note = "order cancelled"
	}

	previous := order.Status
	cancelled, err := s.orders.UpdateStatus(ctx, repositories.OrderStatusUpdate{
		OrderID:    order.ID,
		TrackingID: trackingIDPrefix + s.newID(),
		Expected:   previous,
		Next:       domain.OrderStatusCancelled,
		Actor:      cmd.Actor,
		Note:       note,
		Now:        s.now(),
	})
	if err != nil {
		var orderErr *repositories.OrderError
		if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorStatusChanged {
			if orderErr.Current == domain.OrderStatusCancelled {
				refreshed, rerr := s.refreshOrder(ctx, order.ID, order)
				if rerr != nil {
					return CancellationResult{}, rerr
				}
				return CancellationResult{Order: refreshed}, nil
			}
			return CancellationResult{}, fmt.Errorf("%w: status is now %s", ErrOrderConflict, orderErr.Current)
		}
		return CancellationResult{}, s.translateRepoError(err)
	}

	result := CancellationResult{Order: cancelled}
	for _, item := range cancelled.Items {
		if _, err := s.carts.MutateLine(ctx, repositories.CartMutation{
			UserID:    cancelled.UserID,
			ProductID: item.ProductID,
			Op:        repositories.CartOpAdd,
			Quantity:  item.Quantity,
			Now:       s.now(),
		}); err != nil {
			result.SkippedCount++
			fields := map[string]any{
				"orderID":   cancelled.ID,
				"productID": item.ProductID,
				"quantity":  item.Quantity,
			}
			var denial *domain.StockDenial
			if errors.As(err, &denial) {
				fields["reason"] = string(denial.Reason)
			} else {
				fields["error"] = err.Error()
			}
			s.logger(ctx, "order.cancel.restore_skipped", fields)
			continue
		}
		result.RestoredCount++
	}

	s.logger(ctx, "order.cancelled", map[string]any{
		"orderID":  cancelled.ID,
		"actorID":  cmd.Actor.ID,
		"restored": result.RestoredCount,
		"skipped":  result.SkippedCount,
	})

	s.publishStatusChanged(ctx, cancelled, previous)

	return result, nil
}

// ExpirePendingOrders sweeps pending orders whose payment window elapsed and
// force-cancels them with the timeout actor. Expired orders do not restore
// cart lines. Returns the number of orders cancelled.
func (s *orderService) ExpirePendingOrders(ctx context.Context, limit int) (int, error) {
	if s.paymentTimeout <= 0 {
		return 0, nil
	}
	if limit <= 0 {
		limit = defaultExpireLimit
	}

	cutoff := s.now().Add(-s.paymentTimeout)
	expired, err := s.orders.ListPendingBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, s.translateRepoError(err)
	}

	var cancelled int
	for _, order := range expired {
		updated, err := s.orders.UpdateStatus(ctx, repositories.OrderStatusUpdate{
			OrderID:    order.ID,
			TrackingID: trackingIDPrefix + s.newID(),
			Expected:   domain.OrderStatusPending,
			Next:       domain.OrderStatusCancelled,
			Actor:      domain.TimeoutActor,
			Note:       timeoutCancelNote,
			Now:        s.now(),
		})
		if err != nil {
			// Lost races are fine; someone else moved the order on.
			var orderErr *repositories.OrderError
			if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorStatusChanged {
				continue
			}
			s.logger(ctx, "order.expire_failed", map[string]any{
				"orderID": order.ID,
				"error":   err.Error(),
			})
			continue
		}
		cancelled++
		s.publishStatusChanged(ctx, updated, domain.OrderStatusPending)
	}

	return cancelled, nil
}

// applyPaymentTimeout force-cancels a pending order whose payment window
// elapsed. The check runs on every read path so stale pending orders never
// surface to callers.
func (s *orderService) applyPaymentTimeout(ctx context.Context, order domain.Order) domain.Order {
	if s.paymentTimeout <= 0 || order.Status != domain.OrderStatusPending {
		return order
	}

	initiated := order.CreatedAt
	if order.PaymentInitiatedAt != nil {
		initiated = *order.PaymentInitiatedAt
	}
	if s.now().Sub(initiated) < s.paymentTimeout {
		return order
	}

	updated, err := s.orders.UpdateStatus(ctx, repositories.OrderStatusUpdate{
		OrderID:    order.ID,
		TrackingID: trackingIDPrefix + s.newID(),
		Expected:   domain.OrderStatusPending,
		Next:       domain.OrderStatusCancelled,
		Actor:      domain.TimeoutActor,
		Note:       timeoutCancelNote,
		Now:        s.now(),
	})
	if err != nil {
		var orderErr *repositories.OrderError
		if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorStatusChanged {
			if refreshed, rerr := s.orders.FindByID(ctx, order.ID); rerr == nil {
				return refreshed
			}
		}
		s.logger(ctx, "order.timeout_cancel_failed", map[string]any{
			"orderID": order.ID,
			"error":   err.Error(),
		})
		return order
	}

	s.logger(ctx, "order.timeout_cancelled", map[string]any{
		"orderID":     updated.ID,
		"orderNumber": updated.OrderNumber,
	})
	s.publishStatusChanged(ctx, updated, domain.OrderStatusPending)

	return updated
}

func (s *orderService) refreshOrder(ctx context.Context, orderID string, fallback domain.Order) (domain.Order, error) {
	refreshed, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return fallback, nil
	}
	return refreshed, nil
}

func (s *orderService) publishStatusChanged(ctx context.Context, order domain.Order, previous domain.OrderStatus) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, OrderEventMessage{
		Event:       orderEventStatusChanged,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      string(order.Status),
		Previous:    string(previous),
		OccurredAt:  s.now(),
	}); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"orderID": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorNotFound:
			return ErrOrderNotFound
		case repositories.OrderErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrOrderInvalidInput, orderErr.Message)
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return ErrOrderConflict
		case repoErr.IsUnavailable():
			return ErrOrderUnavailable
		}
	}
	return ErrOrderUnavailable
}
