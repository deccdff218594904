package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/northmart/api/internal/domain"
	"github.com/northmart/api/internal/payments"
	"github.com/northmart/api/internal/repositories"
)

type repositoryErrorStub struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repositoryErrorStub) Error() string       { return "repository error stub" }
func (e *repositoryErrorStub) IsNotFound() bool    { return e.notFound }
func (e *repositoryErrorStub) IsConflict() bool    { return e.conflict }
func (e *repositoryErrorStub) IsUnavailable() bool { return e.unavailable }

type stubCartRepository struct {
	getFunc    func(ctx context.Context, userID string) (domain.Cart, error)
	mutateFunc func(ctx context.Context, mutation repositories.CartMutation) (domain.Cart, error)
	clearFunc  func(ctx context.Context, userID string, productIDs []string, now time.Time) (domain.Cart, error)
}

func (s *stubCartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, userID)
	}
	return domain.Cart{ID: userID, UserID: userID}, nil
}

func (s *stubCartRepository) MutateLine(ctx context.Context, mutation repositories.CartMutation) (domain.Cart, error) {
	if s.mutateFunc != nil {
		return s.mutateFunc(ctx, mutation)
	}
	return domain.Cart{ID: mutation.UserID, UserID: mutation.UserID}, nil
}

func (s *stubCartRepository) Clear(ctx context.Context, userID string, productIDs []string, now time.Time) (domain.Cart, error) {
	if s.clearFunc != nil {
		return s.clearFunc(ctx, userID, productIDs, now)
	}
	return domain.Cart{ID: userID, UserID: userID}, nil
}

type stubProductRepository struct {
	findFunc    func(ctx context.Context, productID string) (domain.Product, error)
	findAllFunc func(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	listFunc    func(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error)
	upsertFunc  func(ctx context.Context, product domain.Product) (domain.Product, error)
}

func (s *stubProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFunc != nil {
		return s.findFunc(ctx, productID)
	}
	return domain.Product{}, &repositoryErrorStub{notFound: true}
}

func (s *stubProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if s.findAllFunc != nil {
		return s.findAllFunc(ctx, productIDs)
	}
	return map[string]domain.Product{}, nil
}

func (s *stubProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return domain.CursorPage[domain.Product]{}, nil
}

func (s *stubProductRepository) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	if s.upsertFunc != nil {
		return s.upsertFunc(ctx, product)
	}
	return product, nil
}

type stubOrderRepository struct {
	createFunc        func(ctx context.Context, req repositories.OrderCreateRequest) (domain.Order, error)
	updateStatusFunc  func(ctx context.Context, update repositories.OrderStatusUpdate) (domain.Order, error)
	updatePaymentFunc func(ctx context.Context, orderID string, patch repositories.PaymentMetaPatch, now time.Time) (domain.Order, error)
	findByIDFunc      func(ctx context.Context, orderID string) (domain.Order, error)
	findByNumberFunc  func(ctx context.Context, orderNumber string) (domain.Order, error)
	listFunc          func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	listTrackingFunc  func(ctx context.Context, orderID string) ([]domain.TrackingEntry, error)
	listPendingFunc   func(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
}

func (s *stubOrderRepository) Create(ctx context.Context, req repositories.OrderCreateRequest) (domain.Order, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, req)
	}
	return req.Order, nil
}

func (s *stubOrderRepository) UpdateStatus(ctx context.Context, update repositories.OrderStatusUpdate) (domain.Order, error) {
	if s.updateStatusFunc != nil {
		return s.updateStatusFunc(ctx, update)
	}
	return domain.Order{ID: update.OrderID, Status: update.Next}, nil
}

func (s *stubOrderRepository) UpdatePaymentMeta(ctx context.Context, orderID string, patch repositories.PaymentMetaPatch, now time.Time) (domain.Order, error) {
	if s.updatePaymentFunc != nil {
		return s.updatePaymentFunc(ctx, orderID, patch, now)
	}
	return domain.Order{ID: orderID}, nil
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findByIDFunc != nil {
		return s.findByIDFunc(ctx, orderID)
	}
	return domain.Order{}, &repositoryErrorStub{notFound: true}
}

func (s *stubOrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if s.findByNumberFunc != nil {
		return s.findByNumberFunc(ctx, orderNumber)
	}
	return domain.Order{}, &repositoryErrorStub{notFound: true}
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderRepository) ListTracking(ctx context.Context, orderID string) ([]domain.TrackingEntry, error) {
	if s.listTrackingFunc != nil {
		return s.listTrackingFunc(ctx, orderID)
	}
	return nil, nil
}

func (s *stubOrderRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	if s.listPendingFunc != nil {
		return s.listPendingFunc(ctx, cutoff, limit)
	}
	return nil, nil
}

type stubCounterRepository struct {
	nextFunc      func(ctx context.Context, counterID string, step int64) (int64, error)
	configureFunc func(ctx context.Context, counterID string, cfg repositories.CounterConfig) error
}

func (s *stubCounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFunc != nil {
		return s.nextFunc(ctx, counterID, step)
	}
	return 1, nil
}

func (s *stubCounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	if s.configureFunc != nil {
		return s.configureFunc(ctx, counterID, cfg)
	}
	return nil
}

type stubCounterService struct {
	nextFunc   func(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	numberFunc func(ctx context.Context) (string, error)
}

func (s *stubCounterService) Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error) {
	if s.nextFunc != nil {
		return s.nextFunc(ctx, scope, name, opts)
	}
	return CounterValue{Value: 1, Formatted: "1"}, nil
}

func (s *stubCounterService) NextOrderNumber(ctx context.Context) (string, error) {
	if s.numberFunc != nil {
		return s.numberFunc(ctx)
	}
	return "NM-20260831-0001", nil
}

type stubOrderEventPublisher struct {
	publishFunc func(ctx context.Context, message OrderEventMessage) (string, error)
	published   []OrderEventMessage
}

func (s *stubOrderEventPublisher) PublishOrderEvent(ctx context.Context, message OrderEventMessage) (string, error) {
	s.published = append(s.published, message)
	if s.publishFunc != nil {
		return s.publishFunc(ctx, message)
	}
	return "msg-1", nil
}

type stubRetryPublisher struct {
	publishFunc func(ctx context.Context, message WebhookRetryMessage) (string, error)
	published   []WebhookRetryMessage
}

func (s *stubRetryPublisher) PublishWebhookRetry(ctx context.Context, message WebhookRetryMessage) (string, error) {
	s.published = append(s.published, message)
	if s.publishFunc != nil {
		return s.publishFunc(ctx, message)
	}
	return "msg-1", nil
}

type stubOrderService struct {
	getFunc        func(ctx context.Context, query OrderQuery) (OrderDetail, error)
	listFunc       func(ctx context.Context, filter OrderHistoryFilter) (domain.CursorPage[Order], error)
	transitionFunc func(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	cancelFunc     func(ctx context.Context, cmd CancelOrderCommand) (CancellationResult, error)
	expireFunc     func(ctx context.Context, limit int) (int, error)
}

func (s *stubOrderService) GetOrder(ctx context.Context, query OrderQuery) (OrderDetail, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, query)
	}
	return OrderDetail{}, ErrOrderNotFound
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter OrderHistoryFilter) (domain.CursorPage[Order], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return domain.CursorPage[Order]{}, nil
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	if s.transitionFunc != nil {
		return s.transitionFunc(ctx, cmd)
	}
	return Order{}, errors.New("transition not stubbed")
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (CancellationResult, error) {
	if s.cancelFunc != nil {
		return s.cancelFunc(ctx, cmd)
	}
	return CancellationResult{}, errors.New("cancel not stubbed")
}

func (s *stubOrderService) ExpirePendingOrders(ctx context.Context, limit int) (int, error) {
	if s.expireFunc != nil {
		return s.expireFunc(ctx, limit)
	}
	return 0, nil
}

type stubPaymentSessions struct {
	createFunc func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

func (s *stubPaymentSessions) CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, paymentCtx, req)
	}
	return payments.CheckoutSession{}, errors.New("payments not stubbed")
}
