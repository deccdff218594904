package handlers

import (
	"context"

	domain "github.com/northmart/api/internal/domain"
	"github.com/northmart/api/internal/services"
)

type stubCartService struct {
	getFunc    func(ctx context.Context, userID string) (services.CartView, error)
	addFunc    func(ctx context.Context, cmd services.CartItemCommand) (services.CartView, error)
	setFunc    func(ctx context.Context, cmd services.CartItemCommand) (services.CartView, error)
	removeFunc func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.CartView, error)
	clearFunc  func(ctx context.Context, userID string) error
}

func (s *stubCartService) GetCart(ctx context.Context, userID string) (services.CartView, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, userID)
	}
	return services.CartView{}, nil
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.CartItemCommand) (services.CartView, error) {
	if s.addFunc != nil {
		return s.addFunc(ctx, cmd)
	}
	return services.CartView{}, nil
}

func (s *stubCartService) SetItemQuantity(ctx context.Context, cmd services.CartItemCommand) (services.CartView, error) {
	if s.setFunc != nil {
		return s.setFunc(ctx, cmd)
	}
	return services.CartView{}, nil
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) (services.CartView, error) {
	if s.removeFunc != nil {
		return s.removeFunc(ctx, cmd)
	}
	return services.CartView{}, nil
}

func (s *stubCartService) ClearCart(ctx context.Context, userID string) error {
	if s.clearFunc != nil {
		return s.clearFunc(ctx, userID)
	}
	return nil
}

type stubCheckoutService struct {
	checkoutFunc func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error)
}

func (s *stubCheckoutService) Checkout(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
	if s.checkoutFunc != nil {
		return s.checkoutFunc(ctx, cmd)
	}
	return services.CheckoutResult{}, nil
}

type stubOrderService struct {
	getFunc        func(ctx context.Context, query services.OrderQuery) (services.OrderDetail, error)
	listFunc       func(ctx context.Context, filter services.OrderHistoryFilter) (domain.CursorPage[services.Order], error)
	transitionFunc func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error)
	cancelFunc     func(ctx context.Context, cmd services.CancelOrderCommand) (services.CancellationResult, error)
	expireFunc     func(ctx context.Context, limit int) (int, error)
}

func (s *stubOrderService) GetOrder(ctx context.Context, query services.OrderQuery) (services.OrderDetail, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, query)
	}
	return services.OrderDetail{}, nil
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderHistoryFilter) (domain.CursorPage[services.Order], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFunc != nil {
		return s.transitionFunc(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.CancellationResult, error) {
	if s.cancelFunc != nil {
		return s.cancelFunc(ctx, cmd)
	}
	return services.CancellationResult{}, nil
}

func (s *stubOrderService) ExpirePendingOrders(ctx context.Context, limit int) (int, error) {
	if s.expireFunc != nil {
		return s.expireFunc(ctx, limit)
	}
	return 0, nil
}

type stubCatalogService struct {
	getFunc    func(ctx context.Context, productID string) (services.Product, error)
	listFunc   func(ctx context.Context, filter services.ProductFilter) (domain.CursorPage[services.Product], error)
	upsertFunc func(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error)
}

func (s *stubCatalogService) GetProduct(ctx context.Context, productID string) (services.Product, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, productID)
	}
	return services.Product{}, nil
}

func (s *stubCatalogService) ListProducts(ctx context.Context, filter services.ProductFilter) (domain.CursorPage[services.Product], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return domain.CursorPage[services.Product]{}, nil
}

func (s *stubCatalogService) UpsertProduct(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
	if s.upsertFunc != nil {
		return s.upsertFunc(ctx, cmd)
	}
	return cmd.Product, nil
}

type stubWebhookService struct {
	processFunc func(ctx context.Context, delivery services.WebhookDelivery) (services.WebhookResult, error)
}

func (s *stubWebhookService) ProcessEvent(ctx context.Context, delivery services.WebhookDelivery) (services.WebhookResult, error) {
	if s.processFunc != nil {
		return s.processFunc(ctx, delivery)
	}
	return services.WebhookResult{Disposition: services.WebhookApplied}, nil
}

type stubSystemService struct {
	reportFunc func(ctx context.Context) (services.SystemHealthReport, error)
}

func (s *stubSystemService) HealthReport(ctx context.Context) (services.SystemHealthReport, error) {
	if s.reportFunc != nil {
		return s.reportFunc(ctx)
	}
	return services.SystemHealthReport{Status: domain.HealthStatusOK}, nil
}
