package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/northmart/api/internal/domain"
	"github.com/northmart/api/internal/repositories"
)

func TestNewCartServiceRequiresDependencies(t *testing.T) {
	if _, err := NewCartService(CartServiceDeps{Products: &stubProductRepository{}}); err == nil {
		t.Fatalf("expected error when cart repository missing")
	}
	if _, err := NewCartService(CartServiceDeps{Carts: &stubCartRepository{}}); err == nil {
		t.Fatalf("expected error when product repository missing")
	}
}

func TestCartServiceGetCartJoinsProducts(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	carts := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID:     userID,
				UserID: userID,
				Lines: []domain.CartLine{
					{ProductID: "prod-1", Quantity: 2},
					{ProductID: "prod-2", Quantity: 1},
				},
			}, nil
		},
	}
	products := &stubProductRepository{
		findAllFunc: func(ctx context.Context, ids []string) (map[string]domain.Product, error) {
			return map[string]domain.Product{
				"prod-1": {ID: "prod-1", Name: "Mug", Price: 1200},
				"prod-2": {ID: "prod-2", Name: "Kettle", Price: 4500},
			}, nil
		},
	}

	svc, err := NewCartService(CartServiceDeps{Carts: carts, Products: products, Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}

	view, err := svc.GetCart(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if len(view.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(view.Lines))
	}
	if view.Lines[0].Subtotal != 2400 {
		t.Fatalf("expected first line subtotal 2400, got %d", view.Lines[0].Subtotal)
	}
	if view.Subtotal != 6900 {
		t.Fatalf("expected subtotal 6900, got %d", view.Subtotal)
	}
	if view.OrphanCount != 0 {
		t.Fatalf("expected no orphans, got %d", view.OrphanCount)
	}
}

func TestCartServiceGetCartPurgesOrphanLines(t *testing.T) {
	var clearedIDs []string
	carts := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID:     userID,
				UserID: userID,
				Lines: []domain.CartLine{
					{ProductID: "prod-1", Quantity: 1},
					{ProductID: "prod-gone", Quantity: 3},
				},
			}, nil
		},
		clearFunc: func(ctx context.Context, userID string, productIDs []string, now time.Time) (domain.Cart, error) {
			clearedIDs = productIDs
			return domain.Cart{
				ID:     userID,
				UserID: userID,
				Lines:  []domain.CartLine{{ProductID: "prod-1", Quantity: 1}},
			}, nil
		},
	}
	products := &stubProductRepository{
		findAllFunc: func(ctx context.Context, ids []string) (map[string]domain.Product, error) {
			return map[string]domain.Product{
				"prod-1": {ID: "prod-1", Name: "Mug", Price: 1200},
			}, nil
		},
	}

	svc, err := NewCartService(CartServiceDeps{Carts: carts, Products: products})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}

	view, err := svc.GetCart(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if view.OrphanCount != 1 {
		t.Fatalf("expected 1 orphan, got %d", view.OrphanCount)
	}
	if len(view.Lines) != 1 || view.Lines[0].ProductID != "prod-1" {
		t.Fatalf("expected orphan excluded from view, got %+v", view.Lines)
	}
	if len(clearedIDs) != 1 || clearedIDs[0] != "prod-gone" {
		t.Fatalf("expected purge of prod-gone, got %v", clearedIDs)
	}
	if len(view.Cart.Lines) != 1 {
		t.Fatalf("expected purged cart back on the view, got %+v", view.Cart.Lines)
	}
}

func TestCartServiceGetCartOrphanPurgeFailureKeepsView(t *testing.T) {
	carts := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID:     userID,
				UserID: userID,
				Lines:  []domain.CartLine{{ProductID: "prod-gone", Quantity: 1}},
			}, nil
		},
		clearFunc: func(ctx context.Context, userID string, productIDs []string, now time.Time) (domain.Cart, error) {
			return domain.Cart{}, &repositoryErrorStub{unavailable: true}
		},
	}
	products := &stubProductRepository{
		findAllFunc: func(ctx context.Context, ids []string) (map[string]domain.Product, error) {
			return map[string]domain.Product{}, nil
		},
	}

	svc, err := NewCartService(CartServiceDeps{Carts: carts, Products: products})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}

	view, err := svc.GetCart(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("expected view despite purge failure, got %v", err)
	}
	if view.OrphanCount != 1 || len(view.Lines) != 0 {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestCartServiceAddItemValidation(t *testing.T) {
	svc, err := NewCartService(CartServiceDeps{Carts: &stubCartRepository{}, Products: &stubProductRepository{}})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}

	cases := []CartItemCommand{
		{UserID: "", ProductID: "prod-1", Quantity: 1},
		{UserID: "user-1", ProductID: "", Quantity: 1},
		{UserID: "user-1", ProductID: "prod-1", Quantity: 0},
		{UserID: "user-1", ProductID: "prod-1", Quantity: -2},
	}
	for _, cmd := range cases {
		if _, err := svc.AddItem(context.Background(), cmd); !errors.Is(err, ErrCartInvalidInput) {
			t.Fatalf("expected invalid input for %+v, got %v", cmd, err)
		}
	}
}

func TestCartServiceAddItemSendsAddMutation(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	var captured repositories.CartMutation
	carts := &stubCartRepository{
		mutateFunc: func(ctx context.Context, mutation repositories.CartMutation) (domain.Cart, error) {
			captured = mutation
			return domain.Cart{ID: mutation.UserID, UserID: mutation.UserID}, nil
		},
	}

	svc, err := NewCartService(CartServiceDeps{Carts: carts, Products: &stubProductRepository{}, Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}

	if _, err := svc.AddItem(context.Background(), CartItemCommand{UserID: " user-1 ", ProductID: "prod-1", Quantity: 2}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if captured.Op != repositories.CartOpAdd {
		t.Fatalf("expected add op, got %q", captured.Op)
	}
	if captured.UserID != "user-1" || captured.ProductID != "prod-1" || captured.Quantity != 2 {
		t.Fatalf("unexpected mutation: %+v", captured)
	}
	if !captured.Now.Equal(now) {
		t.Fatalf("expected clock time on mutation, got %v", captured.Now)
	}
}

func TestCartServiceAddItemPassesDenialThrough(t *testing.T) {
	carts := &stubCartRepository{
		mutateFunc: func(ctx context.Context, mutation repositories.CartMutation) (domain.Cart, error) {
			return domain.Cart{}, &domain.StockDenial{
				Reason:  domain.DenialInsufficientStock,
				Message: "only 3 available",
			}
		},
	}

	svc, err := NewCartService(CartServiceDeps{Carts: carts, Products: &stubProductRepository{}})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}

	_, err = svc.AddItem(context.Background(), CartItemCommand{UserID: "user-1", ProductID: "prod-1", Quantity: 5})
	var denial *domain.StockDenial
	if !errors.As(err, &denial) {
		t.Fatalf("expected stock denial, got %v", err)
	}
	if denial.Message != "only 3 available" {
		t.Fatalf("denial message must survive untouched, got %q", denial.Message)
	}
}

func TestCartServiceSetItemQuantityAllowsZero(t *testing.T) {
	var captured repositories.CartMutation
	carts := &stubCartRepository{
		mutateFunc: func(ctx context.Context, mutation repositories.CartMutation) (domain.Cart, error) {
			captured = mutation
			return domain.Cart{ID: mutation.UserID, UserID: mutation.UserID}, nil
		},
	}

	svc, err := NewCartService(CartServiceDeps{Carts: carts, Products: &stubProductRepository{}})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}

	if _, err := svc.SetItemQuantity(context.Background(), CartItemCommand{UserID: "user-1", ProductID: "prod-1", Quantity: 0}); err != nil {
		t.Fatalf("SetItemQuantity(0): %v", err)
	}
	if captured.Op != repositories.CartOpSet || captured.Quantity != 0 {
		t.Fatalf("expected set mutation with quantity 0, got %+v", captured)
	}
}

func TestCartServiceRemoveItemSendsRemoveMutation(t *testing.T) {
	var captured repositories.CartMutation
	carts := &stubCartRepository{
		mutateFunc: func(ctx context.Context, mutation repositories.CartMutation) (domain.Cart, error) {
			captured = mutation
			return domain.Cart{ID: mutation.UserID, UserID: mutation.UserID}, nil
		},
	}

	svc, err := NewCartService(CartServiceDeps{Carts: carts, Products: &stubProductRepository{}})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}

	if _, err := svc.RemoveItem(context.Background(), RemoveCartItemCommand{UserID: "user-1", ProductID: "prod-1"}); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if captured.Op != repositories.CartOpRemove {
		t.Fatalf("expected remove op, got %q", captured.Op)
	}
}

func TestCartServiceMutationErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "product missing",
			err:  &repositories.CartError{Code: repositories.CartErrorProductNotFound, Message: "no such product"},
			want: ErrCartProductNotFound,
		},
		{
			name: "invalid mutation",
			err:  &repositories.CartError{Code: repositories.CartErrorInvalidMutation, Message: "bad op"},
			want: ErrCartInvalidInput,
		},
		{
			name: "conflict",
			err:  &repositoryErrorStub{conflict: true},
			want: ErrCartConflict,
		},
		{
			name: "unavailable",
			err:  &repositoryErrorStub{unavailable: true},
			want: ErrCartUnavailable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			carts := &stubCartRepository{
				mutateFunc: func(ctx context.Context, mutation repositories.CartMutation) (domain.Cart, error) {
					return domain.Cart{}, tc.err
				},
			}
			svc, err := NewCartService(CartServiceDeps{Carts: carts, Products: &stubProductRepository{}})
			if err != nil {
				t.Fatalf("NewCartService: %v", err)
			}
			_, err = svc.AddItem(context.Background(), CartItemCommand{UserID: "user-1", ProductID: "prod-1", Quantity: 1})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCartServiceClearCart(t *testing.T) {
	var cleared bool
	carts := &stubCartRepository{
		clearFunc: func(ctx context.Context, userID string, productIDs []string, now time.Time) (domain.Cart, error) {
			cleared = true
			if productIDs != nil {
				t.Fatalf("expected full clear, got product ids %v", productIDs)
			}
			return domain.Cart{ID: userID, UserID: userID}, nil
		},
	}

	svc, err := NewCartService(CartServiceDeps{Carts: carts, Products: &stubProductRepository{}})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}

	if err := svc.ClearCart(context.Background(), "user-1"); err != nil {
		t.Fatalf("ClearCart: %v", err)
	}
	if !cleared {
		t.Fatalf("expected repository clear call")
	}
}
