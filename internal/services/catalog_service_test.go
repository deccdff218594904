package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/northmart/api/internal/domain"
	"github.com/northmart/api/internal/repositories"
)

func TestCatalogServiceGetProduct(t *testing.T) {
	svc, err := NewCatalogService(CatalogServiceDeps{
		Products: &stubProductRepository{
			findFunc: func(ctx context.Context, productID string) (domain.Product, error) {
				return domain.Product{ID: productID, Name: "Mug"}, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}

	product, err := svc.GetProduct(context.Background(), "prod-1")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if product.Name != "Mug" {
		t.Fatalf("unexpected product %+v", product)
	}

	if _, err := svc.GetProduct(context.Background(), "  "); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCatalogServiceGetProductNotFound(t *testing.T) {
	svc, err := NewCatalogService(CatalogServiceDeps{
		Products: &stubProductRepository{
			findFunc: func(ctx context.Context, productID string) (domain.Product, error) {
				return domain.Product{}, &repositoryErrorStub{notFound: true}
			},
		},
	})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}

	if _, err := svc.GetProduct(context.Background(), "prod-missing"); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCatalogServiceListProductsMapsFilter(t *testing.T) {
	var captured repositories.ProductListFilter
	svc, err := NewCatalogService(CatalogServiceDeps{
		Products: &stubProductRepository{
			listFunc: func(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
				captured = filter
				return domain.CursorPage[domain.Product]{Items: []domain.Product{{ID: "prod-1"}}}, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}

	page, err := svc.ListProducts(context.Background(), ProductFilter{
		ActiveOnly: true,
		InStock:    true,
		Pagination: domain.Pagination{PageSize: 25},
	})
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected one product, got %d", len(page.Items))
	}
	if !captured.ActiveOnly || !captured.InStock || captured.Pagination.PageSize != 25 {
		t.Fatalf("unexpected filter %+v", captured)
	}
}

func TestCatalogServiceUpsertProductValidation(t *testing.T) {
	svc, err := NewCatalogService(CatalogServiceDeps{Products: &stubProductRepository{}})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}

	base := domain.Product{ID: "prod-1", Name: "Mug", Price: 1200, Stock: 5, MinOrderQuantity: 1}
	cases := []func(domain.Product) domain.Product{
		func(p domain.Product) domain.Product { p.ID = ""; return p },
		func(p domain.Product) domain.Product { p.Name = " "; return p },
		func(p domain.Product) domain.Product { p.Price = -1; return p },
		func(p domain.Product) domain.Product { p.Stock = -1; return p },
		func(p domain.Product) domain.Product { p.MinOrderQuantity = 0; return p },
	}
	for i, mutate := range cases {
		if _, err := svc.UpsertProduct(context.Background(), UpsertProductCommand{Product: mutate(base)}); !errors.Is(err, ErrCatalogInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}

func TestCatalogServiceUpsertProductStampsTimestamps(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	var captured domain.Product
	svc, err := NewCatalogService(CatalogServiceDeps{
		Products: &stubProductRepository{
			upsertFunc: func(ctx context.Context, product domain.Product) (domain.Product, error) {
				captured = product
				return product, nil
			},
		},
		Clock: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}

	saved, err := svc.UpsertProduct(context.Background(), UpsertProductCommand{
		Product: domain.Product{ID: "prod-1", Name: "Mug", Price: 1200, Stock: 5, MinOrderQuantity: 1, Currency: "usd"},
		ActorID: "ops-1",
	})
	if err != nil {
		t.Fatalf("UpsertProduct: %v", err)
	}
	if !captured.CreatedAt.Equal(now) || !captured.UpdatedAt.Equal(now) {
		t.Fatalf("expected timestamps stamped, got %+v", captured)
	}
	if saved.Currency != "USD" {
		t.Fatalf("expected currency uppercased, got %q", saved.Currency)
	}

	existing := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := svc.UpsertProduct(context.Background(), UpsertProductCommand{
		Product: domain.Product{ID: "prod-1", Name: "Mug", Price: 1200, Stock: 5, MinOrderQuantity: 1, CreatedAt: existing},
	}); err != nil {
		t.Fatalf("UpsertProduct: %v", err)
	}
	if !captured.CreatedAt.Equal(existing) {
		t.Fatalf("expected original creation time kept, got %v", captured.CreatedAt)
	}
	if !captured.UpdatedAt.Equal(now) {
		t.Fatalf("expected update time refreshed, got %v", captured.UpdatedAt)
	}
}
