package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/northmart/api/internal/domain"
	"github.com/northmart/api/internal/repositories"
)

// ErrCatalogInvalidInput indicates the caller supplied invalid input.
var ErrCatalogInvalidInput = errors.New("catalog service: invalid input")

// ErrCatalogNotFound indicates the product does not exist.
var ErrCatalogNotFound = errors.New("catalog service: not found")

// ErrCatalogConflict indicates a concurrent modification lost the race.
var ErrCatalogConflict = errors.New("catalog service: conflict")

// ErrCatalogUnavailable indicates a backend dependency failed.
var ErrCatalogUnavailable = errors.New("catalog service: unavailable")

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Products repositories.ProductRepository
	Clock    func() time.Time
	Logger   func(context.Context, string, map[string]any)
}

type catalogService struct {
	products repositories.ProductRepository
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewCatalogService constructs a CatalogService enforcing dependency validation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &catalogService{
		products: deps.Products,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	pid := strings.TrimSpace(productID)
	if pid == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, pid)
	if err != nil {
		return Product{}, s.translateRepoError(err)
	}
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductFilter) (domain.CursorPage[Product], error) {
	page, err := s.products.List(ctx, repositories.ProductListFilter{
		ActiveOnly: filter.ActiveOnly,
		InStock:    filter.InStock,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Product]{}, s.translateRepoError(err)
	}
	return page, nil
}

// UpsertProduct creates or replaces a product. Stock and pricing fields are
// validated here; the reserved counter is owned by the repository.
func (s *catalogService) UpsertProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	product := cmd.Product
	product.ID = strings.TrimSpace(product.ID)
	product.Name = strings.TrimSpace(product.Name)
	product.Currency = strings.ToUpper(strings.TrimSpace(product.Currency))

	switch {
	case product.ID == "":
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	case product.Name == "":
		return Product{}, fmt.Errorf("%w: product name is required", ErrCatalogInvalidInput)
	case product.Price < 0:
		return Product{}, fmt.Errorf("%w: price must not be negative", ErrCatalogInvalidInput)
	case product.Stock < 0:
		return Product{}, fmt.Errorf("%w: stock must not be negative", ErrCatalogInvalidInput)
	case product.MinOrderQuantity < 1:
		return Product{}, fmt.Errorf("%w: minimum order quantity must be at least 1", ErrCatalogInvalidInput)
	}

	now := s.now()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	saved, err := s.products.Upsert(ctx, product)
	if err != nil {
		return Product{}, s.translateRepoError(err)
	}

	s.logger(ctx, "catalog.product_upserted", map[string]any{
		"productID": saved.ID,
		"actorID":   strings.TrimSpace(cmd.ActorID),
	})

	return saved, nil
}

func (s *catalogService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCatalogNotFound
		case repoErr.IsConflict():
			return ErrCatalogConflict
		case repoErr.IsUnavailable():
			return ErrCatalogUnavailable
		}
	}
	return ErrCatalogUnavailable
}
