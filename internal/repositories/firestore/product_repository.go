package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/northmart/api/internal/domain"
	pfirestore "github.com/northmart/api/internal/platform/firestore"
	"github.com/northmart/api/internal/platform/pagination"
	"github.com/northmart/api/internal/repositories"
)

const (
	productsCollection = "products"
)

// ProductRepository persists catalog products with their stock counters.
type ProductRepository struct {
	base     *pfirestore.Collection[productDocument]
	provider *pfirestore.Provider
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewCollection[productDocument](provider, productsCollection)
	return &ProductRepository{base: base, provider: provider}, nil
}

// FindByID loads a single product document.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByIDs loads the named products, omitting any that do not exist.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("product repository not initialised")
	}
	found := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := found[id]; ok {
			continue
		}
		doc, err := r.base.Get(ctx, id)
		if err != nil {
			var repoErr *pfirestore.Error
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				continue
			}
			return nil, err
		}
		found[id] = doc.Data.toDomain(doc.ID)
	}
	return found, nil
}

// List returns a page of products ordered by name.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
	}

	query := client.Collection(productsCollection).Query
	if filter.ActiveOnly {
		query = query.Where("active", "==", true)
	}
	if filter.InStock {
		query = query.Where("available", ">", 0).OrderBy("available", firestore.Asc)
	}
	query = query.OrderBy("name", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		var cursor productCursor
		if err := pagination.DecodeCursor(token, &cursor); err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		if filter.InStock {
			query = query.StartAfter(cursor.Available, cursor.Name, cursor.ID)
		} else {
			query = query.StartAfter(cursor.Name, cursor.ID)
		}
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var products []domain.Product
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		products = append(products, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(products) > pageSize
	if hasMore {
		products = products[:pageSize]
	}
	var nextToken string
	if hasMore && len(products) > 0 {
		last := products[len(products)-1]
		encoded, err := pagination.EncodeCursor(productCursor{
			ID:        last.ID,
			Name:      last.Name,
			Available: last.AvailableStock(),
		})
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Product]{
		Items:         products,
		NextPageToken: nextToken,
	}, nil
}

// Upsert writes the product, preserving the stored creation time and reserved
// counter unless the caller supplies them.
func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}

	now := product.UpdatedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var saved domain.Product
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.Ref(ctx, productID)
		if err != nil {
			return err
		}
		doc := newProductDocument(product)
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var existing productDocument
			if err := snap.DataTo(&existing); err != nil {
				return fmt.Errorf("decode product %s: %w", productID, err)
			}
			doc.Reserved = existing.Reserved
			doc.CreatedAt = existing.CreatedAt
		case status.Code(err) == codes.NotFound:
			doc.CreatedAt = now
		default:
			return err
		}
		doc.UpdatedAt = now
		doc.recalculate()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		saved = doc.toDomain(productID)
		return nil
	})
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("products.upsert", err)
	}
	return saved, nil
}

// Document shapes ------------------------------------------------------------

type productDocument struct {
	Name             string    `firestore:"name"`
	Image            string    `firestore:"image,omitempty"`
	Price            int64     `firestore:"price"`
	Currency         string    `firestore:"currency"`
	Stock            int       `firestore:"stock"`
	Reserved         int       `firestore:"reserved"`
	Available        int       `firestore:"available"`
	MinOrderQuantity int       `firestore:"minOrderQty"`
	Active           bool      `firestore:"active"`
	CreatedAt        time.Time `firestore:"createdAt"`
	UpdatedAt        time.Time `firestore:"updatedAt"`
}

func (d *productDocument) recalculate() {
	d.Available = d.Stock - d.Reserved
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:               id,
		Name:             strings.TrimSpace(d.Name),
		Image:            strings.TrimSpace(d.Image),
		Price:            d.Price,
		Currency:         strings.ToUpper(strings.TrimSpace(d.Currency)),
		Stock:            d.Stock,
		Reserved:         d.Reserved,
		MinOrderQuantity: d.MinOrderQuantity,
		Active:           d.Active,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func newProductDocument(product domain.Product) productDocument {
	doc := productDocument{
		Name:             strings.TrimSpace(product.Name),
		Image:            strings.TrimSpace(product.Image),
		Price:            product.Price,
		Currency:         strings.ToUpper(strings.TrimSpace(product.Currency)),
		Stock:            product.Stock,
		Reserved:         product.Reserved,
		MinOrderQuantity: product.MinOrderQuantity,
		Active:           product.Active,
		CreatedAt:        product.CreatedAt.UTC(),
		UpdatedAt:        product.UpdatedAt.UTC(),
	}
	doc.recalculate()
	return doc
}

type productCursor struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Available int    `json:"available"`
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
