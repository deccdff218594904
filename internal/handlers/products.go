package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	domain "github.com/northmart/api/internal/domain"
	"github.com/northmart/api/internal/platform/httpx"
	"github.com/northmart/api/internal/platform/pagination"
	"github.com/northmart/api/internal/services"
)

// ProductHandlers exposes the public catalog endpoints. They require no
// authentication; stock numbers are surfaced as availability only.
type ProductHandlers struct {
	catalog services.CatalogService
}

func NewProductHandlers(catalog services.CatalogService) *ProductHandlers {
	return &ProductHandlers{catalog: catalog}
}

func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Get("/{productID}", h.getProduct)
}

type productPayload struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Image            string `json:"image,omitempty"`
	Price            int64  `json:"price"`
	Currency         string `json:"currency"`
	AvailableStock   int    `json:"availableStock"`
	MinOrderQuantity int    `json:"minOrderQuantity"`
	Active           bool   `json:"active"`
	CreatedAt        string `json:"createdAt"`
	UpdatedAt        string `json:"updatedAt"`
}

type productListResponse struct {
	Products      []productPayload `json:"products"`
	NextPageToken string           `json:"nextPageToken,omitempty"`
}

func buildProductPayload(product domain.Product) productPayload {
	return productPayload{
		ID:               product.ID,
		Name:             product.Name,
		Image:            product.Image,
		Price:            product.Price,
		Currency:         product.Currency,
		AvailableStock:   product.AvailableStock(),
		MinOrderQuantity: product.MinOrderQuantity,
		Active:           product.Active,
		CreatedAt:        formatTimestamp(product.CreatedAt),
		UpdatedAt:        formatTimestamp(product.UpdatedAt),
	}
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusServiceUnavailable))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: 20,
		MaxPageSize:     100,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.ProductFilter{
		ActiveOnly: true,
		Pagination: domain.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	}
	if raw := r.URL.Query().Get("inStock"); raw != "" {
		inStock, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "inStock must be a boolean", http.StatusBadRequest))
			return
		}
		filter.InStock = inStock
	}

	page, err := h.catalog.ListProducts(ctx, filter)
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}

	products := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		products = append(products, buildProductPayload(product))
	}

	writeJSONResponse(w, http.StatusOK, productListResponse{
		Products:      products,
		NextPageToken: page.NextPageToken,
	})
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusServiceUnavailable))
		return
	}

	product, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}
	if !product.Active {
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
		return
	}

	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *ProductHandlers) writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to load catalog data", http.StatusInternalServerError))
	}
}
