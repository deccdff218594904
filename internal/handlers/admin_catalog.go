package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/northmart/api/internal/platform/auth"
	"github.com/northmart/api/internal/platform/httpx"
	"github.com/northmart/api/internal/services"
)

const maxCatalogRequestBody = 64 * 1024

// AdminCatalogHandlers exposes the operator-facing catalog endpoints.
type AdminCatalogHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewAdminCatalogHandlers constructs admin catalog handlers.
func NewAdminCatalogHandlers(authn *auth.Authenticator, catalog services.CatalogService) *AdminCatalogHandlers {
	return &AdminCatalogHandlers{authn: authn, catalog: catalog}
}

// Routes registers admin catalog endpoints.
func (h *AdminCatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Get("/products", h.listProducts)
	r.Post("/products", h.createProduct)
	r.Put("/products/{productID}", h.updateProduct)
}

type adminProductRequest struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Image            string `json:"image"`
	Price            int64  `json:"price"`
	Currency         string `json:"currency"`
	Stock            int    `json:"stock"`
	MinOrderQuantity int    `json:"minOrderQuantity"`
	Active           bool   `json:"active"`
}

type adminProductResponse struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Image            string `json:"image,omitempty"`
	Price            int64  `json:"price"`
	Currency         string `json:"currency"`
	Stock            int    `json:"stock"`
	Reserved         int    `json:"reserved"`
	AvailableStock   int    `json:"availableStock"`
	MinOrderQuantity int    `json:"minOrderQuantity"`
	Active           bool   `json:"active"`
	CreatedAt        string `json:"createdAt"`
	UpdatedAt        string `json:"updatedAt"`
}

func newAdminProductResponse(product services.Product) adminProductResponse {
	return adminProductResponse{
		ID:               product.ID,
		Name:             product.Name,
		Image:            product.Image,
		Price:            product.Price,
		Currency:         product.Currency,
		Stock:            product.Stock,
		Reserved:         product.Reserved,
		AvailableStock:   product.AvailableStock(),
		MinOrderQuantity: product.MinOrderQuantity,
		Active:           product.Active,
		CreatedAt:        formatTimestamp(product.CreatedAt),
		UpdatedAt:        formatTimestamp(product.UpdatedAt),
	}
}

func (h *AdminCatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	page, err := h.catalog.ListProducts(ctx, services.ProductFilter{})
	if err != nil {
		writeAdminCatalogError(ctx, w, err)
		return
	}

	products := make([]adminProductResponse, 0, len(page.Items))
	for _, product := range page.Items {
		products = append(products, newAdminProductResponse(product))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"products":      products,
		"nextPageToken": page.NextPageToken,
	})
}

func (h *AdminCatalogHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	h.saveProduct(w, r, "")
}

func (h *AdminCatalogHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	h.saveProduct(w, r, chi.URLParam(r, "productID"))
}

func (h *AdminCatalogHandlers) saveProduct(w http.ResponseWriter, r *http.Request, productID string) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	product, err := decodeAdminProductRequest(r, productID)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.catalog.UpsertProduct(ctx, services.UpsertProductCommand{
		Product: product,
		ActorID: identity.UID,
	})
	if err != nil {
		writeAdminCatalogError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if r.Method == http.MethodPost {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, newAdminProductResponse(result))
}

func decodeAdminProductRequest(r *http.Request, overrideID string) (services.Product, error) {
	limited := io.LimitReader(r.Body, maxCatalogRequestBody)
	defer r.Body.Close()
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()

	var req adminProductRequest
	if err := decoder.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return services.Product{}, errors.New("request body required")
		}
		return services.Product{}, fmt.Errorf("invalid request body: %w", err)
	}

	product := services.Product{
		ID:               strings.TrimSpace(req.ID),
		Name:             strings.TrimSpace(req.Name),
		Image:            strings.TrimSpace(req.Image),
		Price:            req.Price,
		Currency:         strings.ToUpper(strings.TrimSpace(req.Currency)),
		Stock:            req.Stock,
		MinOrderQuantity: req.MinOrderQuantity,
		Active:           req.Active,
	}
	if product.MinOrderQuantity == 0 {
		product.MinOrderQuantity = 1
	}
	if strings.TrimSpace(overrideID) != "" {
		product.ID = strings.TrimSpace(overrideID)
	}
	return product, nil
}

func writeAdminCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogConflict):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_conflict", "product changed concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrCatalogUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to save product", http.StatusInternalServerError))
	}
}
