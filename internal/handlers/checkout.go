package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/northmart/api/internal/domain"
	"github.com/northmart/api/internal/platform/auth"
	"github.com/northmart/api/internal/platform/httpx"
	"github.com/northmart/api/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutHandlers exposes the checkout endpoint for authenticated users.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
}

// Routes registers the checkout endpoint under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/", h.checkoutCart)
}

type shippingAddressPayload struct {
	RecipientName string `json:"recipientName"`
	Line1         string `json:"line1"`
	Line2         string `json:"line2,omitempty"`
	City          string `json:"city,omitempty"`
	Region        string `json:"region,omitempty"`
	PostalCode    string `json:"postalCode"`
	Country       string `json:"country"`
	Phone         string `json:"phone,omitempty"`
}

type checkoutRequest struct {
	ShippingAddress shippingAddressPayload `json:"shippingAddress"`
	Provider        string                 `json:"provider,omitempty"`
}

type paymentSessionPayload struct {
	SessionID   string `json:"sessionId"`
	Provider    string `json:"provider"`
	RedirectURL string `json:"redirectUrl"`
	ExpiresAt   string `json:"expiresAt,omitempty"`
}

type checkoutResponse struct {
	Order          orderPayload           `json:"order"`
	PaymentSession *paymentSessionPayload `json:"paymentSession,omitempty"`
}

func (p shippingAddressPayload) toDomain() domain.Address {
	return domain.Address{
		RecipientName: strings.TrimSpace(p.RecipientName),
		Line1:         strings.TrimSpace(p.Line1),
		Line2:         strings.TrimSpace(p.Line2),
		City:          strings.TrimSpace(p.City),
		Region:        strings.TrimSpace(p.Region),
		PostalCode:    strings.TrimSpace(p.PostalCode),
		Country:       strings.TrimSpace(p.Country),
		Phone:         strings.TrimSpace(p.Phone),
	}
}

func (h *CheckoutHandlers) checkoutCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req checkoutRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	result, err := h.checkout.Checkout(ctx, services.CheckoutCommand{
		UserID:            identity.UID,
		ShippingAddress:   req.ShippingAddress.toDomain(),
		PreferredProvider: strings.TrimSpace(req.Provider),
	})
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	payload := checkoutResponse{Order: buildOrderPayload(result.Order)}
	if session := result.PaymentSession; session != nil {
		payload.PaymentSession = &paymentSessionPayload{
			SessionID:   session.SessionID,
			Provider:    session.Provider,
			RedirectURL: session.RedirectURL,
			ExpiresAt:   formatTimestamp(session.ExpiresAt),
		}
	}

	writeJSONResponse(w, http.StatusCreated, payload)
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var denial *domain.StockDenial
	if errors.As(err, &denial) {
		writeStockDenial(ctx, w, denial)
		return
	}

	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutConflict):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_conflict", "cart changed during checkout; retry", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
