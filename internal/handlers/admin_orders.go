package handlers

import (
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

// AdminOrderHandlers exposes the operator order tooling: status transitions
// with an audit note, recorded against the operator's identity.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewAdminOrderHandlers constructs the operator order handlers.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{authn: authn, orders: orders}
}

// Routes registers the operator order endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleOperator, auth.RoleAdmin))
	}
	r.Get("/orders/{orderID}", h.getOrder)
	r.Patch("/orders/{orderID}/status", h.updateStatus)
}

type adminStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	detail, err := h.orders.GetOrder(ctx, services.OrderQuery{
		OrderID:         chi.URLParam(r, "orderID"),
		IncludeTracking: true,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderDetailResponse{
		Order:    buildOrderPayload(detail.Order),
		Tracking: buildTrackingPayload(detail.Tracking),
	})
}

func (h *AdminOrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req adminStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	target := domain.OrderStatus(strings.TrimSpace(req.Status))
	if !target.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status "+req.Status, http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Target:  target,
		Actor:   domain.Actor{ID: identity.UID, Name: "Operator"},
		Note:    strings.TrimSpace(req.Note),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"order": buildOrderPayload(order),
	})
}
