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
	"github.com/northmart/api/internal/platform/pagination"
	"github.com/northmart/api/internal/services"
)

const maxOrderRequestBody = 8 * 1024

// OrderHandlers exposes the authenticated order history endpoints.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs order handlers guarded by Firebase authentication.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
}

type orderLinePayload struct {
	ProductID    string `json:"productId"`
	ProductName  string `json:"productName"`
	ProductImage string `json:"productImage,omitempty"`
	UnitPrice    int64  `json:"unitPrice"`
	Quantity     int    `json:"quantity"`
	Subtotal     int64  `json:"subtotal"`
}

type orderPaymentPayload struct {
	PaymentID     string `json:"paymentId,omitempty"`
	Status        string `json:"status,omitempty"`
	Method        string `json:"method,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`
	RefundID      string `json:"refundId,omitempty"`
	RefundStatus  string `json:"refundStatus,omitempty"`
	RefundAmount  int64  `json:"refundAmount,omitempty"`
}

type orderPayload struct {
	ID              string                 `json:"id"`
	OrderNumber     string                 `json:"orderNumber"`
	Status          string                 `json:"status"`
	Currency        string                 `json:"currency"`
	Total           int64                  `json:"total"`
	Items           []orderLinePayload     `json:"items"`
	ShippingAddress shippingAddressPayload `json:"shippingAddress"`
	Payment         *orderPaymentPayload   `json:"payment,omitempty"`
	CreatedAt       string                 `json:"createdAt"`
	UpdatedAt       string                 `json:"updatedAt"`
	ConfirmedAt     string                 `json:"confirmedAt,omitempty"`
	ShippedAt       string                 `json:"shippedAt,omitempty"`
	DeliveredAt     string                 `json:"deliveredAt,omitempty"`
	CancelledAt     string                 `json:"cancelledAt,omitempty"`
	FailedAt        string                 `json:"failedAt,omitempty"`
}

type trackingEntryPayload struct {
	Status         string `json:"status"`
	PreviousStatus string `json:"previousStatus,omitempty"`
	ActorName      string `json:"actorName,omitempty"`
	Note           string `json:"note,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

type orderDetailResponse struct {
	Order    orderPayload           `json:"order"`
	Tracking []trackingEntryPayload `json:"tracking,omitempty"`
}

type orderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason,omitempty"`
}

type cancelOrderResponse struct {
	Order         orderPayload `json:"order"`
	RestoredCount int          `json:"restored_count"`
	SkippedCount  int          `json:"skipped_count"`
	Outcome       string       `json:"outcome"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderLinePayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderLinePayload{
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			ProductImage: item.ProductImage,
			UnitPrice:    item.UnitPrice,
			Quantity:     item.Quantity,
			Subtotal:     item.Subtotal(),
		})
	}

	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		Currency:    order.Currency,
		Total:       order.Total,
		Items:       items,
		ShippingAddress: shippingAddressPayload{
			RecipientName: order.ShippingAddress.RecipientName,
			Line1:         order.ShippingAddress.Line1,
			Line2:         order.ShippingAddress.Line2,
			City:          order.ShippingAddress.City,
			Region:        order.ShippingAddress.Region,
			PostalCode:    order.ShippingAddress.PostalCode,
			Country:       order.ShippingAddress.Country,
			Phone:         order.ShippingAddress.Phone,
		},
		CreatedAt:   formatTimestamp(order.CreatedAt),
		UpdatedAt:   formatTimestamp(order.UpdatedAt),
		ConfirmedAt: formatTimestampPtr(order.ConfirmedAt),
		ShippedAt:   formatTimestampPtr(order.ShippedAt),
		DeliveredAt: formatTimestampPtr(order.DeliveredAt),
		CancelledAt: formatTimestampPtr(order.CancelledAt),
		FailedAt:    formatTimestampPtr(order.FailedAt),
	}

	if p := order.Payment; p != (domain.PaymentInfo{}) {
		payload.Payment = &orderPaymentPayload{
			PaymentID:     p.PaymentID,
			Status:        p.Status,
			Method:        p.Method,
			Amount:        p.Amount,
			FailureReason: p.FailureReason,
			RefundID:      p.RefundID,
			RefundStatus:  p.RefundStatus,
			RefundAmount:  p.RefundAmount,
		}
	}

	return payload
}

func buildTrackingPayload(entries []domain.TrackingEntry) []trackingEntryPayload {
	if len(entries) == 0 {
		return nil
	}
	payload := make([]trackingEntryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, trackingEntryPayload{
			Status:         string(entry.Status),
			PreviousStatus: string(entry.PreviousStatus),
			ActorName:      entry.ActorName,
			Note:           entry.Note,
			CreatedAt:      formatTimestamp(entry.CreatedAt),
		})
	}
	return payload
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
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

	filter := services.OrderHistoryFilter{
		UserID: identity.UID,
		Pagination: domain.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	}
	for _, raw := range r.URL.Query()["status"] {
		status := domain.OrderStatus(strings.TrimSpace(raw))
		if status == "" {
			continue
		}
		if !status.Valid() {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown status filter "+raw, http.StatusBadRequest))
			return
		}
		filter.Status = append(filter.Status, status)
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	orders := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		orders = append(orders, buildOrderPayload(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Orders:        orders,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	detail, err := h.orders.GetOrder(ctx, services.OrderQuery{
		OrderID:         chi.URLParam(r, "orderID"),
		UserID:          identity.UID,
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

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
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

	var req cancelOrderRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	result, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		UserID:  identity.UID,
		Actor:   domain.Actor{ID: identity.UID, Name: "Customer"},
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, cancelOrderResponse{
		Order:         buildOrderPayload(result.Order),
		RestoredCount: result.RestoredCount,
		SkippedCount:  result.SkippedCount,
		Outcome:       string(result.Outcome()),
	})
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order changed concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
