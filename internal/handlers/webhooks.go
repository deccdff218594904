package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/northmart/api/internal/platform/httpx"
	"github.com/northmart/api/internal/services"
)

const (
	maxWebhookRequestBody = 256 * 1024
	webhookRateLimit      = 120
	webhookRateWindow     = time.Minute

	deliveryIDHeader      = "X-Delivery-Id"
	deliveryAttemptHeader = "X-Delivery-Attempt"
)

// WebhookHandlers receives payment gateway deliveries. Verification of the
// gateway signature happens in middleware mounted on the webhook route group;
// by the time a request lands here it is authenticated.
type WebhookHandlers struct {
	webhooks services.WebhookService
	limiter  rateLimiter
	clock    func() time.Time
}

// NewWebhookHandlers constructs the webhook ingestion handlers.
func NewWebhookHandlers(webhooks services.WebhookService) *WebhookHandlers {
	return &WebhookHandlers{
		webhooks: webhooks,
		limiter:  newWindowLimiter(webhookRateLimit, webhookRateWindow, time.Now),
		clock:    time.Now,
	}
}

// Routes registers the webhook endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments", h.receivePaymentEvent)
}

type webhookAckResponse struct {
	Received    bool   `json:"received"`
	Disposition string `json:"disposition"`
	EventType   string `json:"eventType,omitempty"`
	OrderNumber string `json:"orderNumber,omitempty"`
}

func (h *WebhookHandlers) receivePaymentEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.webhooks == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook ingestion is unavailable", http.StatusServiceUnavailable))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(r.RemoteAddr) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many webhook deliveries", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxWebhookRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	deliveryID := strings.TrimSpace(r.Header.Get(deliveryIDHeader))
	if deliveryID == "" {
		deliveryID = ulid.Make().String()
	}
	attempt := 1
	if raw := strings.TrimSpace(r.Header.Get(deliveryAttemptHeader)); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			attempt = parsed
		}
	}

	result, err := h.webhooks.ProcessEvent(ctx, services.WebhookDelivery{
		DeliveryID: deliveryID,
		Payload:    body,
		ReceivedAt: h.clock().UTC(),
		Attempt:    attempt,
	})
	if err != nil {
		// Gateways retry on non-2xx. Only a processing error that the
		// service could not absorb surfaces here; ask for a redelivery.
		httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process delivery", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, webhookAckResponse{
		Received:    true,
		Disposition: string(result.Disposition),
		EventType:   result.EventType,
		OrderNumber: result.OrderNumber,
	})
}
