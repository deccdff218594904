package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/northmart/api/internal/domain"
	"github.com/northmart/api/internal/payments"
	"github.com/northmart/api/internal/repositories"
)

// ErrWebhookUnavailable indicates the delivery hit a transient failure and
// could not be queued for retry either.
var ErrWebhookUnavailable = errors.New("webhook service: unavailable")

// statusRank orders the forward lifecycle so the ingester can recognise
// deliveries whose intent was already satisfied by a later transition.
// Cancelled and failed sit outside the rank; they are handled as terminal.
var statusRank = map[domain.OrderStatus]int{
	domain.OrderStatusPending:    0,
	domain.OrderStatusConfirmed:  1,
	domain.OrderStatusProcessing: 2,
	domain.OrderStatusShipped:    3,
	domain.OrderStatusDelivered:  4,
}

func reachedOrPassed(current, target domain.OrderStatus) bool {
	cr, okCurrent := statusRank[current]
	tr, okTarget := statusRank[target]
	return okCurrent && okTarget && cr >= tr
}

// WebhookServiceDeps bundles collaborators required to construct the webhook service.
type WebhookServiceDeps struct {
	Orders     OrderService
	Repository repositories.OrderRepository
	Retry      WebhookRetryPublisher
	Clock      func() time.Time
	Logger     func(context.Context, string, map[string]any)
}

type webhookService struct {
	orders OrderService
	repo   repositories.OrderRepository
	retry  WebhookRetryPublisher
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewWebhookService wires dependencies into a concrete WebhookService implementation.
func NewWebhookService(deps WebhookServiceDeps) (WebhookService, error) {
	if deps.Orders == nil {
		return nil, errors.New("webhook service: order service is required")
	}
	if deps.Repository == nil {
		return nil, errors.New("webhook service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &webhookService{
		orders: deps.Orders,
		repo:   deps.Repository,
		retry:  deps.Retry,
		now:    func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// ProcessEvent applies one gateway delivery. Deliveries arrive at least once
// and in no particular order; every disposition here is safe to acknowledge.
// Transient backend failures are queued for replay, and when even the queue
// is unavailable the error propagates so the caller answers non-2xx and the
// gateway redelivers.
func (s *webhookService) ProcessEvent(ctx context.Context, delivery WebhookDelivery) (WebhookResult, error) {
	event, err := payments.ParseEvent(delivery.Payload)
	if err != nil {
		s.logger(ctx, "webhook.malformed", map[string]any{
			"deliveryID": delivery.DeliveryID,
			"error":      err.Error(),
		})
		return WebhookResult{Disposition: WebhookMalformed}, nil
	}

	result := WebhookResult{
		EventType:   event.EventType(),
		OrderNumber: event.Order(),
	}

	switch ev := event.(type) {
	case payments.PaymentSucceeded:
		paymentStatus := "succeeded"
		result.Disposition, err = s.applyTransition(ctx, delivery, ev, domain.OrderStatusConfirmed, &repositories.PaymentMetaPatch{
			PaymentID: &ev.PaymentID,
			Status:    &paymentStatus,
			Method:    &ev.Method,
			Amount:    &ev.Amount,
		})
	case payments.PaymentFailed:
		paymentStatus := "failed"
		result.Disposition, err = s.applyTransition(ctx, delivery, ev, domain.OrderStatusFailed, &repositories.PaymentMetaPatch{
			PaymentID:     &ev.PaymentID,
			Status:        &paymentStatus,
			FailureReason: &ev.Reason,
		})
	case payments.PaymentDropped:
		result.Disposition, err = s.applyDropped(ctx, delivery, ev)
	case payments.RefundSucceeded:
		paymentStatus := "refunded"
		refundStatus := "succeeded"
		result.Disposition, err = s.applyRefund(ctx, delivery, ev, repositories.PaymentMetaPatch{
			Status:       &paymentStatus,
			RefundID:     &ev.RefundID,
			RefundStatus: &refundStatus,
			RefundAmount: &ev.Amount,
		})
	case payments.RefundFailed:
		refundStatus := "failed"
		result.Disposition, err = s.applyRefund(ctx, delivery, ev, repositories.PaymentMetaPatch{
			RefundID:      &ev.RefundID,
			RefundStatus:  &refundStatus,
			FailureReason: &ev.Reason,
		})
	default:
		s.logger(ctx, "webhook.unknown_event", map[string]any{
			"deliveryID": delivery.DeliveryID,
			"eventType":  event.EventType(),
		})
		result.Disposition = WebhookIgnored
	}
	if err != nil {
		return WebhookResult{}, err
	}

	return result, nil
}

// applyTransition moves the order toward the target status. Deliveries whose
// order already reached (or passed) the target are idempotent no-ops.
func (s *webhookService) applyTransition(ctx context.Context, delivery WebhookDelivery, event payments.Event, target domain.OrderStatus, patch *repositories.PaymentMetaPatch) (WebhookDisposition, error) {
	order, disposition, ok, err := s.lookupOrder(ctx, delivery, event)
	if !ok {
		return disposition, err
	}

	if order.Status == target || reachedOrPassed(order.Status, target) {
		s.logger(ctx, "webhook.already_satisfied", map[string]any{
			"deliveryID":  delivery.DeliveryID,
			"eventType":   event.EventType(),
			"orderNumber": event.Order(),
			"status":      string(order.Status),
		})
		return WebhookIgnored, nil
	}
	if order.Status.Terminal() {
		s.logger(ctx, "webhook.terminal_order", map[string]any{
			"deliveryID":  delivery.DeliveryID,
			"eventType":   event.EventType(),
			"orderNumber": event.Order(),
			"status":      string(order.Status),
		})
		return WebhookIgnored, nil
	}

	expected := order.Status
	_, err = s.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:  order.ID,
		Target:   target,
		Actor:    domain.WebhookActor,
		Note:     "gateway event " + event.EventType(),
		Expected: &expected,
		Payment:  patch,
	})
	switch {
	case err == nil:
		return WebhookApplied, nil
	case errors.Is(err, ErrOrderInvalidState):
		s.logger(ctx, "webhook.transition_not_applicable", map[string]any{
			"deliveryID":  delivery.DeliveryID,
			"eventType":   event.EventType(),
			"orderNumber": event.Order(),
			"error":       err.Error(),
		})
		return WebhookIgnored, nil
	case errors.Is(err, ErrOrderConflict):
		// Re-read and decide: the winner may have satisfied the intent.
		if refreshed, ferr := s.repo.FindByNumber(ctx, event.Order()); ferr == nil {
			if refreshed.Status == target || reachedOrPassed(refreshed.Status, target) || refreshed.Status.Terminal() {
				return WebhookIgnored, nil
			}
		}
		return s.queueRetry(ctx, delivery, event)
	default:
		return s.queueRetry(ctx, delivery, event)
	}
}

// applyDropped cancels the order the customer walked away from, returning
// its lines to the cart where stock admits them.
func (s *webhookService) applyDropped(ctx context.Context, delivery WebhookDelivery, event payments.PaymentDropped) (WebhookDisposition, error) {
	order, disposition, ok, err := s.lookupOrder(ctx, delivery, event)
	if !ok {
		return disposition, err
	}

	if order.Status == domain.OrderStatusCancelled {
		return WebhookIgnored, nil
	}
	if order.Status.Terminal() || order.Status != domain.OrderStatusPending {
		// A drop only applies while payment is outstanding.
		s.logger(ctx, "webhook.drop_not_applicable", map[string]any{
			"deliveryID":  delivery.DeliveryID,
			"orderNumber": event.OrderNumber,
			"status":      string(order.Status),
		})
		return WebhookIgnored, nil
	}

	if _, err := s.orders.Cancel(ctx, CancelOrderCommand{
		OrderID: order.ID,
		Actor:   domain.WebhookActor,
		Reason:  "payment abandoned",
	}); err != nil {
		if errors.Is(err, ErrOrderInvalidState) {
			return WebhookIgnored, nil
		}
		return s.queueRetry(ctx, delivery, event)
	}

	if pid := strings.TrimSpace(event.PaymentID); pid != "" {
		status := "dropped"
		if _, err := s.repo.UpdatePaymentMeta(ctx, order.ID, repositories.PaymentMetaPatch{
			PaymentID: &pid,
			Status:    &status,
		}, s.now()); err != nil {
			s.logger(ctx, "webhook.payment_meta_failed", map[string]any{
				"deliveryID": delivery.DeliveryID,
				"orderID":    order.ID,
				"error":      err.Error(),
			})
		}
	}

	return WebhookApplied, nil
}

// applyRefund writes refund metadata without touching the order status.
func (s *webhookService) applyRefund(ctx context.Context, delivery WebhookDelivery, event payments.Event, patch repositories.PaymentMetaPatch) (WebhookDisposition, error) {
	order, disposition, ok, err := s.lookupOrder(ctx, delivery, event)
	if !ok {
		return disposition, err
	}

	if _, err := s.repo.UpdatePaymentMeta(ctx, order.ID, patch, s.now()); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return WebhookIgnored, nil
		}
		return s.queueRetry(ctx, delivery, event)
	}

	return WebhookApplied, nil
}

// lookupOrder resolves the event's order number. Unknown numbers are logged
// and acked: the gateway cannot fix them by redelivering.
func (s *webhookService) lookupOrder(ctx context.Context, delivery WebhookDelivery, event payments.Event) (domain.Order, WebhookDisposition, bool, error) {
	order, err := s.repo.FindByNumber(ctx, event.Order())
	if err == nil {
		return order, "", true, nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		s.logger(ctx, "webhook.order_unknown", map[string]any{
			"deliveryID":  delivery.DeliveryID,
			"eventType":   event.EventType(),
			"orderNumber": event.Order(),
		})
		return domain.Order{}, WebhookIgnored, false, nil
	}

	disposition, qerr := s.queueRetry(ctx, delivery, event)
	return domain.Order{}, disposition, false, qerr
}

// queueRetry hands the delivery to the retry topic so the gateway can be
// acknowledged immediately. When the topic is missing or the publish fails
// the delivery must not be acknowledged, so the error propagates and the
// caller answers non-2xx.
func (s *webhookService) queueRetry(ctx context.Context, delivery WebhookDelivery, event payments.Event) (WebhookDisposition, error) {
	if s.retry == nil {
		s.logger(ctx, "webhook.retry_unavailable", map[string]any{
			"deliveryID": delivery.DeliveryID,
			"eventType":  event.EventType(),
		})
		return "", fmt.Errorf("%w: no retry publisher configured", ErrWebhookUnavailable)
	}

	received := delivery.ReceivedAt
	if received.IsZero() {
		received = s.now()
	}

	id, err := s.retry.PublishWebhookRetry(ctx, WebhookRetryMessage{
		DeliveryID:  delivery.DeliveryID,
		EventType:   event.EventType(),
		OrderNumber: event.Order(),
		Payload:     delivery.Payload,
		ReceivedAt:  received,
		Attempt:     delivery.Attempt + 1,
	})
	if err != nil {
		s.logger(ctx, "webhook.retry_publish_failed", map[string]any{
			"deliveryID": delivery.DeliveryID,
			"eventType":  event.EventType(),
			"error":      err.Error(),
		})
		return "", fmt.Errorf("%w: publish retry: %v", ErrWebhookUnavailable, err)
	}

	s.logger(ctx, "webhook.retry_queued", map[string]any{
		"deliveryID": delivery.DeliveryID,
		"eventType":  event.EventType(),
		"messageID":  id,
		"attempt":    delivery.Attempt + 1,
	})
	return WebhookQueued, nil
}
