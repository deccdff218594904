package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/northmart/api/internal/domain"
	"github.com/northmart/api/internal/repositories"
)

func newTestWebhookService(t *testing.T, deps WebhookServiceDeps) WebhookService {
	t.Helper()
	if deps.Orders == nil {
		deps.Orders = &stubOrderService{}
	}
	if deps.Repository == nil {
		deps.Repository = &stubOrderRepository{}
	}
	svc, err := NewWebhookService(deps)
	if err != nil {
		t.Fatalf("NewWebhookService: %v", err)
	}
	return svc
}

func webhookDelivery(payload string) WebhookDelivery {
	return WebhookDelivery{
		DeliveryID: "dlv_1",
		Payload:    []byte(payload),
		ReceivedAt: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
}

func TestWebhookPaymentSucceededConfirmsOrder(t *testing.T) {
	var captured OrderStatusTransitionCommand
	orders := &stubOrderService{
		transitionFunc: func(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
			captured = cmd
			return testOrder(domain.OrderStatusConfirmed), nil
		},
	}
	repo := &stubOrderRepository{
		findByNumberFunc: func(ctx context.Context, orderNumber string) (domain.Order, error) {
			return testOrder(domain.OrderStatusPending), nil
		},
	}

	svc := newTestWebhookService(t, WebhookServiceDeps{Orders: orders, Repository: repo})

	result, err := svc.ProcessEvent(context.Background(), webhookDelivery(
		`{"type":"payment.succeeded","data":{"order_number":"NM-20260314-0001","payment_id":"pi_1","amount":6900,"method":"card"}}`))
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if result.Disposition != WebhookApplied {
		t.Fatalf("expected applied, got %q", result.Disposition)
	}
	if result.EventType != "payment.succeeded" || result.OrderNumber != "NM-20260314-0001" {
		t.Fatalf("unexpected result %+v", result)
	}
	if captured.Target != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed target, got %q", captured.Target)
	}
	if captured.Actor != domain.WebhookActor {
		t.Fatalf("expected webhook actor, got %+v", captured.Actor)
	}
	if captured.Expected == nil || *captured.Expected != domain.OrderStatusPending {
		t.Fatalf("expected compare-and-set on pending, got %+v", captured.Expected)
	}
	if captured.Payment == nil || captured.Payment.PaymentID == nil || *captured.Payment.PaymentID != "pi_1" {
		t.Fatalf("expected payment metadata patch, got %+v", captured.Payment)
	}
	if captured.Payment.Amount == nil || *captured.Payment.Amount != 6900 {
		t.Fatalf("expected amount on patch, got %+v", captured.Payment)
	}
}

func TestWebhookPaymentFailedMarksOrderFailed(t *testing.T) {
	var captured OrderStatusTransitionCommand
	orders := &stubOrderService{
		transitionFunc: func(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
			captured = cmd
			return testOrder(domain.OrderStatusFailed), nil
		},
	}
	repo := &stubOrderRepository{
		findByNumberFunc: func(ctx context.Context, orderNumber string) (domain.Order, error) {
			return testOrder(domain.OrderStatusPending), nil
		},
	}

	svc := newTestWebhookService(t, WebhookServiceDeps{Orders: orders, Repository: repo})

	result, err := svc.ProcessEvent(context.Background(), webhookDelivery(
		`{"type":"payment.failed","data":{"order_number":"NM-20260314-0001","payment_id":"pi_1","reason":"card_declined"}}`))
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if result.Disposition != WebhookApplied {
		t.Fatalf("expected applied, got %q", result.Disposition)
	}
	if captured.Target != domain.OrderStatusFailed {
		t.Fatalf("expected failed target, got %q", captured.Target)
	}
	if captured.Payment == nil || captured.Payment.FailureReason == nil || *captured.Payment.FailureReason != "card_declined" {
		t.Fatalf("expected failure reason on patch, got %+v", captured.Payment)
	}
}

func TestWebhookRedeliveryAlreadySatisfied(t *testing.T) {
	for _, status := range []domain.OrderStatus{
		domain.OrderStatusConfirmed,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
	} {
		repo := &stubOrderRepository{
			findByNumberFunc: func(ctx context.Context, orderNumber string) (domain.Order, error) {
				return testOrder(status), nil
			},
		}
		orders := &stubOrderService{
			transitionFunc: func(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
				t.Fatalf("transition must not run for %s order", status)
				return Order{}, nil
			},
		}

		svc := newTestWebhookService(t, WebhookServiceDeps{Orders: orders, Repository: repo})

		result, err := svc.ProcessEvent(context.Background(), webhookDelivery(
			`{"type":"payment.succeeded","data":{"order_number":"NM-20260314-0001","payment_id":"pi_1"}}`))
		if err != nil {
			t.Fatalf("ProcessEvent: %v", err)
		}
		if result.Disposition != WebhookIgnored {
			t.Fatalf("expected ignored for %s order, got %q", status, result.Disposition)
		}
	}
}

func TestWebhookTerminalOrderIgnored(t *testing.T) {
	repo := &stubOrderRepository{
		findByNumberFunc: func(ctx context.Context, orderNumber string) (domain.Order, error) {
			return testOrder(domain.OrderStatusCancelled), nil
		},
	}

	svc := newTestWebhookService(t, WebhookServiceDeps{Repository: repo})

	result, err := svc.ProcessEvent(context.Background(), webhookDelivery(
		`{"type":"payment.succeeded","data":{"order_number":"NM-20260314-0001"}}`))
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if result.Disposition != WebhookIgnored {
		t.Fatalf("expected ignored, got %q", result.Disposition)
	}
}

func TestWebhookUnknownOrderAcked(t *testing.T) {
	svc := newTestWebhookService(t, WebhookServiceDeps{
		Repository: &stubOrderRepository{
			findByNumberFunc: func(ctx context.Context, orderNumber string) (domain.Order, error) {
				return domain.Order{}, &repositoryErrorStub{notFound: true}
			},
		},
	})

	result, err := svc.ProcessEvent(context.Background(), webhookDelivery(
		`{"type":"payment.succeeded","data":{"order_number":"NM-00000000-0000"}}`))
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if result.Disposition != WebhookIgnored {
		t.Fatalf("expected ignored for unknown order, got %q", result.Disposition)
	}
}

func TestWebhookMalformedPayloads(t *testing.T) {
	svc := newTestWebhookService(t, WebhookServiceDeps{})

	for _, payload := range []string{
		`not json`,
		`{"data":{"order_number":"NM-20260314-0001"}}`,
		`{"type":"payment.succeeded","data":{}}`,
	} {
		result, err := svc.ProcessEvent(context.Background(), webhookDelivery(payload))
		if err != nil {
			t.Fatalf("ProcessEvent(%q): %v", payload, err)
		}
		if result.Disposition != WebhookMalformed {
			t.Fatalf("expected malformed for %q, got %q", payload, result.Disposition)
		}
	}
}

func TestWebhookUnknownEventTypeAcked(t *testing.T) {
	svc := newTestWebhookService(t, WebhookServiceDeps{})

	result, err := svc.ProcessEvent(context.Background(), webhookDelivery(
		`{"type":"charge.disputed","data":{"order_number":"NM-20260314-0001"}}`))
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if result.Disposition != WebhookIgnored {
		t.Fatalf("expected ignored for unknown event type, got %q", result.Disposition)
	}
}

func TestWebhookTransientFailureQueuesRetry(t *testing.T) {
	retry := &stubRetryPublisher{}
	svc := newTestWebhookService(t, WebhookServiceDeps{
		Repository: &stubOrderRepository{
			findByNumberFunc: func(ctx context.Context, orderNumber string) (domain.Order, error) {
				return domain.Order{}, &repositoryErrorStub{unavailable: true}
			},
		},
		Retry: retry,
	})

	delivery := webhookDelivery(
		`{"type":"payment.succeeded","data":{"order_number":"NM-20260314-0001"}}`)
	delivery.Attempt = 2

	result, err := svc.ProcessEvent(context.Background(), delivery)
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if result.Disposition != WebhookQueued {
		t.Fatalf("expected queued, got %q", result.Disposition)
	}
	if len(retry.published) != 1 {
		t.Fatalf("expected one retry message, got %d", len(retry.published))
	}
	msg := retry.published[0]
	if msg.Attempt != 3 {
		t.Fatalf("expected attempt 3, got %d", msg.Attempt)
	}
	if msg.EventType != "payment.succeeded" || msg.OrderNumber != "NM-20260314-0001" {
		t.Fatalf("unexpected retry message %+v", msg)
	}
}

func TestWebhookRetryPublishFailureErrors(t *testing.T) {
	retry := &stubRetryPublisher{
		publishFunc: func(ctx context.Context, message WebhookRetryMessage) (string, error) {
			return "", errors.New("topic gone")
		},
	}
	svc := newTestWebhookService(t, WebhookServiceDeps{
		Repository: &stubOrderRepository{
			findByNumberFunc: func(ctx context.Context, orderNumber string) (domain.Order, error) {
				return domain.Order{}, &repositoryErrorStub{unavailable: true}
			},
		},
		Retry: retry,
	})

	_, err := svc.ProcessEvent(context.Background(), webhookDelivery(
		`{"type":"payment.succeeded","data":{"order_number":"NM-20260314-0001"}}`))
	if !errors.Is(err, ErrWebhookUnavailable) {
		t.Fatalf("expected unavailable error when the retry topic is down, got %v", err)
	}
}

func TestWebhookNoRetryPublisherErrors(t *testing.T) {
	svc := newTestWebhookService(t, WebhookServiceDeps{
		Repository: &stubOrderRepository{
			findByNumberFunc: func(ctx context.Context, orderNumber string) (domain.Order, error) {
				return domain.Order{}, &repositoryErrorStub{unavailable: true}
			},
		},
	})

	_, err := svc.ProcessEvent(context.Background(), webhookDelivery(
		`{"type":"payment.succeeded","data":{"order_number":"NM-20260314-0001"}}`))
	if !errors.Is(err, ErrWebhookUnavailable) {
		t.Fatalf("expected unavailable error without a retry publisher, got %v", err)
	}
}

func TestWebhookDroppedCancelsPendingOrder(t *testing.T) {
	var cancelCmd CancelOrderCommand
	var metaPatch repositories.PaymentMetaPatch
	orders := &stubOrderService{
		cancelFunc: func(ctx context.Context, cmd CancelOrderCommand) (CancellationResult, error) {
			cancelCmd = cmd
			return CancellationResult{Order: testOrder(domain.OrderStatusCancelled), RestoredCount: 2}, nil
		},
	}
	repo := &stubOrderRepository{
		findByNumberFunc: func(ctx context.Context, orderNumber string) (domain.Order, error) {
			return testOrder(domain.OrderStatusPending), nil
		},
		updatePaymentFunc: func(ctx context.Context, orderID string, patch repositories.PaymentMetaPatch, now time.Time) (domain.Order, error) {
			metaPatch = patch
			return domain.Order{ID: orderID}, nil
		},
	}

	svc := newTestWebhookService(t, WebhookServiceDeps{Orders: orders, Repository: repo})

	result, err := svc.ProcessEvent(context.Background(), webhookDelivery(
		`{"type":"payment.dropped","data":{"order_number":"NM-20260314-0001","payment_id":"pi_1"}}`))
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if result.Disposition != WebhookApplied {
		t.Fatalf("expected applied, got %q", result.Disposition)
	}
	if cancelCmd.Actor != domain.WebhookActor || cancelCmd.Reason != "payment abandoned" {
		t.Fatalf("unexpected cancel command %+v", cancelCmd)
	}
	if metaPatch.Status == nil || *metaPatch.Status != "dropped" {
		t.Fatalf("expected dropped payment status, got %+v", metaPatch)
	}
}

func TestWebhookDroppedIgnoredAfterConfirmation(t *testing.T) {
	orders := &stubOrderService{
		cancelFunc: func(ctx context.Context, cmd CancelOrderCommand) (CancellationResult, error) {
			t.Fatalf("cancel must not run for a confirmed order")
			return CancellationResult{}, nil
		},
	}
	repo := &stubOrderRepository{
		findByNumberFunc: func(ctx context.Context, orderNumber string) (domain.Order, error) {
			return testOrder(domain.OrderStatusConfirmed), nil
		},
	}

	svc := newTestWebhookService(t, WebhookServiceDeps{Orders: orders, Repository: repo})

	result, err := svc.ProcessEvent(context.Background(), webhookDelivery(
		`{"type":"payment.dropped","data":{"order_number":"NM-20260314-0001"}}`))
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if result.Disposition != WebhookIgnored {
		t.Fatalf("expected ignored, got %q", result.Disposition)
	}
}

func TestWebhookRefundSucceededWritesMetadata(t *testing.T) {
	var metaPatch repositories.PaymentMetaPatch
	repo := &stubOrderRepository{
		findByNumberFunc: func(ctx context.Context, orderNumber string) (domain.Order, error) {
			return testOrder(domain.OrderStatusDelivered), nil
		},
		updatePaymentFunc: func(ctx context.Context, orderID string, patch repositories.PaymentMetaPatch, now time.Time) (domain.Order, error) {
			metaPatch = patch
			return domain.Order{ID: orderID}, nil
		},
	}

	svc := newTestWebhookService(t, WebhookServiceDeps{Repository: repo})

	result, err := svc.ProcessEvent(context.Background(), webhookDelivery(
		`{"type":"refund.succeeded","data":{"order_number":"NM-20260314-0001","payment_id":"pi_1","refund_id":"re_1","amount":6900}}`))
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if result.Disposition != WebhookApplied {
		t.Fatalf("expected applied, got %q", result.Disposition)
	}
	if metaPatch.RefundID == nil || *metaPatch.RefundID != "re_1" {
		t.Fatalf("expected refund id, got %+v", metaPatch)
	}
	if metaPatch.RefundStatus == nil || *metaPatch.RefundStatus != "succeeded" {
		t.Fatalf("expected refund status, got %+v", metaPatch)
	}
	if metaPatch.RefundAmount == nil || *metaPatch.RefundAmount != 6900 {
		t.Fatalf("expected refund amount, got %+v", metaPatch)
	}
}

func TestWebhookRefundFailedRecordsReason(t *testing.T) {
	var metaPatch repositories.PaymentMetaPatch
	repo := &stubOrderRepository{
		findByNumberFunc: func(ctx context.Context, orderNumber string) (domain.Order, error) {
			return testOrder(domain.OrderStatusDelivered), nil
		},
		updatePaymentFunc: func(ctx context.Context, orderID string, patch repositories.PaymentMetaPatch, now time.Time) (domain.Order, error) {
			metaPatch = patch
			return domain.Order{ID: orderID}, nil
		},
	}

	svc := newTestWebhookService(t, WebhookServiceDeps{Repository: repo})

	result, err := svc.ProcessEvent(context.Background(), webhookDelivery(
		`{"type":"refund.failed","data":{"order_number":"NM-20260314-0001","refund_id":"re_1","reason":"expired_card"}}`))
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if result.Disposition != WebhookApplied {
		t.Fatalf("expected applied, got %q", result.Disposition)
	}
	if metaPatch.FailureReason == nil || *metaPatch.FailureReason != "expired_card" {
		t.Fatalf("expected failure reason, got %+v", metaPatch)
	}
	if metaPatch.Status != nil {
		t.Fatalf("refund failure must not change payment status, got %+v", metaPatch)
	}
}

func TestWebhookConflictReresolvedAfterRace(t *testing.T) {
	reads := 0
	repo := &stubOrderRepository{
		findByNumberFunc: func(ctx context.Context, orderNumber string) (domain.Order, error) {
			reads++
			if reads == 1 {
				return testOrder(domain.OrderStatusPending), nil
			}
			return testOrder(domain.OrderStatusConfirmed), nil
		},
	}
	orders := &stubOrderService{
		transitionFunc: func(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
			return Order{}, ErrOrderConflict
		},
	}

	svc := newTestWebhookService(t, WebhookServiceDeps{Orders: orders, Repository: repo})

	result, err := svc.ProcessEvent(context.Background(), webhookDelivery(
		`{"type":"payment.succeeded","data":{"order_number":"NM-20260314-0001"}}`))
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if result.Disposition != WebhookIgnored {
		t.Fatalf("expected ignored once the race winner satisfied the intent, got %q", result.Disposition)
	}
	if reads != 2 {
		t.Fatalf("expected a re-read after the conflict, got %d reads", reads)
	}
}
