package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/northmart/api/internal/services"
)

// PubSubWebhookRetryPublisher queues gateway webhook deliveries that hit a
// transient failure so they can be replayed out of band. The HTTP handler
// still acknowledges the gateway; the retry queue owns the redelivery.
type PubSubWebhookRetryPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubWebhookRetryPublisher constructs a Pub/Sub backed retry publisher.
func NewPubSubWebhookRetryPublisher(topic *pubsub.Topic) (*PubSubWebhookRetryPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub webhook retry publisher: topic is required")
	}
	return &PubSubWebhookRetryPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishWebhookRetry enqueues the raw webhook delivery for later replay.
func (p *PubSubWebhookRetryPublisher) PublishWebhookRetry(ctx context.Context, message services.WebhookRetryMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub webhook retry publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal webhook retry: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", message.EventType)
	setAttr(attrs, "orderNumber", message.OrderNumber)
	setAttr(attrs, "deliveryId", message.DeliveryID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish webhook retry: %w", err)
	}
	return id, nil
}

// PubSubOrderEventPublisher emits order lifecycle events for downstream
// consumers (notifications, analytics, fulfilment).
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	return &PubSubOrderEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderEvent publishes the event on the configured topic.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, message services.OrderEventMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub order event publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "event", message.Event)
	setAttr(attrs, "orderId", message.OrderID)
	setAttr(attrs, "orderNumber", message.OrderNumber)
	setAttr(attrs, "status", message.Status)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish order event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
