package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Gateway event type identifiers as they appear on the wire.
const (
	EventTypePaymentSucceeded = "payment.succeeded"
	EventTypePaymentFailed    = "payment.failed"
	EventTypePaymentDropped   = "payment.dropped"
	EventTypeRefundSucceeded  = "refund.succeeded"
	EventTypeRefundFailed     = "refund.failed"
)

// ErrMalformedEvent is returned when a gateway payload cannot be decoded.
var ErrMalformedEvent = errors.New("payments: malformed gateway event")

// Event is the closed set of notifications the payment gateway delivers.
// Payloads with a type outside the known set decode to UnknownEvent.
type Event interface {
	EventType() string
	Order() string
}

// PaymentSucceeded reports a captured payment for an order.
type PaymentSucceeded struct {
	OrderNumber string
	PaymentID   string
	Amount      int64
	Method      string
}

func (e PaymentSucceeded) EventType() string { return EventTypePaymentSucceeded }
func (e PaymentSucceeded) Order() string     { return e.OrderNumber }

// PaymentFailed reports a payment attempt the gateway rejected.
type PaymentFailed struct {
	OrderNumber string
	PaymentID   string
	Reason      string
}

func (e PaymentFailed) EventType() string { return EventTypePaymentFailed }
func (e PaymentFailed) Order() string     { return e.OrderNumber }

// PaymentDropped reports a checkout session the customer abandoned.
type PaymentDropped struct {
	OrderNumber string
	PaymentID   string
}

func (e PaymentDropped) EventType() string { return EventTypePaymentDropped }
func (e PaymentDropped) Order() string     { return e.OrderNumber }

// RefundSucceeded reports a completed refund for an order's payment.
type RefundSucceeded struct {
	OrderNumber string
	PaymentID   string
	RefundID    string
	Amount      int64
}

func (e RefundSucceeded) EventType() string { return EventTypeRefundSucceeded }
func (e RefundSucceeded) Order() string     { return e.OrderNumber }

// RefundFailed reports a refund attempt the gateway could not complete.
type RefundFailed struct {
	OrderNumber string
	PaymentID   string
	RefundID    string
	Reason      string
}

func (e RefundFailed) EventType() string { return EventTypeRefundFailed }
func (e RefundFailed) Order() string     { return e.OrderNumber }

// UnknownEvent carries a payload whose type is outside the known set.
// Consumers acknowledge these without acting on them.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e UnknownEvent) EventType() string { return e.Type }
func (e UnknownEvent) Order() string     { return "" }

type eventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type eventData struct {
	OrderNumber string `json:"order_number"`
	PaymentID   string `json:"payment_id"`
	Amount      int64  `json:"amount"`
	Method      string `json:"method"`
	Reason      string `json:"reason"`
	RefundID    string `json:"refund_id"`
}

// ParseEvent decodes a gateway webhook payload into its typed event.
func ParseEvent(payload []byte) (Event, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	eventType := strings.TrimSpace(envelope.Type)
	if eventType == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedEvent)
	}

	switch eventType {
	case EventTypePaymentSucceeded, EventTypePaymentFailed, EventTypePaymentDropped,
		EventTypeRefundSucceeded, EventTypeRefundFailed:
	default:
		return UnknownEvent{Type: eventType, Raw: envelope.Data}, nil
	}

	var data eventData
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: decode %s data: %v", ErrMalformedEvent, eventType, err)
		}
	}
	if strings.TrimSpace(data.OrderNumber) == "" {
		return nil, fmt.Errorf("%w: %s missing order_number", ErrMalformedEvent, eventType)
	}

	switch eventType {
	case EventTypePaymentSucceeded:
		return PaymentSucceeded{
			OrderNumber: data.OrderNumber,
			PaymentID:   data.PaymentID,
			Amount:      data.Amount,
			Method:      data.Method,
		}, nil
	case EventTypePaymentFailed:
		return PaymentFailed{
			OrderNumber: data.OrderNumber,
			PaymentID:   data.PaymentID,
			Reason:      data.Reason,
		}, nil
	case EventTypePaymentDropped:
		return PaymentDropped{
			OrderNumber: data.OrderNumber,
			PaymentID:   data.PaymentID,
		}, nil
	case EventTypeRefundSucceeded:
		return RefundSucceeded{
			OrderNumber: data.OrderNumber,
			PaymentID:   data.PaymentID,
			RefundID:    data.RefundID,
			Amount:      data.Amount,
		}, nil
	case EventTypeRefundFailed:
		return RefundFailed{
			OrderNumber: data.OrderNumber,
			PaymentID:   data.PaymentID,
			RefundID:    data.RefundID,
			Reason:      data.Reason,
		}, nil
	}
	return UnknownEvent{Type: eventType, Raw: envelope.Data}, nil
}
