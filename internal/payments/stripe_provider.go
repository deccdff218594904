package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger receives structured events from the Stripe adapter.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
	refunds  stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider. Clients overrides
// the live API, for tests.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Clients   *stripeClients
}

// StripeProvider drives Stripe hosted checkout sessions and refunds.
type StripeProvider struct {
	clients stripeClients
	account string
	clock   func() time.Time
	logger  StripeLogger
}

func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	clients := stripeClients{}
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients.sessions = sc.CheckoutSessions
		clients.refunds = sc.Refunds
	}
	if clients.sessions == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		clients: clients,
		account: strings.TrimSpace(cfg.AccountID),
		clock:   func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// CreateCheckoutSession opens a hosted checkout session. Order identity
// rides in the session and payment intent metadata so the webhook
// ingester can map the payment back to the order.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("stripe: provider is nil")
	}

	metadata := sessionMetadata(req)
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems:  sessionLineItems(req),
	}
	params.Context = ctx
	p.stampParams(&params.Params, req.IdempotencyKey)
	if req.CustomerID != "" {
		params.ClientReferenceID = stripe.String(req.CustomerID)
	}
	if req.ExpiresIn > 0 {
		params.ExpiresAt = stripe.Int64(p.clock().Add(req.ExpiresIn).Unix())
	}
	if len(metadata) > 0 {
		params.Metadata = metadata
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: metadata}
	}

	session, err := p.clients.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	intentID := ""
	if session.PaymentIntent != nil {
		intentID = session.PaymentIntent.ID
	}
	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId":     session.ID,
		"paymentIntent": intentID,
		"orderNumber":   req.OrderNumber,
		"currency":      session.Currency,
	})

	expiresAt := p.clock().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return CheckoutSession{
		ID:          session.ID,
		Provider:    "stripe",
		RedirectURL: session.URL,
		IntentID:    intentID,
		ExpiresAt:   expiresAt,
	}, nil
}

// Refund returns a captured payment, fully or for the given amount.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if p == nil {
		return RefundResult{}, errors.New("stripe: provider is nil")
	}

	params := &stripe.RefundParams{PaymentIntent: stripe.String(req.PaymentID)}
	params.Context = ctx
	p.stampParams(&params.Params, req.IdempotencyKey)
	if req.Amount != nil {
		params.Amount = stripe.Int64(*req.Amount)
	}
	if reason := stripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	refund, err := p.clients.refunds.New(params)
	if err != nil {
		return RefundResult{}, fmt.Errorf("stripe: refund payment: %w", err)
	}
	p.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"paymentIntent": req.PaymentID,
		"refundId":      refund.ID,
	})

	status := StatusPending
	switch refund.Status {
	case stripe.RefundStatusSucceeded:
		status = StatusRefunded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		status = StatusFailed
	}
	return RefundResult{RefundID: refund.ID, Status: status, Amount: refund.Amount}, nil
}

func (p *StripeProvider) stampParams(params *stripe.Params, idempotencyKey string) {
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
}

func sessionMetadata(req CheckoutSessionRequest) map[string]string {
	metadata := make(map[string]string, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.OrderID != "" {
		metadata["orderId"] = req.OrderID
	}
	if req.OrderNumber != "" {
		metadata["orderNumber"] = req.OrderNumber
	}
	return metadata
}

func sessionLineItems(req CheckoutSessionRequest) []*stripe.CheckoutSessionLineItemParams {
	if len(req.Items) == 0 {
		// Single aggregate line keeps the session valid when the order
		// snapshot carried no line detail.
		name := req.OrderNumber
		if strings.TrimSpace(name) == "" {
			name = "Order"
		}
		return []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
			},
		}}
	}

	lines := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		currency := item.Currency
		if strings.TrimSpace(currency) == "" {
			currency = req.Currency
		}
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(currency)),
				UnitAmount: stripe.Int64(item.UnitPrice),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.ProductID != "" {
			line.PriceData.ProductData.Metadata = map[string]string{"productId": item.ProductID}
		}
		lines = append(lines, line)
	}
	return lines
}

func stripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
