package payments

import (
	"context"
	"encoding/json"
	"fmt"

	"eventmarket/internal/config"
	"eventmarket/internal/models"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

type StripeProvider struct {
	cfg *config.PaymentsConfig
}

func NewStripeProvider(cfg *config.PaymentsConfig) *StripeProvider {
	stripe.Key = cfg.StripeKey
	return &StripeProvider{cfg: cfg}
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, in CheckoutInput) (Session, error) {
	params := buildSessionParams(in, p.cfg.CommissionPercent, p.cfg.Currency)
	params.Context = ctx

	s, err := session.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("payments.StripeProvider.CreateCheckoutSession: %w: %v", models.ErrPaymentUpstream, err)
	}

	return Session{Id: s.ID, URL: s.URL}, nil
}

func buildSessionParams(in CheckoutInput, commissionPercent float64, currency string) *stripe.CheckoutSessionParams {
	amount := MinorUnits(in.Price)

	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:    stripe.String(in.SuccessURL),
		CancelURL:     stripe.String(in.CancelURL),
		CustomerEmail: stripe.String(in.CustomerEmail),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(fmt.Sprintf("Offer from %s", in.VendorName)),
				},
			},
		}},
	}

	// split the charge only for vendors with a connected payout account
	if in.PayoutAccountId != "" {
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			ApplicationFeeAmount: stripe.Int64(CommissionFee(amount, commissionPercent)),
			TransferData: &stripe.CheckoutSessionPaymentIntentDataTransferDataParams{
				Destination: stripe.String(in.PayoutAccountId),
			},
		}
	}

	params.AddMetadata("requestId", in.RequestId)
	params.AddMetadata("offerId", in.OfferId)

	return params
}

// VerifyWebhook checks the Stripe-Signature header against the raw request
// body and reduces the event to the fields the offer lifecycle acts on.
func (p *StripeProvider) VerifyWebhook(payload []byte, signature string) (Event, error) {
	if p.cfg.WebhookSecret == "" {
		return Event{}, fmt.Errorf("payments.StripeProvider.VerifyWebhook: %w", models.ErrWebhookNotConfigured)
	}

	stripeEvent, err := webhook.ConstructEventWithOptions(payload, signature, p.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("payments.StripeProvider.VerifyWebhook: %w: %v", models.ErrWebhookSignature, err)
	}

	return reduceEvent(stripeEvent)
}

func reduceEvent(stripeEvent stripe.Event) (Event, error) {
	event := Event{Kind: EventUnhandled, Type: string(stripeEvent.Type)}

	switch stripeEvent.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		event.Kind = EventCheckoutCompleted
	case stripe.EventTypeCheckoutSessionExpired:
		event.Kind = EventCheckoutExpired
	default:
		return event, nil
	}

	if stripeEvent.Data == nil {
		return event, fmt.Errorf("payments.reduceEvent: event %s carries no data object", stripeEvent.ID)
	}

	var checkout stripe.CheckoutSession
	err := json.Unmarshal(stripeEvent.Data.Raw, &checkout)
	if err != nil {
		return event, fmt.Errorf("payments.reduceEvent: %w", err)
	}

	event.SessionId = checkout.ID
	event.RequestId = checkout.Metadata["requestId"]
	event.OfferId = checkout.Metadata["offerId"]
	if checkout.PaymentIntent != nil {
		event.PaymentRef = checkout.PaymentIntent.ID
	}

	return event, nil
}
