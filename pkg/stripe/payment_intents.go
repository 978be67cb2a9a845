package stripe

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
)

// PaymentIntentClient exposes the PaymentIntent calls the card rail needs.
type PaymentIntentClient interface {
	Create(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type paymentIntentWrapper struct{}

// NewPaymentIntentClient returns a PaymentIntent client backed by the configured Stripe key.
func NewPaymentIntentClient(api *Client) PaymentIntentClient {
	if api == nil {
		return nil
	}
	return &paymentIntentWrapper{}
}

func (w *paymentIntentWrapper) Create(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if params != nil {
		params.Context = ctx
	}
	return paymentintent.New(params)
}

// CardSnapshot extracts brand and last4 from whichever card details the intent carries.
// Both are empty when neither the charge nor the payment method was expanded.
func CardSnapshot(pi *stripe.PaymentIntent) (brand, last4 string) {
	if pi == nil {
		return "", ""
	}
	if pi.LatestCharge != nil && pi.LatestCharge.PaymentMethodDetails != nil && pi.LatestCharge.PaymentMethodDetails.Card != nil {
		card := pi.LatestCharge.PaymentMethodDetails.Card
		return string(card.Brand), card.Last4
	}
	if pi.PaymentMethod != nil && pi.PaymentMethod.Card != nil {
		return string(pi.PaymentMethod.Card.Brand), pi.PaymentMethod.Card.Last4
	}
	return "", ""
}
