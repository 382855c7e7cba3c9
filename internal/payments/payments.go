// Package payments integrates the hosted Stripe Checkout flow: creating
// checkout sessions for accepted offers and verifying the webhook events
// Stripe sends back.
package payments

import "math"

// CheckoutInput carries everything needed to open a checkout session for an
// accepted offer.
type CheckoutInput struct {
	RequestId       string
	OfferId         string
	VendorName      string
	CustomerEmail   string
	Price           float64
	PayoutAccountId string // empty when the vendor has no connected account
	SuccessURL      string
	CancelURL       string
}

// Session is a reference to a created checkout session.
type Session struct {
	Id  string
	URL string
}

type EventKind string

const (
	EventCheckoutCompleted EventKind = "checkout_completed"
	EventCheckoutExpired   EventKind = "checkout_expired"
	EventUnhandled         EventKind = "unhandled"
)

// Event is a verified webhook notification reduced to the fields the offer
// lifecycle needs.
type Event struct {
	Kind       EventKind
	Type       string // raw provider event type, for logging
	RequestId  string
	OfferId    string
	SessionId  string
	PaymentRef string
}

// MinorUnits converts a major-unit price to integer minor units.
func MinorUnits(price float64) int64 {
	return int64(math.Round(price * 100))
}

// CommissionFee computes the platform cut of an amount in minor units.
func CommissionFee(amountMinor int64, percent float64) int64 {
	return int64(math.Round(float64(amountMinor) * percent / 100))
}
