package models

import "time"

type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferDeclined OfferStatus = "declined"
	OfferIgnored  OfferStatus = "ignored"
)

func ValidOfferStatus(s OfferStatus) bool {
	switch s {
	case OfferPending, OfferAccepted, OfferDeclined, OfferIgnored:
		return true
	default:
		return false
	}
}

type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

func ValidPaymentStatus(s PaymentStatus) bool {
	switch s {
	case PaymentUnpaid, PaymentPending, PaymentPaid, PaymentFailed:
		return true
	default:
		return false
	}
}

type VendorOffer struct {
	Id                string        `json:"id"`
	RequestId         string        `json:"requestId"`
	VendorName        string        `json:"vendorName"`
	VendorEmail       string        `json:"vendorEmail,omitempty"`
	Price             float64       `json:"price"`
	Message           string        `json:"message,omitempty"`
	Status            OfferStatus   `json:"status"`
	PaymentStatus     PaymentStatus `json:"paymentStatus"`
	CheckoutSessionId string        `json:"checkoutSessionId,omitempty"`
	PaymentRef        string        `json:"paymentRef,omitempty"`
	PaidAt            *time.Time    `json:"paidAt,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"-"`
}
