package models

import (
	"math"
	"time"
)

type RequestStatus string

const (
	RequestOpen    RequestStatus = "open"
	RequestClosed  RequestStatus = "closed"
	RequestExpired RequestStatus = "expired"
)

func ValidRequestStatus(s RequestStatus) bool {
	switch s {
	case RequestOpen, RequestClosed, RequestExpired:
		return true
	default:
		return false
	}
}

type CloseReason string

const (
	CloseOfferAccepted CloseReason = "offer_accepted"
	CloseTimeLimit     CloseReason = "time_limit"
)

// Bounds of the window vendors have to respond to a request, in hours.
const (
	MinOfferResponseHours     = 1
	MaxOfferResponseHours     = 168
	DefaultOfferResponseHours = 48
)

// ClampOfferResponseHours normalizes a client-supplied response window.
// Absent or non-finite values fall back to the default, everything else is
// rounded and clamped into [MinOfferResponseHours, MaxOfferResponseHours].
func ClampOfferResponseHours(hours *float64) int {
	if hours == nil || math.IsNaN(*hours) || math.IsInf(*hours, 0) {
		return DefaultOfferResponseHours
	}
	h := int(math.Round(*hours))
	if h < MinOfferResponseHours {
		return MinOfferResponseHours
	}
	if h > MaxOfferResponseHours {
		return MaxOfferResponseHours
	}
	return h
}

type ServiceRequest struct {
	Id                 string        `json:"id"`
	CustomerName       string        `json:"customerName"`
	CustomerEmail      string        `json:"customerEmail"`
	CustomerPhone      string        `json:"customerPhone,omitempty"`
	SelectedServices   []string      `json:"selectedServices"`
	Budget             float64       `json:"budget"`
	EventDate          *time.Time    `json:"eventDate,omitempty"`
	Status             RequestStatus `json:"status"`
	OfferResponseHours int           `json:"offerResponseHours"`
	CreatedAt          time.Time     `json:"createdAt"`
	ExpiresAt          time.Time     `json:"expiresAt"`
	ClosedAt           *time.Time    `json:"closedAt,omitempty"`
	ClosedReason       *CloseReason  `json:"closedReason,omitempty"`
	Offers             []VendorOffer `json:"offers"`
}

// Expired reports whether the request's response window has passed, regardless
// of whether the sweep has already persisted the expired status.
func (r ServiceRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
