package models

import (
	"errors"
	"fmt"
)

var (
	ErrRequestNotFound      = errors.New("requested service request does not exist")
	ErrOfferNotFound        = errors.New("requested offer does not exist")
	ErrVendorNotFound       = errors.New("requested vendor does not exist")
	ErrVendorExists         = errors.New("vendor with this email is already registered")
	ErrRequestClosed        = errors.New("request closed")
	ErrOfferNotAccepted     = errors.New("only accepted offers can be paid")
	ErrOfferPaid            = errors.New("already paid")
	ErrUnauthenticated      = errors.New("caller identity is missing")
	ErrForbidden            = errors.New("caller has no permission for this operation")
	ErrWebhookSignature     = errors.New("webhook signature verification failed")
	ErrWebhookNotConfigured = errors.New("webhook signing secret is not configured")
	ErrPaymentUpstream      = errors.New("payment provider request failed")
)

// EligibilityError rejects a vendor-originated mutation and names the vendor's
// current approval state so the caller can tell what is missing.
type EligibilityError struct {
	ApplicationStatus ApplicationStatus
	ContractAccepted  bool
	TrainingCompleted bool
}

func (e *EligibilityError) Error() string {
	return fmt.Sprintf("vendor not eligible: application status %q, contract accepted: %t, training completed: %t",
		e.ApplicationStatus, e.ContractAccepted, e.TrainingCompleted)
}

func NewEligibilityError(v Vendor) *EligibilityError {
	return &EligibilityError{
		ApplicationStatus: v.ApplicationStatus,
		ContractAccepted:  v.ContractAccepted,
		TrainingCompleted: v.TrainingCompleted,
	}
}
