package controller

import (
	"fmt"
	"strings"
	"time"

	"eventmarket/internal/models"

	"github.com/go-playground/validator/v10"
)

// New request

type NewRequestReq struct {
	CustomerName       string     `json:"customerName" validate:"required"`
	CustomerEmail      string     `json:"customerEmail" validate:"required,email"`
	CustomerPhone      string     `json:"customerPhone"`
	SelectedServices   []string   `json:"selectedServices" validate:"required,min=1,dive,required"`
	Budget             float64    `json:"budget" validate:"required,gt=0"`
	EventDate          *time.Time `json:"eventDate"`
	OfferResponseHours *float64   `json:"offerResponseHours"`
}

func (req NewRequestReq) model() models.ServiceRequest {
	return models.ServiceRequest{
		CustomerName:     req.CustomerName,
		CustomerEmail:    req.CustomerEmail,
		CustomerPhone:    req.CustomerPhone,
		SelectedServices: req.SelectedServices,
		Budget:           req.Budget,
		EventDate:        req.EventDate,
	}
}

// New offer

type NewOfferReq struct {
	VendorName  string  `json:"vendorName" validate:"required"`
	VendorEmail string  `json:"vendorEmail" validate:"omitempty,email"`
	Price       float64 `json:"price" validate:"required,gt=0"`
	Message     string  `json:"message"`
}

// Offer status change

type OfferStatusReq struct {
	Status        string `json:"status" validate:"required"`
	CustomerEmail string `json:"customerEmail" validate:"omitempty,email"`
}

// Vendor registration and moderation

type NewVendorReq struct {
	Name            string `json:"name" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	PayoutAccountId string `json:"payoutAccountId"`
}

type VendorUpdateReq struct {
	ApplicationStatus *string `json:"applicationStatus"`
	ContractAccepted  *bool   `json:"contractAccepted"`
	TrainingCompleted *bool   `json:"trainingCompleted"`
	PayoutAccountId   *string `json:"payoutAccountId"`
}

// Checkout

type CheckoutReq struct {
	RequestId     string `json:"requestId" validate:"required"`
	OfferId       string `json:"offerId" validate:"required"`
	CustomerEmail string `json:"customerEmail" validate:"required,email"`
	SuccessURL    string `json:"successUrl" validate:"required,url"`
	CancelURL     string `json:"cancelUrl" validate:"required,url"`
}

type CheckoutResp struct {
	SessionId string `json:"sessionId"`
	URL       string `json:"url"`
}

type WebhookResp struct {
	Received bool `json:"received"`
}

func validationReason(errs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(errs))

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("field %s is not a valid email", err.Field()))
		case "url":
			msgs = append(msgs, fmt.Sprintf("field %s is not a valid URL", err.Field()))
		case "gt":
			msgs = append(msgs, fmt.Sprintf("field %s must be greater than %s", err.Field(), err.Param()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("field %s must not be empty", err.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is not valid", err.Field()))
		}
	}

	return strings.Join(msgs, ", ")
}
