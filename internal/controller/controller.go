package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"eventmarket/internal/models"
	"eventmarket/internal/payments"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Service interface {
	CreateRequest(ctx context.Context, request models.ServiceRequest, offerResponseHours *float64) (models.ServiceRequest, error)
	ListRequests(ctx context.Context, customerEmail string) ([]models.ServiceRequest, error)
	ListOpenRequests(ctx context.Context) ([]models.ServiceRequest, error)

	CreateOffer(ctx context.Context, offer models.VendorOffer) (models.VendorOffer, error)
	SetOfferStatus(ctx context.Context, requestId, offerId string, status models.OfferStatus, actor models.Actor) (models.VendorOffer, error)

	RegisterVendor(ctx context.Context, vendor models.Vendor) (models.VendorView, error)
	GetVendor(ctx context.Context, vendorId string) (models.VendorView, error)
	UpdateVendor(ctx context.Context, vendorId string, patch models.VendorPatch, actor models.Actor) (models.VendorView, error)

	CreateCheckoutSession(ctx context.Context, requestId, offerId, customerEmail, successURL, cancelURL string) (payments.Session, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// AdminAuth resolves whether a request carries admin credentials.
type AdminAuth interface {
	IsAdmin(r *http.Request) bool
}

type Controller struct {
	service  Service
	admin    AdminAuth
	validate *validator.Validate
}

func NewController(service Service, admin AdminAuth) *Controller {
	return &Controller{
		service:  service,
		admin:    admin,
		validate: validator.New(),
	}
}

//// Requests

// GET /api/ping
func (c *Controller) Ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

// POST /api/requests
func (c *Controller) NewRequest(w http.ResponseWriter, r *http.Request) {
	var req NewRequestReq
	err := c.decodeValid(r, &req)
	if err != nil {
		c.errorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	request, err := c.service.CreateRequest(r.Context(), req.model(), req.OfferResponseHours)
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, request)
}

// GET /api/requests
func (c *Controller) GetRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := c.service.ListRequests(r.Context(), r.URL.Query().Get("customerEmail"))
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	render.JSON(w, r, requests)
}

// GET /api/requests/open
func (c *Controller) GetOpenRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := c.service.ListOpenRequests(r.Context())
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	render.JSON(w, r, requests)
}

//// Offers

// POST /api/requests/{requestId}/offers
func (c *Controller) NewOffer(w http.ResponseWriter, r *http.Request) {
	requestId := chi.URLParam(r, "requestId")
	if len(requestId) == 0 {
		c.errorResponse(w, r, http.StatusBadRequest, "empty requestId supplied")
		return
	}

	var req NewOfferReq
	err := c.decodeValid(r, &req)
	if err != nil {
		c.errorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	offer, err := c.service.CreateOffer(r.Context(), models.VendorOffer{
		RequestId:   requestId,
		VendorName:  req.VendorName,
		VendorEmail: req.VendorEmail,
		Price:       req.Price,
		Message:     req.Message,
	})
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, offer)
}

// PATCH /api/requests/{requestId}/offers/{offerId}
func (c *Controller) SetOfferStatus(w http.ResponseWriter, r *http.Request) {
	requestId := chi.URLParam(r, "requestId")
	if len(requestId) == 0 {
		c.errorResponse(w, r, http.StatusBadRequest, "empty requestId supplied")
		return
	}

	offerId := chi.URLParam(r, "offerId")
	if len(offerId) == 0 {
		c.errorResponse(w, r, http.StatusBadRequest, "empty offerId supplied")
		return
	}

	var req OfferStatusReq
	err := c.decodeValid(r, &req)
	if err != nil {
		c.errorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	status := models.OfferStatus(req.Status)
	if !models.ValidOfferStatus(status) {
		c.errorResponse(w, r, http.StatusBadRequest, "invalid status supplied: "+req.Status)
		return
	}

	offer, err := c.service.SetOfferStatus(r.Context(), requestId, offerId, status, c.actor(r, req.CustomerEmail))
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	render.JSON(w, r, offer)
}

//// Vendors

// POST /api/vendors
func (c *Controller) NewVendor(w http.ResponseWriter, r *http.Request) {
	var req NewVendorReq
	err := c.decodeValid(r, &req)
	if err != nil {
		c.errorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	vendor, err := c.service.RegisterVendor(r.Context(), models.Vendor{
		Name:            req.Name,
		Email:           req.Email,
		PayoutAccountId: req.PayoutAccountId,
	})
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, vendor)
}

// GET /api/vendors/{vendorId}
func (c *Controller) GetVendor(w http.ResponseWriter, r *http.Request) {
	vendorId := chi.URLParam(r, "vendorId")
	if len(vendorId) == 0 {
		c.errorResponse(w, r, http.StatusBadRequest, "empty vendorId supplied")
		return
	}

	vendor, err := c.service.GetVendor(r.Context(), vendorId)
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	render.JSON(w, r, vendor)
}

// PATCH /api/vendors/{vendorId}
func (c *Controller) UpdateVendor(w http.ResponseWriter, r *http.Request) {
	vendorId := chi.URLParam(r, "vendorId")
	if len(vendorId) == 0 {
		c.errorResponse(w, r, http.StatusBadRequest, "empty vendorId supplied")
		return
	}

	var req VendorUpdateReq
	err := c.decodeValid(r, &req)
	if err != nil {
		c.errorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	patch := models.VendorPatch{
		ContractAccepted:  req.ContractAccepted,
		TrainingCompleted: req.TrainingCompleted,
		PayoutAccountId:   req.PayoutAccountId,
	}
	if req.ApplicationStatus != nil {
		status := models.ApplicationStatus(*req.ApplicationStatus)
		if !models.ValidApplicationStatus(status) {
			c.errorResponse(w, r, http.StatusBadRequest, "invalid applicationStatus supplied: "+*req.ApplicationStatus)
			return
		}
		patch.ApplicationStatus = &status
	}

	vendor, err := c.service.UpdateVendor(r.Context(), vendorId, patch, c.actor(r, ""))
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	render.JSON(w, r, vendor)
}

//// Payments

// POST /api/payments/checkout-session
func (c *Controller) NewCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req CheckoutReq
	err := c.decodeValid(r, &req)
	if err != nil {
		c.errorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	session, err := c.service.CreateCheckoutSession(r.Context(), req.RequestId, req.OfferId, req.CustomerEmail, req.SuccessURL, req.CancelURL)
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	render.JSON(w, r, CheckoutResp{SessionId: session.Id, URL: session.URL})
}

// POST /api/payments/webhook
func (c *Controller) Webhook(w http.ResponseWriter, r *http.Request) {
	// the signature covers the raw body, read it before any parsing
	payload, err := c.readBody(r.Body)
	if err != nil {
		c.errorResponse(w, r, http.StatusInternalServerError, "could not read request body")
		return
	}

	err = c.service.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		c.serviceErrorResponse(w, r, err)
		return
	}

	render.JSON(w, r, WebhookResp{Received: true})
}

// Service

type ErrorResponse struct {
	Reason string `json:"reason"`
}

func (c *Controller) actor(r *http.Request, email string) models.Actor {
	return models.Actor{Email: email, Admin: c.admin.IsAdmin(r)}
}

func (c *Controller) decodeValid(r *http.Request, req any) error {
	err := render.DecodeJSON(r.Body, req)
	if err != nil {
		return errors.New("could not parse json body")
	}

	err = c.validate.Struct(req)
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return errors.New(validationReason(verrs))
		}
		return err
	}

	return nil
}

func (c *Controller) errorResponse(w http.ResponseWriter, r *http.Request, status int, text string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Reason: text})
}

func (c *Controller) serviceErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	var eligibility *models.EligibilityError

	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		c.errorResponse(w, r, http.StatusUnauthorized, models.ErrUnauthenticated.Error())
	case errors.Is(err, models.ErrForbidden):
		c.errorResponse(w, r, http.StatusForbidden, models.ErrForbidden.Error())
	case errors.As(err, &eligibility):
		c.errorResponse(w, r, http.StatusForbidden, eligibility.Error())
	case errors.Is(err, models.ErrRequestNotFound):
		c.errorResponse(w, r, http.StatusNotFound, models.ErrRequestNotFound.Error())
	case errors.Is(err, models.ErrOfferNotFound):
		c.errorResponse(w, r, http.StatusNotFound, models.ErrOfferNotFound.Error())
	case errors.Is(err, models.ErrVendorNotFound):
		c.errorResponse(w, r, http.StatusNotFound, models.ErrVendorNotFound.Error())
	case errors.Is(err, models.ErrRequestClosed):
		c.errorResponse(w, r, http.StatusBadRequest, models.ErrRequestClosed.Error())
	case errors.Is(err, models.ErrOfferNotAccepted):
		c.errorResponse(w, r, http.StatusBadRequest, models.ErrOfferNotAccepted.Error())
	case errors.Is(err, models.ErrOfferPaid):
		c.errorResponse(w, r, http.StatusBadRequest, models.ErrOfferPaid.Error())
	case errors.Is(err, models.ErrVendorExists):
		c.errorResponse(w, r, http.StatusConflict, models.ErrVendorExists.Error())
	case errors.Is(err, models.ErrWebhookSignature):
		c.errorResponse(w, r, http.StatusBadRequest, models.ErrWebhookSignature.Error())
	case errors.Is(err, models.ErrWebhookNotConfigured):
		c.errorResponse(w, r, http.StatusBadRequest, models.ErrWebhookNotConfigured.Error())
	case errors.Is(err, models.ErrPaymentUpstream):
		c.errorResponse(w, r, http.StatusBadGateway, models.ErrPaymentUpstream.Error())
	default:
		slog.Error("controller: unexpected service error", "error", err)
		c.errorResponse(w, r, http.StatusInternalServerError, "internal server error")
	}
}

func (c *Controller) readBody(src io.ReadCloser) ([]byte, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	src.Close()
	return data, nil
}
