package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"eventmarket/internal/models"
	"eventmarket/internal/payments"
)

// Store is the persistence surface of the lifecycle engine. It is satisfied
// by *repository.Repository and by the in-memory fake used in tests.
type Store interface {
	AddRequest(ctx context.Context, r models.ServiceRequest) (models.ServiceRequest, error)
	GetRequests(ctx context.Context, customerEmail string, onlyOpen bool) ([]models.ServiceRequest, error)
	GetRequestByUUID(ctx context.Context, UUID string) (models.ServiceRequest, error)
	ExpireStaleRequests(ctx context.Context, now time.Time) (int, error)

	AddOffer(ctx context.Context, o models.VendorOffer) (models.VendorOffer, error)
	GetOfferByUUID(ctx context.Context, requestId, offerId string) (models.VendorOffer, error)
	UpdateOfferStatus(ctx context.Context, offerId string, status models.OfferStatus) error
	AcceptOffer(ctx context.Context, requestId, offerId string, now time.Time) error
	SetOfferCheckoutPending(ctx context.Context, offerId, sessionId string) error
	MarkOfferPaid(ctx context.Context, requestId, offerId, sessionId, paymentRef string, paidAt time.Time) (bool, error)
	MarkOfferPaymentFailed(ctx context.Context, requestId, offerId string) (bool, error)

	AddVendor(ctx context.Context, v models.Vendor) (models.Vendor, error)
	GetVendorByUUID(ctx context.Context, UUID string) (models.Vendor, error)
	GetVendorByEmail(ctx context.Context, email string) (models.Vendor, bool, error)
	UpdateVendor(ctx context.Context, vendorId string, patch models.VendorPatch) (models.Vendor, error)
}

// PaymentProvider is the processor surface: hosted checkout session creation
// and webhook verification.
type PaymentProvider interface {
	CreateCheckoutSession(ctx context.Context, in payments.CheckoutInput) (payments.Session, error)
	VerifyWebhook(payload []byte, signature string) (payments.Event, error)
}

type Service struct {
	store    Store
	payments PaymentProvider
	log      *slog.Logger
	now      func() time.Time
}

func NewService(store Store, provider PaymentProvider, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		payments: provider,
		log:      log,
		now:      time.Now,
	}
}

//// Requests

func (s *Service) CreateRequest(ctx context.Context, request models.ServiceRequest, offerResponseHours *float64) (models.ServiceRequest, error) {
	now := s.now().UTC()

	request.OfferResponseHours = models.ClampOfferResponseHours(offerResponseHours)
	request.CreatedAt = now
	request.ExpiresAt = now.Add(time.Duration(request.OfferResponseHours) * time.Hour)

	request, err := s.store.AddRequest(ctx, request)
	if err != nil {
		return models.ServiceRequest{}, fmt.Errorf("service.Service.CreateRequest: %w", err)
	}

	s.log.Info("request created", "requestId", request.Id, "expiresAt", request.ExpiresAt)
	return request, nil
}

func (s *Service) ListRequests(ctx context.Context, customerEmail string) ([]models.ServiceRequest, error) {
	// expire overdue requests before listing
	err := s.expireStale(ctx)
	if err != nil {
		return nil, fmt.Errorf("service.Service.ListRequests: %w", err)
	}

	requests, err := s.store.GetRequests(ctx, customerEmail, false)
	if err != nil {
		return nil, fmt.Errorf("service.Service.ListRequests: %w", err)
	}

	return requests, nil
}

func (s *Service) ListOpenRequests(ctx context.Context) ([]models.ServiceRequest, error) {
	// expire overdue requests before listing
	err := s.expireStale(ctx)
	if err != nil {
		return nil, fmt.Errorf("service.Service.ListOpenRequests: %w", err)
	}

	requests, err := s.store.GetRequests(ctx, "", true)
	if err != nil {
		return nil, fmt.Errorf("service.Service.ListOpenRequests: %w", err)
	}

	return requests, nil
}

func (s *Service) expireStale(ctx context.Context) error {
	count, err := s.store.ExpireStaleRequests(ctx, s.now().UTC())
	if err != nil {
		return fmt.Errorf("service.Service.expireStale: %w", err)
	}
	if count > 0 {
		s.log.Info("stale requests expired", "count", count)
	}
	return nil
}

//// Offers

func (s *Service) CreateOffer(ctx context.Context, offer models.VendorOffer) (models.VendorOffer, error) {
	// check if request exists
	request, err := s.store.GetRequestByUUID(ctx, offer.RequestId)
	if errors.Is(err, sql.ErrNoRows) {
		return models.VendorOffer{}, fmt.Errorf("service.Service.CreateOffer: %w", models.ErrRequestNotFound)
	} else if err != nil {
		return models.VendorOffer{}, fmt.Errorf("service.Service.CreateOffer: %w", err)
	}

	// check if request is still taking offers, an overdue one counts as
	// closed even before the sweep has run
	if request.Status != models.RequestOpen || request.Expired(s.now().UTC()) {
		return models.VendorOffer{}, fmt.Errorf("service.Service.CreateOffer: %w", models.ErrRequestClosed)
	}

	// gate offers that carry a vendor identity, anonymous ones pass
	if offer.VendorEmail != "" {
		vendor, ok, err := s.store.GetVendorByEmail(ctx, offer.VendorEmail)
		if err != nil {
			return models.VendorOffer{}, fmt.Errorf("service.Service.CreateOffer: %w", err)
		}
		if !ok {
			return models.VendorOffer{}, fmt.Errorf("service.Service.CreateOffer: %w", models.NewEligibilityError(models.Vendor{}))
		}
		if !vendor.CanOffer() {
			return models.VendorOffer{}, fmt.Errorf("service.Service.CreateOffer: %w", models.NewEligibilityError(vendor))
		}
	}

	offer, err = s.store.AddOffer(ctx, offer)
	if err != nil {
		return models.VendorOffer{}, fmt.Errorf("service.Service.CreateOffer: %w", err)
	}

	s.log.Info("offer submitted", "requestId", offer.RequestId, "offerId", offer.Id, "vendor", offer.VendorName)
	return offer, nil
}

func (s *Service) SetOfferStatus(ctx context.Context, requestId, offerId string, status models.OfferStatus, actor models.Actor) (models.VendorOffer, error) {
	// check if request exists
	request, err := s.store.GetRequestByUUID(ctx, requestId)
	if errors.Is(err, sql.ErrNoRows) {
		return models.VendorOffer{}, fmt.Errorf("service.Service.SetOfferStatus: %w", models.ErrRequestNotFound)
	} else if err != nil {
		return models.VendorOffer{}, fmt.Errorf("service.Service.SetOfferStatus: %w", err)
	}

	// admins act on any request, customers only on their own
	if !actor.Admin {
		if actor.Email == "" {
			return models.VendorOffer{}, fmt.Errorf("service.Service.SetOfferStatus: %w", models.ErrUnauthenticated)
		}
		if !strings.EqualFold(actor.Email, request.CustomerEmail) {
			return models.VendorOffer{}, fmt.Errorf("service.Service.SetOfferStatus: %w", models.ErrForbidden)
		}
	}

	// offers can only be transitioned while the request is open
	if request.Status != models.RequestOpen || request.Expired(s.now().UTC()) {
		return models.VendorOffer{}, fmt.Errorf("service.Service.SetOfferStatus: %w", models.ErrRequestClosed)
	}

	// check if offer exists
	offer, err := s.store.GetOfferByUUID(ctx, requestId, offerId)
	if errors.Is(err, sql.ErrNoRows) {
		return models.VendorOffer{}, fmt.Errorf("service.Service.SetOfferStatus: %w", models.ErrOfferNotFound)
	} else if err != nil {
		return models.VendorOffer{}, fmt.Errorf("service.Service.SetOfferStatus: %w", err)
	}

	// paid offers are frozen
	if offer.PaymentStatus == models.PaymentPaid {
		return models.VendorOffer{}, fmt.Errorf("service.Service.SetOfferStatus: %w", models.ErrOfferPaid)
	}

	// accept closes the request and ignores pending siblings in one
	// transaction, any other transition touches the single offer row
	if status == models.OfferAccepted {
		err = s.store.AcceptOffer(ctx, requestId, offerId, s.now().UTC())
	} else {
		err = s.store.UpdateOfferStatus(ctx, offerId, status)
	}
	if err != nil {
		return models.VendorOffer{}, fmt.Errorf("service.Service.SetOfferStatus: %w", err)
	}

	offer, err = s.store.GetOfferByUUID(ctx, requestId, offerId)
	if err != nil {
		return models.VendorOffer{}, fmt.Errorf("service.Service.SetOfferStatus: %w", err)
	}

	s.log.Info("offer status changed", "requestId", requestId, "offerId", offerId, "status", status)
	return offer, nil
}

//// Vendors

func (s *Service) RegisterVendor(ctx context.Context, vendor models.Vendor) (models.VendorView, error) {
	vendor, err := s.store.AddVendor(ctx, vendor)
	if err != nil {
		return models.VendorView{}, fmt.Errorf("service.Service.RegisterVendor: %w", err)
	}

	s.log.Info("vendor registered", "vendorId", vendor.Id, "email", vendor.Email)
	return models.NewVendorView(vendor), nil
}

func (s *Service) GetVendor(ctx context.Context, vendorId string) (models.VendorView, error) {
	vendor, err := s.store.GetVendorByUUID(ctx, vendorId)
	if errors.Is(err, sql.ErrNoRows) {
		return models.VendorView{}, fmt.Errorf("service.Service.GetVendor: %w", models.ErrVendorNotFound)
	} else if err != nil {
		return models.VendorView{}, fmt.Errorf("service.Service.GetVendor: %w", err)
	}

	return models.NewVendorView(vendor), nil
}

func (s *Service) UpdateVendor(ctx context.Context, vendorId string, patch models.VendorPatch, actor models.Actor) (models.VendorView, error) {
	// approval, contract and training flags are admin-maintained
	if !actor.Admin {
		return models.VendorView{}, fmt.Errorf("service.Service.UpdateVendor: %w", models.ErrForbidden)
	}

	vendor, err := s.store.UpdateVendor(ctx, vendorId, patch)
	if errors.Is(err, sql.ErrNoRows) {
		return models.VendorView{}, fmt.Errorf("service.Service.UpdateVendor: %w", models.ErrVendorNotFound)
	} else if err != nil {
		return models.VendorView{}, fmt.Errorf("service.Service.UpdateVendor: %w", err)
	}

	s.log.Info("vendor updated", "vendorId", vendorId, "applicationStatus", vendor.ApplicationStatus)
	return models.NewVendorView(vendor), nil
}

//// Payments

func (s *Service) CreateCheckoutSession(ctx context.Context, requestId, offerId, customerEmail, successURL, cancelURL string) (payments.Session, error) {
	// check if request exists
	request, err := s.store.GetRequestByUUID(ctx, requestId)
	if errors.Is(err, sql.ErrNoRows) {
		return payments.Session{}, fmt.Errorf("service.Service.CreateCheckoutSession: %w", models.ErrRequestNotFound)
	} else if err != nil {
		return payments.Session{}, fmt.Errorf("service.Service.CreateCheckoutSession: %w", err)
	}

	// only the request owner may pay
	if !strings.EqualFold(customerEmail, request.CustomerEmail) {
		return payments.Session{}, fmt.Errorf("service.Service.CreateCheckoutSession: %w", models.ErrForbidden)
	}

	// check if offer exists
	offer, err := s.store.GetOfferByUUID(ctx, requestId, offerId)
	if errors.Is(err, sql.ErrNoRows) {
		return payments.Session{}, fmt.Errorf("service.Service.CreateCheckoutSession: %w", models.ErrOfferNotFound)
	} else if err != nil {
		return payments.Session{}, fmt.Errorf("service.Service.CreateCheckoutSession: %w", err)
	}

	// check offer state
	if offer.Status != models.OfferAccepted {
		return payments.Session{}, fmt.Errorf("service.Service.CreateCheckoutSession: %w", models.ErrOfferNotAccepted)
	}
	if offer.PaymentStatus == models.PaymentPaid {
		return payments.Session{}, fmt.Errorf("service.Service.CreateCheckoutSession: %w", models.ErrOfferPaid)
	}

	// the charge is split only when the vendor has a connected payout account
	payoutAccount := ""
	if offer.VendorEmail != "" {
		vendor, ok, err := s.store.GetVendorByEmail(ctx, offer.VendorEmail)
		if err != nil {
			return payments.Session{}, fmt.Errorf("service.Service.CreateCheckoutSession: %w", err)
		}
		if ok {
			payoutAccount = vendor.PayoutAccountId
		}
	}

	session, err := s.payments.CreateCheckoutSession(ctx, payments.CheckoutInput{
		RequestId:       requestId,
		OfferId:         offerId,
		VendorName:      offer.VendorName,
		CustomerEmail:   request.CustomerEmail,
		Price:           offer.Price,
		PayoutAccountId: payoutAccount,
		SuccessURL:      successURL,
		CancelURL:       cancelURL,
	})
	if err != nil {
		return payments.Session{}, fmt.Errorf("service.Service.CreateCheckoutSession: %w", err)
	}

	err = s.store.SetOfferCheckoutPending(ctx, offerId, session.Id)
	if err != nil {
		return payments.Session{}, fmt.Errorf("service.Service.CreateCheckoutSession: %w", err)
	}

	s.log.Info("checkout session created", "requestId", requestId, "offerId", offerId, "sessionId", session.Id)
	return session, nil
}

// HandleWebhook verifies and applies a payment processor notification. Every
// verified event is acknowledged, including redeliveries and kinds the
// lifecycle does not act on.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.payments.VerifyWebhook(payload, signature)
	if err != nil {
		return fmt.Errorf("service.Service.HandleWebhook: %w", err)
	}

	switch event.Kind {
	case payments.EventCheckoutCompleted, payments.EventCheckoutExpired:
	default:
		s.log.Debug("webhook event acknowledged without action", "type", event.Type)
		return nil
	}

	// reconcile only events that identify an offer
	if event.RequestId == "" || event.OfferId == "" {
		s.log.Warn("checkout event without offer metadata", "type", event.Type, "sessionId", event.SessionId)
		return nil
	}

	if event.Kind == payments.EventCheckoutCompleted {
		updated, err := s.store.MarkOfferPaid(ctx, event.RequestId, event.OfferId, event.SessionId, event.PaymentRef, s.now().UTC())
		if err != nil {
			return fmt.Errorf("service.Service.HandleWebhook: %w", err)
		}
		if updated {
			s.log.Info("offer paid", "requestId", event.RequestId, "offerId", event.OfferId, "paymentRef", event.PaymentRef)
		}
		return nil
	}

	updated, err := s.store.MarkOfferPaymentFailed(ctx, event.RequestId, event.OfferId)
	if err != nil {
		return fmt.Errorf("service.Service.HandleWebhook: %w", err)
	}
	if updated {
		s.log.Info("offer payment failed", "requestId", event.RequestId, "offerId", event.OfferId)
	}
	return nil
}
