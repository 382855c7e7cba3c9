package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"eventmarket/internal/models"
	"eventmarket/internal/payments"

	"github.com/google/uuid"
)

const EmptyUUID = "00000000-0000-0000-0000-000000000000"

var testNow = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

//// Requests

func TestCreateRequest(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := NewTestService(testNow)

	hours := func(v float64) *float64 { return &v }

	request, err := svc.CreateRequest(ctx, models.ServiceRequest{
		CustomerName:     "Ana",
		CustomerEmail:    "ana@example.com",
		SelectedServices: []string{"catering"},
		Budget:           1000,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if request.Id == "" {
		t.Error("created request should receive an id")
	}
	if request.Status != models.RequestOpen {
		t.Errorf("created request should be open, got '%s'", request.Status)
	}
	if request.OfferResponseHours != models.DefaultOfferResponseHours {
		t.Errorf("absent response window should fall back to %d hours, got %d", models.DefaultOfferResponseHours, request.OfferResponseHours)
	}
	if !request.CreatedAt.Equal(testNow) {
		t.Errorf("expected createdAt %s, got %s", testNow, request.CreatedAt)
	}
	if !request.ExpiresAt.Equal(testNow.Add(48 * time.Hour)) {
		t.Errorf("expected expiresAt 48h after creation, got %s", request.ExpiresAt)
	}

	request, err = svc.CreateRequest(ctx, models.ServiceRequest{CustomerEmail: "ana@example.com"}, hours(200))
	if err != nil {
		t.Fatal(err)
	}
	if request.OfferResponseHours != models.MaxOfferResponseHours {
		t.Errorf("oversized response window should clamp to %d hours, got %d", models.MaxOfferResponseHours, request.OfferResponseHours)
	}

	request, err = svc.CreateRequest(ctx, models.ServiceRequest{CustomerEmail: "ana@example.com"}, hours(0.4))
	if err != nil {
		t.Fatal(err)
	}
	if request.OfferResponseHours != models.MinOfferResponseHours {
		t.Errorf("undersized response window should clamp to %d hour, got %d", models.MinOfferResponseHours, request.OfferResponseHours)
	}
}

func TestListRequestsSweepsStale(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := NewTestService(testNow)

	window := 1.0
	request, err := svc.CreateRequest(ctx, models.ServiceRequest{
		CustomerName:     "Ana",
		CustomerEmail:    "ana@example.com",
		SelectedServices: []string{"catering"},
		Budget:           1000,
	}, &window)
	if err != nil {
		t.Fatal(err)
	}
	AddPendingOffer(t, svc, request.Id, "")

	// move past the response window
	later := testNow.Add(2 * time.Hour)
	svc.now = func() time.Time { return later }

	requests, err := svc.ListRequests(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(requests))
	}
	if requests[0].Status != models.RequestExpired {
		t.Errorf("overdue request should be swept to expired, got '%s'", requests[0].Status)
	}
	if requests[0].ClosedReason == nil || *requests[0].ClosedReason != models.CloseTimeLimit {
		t.Error("swept request should carry the time_limit close reason")
	}
	if requests[0].ClosedAt == nil || !requests[0].ClosedAt.Equal(later) {
		t.Error("swept request should record when the sweep closed it")
	}
	if len(requests[0].Offers) != 1 || requests[0].Offers[0].Status != models.OfferIgnored {
		t.Error("pending offers of a swept request should become ignored")
	}

	open, err := svc.ListOpenRequests(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 0 {
		t.Errorf("expired request should not appear on the open board, got %d entries", len(open))
	}

	// the sweep is idempotent, a second listing leaves the record untouched
	swept := *store.requests[request.Id]
	svc.now = func() time.Time { return testNow.Add(3 * time.Hour) }
	if _, err = svc.ListRequests(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if !store.requests[request.Id].ClosedAt.Equal(*swept.ClosedAt) {
		t.Error("second sweep should not touch an already expired request")
	}
}

func TestListRequestsOwnerFilter(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := NewTestService(testNow)

	AddOpenRequest(t, svc, "ana@example.com")
	AddOpenRequest(t, svc, "ben@example.com")

	requests, err := svc.ListRequests(ctx, "ANA@EXAMPLE.COM")
	if err != nil {
		t.Fatal(err)
	}
	if len(requests) != 1 {
		t.Fatalf("owner filter should match case-insensitively, expected 1 request, got %d", len(requests))
	}
	if requests[0].CustomerEmail != "ana@example.com" {
		t.Errorf("owner filter returned a foreign request: %s", requests[0].CustomerEmail)
	}

	requests, err = svc.ListRequests(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(requests) != 2 {
		t.Fatalf("unfiltered listing should return all requests, got %d", len(requests))
	}
}

//// Offers

func TestCreateOfferRequestChecks(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := NewTestService(testNow)

	// missing request
	_, err := svc.CreateOffer(ctx, models.VendorOffer{RequestId: EmptyUUID, VendorName: "Band"})
	if !errors.Is(err, models.ErrRequestNotFound) {
		t.Errorf("offer on a missing request should fail with ErrRequestNotFound, got %v", err)
	}

	// closed request
	request := AddOpenRequest(t, svc, "ana@example.com")
	offer := AddPendingOffer(t, svc, request.Id, "")
	if _, err = svc.SetOfferStatus(ctx, request.Id, offer.Id, models.OfferAccepted, models.Actor{Email: "ana@example.com"}); err != nil {
		t.Fatal(err)
	}
	_, err = svc.CreateOffer(ctx, models.VendorOffer{RequestId: request.Id, VendorName: "Band"})
	if !errors.Is(err, models.ErrRequestClosed) {
		t.Errorf("offer on a closed request should fail with ErrRequestClosed, got %v", err)
	}

	// overdue request that the sweep has not visited yet
	window := 1.0
	stale, err := svc.CreateRequest(ctx, models.ServiceRequest{CustomerEmail: "ben@example.com"}, &window)
	if err != nil {
		t.Fatal(err)
	}
	svc.now = func() time.Time { return testNow.Add(2 * time.Hour) }

	_, err = svc.CreateOffer(ctx, models.VendorOffer{RequestId: stale.Id, VendorName: "Band"})
	if !errors.Is(err, models.ErrRequestClosed) {
		t.Errorf("offer on an overdue request should fail with ErrRequestClosed, got %v", err)
	}
	if store.requests[stale.Id].Status != models.RequestOpen {
		t.Error("rejecting an offer must not mutate the request, the sweep owns the transition")
	}
}

func TestCreateOfferVendorGate(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := NewTestService(testNow)

	request := AddOpenRequest(t, svc, "ana@example.com")

	// anonymous offers skip the gate entirely
	offer, err := svc.CreateOffer(ctx, models.VendorOffer{RequestId: request.Id, VendorName: "Band", Price: 500})
	if err != nil {
		t.Fatal(err)
	}
	if offer.Status != models.OfferPending || offer.PaymentStatus != models.PaymentUnpaid {
		t.Errorf("new offer should start pending/unpaid, got %s/%s", offer.Status, offer.PaymentStatus)
	}

	// unregistered vendor identity
	var eligibility *models.EligibilityError
	_, err = svc.CreateOffer(ctx, models.VendorOffer{RequestId: request.Id, VendorName: "Band", VendorEmail: "ghost@example.com"})
	if !errors.As(err, &eligibility) {
		t.Fatalf("offer from an unregistered vendor should fail the eligibility gate, got %v", err)
	}

	// registered but not compliant
	vendor := AddVendor(t, store, models.Vendor{
		Name:              "Sound Co",
		Email:             "sound@example.com",
		ApplicationStatus: models.ApplicationApproved,
		ContractAccepted:  true,
	})
	_, err = svc.CreateOffer(ctx, models.VendorOffer{RequestId: request.Id, VendorName: vendor.Name, VendorEmail: vendor.Email})
	if !errors.As(err, &eligibility) {
		t.Fatalf("offer from a non-compliant vendor should fail the eligibility gate, got %v", err)
	}
	if eligibility.ApplicationStatus != models.ApplicationApproved || !eligibility.ContractAccepted || eligibility.TrainingCompleted {
		t.Errorf("eligibility error should carry the vendor's approval state, got %+v", eligibility)
	}

	// fully compliant, gate passes (email case does not matter)
	compliant := AddVendor(t, store, models.Vendor{
		Name:              "Catering Co",
		Email:             "catering@example.com",
		ApplicationStatus: models.ApplicationApproved,
		ContractAccepted:  true,
		TrainingCompleted: true,
	})
	offer, err = svc.CreateOffer(ctx, models.VendorOffer{RequestId: request.Id, VendorName: compliant.Name, VendorEmail: "CATERING@example.com", Price: 900})
	if err != nil {
		t.Fatal(err)
	}
	if offer.Id == "" || offer.Status != models.OfferPending {
		t.Errorf("compliant vendor's offer should be created pending, got %+v", offer)
	}
}

func TestSetOfferStatusAuth(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := NewTestService(testNow)

	request := AddOpenRequest(t, svc, "ana@example.com")
	offer := AddPendingOffer(t, svc, request.Id, "")

	// caller without identity
	_, err := svc.SetOfferStatus(ctx, request.Id, offer.Id, models.OfferDeclined, models.Actor{})
	if !errors.Is(err, models.ErrUnauthenticated) {
		t.Errorf("anonymous caller should fail with ErrUnauthenticated, got %v", err)
	}

	// foreign customer
	_, err = svc.SetOfferStatus(ctx, request.Id, offer.Id, models.OfferDeclined, models.Actor{Email: "ben@example.com"})
	if !errors.Is(err, models.ErrForbidden) {
		t.Errorf("foreign customer should fail with ErrForbidden, got %v", err)
	}

	// owner, case-insensitive email match
	updated, err := svc.SetOfferStatus(ctx, request.Id, offer.Id, models.OfferDeclined, models.Actor{Email: "ANA@example.COM"})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != models.OfferDeclined {
		t.Errorf("owner should be able to decline, got status '%s'", updated.Status)
	}

	// admin acts on any request
	updated, err = svc.SetOfferStatus(ctx, request.Id, offer.Id, models.OfferPending, models.Actor{Admin: true})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != models.OfferPending {
		t.Errorf("admin should be able to reopen a declined offer, got status '%s'", updated.Status)
	}
}

func TestAcceptOffer(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := NewTestService(testNow)
	owner := models.Actor{Email: "ana@example.com"}

	request := AddOpenRequest(t, svc, "ana@example.com")
	first := AddPendingOffer(t, svc, request.Id, "")
	second := AddPendingOffer(t, svc, request.Id, "")
	third := AddPendingOffer(t, svc, request.Id, "")
	declined := AddPendingOffer(t, svc, request.Id, "")

	if _, err := svc.SetOfferStatus(ctx, request.Id, declined.Id, models.OfferDeclined, owner); err != nil {
		t.Fatal(err)
	}

	accepted, err := svc.SetOfferStatus(ctx, request.Id, second.Id, models.OfferAccepted, owner)
	if err != nil {
		t.Fatal(err)
	}
	if accepted.Status != models.OfferAccepted {
		t.Errorf("expected accepted status, got '%s'", accepted.Status)
	}

	// the request closes and pending siblings are ignored, resolved ones keep their state
	if store.requests[request.Id].Status != models.RequestClosed {
		t.Errorf("accept should close the request, got '%s'", store.requests[request.Id].Status)
	}
	if store.requests[request.Id].ClosedReason == nil || *store.requests[request.Id].ClosedReason != models.CloseOfferAccepted {
		t.Error("accept should close the request with reason offer_accepted")
	}
	if store.offers[first.Id].Status != models.OfferIgnored || store.offers[third.Id].Status != models.OfferIgnored {
		t.Error("pending siblings should become ignored when an offer is accepted")
	}
	if store.offers[declined.Id].Status != models.OfferDeclined {
		t.Error("already resolved siblings should keep their state")
	}

	// a second accept sees the closed request
	_, err = svc.SetOfferStatus(ctx, request.Id, first.Id, models.OfferAccepted, owner)
	if !errors.Is(err, models.ErrRequestClosed) {
		t.Errorf("accept on a closed request should fail with ErrRequestClosed, got %v", err)
	}

	// so does any other transition
	_, err = svc.SetOfferStatus(ctx, request.Id, third.Id, models.OfferDeclined, owner)
	if !errors.Is(err, models.ErrRequestClosed) {
		t.Errorf("transition on a closed request should fail with ErrRequestClosed, got %v", err)
	}
}

func TestSetOfferStatusMissing(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := NewTestService(testNow)
	owner := models.Actor{Email: "ana@example.com"}

	_, err := svc.SetOfferStatus(ctx, EmptyUUID, EmptyUUID, models.OfferDeclined, owner)
	if !errors.Is(err, models.ErrRequestNotFound) {
		t.Errorf("expected ErrRequestNotFound, got %v", err)
	}

	request := AddOpenRequest(t, svc, "ana@example.com")
	_, err = svc.SetOfferStatus(ctx, request.Id, EmptyUUID, models.OfferDeclined, owner)
	if !errors.Is(err, models.ErrOfferNotFound) {
		t.Errorf("expected ErrOfferNotFound, got %v", err)
	}
}

func TestSetOfferStatusPaidOfferFrozen(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := NewTestService(testNow)

	request := AddOpenRequest(t, svc, "ana@example.com")
	offer := AddPendingOffer(t, svc, request.Id, "")
	store.offers[offer.Id].PaymentStatus = models.PaymentPaid

	_, err := svc.SetOfferStatus(ctx, request.Id, offer.Id, models.OfferDeclined, models.Actor{Admin: true})
	if !errors.Is(err, models.ErrOfferPaid) {
		t.Errorf("paid offers should be frozen even for admins, got %v", err)
	}
}

//// Vendors

func TestRegisterVendor(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := NewTestService(testNow)

	view, err := svc.RegisterVendor(ctx, models.Vendor{Name: "Sound Co", Email: "sound@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if view.Id == "" || view.ApplicationStatus != models.ApplicationPending {
		t.Errorf("new vendor should start with a pending application, got %+v", view.Vendor)
	}
	if view.Compliance.CanPublish {
		t.Error("new vendor should not be eligible before moderation")
	}

	_, err = svc.RegisterVendor(ctx, models.Vendor{Name: "Sound Co 2", Email: "SOUND@example.com"})
	if !errors.Is(err, models.ErrVendorExists) {
		t.Errorf("duplicate vendor email should fail with ErrVendorExists, got %v", err)
	}
}

func TestGetVendor(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := NewTestService(testNow)

	registered, err := svc.RegisterVendor(ctx, models.Vendor{Name: "Sound Co", Email: "sound@example.com"})
	if err != nil {
		t.Fatal(err)
	}

	view, err := svc.GetVendor(ctx, registered.Id)
	if err != nil {
		t.Fatal(err)
	}
	if view.Email != "sound@example.com" {
		t.Errorf("expected the registered vendor, got %+v", view.Vendor)
	}

	_, err = svc.GetVendor(ctx, EmptyUUID)
	if !errors.Is(err, models.ErrVendorNotFound) {
		t.Errorf("expected ErrVendorNotFound, got %v", err)
	}
}

func TestUpdateVendor(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := NewTestService(testNow)

	registered, err := svc.RegisterVendor(ctx, models.Vendor{Name: "Sound Co", Email: "sound@example.com"})
	if err != nil {
		t.Fatal(err)
	}

	approved := models.ApplicationApproved
	yes := true
	patch := models.VendorPatch{ApplicationStatus: &approved, ContractAccepted: &yes, TrainingCompleted: &yes}

	// moderation is admin-only
	_, err = svc.UpdateVendor(ctx, registered.Id, patch, models.Actor{Email: "sound@example.com"})
	if !errors.Is(err, models.ErrForbidden) {
		t.Errorf("non-admin vendor update should fail with ErrForbidden, got %v", err)
	}

	view, err := svc.UpdateVendor(ctx, registered.Id, patch, models.Actor{Admin: true})
	if err != nil {
		t.Fatal(err)
	}
	if !view.Compliance.CanPublish {
		t.Errorf("approved vendor with contract and training should be eligible, got %+v", view.Compliance)
	}

	// partial patch leaves other fields alone
	account := "acct_42"
	view, err = svc.UpdateVendor(ctx, registered.Id, models.VendorPatch{PayoutAccountId: &account}, models.Actor{Admin: true})
	if err != nil {
		t.Fatal(err)
	}
	if view.PayoutAccountId != account || !view.Compliance.CanPublish {
		t.Errorf("partial patch should keep unrelated fields, got %+v", view.Vendor)
	}

	_, err = svc.UpdateVendor(ctx, EmptyUUID, patch, models.Actor{Admin: true})
	if !errors.Is(err, models.ErrVendorNotFound) {
		t.Errorf("expected ErrVendorNotFound, got %v", err)
	}
}

//// Payments

func TestCreateCheckoutSession(t *testing.T) {
	ctx := context.Background()
	svc, store, provider := NewTestService(testNow)
	owner := models.Actor{Email: "ana@example.com"}

	vendor := AddVendor(t, store, models.Vendor{
		Name:              "Sound Co",
		Email:             "sound@example.com",
		ApplicationStatus: models.ApplicationApproved,
		ContractAccepted:  true,
		TrainingCompleted: true,
		PayoutAccountId:   "acct_42",
	})

	request := AddOpenRequest(t, svc, "ana@example.com")
	offer := AddPendingOffer(t, svc, request.Id, vendor.Email)
	if _, err := svc.SetOfferStatus(ctx, request.Id, offer.Id, models.OfferAccepted, owner); err != nil {
		t.Fatal(err)
	}

	// only the request owner may pay
	_, err := svc.CreateCheckoutSession(ctx, request.Id, offer.Id, "ben@example.com", "https://shop.example/ok", "https://shop.example/cancel")
	if !errors.Is(err, models.ErrForbidden) {
		t.Errorf("foreign customer checkout should fail with ErrForbidden, got %v", err)
	}

	session, err := svc.CreateCheckoutSession(ctx, request.Id, offer.Id, "ANA@example.com", "https://shop.example/ok", "https://shop.example/cancel")
	if err != nil {
		t.Fatal(err)
	}
	if session.Id == "" || session.URL == "" {
		t.Errorf("checkout session should carry an id and a redirect url, got %+v", session)
	}

	if len(provider.inputs) != 1 {
		t.Fatalf("expected 1 provider call, got %d", len(provider.inputs))
	}
	input := provider.inputs[0]
	if input.RequestId != request.Id || input.OfferId != offer.Id {
		t.Errorf("provider input should reference the offer being paid, got %+v", input)
	}
	if input.Price != offer.Price || input.CustomerEmail != "ana@example.com" {
		t.Errorf("provider input should carry the offer price and the owner email, got %+v", input)
	}
	if input.PayoutAccountId != "acct_42" {
		t.Errorf("connected vendor checkout should split the charge, got payout account '%s'", input.PayoutAccountId)
	}

	if store.offers[offer.Id].PaymentStatus != models.PaymentPending {
		t.Errorf("offer should track the pending checkout, got '%s'", store.offers[offer.Id].PaymentStatus)
	}
	if store.offers[offer.Id].CheckoutSessionId != session.Id {
		t.Error("offer should record the checkout session id")
	}
}

func TestCreateCheckoutSessionWithoutPayoutAccount(t *testing.T) {
	ctx := context.Background()
	svc, _, provider := NewTestService(testNow)
	owner := models.Actor{Email: "ana@example.com"}

	request := AddOpenRequest(t, svc, "ana@example.com")
	offer := AddPendingOffer(t, svc, request.Id, "")
	if _, err := svc.SetOfferStatus(ctx, request.Id, offer.Id, models.OfferAccepted, owner); err != nil {
		t.Fatal(err)
	}

	_, err := svc.CreateCheckoutSession(ctx, request.Id, offer.Id, "ana@example.com", "https://shop.example/ok", "https://shop.example/cancel")
	if err != nil {
		t.Fatal(err)
	}
	if provider.inputs[0].PayoutAccountId != "" {
		t.Errorf("anonymous offer checkout should not split the charge, got payout account '%s'", provider.inputs[0].PayoutAccountId)
	}
}

func TestCreateCheckoutSessionGuards(t *testing.T) {
	ctx := context.Background()
	svc, store, provider := NewTestService(testNow)
	owner := models.Actor{Email: "ana@example.com"}

	_, err := svc.CreateCheckoutSession(ctx, EmptyUUID, EmptyUUID, "ana@example.com", "https://s", "https://c")
	if !errors.Is(err, models.ErrRequestNotFound) {
		t.Errorf("expected ErrRequestNotFound, got %v", err)
	}

	request := AddOpenRequest(t, svc, "ana@example.com")
	_, err = svc.CreateCheckoutSession(ctx, request.Id, EmptyUUID, "ana@example.com", "https://s", "https://c")
	if !errors.Is(err, models.ErrOfferNotFound) {
		t.Errorf("expected ErrOfferNotFound, got %v", err)
	}

	// offer still pending
	offer := AddPendingOffer(t, svc, request.Id, "")
	_, err = svc.CreateCheckoutSession(ctx, request.Id, offer.Id, "ana@example.com", "https://s", "https://c")
	if !errors.Is(err, models.ErrOfferNotAccepted) {
		t.Errorf("checkout for a pending offer should fail with ErrOfferNotAccepted, got %v", err)
	}

	// offer already paid
	if _, err = svc.SetOfferStatus(ctx, request.Id, offer.Id, models.OfferAccepted, owner); err != nil {
		t.Fatal(err)
	}
	store.offers[offer.Id].PaymentStatus = models.PaymentPaid
	_, err = svc.CreateCheckoutSession(ctx, request.Id, offer.Id, "ana@example.com", "https://s", "https://c")
	if !errors.Is(err, models.ErrOfferPaid) {
		t.Errorf("checkout for a paid offer should fail with ErrOfferPaid, got %v", err)
	}

	// provider failure leaves the offer untouched
	store.offers[offer.Id].PaymentStatus = models.PaymentUnpaid
	provider.createErr = fmt.Errorf("post checkout/sessions: %w", models.ErrPaymentUpstream)
	_, err = svc.CreateCheckoutSession(ctx, request.Id, offer.Id, "ana@example.com", "https://s", "https://c")
	if !errors.Is(err, models.ErrPaymentUpstream) {
		t.Errorf("provider failure should surface ErrPaymentUpstream, got %v", err)
	}
	if store.offers[offer.Id].PaymentStatus != models.PaymentUnpaid {
		t.Error("failed checkout creation must not change the offer's payment state")
	}
}

func TestHandleWebhookPaid(t *testing.T) {
	ctx := context.Background()
	svc, store, provider := NewTestService(testNow)
	owner := models.Actor{Email: "ana@example.com"}

	request := AddOpenRequest(t, svc, "ana@example.com")
	offer := AddPendingOffer(t, svc, request.Id, "")
	if _, err := svc.SetOfferStatus(ctx, request.Id, offer.Id, models.OfferAccepted, owner); err != nil {
		t.Fatal(err)
	}

	provider.event = payments.Event{
		Kind:       payments.EventCheckoutCompleted,
		Type:       "checkout.session.completed",
		RequestId:  request.Id,
		OfferId:    offer.Id,
		SessionId:  "cs_1",
		PaymentRef: "pi_1",
	}
	if err := svc.HandleWebhook(ctx, []byte("{}"), "sig"); err != nil {
		t.Fatal(err)
	}

	paid := store.offers[offer.Id]
	if paid.PaymentStatus != models.PaymentPaid {
		t.Fatalf("completed checkout should mark the offer paid, got '%s'", paid.PaymentStatus)
	}
	if paid.PaymentRef != "pi_1" || paid.CheckoutSessionId != "cs_1" {
		t.Errorf("paid offer should record the processor references, got %+v", paid)
	}
	if paid.PaidAt == nil || !paid.PaidAt.Equal(testNow) {
		t.Error("paid offer should record when the payment settled")
	}

	// redelivery is acknowledged without touching the settled payment
	svc.now = func() time.Time { return testNow.Add(time.Hour) }
	if err := svc.HandleWebhook(ctx, []byte("{}"), "sig"); err != nil {
		t.Fatal(err)
	}
	if !store.offers[offer.Id].PaidAt.Equal(testNow) {
		t.Error("webhook redelivery must not overwrite the original settlement time")
	}

	// a late expiry event never downgrades a paid offer
	provider.event.Kind = payments.EventCheckoutExpired
	provider.event.Type = "checkout.session.expired"
	if err := svc.HandleWebhook(ctx, []byte("{}"), "sig"); err != nil {
		t.Fatal(err)
	}
	if store.offers[offer.Id].PaymentStatus != models.PaymentPaid {
		t.Error("expired checkout event must not downgrade a paid offer")
	}
}

func TestHandleWebhookExpired(t *testing.T) {
	ctx := context.Background()
	svc, store, provider := NewTestService(testNow)
	owner := models.Actor{Email: "ana@example.com"}

	request := AddOpenRequest(t, svc, "ana@example.com")
	offer := AddPendingOffer(t, svc, request.Id, "")
	if _, err := svc.SetOfferStatus(ctx, request.Id, offer.Id, models.OfferAccepted, owner); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateCheckoutSession(ctx, request.Id, offer.Id, "ana@example.com", "https://s", "https://c"); err != nil {
		t.Fatal(err)
	}

	provider.event = payments.Event{
		Kind:      payments.EventCheckoutExpired,
		Type:      "checkout.session.expired",
		RequestId: request.Id,
		OfferId:   offer.Id,
		SessionId: store.offers[offer.Id].CheckoutSessionId,
	}
	if err := svc.HandleWebhook(ctx, []byte("{}"), "sig"); err != nil {
		t.Fatal(err)
	}
	if store.offers[offer.Id].PaymentStatus != models.PaymentFailed {
		t.Errorf("expired checkout should mark the payment failed, got '%s'", store.offers[offer.Id].PaymentStatus)
	}
}

func TestHandleWebhookAcknowledgements(t *testing.T) {
	ctx := context.Background()
	svc, store, provider := NewTestService(testNow)

	request := AddOpenRequest(t, svc, "ana@example.com")
	offer := AddPendingOffer(t, svc, request.Id, "")

	// events the lifecycle does not act on are acknowledged
	provider.event = payments.Event{Kind: payments.EventUnhandled, Type: "invoice.paid"}
	if err := svc.HandleWebhook(ctx, []byte("{}"), "sig"); err != nil {
		t.Errorf("unhandled event kinds should be acknowledged, got %v", err)
	}

	// checkout events without offer metadata are acknowledged untouched
	provider.event = payments.Event{Kind: payments.EventCheckoutCompleted, Type: "checkout.session.completed", SessionId: "cs_1"}
	if err := svc.HandleWebhook(ctx, []byte("{}"), "sig"); err != nil {
		t.Errorf("checkout events without metadata should be acknowledged, got %v", err)
	}
	if store.offers[offer.Id].PaymentStatus != models.PaymentUnpaid {
		t.Error("acknowledged events must not change payment state")
	}

	// verification failures are not acknowledged
	provider.verifyErr = fmt.Errorf("provider: %w", models.ErrWebhookSignature)
	err := svc.HandleWebhook(ctx, []byte("{}"), "sig")
	if !errors.Is(err, models.ErrWebhookSignature) {
		t.Errorf("signature failure should surface ErrWebhookSignature, got %v", err)
	}
}

//// Service

func NewTestService(now time.Time) (*Service, *fakeStore, *fakeProvider) {
	store := NewFakeStore()
	provider := &fakeProvider{}
	svc := NewService(store, provider, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return now }
	return svc, store, provider
}

func AddOpenRequest(t *testing.T, svc *Service, email string) models.ServiceRequest {
	request, err := svc.CreateRequest(context.Background(), models.ServiceRequest{
		CustomerName:     "Customer",
		CustomerEmail:    email,
		SelectedServices: []string{"catering", "music"},
		Budget:           1000,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return request
}

func AddPendingOffer(t *testing.T, svc *Service, requestId, vendorEmail string) models.VendorOffer {
	offer, err := svc.CreateOffer(context.Background(), models.VendorOffer{
		RequestId:   requestId,
		VendorName:  "Vendor",
		VendorEmail: vendorEmail,
		Price:       750,
	})
	if err != nil {
		t.Fatal(err)
	}
	return offer
}

func AddVendor(t *testing.T, store *fakeStore, v models.Vendor) models.Vendor {
	v.Id = uuid.NewString()
	stored := v
	store.vendors[v.Id] = &stored
	return v
}

// fakeStore mirrors the repository contract: lookups wrap sql.ErrNoRows, the
// accept and sweep transitions cascade to sibling offers, payment markers are
// guarded so paid offers stay paid.
type fakeStore struct {
	requests map[string]*models.ServiceRequest
	offers   map[string]*models.VendorOffer
	vendors  map[string]*models.Vendor
}

func NewFakeStore() *fakeStore {
	return &fakeStore{
		requests: map[string]*models.ServiceRequest{},
		offers:   map[string]*models.VendorOffer{},
		vendors:  map[string]*models.Vendor{},
	}
}

func (s *fakeStore) AddRequest(ctx context.Context, r models.ServiceRequest) (models.ServiceRequest, error) {
	r.Id = uuid.NewString()
	r.Status = models.RequestOpen
	r.Offers = []models.VendorOffer{}
	stored := r
	s.requests[r.Id] = &stored
	return r, nil
}

func (s *fakeStore) GetRequests(ctx context.Context, customerEmail string, onlyOpen bool) ([]models.ServiceRequest, error) {
	result := []models.ServiceRequest{}
	for _, request := range s.requests {
		if len(customerEmail) > 0 && !strings.EqualFold(customerEmail, request.CustomerEmail) {
			continue
		}
		if onlyOpen && request.Status != models.RequestOpen {
			continue
		}
		r := *request
		r.Offers = s.requestOffers(r.Id)
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *fakeStore) GetRequestByUUID(ctx context.Context, UUID string) (models.ServiceRequest, error) {
	request, ok := s.requests[UUID]
	if !ok {
		return models.ServiceRequest{}, fmt.Errorf("no request found by UUID %s, %w", UUID, sql.ErrNoRows)
	}
	r := *request
	r.Offers = s.requestOffers(UUID)
	return r, nil
}

func (s *fakeStore) ExpireStaleRequests(ctx context.Context, now time.Time) (int, error) {
	count := 0
	for _, request := range s.requests {
		if request.Status != models.RequestOpen || !now.After(request.ExpiresAt) {
			continue
		}
		closedAt, reason := now, models.CloseTimeLimit
		request.Status = models.RequestExpired
		request.ClosedAt = &closedAt
		request.ClosedReason = &reason
		for _, offer := range s.offers {
			if offer.RequestId == request.Id && offer.Status == models.OfferPending {
				offer.Status = models.OfferIgnored
			}
		}
		count++
	}
	return count, nil
}

func (s *fakeStore) AddOffer(ctx context.Context, o models.VendorOffer) (models.VendorOffer, error) {
	o.Id = uuid.NewString()
	o.Status = models.OfferPending
	o.PaymentStatus = models.PaymentUnpaid
	o.CreatedAt = time.Now().UTC()
	stored := o
	s.offers[o.Id] = &stored
	return o, nil
}

func (s *fakeStore) GetOfferByUUID(ctx context.Context, requestId, offerId string) (models.VendorOffer, error) {
	offer, ok := s.offers[offerId]
	if !ok || offer.RequestId != requestId {
		return models.VendorOffer{}, fmt.Errorf("no offer found by UUID %s, %w", offerId, sql.ErrNoRows)
	}
	return *offer, nil
}

func (s *fakeStore) UpdateOfferStatus(ctx context.Context, offerId string, status models.OfferStatus) error {
	offer, ok := s.offers[offerId]
	if !ok {
		return models.ErrOfferNotFound
	}
	offer.Status = status
	return nil
}

func (s *fakeStore) AcceptOffer(ctx context.Context, requestId, offerId string, now time.Time) error {
	request, ok := s.requests[requestId]
	if !ok {
		return models.ErrRequestNotFound
	}
	if request.Status != models.RequestOpen || now.After(request.ExpiresAt) {
		return models.ErrRequestClosed
	}
	offer, ok := s.offers[offerId]
	if !ok || offer.RequestId != requestId {
		return models.ErrOfferNotFound
	}

	offer.Status = models.OfferAccepted
	closedAt, reason := now, models.CloseOfferAccepted
	request.Status = models.RequestClosed
	request.ClosedAt = &closedAt
	request.ClosedReason = &reason
	for _, sibling := range s.offers {
		if sibling.RequestId == requestId && sibling.Id != offerId && sibling.Status == models.OfferPending {
			sibling.Status = models.OfferIgnored
		}
	}
	return nil
}

func (s *fakeStore) SetOfferCheckoutPending(ctx context.Context, offerId, sessionId string) error {
	offer, ok := s.offers[offerId]
	if !ok {
		return models.ErrOfferNotFound
	}
	offer.PaymentStatus = models.PaymentPending
	offer.CheckoutSessionId = sessionId
	return nil
}

func (s *fakeStore) MarkOfferPaid(ctx context.Context, requestId, offerId, sessionId, paymentRef string, paidAt time.Time) (bool, error) {
	offer, ok := s.offers[offerId]
	if !ok || offer.RequestId != requestId || offer.PaymentStatus == models.PaymentPaid {
		return false, nil
	}
	offer.PaymentStatus = models.PaymentPaid
	offer.CheckoutSessionId = sessionId
	offer.PaymentRef = paymentRef
	offer.PaidAt = &paidAt
	return true, nil
}

func (s *fakeStore) MarkOfferPaymentFailed(ctx context.Context, requestId, offerId string) (bool, error) {
	offer, ok := s.offers[offerId]
	if !ok || offer.RequestId != requestId || offer.PaymentStatus == models.PaymentPaid {
		return false, nil
	}
	offer.PaymentStatus = models.PaymentFailed
	return true, nil
}

func (s *fakeStore) AddVendor(ctx context.Context, v models.Vendor) (models.Vendor, error) {
	for _, existing := range s.vendors {
		if strings.EqualFold(existing.Email, v.Email) {
			return models.Vendor{}, models.ErrVendorExists
		}
	}
	v.Id = uuid.NewString()
	v.ApplicationStatus = models.ApplicationPending
	stored := v
	s.vendors[v.Id] = &stored
	return v, nil
}

func (s *fakeStore) GetVendorByUUID(ctx context.Context, UUID string) (models.Vendor, error) {
	vendor, ok := s.vendors[UUID]
	if !ok {
		return models.Vendor{}, fmt.Errorf("no vendor found by UUID %s, %w", UUID, sql.ErrNoRows)
	}
	return *vendor, nil
}

func (s *fakeStore) GetVendorByEmail(ctx context.Context, email string) (models.Vendor, bool, error) {
	for _, vendor := range s.vendors {
		if strings.EqualFold(vendor.Email, email) {
			return *vendor, true, nil
		}
	}
	return models.Vendor{}, false, nil
}

func (s *fakeStore) UpdateVendor(ctx context.Context, vendorId string, patch models.VendorPatch) (models.Vendor, error) {
	vendor, ok := s.vendors[vendorId]
	if !ok {
		return models.Vendor{}, fmt.Errorf("no vendor found by UUID %s, %w", vendorId, sql.ErrNoRows)
	}
	if patch.ApplicationStatus != nil {
		vendor.ApplicationStatus = *patch.ApplicationStatus
	}
	if patch.ContractAccepted != nil {
		vendor.ContractAccepted = *patch.ContractAccepted
	}
	if patch.TrainingCompleted != nil {
		vendor.TrainingCompleted = *patch.TrainingCompleted
	}
	if patch.PayoutAccountId != nil {
		vendor.PayoutAccountId = *patch.PayoutAccountId
	}
	return *vendor, nil
}

func (s *fakeStore) requestOffers(requestId string) []models.VendorOffer {
	offers := []models.VendorOffer{}
	for _, offer := range s.offers {
		if offer.RequestId == requestId {
			offers = append(offers, *offer)
		}
	}
	sort.Slice(offers, func(i, j int) bool { return offers[i].CreatedAt.Before(offers[j].CreatedAt) })
	return offers
}

type fakeProvider struct {
	inputs    []payments.CheckoutInput
	event     payments.Event
	createErr error
	verifyErr error
}

func (p *fakeProvider) CreateCheckoutSession(ctx context.Context, in payments.CheckoutInput) (payments.Session, error) {
	if p.createErr != nil {
		return payments.Session{}, p.createErr
	}
	p.inputs = append(p.inputs, in)
	return payments.Session{
		Id:  fmt.Sprintf("cs_test_%d", len(p.inputs)),
		URL: "https://checkout.example/" + in.OfferId,
	}, nil
}

func (p *fakeProvider) VerifyWebhook(payload []byte, signature string) (payments.Event, error) {
	if p.verifyErr != nil {
		return payments.Event{}, p.verifyErr
	}
	return p.event, nil
}
