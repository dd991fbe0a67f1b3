// Package handler contains HTTP handlers for the Quill API.
//
// This file implements billing handlers backed by Stripe. Starting a
// checkout never changes the plan; the webhook does that once Stripe
// confirms payment.
//
// Routes handled:
//   - GET  /api/billing            -> Show
//   - POST /api/billing/checkout   -> CreateCheckout
//   - POST /api/billing/portal     -> OpenPortal
//   - POST /api/billing/cancel     -> CancelSubscription
//   - POST /api/billing/reactivate -> ReactivateSubscription
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/quill/internal/auth"
	"github.com/DukeRupert/quill/internal/billing"
	"github.com/DukeRupert/quill/internal/domain"
	"github.com/DukeRupert/quill/internal/service"
)

// BillingHandler handles billing and subscription management HTTP requests.
type BillingHandler struct {
	billing billing.Service
	gate    service.EntitlementGate
	baseURL string
	logger  *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
// billingService may be nil when Stripe is not configured (development mode).
func NewBillingHandler(billingService billing.Service, gate service.EntitlementGate, baseURL string, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		billing: billingService,
		gate:    gate,
		baseURL: baseURL,
		logger:  logger,
	}
}

// RegisterRoutes registers billing routes on the provided mux.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.Handle("GET /api/billing", requireUser(http.HandlerFunc(h.Show)))
	mux.Handle("POST /api/billing/checkout", requireUser(http.HandlerFunc(h.CreateCheckout)))
	mux.Handle("POST /api/billing/portal", requireUser(http.HandlerFunc(h.OpenPortal)))
	mux.Handle("POST /api/billing/cancel", requireUser(http.HandlerFunc(h.CancelSubscription)))
	mux.Handle("POST /api/billing/reactivate", requireUser(http.HandlerFunc(h.ReactivateSubscription)))
}

type checkoutRequest struct {
	Tier   string `json:"tier"`
	Yearly bool   `json:"yearly"`
}

type billingStatusResponse struct {
	Subscription SubscriptionResponse `json:"subscription"`
	PeriodEnd    *time.Time           `json:"periodEnd,omitempty"`
	CancelAtEnd  bool                 `json:"cancelAtPeriodEnd"`
}

// Show handles GET /api/billing with live details from Stripe when the
// user has a paid subscription.
func (h *BillingHandler) Show(w http.ResponseWriter, r *http.Request) {
	const op = "handler.billing.show"

	uid, err := userID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	sub, err := h.gate.Subscription(r.Context(), uid)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := billingStatusResponse{Subscription: newSubscriptionResponse(sub)}
	if h.billing != nil && sub.StripeSubscriptionID != "" {
		ss, err := h.billing.GetSubscription(sub.StripeSubscriptionID)
		if err != nil {
			// Stripe being down should not hide the local record
			h.logger.Warn("failed to fetch stripe subscription", "error", err, "subscription_id", sub.StripeSubscriptionID)
		} else {
			resp.CancelAtEnd = ss.CancelAtPeriodEnd
			if ss.CurrentPeriodEnd > 0 {
				end := time.Unix(ss.CurrentPeriodEnd, 0).UTC()
				resp.PeriodEnd = &end
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateCheckout handles POST /api/billing/checkout and returns the Stripe
// Checkout URL.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	const op = "handler.billing.checkout"

	if !h.requireBilling(w, r, op) {
		return
	}
	uid, err := userID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	var req checkoutRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	tier, ok := domain.ParseTier(req.Tier)
	if !ok || tier == domain.TierFree {
		ErrorResponse(w, r, h.logger, domain.NewValidationError(op, "tier", "Choose a paid plan"))
		return
	}

	sub, err := h.gate.Subscription(r.Context(), uid)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	params := billing.CheckoutParams{
		UserID:     uid,
		CustomerID: sub.StripeCustomerID,
		Tier:       tier,
		Yearly:     req.Yearly,
		SuccessURL: h.baseURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  h.baseURL + "/billing",
	}
	if u := auth.GetUser(r.Context()); u != nil {
		params.Email = u.Email
	}

	url, err := h.billing.CreateCheckoutSession(params)
	if err != nil {
		if errors.Is(err, billing.ErrNoPrice) {
			ErrorResponse(w, r, h.logger, domain.NewValidationError(op, "tier", "This plan is not available for purchase"))
			return
		}
		h.logger.Error("failed to create checkout session", "error", err, "user_id", uid, "tier", tier)
		ErrorResponse(w, r, h.logger, domain.Unavailable(err, op, "Could not start checkout. Please try again."))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// OpenPortal handles POST /api/billing/portal.
func (h *BillingHandler) OpenPortal(w http.ResponseWriter, r *http.Request) {
	const op = "handler.billing.portal"

	sub, ok := h.billingSubscription(w, r, op)
	if !ok {
		return
	}
	if sub.StripeCustomerID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "No billing account exists yet. Upgrade first."))
		return
	}

	url, err := h.billing.CreatePortalSession(sub.StripeCustomerID, h.baseURL+"/billing")
	if err != nil {
		h.logger.Error("failed to create portal session", "error", err, "user_id", sub.UserID)
		ErrorResponse(w, r, h.logger, domain.Unavailable(err, op, "Could not open the billing portal. Please try again."))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// CancelSubscription handles POST /api/billing/cancel. The plan stays
// until Stripe reports the subscription deleted at period end.
func (h *BillingHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	h.updateRenewal(w, r, "handler.billing.cancel", true)
}

// ReactivateSubscription handles POST /api/billing/reactivate.
func (h *BillingHandler) ReactivateSubscription(w http.ResponseWriter, r *http.Request) {
	h.updateRenewal(w, r, "handler.billing.reactivate", false)
}

func (h *BillingHandler) updateRenewal(w http.ResponseWriter, r *http.Request, op string, cancel bool) {
	sub, ok := h.billingSubscription(w, r, op)
	if !ok {
		return
	}
	if sub.StripeSubscriptionID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "There is no paid subscription to change."))
		return
	}

	var err error
	if cancel {
		err = h.billing.CancelSubscription(sub.StripeSubscriptionID)
	} else {
		err = h.billing.ReactivateSubscription(sub.StripeSubscriptionID)
	}
	if err != nil {
		h.logger.Error("failed to update subscription renewal", "error", err, "user_id", sub.UserID, "cancel", cancel)
		ErrorResponse(w, r, h.logger, domain.Unavailable(err, op, "Could not update the subscription. Please try again."))
		return
	}

	h.logger.Info("subscription renewal updated", "user_id", sub.UserID, "cancel_at_period_end", cancel)
	writeJSON(w, http.StatusOK, map[string]bool{"cancelAtPeriodEnd": cancel})
}

// billingSubscription checks billing is configured and loads the caller's
// subscription. It writes the error response when it returns false.
func (h *BillingHandler) billingSubscription(w http.ResponseWriter, r *http.Request, op string) (*domain.Subscription, bool) {
	if !h.requireBilling(w, r, op) {
		return nil, false
	}
	uid, err := userID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return nil, false
	}
	sub, err := h.gate.Subscription(r.Context(), uid)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return nil, false
	}
	return sub, true
}

func (h *BillingHandler) requireBilling(w http.ResponseWriter, r *http.Request, op string) bool {
	if h.billing != nil {
		return true
	}
	ErrorResponse(w, r, h.logger, domain.Unavailable(nil, op, "Billing is not configured."))
	return false
}
