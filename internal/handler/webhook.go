// Package handler contains HTTP handlers for the Quill API.
//
// This file implements the Stripe webhook handler. Plan changes are applied
// here and nowhere else.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC (no auth middleware) because Stripe calls it directly.
// Authentication is via the Stripe webhook signature verification.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v79"

	"github.com/DukeRupert/quill/internal/billing"
	"github.com/DukeRupert/quill/internal/domain"
	"github.com/DukeRupert/quill/internal/service"
	"github.com/DukeRupert/quill/internal/store"
)

// maxWebhookBytes matches Stripe's documented payload ceiling.
const maxWebhookBytes = 65536

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	billing billing.Service
	gate    service.EntitlementGate
	events  store.BillingEventStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewWebhookHandler creates a new WebhookHandler.
// billingService may be nil when Stripe is not configured.
func NewWebhookHandler(billingService billing.Service, gate service.EntitlementGate, events store.BillingEventStore, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing: billingService,
		gate:    gate,
		events:  events,
		logger:  logger,
		now:     time.Now,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
// These routes are PUBLIC, no auth middleware.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook processes incoming Stripe webhook events. Each event
// is recorded before it is handled, so redeliveries are acknowledged and
// skipped.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		h.logger.Warn("stripe webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event, err := h.billing.VerifyWebhookSignature(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Processing must finish even if Stripe hangs up
	ctx := context.WithoutCancel(r.Context())

	isNew, err := h.events.RecordBillingEvent(ctx, event.ID, string(event.Type), body, h.now())
	if err != nil {
		// Stripe retries on 5xx, and nothing has been applied yet
		h.logger.Error("failed to record webhook event", "error", err, "id", event.ID, "type", event.Type)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if !isNew {
		h.logger.Info("duplicate stripe webhook skipped", "type", event.Type, "id", event.ID)
		w.WriteHeader(http.StatusOK)
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	switch event.Type {
	case "checkout.session.completed":
		h.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.created":
		h.processSubscriptionEvent(ctx, event, "created")
	case "customer.subscription.updated":
		h.processSubscriptionEvent(ctx, event, "updated")
	case "customer.subscription.deleted":
		h.handleSubscriptionDeleted(ctx, event)
	case "invoice.payment_succeeded":
		h.handlePaymentSucceeded(ctx, event)
	case "invoice.payment_failed":
		h.handlePaymentFailed(ctx, event)
	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		h.logger.Error("failed to parse checkout session", "error", err)
		return
	}

	userID := session.ClientReferenceID
	if userID == "" {
		userID = session.Metadata[billing.MetadataUserID]
	}
	if userID == "" || session.Customer == nil || session.Subscription == nil {
		h.logger.Warn("checkout session missing user, customer or subscription", "session_id", session.ID)
		return
	}

	tier, ok := domain.ParseTier(session.Metadata[billing.MetadataTier])
	if !ok || tier == domain.TierFree {
		// The subscription event that follows carries the price
		h.logger.Info("checkout session has no tier, waiting for subscription event",
			"session_id", session.ID, "user_id", userID)
		return
	}

	h.apply(ctx, domain.PlanChange{
		UserID:               userID,
		Tier:                 tier,
		Status:               domain.SubscriptionStatusActive,
		StripeCustomerID:     session.Customer.ID,
		StripeSubscriptionID: session.Subscription.ID,
	}, "checkout")
}

func (h *WebhookHandler) processSubscriptionEvent(ctx context.Context, event stripe.Event, action string) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("failed to parse subscription event", "error", err, "action", action)
		return
	}
	if sub.Customer == nil {
		h.logger.Warn("subscription event missing customer", "subscription_id", sub.ID, "action", action)
		return
	}

	current, userID := h.resolveUser(ctx, sub.Customer.ID, sub.Metadata[billing.MetadataUserID])
	if userID == "" {
		h.logger.Warn("user not found for subscription event",
			"customer_id", sub.Customer.ID, "subscription_id", sub.ID, "action", action)
		return
	}

	tier, ok := h.tierForSubscription(&sub)
	if !ok {
		if current == nil {
			h.logger.Warn("subscription event has no known price", "subscription_id", sub.ID, "action", action)
			return
		}
		tier = current.Tier
	}

	h.apply(ctx, domain.PlanChange{
		UserID:               userID,
		Tier:                 tier,
		Status:               billing.StatusFromStripe(sub.Status),
		StripeCustomerID:     sub.Customer.ID,
		StripeSubscriptionID: sub.ID,
	}, "subscription."+action)
}

func (h *WebhookHandler) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("failed to parse subscription deleted event", "error", err)
		return
	}
	if sub.Customer == nil {
		h.logger.Warn("subscription deleted event missing customer", "subscription_id", sub.ID)
		return
	}

	current, err := h.gate.SubscriptionByCustomer(ctx, sub.Customer.ID)
	if err != nil {
		h.logger.Warn("user not found for subscription deletion", "error", err, "customer_id", sub.Customer.ID)
		return
	}

	// Canceled resets the user to the free plan
	h.apply(ctx, domain.PlanChange{
		UserID: current.UserID,
		Tier:   domain.TierFree,
		Status: domain.SubscriptionStatusCanceled,
	}, "subscription.deleted")
}

func (h *WebhookHandler) handlePaymentSucceeded(ctx context.Context, event stripe.Event) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		h.logger.Error("failed to parse invoice payment succeeded event", "error", err)
		return
	}
	if invoice.Customer == nil {
		return
	}

	current, err := h.gate.SubscriptionByCustomer(ctx, invoice.Customer.ID)
	if err != nil {
		h.logger.Debug("user not found for payment succeeded", "customer_id", invoice.Customer.ID)
		return
	}

	// Recovery from past_due
	if current.Status != domain.SubscriptionStatusActive {
		h.apply(ctx, domain.PlanChange{
			UserID: current.UserID,
			Tier:   current.Tier,
			Status: domain.SubscriptionStatusActive,
		}, "invoice.payment_succeeded")
	}
}

func (h *WebhookHandler) handlePaymentFailed(ctx context.Context, event stripe.Event) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		h.logger.Error("failed to parse invoice payment failed event", "error", err)
		return
	}
	if invoice.Customer == nil {
		return
	}

	current, err := h.gate.SubscriptionByCustomer(ctx, invoice.Customer.ID)
	if err != nil {
		h.logger.Debug("user not found for payment failed", "customer_id", invoice.Customer.ID)
		return
	}

	h.apply(ctx, domain.PlanChange{
		UserID: current.UserID,
		Tier:   current.Tier,
		Status: domain.SubscriptionStatusPastDue,
	}, "invoice.payment_failed")

	h.logger.Warn("payment failed", "user_id", current.UserID, "customer_id", invoice.Customer.ID)
}

// resolveUser finds the user for a Stripe customer, falling back to the
// user ID stored in metadata for the first event of a new customer.
func (h *WebhookHandler) resolveUser(ctx context.Context, customerID, metadataUserID string) (*domain.Subscription, string) {
	current, err := h.gate.SubscriptionByCustomer(ctx, customerID)
	if err == nil {
		return current, current.UserID
	}
	if metadataUserID == "" {
		return nil, ""
	}
	current, err = h.gate.Subscription(ctx, metadataUserID)
	if err != nil {
		return nil, metadataUserID
	}
	return current, metadataUserID
}

func (h *WebhookHandler) tierForSubscription(sub *stripe.Subscription) (domain.TierID, bool) {
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item.Price == nil {
				continue
			}
			if tier, ok := h.billing.TierForPriceID(item.Price.ID); ok {
				return tier, true
			}
		}
	}
	if tier, ok := domain.ParseTier(sub.Metadata[billing.MetadataTier]); ok && tier != domain.TierFree {
		return tier, true
	}
	return "", false
}

func (h *WebhookHandler) apply(ctx context.Context, change domain.PlanChange, source string) {
	if _, err := h.gate.ApplyPlanChange(ctx, change); err != nil {
		h.logger.Error("failed to apply plan change",
			"error", err,
			"user_id", change.UserID,
			"tier", change.Tier,
			"status", change.Status,
			"source", source,
		)
	}
}
