// Package billing provides Stripe billing integration for plan upgrades.
//
// Quill never changes a plan on the strength of a checkout redirect. The
// plan changes when Stripe confirms it through a webhook; this package only
// starts the hosted flows and verifies the events.
package billing

import (
	"errors"
	"fmt"

	"github.com/DukeRupert/quill/internal/domain"
	"github.com/stripe/stripe-go/v79"
	billingportalsession "github.com/stripe/stripe-go/v79/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"
)

// MetadataUserID is the metadata key carrying the Quill user ID on
// checkout sessions and the subscriptions they create.
const MetadataUserID = "user_id"

// MetadataTier is the metadata key carrying the requested tier.
const MetadataTier = "tier"

// ErrNoPrice is returned when no Stripe price is configured for a tier.
var ErrNoPrice = errors.New("billing: no price configured for tier")

// Service defines the interface for billing operations.
type Service interface {
	// CreateCheckoutSession creates a Stripe Checkout session for upgrading.
	// Returns the checkout URL to send the user to.
	CreateCheckoutSession(params CheckoutParams) (string, error)

	// CreatePortalSession creates a Stripe Customer Portal session.
	CreatePortalSession(customerID, returnURL string) (string, error)

	// GetSubscription retrieves a Stripe subscription by ID.
	GetSubscription(subscriptionID string) (*stripe.Subscription, error)

	// CancelSubscription sets a subscription to cancel at period end.
	CancelSubscription(subscriptionID string) error

	// ReactivateSubscription removes the cancel_at_period_end flag.
	ReactivateSubscription(subscriptionID string) error

	// VerifyWebhookSignature verifies the Stripe webhook signature and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)

	// TierForPriceID returns the tier sold under a Stripe price ID.
	TierForPriceID(priceID string) (domain.TierID, bool)
}

// CheckoutParams describes an upgrade checkout.
type CheckoutParams struct {
	UserID     string
	CustomerID string // Optional: reuses an existing Stripe customer
	Email      string // Optional: prefills checkout for new customers
	Tier       domain.TierID
	Yearly     bool
	SuccessURL string
	CancelURL  string
}

// PriceConfig holds the Stripe price IDs for each paid plan.
type PriceConfig struct {
	StarterMonthlyPriceID string
	StarterYearlyPriceID  string
	ProMonthlyPriceID     string
	ProYearlyPriceID      string
}

// PriceIDFor returns the configured price for a tier and interval.
func (p PriceConfig) PriceIDFor(tier domain.TierID, yearly bool) (string, bool) {
	var id string
	switch tier {
	case domain.TierStarter:
		id = p.StarterMonthlyPriceID
		if yearly {
			id = p.StarterYearlyPriceID
		}
	case domain.TierPro:
		id = p.ProMonthlyPriceID
		if yearly {
			id = p.ProYearlyPriceID
		}
	}
	return id, id != ""
}

func (p PriceConfig) tiersByPrice() map[string]domain.TierID {
	m := make(map[string]domain.TierID, 4)
	add := func(id string, tier domain.TierID) {
		if id != "" {
			m[id] = tier
		}
	}
	add(p.StarterMonthlyPriceID, domain.TierStarter)
	add(p.StarterYearlyPriceID, domain.TierStarter)
	add(p.ProMonthlyPriceID, domain.TierPro)
	add(p.ProYearlyPriceID, domain.TierPro)
	return m
}

// stripeService is the concrete implementation of Service.
type stripeService struct {
	webhookSecret string
	prices        PriceConfig
	priceToTier   map[string]domain.TierID
}

// NewStripeService creates a new Stripe billing service.
//
// The secretKey is used to authenticate Stripe API calls.
// The webhookSecret is used to verify incoming webhook signatures.
func NewStripeService(secretKey, webhookSecret string, prices PriceConfig) Service {
	stripe.Key = secretKey

	return &stripeService{
		webhookSecret: webhookSecret,
		prices:        prices,
		priceToTier:   prices.tiersByPrice(),
	}
}

func (s *stripeService) CreateCheckoutSession(p CheckoutParams) (string, error) {
	priceID, ok := s.prices.PriceIDFor(p.Tier, p.Yearly)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoPrice, p.Tier)
	}

	metadata := map[string]string{
		MetadataUserID: p.UserID,
		MetadataTier:   p.Tier.String(),
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(p.UserID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	} else if p.Email != "" {
		params.CustomerEmail = stripe.String(p.Email)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (s *stripeService) CreatePortalSession(customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	sess, err := billingportalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create portal session: %w", err)
	}
	return sess.URL, nil
}

func (s *stripeService) GetSubscription(subscriptionID string) (*stripe.Subscription, error) {
	sub, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("stripe get subscription: %w", err)
	}
	return sub, nil
}

func (s *stripeService) CancelSubscription(subscriptionID string) error {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	if _, err := subscription.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("stripe cancel subscription: %w", err)
	}
	return nil
}

func (s *stripeService) ReactivateSubscription(subscriptionID string) error {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	}
	if _, err := subscription.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("stripe reactivate subscription: %w", err)
	}
	return nil
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

func (s *stripeService) TierForPriceID(priceID string) (domain.TierID, bool) {
	tier, ok := s.priceToTier[priceID]
	return tier, ok
}

// StatusFromStripe maps a Stripe subscription status onto the statuses
// Quill tracks.
func StatusFromStripe(status stripe.SubscriptionStatus) domain.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return domain.SubscriptionStatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return domain.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return domain.SubscriptionStatusCanceled
	default:
		return domain.SubscriptionStatusIncomplete
	}
}
