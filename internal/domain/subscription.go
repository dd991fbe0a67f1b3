// Package domain contains core business types and interfaces.
//
// This file defines the Subscription record and the entitlement decision
// derived from it.
package domain

import "time"

// SubscriptionStatus represents the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
)

// IsValid returns true if the status is a recognized value.
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusCanceled,
		SubscriptionStatusPastDue, SubscriptionStatusIncomplete:
		return true
	}
	return false
}

// Subscription is the per-user plan assignment. There is exactly one per
// user; it is created lazily with free defaults on first read.
type Subscription struct {
	UserID               string
	Tier                 TierID
	Status               SubscriptionStatus
	TokenBalance         *int64 // nil means the plan allowance applies directly
	StripeCustomerID     string
	StripeSubscriptionID string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NewDefaultSubscription returns the free subscription created for a user
// that has none.
func NewDefaultSubscription(userID string, now time.Time) *Subscription {
	balance := DefaultStartingTokens
	return &Subscription{
		UserID:       userID,
		Tier:         TierFree,
		Status:       SubscriptionStatusActive,
		TokenBalance: &balance,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Plan returns the catalog entry for the subscription's tier.
func (s *Subscription) Plan() PlanTier {
	return PlanFor(s.Tier)
}

// ResolveLimit returns the canonical limit for a metered action. An explicit
// token balance wins over the plan allowance. The result may be Unlimited.
func ResolveLimit(sub *Subscription, plan PlanTier) int64 {
	if sub != nil && sub.TokenBalance != nil {
		return normalizeLimit(*sub.TokenBalance)
	}
	return normalizeLimit(plan.MonthlyAllowance)
}

// normalizeLimit keeps the Unlimited sentinel and clamps any other negative
// value to zero.
func normalizeLimit(n int64) int64 {
	if n == Unlimited {
		return Unlimited
	}
	if n < 0 {
		return 0
	}
	return n
}

// Entitlement is the result of an entitlement check.
type Entitlement struct {
	Allowed   bool
	Tier      TierID
	Used      int64
	Limit     int64 // Unlimited when IsUnlimited is true
	Unlimited bool
}

// Remaining returns how many metered actions are left, or Unlimited.
func (e Entitlement) Remaining() int64 {
	if e.Unlimited {
		return Unlimited
	}
	if e.Used >= e.Limit {
		return 0
	}
	return e.Limit - e.Used
}

// Decide computes the entitlement for the given usage against a limit.
func Decide(tier TierID, used, limit int64) Entitlement {
	if limit == Unlimited {
		return Entitlement{Allowed: true, Tier: tier, Used: used, Limit: Unlimited, Unlimited: true}
	}
	return Entitlement{
		Allowed: used < limit,
		Tier:    tier,
		Used:    used,
		Limit:   limit,
	}
}

// PlanChange is a provider-confirmed change to a user's subscription.
type PlanChange struct {
	UserID               string
	Tier                 TierID
	Status               SubscriptionStatus
	StripeCustomerID     string // Optional: kept when empty
	StripeSubscriptionID string // Optional: kept when empty
}

// UsageSummary is the display form of a user's current-month entitlement.
type UsageSummary struct {
	Entitlement
	Plan      PlanTier
	MonthKey  string
	Remaining int64
	ResetAt   time.Time
}
