// Package domain contains core business types and interfaces.
//
// This file defines the plan catalog: the static table of subscription tiers
// and their monthly rating allowances.
package domain

import "strings"

// TierID identifies a plan tier.
type TierID string

const (
	TierFree    TierID = "free"
	TierStarter TierID = "starter"
	TierPro     TierID = "pro"
)

// String returns the string representation of the tier.
func (t TierID) String() string {
	return string(t)
}

// IsValid returns true if the tier is in the catalog.
func (t TierID) IsValid() bool {
	_, ok := planCatalog[t]
	return ok
}

// ParseTier converts user-supplied input to a TierID.
// Unlike PlanFor, unknown values are reported rather than defaulted.
func ParseTier(s string) (TierID, bool) {
	t := TierID(strings.ToLower(strings.TrimSpace(s)))
	return t, t.IsValid()
}

// Unlimited is the reserved allowance and token-balance value meaning the
// metered action is never denied.
const Unlimited int64 = -1

// Feature names a capability gated by plan tier.
type Feature string

const (
	FeatureAIRating        Feature = "ai_rating"
	FeatureScheduling      Feature = "scheduling"
	FeaturePrioritySupport Feature = "priority_support"
)

// PlanTier describes a subscription level. Values are immutable.
type PlanTier struct {
	ID               TierID
	Name             string
	MonthlyAllowance int64 // Ratings per calendar month, or Unlimited
	Features         map[Feature]bool
}

// IsUnlimited returns true if the plan's allowance is the unlimited sentinel.
func (p PlanTier) IsUnlimited() bool {
	return p.MonthlyAllowance == Unlimited
}

// Allows returns true if the plan includes the feature.
func (p PlanTier) Allows(f Feature) bool {
	return p.Features[f]
}

// DefaultStartingTokens is the token balance given to a lazily created
// free subscription. It matches the free allowance.
const DefaultStartingTokens int64 = 5

var planCatalog = map[TierID]PlanTier{
	TierFree: {
		ID:               TierFree,
		Name:             "Free",
		MonthlyAllowance: DefaultStartingTokens,
		Features: map[Feature]bool{
			FeatureAIRating:        true,
			FeatureScheduling:      true,
			FeaturePrioritySupport: false,
		},
	},
	TierStarter: {
		ID:               TierStarter,
		Name:             "Starter",
		MonthlyAllowance: 20,
		Features: map[Feature]bool{
			FeatureAIRating:        true,
			FeatureScheduling:      true,
			FeaturePrioritySupport: false,
		},
	},
	TierPro: {
		ID:               TierPro,
		Name:             "Pro",
		MonthlyAllowance: Unlimited,
		Features: map[Feature]bool{
			FeatureAIRating:        true,
			FeatureScheduling:      true,
			FeaturePrioritySupport: true,
		},
	},
}

// PlanFor returns the plan for a tier, defaulting to free for unknown tiers.
// Tier identifiers come from stored subscriptions, not end users.
func PlanFor(tier TierID) PlanTier {
	if plan, ok := planCatalog[tier]; ok {
		return plan
	}
	return planCatalog[TierFree]
}

// Plans returns the catalog ordered from lowest to highest tier.
func Plans() []PlanTier {
	return []PlanTier{
		planCatalog[TierFree],
		planCatalog[TierStarter],
		planCatalog[TierPro],
	}
}
