// Package service contains the business logic layer.
//
// This file implements the entitlement gate: it decides whether a user may
// perform a metered action this month and records the consumption.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/quill/internal/domain"
	"github.com/DukeRupert/quill/internal/metrics"
	"github.com/DukeRupert/quill/internal/store"
	"github.com/DukeRupert/quill/internal/watch"
)

// =============================================================================
// Interface Definition
// =============================================================================

// EntitlementGate defines operations for metered-action quota.
type EntitlementGate interface {
	// CheckEntitlement reports whether the user may perform a metered action.
	// A user without a subscription gets the free default, which is persisted.
	CheckEntitlement(ctx context.Context, userID string) (domain.Entitlement, error)

	// Consume records one metered action for the current month. It does not
	// check the limit; callers check first. Two callers that both pass the
	// check before either consumes can exceed the limit. Use TryConsume to
	// avoid that.
	Consume(ctx context.Context, userID string) (*domain.UsageRecord, error)

	// TryConsume checks and consumes in one atomic step. It returns a
	// *domain.QuotaError when the limit is reached.
	TryConsume(ctx context.Context, userID string) (*domain.UsageRecord, domain.Entitlement, error)

	// ApplyPlanChange updates the subscription after the payment provider
	// confirms a plan change, and resets the token balance for the new tier.
	ApplyPlanChange(ctx context.Context, change domain.PlanChange) (*domain.Subscription, error)

	// Subscription returns the user's subscription, creating the default.
	Subscription(ctx context.Context, userID string) (*domain.Subscription, error)

	// Usage returns the current month's entitlement with display fields.
	Usage(ctx context.Context, userID string) (*domain.UsageSummary, error)

	// SubscriptionByCustomer finds the subscription linked to a payment
	// provider customer. It never creates one.
	SubscriptionByCustomer(ctx context.Context, customerID string) (*domain.Subscription, error)
}

// =============================================================================
// Implementation
// =============================================================================

type entitlementGate struct {
	subs    store.SubscriptionStore
	usage   store.UsageStore
	changes *watch.Registry[*domain.Subscription]
	logger  *slog.Logger
	now     func() time.Time
}

// NewEntitlementGate creates a new EntitlementGate. changes may be nil.
// now defaults to time.Now.
func NewEntitlementGate(
	subs store.SubscriptionStore,
	usage store.UsageStore,
	changes *watch.Registry[*domain.Subscription],
	logger *slog.Logger,
	now func() time.Time,
) EntitlementGate {
	if now == nil {
		now = time.Now
	}
	return &entitlementGate{
		subs:    subs,
		usage:   usage,
		changes: changes,
		logger:  logger,
		now:     now,
	}
}

func (g *entitlementGate) CheckEntitlement(ctx context.Context, userID string) (domain.Entitlement, error) {
	const op = "entitlement.check"

	if userID == "" {
		return domain.Entitlement{}, domain.Unauthorized(op, "")
	}

	sub, err := g.loadSubscription(ctx, op, userID)
	if err != nil {
		return domain.Entitlement{}, err
	}

	used, err := g.currentCount(ctx, op, userID)
	if err != nil {
		return domain.Entitlement{}, err
	}

	e := domain.Decide(sub.Tier, used, domain.ResolveLimit(sub, sub.Plan()))
	if !e.Allowed {
		metrics.QuotaDenialsTotal.WithLabelValues(string(e.Tier)).Inc()
		g.logger.Info("rating quota reached",
			"user_id", userID,
			"tier", e.Tier,
			"used", e.Used,
			"limit", e.Limit,
		)
	}
	return e, nil
}

func (g *entitlementGate) Consume(ctx context.Context, userID string) (*domain.UsageRecord, error) {
	const op = "entitlement.consume"

	if userID == "" {
		return nil, domain.Unauthorized(op, "")
	}

	sub, err := g.loadSubscription(ctx, op, userID)
	if err != nil {
		return nil, err
	}

	now := g.now()
	rec, err := g.usage.IncrementUsage(ctx, userID, domain.MonthKey(now), sub.Tier, now)
	if err != nil {
		g.logger.Error("failed to increment usage", "error", err, "op", op, "user_id", userID)
		return nil, domain.Unavailable(err, op, "")
	}

	metrics.UsageConsumedTotal.WithLabelValues(string(sub.Tier)).Inc()
	g.logger.Debug("usage consumed", "user_id", userID, "month", rec.MonthKey, "count", rec.Count)
	return rec, nil
}

func (g *entitlementGate) TryConsume(ctx context.Context, userID string) (*domain.UsageRecord, domain.Entitlement, error) {
	const op = "entitlement.try_consume"

	if userID == "" {
		return nil, domain.Entitlement{}, domain.Unauthorized(op, "")
	}

	sub, err := g.loadSubscription(ctx, op, userID)
	if err != nil {
		return nil, domain.Entitlement{}, err
	}

	now := g.now()
	monthKey := domain.MonthKey(now)
	limit := domain.ResolveLimit(sub, sub.Plan())

	if limit == domain.Unlimited {
		rec, err := g.usage.IncrementUsage(ctx, userID, monthKey, sub.Tier, now)
		if err != nil {
			g.logger.Error("failed to increment usage", "error", err, "op", op, "user_id", userID)
			return nil, domain.Entitlement{}, domain.Unavailable(err, op, "")
		}
		metrics.UsageConsumedTotal.WithLabelValues(string(sub.Tier)).Inc()
		return rec, domain.Decide(sub.Tier, rec.Count, limit), nil
	}

	rec, ok, err := g.usage.IncrementUsageIfBelow(ctx, userID, monthKey, sub.Tier, limit, now)
	if err != nil {
		g.logger.Error("failed to increment usage", "error", err, "op", op, "user_id", userID)
		return nil, domain.Entitlement{}, domain.Unavailable(err, op, "")
	}

	var used int64
	if rec != nil {
		used = rec.Count
	}

	if !ok {
		metrics.QuotaDenialsTotal.WithLabelValues(string(sub.Tier)).Inc()
		g.logger.Info("rating quota reached",
			"user_id", userID,
			"tier", sub.Tier,
			"used", used,
			"limit", limit,
		)
		return rec, domain.Decide(sub.Tier, used, limit), domain.QuotaExceeded(op, sub.Tier, used, limit)
	}

	// Used includes this consumption, which was granted.
	e := domain.Decide(sub.Tier, used, limit)
	e.Allowed = true

	metrics.UsageConsumedTotal.WithLabelValues(string(sub.Tier)).Inc()
	return rec, e, nil
}

func (g *entitlementGate) ApplyPlanChange(ctx context.Context, change domain.PlanChange) (*domain.Subscription, error) {
	const op = "entitlement.apply_plan_change"

	if change.UserID == "" {
		return nil, domain.Invalid(op, "user ID is required")
	}
	if !change.Tier.IsValid() {
		return nil, domain.Invalid(op, "unknown plan tier")
	}
	if !change.Status.IsValid() {
		return nil, domain.Invalid(op, "unknown subscription status")
	}

	sub, err := g.loadSubscription(ctx, op, change.UserID)
	if err != nil {
		return nil, err
	}

	tier := change.Tier
	if change.Status == domain.SubscriptionStatusCanceled {
		tier = domain.TierFree
	}
	balance := domain.PlanFor(tier).MonthlyAllowance

	previous := sub.Tier
	sub.Tier = tier
	sub.Status = change.Status
	sub.TokenBalance = &balance
	if change.StripeCustomerID != "" {
		sub.StripeCustomerID = change.StripeCustomerID
	}
	if change.StripeSubscriptionID != "" {
		sub.StripeSubscriptionID = change.StripeSubscriptionID
	}
	sub.UpdatedAt = g.now()

	if err := g.subs.UpdateSubscription(ctx, sub); err != nil {
		g.logger.Error("failed to update subscription", "error", err, "op", op, "user_id", sub.UserID)
		return nil, domain.Unavailable(err, op, "")
	}

	metrics.PlanChangesTotal.WithLabelValues(string(tier), string(change.Status)).Inc()
	g.logger.Info("subscription plan changed",
		"user_id", sub.UserID,
		"from_tier", previous,
		"to_tier", tier,
		"status", sub.Status,
	)
	g.publish(sub)
	return sub, nil
}

func (g *entitlementGate) Subscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	const op = "entitlement.subscription"

	if userID == "" {
		return nil, domain.Unauthorized(op, "")
	}
	return g.loadSubscription(ctx, op, userID)
}

func (g *entitlementGate) Usage(ctx context.Context, userID string) (*domain.UsageSummary, error) {
	const op = "entitlement.usage"

	if userID == "" {
		return nil, domain.Unauthorized(op, "")
	}

	sub, err := g.loadSubscription(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	used, err := g.currentCount(ctx, op, userID)
	if err != nil {
		return nil, err
	}

	now := g.now()
	e := domain.Decide(sub.Tier, used, domain.ResolveLimit(sub, sub.Plan()))
	return &domain.UsageSummary{
		Entitlement: e,
		Plan:        sub.Plan(),
		MonthKey:    domain.MonthKey(now),
		Remaining:   e.Remaining(),
		ResetAt:     domain.NextMonthStart(now),
	}, nil
}

func (g *entitlementGate) SubscriptionByCustomer(ctx context.Context, customerID string) (*domain.Subscription, error) {
	const op = "entitlement.subscription_by_customer"

	if customerID == "" {
		return nil, domain.Invalid(op, "customer ID is required")
	}
	sub, err := g.subs.GetSubscriptionByStripeCustomer(ctx, customerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFound(op, "subscription for customer", customerID)
	}
	if err != nil {
		g.logger.Error("failed to get subscription by customer", "error", err, "op", op, "customer_id", customerID)
		return nil, domain.Unavailable(err, op, "")
	}
	return sub, nil
}

// =============================================================================
// Helpers
// =============================================================================

// loadSubscription returns the user's subscription, creating and persisting
// the free default when none exists.
func (g *entitlementGate) loadSubscription(ctx context.Context, op, userID string) (*domain.Subscription, error) {
	sub, err := g.subs.GetSubscription(ctx, userID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		g.logger.Error("failed to get subscription", "error", err, "op", op, "user_id", userID)
		return nil, domain.Unavailable(err, op, "")
	}

	sub, err = g.subs.CreateSubscription(ctx, domain.NewDefaultSubscription(userID, g.now()))
	if err != nil {
		g.logger.Error("failed to create default subscription", "error", err, "op", op, "user_id", userID)
		return nil, domain.Unavailable(err, op, "")
	}

	g.logger.Info("default subscription created", "user_id", userID, "tier", sub.Tier)
	g.publish(sub)
	return sub, nil
}

// currentCount returns this month's usage count; an absent record is zero.
func (g *entitlementGate) currentCount(ctx context.Context, op, userID string) (int64, error) {
	rec, err := g.usage.GetUsage(ctx, userID, domain.MonthKey(g.now()))
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		g.logger.Error("failed to get usage", "error", err, "op", op, "user_id", userID)
		return 0, domain.Unavailable(err, op, "")
	}
	return rec.Count, nil
}

func (g *entitlementGate) publish(sub *domain.Subscription) {
	if g.changes == nil {
		return
	}
	c := *sub
	g.changes.Publish(sub.UserID, &c)
}
