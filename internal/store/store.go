// Package store defines the persistence contracts for subscriptions, usage
// records, posts, and billing events.
//
// Implementations live in the memory and postgres subpackages. Stores return
// ErrNotFound for absent records; any other error is a store failure that the
// service layer reports as transient.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/DukeRupert/quill/internal/domain"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// SubscriptionStore persists one Subscription per user.
type SubscriptionStore interface {
	// GetSubscription returns ErrNotFound if the user has no subscription.
	GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error)

	// CreateSubscription inserts sub unless the user already has one, and
	// returns whichever record is stored afterwards.
	CreateSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error)

	// UpdateSubscription overwrites the stored record.
	// Returns ErrNotFound if the user has no subscription.
	UpdateSubscription(ctx context.Context, sub *domain.Subscription) error

	// GetSubscriptionByStripeCustomer looks a subscription up by the
	// payment provider's customer ID.
	GetSubscriptionByStripeCustomer(ctx context.Context, customerID string) (*domain.Subscription, error)
}

// UsageStore persists UsageRecords keyed by (user, month).
type UsageStore interface {
	// GetUsage returns ErrNotFound if nothing was consumed that month.
	GetUsage(ctx context.Context, userID, monthKey string) (*domain.UsageRecord, error)

	// IncrementUsage adds one to the month's count, creating the record
	// with count 1 on first use.
	IncrementUsage(ctx context.Context, userID, monthKey string, tier domain.TierID, now time.Time) (*domain.UsageRecord, error)

	// IncrementUsageIfBelow atomically adds one only when the current count
	// is below limit. It returns the record after the attempt and whether
	// the increment happened. The record is nil when none exists.
	IncrementUsageIfBelow(ctx context.Context, userID, monthKey string, tier domain.TierID, limit int64, now time.Time) (*domain.UsageRecord, bool, error)
}

// PostStore persists posts, scoped by owner.
type PostStore interface {
	CreatePost(ctx context.Context, post *domain.Post) error
	GetPost(ctx context.Context, userID string, id uuid.UUID) (*domain.Post, error)
	ListPosts(ctx context.Context, params domain.ListPostsParams) ([]*domain.Post, error)
	UpdatePost(ctx context.Context, post *domain.Post) error
	DeletePost(ctx context.Context, userID string, id uuid.UUID) error

	// CountScheduledBefore counts scheduled posts of all users whose
	// scheduled time is before the cutoff.
	CountScheduledBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// BillingEventStore records processed payment webhook events.
type BillingEventStore interface {
	// RecordBillingEvent stores the event and reports whether it was new.
	RecordBillingEvent(ctx context.Context, eventID, eventType string, payload []byte, receivedAt time.Time) (bool, error)
}

// Store is the full set of persistence operations.
type Store interface {
	SubscriptionStore
	UsageStore
	PostStore
	BillingEventStore
}
