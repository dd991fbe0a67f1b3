// Package memory provides an in-process implementation of store.Store.
// It is used in development and tests. Records are copied on the way in and
// out so callers never share mutable state with the store.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/DukeRupert/quill/internal/domain"
	"github.com/DukeRupert/quill/internal/store"
	"github.com/google/uuid"
)

type billingEvent struct {
	eventType  string
	payload    []byte
	receivedAt time.Time
}

// Store is an in-memory store.Store. Data is lost on restart.
type Store struct {
	mu sync.RWMutex

	subscriptions map[string]*domain.Subscription
	usage         map[string]*domain.UsageRecord // keyed by domain.UsageDocumentID
	posts         map[string]map[uuid.UUID]*domain.Post
	billingEvents map[string]billingEvent
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		subscriptions: make(map[string]*domain.Subscription),
		usage:         make(map[string]*domain.UsageRecord),
		posts:         make(map[string]map[uuid.UUID]*domain.Post),
		billingEvents: make(map[string]billingEvent),
	}
}

// Subscription Store implementation

func (s *Store) GetSubscription(_ context.Context, userID string) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[userID]; ok {
		return cloneSubscription(sub), nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateSubscription(_ context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.subscriptions[sub.UserID]; ok {
		return cloneSubscription(existing), nil
	}
	s.subscriptions[sub.UserID] = cloneSubscription(sub)
	return cloneSubscription(sub), nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub *domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.UserID]; !ok {
		return store.ErrNotFound
	}
	s.subscriptions[sub.UserID] = cloneSubscription(sub)
	return nil
}

func (s *Store) GetSubscriptionByStripeCustomer(_ context.Context, customerID string) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if customerID == "" {
		return nil, store.ErrNotFound
	}
	for _, sub := range s.subscriptions {
		if sub.StripeCustomerID == customerID {
			return cloneSubscription(sub), nil
		}
	}
	return nil, store.ErrNotFound
}

// Usage Store implementation

func (s *Store) GetUsage(_ context.Context, userID, monthKey string) (*domain.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.usage[domain.UsageDocumentID(userID, monthKey)]; ok {
		c := *rec
		return &c, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) IncrementUsage(_ context.Context, userID, monthKey string, tier domain.TierID, now time.Time) (*domain.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.incrementLocked(userID, monthKey, tier, now)
	c := *rec
	return &c, nil
}

func (s *Store) IncrementUsageIfBelow(_ context.Context, userID, monthKey string, tier domain.TierID, limit int64, now time.Time) (*domain.UsageRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.UsageDocumentID(userID, monthKey)
	var count int64
	if rec, ok := s.usage[key]; ok {
		count = rec.Count
	}
	if count >= limit {
		if rec, ok := s.usage[key]; ok {
			c := *rec
			return &c, false, nil
		}
		return nil, false, nil
	}

	rec := s.incrementLocked(userID, monthKey, tier, now)
	c := *rec
	return &c, true, nil
}

func (s *Store) incrementLocked(userID, monthKey string, tier domain.TierID, now time.Time) *domain.UsageRecord {
	key := domain.UsageDocumentID(userID, monthKey)
	rec, ok := s.usage[key]
	if !ok {
		rec = &domain.UsageRecord{
			UserID:    userID,
			MonthKey:  monthKey,
			CreatedAt: now,
		}
		s.usage[key] = rec
	}
	rec.Count++
	rec.Tier = tier
	rec.UpdatedAt = now
	return rec
}

// Post Store implementation

func (s *Store) CreatePost(_ context.Context, post *domain.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userPosts, ok := s.posts[post.UserID]
	if !ok {
		userPosts = make(map[uuid.UUID]*domain.Post)
		s.posts[post.UserID] = userPosts
	}
	userPosts[post.ID] = post.Clone()
	return nil
}

func (s *Store) GetPost(_ context.Context, userID string, id uuid.UUID) (*domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.posts[userID][id]; ok {
		return p.Clone(), nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListPosts(_ context.Context, params domain.ListPostsParams) ([]*domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Post, 0, len(s.posts[params.UserID]))
	for _, p := range s.posts[params.UserID] {
		if params.Status == "" || p.Status == params.Status {
			result = append(result, p.Clone())
		}
	}

	// Newest first, matching the postgres ordering
	slices.SortFunc(result, func(a, b *domain.Post) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return result, nil
}

func (s *Store) UpdatePost(_ context.Context, post *domain.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[post.UserID][post.ID]; !ok {
		return store.ErrNotFound
	}
	s.posts[post.UserID][post.ID] = post.Clone()
	return nil
}

func (s *Store) DeletePost(_ context.Context, userID string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[userID][id]; !ok {
		return store.ErrNotFound
	}
	delete(s.posts[userID], id)
	return nil
}

func (s *Store) CountScheduledBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, userPosts := range s.posts {
		for _, p := range userPosts {
			if p.IsScheduled() && p.ScheduledAt.Before(cutoff) {
				n++
			}
		}
	}
	return n, nil
}

// Billing Event Store implementation

func (s *Store) RecordBillingEvent(_ context.Context, eventID, eventType string, payload []byte, receivedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.billingEvents[eventID]; exists {
		return false, nil
	}
	s.billingEvents[eventID] = billingEvent{
		eventType:  eventType,
		payload:    slices.Clone(payload),
		receivedAt: receivedAt,
	}
	return true, nil
}

func cloneSubscription(sub *domain.Subscription) *domain.Subscription {
	c := *sub
	if sub.TokenBalance != nil {
		b := *sub.TokenBalance
		c.TokenBalance = &b
	}
	return &c
}
