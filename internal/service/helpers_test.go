package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/quill/internal/domain"
	"github.com/DukeRupert/quill/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClock is a settable clock for services.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var errConnRefused = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")

// failingStore wraps the memory store and fails selected operations.
type failingStore struct {
	*memory.Store
	failGetSubscription bool
	failUpdatePost      bool
	failIncrement       bool
}

func (s *failingStore) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	if s.failGetSubscription {
		return nil, errConnRefused
	}
	return s.Store.GetSubscription(ctx, userID)
}

func (s *failingStore) UpdatePost(ctx context.Context, p *domain.Post) error {
	if s.failUpdatePost {
		return errConnRefused
	}
	return s.Store.UpdatePost(ctx, p)
}

func (s *failingStore) IncrementUsage(ctx context.Context, userID, monthKey string, tier domain.TierID, now time.Time) (*domain.UsageRecord, error) {
	if s.failIncrement {
		return nil, errConnRefused
	}
	return s.Store.IncrementUsage(ctx, userID, monthKey, tier, now)
}
