package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/quill/internal/ai"
	"github.com/DukeRupert/quill/internal/ai/mock"
	"github.com/DukeRupert/quill/internal/domain"
	"github.com/DukeRupert/quill/internal/store"
	"github.com/DukeRupert/quill/internal/store/memory"
)

type ratingFixture struct {
	svc    RatingService
	posts  PostService
	store  store.Store
	scorer *mock.Provider
}

func newRatingFixture(t *testing.T, st store.Store, atomic bool) ratingFixture {
	t.Helper()
	if st == nil {
		st = memory.New()
	}
	clock := newTestClock(time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC))
	posts := NewPostService(st, nil, testLogger(), clock.Now)
	gate := NewEntitlementGate(st, st, nil, testLogger(), clock.Now)
	scorer := mock.New(testLogger())

	return ratingFixture{
		svc:    NewRatingService(posts, gate, scorer, atomic, testLogger()),
		posts:  posts,
		store:  st,
		scorer: scorer,
	}
}

func (f ratingFixture) post(t *testing.T) *domain.Post {
	t.Helper()
	p, err := f.posts.Create(context.Background(), domain.CreatePostParams{UserID: "u1", Title: "T", Body: "Some words here."})
	require.NoError(t, err)
	return p
}

func (f ratingFixture) used(t *testing.T) int64 {
	t.Helper()
	rec, err := f.store.GetUsage(context.Background(), "u1", "2026-07")
	if err == store.ErrNotFound {
		return 0
	}
	require.NoError(t, err)
	return rec.Count
}

func TestRatingService_Rate(t *testing.T) {
	for _, atomic := range []bool{false, true} {
		t.Run(fmt.Sprintf("atomic=%v", atomic), func(t *testing.T) {
			f := newRatingFixture(t, nil, atomic)
			p := f.post(t)
			f.scorer.ScoreResponse = &ai.ScoreResult{Score: 9, Feedback: "Great hook."}

			res, err := f.svc.Rate(context.Background(), "u1", p.ID)
			require.NoError(t, err)

			require.NotNil(t, res.Post.Rating)
			assert.Equal(t, 9, *res.Post.Rating)
			assert.Equal(t, "Great hook.", res.Post.Feedback)
			assert.NotNil(t, res.Post.RatedAt)
			assert.Equal(t, int64(1), res.Usage.Count)
			assert.Equal(t, int64(1), f.used(t))
			assert.Equal(t, 1, f.scorer.Calls())
			assert.Equal(t, "Some words here.", f.scorer.LastParams.Body)
		})
	}
}

func TestRatingService_QuotaExceededSkipsScorer(t *testing.T) {
	for _, atomic := range []bool{false, true} {
		t.Run(fmt.Sprintf("atomic=%v", atomic), func(t *testing.T) {
			f := newRatingFixture(t, nil, atomic)
			p := f.post(t)

			for i := int64(0); i < domain.DefaultStartingTokens; i++ {
				_, err := f.svc.Rate(context.Background(), "u1", p.ID)
				require.NoError(t, err)
			}

			_, err := f.svc.Rate(context.Background(), "u1", p.ID)
			require.Error(t, err)
			qe, ok := domain.AsQuotaError(err)
			require.True(t, ok)
			assert.Equal(t, domain.DefaultStartingTokens, qe.Used)
			assert.Equal(t, domain.DefaultStartingTokens, qe.Limit)

			assert.Equal(t, int(domain.DefaultStartingTokens), f.scorer.Calls())
			assert.Equal(t, domain.DefaultStartingTokens, f.used(t))
		})
	}
}

func TestRatingService_ScorerFailure(t *testing.T) {
	tests := []struct {
		name     string
		atomic   bool
		err      error
		result   *ai.ScoreResult
		wantCode string
		wantUsed int64
	}{
		{"transient error is not consumed", false, ai.EAIUnavailable, nil, domain.EUNAVAILABLE, 0},
		{"invalid content", false, ai.EAIInvalidContent, nil, domain.EINVALID, 0},
		{"out of range score is rejected", false, nil, &ai.ScoreResult{Score: 0}, domain.EINTERNAL, 0},
		{"atomic mode has already consumed", true, ai.EAIUnavailable, nil, domain.EUNAVAILABLE, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRatingFixture(t, nil, tt.atomic)
			p := f.post(t)
			f.scorer.ScoreError = tt.err
			f.scorer.ScoreResponse = tt.result

			_, err := f.svc.Rate(context.Background(), "u1", p.ID)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, domain.ErrorCode(err))
			assert.Equal(t, tt.wantUsed, f.used(t))

			stored, err := f.posts.Get(context.Background(), "u1", p.ID)
			require.NoError(t, err)
			assert.Nil(t, stored.Rating)
		})
	}
}

func TestRatingService_MissingPost(t *testing.T) {
	f := newRatingFixture(t, nil, false)
	_, err := f.svc.Rate(context.Background(), "u1", domain.NewPost("u1", "", "", nil, time.Now()).ID)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
	assert.Equal(t, 0, f.scorer.Calls())
}

func TestRatingService_ConsumeFailure(t *testing.T) {
	st := &failingStore{Store: memory.New(), failIncrement: true}
	f := newRatingFixture(t, st, false)
	p := f.post(t)

	_, err := f.svc.Rate(context.Background(), "u1", p.ID)
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}
