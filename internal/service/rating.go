package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/DukeRupert/quill/internal/ai"
	"github.com/DukeRupert/quill/internal/domain"
	"github.com/DukeRupert/quill/internal/metrics"
)

// RatingResult is the outcome of a successful rating.
type RatingResult struct {
	Post        *domain.Post
	Entitlement domain.Entitlement // As of the check, before this rating was consumed
	Usage       *domain.UsageRecord
}

// RatingService gates, scores and records AI ratings of posts.
type RatingService interface {
	Rate(ctx context.Context, userID string, postID uuid.UUID) (*RatingResult, error)
}

type ratingService struct {
	posts  PostService
	gate   EntitlementGate
	scorer ai.Scorer
	atomic bool
	logger *slog.Logger
}

// NewRatingService creates a new RatingService.
//
// With atomic false the entitlement is checked, the post is scored and the
// usage is consumed afterwards, so concurrent ratings by the same user can
// overrun the limit. With atomic true the usage is consumed up front by
// TryConsume, and a scoring failure still counts against the month.
func NewRatingService(posts PostService, gate EntitlementGate, scorer ai.Scorer, atomic bool, logger *slog.Logger) RatingService {
	return &ratingService{
		posts:  posts,
		gate:   gate,
		scorer: scorer,
		atomic: atomic,
		logger: logger,
	}
}

func (s *ratingService) Rate(ctx context.Context, userID string, postID uuid.UUID) (*RatingResult, error) {
	const op = "rating.rate"

	post, err := s.posts.Get(ctx, userID, postID)
	if err != nil {
		return nil, err
	}

	var (
		ent   domain.Entitlement
		usage *domain.UsageRecord
	)

	if s.atomic {
		usage, ent, err = s.gate.TryConsume(ctx, userID)
		if err != nil {
			if domain.ErrorCode(err) == domain.EQUOTA {
				metrics.PostsRated.WithLabelValues("quota").Inc()
			}
			return nil, err
		}
	} else {
		ent, err = s.gate.CheckEntitlement(ctx, userID)
		if err != nil {
			return nil, err
		}
		if !ent.Allowed {
			metrics.PostsRated.WithLabelValues("quota").Inc()
			return nil, domain.QuotaExceeded(op, ent.Tier, ent.Used, ent.Limit)
		}
	}

	result, err := s.scorer.Score(ctx, ai.ScoreParams{
		UserID: userID,
		PostID: post.ID,
		Title:  post.Title,
		Body:   post.Body,
		Tags:   post.Tags,
	})
	if err == nil {
		err = ai.ValidateResult(result)
	}
	if err != nil {
		metrics.PostsRated.WithLabelValues("failed").Inc()
		s.logger.Warn("post scoring failed", "error", err, "op", op, "post_id", post.ID)
		return nil, scorerError(op, err)
	}

	if !s.atomic {
		usage, err = s.gate.Consume(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	rated, err := s.posts.SaveRating(ctx, userID, post.ID, result.Score, result.Feedback)
	if err != nil {
		return nil, err
	}

	metrics.PostsRated.WithLabelValues("rated").Inc()
	s.logger.Info("post rated",
		"post_id", rated.ID,
		"user_id", userID,
		"score", result.Score,
		"month", usage.MonthKey,
		"used", usage.Count,
	)
	return &RatingResult{Post: rated, Entitlement: ent, Usage: usage}, nil
}

func scorerError(op string, err error) error {
	switch {
	case ai.IsRetryable(err):
		return domain.Unavailable(err, op, "The rating service is busy. Please try again shortly.")
	case errors.Is(err, ai.EAIInvalidContent):
		return domain.Wrap(err, domain.EINVALID, op, "This post cannot be rated. Add some content and try again.")
	default:
		return domain.Internal(err, op, "rating failed")
	}
}
