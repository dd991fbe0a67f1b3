// Package service contains the business logic layer.
//
// This file implements the post service: CRUD plus the lifecycle
// transitions guarded by domain.PostStatus.Target.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/DukeRupert/quill/internal/domain"
	"github.com/DukeRupert/quill/internal/metrics"
	"github.com/DukeRupert/quill/internal/store"
	"github.com/DukeRupert/quill/internal/watch"
)

const (
	MaxTitleLength = 300
	MaxBodyLength  = 100_000
	MaxTags        = 20
)

// =============================================================================
// Interface Definition
// =============================================================================

// PostService defines operations for managing posts.
type PostService interface {
	Create(ctx context.Context, params domain.CreatePostParams) (*domain.Post, error)
	Get(ctx context.Context, userID string, id uuid.UUID) (*domain.Post, error)
	List(ctx context.Context, params domain.ListPostsParams) ([]*domain.Post, error)

	// Edit applies the fields that differ from the stored post. When nothing
	// differs the post is returned without a write.
	Edit(ctx context.Context, userID string, id uuid.UUID, edit domain.PostEdit) (*domain.Post, error)

	// Schedule sets the publication time, which must be in the future.
	// A scheduled post may be rescheduled.
	Schedule(ctx context.Context, userID string, id uuid.UUID, at time.Time) (*domain.Post, error)
	Unschedule(ctx context.Context, userID string, id uuid.UUID) (*domain.Post, error)
	Publish(ctx context.Context, userID string, id uuid.UUID) (*domain.Post, error)
	Revert(ctx context.Context, userID string, id uuid.UUID) (*domain.Post, error)
	Delete(ctx context.Context, userID string, id uuid.UUID) error

	// SaveRating stores an AI score (1-10) and feedback on the post.
	SaveRating(ctx context.Context, userID string, id uuid.UUID, score int, feedback string) (*domain.Post, error)
}

// =============================================================================
// Implementation
// =============================================================================

type postService struct {
	posts   store.PostStore
	changes *watch.Registry[domain.PostChange]
	logger  *slog.Logger
	now     func() time.Time
}

// NewPostService creates a new PostService. changes may be nil.
func NewPostService(
	posts store.PostStore,
	changes *watch.Registry[domain.PostChange],
	logger *slog.Logger,
	now func() time.Time,
) PostService {
	if now == nil {
		now = time.Now
	}
	return &postService{
		posts:   posts,
		changes: changes,
		logger:  logger,
		now:     now,
	}
}

func (s *postService) Create(ctx context.Context, params domain.CreatePostParams) (*domain.Post, error) {
	const op = "post.create"

	if params.UserID == "" {
		return nil, domain.Unauthorized(op, "")
	}

	tags := params.Tags
	if err := validatePostFields(op, &params.Title, &params.Body, &tags); err != nil {
		return nil, err
	}

	post := domain.NewPost(params.UserID, params.Title, params.Body, tags, s.now())
	if err := s.posts.CreatePost(ctx, post); err != nil {
		s.logger.Error("failed to create post", "error", err, "op", op, "user_id", params.UserID)
		return nil, domain.Unavailable(err, op, "")
	}

	metrics.PostsCreated.Inc()
	s.logger.Info("post created", "post_id", post.ID, "user_id", post.UserID)
	s.publish(domain.PostCreated, post)
	return post, nil
}

func (s *postService) Get(ctx context.Context, userID string, id uuid.UUID) (*domain.Post, error) {
	return s.load(ctx, "post.get", userID, id)
}

func (s *postService) List(ctx context.Context, params domain.ListPostsParams) ([]*domain.Post, error) {
	const op = "post.list"

	if params.UserID == "" {
		return nil, domain.Unauthorized(op, "")
	}
	if params.Status != "" && !params.Status.IsValid() {
		return nil, domain.Invalid(op, "unknown post status")
	}

	posts, err := s.posts.ListPosts(ctx, params)
	if err != nil {
		s.logger.Error("failed to list posts", "error", err, "op", op, "user_id", params.UserID)
		return nil, domain.Unavailable(err, op, "")
	}
	return posts, nil
}

func (s *postService) Edit(ctx context.Context, userID string, id uuid.UUID, edit domain.PostEdit) (*domain.Post, error) {
	const op = "post.edit"

	if err := validatePostFields(op, edit.Title, edit.Body, edit.Tags); err != nil {
		return nil, err
	}

	post, err := s.load(ctx, op, userID, id)
	if err != nil {
		return nil, err
	}

	changed := post.ApplyEdit(edit, s.now())
	if len(changed) == 0 {
		return post, nil
	}

	if err := s.posts.UpdatePost(ctx, post); err != nil {
		return nil, s.writeError(op, post.ID, err)
	}

	s.logger.Debug("post edited", "post_id", post.ID, "fields", changed)
	s.publish(domain.PostUpdated, post)
	return post, nil
}

func (s *postService) Schedule(ctx context.Context, userID string, id uuid.UUID, at time.Time) (*domain.Post, error) {
	return s.transition(ctx, "post.schedule", domain.PostEventSchedule, userID, id, func(p *domain.Post, now time.Time) error {
		return p.Schedule(at, now)
	})
}

func (s *postService) Unschedule(ctx context.Context, userID string, id uuid.UUID) (*domain.Post, error) {
	return s.transition(ctx, "post.unschedule", domain.PostEventUnschedule, userID, id, (*domain.Post).Unschedule)
}

func (s *postService) Publish(ctx context.Context, userID string, id uuid.UUID) (*domain.Post, error) {
	return s.transition(ctx, "post.publish", domain.PostEventPublish, userID, id, (*domain.Post).Publish)
}

func (s *postService) Revert(ctx context.Context, userID string, id uuid.UUID) (*domain.Post, error) {
	return s.transition(ctx, "post.revert", domain.PostEventRevert, userID, id, (*domain.Post).Revert)
}

func (s *postService) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	const op = "post.delete"

	if userID == "" {
		return domain.Unauthorized(op, "")
	}

	if err := s.posts.DeletePost(ctx, userID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NotFound(op, "post", id.String())
		}
		s.logger.Error("failed to delete post", "error", err, "op", op, "post_id", id)
		return domain.Unavailable(err, op, "")
	}

	s.logger.Info("post deleted", "post_id", id, "user_id", userID)
	if s.changes != nil {
		s.changes.Publish(userID, domain.PostChange{Kind: domain.PostDeleted, PostID: id})
	}
	return nil
}

func (s *postService) SaveRating(ctx context.Context, userID string, id uuid.UUID, score int, feedback string) (*domain.Post, error) {
	const op = "post.save_rating"

	if score < 1 || score > 10 {
		return nil, domain.Invalid(op, "rating must be between 1 and 10")
	}

	post, err := s.load(ctx, op, userID, id)
	if err != nil {
		return nil, err
	}

	post.SetRating(score, feedback, s.now())
	if err := s.posts.UpdatePost(ctx, post); err != nil {
		return nil, s.writeError(op, post.ID, err)
	}

	s.logger.Info("post rated", "post_id", post.ID, "score", score)
	s.publish(domain.PostUpdated, post)
	return post, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (s *postService) load(ctx context.Context, op, userID string, id uuid.UUID) (*domain.Post, error) {
	if userID == "" {
		return nil, domain.Unauthorized(op, "")
	}

	post, err := s.posts.GetPost(ctx, userID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NotFound(op, "post", id.String())
		}
		s.logger.Error("failed to get post", "error", err, "op", op, "post_id", id)
		return nil, domain.Unavailable(err, op, "")
	}
	return post, nil
}

// transition loads the post, applies a lifecycle event and persists it.
// A rejected event is returned before anything is written.
func (s *postService) transition(
	ctx context.Context,
	op string,
	event domain.PostEvent,
	userID string,
	id uuid.UUID,
	apply func(*domain.Post, time.Time) error,
) (*domain.Post, error) {
	post, err := s.load(ctx, op, userID, id)
	if err != nil {
		return nil, err
	}

	from := post.Status
	if err := apply(post, s.now()); err != nil {
		metrics.PostTransitionsTotal.WithLabelValues(string(event), "rejected").Inc()
		s.logger.Info("post transition rejected",
			"post_id", id,
			"status", from,
			"event", event,
			"reason", domain.ErrorMessage(err),
		)
		return nil, err
	}

	if err := s.posts.UpdatePost(ctx, post); err != nil {
		return nil, s.writeError(op, post.ID, err)
	}

	metrics.PostTransitionsTotal.WithLabelValues(string(event), "applied").Inc()
	s.logger.Info("post transitioned",
		"post_id", post.ID,
		"from", from,
		"to", post.Status,
		"event", event,
	)
	s.publish(domain.PostUpdated, post)
	return post, nil
}

func (s *postService) writeError(op string, id uuid.UUID, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.NotFound(op, "post", id.String())
	}
	s.logger.Error("failed to update post", "error", err, "op", op, "post_id", id)
	return domain.Unavailable(err, op, "")
}

func (s *postService) publish(kind domain.PostChangeKind, post *domain.Post) {
	if s.changes == nil {
		return
	}
	s.changes.Publish(post.UserID, domain.PostChange{Kind: kind, PostID: post.ID, Post: post.Clone()})
}

// validatePostFields checks the fields that are present. Nil means absent.
func validatePostFields(op string, title, body *string, tags *[]string) error {
	var verr *domain.ValidationError
	add := func(field, msg string) {
		if verr == nil {
			verr = domain.NewValidationError(op, field, msg)
			return
		}
		verr.Fields[field] = msg
	}

	if title != nil && utf8.RuneCountInString(*title) > MaxTitleLength {
		add("title", "Title is too long")
	}
	if body != nil && utf8.RuneCountInString(*body) > MaxBodyLength {
		add("body", "Body is too long")
	}
	if tags != nil && len(domain.NormalizeTags(*tags)) > MaxTags {
		add("tags", "Too many tags")
	}

	if verr != nil {
		return verr
	}
	return nil
}
