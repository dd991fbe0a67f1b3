// Package handler contains HTTP handlers for the Quill API.
//
// This file implements the post handlers.
//
// Routes handled:
//   - GET    /api/posts                  -> List
//   - POST   /api/posts                  -> Create
//   - GET    /api/posts/stream           -> Stream
//   - GET    /api/posts/{id}             -> Get
//   - PATCH  /api/posts/{id}             -> Edit
//   - DELETE /api/posts/{id}             -> Delete
//   - POST   /api/posts/{id}/schedule    -> Schedule
//   - POST   /api/posts/{id}/unschedule  -> Unschedule
//   - POST   /api/posts/{id}/publish     -> Publish
//   - POST   /api/posts/{id}/revert      -> Revert
//   - POST   /api/posts/{id}/rate        -> Rate
//   - PUT    /api/posts/{id}/draft       -> Autosave
//   - POST   /api/posts/{id}/draft/flush -> FlushDraft
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/quill/internal/autosave"
	"github.com/DukeRupert/quill/internal/domain"
	"github.com/DukeRupert/quill/internal/service"
	"github.com/DukeRupert/quill/internal/watch"
)

// PostHandler handles post HTTP requests.
type PostHandler struct {
	posts   service.PostService
	rating  service.RatingService
	drafts  *autosave.Manager
	changes *watch.Registry[domain.PostChange]
	logger  *slog.Logger
}

// NewPostHandler creates a new PostHandler. drafts and changes may be nil,
// which disables the autosave and stream routes.
func NewPostHandler(
	posts service.PostService,
	rating service.RatingService,
	drafts *autosave.Manager,
	changes *watch.Registry[domain.PostChange],
	logger *slog.Logger,
) *PostHandler {
	return &PostHandler{
		posts:   posts,
		rating:  rating,
		drafts:  drafts,
		changes: changes,
		logger:  logger,
	}
}

// RegisterRoutes registers post routes on the provided mux. limitRating
// wraps the rating route only.
func (h *PostHandler) RegisterRoutes(mux *http.ServeMux, requireUser, limitRating func(http.Handler) http.Handler) {
	mux.Handle("GET /api/posts", requireUser(http.HandlerFunc(h.List)))
	mux.Handle("POST /api/posts", requireUser(http.HandlerFunc(h.Create)))
	mux.Handle("GET /api/posts/{id}", requireUser(http.HandlerFunc(h.Get)))
	mux.Handle("PATCH /api/posts/{id}", requireUser(http.HandlerFunc(h.Edit)))
	mux.Handle("DELETE /api/posts/{id}", requireUser(http.HandlerFunc(h.Delete)))
	mux.Handle("POST /api/posts/{id}/schedule", requireUser(http.HandlerFunc(h.Schedule)))
	mux.Handle("POST /api/posts/{id}/unschedule", requireUser(http.HandlerFunc(h.Unschedule)))
	mux.Handle("POST /api/posts/{id}/publish", requireUser(http.HandlerFunc(h.Publish)))
	mux.Handle("POST /api/posts/{id}/revert", requireUser(http.HandlerFunc(h.Revert)))
	mux.Handle("POST /api/posts/{id}/rate", requireUser(limitRating(http.HandlerFunc(h.Rate))))

	if h.drafts != nil {
		mux.Handle("PUT /api/posts/{id}/draft", requireUser(http.HandlerFunc(h.Autosave)))
		mux.Handle("POST /api/posts/{id}/draft/flush", requireUser(http.HandlerFunc(h.FlushDraft)))
	}
	if h.changes != nil {
		mux.Handle("GET /api/posts/stream", requireUser(http.HandlerFunc(h.Stream)))
	}
}

// =============================================================================
// Request types
// =============================================================================

type createPostRequest struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags"`
}

// editPostRequest fields are optional; absent fields are left untouched.
type editPostRequest struct {
	Title *string   `json:"title"`
	Body  *string   `json:"body"`
	Tags  *[]string `json:"tags"`
}

type scheduleRequest struct {
	ScheduledAt time.Time `json:"scheduledAt"`
}

type draftRequest struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags"`
}

type ratingResponse struct {
	Post        PostResponse        `json:"post"`
	Entitlement EntitlementResponse `json:"entitlement"`
}

// =============================================================================
// Handlers
// =============================================================================

// List handles GET /api/posts with an optional ?status= filter.
func (h *PostHandler) List(w http.ResponseWriter, r *http.Request) {
	const op = "handler.post.list"

	uid, err := userID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	params := domain.ListPostsParams{UserID: uid}
	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.PostStatus(s)
		if !status.IsValid() {
			ErrorResponse(w, r, h.logger, domain.Invalid(op, "Unknown post status"))
			return
		}
		params.Status = status
	}

	posts, err := h.posts.List(r.Context(), params)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": newPostResponses(posts)})
}

// Create handles POST /api/posts. New posts are drafts.
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	const op = "handler.post.create"

	uid, err := userID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	var req createPostRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	post, err := h.posts.Create(r.Context(), domain.CreatePostParams{
		UserID: uid,
		Title:  req.Title,
		Body:   req.Body,
		Tags:   req.Tags,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	w.Header().Set("Location", "/api/posts/"+post.ID.String())
	writeJSON(w, http.StatusCreated, newPostResponse(post))
}

// Get handles GET /api/posts/{id}.
func (h *PostHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.withPost(w, r, "handler.post.get", func(ctx context.Context, uid string, id uuid.UUID) (*domain.Post, error) {
		return h.posts.Get(ctx, uid, id)
	})
}

// Edit handles PATCH /api/posts/{id}. Editing never changes status.
func (h *PostHandler) Edit(w http.ResponseWriter, r *http.Request) {
	const op = "handler.post.edit"

	var req editPostRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.withPost(w, r, op, func(ctx context.Context, uid string, id uuid.UUID) (*domain.Post, error) {
		post, err := h.posts.Edit(ctx, uid, id, domain.PostEdit{Title: req.Title, Body: req.Body, Tags: req.Tags})
		if err == nil && h.drafts != nil {
			h.drafts.Rebase(uid, post)
		}
		return post, err
	})
}

// Delete handles DELETE /api/posts/{id}.
func (h *PostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	const op = "handler.post.delete"

	uid, err := userID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	id, err := postID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if err := h.posts.Delete(r.Context(), uid, id); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Schedule handles POST /api/posts/{id}/schedule.
func (h *PostHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	const op = "handler.post.schedule"

	var req scheduleRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if req.ScheduledAt.IsZero() {
		ErrorResponse(w, r, h.logger, domain.NewValidationError(op, "scheduledAt", "Scheduled time is required"))
		return
	}

	h.withPost(w, r, op, func(ctx context.Context, uid string, id uuid.UUID) (*domain.Post, error) {
		return h.posts.Schedule(ctx, uid, id, req.ScheduledAt)
	})
}

// Unschedule handles POST /api/posts/{id}/unschedule.
func (h *PostHandler) Unschedule(w http.ResponseWriter, r *http.Request) {
	h.withPost(w, r, "handler.post.unschedule", h.posts.Unschedule)
}

// Publish handles POST /api/posts/{id}/publish.
func (h *PostHandler) Publish(w http.ResponseWriter, r *http.Request) {
	h.withPost(w, r, "handler.post.publish", h.posts.Publish)
}

// Revert handles POST /api/posts/{id}/revert.
func (h *PostHandler) Revert(w http.ResponseWriter, r *http.Request) {
	h.withPost(w, r, "handler.post.revert", h.posts.Revert)
}

// Rate handles POST /api/posts/{id}/rate. A quota denial answers 402 with
// the usage figures.
func (h *PostHandler) Rate(w http.ResponseWriter, r *http.Request) {
	const op = "handler.post.rate"

	uid, err := userID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	id, err := postID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.rating.Rate(r.Context(), uid, id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, ratingResponse{
		Post:        newPostResponse(result.Post),
		Entitlement: newEntitlementResponse(result.Entitlement),
	})
}

// Autosave handles PUT /api/posts/{id}/draft. The content is saved after
// the editor has been quiet for a while; the response does not wait.
func (h *PostHandler) Autosave(w http.ResponseWriter, r *http.Request) {
	const op = "handler.post.autosave"

	uid, err := userID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	id, err := postID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	var req draftRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	snap := autosave.Snapshot{Title: req.Title, Body: req.Body, Tags: req.Tags}
	if err := h.drafts.Update(r.Context(), uid, id, snap); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// FlushDraft handles POST /api/posts/{id}/draft/flush and returns the
// post as saved.
func (h *PostHandler) FlushDraft(w http.ResponseWriter, r *http.Request) {
	const op = "handler.post.flush_draft"

	uid, err := userID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	id, err := postID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if err := h.drafts.Flush(r.Context(), uid, id); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	post, err := h.posts.Get(r.Context(), uid, id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newPostResponse(post))
}

// Stream handles GET /api/posts/stream, pushing the user's post changes
// as Server-Sent Events.
func (h *PostHandler) Stream(w http.ResponseWriter, r *http.Request) {
	const op = "handler.post.stream"

	uid, err := userID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	serveStream(w, r, h.logger, "posts", h.changes, uid, nil, func(c domain.PostChange) sseEvent {
		data := map[string]any{"id": c.PostID.String()}
		if c.Post != nil {
			data["post"] = newPostResponse(c.Post)
		}
		return sseEvent{Name: "post." + string(c.Kind), Data: data}
	})
}

// withPost resolves the user and post ID, runs fn, and writes the post.
func (h *PostHandler) withPost(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	fn func(ctx context.Context, userID string, id uuid.UUID) (*domain.Post, error),
) {
	uid, err := userID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	id, err := postID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	post, err := fn(r.Context(), uid, id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newPostResponse(post))
}
