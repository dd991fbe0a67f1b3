// Package domain contains core business types and interfaces.
//
// This file defines the Post domain type and its lifecycle state machine.
package domain

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// =============================================================================
// Post Status
// =============================================================================

// PostStatus represents the lifecycle state of a post.
type PostStatus string

const (
	// PostStatusDraft is the initial state. ScheduledAt is always nil.
	PostStatusDraft PostStatus = "draft"

	// PostStatusScheduled means the post has a publication time that was in
	// the future when it was scheduled. ScheduledAt is always set.
	PostStatusScheduled PostStatus = "scheduled"

	// PostStatusPublished means the user marked the post as published.
	// ScheduledAt is always nil.
	PostStatusPublished PostStatus = "published"
)

// String returns the string representation of the status.
func (s PostStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a recognized value.
func (s PostStatus) IsValid() bool {
	switch s {
	case PostStatusDraft, PostStatusScheduled, PostStatusPublished:
		return true
	}
	return false
}

// PostEvent is a user action that may change a post's status.
type PostEvent string

const (
	PostEventSchedule   PostEvent = "schedule"
	PostEventUnschedule PostEvent = "unschedule"
	PostEventPublish    PostEvent = "publish"
	PostEventRevert     PostEvent = "revert"
)

// Target returns the status a post ends up in after the event, and whether
// the event is permitted from status s at all.
//
// Valid transitions:
// - draft -> scheduled (schedule)
// - scheduled -> scheduled (schedule, i.e. reschedule)
// - draft -> published (publish)
// - scheduled -> published (publish)
// - scheduled -> draft (unschedule)
// - published -> draft (revert)
func (s PostStatus) Target(event PostEvent) (PostStatus, bool) {
	switch event {
	case PostEventSchedule:
		if s == PostStatusDraft || s == PostStatusScheduled {
			return PostStatusScheduled, true
		}
	case PostEventPublish:
		if s == PostStatusDraft || s == PostStatusScheduled {
			return PostStatusPublished, true
		}
	case PostEventUnschedule:
		if s == PostStatusScheduled {
			return PostStatusDraft, true
		}
	case PostEventRevert:
		if s == PostStatusPublished {
			return PostStatusDraft, true
		}
	}
	return s, false
}

// =============================================================================
// Post Domain Type
// =============================================================================

// Post is a user's draft, scheduled, or published post.
type Post struct {
	ID          uuid.UUID
	UserID      string
	Title       string
	Body        string
	Tags        []string // Ordered set, see NormalizeTags
	Status      PostStatus
	ScheduledAt *time.Time
	Rating      *int   // AI score 1-10, nil until rated
	Feedback    string // AI feedback text
	RatedAt     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewPost returns a draft post owned by userID.
func NewPost(userID, title, body string, tags []string, now time.Time) *Post {
	return &Post{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		Body:      body,
		Tags:      NormalizeTags(tags),
		Status:    PostStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of the post.
func (p *Post) Clone() *Post {
	c := *p
	c.Tags = slices.Clone(p.Tags)
	if p.ScheduledAt != nil {
		t := *p.ScheduledAt
		c.ScheduledAt = &t
	}
	if p.Rating != nil {
		r := *p.Rating
		c.Rating = &r
	}
	if p.RatedAt != nil {
		t := *p.RatedAt
		c.RatedAt = &t
	}
	return &c
}

// IsScheduled returns true if the post is waiting for its scheduled time.
func (p *Post) IsScheduled() bool {
	return p.Status == PostStatusScheduled && p.ScheduledAt != nil
}

// Schedule moves the post to scheduled at the given time.
// The time must be strictly after now.
func (p *Post) Schedule(at, now time.Time) error {
	const op = "post.schedule"

	if _, ok := p.Status.Target(PostEventSchedule); !ok {
		return InvalidTransition(op, p.Status, PostEventSchedule, "")
	}
	if !at.After(now) {
		return InvalidTransition(op, p.Status, PostEventSchedule, "scheduled time must be in the future")
	}

	at = at.UTC()
	p.Status = PostStatusScheduled
	p.ScheduledAt = &at
	p.UpdatedAt = now
	return nil
}

// Unschedule returns a scheduled post to draft.
func (p *Post) Unschedule(now time.Time) error {
	return p.transition("post.unschedule", PostEventUnschedule, now)
}

// Publish marks the post as published.
func (p *Post) Publish(now time.Time) error {
	return p.transition("post.publish", PostEventPublish, now)
}

// Revert returns a published post to draft.
func (p *Post) Revert(now time.Time) error {
	return p.transition("post.revert", PostEventRevert, now)
}

// transition applies an event that always clears the scheduled time.
// The post is left untouched when the event is not permitted.
func (p *Post) transition(op string, event PostEvent, now time.Time) error {
	target, ok := p.Status.Target(event)
	if !ok {
		return InvalidTransition(op, p.Status, event, "")
	}
	p.Status = target
	p.ScheduledAt = nil
	p.UpdatedAt = now
	return nil
}

// =============================================================================
// Editing
// =============================================================================

// PostEdit holds editor changes. Nil fields are left untouched.
type PostEdit struct {
	Title *string
	Body  *string
	Tags  *[]string
}

// IsEmpty returns true if the edit carries no fields.
func (e PostEdit) IsEmpty() bool {
	return e.Title == nil && e.Body == nil && e.Tags == nil
}

// Diff returns the subset of the edit whose values differ from the post.
func (e PostEdit) Diff(p *Post) PostEdit {
	var d PostEdit
	if e.Title != nil && *e.Title != p.Title {
		d.Title = e.Title
	}
	if e.Body != nil && *e.Body != p.Body {
		d.Body = e.Body
	}
	if e.Tags != nil {
		tags := NormalizeTags(*e.Tags)
		if !slices.Equal(tags, p.Tags) {
			d.Tags = &tags
		}
	}
	return d
}

// ApplyEdit applies the fields of the edit that differ from the current
// values. Editing never changes status. Returns the names of changed fields.
func (p *Post) ApplyEdit(e PostEdit, now time.Time) []string {
	d := e.Diff(p)
	var changed []string
	if d.Title != nil {
		p.Title = *d.Title
		changed = append(changed, "title")
	}
	if d.Body != nil {
		p.Body = *d.Body
		changed = append(changed, "body")
	}
	if d.Tags != nil {
		p.Tags = *d.Tags
		changed = append(changed, "tags")
	}
	if len(changed) > 0 {
		p.UpdatedAt = now
	}
	return changed
}

// SetRating records an AI score and feedback.
func (p *Post) SetRating(score int, feedback string, now time.Time) {
	p.Rating = &score
	p.Feedback = feedback
	p.RatedAt = &now
	p.UpdatedAt = now
}

// NormalizeTags trims tags, drops empty ones, and removes duplicates using
// Unicode case folding. The first spelling of each tag is kept, in order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	fold := cases.Fold()
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := fold.String(t)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}

// =============================================================================
// Post Service Parameters
// =============================================================================

// CreatePostParams contains parameters for creating a post.
type CreatePostParams struct {
	UserID string
	Title  string
	Body   string
	Tags   []string
}

// ListPostsParams contains parameters for listing a user's posts.
type ListPostsParams struct {
	UserID string
	Status PostStatus // Optional filter
}

// =============================================================================
// Change Notifications
// =============================================================================

// PostChangeKind describes what happened to a post.
type PostChangeKind string

const (
	PostCreated PostChangeKind = "created"
	PostUpdated PostChangeKind = "updated"
	PostDeleted PostChangeKind = "deleted"
)

// PostChange is delivered to observers of a user's posts. Post is nil for
// deletions.
type PostChange struct {
	Kind   PostChangeKind
	PostID uuid.UUID
	Post   *Post
}
