// Package autosave coalesces editor updates. A Session writes after a quiet
// period following the last update, and only the fields that differ from
// the last persisted snapshot.
package autosave

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/DukeRupert/quill/internal/domain"
)

// DefaultQuietPeriod is the debounce delay used when none is configured.
const DefaultQuietPeriod = 2 * time.Second

// saveTimeout bounds a save started by the debounce timer.
const saveTimeout = 10 * time.Second

// Snapshot is the editable content of a post.
type Snapshot struct {
	Title string
	Body  string
	Tags  []string
}

// SnapshotOf returns the editable content of p.
func SnapshotOf(p *domain.Post) Snapshot {
	return Snapshot{Title: p.Title, Body: p.Body, Tags: slices.Clone(p.Tags)}
}

func (s Snapshot) clone() Snapshot {
	s.Tags = slices.Clone(s.Tags)
	return s
}

// Diff returns the edit that turns saved into current. Tags are compared
// after normalization.
func Diff(saved, current Snapshot) domain.PostEdit {
	var e domain.PostEdit
	if current.Title != saved.Title {
		title := current.Title
		e.Title = &title
	}
	if current.Body != saved.Body {
		body := current.Body
		e.Body = &body
	}
	tags := domain.NormalizeTags(current.Tags)
	if !slices.Equal(tags, domain.NormalizeTags(saved.Tags)) {
		e.Tags = &tags
	}
	return e
}

// SaveFunc persists an edit.
type SaveFunc func(ctx context.Context, edit domain.PostEdit) error

// Session debounces updates to a single post. It is safe for concurrent use.
type Session struct {
	quiet  time.Duration
	save   SaveFunc
	logger *slog.Logger
	onIdle func()

	flushMu sync.Mutex // serializes saves

	mu     sync.Mutex
	saved  Snapshot
	latest *Snapshot // nil when nothing is pending
	timer  *time.Timer
	closed bool
}

// NewSession starts a session whose last persisted content is saved.
func NewSession(saved Snapshot, quiet time.Duration, save SaveFunc, logger *slog.Logger) *Session {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Session{
		quiet:  quiet,
		save:   save,
		logger: logger,
		saved:  saved.clone(),
	}
}

// Update records the editor's current content and restarts the quiet period.
// Updates after Close are ignored.
func (s *Session) Update(current Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	c := current.clone()
	s.latest = &c

	if s.timer == nil {
		s.timer = time.AfterFunc(s.quiet, s.fire)
		return
	}
	s.timer.Reset(s.quiet)
}

// Flush writes pending changes now. It is a no-op when nothing differs from
// the saved snapshot. On failure the changes stay pending; there is no
// automatic retry.
func (s *Session) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	latest := s.latest
	saved := s.saved
	s.latest = nil
	s.mu.Unlock()

	if latest == nil {
		return nil
	}

	edit := Diff(saved, *latest)
	if edit.IsEmpty() {
		return nil
	}

	if err := s.save(ctx, edit); err != nil {
		s.mu.Lock()
		if s.latest == nil {
			s.latest = latest
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.saved = *latest
	s.mu.Unlock()
	return nil
}

// Saved returns the last persisted snapshot.
func (s *Session) Saved() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved.clone()
}

// Rebase replaces the saved snapshot after the post changed outside this
// session. Pending updates are diffed against it on the next flush.
func (s *Session) Rebase(saved Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = saved.clone()
}

// Pending reports whether there are unsaved updates.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest != nil
}

// Close stops the timer and flushes what is pending.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	return s.Flush(ctx)
}

func (s *Session) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := s.Flush(ctx); err != nil {
		if s.logger != nil {
			s.logger.Warn("autosave failed", "error", err, "code", domain.ErrorCode(err))
		}
		return
	}
	if s.onIdle != nil && !s.Pending() {
		s.onIdle()
	}
}
