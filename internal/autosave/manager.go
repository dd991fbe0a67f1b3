package autosave

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/quill/internal/domain"
)

// Editor is the subset of the post service the manager writes through.
type Editor interface {
	Get(ctx context.Context, userID string, id uuid.UUID) (*domain.Post, error)
	Edit(ctx context.Context, userID string, id uuid.UUID, edit domain.PostEdit) (*domain.Post, error)
}

type sessionKey struct {
	userID string
	postID uuid.UUID
}

// Manager keeps one Session per post being edited. A session is dropped
// once its changes are saved.
type Manager struct {
	editor Editor
	quiet  time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[sessionKey]*Session
}

// NewManager creates a Manager that saves through editor after quiet.
func NewManager(editor Editor, quiet time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		editor:   editor,
		quiet:    quiet,
		logger:   logger,
		sessions: make(map[sessionKey]*Session),
	}
}

// Update records editor content for a post. The first update for a post
// loads it, so a missing post is reported here.
func (m *Manager) Update(ctx context.Context, userID string, postID uuid.UUID, current Snapshot) error {
	key := sessionKey{userID: userID, postID: postID}

	m.mu.Lock()
	s, ok := m.sessions[key]
	m.mu.Unlock()

	if !ok {
		post, err := m.editor.Get(ctx, userID, postID)
		if err != nil {
			return err
		}

		m.mu.Lock()
		if s, ok = m.sessions[key]; !ok {
			s = m.newSession(key, SnapshotOf(post))
			m.sessions[key] = s
		}
		m.mu.Unlock()
	}

	s.Update(current)
	return nil
}

// Flush writes a post's pending changes immediately.
func (m *Manager) Flush(ctx context.Context, userID string, postID uuid.UUID) error {
	key := sessionKey{userID: userID, postID: postID}

	m.mu.Lock()
	s, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if err := s.Flush(ctx); err != nil {
		return err
	}
	m.release(key, s)
	return nil
}

// Rebase points an open session at p's current content. Call it after p
// is edited outside autosave so a later update that restores the old text
// is still written. It does nothing when no session is open.
func (m *Manager) Rebase(userID string, p *domain.Post) {
	key := sessionKey{userID: userID, postID: p.ID}

	m.mu.Lock()
	s, ok := m.sessions[key]
	m.mu.Unlock()

	if ok {
		s.Rebase(SnapshotOf(p))
	}
}

// Sessions returns the number of posts with an open session.
func (m *Manager) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close flushes every session. Used on shutdown.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for key, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) newSession(key sessionKey, saved Snapshot) *Session {
	s := NewSession(saved, m.quiet, func(ctx context.Context, edit domain.PostEdit) error {
		_, err := m.editor.Edit(ctx, key.userID, key.postID, edit)
		return err
	}, m.logger.With("post_id", key.postID))

	s.onIdle = func() { m.release(key, s) }
	return s
}

// release drops the session if it is still the current one and idle.
func (m *Manager) release(key sessionKey, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[key] == s && !s.Pending() {
		delete(m.sessions, key)
	}
}
