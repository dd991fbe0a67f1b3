package autosave

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/quill/internal/domain"
)

// fakeEditor is an in-memory Editor that counts writes.
type fakeEditor struct {
	mu     sync.Mutex
	posts  map[uuid.UUID]*domain.Post
	writes int
}

func newFakeEditor(posts ...*domain.Post) *fakeEditor {
	e := &fakeEditor{posts: make(map[uuid.UUID]*domain.Post)}
	for _, p := range posts {
		e.posts[p.ID] = p
	}
	return e
}

func (e *fakeEditor) Get(_ context.Context, userID string, id uuid.UUID) (*domain.Post, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.posts[id]
	if !ok || p.UserID != userID {
		return nil, domain.NotFound("post.get", "post", id.String())
	}
	return p.Clone(), nil
}

func (e *fakeEditor) Edit(_ context.Context, userID string, id uuid.UUID, edit domain.PostEdit) (*domain.Post, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.posts[id]
	if !ok || p.UserID != userID {
		return nil, domain.NotFound("post.edit", "post", id.String())
	}
	p.ApplyEdit(edit, time.Now())
	e.writes++
	return p.Clone(), nil
}

func (e *fakeEditor) snapshot(id uuid.UUID) (string, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.posts[id].Body, e.writes
}

func TestManager_UpdateWritesAfterQuietPeriod(t *testing.T) {
	post := domain.NewPost("u1", "Title", "", nil, time.Now())
	editor := newFakeEditor(post)
	m := NewManager(editor, testQuiet, testLogger())

	ctx := context.Background()
	for _, body := range []string{"d", "dr", "dra", "draft"} {
		require.NoError(t, m.Update(ctx, "u1", post.ID, Snapshot{Title: "Title", Body: body}))
	}
	assert.Equal(t, 1, m.Sessions())

	assert.Eventually(t, func() bool {
		body, writes := editor.snapshot(post.ID)
		return body == "draft" && writes == 1
	}, time.Second, 5*time.Millisecond)

	// The idle session is released after the write.
	assert.Eventually(t, func() bool { return m.Sessions() == 0 }, time.Second, 5*time.Millisecond)
}

func TestManager_UnknownPost(t *testing.T) {
	m := NewManager(newFakeEditor(), testQuiet, testLogger())

	err := m.Update(context.Background(), "u1", uuid.New(), Snapshot{Body: "x"})
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
	assert.Equal(t, 0, m.Sessions())
}

func TestManager_FlushAndClose(t *testing.T) {
	ctx := context.Background()
	a := domain.NewPost("u1", "A", "", nil, time.Now())
	b := domain.NewPost("u1", "B", "", nil, time.Now())
	editor := newFakeEditor(a, b)
	m := NewManager(editor, time.Hour, testLogger())

	require.NoError(t, m.Update(ctx, "u1", a.ID, Snapshot{Title: "A", Body: "flushed"}))
	require.NoError(t, m.Update(ctx, "u1", b.ID, Snapshot{Title: "B", Body: "closed"}))

	require.NoError(t, m.Flush(ctx, "u1", a.ID))
	body, _ := editor.snapshot(a.ID)
	assert.Equal(t, "flushed", body)
	assert.Equal(t, 1, m.Sessions())

	require.NoError(t, m.Close(ctx))
	body, writes := editor.snapshot(b.ID)
	assert.Equal(t, "closed", body)
	assert.Equal(t, 2, writes)
	assert.Equal(t, 0, m.Sessions())
}

func TestManager_RebaseAfterOutsideEdit(t *testing.T) {
	ctx := context.Background()
	post := domain.NewPost("u1", "Title", "original", nil, time.Now())
	editor := newFakeEditor(post)
	m := NewManager(editor, time.Hour, testLogger())
	t.Cleanup(func() { _ = m.Close(ctx) })

	require.NoError(t, m.Update(ctx, "u1", post.ID, Snapshot{Title: "Title", Body: "typing"}))

	// A direct edit lands while the session is open
	body := "patched"
	patched, err := editor.Edit(ctx, "u1", post.ID, domain.PostEdit{Body: &body})
	require.NoError(t, err)
	m.Rebase("u1", patched)

	// The editor goes back to the text the session first loaded
	require.NoError(t, m.Update(ctx, "u1", post.ID, Snapshot{Title: "Title", Body: "original"}))
	require.NoError(t, m.Flush(ctx, "u1", post.ID))

	got, writes := editor.snapshot(post.ID)
	assert.Equal(t, "original", got)
	assert.Equal(t, 2, writes)
}

func TestManager_RebaseWithoutSession(t *testing.T) {
	post := domain.NewPost("u1", "Title", "body", nil, time.Now())
	m := NewManager(newFakeEditor(post), time.Hour, testLogger())

	m.Rebase("u1", post)
	assert.Equal(t, 0, m.Sessions())
}
