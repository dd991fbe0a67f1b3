package autosave

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/quill/internal/domain"
)

const testQuiet = 20 * time.Millisecond

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder captures saved edits.
type recorder struct {
	mu    sync.Mutex
	edits []domain.PostEdit
	err   error
}

func (r *recorder) save(_ context.Context, e domain.PostEdit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.edits = append(r.edits, e)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.edits)
}

func (r *recorder) last() domain.PostEdit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.edits[len(r.edits)-1]
}

func (r *recorder) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func TestDiff(t *testing.T) {
	saved := Snapshot{Title: "T", Body: "B", Tags: []string{"go"}}

	tests := []struct {
		name       string
		current    Snapshot
		wantTitle  bool
		wantBody   bool
		wantTags   bool
		wantsEmpty bool
	}{
		{"identical", Snapshot{Title: "T", Body: "B", Tags: []string{"go"}}, false, false, false, true},
		{"tags equal after normalizing", Snapshot{Title: "T", Body: "B", Tags: []string{" go ", "GO"}}, false, false, false, true},
		{"title only", Snapshot{Title: "T2", Body: "B", Tags: []string{"go"}}, true, false, false, false},
		{"body and tags", Snapshot{Title: "T", Body: "B2", Tags: []string{"go", "rust"}}, false, true, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Diff(saved, tt.current)
			assert.Equal(t, tt.wantsEmpty, e.IsEmpty())
			assert.Equal(t, tt.wantTitle, e.Title != nil)
			assert.Equal(t, tt.wantBody, e.Body != nil)
			assert.Equal(t, tt.wantTags, e.Tags != nil)
		})
	}
}

func TestSession_DebouncesUpdates(t *testing.T) {
	rec := &recorder{}
	s := NewSession(Snapshot{Title: "T", Body: ""}, testQuiet, rec.save, testLogger())

	for _, body := range []string{"h", "he", "hel", "hell", "hello"} {
		s.Update(Snapshot{Title: "T", Body: body})
	}

	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	// Nothing further arrives once the single write is done.
	time.Sleep(3 * testQuiet)
	require.Equal(t, 1, rec.count())

	e := rec.last()
	assert.Nil(t, e.Title)
	require.NotNil(t, e.Body)
	assert.Equal(t, "hello", *e.Body)
	assert.Equal(t, "hello", s.Saved().Body)
	assert.False(t, s.Pending())
}

func TestSession_UnchangedContentSkipsWrite(t *testing.T) {
	rec := &recorder{}
	saved := Snapshot{Title: "T", Body: "B", Tags: []string{"go"}}
	s := NewSession(saved, time.Hour, rec.save, testLogger())

	s.Update(Snapshot{Title: "T", Body: "B", Tags: []string{"go"}})
	require.NoError(t, s.Flush(context.Background()))

	assert.Equal(t, 0, rec.count())
}

func TestSession_FlushWritesImmediately(t *testing.T) {
	rec := &recorder{}
	s := NewSession(Snapshot{Title: "T"}, time.Hour, rec.save, testLogger())

	s.Update(Snapshot{Title: "New"})
	require.NoError(t, s.Flush(context.Background()))
	require.Equal(t, 1, rec.count())

	// Saving again with the same content is a no-op.
	s.Update(Snapshot{Title: "New"})
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 1, rec.count())
}

func TestSession_FailedSaveStaysPending(t *testing.T) {
	rec := &recorder{}
	s := NewSession(Snapshot{Title: "T"}, time.Hour, rec.save, testLogger())
	failure := errors.New("store unavailable")

	rec.setErr(failure)
	s.Update(Snapshot{Title: "Changed"})
	err := s.Flush(context.Background())
	assert.ErrorIs(t, err, failure)
	assert.True(t, s.Pending())
	assert.Equal(t, "T", s.Saved().Title)

	rec.setErr(nil)
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, "Changed", s.Saved().Title)
}

func TestSession_CloseFlushesAndIgnoresLaterUpdates(t *testing.T) {
	rec := &recorder{}
	s := NewSession(Snapshot{}, time.Hour, rec.save, testLogger())

	s.Update(Snapshot{Body: "final"})
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, 1, rec.count())

	s.Update(Snapshot{Body: "after close"})
	assert.False(t, s.Pending())
}
