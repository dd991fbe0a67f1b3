package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func scheduledPost(at time.Time) *Post {
	p := NewPost("user-1", "title", "body", nil, testNow.Add(-time.Hour))
	p.Status = PostStatusScheduled
	p.ScheduledAt = &at
	return p
}

func TestPostStatus_Target(t *testing.T) {
	tests := []struct {
		name   string
		from   PostStatus
		event  PostEvent
		want   PostStatus
		wantOK bool
	}{
		{"draft schedule", PostStatusDraft, PostEventSchedule, PostStatusScheduled, true},
		{"draft publish", PostStatusDraft, PostEventPublish, PostStatusPublished, true},
		{"scheduled publish", PostStatusScheduled, PostEventPublish, PostStatusPublished, true},
		{"scheduled unschedule", PostStatusScheduled, PostEventUnschedule, PostStatusDraft, true},
		{"scheduled reschedule", PostStatusScheduled, PostEventSchedule, PostStatusScheduled, true},
		{"published revert", PostStatusPublished, PostEventRevert, PostStatusDraft, true},

		{"draft unschedule", PostStatusDraft, PostEventUnschedule, PostStatusDraft, false},
		{"draft revert", PostStatusDraft, PostEventRevert, PostStatusDraft, false},
		{"scheduled revert", PostStatusScheduled, PostEventRevert, PostStatusScheduled, false},
		{"published schedule", PostStatusPublished, PostEventSchedule, PostStatusPublished, false},
		{"published publish", PostStatusPublished, PostEventPublish, PostStatusPublished, false},
		{"published unschedule", PostStatusPublished, PostEventUnschedule, PostStatusPublished, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.from.Target(tt.event)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPost_Schedule(t *testing.T) {
	tests := []struct {
		name    string
		at      time.Time
		wantErr bool
	}{
		{"in the past", testNow.Add(-time.Minute), true},
		{"exactly now", testNow, true},
		{"one second later", testNow.Add(time.Second), false},
		{"next week", testNow.AddDate(0, 0, 7), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPost("user-1", "title", "body", nil, testNow)
			err := p.Schedule(tt.at, testNow)

			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, ETRANSITION, ErrorCode(err))
				assert.Equal(t, PostStatusDraft, p.Status)
				assert.Nil(t, p.ScheduledAt)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, PostStatusScheduled, p.Status)
			require.NotNil(t, p.ScheduledAt)
			assert.True(t, tt.at.Equal(*p.ScheduledAt))
		})
	}
}

func TestPost_ScheduleRoundTrip(t *testing.T) {
	p := NewPost("user-1", "title", "body", nil, testNow)
	t1 := testNow.Add(48 * time.Hour)
	t2 := testNow.Add(72 * time.Hour)

	require.NoError(t, p.Schedule(t1, testNow))
	require.NoError(t, p.Unschedule(testNow))
	assert.Equal(t, PostStatusDraft, p.Status)
	assert.Nil(t, p.ScheduledAt)

	require.NoError(t, p.Schedule(t2, testNow))
	require.NotNil(t, p.ScheduledAt)
	assert.True(t, t2.Equal(*p.ScheduledAt))
}

func TestPost_PublishClearsScheduledAt(t *testing.T) {
	p := scheduledPost(testNow.Add(time.Hour))

	require.NoError(t, p.Publish(testNow))
	assert.Equal(t, PostStatusPublished, p.Status)
	assert.Nil(t, p.ScheduledAt)

	require.NoError(t, p.Revert(testNow))
	assert.Equal(t, PostStatusDraft, p.Status)
	assert.Nil(t, p.ScheduledAt)
}

func TestPost_InvalidTransitionLeavesPostUntouched(t *testing.T) {
	p := NewPost("user-1", "title", "body", nil, testNow)
	before := p.Clone()

	err := p.Revert(testNow.Add(time.Minute))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot revert a draft post")
	assert.Equal(t, before, p)
}

func TestPost_ApplyEdit(t *testing.T) {
	t.Run("edit never changes status", func(t *testing.T) {
		p := NewPost("user-1", "old", "body", nil, testNow)
		title := "new"

		changed := p.ApplyEdit(PostEdit{Title: &title}, testNow.Add(time.Minute))

		assert.Equal(t, []string{"title"}, changed)
		assert.Equal(t, "new", p.Title)
		assert.Equal(t, PostStatusDraft, p.Status)
		assert.Nil(t, p.ScheduledAt)
	})

	t.Run("scheduled post stays scheduled", func(t *testing.T) {
		at := testNow.Add(time.Hour)
		p := scheduledPost(at)
		body := "rewritten"

		p.ApplyEdit(PostEdit{Body: &body}, testNow)

		assert.Equal(t, PostStatusScheduled, p.Status)
		require.NotNil(t, p.ScheduledAt)
		assert.True(t, at.Equal(*p.ScheduledAt))
	})

	t.Run("unchanged fields are skipped", func(t *testing.T) {
		p := NewPost("user-1", "same", "body", []string{"go"}, testNow)
		title := "same"
		tags := []string{" go ", "GO"}

		changed := p.ApplyEdit(PostEdit{Title: &title, Tags: &tags}, testNow.Add(time.Minute))

		assert.Empty(t, changed)
		assert.Equal(t, testNow, p.UpdatedAt)
	})
}

func TestNormalizeTags(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil", nil, []string{}},
		{"trims and drops empty", []string{" go ", "", "  "}, []string{"go"}},
		{"keeps first spelling", []string{"Golang", "golang", "GOLANG"}, []string{"Golang"}},
		{"keeps order", []string{"b", "a", "c", "a"}, []string{"b", "a", "c"}},
		{"unicode folding", []string{"Ünïcode", "üNÏCODE"}, []string{"Ünïcode"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTags(tt.in))
		})
	}
}
