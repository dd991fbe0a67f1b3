package service

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/quill/internal/domain"
	"github.com/DukeRupert/quill/internal/store/memory"
)

// calendarPost returns a post scheduled at `at`, bypassing the future-date
// guard so overdue posts can be built.
func calendarPost(title string, at time.Time) *domain.Post {
	p := domain.NewPost("u1", title, "", nil, at.Add(-72*time.Hour))
	at = at.UTC()
	p.Status = domain.PostStatusScheduled
	p.ScheduledAt = &at
	return p
}

func postTitles(posts []*domain.Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.Title)
	}
	return out
}

func TestBuildCalendar_TomorrowAndOverdue(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, loc)
	today0 := domain.StartOfDay(now, loc)

	later := calendarPost("tomorrow", today0.Add(25*time.Hour))
	earlier := calendarPost("earlier today", today0.Add(3*time.Hour))

	cal := BuildCalendar([]*domain.Post{later, earlier}, now, loc)

	assert.Equal(t, []string{"earlier today"}, postTitles(cal.Overdue))
	require.Len(t, cal.Days, domain.CalendarDays)
	assert.True(t, cal.Days[0].IsTomorrow)
	assert.Equal(t, []string{"tomorrow"}, postTitles(cal.Days[0].Posts))

	for _, b := range cal.Days[1:] {
		assert.False(t, b.IsTomorrow)
		assert.Empty(t, b.Posts)
	}
}

func TestBuildCalendar_LaterTodayIsOverdue(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, loc)

	p := calendarPost("tonight", time.Date(2026, 3, 14, 22, 0, 0, 0, loc))
	cal := BuildCalendar([]*domain.Post{p}, now, loc)

	assert.Equal(t, []string{"tonight"}, postTitles(cal.Overdue))
}

func TestBuildCalendar_Buckets(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, loc)

	posts := []*domain.Post{
		calendarPost("d3 afternoon", time.Date(2026, 3, 17, 15, 0, 0, 0, loc)),
		calendarPost("d3 morning", time.Date(2026, 3, 17, 8, 0, 0, 0, loc)),
		calendarPost("d7 last minute", time.Date(2026, 3, 21, 23, 59, 0, 0, loc)),
		calendarPost("d8 beyond window", time.Date(2026, 3, 22, 0, 0, 0, 0, loc)),
		calendarPost("last week", time.Date(2026, 3, 7, 12, 0, 0, 0, loc)),
		calendarPost("yesterday", time.Date(2026, 3, 13, 12, 0, 0, 0, loc)),
	}
	draft := domain.NewPost("u1", "draft", "", nil, now)
	posts = append(posts, draft)

	cal := BuildCalendar(posts, now, loc)

	assert.Equal(t, []string{"last week", "yesterday"}, postTitles(cal.Overdue))
	require.Len(t, cal.Days, 7)

	for i, b := range cal.Days {
		assert.Equal(t, time.Date(2026, 3, 15+i, 0, 0, 0, 0, loc), b.Day)
	}
	assert.Equal(t, []string{"d3 morning", "d3 afternoon"}, postTitles(cal.Days[2].Posts))
	assert.Equal(t, []string{"d7 last minute"}, postTitles(cal.Days[6].Posts))
	assert.Empty(t, cal.Days[0].Posts)
	assert.NotNil(t, cal.Days[0].Posts)
}

func TestBuildCalendar_UsesViewerLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 01:00 UTC on March 15 is still the evening of March 14 in New York.
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, ny)
	p := calendarPost("evening", time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC))

	inNY := BuildCalendar([]*domain.Post{p}, now, ny)
	assert.Equal(t, []string{"evening"}, postTitles(inNY.Overdue))

	inUTC := BuildCalendar([]*domain.Post{p}, now, time.UTC)
	assert.Empty(t, inUTC.Overdue)
	assert.Equal(t, []string{"evening"}, postTitles(inUTC.Days[0].Posts))
}

func TestBuildCalendar_IsRecomputedFromNow(t *testing.T) {
	loc := time.UTC
	p := calendarPost("post", time.Date(2026, 3, 16, 9, 0, 0, 0, loc))

	before := BuildCalendar([]*domain.Post{p}, time.Date(2026, 3, 14, 10, 0, 0, 0, loc), loc)
	assert.Empty(t, before.Overdue)
	assert.Len(t, before.Days[1].Posts, 1)

	after := BuildCalendar([]*domain.Post{p}, time.Date(2026, 3, 16, 10, 0, 0, 0, loc), loc)
	assert.Len(t, after.Overdue, 1)
	assert.Equal(t, domain.PostStatusScheduled, p.Status)
}

func TestCalendarService_Calendar(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	require.NoError(t, st.CreatePost(ctx, calendarPost("mine", now.Add(26*time.Hour))))
	other := calendarPost("theirs", now.Add(26*time.Hour))
	other.UserID = "u2"
	require.NoError(t, st.CreatePost(ctx, other))

	svc := NewCalendarService(st, testLogger(), func() time.Time { return now })
	cal, err := svc.Calendar(ctx, "u1", time.UTC)
	require.NoError(t, err)

	assert.Equal(t, []string{"mine"}, postTitles(cal.Days[0].Posts))
	assert.Equal(t, now, cal.GeneratedAt)

	_, err = svc.Calendar(ctx, "", time.UTC)
	assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))
}
