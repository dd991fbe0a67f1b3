package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "time/tzdata"
)

func TestCalendarHandler_Show(t *testing.T) {
	env := newTestEnv(t)

	tomorrow := env.createPost(t, "u1", "Tomorrow")
	later := env.createPost(t, "u1", "In three days")
	env.createPost(t, "u1", "Still a draft")

	for id, at := range map[string]time.Time{
		tomorrow.ID: envNow.Add(24 * time.Hour),
		later.ID:    envNow.Add(72 * time.Hour),
	} {
		rec := env.do(t, http.MethodPost, "/api/posts/"+id+"/schedule", "u1", map[string]any{"scheduledAt": at})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := env.do(t, http.MethodGet, "/api/calendar", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	cal := decodeBody[CalendarResponse](t, rec)
	assert.Equal(t, "UTC", cal.Timezone)
	assert.Empty(t, cal.Overdue)
	require.Len(t, cal.Days, 7)
	assert.True(t, cal.Days[0].IsTomorrow)
	assert.Equal(t, "2026-06-11", cal.Days[0].Day)
	require.Len(t, cal.Days[0].Posts, 1)
	assert.Equal(t, tomorrow.ID, cal.Days[0].Posts[0].ID)
	require.Len(t, cal.Days[2].Posts, 1)
	assert.Equal(t, later.ID, cal.Days[2].Posts[0].ID)
	assert.Empty(t, cal.Days[1].Posts)
}

func TestCalendarHandler_Timezone(t *testing.T) {
	env := newTestEnv(t)

	// 09:00 UTC is 19:00 in Sydney, so tomorrow there starts at 14:00 UTC.
	p := env.createPost(t, "u1", "Evening")
	rec := env.do(t, http.MethodPost, "/api/posts/"+p.ID+"/schedule", "u1", map[string]any{"scheduledAt": envNow.Add(8 * time.Hour)})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/calendar?tz=Australia/Sydney", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cal := decodeBody[CalendarResponse](t, rec)
	assert.Equal(t, "Australia/Sydney", cal.Timezone)
	assert.Empty(t, cal.Overdue)
	require.Len(t, cal.Days[0].Posts, 1)

	rec = env.do(t, http.MethodGet, "/api/calendar", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cal = decodeBody[CalendarResponse](t, rec)
	require.Len(t, cal.Overdue, 1)
	assert.Equal(t, p.ID, cal.Overdue[0].ID)

	rec = env.do(t, http.MethodGet, "/api/calendar?tz=Mars/Olympus", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
