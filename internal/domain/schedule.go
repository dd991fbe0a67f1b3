package domain

import "time"

// CalendarDays is the number of days shown after today.
const CalendarDays = 7

// ScheduleBucket is one calendar day of scheduled posts. It is derived on
// every read and never stored.
type ScheduleBucket struct {
	Day        time.Time // Start of the day in the viewer's location
	IsTomorrow bool
	Posts      []*Post // Ascending by scheduled time
}

// Calendar is the forward-looking view of scheduled posts.
type Calendar struct {
	GeneratedAt time.Time
	Location    *time.Location
	Overdue     []*Post // Scheduled before the start of tomorrow
	Days        []ScheduleBucket
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// StartOfTomorrow returns midnight after t's calendar day in loc. Scheduled
// posts before this instant are overdue.
func StartOfTomorrow(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}
