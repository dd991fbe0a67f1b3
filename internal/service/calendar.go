package service

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/DukeRupert/quill/internal/domain"
	"github.com/DukeRupert/quill/internal/store"
)

// CalendarService builds the scheduling calendar for a user.
type CalendarService interface {
	// Calendar returns overdue posts and the next seven days of scheduled
	// posts, bucketed by calendar day in loc.
	Calendar(ctx context.Context, userID string, loc *time.Location) (*domain.Calendar, error)
}

type calendarService struct {
	posts  store.PostStore
	logger *slog.Logger
	now    func() time.Time
}

// NewCalendarService creates a new CalendarService.
func NewCalendarService(posts store.PostStore, logger *slog.Logger, now func() time.Time) CalendarService {
	if now == nil {
		now = time.Now
	}
	return &calendarService{posts: posts, logger: logger, now: now}
}

func (s *calendarService) Calendar(ctx context.Context, userID string, loc *time.Location) (*domain.Calendar, error) {
	const op = "calendar.build"

	if userID == "" {
		return nil, domain.Unauthorized(op, "")
	}

	posts, err := s.posts.ListPosts(ctx, domain.ListPostsParams{
		UserID: userID,
		Status: domain.PostStatusScheduled,
	})
	if err != nil {
		s.logger.Error("failed to list scheduled posts", "error", err, "op", op, "user_id", userID)
		return nil, domain.Unavailable(err, op, "")
	}

	cal := BuildCalendar(posts, s.now(), loc)
	return &cal, nil
}

// BuildCalendar derives the calendar from posts. Only scheduled posts are
// considered. A post scheduled before the start of tomorrow is overdue and
// appears in no day bucket. Posts beyond the last day are omitted. Empty
// days are kept.
func BuildCalendar(posts []*domain.Post, now time.Time, loc *time.Location) domain.Calendar {
	if loc == nil {
		loc = time.UTC
	}

	tomorrow := domain.StartOfTomorrow(now, loc)
	y, m, d := domain.StartOfDay(now, loc).Date()

	scheduled := make([]*domain.Post, 0, len(posts))
	for _, p := range posts {
		if p.IsScheduled() {
			scheduled = append(scheduled, p)
		}
	}
	slices.SortStableFunc(scheduled, func(a, b *domain.Post) int {
		return a.ScheduledAt.Compare(*b.ScheduledAt)
	})

	cal := domain.Calendar{
		GeneratedAt: now,
		Location:    loc,
		Overdue:     []*domain.Post{},
		Days:        make([]domain.ScheduleBucket, domain.CalendarDays),
	}
	for i := range cal.Days {
		cal.Days[i] = domain.ScheduleBucket{
			Day:        time.Date(y, m, d+i+1, 0, 0, 0, 0, loc),
			IsTomorrow: i == 0,
			Posts:      []*domain.Post{},
		}
	}

	for _, p := range scheduled {
		at := *p.ScheduledAt
		if at.Before(tomorrow) {
			cal.Overdue = append(cal.Overdue, p)
			continue
		}
		for i := range cal.Days {
			if domain.SameDay(at, cal.Days[i].Day, loc) {
				cal.Days[i].Posts = append(cal.Days[i].Posts, p)
				break
			}
		}
	}
	return cal
}
