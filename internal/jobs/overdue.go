// Package jobs contains the scheduled jobs run by the worker.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/quill/internal/domain"
	"github.com/DukeRupert/quill/internal/metrics"
)

// OverdueSweepName is the job name used in logs and metrics.
const OverdueSweepName = "overdue_sweep"

// ScheduledCounter counts scheduled posts across all users.
type ScheduledCounter interface {
	CountScheduledBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// OverdueSweep publishes the number of overdue posts to the
// overdue gauge. It never changes a post; overdue stays a derived view.
type OverdueSweep struct {
	posts  ScheduledCounter
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

// NewOverdueSweep creates the sweep. Overdue is judged against the start
// of tomorrow in loc, the same boundary the calendar uses.
func NewOverdueSweep(posts ScheduledCounter, loc *time.Location, logger *slog.Logger) *OverdueSweep {
	if loc == nil {
		loc = time.UTC
	}
	return &OverdueSweep{
		posts:  posts,
		loc:    loc,
		now:    time.Now,
		logger: logger,
	}
}

// Name returns the job name.
func (j *OverdueSweep) Name() string {
	return OverdueSweepName
}

// Run counts overdue posts and updates the gauge.
func (j *OverdueSweep) Run(ctx context.Context) error {
	cutoff := domain.StartOfTomorrow(j.now(), j.loc)

	n, err := j.posts.CountScheduledBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("count overdue posts: %w", err)
	}

	metrics.OverduePosts.Set(float64(n))
	j.logger.Info("overdue sweep complete", "overdue", n, "cutoff", cutoff)
	return nil
}
