package jobs

import (
	"context"
	"log/slog"
)

// RateLimitPruneName is the job name used in logs and metrics.
const RateLimitPruneName = "rate_limit_prune"

// Pruner drops expired rate limit windows.
type Pruner interface {
	Prune() int
}

// RateLimitPrune keeps the rate limiter's memory bounded.
type RateLimitPrune struct {
	limiter Pruner
	logger  *slog.Logger
}

// NewRateLimitPrune creates the prune job for limiter.
func NewRateLimitPrune(limiter Pruner, logger *slog.Logger) *RateLimitPrune {
	return &RateLimitPrune{limiter: limiter, logger: logger}
}

// Name returns RateLimitPruneName.
func (j *RateLimitPrune) Name() string {
	return RateLimitPruneName
}

// Run drops expired rate limit windows.
func (j *RateLimitPrune) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if removed := j.limiter.Prune(); removed > 0 {
		j.logger.Debug("pruned rate limit entries", "removed", removed)
	}
	return nil
}
