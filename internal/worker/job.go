package worker

import "context"

// Job is a unit of scheduled work.
type Job interface {
	// Name identifies the job in logs and metrics. It must be unique
	// within a Worker.
	Name() string

	// Run performs one pass of the job. The context carries the
	// configured job timeout and is canceled on shutdown.
	Run(ctx context.Context) error
}
