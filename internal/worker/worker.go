package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/DukeRupert/quill/internal/metrics"
)

// Worker runs registered jobs on cron schedules.
type Worker struct {
	cron   *cron.Cron
	config Config
	logger *slog.Logger

	names map[string]struct{}

	// ctx is the parent of every run; cancel aborts runs on shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Worker with the given configuration.
// The worker must be started with Start() and stopped with Stop().
func New(config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		cron: cron.New(
			cron.WithLocation(config.Location),
			cron.WithLogger(cronLogger{logger: logger}),
			cron.WithChain(cron.Recover(cronLogger{logger: logger})),
		),
		config: config,
		logger: logger,
		names:  make(map[string]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Register schedules a job using a standard five-field cron expression
// or a descriptor such as "@every 5m". Call this before Start().
func (w *Worker) Register(schedule string, job Job) error {
	name := job.Name()
	if _, exists := w.names[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}

	var running atomic.Bool
	_, err := w.cron.AddFunc(schedule, func() {
		// A run still in progress when the next tick fires is skipped
		if !running.CompareAndSwap(false, true) {
			metrics.JobSkipped(name)
			w.logger.Warn("Skipping job, previous run still in progress", "job", name)
			return
		}
		defer running.Store(false)
		_ = w.RunOnce(w.ctx, job)
	})
	if err != nil {
		return fmt.Errorf("schedule job %q: %w", name, err)
	}

	w.names[name] = struct{}{}
	w.logger.Debug("Registered job", "job", name, "schedule", schedule)
	return nil
}

// RunOnce executes a single run of job with the configured timeout,
// recording metrics and logging the outcome.
func (w *Worker) RunOnce(ctx context.Context, job Job) error {
	name := job.Name()
	logger := w.logger.With("job", name)

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	metrics.JobStarted(name)
	start := time.Now()

	if err := job.Run(jobCtx); err != nil {
		metrics.JobFailed(name, time.Since(start))
		logger.Error("Job failed", "error", err, "duration", time.Since(start))
		return err
	}

	metrics.JobCompleted(name, time.Since(start))
	logger.Debug("Job completed", "duration", time.Since(start))
	return nil
}

// Start begins running jobs on their schedules.
func (w *Worker) Start() {
	w.cron.Start()
	w.logger.Info("Worker started", "jobs", len(w.names))
}

// Stop stops scheduling new runs and waits for running jobs to finish.
// It respects the configured ShutdownTimeout, after which running jobs
// have their context canceled.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	done := w.cron.Stop()

	select {
	case <-done.Done():
		w.logger.Info("Worker stopped gracefully")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("Worker shutdown timeout exceeded, canceling running jobs")
	}
	w.cancel()
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
