package worker

import (
	"fmt"
	"time"
)

// Config holds the configuration for the scheduled job runner.
type Config struct {
	// Location is the time zone cron schedules are evaluated in.
	// Default: UTC
	Location *time.Location

	// JobTimeout is the maximum time a single run is allowed to take.
	// The run's context is canceled when it is exceeded.
	// Default: 2 minutes
	JobTimeout time.Duration

	// ShutdownTimeout is how long Stop waits for running jobs to return.
	// Default: 30 seconds
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Location:        time.UTC,
		JobTimeout:      2 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Location == nil {
		return fmt.Errorf("location is required")
	}
	if c.JobTimeout < 1*time.Second {
		return fmt.Errorf("job timeout must be at least 1 second, got %v", c.JobTimeout)
	}
	if c.ShutdownTimeout < 1*time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	}
	return nil
}
