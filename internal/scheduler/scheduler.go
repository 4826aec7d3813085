package scheduler

import (
	"context"
	"time"
)

// Scheduler defines the interface for check schedulers
type Scheduler interface {
	// Start begins the scheduling loop
	Start(ctx context.Context) error

	// Stop gracefully stops the scheduler
	Stop() error

	// Status returns the current scheduler status
	Status() *Status
}

// Status is a snapshot of a scheduler's counters
type Status struct {
	Running        bool
	LastRunTime    time.Time
	NextRunTime    time.Time
	LastDuration   time.Duration
	TotalRuns      int
	SuccessfulRuns int
	FailedRuns     int

	// ConsecutiveFailures resets on the next successful check
	ConsecutiveFailures int
	LastError           string

	// LastSummary is the summary returned by the last successful check
	LastSummary string
}

// Config contains scheduler configuration
type Config struct {
	// Interval is the duration between checks
	Interval time.Duration

	// RunImmediately runs one check as soon as the scheduler starts
	RunImmediately bool

	// CheckTimeout bounds a single check; zero means no bound
	CheckTimeout time.Duration
}

// CheckRunner performs one check. The returned summary is kept in Status.
type CheckRunner interface {
	RunCheck(ctx context.Context) (string, error)
}

// CheckFunc adapts a function to CheckRunner
type CheckFunc func(ctx context.Context) (string, error)

// RunCheck calls f(ctx)
func (f CheckFunc) RunCheck(ctx context.Context) (string, error) {
	return f(ctx)
}
