package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Ning0612/Sftpmirror/internal/logger"
)

// IntervalScheduler runs a CheckRunner on a fixed interval. Checks never
// overlap: a tick that fires while a check is running is dropped.
type IntervalScheduler struct {
	cfg    Config
	runner CheckRunner
	log    logger.Logger

	mu       sync.RWMutex
	running  bool
	stopped  bool
	stopOnce sync.Once
	doneOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	stats Status
}

// NewIntervalScheduler validates cfg and returns a scheduler that has not started
func NewIntervalScheduler(cfg Config, runner CheckRunner) (*IntervalScheduler, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", cfg.Interval)
	}
	if cfg.CheckTimeout < 0 {
		return nil, fmt.Errorf("check timeout must not be negative, got %v", cfg.CheckTimeout)
	}
	if runner == nil {
		return nil, fmt.Errorf("check runner cannot be nil")
	}

	return &IntervalScheduler{
		cfg:    cfg,
		runner: runner,
		log:    logger.With("component", "scheduler", "interval", cfg.Interval.String()),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start launches the loop. A scheduler runs at most once.
func (s *IntervalScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	if s.stopped {
		return fmt.Errorf("scheduler cannot be restarted after stop")
	}

	s.running = true
	s.stats.NextRunTime = time.Now().Add(s.cfg.Interval)
	go s.loop(ctx)
	return nil
}

func (s *IntervalScheduler) loop(ctx context.Context) {
	defer s.doneOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.running = false
		s.mu.Unlock()
		close(s.done)
	})

	if s.cfg.RunImmediately {
		s.check(ctx)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

// check runs one check under CheckTimeout and records the outcome
func (s *IntervalScheduler) check(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	s.stats.LastRunTime = start
	s.stats.TotalRuns++
	s.stats.NextRunTime = start.Add(s.cfg.Interval)
	s.mu.Unlock()

	if s.cfg.CheckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CheckTimeout)
		defer cancel()
	}

	summary, err := s.runner.RunCheck(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.LastDuration = time.Since(start)
	if err != nil {
		s.stats.FailedRuns++
		s.stats.ConsecutiveFailures++
		s.stats.LastError = err.Error()
		s.log.Warn("Check failed", "error", err, "consecutive_failures", s.stats.ConsecutiveFailures)
		return
	}
	s.stats.SuccessfulRuns++
	s.stats.ConsecutiveFailures = 0
	s.stats.LastError = ""
	s.stats.LastSummary = summary
	s.log.Debug("Check finished", "duration", s.stats.LastDuration, "summary", summary)
}

// Stop ends the loop and waits for an in-flight check to return
func (s *IntervalScheduler) Stop() error {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		return fmt.Errorf("scheduler is not running")
	}

	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

// Status returns a snapshot of the counters
func (s *IntervalScheduler) Status() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.stats
	st.Running = s.running
	return &st
}
