package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Ning0612/Sftpmirror/internal/domain"
	"github.com/Ning0612/Sftpmirror/internal/logger"
	"github.com/Ning0612/Sftpmirror/internal/scheduler"
	"github.com/Ning0612/Sftpmirror/internal/task"
)

// WatchService compares two endpoints on an interval and logs drift
type WatchService struct {
	mu        sync.RWMutex
	svc       *Service
	source    domain.Endpoint
	target    domain.Endpoint
	scheduler scheduler.Scheduler
	last      *domain.Reconciliation
}

// WatchStatus represents the current watcher status
type WatchStatus struct {
	Running        bool
	SchedulerStats *scheduler.Status

	// Drift is the last reconciliation, nil before the first check
	Drift *domain.Reconciliation
}

// NewWatchService creates a watcher for the endpoint pair
func NewWatchService(svc *Service, src, tgt domain.Endpoint) (*WatchService, error) {
	if svc == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if err := normalize(&src, &tgt); err != nil {
		return nil, err
	}
	return &WatchService{svc: svc, source: src, target: tgt}, nil
}

// RunCheck runs one compare and returns its summary. It implements
// scheduler.CheckRunner.
func (w *WatchService) RunCheck(ctx context.Context) (string, error) {
	log := logger.With("component", "watch", "source", w.source.Label(), "target", w.target.Label())

	stream := w.svc.Compare(ctx, w.source, w.target)
	rec, err := task.Result[*domain.Reconciliation](ctx, stream, func(msg string) {
		log.Debug(msg)
	})
	if err != nil {
		log.Error("Drift check failed", "error", err)
		return "", err
	}

	w.mu.Lock()
	w.last = rec
	w.mu.Unlock()

	if rec.InSync() {
		log.Info("No drift", "identical", len(rec.Identical))
	} else {
		log.Warn("Drift detected",
			"only_source", len(rec.OnlySource),
			"only_target", len(rec.OnlyTarget),
			"changed", len(rec.Changed),
			"only_source_dirs", len(rec.OnlySourceDirs),
			"only_target_dirs", len(rec.OnlyTargetDirs))
	}
	return rec.Summary(), nil
}

// Start runs a check immediately and then every interval
func (w *WatchService) Start(ctx context.Context, interval time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.scheduler != nil {
		return fmt.Errorf("watch is already running")
	}

	sched, err := scheduler.NewIntervalScheduler(scheduler.Config{
		Interval:       interval,
		RunImmediately: true,
		CheckTimeout:   interval,
	}, w)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	w.scheduler = sched
	return nil
}

// Stop stops the watcher and waits for a running check to finish
func (w *WatchService) Stop() error {
	w.mu.Lock()
	sched := w.scheduler
	w.scheduler = nil
	w.mu.Unlock()

	if sched == nil {
		return fmt.Errorf("watch is not running")
	}
	// a running check takes w.mu, so it must not be held here
	if err := sched.Stop(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	return nil
}

// Status returns the current watcher status
func (w *WatchService) Status() *WatchStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	status := &WatchStatus{
		Running: w.scheduler != nil,
		Drift:   w.last,
	}
	if w.scheduler != nil {
		status.SchedulerStats = w.scheduler.Status()
	}
	return status
}
