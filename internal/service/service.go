package service

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"github.com/Ning0612/Sftpmirror/internal/adapter"
	"github.com/Ning0612/Sftpmirror/internal/core/executor"
	"github.com/Ning0612/Sftpmirror/internal/core/planner"
	"github.com/Ning0612/Sftpmirror/internal/core/scan"
	"github.com/Ning0612/Sftpmirror/internal/domain"
	"github.com/Ning0612/Sftpmirror/internal/lock"
	"github.com/Ning0612/Sftpmirror/internal/logger"
	"github.com/Ning0612/Sftpmirror/internal/state"
	"github.com/Ning0612/Sftpmirror/internal/task"
)

// Options wires a Service
type Options struct {
	// Dialer opens sessions; required
	Dialer adapter.Dialer

	// BackupDialer is used for remote backups, which get a longer connect
	// timeout. nil uses Dialer.
	BackupDialer adapter.Dialer

	Scanner  *scan.Scanner
	Planner  planner.Planner
	Executor *executor.Executor

	// History records runs when set
	History *state.Manager

	// LockDir holds per-target lock files; empty uses the user config dir
	LockDir string

	// LockStaleTimeout is the age after which a lock taken on another host
	// is ignored; zero keeps lock.DefaultStaleTimeout
	LockStaleTimeout time.Duration

	// Fs is the local filesystem for backups; nil uses the OS filesystem
	Fs afero.Fs

	// Now is the clock used for backup names
	Now func() time.Time
}

// Service runs compare, sync and single-file operations against endpoints.
// Each method returns a *task.Stream at once; the task opens its own sessions
// and closes them on every exit path.
type Service struct {
	dialer       adapter.Dialer
	backupDialer adapter.Dialer
	scanner      *scan.Scanner
	planner      planner.Planner
	executor     *executor.Executor
	history      *state.Manager
	lockDir      string
	lockStale    time.Duration
	fs           afero.Fs
	now          func() time.Time
}

// New creates a service
func New(opts Options) (*Service, error) {
	if opts.Dialer == nil {
		return nil, fmt.Errorf("dialer cannot be nil")
	}
	s := &Service{
		dialer:       opts.Dialer,
		backupDialer: opts.BackupDialer,
		scanner:      opts.Scanner,
		planner:      opts.Planner,
		executor:     opts.Executor,
		history:      opts.History,
		lockDir:      opts.LockDir,
		lockStale:    opts.LockStaleTimeout,
		fs:           opts.Fs,
		now:          opts.Now,
	}
	if s.backupDialer == nil {
		s.backupDialer = s.dialer
	}
	if s.scanner == nil {
		s.scanner = scan.New(scan.Options{})
	}
	if s.planner == nil {
		s.planner = planner.NewDefaultPlanner()
	}
	if s.executor == nil {
		s.executor = executor.New()
	}
	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// connect dials ep and returns the session with a release func that closes
// it and logs the close.
func (s *Service) connect(ctx context.Context, d adapter.Dialer, ep domain.Endpoint, emit *task.Emitter) (adapter.Session, func(), error) {
	emit.Progressf("Connecting to %s (%s)...", ep.Label(), ep.Host)
	sess, err := d.Dial(ctx, ep)
	if err != nil {
		return nil, nil, err
	}
	emit.Progressf("Connected to %s", ep.Label())

	log := emit.Logger().With("endpoint", ep.Label(), "host", ep.Host)
	release := func() {
		if err := sess.Close(); err != nil {
			log.Warn("Failed to close connection", "error", err)
			return
		}
		log.Debug("connection closed")
	}
	return sess, release, nil
}

// normalize validates both endpoints of a pair
func normalize(eps ...*domain.Endpoint) error {
	for _, ep := range eps {
		n, err := ep.Normalize()
		if err != nil {
			return err
		}
		*ep = n
	}
	return nil
}

// acquire takes the per-target lock for operation
func (s *Service) acquire(target domain.Endpoint, operation string, emit *task.Emitter) (func(), error) {
	fl, err := s.lockFor(target)
	if err != nil {
		return nil, err
	}
	if err := fl.Acquire(operation); err != nil {
		return nil, err
	}
	emit.Logger().Debug("Lock acquired", "target", target.Label(), "lock", fl.Path())
	return func() {
		if err := fl.Release(); err != nil {
			emit.Logger().Error("Failed to release lock", "target", target.Label(), "error", err)
		}
	}, nil
}

func (s *Service) lockFor(target domain.Endpoint) (*lock.FileLock, error) {
	fl, err := lock.NewFileLock(s.lockDir, lock.Key(target))
	if err != nil {
		return nil, err
	}
	if s.lockStale > 0 {
		fl.SetStaleTimeout(s.lockStale)
	}
	return fl, nil
}

// lockForKey opens the lock of target without requiring credentials; only
// the fields that make up lock.Key are checked.
func (s *Service) lockForKey(target domain.Endpoint) (*lock.FileLock, error) {
	target = target.Canonical()
	if target.Host == "" || target.Username == "" || target.Root == "" {
		return nil, fmt.Errorf("%w: %s: host, username and root are required", domain.ErrConfigInvalid, target.Label())
	}
	return s.lockFor(target)
}

// LockHolder reports who holds the sync lock on target. It returns nil when
// the lock is free or stale.
func (s *Service) LockHolder(target domain.Endpoint) (*lock.LockInfo, error) {
	fl, err := s.lockForKey(target)
	if err != nil {
		return nil, err
	}
	if !fl.IsLocked() {
		return nil, nil
	}
	return fl.GetHolder()
}

// ForceUnlock removes the sync lock on target whoever holds it. Only for
// holders known to have crashed.
func (s *Service) ForceUnlock(target domain.Endpoint) error {
	target = target.Canonical()
	fl, err := s.lockForKey(target)
	if err != nil {
		return err
	}
	logger.Get().Warn("Forcing lock release", "target", target.Label(), "lock", fl.Path())
	return fl.ForceRelease()
}

// record saves a run when history is configured. Failures are logged only.
func (s *Service) record(r state.RunRecord) {
	if s.history == nil {
		return
	}
	if r.EndTime.IsZero() {
		r.EndTime = time.Now()
	}
	if _, err := s.history.SaveRun(r); err != nil {
		logger.Get().Warn("Failed to record run", "kind", r.Kind, "error", err)
	}
}

// EndpointKey identifies an endpoint in run history
func EndpointKey(ep domain.Endpoint) string {
	return fmt.Sprintf("%s:%d:%s", ep.Host, ep.Port, ep.Root)
}

func runStatus(err error, warnings int) string {
	switch {
	case err != nil:
		return state.StatusFailed
	case warnings > 0:
		return state.StatusPartial
	}
	return state.StatusSuccess
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
