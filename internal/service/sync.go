package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/Ning0612/Sftpmirror/internal/adapter"
	"github.com/Ning0612/Sftpmirror/internal/backup"
	"github.com/Ning0612/Sftpmirror/internal/core/executor"
	"github.com/Ning0612/Sftpmirror/internal/core/planner"
	"github.com/Ning0612/Sftpmirror/internal/domain"
	"github.com/Ning0612/Sftpmirror/internal/identity"
	"github.com/Ning0612/Sftpmirror/internal/progress"
	"github.com/Ning0612/Sftpmirror/internal/state"
	"github.com/Ning0612/Sftpmirror/internal/task"
)

// SyncOptions controls a full sync
type SyncOptions struct {
	// DeleteOnTarget removes target-only files and directories
	DeleteOnTarget bool

	// Backup runs before anything is changed; a failed backup aborts the sync
	Backup domain.BackupMode

	// BackupDir is the local parent directory for BackupLocal
	BackupDir string
}

func (o SyncOptions) validate() error {
	switch {
	case o.Backup != "" && !o.Backup.IsValid():
		return fmt.Errorf("%w: unknown backup mode %q", domain.ErrConfigInvalid, o.Backup)
	case o.Backup == domain.BackupLocal && o.BackupDir == "":
		return fmt.Errorf("%w: local backup needs a directory", domain.ErrConfigInvalid)
	}
	return nil
}

// Sync mirrors src onto tgt. rec is the reconciliation to act on; nil
// rescans both endpoints first. Failure policy: the backup and connecting
// are fatal, every sync item after that is best-effort and reported as a
// warning. The result is a SyncComplete.
func (s *Service) Sync(ctx context.Context, src, tgt domain.Endpoint, rec *domain.Reconciliation, opts SyncOptions) *task.Stream {
	return task.Run(ctx, "sync", func(ctx context.Context, emit *task.Emitter) (any, error) {
		if err := normalize(&src, &tgt); err != nil {
			return nil, err
		}
		if err := opts.validate(); err != nil {
			return nil, err
		}
		start := time.Now()

		res, err := s.sync(ctx, src, tgt, rec, opts, emit)
		s.record(state.RunRecord{
			Kind:      state.KindSync,
			Source:    EndpointKey(src),
			Target:    EndpointKey(tgt),
			StartTime: start,
			Status:    runStatus(err, len(res.Outcome.Warnings)),
			Copied:    res.Outcome.Copied,
			Deleted:   res.Outcome.Deleted,
			Warnings:  len(res.Outcome.Warnings),
			Summary:   res.Outcome.String(),
			Error:     errText(err),
		})
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}

func (s *Service) sync(ctx context.Context, src, tgt domain.Endpoint, rec *domain.Reconciliation, opts SyncOptions, emit *task.Emitter) (SyncComplete, error) {
	var res SyncComplete

	unlock, err := s.acquire(tgt, "sync", emit)
	if err != nil {
		return res, err
	}
	defer unlock()

	res.BackupPath, err = s.backup(ctx, tgt, opts.Backup, opts.BackupDir, emit)
	if err != nil {
		return res, err
	}

	srcS, tgtS, release, err := s.connectPair(ctx, src, tgt, emit)
	if err != nil {
		return res, err
	}
	defer release()

	if rec == nil {
		if rec, err = s.scanPair(ctx, srcS, tgtS, src, tgt, emit); err != nil {
			return res, err
		}
	}

	ids, err := identity.Resolve(ctx, tgtS)
	if err != nil {
		emit.Warn(fmt.Errorf("%s identity lookup failed, unmapped owners keep the default: %w", tgt.Label(), err))
	}

	plan := s.planner.Plan(rec, planner.Options{DeleteOnTarget: opts.DeleteOnTarget})
	res.Stats = plan.Stats
	emit.Progressf("Plan: %d to copy (%s), %d to delete, %d dirs to create, %d dirs to remove",
		plan.Stats.FilesToCopy, progress.FormatBytes(plan.Stats.BytesToSync),
		plan.Stats.FilesToDelete, plan.Stats.DirsToCreate, plan.Stats.DirsToDelete)

	res.Outcome, err = s.executor.Execute(ctx, executor.Request{
		Plan:       plan,
		Source:     srcS,
		SourceRoot: src.Root,
		Target:     tgtS,
		TargetRoot: tgt.Root,
		TargetIDs:  ids,
	}, progress.NewLineReporter(emit.Progress))
	if err != nil {
		return res, err
	}

	emit.Progress("Sync complete: " + res.Outcome.String())
	return res, nil
}

// backup runs the requested backup of ep. Any failure is a *domain.BackupError.
func (s *Service) backup(ctx context.Context, ep domain.Endpoint, mode domain.BackupMode, dir string, emit *task.Emitter) (string, error) {
	switch mode {
	case "", domain.BackupNone:
		emit.Progress("Backup skipped")
		return "", nil

	case domain.BackupRemote:
		sess, release, err := s.connect(ctx, s.backupDialer, ep, emit)
		if err != nil {
			return "", &domain.BackupError{Mode: mode, Path: backup.RemotePath(ep.Root, s.now()), Err: err}
		}
		defer release()
		return backup.Remote(ctx, sess, ep.Root, s.now(), emit.Progress)

	case domain.BackupLocal:
		sess, release, err := s.connect(ctx, s.dialer, ep, emit)
		if err != nil {
			return "", &domain.BackupError{Mode: mode, Path: dir, Err: err}
		}
		defer release()
		return backup.NewLocal(s.fs).Run(ctx, sess, ep.Root, dir, s.now(), nil, emit.Progress)
	}
	return "", &domain.BackupError{Mode: mode, Err: fmt.Errorf("%w: unknown backup mode", domain.ErrConfigInvalid)}
}

// Backup makes a standalone backup of ep. The result is a BackupComplete.
func (s *Service) Backup(ctx context.Context, ep domain.Endpoint, mode domain.BackupMode, dir string) *task.Stream {
	return task.Run(ctx, "backup", func(ctx context.Context, emit *task.Emitter) (any, error) {
		if err := normalize(&ep); err != nil {
			return nil, err
		}
		if mode != domain.BackupRemote && mode != domain.BackupLocal {
			return nil, fmt.Errorf("%w: backup mode must be remote or local, got %q", domain.ErrConfigInvalid, mode)
		}
		if err := (SyncOptions{Backup: mode, BackupDir: dir}).validate(); err != nil {
			return nil, err
		}
		start := time.Now()

		unlock, err := s.acquire(ep, "backup", emit)
		if err != nil {
			return nil, err
		}
		defer unlock()

		dest, err := s.backup(ctx, ep, mode, dir, emit)
		s.record(state.RunRecord{
			Kind:      state.KindBackup,
			Target:    EndpointKey(ep),
			StartTime: start,
			Status:    runStatus(err, 0),
			Summary:   string(mode) + " backup to " + dest,
			Error:     errText(err),
		})
		if err != nil {
			return nil, err
		}
		return BackupComplete{Mode: mode, Path: dest}, nil
	})
}

// DirOutcome reports what ensureDirectoryExists found or did
type DirOutcome int

const (
	DirExisted DirOutcome = iota
	DirCreated
	DirFailed
)

func (o DirOutcome) String() string {
	switch o {
	case DirExisted:
		return "existed"
	case DirCreated:
		return "created"
	}
	return "failed"
}

// ensureDirectoryExists creates dir and any missing parents
func ensureDirectoryExists(ctx context.Context, sess adapter.Session, dir string) (DirOutcome, error) {
	st, err := sess.Stat(ctx, dir)
	if err == nil {
		if st.IsDir() {
			return DirExisted, nil
		}
		return DirFailed, fmt.Errorf("%s: %w", dir, domain.ErrNotDirectory)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return DirFailed, err
	}

	missing := []string{dir}
	for d := path.Dir(dir); d != "/" && d != "."; d = path.Dir(d) {
		ok, err := adapter.Exists(ctx, sess, d)
		if err != nil {
			return DirFailed, err
		}
		if ok {
			break
		}
		missing = append(missing, d)
	}
	for i := len(missing) - 1; i >= 0; i-- {
		if err := sess.Mkdir(ctx, missing[i]); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			return DirFailed, fmt.Errorf("mkdir %s: %w", missing[i], err)
		}
	}
	return DirCreated, nil
}

// syncOne copies one file and its permission bits. Owner and group are
// left alone. A parent directory that cannot be created is only a warning;
// the copy then reports the real failure.
func (s *Service) syncOne(ctx context.Context, srcS, tgtS adapter.Session, src, tgt domain.Endpoint, rel string, emit *task.Emitter) (DirOutcome, error) {
	rel, err := domain.CleanRel(rel)
	if err != nil {
		return DirFailed, err
	}
	srcPath, tgtPath := src.RemotePath(rel), tgt.RemotePath(rel)

	st, err := srcS.Stat(ctx, srcPath)
	if err != nil {
		return DirFailed, fmt.Errorf("stat source: %w", err)
	}
	if !st.IsFile() {
		return DirFailed, fmt.Errorf("%s: %w", rel, domain.ErrNotFile)
	}

	dir := path.Dir(tgtPath)
	outcome, err := ensureDirectoryExists(ctx, tgtS, dir)
	switch {
	case err != nil:
		emit.Warn(fmt.Errorf("ensure directory %s: %w", dir, err))
	case outcome == DirCreated:
		emit.Progressf("Created directory %s", dir)
	}

	if _, err := executor.Copy(ctx, srcS, tgtS, srcPath, tgtPath, nil); err != nil {
		return outcome, err
	}
	if err := executor.ApplyMode(ctx, tgtS, tgtPath, domain.FormatOctal(st.Mode)); err != nil {
		emit.Warn(&domain.SyncWarning{Op: domain.ActionChmod, Path: rel, Err: err})
	}
	return outcome, nil
}

// SyncFile copies a single file from src to tgt. The result is a
// SingleSyncComplete.
func (s *Service) SyncFile(ctx context.Context, src, tgt domain.Endpoint, rel string) *task.Stream {
	return task.Run(ctx, "sync-file", func(ctx context.Context, emit *task.Emitter) (any, error) {
		if err := normalize(&src, &tgt); err != nil {
			return nil, err
		}
		unlock, err := s.acquire(tgt, "sync-file", emit)
		if err != nil {
			return nil, err
		}
		defer unlock()

		srcS, tgtS, release, err := s.connectPair(ctx, src, tgt, emit)
		if err != nil {
			return nil, err
		}
		defer release()

		emit.Progressf("Syncing %s", rel)
		outcome, err := s.syncOne(ctx, srcS, tgtS, src, tgt, rel, emit)
		if err != nil {
			return nil, fmt.Errorf("sync %s: %w", rel, err)
		}
		emit.Progressf("Single sync complete: %s", rel)
		return SingleSyncComplete{Path: rel, Dir: outcome}, nil
	})
}

// SyncFiles copies several files over one pair of sessions. A failed file
// is reported and the batch continues. The result is a BatchSyncComplete.
func (s *Service) SyncFiles(ctx context.Context, src, tgt domain.Endpoint, rels []string) *task.Stream {
	return task.Run(ctx, "sync-files", func(ctx context.Context, emit *task.Emitter) (any, error) {
		if err := normalize(&src, &tgt); err != nil {
			return nil, err
		}
		if len(rels) == 0 {
			return nil, fmt.Errorf("no files to sync")
		}
		start := time.Now()

		unlock, err := s.acquire(tgt, "sync-files", emit)
		if err != nil {
			return nil, err
		}
		defer unlock()

		srcS, tgtS, release, err := s.connectPair(ctx, src, tgt, emit)
		if err != nil {
			return nil, err
		}
		defer release()

		var res BatchSyncComplete
		for i, rel := range rels {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			emit.Progressf("Syncing %s [%d/%d]", rel, i+1, len(rels))
			if _, err := s.syncOne(ctx, srcS, tgtS, src, tgt, rel, emit); err != nil {
				item := ItemError{Path: rel, Err: err}
				res.Failed = append(res.Failed, item)
				emit.Warn(item)
				continue
			}
			res.Synced = append(res.Synced, rel)
			emit.Progressf("Single sync complete: %s", rel)
		}

		s.record(state.RunRecord{
			Kind:      state.KindSync,
			Source:    EndpointKey(src),
			Target:    EndpointKey(tgt),
			StartTime: start,
			Status:    runStatus(nil, len(res.Failed)),
			Copied:    len(res.Synced),
			Warnings:  len(res.Failed),
			Summary:   fmt.Sprintf("%d of %d files synced", len(res.Synced), len(rels)),
		})
		emit.Progressf("Batch sync complete: %d synced, %d failed", len(res.Synced), len(res.Failed))
		return res, nil
	})
}
