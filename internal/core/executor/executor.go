package executor

import (
	"context"
	"fmt"

	"github.com/Ning0612/Sftpmirror/internal/adapter"
	"github.com/Ning0612/Sftpmirror/internal/domain"
	"github.com/Ning0612/Sftpmirror/internal/identity"
	"github.com/Ning0612/Sftpmirror/internal/logger"
	"github.com/Ning0612/Sftpmirror/internal/progress"
)

// Request is everything one run needs
type Request struct {
	Plan *domain.SyncPlan

	Source     adapter.Session
	SourceRoot string

	Target     adapter.Session
	TargetRoot string

	// TargetIDs resolves source owner/group names on the target.
	// nil skips chown.
	TargetIDs *identity.Maps
}

// Executor runs sync plans. It holds no per-run state.
type Executor struct{}

// New creates an executor
func New() *Executor {
	return &Executor{}
}

func (e *Executor) log() logger.Logger {
	return logger.With("component", "executor")
}

// Execute applies req.Plan in order. A failed item becomes a
// *domain.SyncWarning and the next item runs. The returned outcome is valid
// even when err is non-nil; err is only ever the context error.
func (e *Executor) Execute(ctx context.Context, req Request, reporter progress.Reporter) (domain.SyncOutcome, error) {
	if reporter == nil {
		reporter = progress.NullReporter{}
	}
	var out domain.SyncOutcome
	if req.Plan == nil {
		return out, nil
	}

	reporter.SetTotal(req.Plan.Stats.FilesToCopy, req.Plan.Stats.BytesToSync)
	counts := phaseCounts(req.Plan.Actions)

	warn := func(op domain.ActionType, rel string, err error) {
		w := &domain.SyncWarning{Op: op, Path: rel, Err: err}
		out.Warnings = append(out.Warnings, w)
		e.log().Warn("Sync item failed", "op", op, "path", rel, "error", err)
		reporter.Error(w)
	}

	phase := domain.SyncPhase(-1)
	for _, action := range req.Plan.Actions {
		if err := ctx.Err(); err != nil {
			e.log().Warn("Sync cancelled", "outcome", out.String())
			return out, err
		}
		if action.Phase != phase {
			phase = action.Phase
			reporter.Phase(phase.String(), counts[phase])
		}

		tgtPath := domain.JoinRemote(req.TargetRoot, action.Path)

		switch action.Type {
		case domain.ActionDelete:
			if err := req.Target.Remove(ctx, tgtPath); err != nil {
				warn(action.Type, action.Path, err)
				continue
			}
			out.Deleted++

		case domain.ActionRmdir:
			if err := req.Target.Rmdir(ctx, tgtPath); err != nil {
				warn(action.Type, action.Path, err)
				continue
			}
			out.RemovedDirs++

		case domain.ActionMkdir:
			if err := req.Target.Mkdir(ctx, tgtPath); err != nil {
				warn(action.Type, action.Path, err)
				continue
			}
			out.CreatedDirs++

		case domain.ActionCopy:
			srcPath := domain.JoinRemote(req.SourceRoot, action.Path)
			var size int64
			if action.Source != nil {
				size = action.Source.Size
			}
			reporter.Start(action.Path, size)
			if _, err := Copy(ctx, req.Source, req.Target, srcPath, tgtPath, reporter); err != nil {
				warn(action.Type, action.Path, err)
				continue
			}
			out.Copied++
			reporter.Complete()

			if action.Source == nil {
				continue
			}
			if err := e.applyOwner(ctx, req.Target, tgtPath, action.Source, req.TargetIDs); err != nil {
				warn(domain.ActionChown, action.Path, err)
			}
			if err := ApplyMode(ctx, req.Target, tgtPath, action.Source.OctalMode); err != nil {
				warn(domain.ActionChmod, action.Path, err)
			}

		default:
			warn(action.Type, action.Path, fmt.Errorf("unknown action type: %s", action.Type))
		}
	}

	e.log().Info("Sync plan applied", "outcome", out.String())
	return out, nil
}

// Copy streams one file from a source session straight into a target session.
func Copy(ctx context.Context, from, to adapter.Session, fromPath, toPath string, reporter progress.Reporter) (int64, error) {
	rc, err := from.Open(ctx, fromPath)
	if err != nil {
		return 0, fmt.Errorf("read source: %w", err)
	}
	defer rc.Close()

	pr := progress.NewProgressReader(rc, reporter)
	n, err := to.Create(ctx, toPath, pr)
	if err != nil {
		return n, fmt.Errorf("write target after %s: %w", progress.FormatBytes(pr.Transferred()), err)
	}
	return n, nil
}

// applyOwner chowns only when both names resolve on the target
func (e *Executor) applyOwner(ctx context.Context, s adapter.Session, p string, rec *domain.FileRecord, ids *identity.Maps) error {
	if ids == nil {
		return nil
	}
	uid, okU := ids.UID(rec.Owner)
	gid, okG := ids.GID(rec.Group)
	if !okU || !okG {
		e.log().Debug("Owner not mapped on target, keeping default", "path", p, "owner", rec.Owner, "group", rec.Group)
		return nil
	}
	return s.Chown(ctx, p, uid, gid)
}

// ApplyMode chmods p to an octal permission string. Empty is a no-op.
func ApplyMode(ctx context.Context, s adapter.Session, p, octal string) error {
	if octal == "" {
		return nil
	}
	mode, err := domain.ParseOctal(octal)
	if err != nil {
		return err
	}
	return s.Chmod(ctx, p, mode)
}

func phaseCounts(actions []domain.SyncAction) map[domain.SyncPhase]int {
	counts := make(map[domain.SyncPhase]int)
	for _, a := range actions {
		counts[a.Phase]++
	}
	return counts
}
