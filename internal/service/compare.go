package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Ning0612/Sftpmirror/internal/adapter"
	"github.com/Ning0612/Sftpmirror/internal/core/diff"
	"github.com/Ning0612/Sftpmirror/internal/domain"
	"github.com/Ning0612/Sftpmirror/internal/state"
	"github.com/Ning0612/Sftpmirror/internal/task"
)

// Compare scans both endpoints concurrently and reconciles them.
// The result is a *domain.Reconciliation.
func (s *Service) Compare(ctx context.Context, src, tgt domain.Endpoint) *task.Stream {
	return task.Run(ctx, "compare", func(ctx context.Context, emit *task.Emitter) (any, error) {
		if err := normalize(&src, &tgt); err != nil {
			return nil, err
		}
		start := time.Now()

		var snaps [2]*domain.TreeSnapshot
		g, gctx := errgroup.WithContext(ctx)
		for i, ep := range []domain.Endpoint{src, tgt} {
			g.Go(func() error {
				sess, release, err := s.connect(gctx, s.dialer, ep, emit)
				if err != nil {
					return err
				}
				defer release()
				snaps[i], err = s.scan(gctx, sess, ep, emit)
				return err
			})
		}
		err := g.Wait()

		run := state.RunRecord{Kind: state.KindCompare, Source: EndpointKey(src), Target: EndpointKey(tgt), StartTime: start}
		if err != nil {
			run.Status, run.Error = state.StatusFailed, err.Error()
			s.record(run)
			return nil, err
		}

		rec := diff.Reconcile(snaps[0], snaps[1])
		run.Warnings = len(rec.Source.Warnings) + len(rec.Target.Warnings)
		run.Status = runStatus(nil, run.Warnings)
		run.Summary = rec.Summary()
		s.record(run)

		emit.Progress("Comparison complete: " + rec.Summary())
		return rec, nil
	})
}

func (s *Service) scan(ctx context.Context, sess adapter.Session, ep domain.Endpoint, emit *task.Emitter) (*domain.TreeSnapshot, error) {
	emit.Progressf("Scanning %s:%s", ep.Label(), ep.Root)
	snap, err := s.scanner.Scan(ctx, sess, ep, emit.Progress)
	if err != nil {
		return nil, err
	}
	emit.Progressf("Scanned %s: %d files, %d directories, %d warnings",
		ep.Label(), len(snap.Files), len(snap.Dirs), len(snap.Warnings))
	return snap, nil
}

// scanPair scans two already open sessions concurrently
func (s *Service) scanPair(ctx context.Context, srcS, tgtS adapter.Session, src, tgt domain.Endpoint, emit *task.Emitter) (*domain.Reconciliation, error) {
	var snaps [2]*domain.TreeSnapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snaps[0], err = s.scan(gctx, srcS, src, emit)
		return err
	})
	g.Go(func() (err error) {
		snaps[1], err = s.scan(gctx, tgtS, tgt, emit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return diff.Reconcile(snaps[0], snaps[1]), nil
}

// connectPair opens source and target concurrently. On failure any
// session that did open is closed before returning.
func (s *Service) connectPair(ctx context.Context, src, tgt domain.Endpoint, emit *task.Emitter) (srcS, tgtS adapter.Session, release func(), err error) {
	var sessions [2]adapter.Session
	var releases [2]func()

	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range []domain.Endpoint{src, tgt} {
		g.Go(func() error {
			sess, rel, err := s.connect(gctx, s.dialer, ep, emit)
			if err != nil {
				return err
			}
			sessions[i], releases[i] = sess, rel
			return nil
		})
	}
	err = g.Wait()

	release = func() {
		for _, r := range releases {
			if r != nil {
				r()
			}
		}
	}
	if err != nil {
		release()
		return nil, nil, nil, err
	}
	return sessions[0], sessions[1], release, nil
}
