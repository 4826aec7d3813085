package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/Ning0612/Sftpmirror/internal/adapter"
	"github.com/Ning0612/Sftpmirror/internal/domain"
	"github.com/Ning0612/Sftpmirror/internal/identity"
	"github.com/Ning0612/Sftpmirror/internal/task"
)

// AttributeChange describes an owner, group or permission change on one
// path. Empty fields are left unchanged.
type AttributeChange struct {
	Path  string
	Owner string
	Group string

	// Perms is an octal string such as "644"
	Perms string
}

// Empty reports whether the change would do nothing
func (c AttributeChange) Empty() bool {
	return c.Owner == "" && c.Group == "" && c.Perms == ""
}

// Side selects the endpoints a request applies to
type Side int

const (
	SideSource Side = 1 << iota
	SideTarget

	SideBoth = SideSource | SideTarget
)

// ParseSide maps "source", "target" or "both"
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "source", "test":
		return SideSource, nil
	case "target", "prod":
		return SideTarget, nil
	case "", "both":
		return SideBoth, nil
	}
	return 0, fmt.Errorf("unknown side %q (want source, target or both)", s)
}

// AttributeRequest is one change applied to the selected sides
type AttributeRequest struct {
	AttributeChange
	Side Side
}

// SetAttributes applies one change on ep. Owner and group names are
// resolved on that endpoint. The result is an AttributeComplete.
func (s *Service) SetAttributes(ctx context.Context, ep domain.Endpoint, change AttributeChange) *task.Stream {
	return task.Run(ctx, "set-attributes", func(ctx context.Context, emit *task.Emitter) (any, error) {
		if err := normalize(&ep); err != nil {
			return nil, err
		}
		if change.Empty() {
			return nil, &domain.AttributeError{Endpoint: ep.Label(), Path: change.Path, Err: errors.New("nothing to change")}
		}

		sess, release, err := s.connect(ctx, s.dialer, ep, emit)
		if err != nil {
			return nil, err
		}
		defer release()

		var ids *identity.Maps
		if change.Owner != "" || change.Group != "" {
			ids = identities(ctx, sess, ep, emit)
		}
		if err := applyAttributes(ctx, sess, ids, ep, change); err != nil {
			return nil, err
		}
		emit.Progressf("Attributes updated on %s: %s", ep.Label(), change.Path)
		return AttributeComplete{Endpoint: ep.Label(), Path: change.Path}, nil
	})
}

// identities resolves the identity tables of ep. A table that cannot be
// read is left empty and reported as a warning.
func identities(ctx context.Context, sess adapter.Session, ep domain.Endpoint, emit *task.Emitter) *identity.Maps {
	ids, err := identity.Resolve(ctx, sess)
	if err != nil {
		emit.Warn(fmt.Errorf("%s identity lookup failed: %w", ep.Label(), err))
	}
	return ids
}

func applyAttributes(ctx context.Context, sess adapter.Session, ids *identity.Maps, ep domain.Endpoint, change AttributeChange) error {
	fail := func(err error) error {
		return &domain.AttributeError{Endpoint: ep.Label(), Path: change.Path, Err: err}
	}

	rel, err := domain.CleanRel(change.Path)
	if err != nil {
		return fail(err)
	}
	full := ep.RemotePath(rel)

	var mode fs.FileMode
	if change.Perms != "" {
		if mode, err = domain.ParseOctal(change.Perms); err != nil {
			return fail(err)
		}
	}

	if change.Owner != "" || change.Group != "" {
		st, err := sess.Stat(ctx, full)
		if err != nil {
			return fail(err)
		}
		uid, gid := int(st.UID), int(st.GID)
		if change.Owner != "" {
			id, ok := ids.UID(change.Owner)
			if !ok {
				return fail(fmt.Errorf("%w: %s", domain.ErrUnknownOwner, change.Owner))
			}
			uid = id
		}
		if change.Group != "" {
			id, ok := ids.GID(change.Group)
			if !ok {
				return fail(fmt.Errorf("%w: %s", domain.ErrUnknownGroup, change.Group))
			}
			gid = id
		}
		if err := sess.Chown(ctx, full, uid, gid); err != nil {
			return fail(err)
		}
	}

	if change.Perms != "" {
		if err := sess.Chmod(ctx, full, mode); err != nil {
			return fail(err)
		}
	}
	return nil
}

// presenceOf looks a path up as a file, then as a directory
func presenceOf(rec *domain.Reconciliation, rel string) domain.Presence {
	if rec == nil {
		return domain.PresenceBoth
	}
	if p := rec.PresenceOf(rel); p != domain.PresenceNone {
		return p
	}
	inS := rec.Source != nil && rec.Source.HasDir(rel)
	inT := rec.Target != nil && rec.Target.HasDir(rel)
	switch {
	case inS && inT:
		return domain.PresenceBoth
	case inS:
		return domain.PresenceSourceOnly
	case inT:
		return domain.PresenceTargetOnly
	}
	return domain.PresenceNone
}

type sideSession struct {
	ep      domain.Endpoint
	sess    adapter.Session
	ids     *identity.Maps
	release func()
}

// SetAttributesBatch applies each request to the selected sides, limited to
// the sides that hold the path in rec (nil rec means both). Each change is
// independent. The result is an AttributeBatchResult.
func (s *Service) SetAttributesBatch(ctx context.Context, src, tgt domain.Endpoint, rec *domain.Reconciliation, reqs []AttributeRequest) *task.Stream {
	return task.Run(ctx, "set-attributes-batch", func(ctx context.Context, emit *task.Emitter) (any, error) {
		if err := normalize(&src, &tgt); err != nil {
			return nil, err
		}

		type job struct {
			side   Side
			change AttributeChange
		}
		var res AttributeBatchResult
		var jobs []job
		needIDs := map[Side]bool{}
		for _, r := range reqs {
			if r.Empty() {
				continue
			}
			rel, err := domain.CleanRel(r.Path)
			if err != nil {
				res.Errors = append(res.Errors, &domain.AttributeError{Path: r.Path, Err: err})
				continue
			}
			p := presenceOf(rec, rel)
			if p == domain.PresenceNone {
				res.Errors = append(res.Errors, &domain.AttributeError{Path: r.Path, Err: domain.ErrNotFound})
				continue
			}
			for _, side := range []Side{SideSource, SideTarget} {
				if r.Side&side == 0 {
					continue
				}
				if (side == SideSource && !p.OnSource()) || (side == SideTarget && !p.OnTarget()) {
					continue
				}
				jobs = append(jobs, job{side: side, change: r.AttributeChange})
				if r.Owner != "" || r.Group != "" {
					needIDs[side] = true
				}
			}
		}

		sides := map[Side]*sideSession{}
		defer func() {
			for _, ss := range sides {
				ss.release()
			}
		}()
		open := func(side Side) (*sideSession, error) {
			if ss, ok := sides[side]; ok {
				return ss, nil
			}
			ep := src
			if side == SideTarget {
				ep = tgt
			}
			sess, release, err := s.connect(ctx, s.dialer, ep, emit)
			if err != nil {
				return nil, err
			}
			ss := &sideSession{ep: ep, sess: sess, release: release}
			if needIDs[side] {
				ss.ids = identities(ctx, sess, ep, emit)
			}
			sides[side] = ss
			return ss, nil
		}

		for _, j := range jobs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			ss, err := open(j.side)
			if err != nil {
				return nil, err
			}
			if err := applyAttributes(ctx, ss.sess, ss.ids, ss.ep, j.change); err != nil {
				res.Errors = append(res.Errors, err)
				emit.Warn(err)
				continue
			}
			res.Applied = append(res.Applied, AttributeComplete{Endpoint: ss.ep.Label(), Path: j.change.Path})
			emit.Progressf("Attributes updated on %s: %s", ss.ep.Label(), j.change.Path)
		}

		emit.Progress("Attribute changes complete: " + res.String())
		return res, nil
	})
}

// ListUsers returns the sorted user names of ep as a NameList
func (s *Service) ListUsers(ctx context.Context, ep domain.Endpoint) *task.Stream {
	return s.listNames(ctx, ep, "users", identity.PasswdPath, (*identity.Maps).UserNames)
}

// ListGroups returns the sorted group names of ep as a NameList
func (s *Service) ListGroups(ctx context.Context, ep domain.Endpoint) *task.Stream {
	return s.listNames(ctx, ep, "groups", identity.GroupPath, (*identity.Maps).GroupNames)
}

func (s *Service) listNames(ctx context.Context, ep domain.Endpoint, kind, file string, names func(*identity.Maps) []string) *task.Stream {
	return task.Run(ctx, "list-"+kind, func(ctx context.Context, emit *task.Emitter) (any, error) {
		if err := normalize(&ep); err != nil {
			return nil, err
		}
		sess, release, err := s.connect(ctx, s.dialer, ep, emit)
		if err != nil {
			return nil, err
		}
		defer release()

		ids, err := identity.Resolve(ctx, sess)
		if identity.Failed(err, file) {
			return nil, fmt.Errorf("list %s on %s: %w", kind, ep.Label(), err)
		}
		list := NameList{Endpoint: ep.Label(), Kind: kind, Names: names(ids)}
		emit.Progressf("Found %d %s on %s", len(list.Names), kind, ep.Label())
		return list, nil
	})
}
