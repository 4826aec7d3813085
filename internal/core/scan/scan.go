package scan

import (
	"context"
	"fmt"
	"path"

	"github.com/Ning0612/Sftpmirror/internal/adapter"
	"github.com/Ning0612/Sftpmirror/internal/core/checksum"
	"github.com/Ning0612/Sftpmirror/internal/domain"
	"github.com/Ning0612/Sftpmirror/internal/identity"
	"github.com/Ning0612/Sftpmirror/internal/logger"
)

// Notifier receives human readable progress lines. It may be nil.
type Notifier func(msg string)

// Options configures a Scanner
type Options struct {
	Algorithm checksum.Algorithm

	// IgnorePatterns are matched against base names and relative paths
	IgnorePatterns []string

	Checksum checksum.Options
}

// Scanner builds TreeSnapshots from a remote session.
// A Scanner holds no per-scan state and may be shared between goroutines.
type Scanner struct {
	calc   checksum.Calculator
	algo   checksum.Algorithm
	ignore []string
}

// New creates a scanner
func New(opts Options) *Scanner {
	algo := opts.Algorithm
	if algo == "" {
		algo = checksum.DefaultAlgorithm
	}
	calc := checksum.NewDefaultCalculator()
	if opts.Checksum != (checksum.Options{}) {
		calc = checksum.NewCalculator(opts.Checksum)
	}
	return &Scanner{
		calc:   calc,
		algo:   algo,
		ignore: opts.IgnorePatterns,
	}
}

// Scan resolves identities on the session and walks ep.Root.
// Unreadable identity files degrade owner/group to numeric ids.
func (sc *Scanner) Scan(ctx context.Context, s adapter.Session, ep domain.Endpoint, notify Notifier) (*domain.TreeSnapshot, error) {
	ids, err := identity.Resolve(ctx, s)
	var idWarns []error
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		for _, p := range []string{identity.PasswdPath, identity.GroupPath} {
			if identity.Failed(err, p) {
				idWarns = append(idWarns, &domain.TraversalWarning{Endpoint: ep.Label(), Path: p, Err: fmt.Errorf("identity lookup unavailable, using numeric ids: %w", err)})
			}
		}
	}

	snap, err := sc.Walk(ctx, s, ep.Label(), ep.Root, ids, notify)
	if err != nil {
		return nil, err
	}
	snap.Warnings = append(idWarns, snap.Warnings...)
	for _, w := range idWarns {
		report(notify, w)
	}
	return snap, nil
}

// Walk traverses root with an explicit stack.
// Listing and read failures are recorded as TraversalWarnings and skipped;
// only context cancellation aborts the walk.
func (sc *Scanner) Walk(ctx context.Context, s adapter.Session, label, root string, ids *identity.Maps, notify Notifier) (*domain.TreeSnapshot, error) {
	root = domain.CleanRoot(root)
	snap := domain.NewTreeSnapshot(label, root)
	log := logger.With("endpoint", label, "root", root)

	warn := func(p string, err error) {
		w := &domain.TraversalWarning{Endpoint: label, Path: p, Err: err}
		snap.Warnings = append(snap.Warnings, w)
		log.Warn("Skipped entry", "path", p, "error", err)
		report(notify, w)
	}

	stack := []string{root}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := s.ReadDir(ctx, dir)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			warn(dir, err)
			continue
		}

		for _, e := range entries {
			if e.Name == "." || e.Name == ".." {
				continue
			}
			full := path.Join(dir, e.Name)
			rel, err := domain.RelPath(root, full)
			if err != nil {
				warn(full, err)
				continue
			}
			if ShouldIgnore(rel, sc.ignore) {
				continue
			}

			switch e.Type {
			case domain.FileTypeDirectory:
				snap.Dirs[rel] = struct{}{}
				stack = append(stack, full)

			case domain.FileTypeRegular:
				if notify != nil {
					notify(fmt.Sprintf("Scanning [%s]: %s", label, rel))
				}
				rec, err := sc.record(ctx, s, full, rel, e, ids)
				if err != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					warn(full, err)
					continue
				}
				snap.Files[rel] = rec
			}
			// symlinks and special files are not mirrored
		}
	}

	log.Info("Scan complete", "files", len(snap.Files), "dirs", len(snap.Dirs), "warnings", len(snap.Warnings))
	return snap, nil
}

func (sc *Scanner) record(ctx context.Context, s adapter.Session, full, rel string, e domain.FileInfo, ids *identity.Maps) (domain.FileRecord, error) {
	rc, err := s.Open(ctx, full)
	if err != nil {
		return domain.FileRecord{}, err
	}
	defer rc.Close()

	sum, err := sc.calc.Calculate(ctx, rc, sc.algo)
	if err != nil {
		return domain.FileRecord{}, err
	}

	return domain.FileRecord{
		Path:        rel,
		Fingerprint: sum,
		Owner:       ids.OwnerName(int(e.UID)),
		Group:       ids.GroupName(int(e.GID)),
		Mode:        domain.SymbolicMode(e.Mode),
		OctalMode:   domain.FormatOctal(e.Mode),
		Size:        e.Size,
	}, nil
}

func report(notify Notifier, err error) {
	if notify != nil {
		notify("Warning: " + err.Error())
	}
}
