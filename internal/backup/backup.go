package backup

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/afero"

	"github.com/Ning0612/Sftpmirror/internal/adapter"
	"github.com/Ning0612/Sftpmirror/internal/adapter/local"
	"github.com/Ning0612/Sftpmirror/internal/domain"
	"github.com/Ning0612/Sftpmirror/internal/logger"
	"github.com/Ning0612/Sftpmirror/internal/progress"
)

// Suffix returns "-backup-YYYYMMDD-HHMMSS" for t
func Suffix(t time.Time) string {
	return "-backup-" + t.Format(domain.BackupTimestampLayout)
}

// RemotePath is the sibling directory a remote backup of root is copied to
func RemotePath(root string, t time.Time) string {
	return domain.CleanRoot(root) + Suffix(t)
}

// LocalDirName is the directory name a local backup of root is written to
func LocalDirName(root string, t time.Time) string {
	name := path.Base(domain.CleanRoot(root))
	if name == "/" || name == "." || name == "" {
		name = "root"
	}
	return name + Suffix(t)
}

// Remote copies root to RemotePath(root, now) on the server with cp -r.
// A non-zero exit status fails the backup with the command's stderr. Any
// failure is a *domain.BackupError.
func Remote(ctx context.Context, s adapter.Session, root string, now time.Time, notify func(string)) (string, error) {
	root = domain.CleanRoot(root)
	dest := RemotePath(root, now)
	fail := func(stderr string, err error) (string, error) {
		return "", &domain.BackupError{Mode: domain.BackupRemote, Path: dest, Stderr: stderr, Err: err}
	}

	if root == "/" {
		return fail("", fmt.Errorf("refusing to copy the filesystem root"))
	}

	cmd := shellquote.Join("cp", "-r", root, dest)
	say(notify, "Starting remote backup: "+cmd)
	logger.Get().Info("Starting remote backup", "root", root, "dest", dest)

	res, err := s.Exec(ctx, cmd)
	if err != nil {
		return fail("", err)
	}
	if res.ExitCode != 0 {
		return fail(strings.TrimSpace(res.Stderr), fmt.Errorf("cp exited with status %d", res.ExitCode))
	}

	say(notify, "Remote backup completed successfully to "+dest)
	return dest, nil
}

// Local downloads the whole tree under root into
// <dir>/LocalDirName(root, now). Directories are created on demand.
type Local struct {
	fs afero.Fs
}

// NewLocal creates a local backup writer. A nil fs uses the OS filesystem.
func NewLocal(fs afero.Fs) *Local {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Local{fs: fs}
}

// Run performs the download and returns the absolute local directory.
// The first failed listing or download aborts the backup.
func (l *Local) Run(ctx context.Context, s adapter.Session, root, dir string, now time.Time, reporter progress.Reporter, notify func(string)) (string, error) {
	root = domain.CleanRoot(root)
	dest := filepath.Join(dir, LocalDirName(root, now))
	if reporter == nil {
		reporter = progress.NullReporter{}
	}

	store, err := local.New(l.fs, dest)
	if err != nil {
		return "", &domain.BackupError{Mode: domain.BackupLocal, Path: dest, Err: err}
	}
	dest = store.Root()
	fail := func(remote string, err error) (string, error) {
		return "", &domain.BackupError{Mode: domain.BackupLocal, Path: dest, Err: fmt.Errorf("%s: %w", remote, err)}
	}

	say(notify, "Starting local backup to "+dest)
	log := logger.With("root", root, "dest", dest)
	log.Info("Starting local backup")

	files := 0
	var total int64
	queue := []string{root}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return fail(queue[0], err)
		}
		current := queue[0]
		queue = queue[1:]

		entries, err := s.ReadDir(ctx, current)
		if err != nil {
			return fail(current, err)
		}

		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return fail(e.Path, err)
			}
			full := path.Join(current, e.Name)
			rel, err := domain.RelPath(root, full)
			if err != nil {
				return fail(full, err)
			}

			switch e.Type {
			case domain.FileTypeDirectory:
				if err := store.Mkdir(ctx, rel); err != nil {
					return fail(full, err)
				}
				queue = append(queue, full)

			case domain.FileTypeRegular:
				say(notify, "Downloading: "+rel)
				reporter.Start(rel, e.Size)
				n, err := download(ctx, s, store, full, rel, reporter)
				if err != nil {
					reporter.Error(err)
					return fail(full, err)
				}
				reporter.Complete()
				files++
				total += n
			}
		}
	}

	log.Info("Local backup complete", "files", files, "bytes", total)
	say(notify, "Local backup completed successfully to "+dest)
	return dest, nil
}

func download(ctx context.Context, s adapter.Session, store *local.Store, full, rel string, reporter progress.Reporter) (int64, error) {
	rc, err := s.Open(ctx, full)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	return store.Write(ctx, rel, progress.NewProgressReader(rc, reporter))
}

func say(notify func(string), msg string) {
	if notify != nil {
		notify(msg)
	}
}
