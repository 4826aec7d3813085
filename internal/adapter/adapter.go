package adapter

import (
	"context"
	"io"
	"io/fs"

	"github.com/Ning0612/Sftpmirror/internal/domain"
)

// Session is one authenticated connection to a remote endpoint.
// Paths are absolute remote paths with forward slashes.
// Implementations return domain-level errors for consistent error handling.
// A Session is owned by a single task and is not safe for concurrent use
// unless the implementation says otherwise.
type Session interface {
	// ReadDir lists the entries of a directory, excluding "." and ".."
	// Returns domain.ErrNotFound if path doesn't exist
	ReadDir(ctx context.Context, path string) ([]domain.FileInfo, error)

	// Open streams a file's content
	// Caller is responsible for closing the reader
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Create writes r to path, creating or truncating the file.
	// The parent directory must exist.
	Create(ctx context.Context, path string, r io.Reader) (int64, error)

	// Stat returns metadata for a single path
	// Returns domain.ErrNotFound if path doesn't exist
	Stat(ctx context.Context, path string) (domain.FileInfo, error)

	// Chmod sets the permission bits
	Chmod(ctx context.Context, path string, mode fs.FileMode) error

	// Chown sets numeric owner and group
	Chown(ctx context.Context, path string, uid, gid int) error

	// Remove deletes a file
	Remove(ctx context.Context, path string) error

	// Mkdir creates a single directory; the parent must exist
	Mkdir(ctx context.Context, path string) error

	// Rmdir removes an empty directory
	Rmdir(ctx context.Context, path string) error

	// Exec runs a shell command on the remote host.
	// A non-zero exit status is reported in ExecResult, not as an error.
	Exec(ctx context.Context, cmd string) (ExecResult, error)

	// Close releases the connection
	Close() error
}

// ExecResult is the outcome of a remote command
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Dialer opens sessions.
// Failures are returned as *domain.ConnectionError.
type Dialer interface {
	Dial(ctx context.Context, ep domain.Endpoint) (Session, error)
}

// DialerFunc adapts a function to Dialer
type DialerFunc func(ctx context.Context, ep domain.Endpoint) (Session, error)

// Dial calls f(ctx, ep)
func (f DialerFunc) Dial(ctx context.Context, ep domain.Endpoint) (Session, error) {
	return f(ctx, ep)
}

// Exists checks if a path exists on the session
func Exists(ctx context.Context, s Session, path string) (bool, error) {
	_, err := s.Stat(ctx, path)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}
