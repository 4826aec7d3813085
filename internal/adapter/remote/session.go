package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/Ning0612/Sftpmirror/internal/adapter"
	"github.com/Ning0612/Sftpmirror/internal/domain"
	"github.com/Ning0612/Sftpmirror/internal/logger"
)

var errExecUnsupported = errors.New("remote command execution not available on this session")

// Session implements adapter.Session over pkg/sftp.
// The ssh client may be nil when the sftp client runs over a plain pipe.
type Session struct {
	label string
	ssh   *ssh.Client
	sftp  *sftp.Client

	closeOnce sync.Once
	closeErr  error
}

func newSession(label string, sshClient *ssh.Client, sftpClient *sftp.Client) *Session {
	return &Session{label: label, ssh: sshClient, sftp: sftpClient}
}

// ReadDir lists a directory, skipping "." and ".."
func (s *Session) ReadDir(ctx context.Context, dir string) ([]domain.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := s.sftp.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", dir, adapter.MapError(err))
	}

	result := make([]domain.FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.Name() == "." || e.Name() == ".." {
			continue
		}
		result = append(result, toFileInfo(path.Join(dir, e.Name()), e))
	}
	return result, nil
}

// Open streams a remote file
func (s *Session) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := s.sftp.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, adapter.MapError(err))
	}
	return f, nil
}

// Create streams r into p, creating or truncating it
func (s *Session) Create(ctx context.Context, p string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f, err := s.sftp.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", p, adapter.MapError(err))
	}

	n, copyErr := f.ReadFrom(r)
	closeErr := f.Close()
	if copyErr != nil {
		return n, fmt.Errorf("write %s: %w", p, adapter.MapError(copyErr))
	}
	if closeErr != nil {
		return n, fmt.Errorf("close %s: %w", p, adapter.MapError(closeErr))
	}
	return n, nil
}

// Stat returns metadata for p
func (s *Session) Stat(ctx context.Context, p string) (domain.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return domain.FileInfo{}, err
	}
	fi, err := s.sftp.Stat(p)
	if err != nil {
		return domain.FileInfo{}, fmt.Errorf("stat %s: %w", p, adapter.MapError(err))
	}
	return toFileInfo(p, fi), nil
}

// Chmod sets permission bits, including setuid, setgid and sticky
func (s *Session) Chmod(ctx context.Context, p string, mode fs.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.sftp.Chmod(p, mode&domain.ChmodMask); err != nil {
		return fmt.Errorf("chmod %s: %w", p, adapter.MapError(err))
	}
	return nil
}

// Chown sets numeric owner and group
func (s *Session) Chown(ctx context.Context, p string, uid, gid int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.sftp.Chown(p, uid, gid); err != nil {
		return fmt.Errorf("chown %s: %w", p, adapter.MapError(err))
	}
	return nil
}

// Remove deletes a file
func (s *Session) Remove(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.sftp.Remove(p); err != nil {
		return fmt.Errorf("remove %s: %w", p, adapter.MapError(err))
	}
	return nil
}

// Mkdir creates a single directory
func (s *Session) Mkdir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.sftp.Mkdir(p); err != nil {
		return fmt.Errorf("mkdir %s: %w", p, adapter.MapError(err))
	}
	return nil
}

// Rmdir removes an empty directory
func (s *Session) Rmdir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.sftp.RemoveDirectory(p); err != nil {
		return fmt.Errorf("rmdir %s: %w", p, adapter.MapError(err))
	}
	return nil
}

// Exec runs cmd in a new SSH channel. Cancelling ctx closes the channel.
func (s *Session) Exec(ctx context.Context, cmd string) (adapter.ExecResult, error) {
	if s.ssh == nil {
		return adapter.ExecResult{}, errExecUnsupported
	}
	if err := ctx.Err(); err != nil {
		return adapter.ExecResult{}, err
	}

	sess, err := s.ssh.NewSession()
	if err != nil {
		return adapter.ExecResult{}, fmt.Errorf("failed to create session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = sess.Close()
		case <-done:
		}
	}()

	result := adapter.ExecResult{}
	runErr := sess.Run(cmd)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	var exitErr *ssh.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		result.ExitCode = exitErr.ExitStatus()
	case ctx.Err() != nil:
		return result, ctx.Err()
	default:
		return result, fmt.Errorf("run %q: %w", cmd, runErr)
	}
	return result, nil
}

// Close closes the sftp subsystem and the ssh connection
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		err := s.sftp.Close()
		if s.ssh != nil {
			if sshErr := s.ssh.Close(); err == nil {
				err = sshErr
			}
		}
		s.closeErr = err
		logger.Get().Debug("Connection closed", "endpoint", s.label)
	})
	return s.closeErr
}

func toFileInfo(p string, fi fs.FileInfo) domain.FileInfo {
	info := domain.FileInfo{
		Name:    fi.Name(),
		Path:    p,
		Type:    domain.FileTypeOf(fi.Mode()),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		Mode:    fi.Mode(),
	}
	if info.IsDir() {
		info.Size = 0
	}
	if st, ok := fi.Sys().(*sftp.FileStat); ok {
		info.UID = st.UID
		info.GID = st.GID
	}
	return info
}
