package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/Ning0612/Sftpmirror/internal/adapter"
	"github.com/Ning0612/Sftpmirror/internal/domain"
)

const tempSuffix = ".sftpmirror.tmp"

// Store is a local directory tree used for backups and downloads.
// All paths given to its methods are relative to the store root.
type Store struct {
	fs   afero.Fs
	root string
}

// New creates the root directory when missing and returns a store over it.
func New(fs afero.Fs, root string) (*Store, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	info, err := fs.Stat(absRoot)
	switch {
	case err == nil && !info.IsDir():
		return nil, domain.ErrNotDirectory
	case err != nil && !os.IsNotExist(err):
		return nil, adapter.MapError(err)
	case err != nil:
		if err := fs.MkdirAll(absRoot, 0o755); err != nil {
			return nil, adapter.MapError(err)
		}
	}

	return &Store{fs: fs, root: absRoot}, nil
}

// resolvePath safely resolves a relative path to absolute path within root
// Returns error if path attempts to escape root directory
func (s *Store) resolvePath(relPath string) (string, error) {
	if relPath == "" || relPath == "." {
		return s.root, nil
	}

	relPath = filepath.Clean(filepath.FromSlash(relPath))
	if filepath.IsAbs(relPath) {
		return "", domain.ErrPermissionDenied
	}

	fullPath := filepath.Join(s.root, relPath)

	// filepath.Rel catches root="/b" vs fullPath="/b2"
	rel, err := filepath.Rel(s.root, fullPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", domain.ErrPermissionDenied
	}
	return fullPath, nil
}

// Write creates or overwrites a file through a temp file and rename.
// Parent directories are created as needed.
func (s *Store) Write(ctx context.Context, path string, r io.Reader) (int64, error) {
	fullPath, err := s.resolvePath(path)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := s.fs.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return 0, adapter.MapError(err)
	}

	tempPath := fullPath + tempSuffix
	file, err := s.fs.Create(tempPath)
	if err != nil {
		return 0, adapter.MapError(err)
	}

	n, copyErr := io.Copy(file, r)
	closeErr := file.Close()
	if copyErr != nil {
		_ = s.fs.Remove(tempPath)
		return n, copyErr
	}
	if closeErr != nil {
		_ = s.fs.Remove(tempPath)
		return n, closeErr
	}

	if err := s.fs.Rename(tempPath, fullPath); err != nil {
		_ = s.fs.Remove(tempPath)
		return n, adapter.MapError(err)
	}
	return n, nil
}

// Read opens a file for reading
func (s *Store) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	fullPath, err := s.resolvePath(path)
	if err != nil {
		return nil, err
	}

	info, err := s.fs.Stat(fullPath)
	if err != nil {
		return nil, adapter.MapError(err)
	}
	if info.IsDir() {
		return nil, domain.ErrNotFile
	}

	f, err := s.fs.Open(fullPath)
	if err != nil {
		return nil, adapter.MapError(err)
	}
	return f, nil
}

// Mkdir creates a directory and any necessary parents
func (s *Store) Mkdir(ctx context.Context, path string) error {
	fullPath, err := s.resolvePath(path)
	if err != nil {
		return err
	}
	return adapter.MapError(s.fs.MkdirAll(fullPath, 0o755))
}

// Exists checks if a path exists
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	fullPath, err := s.resolvePath(path)
	if err != nil {
		return false, err
	}
	return afero.Exists(s.fs, fullPath)
}

// Root returns the absolute root of the store
func (s *Store) Root() string {
	return s.root
}
