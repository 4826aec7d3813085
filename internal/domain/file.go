package domain

import (
	"io/fs"
	"sort"
	"time"
)

// FileType represents the type of a filesystem entry
type FileType int

const (
	FileTypeRegular FileType = iota
	FileTypeDirectory
	FileTypeSymlink
	FileTypeOther
)

// FileTypeOf classifies a mode the way the scanner needs it.
func FileTypeOf(mode fs.FileMode) FileType {
	switch {
	case mode.IsRegular():
		return FileTypeRegular
	case mode.IsDir():
		return FileTypeDirectory
	case mode&fs.ModeSymlink != 0:
		return FileTypeSymlink
	}
	return FileTypeOther
}

// FileInfo is one remote directory entry as reported by a session
type FileInfo struct {
	// Name is the base name of the entry
	Name string

	// Path is the absolute remote path
	Path string

	// Type indicates if this is a file, directory, or symlink
	Type FileType

	// Size in bytes (0 for directories)
	Size int64

	// ModTime is the last modification time
	ModTime time.Time

	// Mode carries the permission bits and type bits
	Mode fs.FileMode

	// UID and GID are the numeric owner and group
	UID uint32
	GID uint32
}

// IsDir returns true if this is a directory
func (f FileInfo) IsDir() bool {
	return f.Type == FileTypeDirectory
}

// IsFile returns true if this is a regular file
func (f FileInfo) IsFile() bool {
	return f.Type == FileTypeRegular
}

// FileRecord describes one regular file in a scanned tree.
type FileRecord struct {
	// Path is relative to the endpoint root, POSIX separators, no leading slash
	Path string

	// Fingerprint is the hex digest of the full content
	Fingerprint string

	// Owner and Group are resolved names, or the decimal id when unresolved
	Owner string
	Group string

	// Mode is the symbolic form, e.g. "-rwxr-xr-x"
	Mode string

	// OctalMode is the permission bits in octal without prefix, e.g. "755"
	OctalMode string

	Size int64
}

// TreeSnapshot is the immutable result of scanning one endpoint.
type TreeSnapshot struct {
	// Endpoint is the label of the scanned endpoint
	Endpoint string

	// Root is the normalized absolute root that was scanned
	Root string

	Files map[string]FileRecord

	// Dirs holds every sub-directory below the root. The root itself is never present.
	Dirs map[string]struct{}

	// Warnings collected while scanning
	Warnings []error
}

// NewTreeSnapshot returns an empty snapshot for the given root.
func NewTreeSnapshot(endpoint, root string) *TreeSnapshot {
	return &TreeSnapshot{
		Endpoint: endpoint,
		Root:     root,
		Files:    make(map[string]FileRecord),
		Dirs:     make(map[string]struct{}),
	}
}

// FilePaths returns the sorted file keys.
func (s *TreeSnapshot) FilePaths() []string {
	out := make([]string, 0, len(s.Files))
	for p := range s.Files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// DirPaths returns the sorted directory keys.
func (s *TreeSnapshot) DirPaths() []string {
	out := make([]string, 0, len(s.Dirs))
	for p := range s.Dirs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// HasDir reports whether rel is a known sub-directory.
func (s *TreeSnapshot) HasDir(rel string) bool {
	_, ok := s.Dirs[rel]
	return ok
}
