package domain

import (
	"errors"
	"fmt"
)

// Session errors - remote filesystem level
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrPermissionDenied indicates insufficient permissions
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotDirectory indicates expected a directory but got a file
	ErrNotDirectory = errors.New("not a directory")

	// ErrNotFile indicates expected a file but got a directory
	ErrNotFile = errors.New("not a file")

	// ErrTimeout indicates operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrSessionClosed is returned by operations on a closed session
	ErrSessionClosed = errors.New("session closed")
)

// Sync errors
var (
	// ErrSyncInProgress indicates another sync is already running against the target
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrPathEscapesRoot indicates a remote path outside the endpoint root
	ErrPathEscapesRoot = errors.New("path escapes endpoint root")

	// ErrBackupFailed indicates the pre-sync backup did not complete
	ErrBackupFailed = errors.New("backup failed")
)

// Attribute errors
var (
	ErrUnknownOwner       = errors.New("unknown owner")
	ErrUnknownGroup       = errors.New("unknown group")
	ErrInvalidPermissions = errors.New("invalid permissions")
)

// Config errors
var (
	// ErrConfigNotFound indicates config file not found
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigInvalid indicates config file is malformed
	ErrConfigInvalid = errors.New("invalid config")
)

// ConnectionError is fatal for the task that raised it.
type ConnectionError struct {
	Endpoint string
	Host     string
	Port     int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s (%s:%d): %v", e.Endpoint, e.Host, e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TraversalWarning reports an entry the scanner had to skip.
type TraversalWarning struct {
	Endpoint string
	Path     string
	Err      error
}

func (w *TraversalWarning) Error() string {
	return fmt.Sprintf("%s: skipped %s: %v", w.Endpoint, w.Path, w.Err)
}

func (w *TraversalWarning) Unwrap() error { return w.Err }

// SyncWarning reports one failed item in a sync phase. The sync continues.
type SyncWarning struct {
	Op   ActionType
	Path string
	Err  error
}

func (w *SyncWarning) Error() string {
	return fmt.Sprintf("%s %s: %v", w.Op, w.Path, w.Err)
}

func (w *SyncWarning) Unwrap() error { return w.Err }

// AttributeError is returned when an owner/group/permission change is rejected.
type AttributeError struct {
	Endpoint string
	Path     string
	Err      error
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf("set attributes on %s:%s: %v", e.Endpoint, e.Path, e.Err)
}

func (e *AttributeError) Unwrap() error { return e.Err }

// BackupError aborts the sync that requested the backup.
type BackupError struct {
	Mode   BackupMode
	Path   string
	Stderr string
	Err    error
}

func (e *BackupError) Error() string {
	msg := fmt.Sprintf("%s backup to %s: %v", e.Mode, e.Path, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *BackupError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrBackupFailed) match any BackupError.
func (e *BackupError) Is(target error) bool { return target == ErrBackupFailed }
