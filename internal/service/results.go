package service

import (
	"fmt"
	"strings"

	"github.com/Ning0612/Sftpmirror/internal/domain"
)

// BackupComplete is the result of a standalone backup task
type BackupComplete struct {
	Mode domain.BackupMode
	Path string
}

// SyncComplete is the result of a full sync. Outcome.Warnings lists the
// items that failed; the sync itself still completed.
type SyncComplete struct {
	Outcome    domain.SyncOutcome
	Stats      domain.SyncPlanStats
	BackupPath string
}

// SingleSyncComplete is the result of SyncFile
type SingleSyncComplete struct {
	Path string
	Dir  DirOutcome
}

// ItemError is a per-path failure inside a batch
type ItemError struct {
	Path string
	Err  error
}

func (e ItemError) Error() string { return e.Path + ": " + e.Err.Error() }

// BatchSyncComplete is the result of SyncFiles
type BatchSyncComplete struct {
	Synced []string
	Failed []ItemError
}

// NameList is the result of ListUsers and ListGroups
type NameList struct {
	Endpoint string
	Kind     string
	Names    []string
}

// FileContent is one downloaded file decoded as text
type FileContent struct {
	Endpoint string
	Path     string
	Content  string

	// Encoding is "utf-8" or "iso-8859-1"
	Encoding string

	// Missing is set when the file does not exist on the endpoint
	Missing bool

	Owner string
	Group string
	Mode  string
}

// Header is a one-line description used above a rendered file
func (f FileContent) Header() string {
	if f.Missing {
		return fmt.Sprintf("%s: %s (missing)", f.Endpoint, f.Path)
	}
	return fmt.Sprintf("%s: %s  %s %s:%s", f.Endpoint, f.Path, f.Mode, f.Owner, f.Group)
}

// FilePair is the result of FetchPair
type FilePair struct {
	Source FileContent
	Target FileContent
}

// UploadComplete is the result of UploadFile
type UploadComplete struct {
	Endpoint string
	Path     string
	Bytes    int64
}

// AttributeComplete is the result of SetAttributes
type AttributeComplete struct {
	Endpoint string
	Path     string
}

// AttributeBatchResult lists the changes that were applied and those that
// failed. Each failure is a *domain.AttributeError.
type AttributeBatchResult struct {
	Applied []AttributeComplete
	Errors  []error
}

func (r AttributeBatchResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d applied", len(r.Applied))
	if n := len(r.Errors); n > 0 {
		fmt.Fprintf(&b, ", %d failed", n)
	}
	return b.String()
}
