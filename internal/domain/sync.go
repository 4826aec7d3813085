package domain

import (
	"fmt"
	"strings"
)

// Reconciliation partitions two snapshots.
// The four file partitions are pairwise disjoint and cover keys(Source) ∪ keys(Target).
// All partitions are sorted. The value is stale once a sync has run.
type Reconciliation struct {
	Source *TreeSnapshot
	Target *TreeSnapshot

	OnlySource []string
	OnlyTarget []string
	Changed    []string
	Identical  []string

	OnlySourceDirs []string
	OnlyTargetDirs []string
	CommonDirs     []string
}

// InSync reports whether no file or directory differs.
func (r *Reconciliation) InSync() bool {
	return len(r.OnlySource) == 0 && len(r.OnlyTarget) == 0 && len(r.Changed) == 0 &&
		len(r.OnlySourceDirs) == 0 && len(r.OnlyTargetDirs) == 0
}

// Summary is a one-line description used in logs and progress messages.
func (r *Reconciliation) Summary() string {
	return fmt.Sprintf("%d added, %d removed, %d changed, %d identical; dirs: %d added, %d removed",
		len(r.OnlySource), len(r.OnlyTarget), len(r.Changed), len(r.Identical),
		len(r.OnlySourceDirs), len(r.OnlyTargetDirs))
}

// Presence tells which side of a reconciliation holds a path.
type Presence int

const (
	PresenceNone Presence = iota
	PresenceSourceOnly
	PresenceTargetOnly
	PresenceBoth
)

func (p Presence) String() string {
	switch p {
	case PresenceSourceOnly:
		return "source-only"
	case PresenceTargetOnly:
		return "target-only"
	case PresenceBoth:
		return "both"
	}
	return "none"
}

// OnSource reports whether the source side holds the path
func (p Presence) OnSource() bool { return p == PresenceSourceOnly || p == PresenceBoth }

// OnTarget reports whether the target side holds the path
func (p Presence) OnTarget() bool { return p == PresenceTargetOnly || p == PresenceBoth }

// PresenceOf looks up a file path in both snapshots.
func (r *Reconciliation) PresenceOf(rel string) Presence {
	var inS, inT bool
	if r.Source != nil {
		_, inS = r.Source.Files[rel]
	}
	if r.Target != nil {
		_, inT = r.Target.Files[rel]
	}
	switch {
	case inS && inT:
		return PresenceBoth
	case inS:
		return PresenceSourceOnly
	case inT:
		return PresenceTargetOnly
	}
	return PresenceNone
}

// ActionType represents the type of sync action
type ActionType string

const (
	ActionDelete ActionType = "delete"
	ActionRmdir  ActionType = "rmdir"
	ActionMkdir  ActionType = "mkdir"
	ActionCopy   ActionType = "copy"
	ActionChown  ActionType = "chown"
	ActionChmod  ActionType = "chmod"
)

// SyncPhase groups actions. Phases run in declaration order.
type SyncPhase int

const (
	PhaseDelete SyncPhase = iota
	PhaseCreateDirs
	PhaseCopy
)

func (p SyncPhase) String() string {
	switch p {
	case PhaseDelete:
		return "delete"
	case PhaseCreateDirs:
		return "create-dirs"
	case PhaseCopy:
		return "copy"
	}
	return "unknown"
}

// SyncAction represents a single operation in a sync plan
type SyncAction struct {
	// Type of action to perform
	Type ActionType

	Phase SyncPhase

	// Path is the relative path being operated on
	Path string

	// Source file metadata, set for copies
	Source *FileRecord

	// Reason explains why this action was chosen
	Reason string
}

// SyncPlan is the ordered list of actions for one sync
type SyncPlan struct {
	Actions []SyncAction

	Stats SyncPlanStats
}

// SyncPlanStats provides summary statistics for a sync plan
type SyncPlanStats struct {
	FilesToCopy   int
	FilesToDelete int
	DirsToCreate  int
	DirsToDelete  int
	BytesToSync   int64
}

// SyncOutcome summarises an executed plan.
type SyncOutcome struct {
	Deleted     int
	RemovedDirs int
	CreatedDirs int
	Copied      int

	// Warnings holds one *SyncWarning per failed item
	Warnings []error
}

// Partial reports whether any item failed.
func (o SyncOutcome) Partial() bool { return len(o.Warnings) > 0 }

func (o SyncOutcome) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d copied, %d deleted, %d dirs created, %d dirs removed",
		o.Copied, o.Deleted, o.CreatedDirs, o.RemovedDirs)
	if n := len(o.Warnings); n > 0 {
		fmt.Fprintf(&b, ", %d warnings", n)
	}
	return b.String()
}

// BackupMode selects the pre-sync safety copy
type BackupMode string

const (
	BackupNone   BackupMode = "none"
	BackupRemote BackupMode = "remote"
	BackupLocal  BackupMode = "local"
)

// IsValid checks if the backup mode is a known value
func (m BackupMode) IsValid() bool {
	switch m {
	case BackupNone, BackupRemote, BackupLocal:
		return true
	}
	return false
}

// BackupTimestampLayout formats backup directory suffixes as YYYYMMDD-HHMMSS
const BackupTimestampLayout = "20060102-150405"
