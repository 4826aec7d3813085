package diff

import (
	"sort"

	"github.com/Ning0612/Sftpmirror/internal/domain"
)

// DiffResult represents the comparison result between two files
type DiffResult int

const (
	// FilesIdentical indicates files are the same
	FilesIdentical DiffResult = iota
	// FileModified indicates file exists in both but differs
	FileModified
	// FileOnlyInSource indicates file only exists in source
	FileOnlyInSource
	// FileOnlyInTarget indicates file only exists in target
	FileOnlyInTarget
)

func (r DiffResult) String() string {
	switch r {
	case FilesIdentical:
		return "identical"
	case FileModified:
		return "changed"
	case FileOnlyInSource:
		return "only-source"
	case FileOnlyInTarget:
		return "only-target"
	}
	return "unknown"
}

// Comparer compares two file records
type Comparer interface {
	Compare(src, tgt *domain.FileRecord) DiffResult
}

// FingerprintComparer treats content as identical iff fingerprints are equal.
// Owner, group, mode and size are ignored.
type FingerprintComparer struct{}

// NewFingerprintComparer creates a new FingerprintComparer
func NewFingerprintComparer() *FingerprintComparer {
	return &FingerprintComparer{}
}

// Compare implements the Comparer interface
func (c *FingerprintComparer) Compare(src, tgt *domain.FileRecord) DiffResult {
	switch {
	case src == nil && tgt == nil:
		return FilesIdentical
	case tgt == nil:
		return FileOnlyInSource
	case src == nil:
		return FileOnlyInTarget
	case src.Fingerprint == tgt.Fingerprint:
		return FilesIdentical
	}
	return FileModified
}

// Reconcile partitions two snapshots. Pure and deterministic: every
// partition is sorted.
func Reconcile(src, tgt *domain.TreeSnapshot) *domain.Reconciliation {
	return ReconcileWith(NewFingerprintComparer(), src, tgt)
}

// ReconcileWith partitions two snapshots using cmp for files present on both sides
func ReconcileWith(cmp Comparer, src, tgt *domain.TreeSnapshot) *domain.Reconciliation {
	if src == nil {
		src = domain.NewTreeSnapshot("", "")
	}
	if tgt == nil {
		tgt = domain.NewTreeSnapshot("", "")
	}

	r := &domain.Reconciliation{
		Source:         src,
		Target:         tgt,
		OnlySource:     []string{},
		OnlyTarget:     []string{},
		Changed:        []string{},
		Identical:      []string{},
		OnlySourceDirs: []string{},
		OnlyTargetDirs: []string{},
		CommonDirs:     []string{},
	}

	for p, s := range src.Files {
		s := s
		t, ok := tgt.Files[p]
		var res DiffResult
		if ok {
			res = cmp.Compare(&s, &t)
		} else {
			res = cmp.Compare(&s, nil)
		}
		switch res {
		case FileOnlyInSource:
			r.OnlySource = append(r.OnlySource, p)
		case FilesIdentical:
			r.Identical = append(r.Identical, p)
		default:
			r.Changed = append(r.Changed, p)
		}
	}
	for p := range tgt.Files {
		if _, ok := src.Files[p]; !ok {
			r.OnlyTarget = append(r.OnlyTarget, p)
		}
	}

	for d := range src.Dirs {
		if _, ok := tgt.Dirs[d]; ok {
			r.CommonDirs = append(r.CommonDirs, d)
		} else {
			r.OnlySourceDirs = append(r.OnlySourceDirs, d)
		}
	}
	for d := range tgt.Dirs {
		if _, ok := src.Dirs[d]; !ok {
			r.OnlyTargetDirs = append(r.OnlyTargetDirs, d)
		}
	}

	for _, part := range [][]string{
		r.OnlySource, r.OnlyTarget, r.Changed, r.Identical,
		r.OnlySourceDirs, r.OnlyTargetDirs, r.CommonDirs,
	} {
		sort.Strings(part)
	}
	return r
}
