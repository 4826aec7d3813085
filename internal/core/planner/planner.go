package planner

import (
	"sort"

	"github.com/Ning0612/Sftpmirror/internal/domain"
)

// Options controls which actions are planned
type Options struct {
	// DeleteOnTarget removes target-only files and directories
	DeleteOnTarget bool
}

// Planner turns a reconciliation into an ordered sync plan
type Planner interface {
	Plan(rec *domain.Reconciliation, opts Options) *domain.SyncPlan
}

// DefaultPlanner mirrors source onto target
type DefaultPlanner struct{}

// NewDefaultPlanner creates a new planner
func NewDefaultPlanner() *DefaultPlanner {
	return &DefaultPlanner{}
}

// Plan emits, in order:
//  1. delete target-only files, then rmdir target-only dirs longest path first (DeleteOnTarget only)
//  2. mkdir source-only dirs shortest path first
//  3. copy every source-only and changed file exactly once
func (p *DefaultPlanner) Plan(rec *domain.Reconciliation, opts Options) *domain.SyncPlan {
	plan := &domain.SyncPlan{Actions: make([]domain.SyncAction, 0)}

	if opts.DeleteOnTarget {
		for _, path := range rec.OnlyTarget {
			plan.Actions = append(plan.Actions, domain.SyncAction{
				Type:   domain.ActionDelete,
				Phase:  domain.PhaseDelete,
				Path:   path,
				Reason: "file does not exist on source",
			})
		}
		for _, path := range rec.OnlyTargetDirs {
			plan.Actions = append(plan.Actions, domain.SyncAction{
				Type:   domain.ActionRmdir,
				Phase:  domain.PhaseDelete,
				Path:   path,
				Reason: "directory does not exist on source",
			})
		}
	}

	for _, path := range rec.OnlySourceDirs {
		plan.Actions = append(plan.Actions, domain.SyncAction{
			Type:   domain.ActionMkdir,
			Phase:  domain.PhaseCreateDirs,
			Path:   path,
			Reason: "directory does not exist on target",
		})
	}

	copies := make(map[string]string, len(rec.OnlySource)+len(rec.Changed))
	for _, path := range rec.OnlySource {
		copies[path] = "file does not exist on target"
	}
	for _, path := range rec.Changed {
		copies[path] = "content differs"
	}
	for path, reason := range copies {
		action := domain.SyncAction{
			Type:   domain.ActionCopy,
			Phase:  domain.PhaseCopy,
			Path:   path,
			Reason: reason,
		}
		if rec.Source != nil {
			if f, ok := rec.Source.Files[path]; ok {
				f := f
				action.Source = &f
			}
		}
		plan.Actions = append(plan.Actions, action)
	}

	sortActions(plan.Actions)
	calculateStats(plan)
	return plan
}

// sortActions orders by phase, then:
//   - delete files before removing directories
//   - rmdir by path length descending so children go before parents
//   - mkdir by path length ascending so parents exist first
//   - copy by path
func sortActions(actions []domain.SyncAction) {
	sort.SliceStable(actions, func(i, j int) bool {
		a, b := actions[i], actions[j]
		if a.Phase != b.Phase {
			return a.Phase < b.Phase
		}
		if a.Type != b.Type {
			return actionTypeOrder(a.Type) < actionTypeOrder(b.Type)
		}

		switch a.Type {
		case domain.ActionRmdir:
			if len(a.Path) != len(b.Path) {
				return len(a.Path) > len(b.Path)
			}
		case domain.ActionMkdir:
			if len(a.Path) != len(b.Path) {
				return len(a.Path) < len(b.Path)
			}
		}
		return a.Path < b.Path
	})
}

func actionTypeOrder(t domain.ActionType) int {
	switch t {
	case domain.ActionDelete:
		return 1
	case domain.ActionRmdir:
		return 2
	case domain.ActionMkdir:
		return 3
	case domain.ActionCopy:
		return 4
	}
	return 99
}

func calculateStats(plan *domain.SyncPlan) {
	for _, action := range plan.Actions {
		switch action.Type {
		case domain.ActionCopy:
			plan.Stats.FilesToCopy++
			if action.Source != nil {
				plan.Stats.BytesToSync += action.Source.Size
			}
		case domain.ActionDelete:
			plan.Stats.FilesToDelete++
		case domain.ActionRmdir:
			plan.Stats.DirsToDelete++
		case domain.ActionMkdir:
			plan.Stats.DirsToCreate++
		}
	}
}
