// Package scheduler computes the ready set of dispatch units, partitions
// it into conflict-free batches under a concurrency ceiling, and drives
// units through the executor gateway.
package scheduler

import (
	"sort"
	"strings"

	"github.com/maestro-run/maestro/internal/state"
)

// DispatchUnit is the atomic thing handed to one executor invocation: a
// top-level task bundled with all of its descendants in listed order.
// Every task belongs to exactly one unit and units never overlap.
type DispatchUnit struct {
	// RootID is the top-level task; the unit's status is its status.
	RootID string
	// TaskIDs lists the root followed by descendants in document order.
	TaskIDs []string
	// Writes and Reads are the unions of the member manifests.
	Writes []string
	Reads  []string
	// OwnerKind routes the unit to a backend, taken from the root task.
	OwnerKind string
}

// EmptyManifest reports whether the unit declares nothing at all, which
// makes it conflict with every other unit.
func (u *DispatchUnit) EmptyManifest() bool {
	return len(u.Writes) == 0 && len(u.Reads) == 0
}

// ChildIDs returns the member ids excluding the root.
func (u *DispatchUnit) ChildIDs() []string {
	return u.TaskIDs[1:]
}

// Units derives the dispatch units from a document in discovery order:
// plan document order with ties broken by ascending task id.
func Units(doc *state.Document) []*DispatchUnit {
	var units []*DispatchUnit
	for _, id := range doc.OrderedTaskIDs() {
		t := doc.Tasks[id]
		if t.ParentID != "" {
			continue
		}
		units = append(units, buildUnit(doc, id))
	}
	return units
}

// UnitFor returns the dispatch unit containing the given task.
func UnitFor(doc *state.Document, taskID string) *DispatchUnit {
	t, ok := doc.Tasks[taskID]
	if !ok {
		return nil
	}
	root := taskID
	if t.ParentID != "" {
		root = t.ParentID
	}
	return buildUnit(doc, root)
}

func buildUnit(doc *state.Document, rootID string) *DispatchUnit {
	u := &DispatchUnit{
		RootID:    rootID,
		OwnerKind: doc.Tasks[rootID].OwnerKind,
	}
	ids := append([]string{rootID}, descendants(doc, rootID)...)
	u.TaskIDs = ids

	seenW := map[string]bool{}
	seenR := map[string]bool{}
	for _, id := range ids {
		t := doc.Tasks[id]
		for _, w := range t.Writes {
			if !seenW[w] {
				seenW[w] = true
				u.Writes = append(u.Writes, w)
			}
		}
		for _, r := range t.Reads {
			if !seenR[r] {
				seenR[r] = true
				u.Reads = append(u.Reads, r)
			}
		}
	}
	sort.Strings(u.Writes)
	sort.Strings(u.Reads)
	return u
}

// descendants returns all tasks below rootID in document order.
func descendants(doc *state.Document, rootID string) []string {
	var out []string
	ordered := doc.OrderedTaskIDs()
	direct := map[string]bool{}
	for _, id := range ordered {
		if doc.Tasks[id].ParentID == rootID {
			direct[id] = true
		}
	}
	for _, id := range ordered {
		if direct[id] {
			out = append(out, id)
			out = append(out, descendants(doc, id)...)
		}
	}
	return out
}

// ExpandDependencies resolves a dependency list to leaf task ids: a
// dependency on a parent task means all of its leaf descendants must be
// completed, recursively.
func ExpandDependencies(doc *state.Document, deps []string) []string {
	seen := map[string]bool{}
	var out []string

	var expand func(id string)
	expand = func(id string) {
		children := doc.Children(id)
		if len(children) == 0 {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
			return
		}
		for _, c := range children {
			expand(c)
		}
	}

	for _, dep := range deps {
		if _, ok := doc.Tasks[dep]; ok {
			expand(dep)
		}
	}
	sort.Strings(out)
	return out
}

// externalDependencies collects the expanded dependencies of every task
// in the unit, excluding members of the unit itself.
func externalDependencies(doc *state.Document, u *DispatchUnit) []string {
	member := map[string]bool{}
	for _, id := range u.TaskIDs {
		member[id] = true
	}

	var deps []string
	for _, id := range u.TaskIDs {
		deps = append(deps, doc.Tasks[id].Dependencies...)
	}

	var out []string
	for _, dep := range ExpandDependencies(doc, deps) {
		if !member[dep] {
			out = append(out, dep)
		}
	}
	return out
}

// DependenciesSatisfied reports whether every external dependency of the
// unit has reached completed. Only completed counts; any other status
// leaves the unit out of the ready set.
func DependenciesSatisfied(doc *state.Document, u *DispatchUnit) bool {
	for _, dep := range externalDependencies(doc, u) {
		if doc.Tasks[dep].Status != state.StatusCompleted {
			return false
		}
	}
	return true
}

// ReadyUnits returns units eligible for first dispatch this cycle: root
// status not_started (including freshly un-blocked) with every external
// dependency completed, in discovery order.
func ReadyUnits(doc *state.Document) []*DispatchUnit {
	var ready []*DispatchUnit
	for _, u := range Units(doc) {
		if doc.Tasks[u.RootID].Status != state.StatusNotStarted {
			continue
		}
		if DependenciesSatisfied(doc, u) {
			ready = append(ready, u)
		}
	}
	return ready
}

// executionDone reports whether the task's own execution finished; such
// children are skipped when a unit resumes.
func executionDone(s state.Status) bool {
	switch s {
	case state.StatusPendingReview, state.StatusUnderReview,
		state.StatusFinalReview, state.StatusCompleted:
		return true
	}
	return false
}

// BuildContent assembles the unit content for the backend: the root
// description followed by the descriptions of children whose execution
// has not finished yet. A resumed unit re-enters at the first
// non-completed child.
func BuildContent(doc *state.Document, u *DispatchUnit) (content string, pending []string) {
	var b strings.Builder
	root := doc.Tasks[u.RootID]
	b.WriteString(root.ID)
	b.WriteString(": ")
	b.WriteString(root.Description)

	for _, id := range u.ChildIDs() {
		t := doc.Tasks[id]
		if executionDone(t.Status) {
			continue
		}
		pending = append(pending, id)
		b.WriteString("\n")
		b.WriteString(t.ID)
		b.WriteString(": ")
		b.WriteString(t.Description)
	}
	return b.String(), pending
}
