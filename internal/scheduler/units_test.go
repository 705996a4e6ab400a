package scheduler

import (
	"reflect"
	"testing"
	"time"

	"github.com/maestro-run/maestro/internal/state"
)

// buildDoc assembles a document from compact task specs.
type taskSpec struct {
	id      string
	parent  string
	deps    []string
	writes  []string
	reads   []string
	status  state.Status
	attempt int
}

func buildDoc(specs ...taskSpec) *state.Document {
	doc := state.NewDocument("test", "PLAN.md")
	for _, s := range specs {
		status := s.status
		if status == "" {
			status = state.StatusNotStarted
		}
		doc.Tasks[s.id] = &state.Task{
			ID:           s.id,
			ParentID:     s.parent,
			Description:  "task " + s.id,
			Dependencies: s.deps,
			Writes:       s.writes,
			Reads:        s.reads,
			Status:       status,
			Criticality:  state.CriticalityStandard,
			OwnerKind:    "worker",
			FixAttempts:  s.attempt,
			CreatedAt:    time.Now().UTC(),
		}
		doc.TaskOrder = append(doc.TaskOrder, s.id)
	}
	return doc
}

func TestUnitsBundleDescendants(t *testing.T) {
	doc := buildDoc(
		taskSpec{id: "A", writes: []string{"a.go"}},
		taskSpec{id: "A.1", parent: "A", writes: []string{"a1.go"}, reads: []string{"shared.go"}},
		taskSpec{id: "A.2", parent: "A", writes: []string{"a2.go"}},
		taskSpec{id: "B", writes: []string{"b.go"}},
	)

	units := Units(doc)
	if len(units) != 2 {
		t.Fatalf("units = %d, want 2", len(units))
	}

	a := units[0]
	if a.RootID != "A" {
		t.Fatalf("first unit root = %s", a.RootID)
	}
	if !reflect.DeepEqual(a.TaskIDs, []string{"A", "A.1", "A.2"}) {
		t.Errorf("A members = %v", a.TaskIDs)
	}
	if !reflect.DeepEqual(a.Writes, []string{"a.go", "a1.go", "a2.go"}) {
		t.Errorf("A writes = %v", a.Writes)
	}
	if !reflect.DeepEqual(a.Reads, []string{"shared.go"}) {
		t.Errorf("A reads = %v", a.Reads)
	}

	// Every task belongs to exactly one unit.
	seen := map[string]int{}
	for _, u := range units {
		for _, id := range u.TaskIDs {
			seen[id]++
		}
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("task %s appears in %d units", id, n)
		}
	}
	if len(seen) != 4 {
		t.Errorf("covered tasks = %d, want 4", len(seen))
	}
}

func TestExpandDependenciesToLeaves(t *testing.T) {
	doc := buildDoc(
		taskSpec{id: "A"},
		taskSpec{id: "A.1", parent: "A"},
		taskSpec{id: "A.2", parent: "A"},
		taskSpec{id: "B", deps: []string{"A"}},
	)

	got := ExpandDependencies(doc, []string{"A"})
	want := []string{"A.1", "A.2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expanded = %v, want %v", got, want)
	}
}

func TestReadyUnitsDependencyGate(t *testing.T) {
	doc := buildDoc(
		taskSpec{id: "A", writes: []string{"a.go"}},
		taskSpec{id: "B", deps: []string{"A"}, writes: []string{"b.go"}},
	)

	ready := ReadyUnits(doc)
	if len(ready) != 1 || ready[0].RootID != "A" {
		t.Fatalf("ready = %v", unitIDs(ready))
	}

	// Only completed satisfies a dependency.
	for _, s := range []state.Status{state.StatusInProgress, state.StatusPendingReview,
		state.StatusUnderReview, state.StatusFinalReview, state.StatusBlocked} {
		doc.Tasks["A"].Status = s
		for _, u := range ReadyUnits(doc) {
			if u.RootID == "B" {
				t.Errorf("B ready while A is %s", s)
			}
		}
	}

	doc.Tasks["A"].Status = state.StatusCompleted
	ready = ReadyUnits(doc)
	if len(ready) != 1 || ready[0].RootID != "B" {
		t.Errorf("ready after A completed = %v", unitIDs(ready))
	}
}

func TestReadyUnitsParentDependencyNeedsAllLeaves(t *testing.T) {
	doc := buildDoc(
		taskSpec{id: "A", status: state.StatusCompleted},
		taskSpec{id: "A.1", parent: "A", status: state.StatusCompleted},
		taskSpec{id: "A.2", parent: "A", status: state.StatusPendingReview},
		taskSpec{id: "B", deps: []string{"A"}, writes: []string{"b.go"}},
	)

	if len(ReadyUnits(doc)) != 0 {
		t.Error("B must wait for every leaf of A")
	}

	doc.Tasks["A.2"].Status = state.StatusCompleted
	ready := ReadyUnits(doc)
	if len(ready) != 1 || ready[0].RootID != "B" {
		t.Errorf("ready = %v", unitIDs(ready))
	}
}

func TestBuildContentSkipsExecutedChildren(t *testing.T) {
	doc := buildDoc(
		taskSpec{id: "A"},
		taskSpec{id: "A.1", parent: "A", status: state.StatusPendingReview},
		taskSpec{id: "A.2", parent: "A"},
		taskSpec{id: "A.3", parent: "A"},
	)

	content, pending := BuildContent(doc, UnitFor(doc, "A"))
	if !reflect.DeepEqual(pending, []string{"A.2", "A.3"}) {
		t.Errorf("pending = %v, resume must re-enter at first non-completed child", pending)
	}
	if want := "A: task A\nA.2: task A.2\nA.3: task A.3"; content != want {
		t.Errorf("content = %q", content)
	}
}
