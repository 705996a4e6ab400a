package pulse

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maestro-run/maestro/internal/state"
)

func buildDoc(t *testing.T) *state.Document {
	t.Helper()
	doc := state.NewDocument("demo", "PLAN.md")
	now := time.Now().UTC()
	add := func(id, parent, desc, group string, status state.Status, writes ...string) {
		doc.Tasks[id] = &state.Task{
			ID: id, ParentID: parent, Description: desc,
			TargetGroup: group, Status: status, Writes: writes,
			CreatedAt: now, UpdatedAt: now,
		}
		doc.TaskOrder = append(doc.TaskOrder, id)
	}
	add("T1", "", "auth service", "backend", state.StatusCompleted, "internal/auth")
	add("T2", "", "profile page", "frontend", state.StatusInProgress, "web/profile")
	add("T2.1", "T2", "profile form", "frontend", state.StatusPendingReview)
	add("T2.2", "T2", "avatar upload", "frontend", state.StatusNotStarted)
	add("T3", "", "migration", "backend", state.StatusNotStarted)
	return doc
}

func TestBuildGroupsTopLevelTasks(t *testing.T) {
	snap := Build(buildDoc(t), time.Now(), DefaultConfig())

	if len(snap.Groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(snap.Groups))
	}
	if snap.Groups[0].Name != "backend" || snap.Groups[1].Name != "frontend" {
		t.Errorf("group order = %s, %s", snap.Groups[0].Name, snap.Groups[1].Name)
	}
	// Sub-tasks never appear as their own checklist entries.
	for _, g := range snap.Groups {
		for _, line := range g.Tasks {
			if line.ID == "T2.1" || line.ID == "T2.2" {
				t.Errorf("sub-task %s listed at top level", line.ID)
			}
		}
	}
}

func TestDisplayStatusAggregatesChildren(t *testing.T) {
	doc := buildDoc(t)

	if got := DisplayStatus(doc, doc.Tasks["T2"]); got != state.StatusInProgress {
		t.Errorf("active child: display = %s, want in_progress", got)
	}

	doc.Tasks["T2.1"].Status = state.StatusBlocked
	if got := DisplayStatus(doc, doc.Tasks["T2"]); got != state.StatusBlocked {
		t.Errorf("blocked child: display = %s, want blocked", got)
	}

	doc.Tasks["T2.1"].Status = state.StatusCompleted
	doc.Tasks["T2.2"].Status = state.StatusCompleted
	if got := DisplayStatus(doc, doc.Tasks["T2"]); got != state.StatusCompleted {
		t.Errorf("completed children: display = %s, want completed", got)
	}

	if got := DisplayStatus(doc, doc.Tasks["T1"]); got != state.StatusCompleted {
		t.Errorf("childless task: display = %s, want own status", got)
	}
}

func TestBlockedSortsStaleFirst(t *testing.T) {
	now := time.Now().UTC()
	doc := buildDoc(t)
	doc.BlockedItems = []state.BlockedItem{
		{TaskID: "T3", Reason: "fresh", Since: now.Add(-time.Hour)},
		{TaskID: "T2", Reason: "old", Since: now.Add(-72 * time.Hour)},
	}

	snap := Build(doc, now, DefaultConfig())
	if len(snap.Blocked) != 2 {
		t.Fatalf("blocked = %d", len(snap.Blocked))
	}
	if !snap.Blocked[0].Stale || snap.Blocked[0].TaskID != "T2" {
		t.Errorf("stale blocker not first: %+v", snap.Blocked[0])
	}
	if snap.Blocked[1].Stale {
		t.Errorf("one-hour blocker marked stale")
	}
}

func TestRenderSections(t *testing.T) {
	now := time.Now().UTC()
	doc := buildDoc(t)
	doc.PendingDecisions = []state.PendingDecision{
		{ID: "human-fallback-T2", Question: "keep going?", CreatedAt: now, Escalated: true},
	}

	out := Render(Build(doc, now, DefaultConfig()))

	for _, want := range []string{
		"# Project Pulse: demo",
		"## Mental Model",
		"### backend",
		"- [x] T1: auth service (completed)",
		"- [~] T2: profile page (in_progress)",
		"## Recent Completions",
		"- T1: auth service",
		"## Risks, Blocked & Pending Decisions",
		"- decision human-fallback-T2: keep going? **ESCALATED**",
		"## Key Anchors",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered pulse missing %q\n%s", want, out)
		}
	}
	if !strings.Contains(out, "writes web/profile") {
		t.Errorf("anchors missing active writes\n%s", out)
	}
	if strings.Contains(out, "writes internal/auth") {
		t.Errorf("completed task listed as anchor\n%s", out)
	}
}

func TestSyncEscalatesOnceAndWritesPulse(t *testing.T) {
	now := time.Now().UTC()
	doc := buildDoc(t)
	doc.PendingDecisions = []state.PendingDecision{
		{ID: "human-fallback-T2", Question: "keep going?", CreatedAt: now.Add(-30 * time.Hour)},
		{ID: "human-fallback-T3", Question: "scope cut?", CreatedAt: now.Add(-time.Hour)},
	}

	dir := t.TempDir()
	store := state.NewStore(filepath.Join(dir, state.DocumentFileName))
	if err := store.Init(doc); err != nil {
		t.Fatal(err)
	}
	pulsePath := filepath.Join(dir, "PROJECT_PULSE.md")
	s := NewSyncer(store, pulsePath, nil, DefaultConfig())

	escalated, err := s.Sync(now)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if escalated != 1 {
		t.Errorf("escalated = %d, want 1", escalated)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.PendingDecisions[0].Escalated {
		t.Errorf("30h decision not escalated")
	}
	if loaded.PendingDecisions[1].Escalated {
		t.Errorf("1h decision escalated early")
	}
	for _, task := range loaded.Tasks {
		if doc.Tasks[task.ID].Status != task.Status {
			t.Errorf("sync changed status of %s", task.ID)
		}
	}

	out, err := os.ReadFile(pulsePath)
	if err != nil {
		t.Fatalf("pulse file: %v", err)
	}
	if !strings.Contains(string(out), "**ESCALATED**") {
		t.Errorf("pulse missing escalation marker")
	}

	versionBefore := loaded.Version
	if escalated, err = s.Sync(now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if escalated != 0 {
		t.Errorf("second sync escalated %d decisions", escalated)
	}
	// With no state change the rewrite must be byte-identical: the
	// rendered document depends only on the state, not the wall clock.
	rewritten, err := os.ReadFile(pulsePath)
	if err != nil {
		t.Fatal(err)
	}
	if string(rewritten) != string(out) {
		t.Error("idle sync changed the pulse document")
	}
	loaded, err = store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Version != versionBefore {
		t.Errorf("idle sync bumped document version %d -> %d", versionBefore, loaded.Version)
	}
}
