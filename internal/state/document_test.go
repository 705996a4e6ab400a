package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/maestro-run/maestro/internal/errors"
)

func newTestDocument() *Document {
	doc := NewDocument("test-session", "PLAN.md")
	for _, id := range []string{"t1", "t2", "t3"} {
		doc.Tasks[id] = &Task{
			ID:          id,
			Description: "task " + id,
			Status:      StatusNotStarted,
			Criticality: CriticalityStandard,
			CreatedAt:   time.Now().UTC(),
		}
	}
	doc.Tasks["t2"].Dependencies = []string{"t1"}
	return doc
}

func TestTransitionMaintainsBlockedItems(t *testing.T) {
	doc := newTestDocument()

	if err := doc.Transition("t1", StatusBlocked, "executor failure: exit status 1"); err != nil {
		t.Fatalf("Transition to blocked: %v", err)
	}
	if len(doc.BlockedItems) != 1 {
		t.Fatalf("BlockedItems = %d, want 1", len(doc.BlockedItems))
	}
	if doc.BlockedItems[0].Reason != "executor failure: exit status 1" {
		t.Errorf("unexpected reason %q", doc.BlockedItems[0].Reason)
	}

	if err := doc.Transition("t1", StatusNotStarted, ""); err != nil {
		t.Fatalf("Transition out of blocked: %v", err)
	}
	if len(doc.BlockedItems) != 0 {
		t.Errorf("BlockedItems = %d after unblock, want 0", len(doc.BlockedItems))
	}
}

// An invalid transition must leave the task record byte-for-byte unchanged.
func TestInvalidTransitionLeavesRecordUnchanged(t *testing.T) {
	doc := newTestDocument()
	before, err := json.Marshal(doc.Tasks["t1"])
	if err != nil {
		t.Fatal(err)
	}

	if err := doc.Transition("t1", StatusCompleted, ""); err == nil {
		t.Fatal("expected rejection of not_started -> completed")
	} else if !errors.Is(err, errors.ErrInvalidTransition) {
		t.Fatalf("unexpected error: %v", err)
	}

	after, err := json.Marshal(doc.Tasks["t1"])
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Errorf("task record changed after rejected transition:\nbefore %s\nafter  %s", before, after)
	}
}

func TestTransitionUnknownTask(t *testing.T) {
	doc := newTestDocument()
	err := doc.Transition("missing", StatusInProgress, "")
	if !errors.Is(err, errors.ErrTaskNotFound) {
		t.Errorf("want ErrTaskNotFound, got %v", err)
	}
}

func TestFindingsAppendOnly(t *testing.T) {
	doc := newTestDocument()

	for i, sev := range []Severity{SeverityMinor, SeverityCritical} {
		f := Finding{
			TaskID:     "t1",
			ReviewerID: "review-t1-" + string(rune('1'+i)),
			Severity:   sev,
			Summary:    "finding",
		}
		if err := doc.AddFinding(f); err != nil {
			t.Fatalf("AddFinding: %v", err)
		}
	}

	got := doc.Tasks["t1"].ReviewFindings
	if len(got) != 2 {
		t.Fatalf("findings = %d, want 2", len(got))
	}
	if got[0].Severity != SeverityMinor || got[1].Severity != SeverityCritical {
		t.Error("findings should retain insertion order")
	}
	if got[0].Timestamp.IsZero() {
		t.Error("AddFinding should stamp missing timestamps")
	}
}

func TestFinalReportSetOnce(t *testing.T) {
	doc := newTestDocument()

	set, err := doc.SetFinalReport("t1", "all reviews passed")
	if err != nil || !set {
		t.Fatalf("first SetFinalReport = (%v, %v), want (true, nil)", set, err)
	}
	set, err = doc.SetFinalReport("t1", "overwritten")
	if err != nil {
		t.Fatal(err)
	}
	if set {
		t.Error("second SetFinalReport must be a no-op")
	}
	if doc.Tasks["t1"].FinalReport != "all reviews passed" {
		t.Errorf("final report was overwritten: %q", doc.Tasks["t1"].FinalReport)
	}
}

func TestAddPendingDecisionIdempotent(t *testing.T) {
	doc := newTestDocument()

	dec := PendingDecision{ID: "human-fallback-t1", Question: "continue fixing t1?"}
	if !doc.AddPendingDecision(dec) {
		t.Fatal("first add should insert")
	}
	if doc.AddPendingDecision(dec) {
		t.Error("second add with same id should be a no-op")
	}
	if len(doc.PendingDecisions) != 1 {
		t.Errorf("decisions = %d, want 1", len(doc.PendingDecisions))
	}
}

func TestHighestSeverity(t *testing.T) {
	tests := []struct {
		name     string
		findings []Finding
		want     Severity
	}{
		{"empty", nil, SeverityNone},
		{"all none", []Finding{{Severity: SeverityNone}}, SeverityNone},
		{"minor and critical", []Finding{{Severity: SeverityMinor}, {Severity: SeverityCritical}}, SeverityCritical},
		{"major over minor", []Finding{{Severity: SeverityMajor}, {Severity: SeverityMinor}}, SeverityMajor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HighestSeverity(tt.findings); got != tt.want {
				t.Errorf("HighestSeverity = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStatusCountsAndCompletion(t *testing.T) {
	doc := newTestDocument()
	if doc.AllCompleted() {
		t.Error("fresh document should not report completion")
	}

	for _, id := range doc.TaskIDs() {
		doc.Tasks[id].Status = StatusCompleted
	}
	if !doc.AllCompleted() {
		t.Error("all tasks completed but AllCompleted is false")
	}
	if got := doc.StatusCounts()[StatusCompleted]; got != 3 {
		t.Errorf("completed count = %d, want 3", got)
	}
}
