package consolidate

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/maestro-run/maestro/internal/state"
)

func newStore(t *testing.T, doc *state.Document) *state.Store {
	t.Helper()
	store := state.NewStore(filepath.Join(t.TempDir(), state.DocumentFileName))
	if err := store.Init(doc); err != nil {
		t.Fatal(err)
	}
	return store
}

func docWithTask(criticality state.Criticality, findings ...state.Finding) *state.Document {
	doc := state.NewDocument("test", "PLAN.md")
	doc.Tasks["T1"] = &state.Task{
		ID:             "T1",
		Description:    "build the thing",
		Status:         state.StatusFinalReview,
		Criticality:    criticality,
		ReviewFindings: findings,
		CreatedAt:      time.Now().UTC(),
	}
	doc.TaskOrder = []string{"T1"}
	return doc
}

func finding(severity state.Severity, summary string) state.Finding {
	return state.Finding{
		TaskID:     "T1",
		ReviewerID: "review-T1-1",
		Severity:   severity,
		Summary:    summary,
		Timestamp:  time.Now().UTC(),
	}
}

func TestCleanRoundCompletesTask(t *testing.T) {
	store := newStore(t, docWithTask(state.CriticalityStandard,
		finding(state.SeverityMinor, "naming nit")))
	e := New(store, nil, DefaultConfig())

	n, err := e.RunCycle()
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if n != 1 {
		t.Errorf("processed = %d", n)
	}

	doc, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	task := doc.Tasks["T1"]
	if task.Status != state.StatusCompleted {
		t.Errorf("status = %s, want completed", task.Status)
	}
	if task.FinalReport == "" {
		t.Fatal("final report not written")
	}
	if !strings.Contains(task.FinalReport, "verdict: minor") {
		t.Errorf("report missing verdict: %q", task.FinalReport)
	}
	if !strings.Contains(task.FinalReport, "naming nit") {
		t.Errorf("report missing finding summary: %q", task.FinalReport)
	}
	if task.FixAttempts != 0 {
		t.Errorf("fix attempts = %d", task.FixAttempts)
	}
}

func TestCriticalFindingStartsFixCycle(t *testing.T) {
	store := newStore(t, docWithTask(state.CriticalitySecuritySensitive,
		finding(state.SeverityMinor, "nit"),
		finding(state.SeverityCritical, "data race")))
	e := New(store, nil, DefaultConfig())

	if _, err := e.RunCycle(); err != nil {
		t.Fatal(err)
	}

	doc, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	task := doc.Tasks["T1"]
	if task.Status != state.StatusInProgress {
		t.Errorf("status = %s, want in_progress", task.Status)
	}
	if task.FixAttempts != 1 {
		t.Errorf("fix attempts = %d, want 1", task.FixAttempts)
	}
	if task.FinalReport != "" {
		t.Errorf("final report written on a failing round: %q", task.FinalReport)
	}
	if got := len(task.ReviewFindings); got != 2 {
		t.Errorf("findings = %d, want history retained", got)
	}
	if len(doc.PendingDecisions) != 0 {
		t.Errorf("decision recorded below the escalation threshold")
	}
}

// A clean second round completes the task even though the first round
// found a critical issue.
func TestVerdictUsesLatestRoundOnly(t *testing.T) {
	store := newStore(t, docWithTask(state.CriticalityComplex,
		finding(state.SeverityCritical, "data race"),
		finding(state.SeverityMajor, "missing rollback"),
		finding(state.SeverityNone, "fixed"),
		finding(state.SeverityMinor, "typo")))
	e := New(store, nil, DefaultConfig())

	if _, err := e.RunCycle(); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	task := loaded.Tasks["T1"]
	if task.Status != state.StatusCompleted {
		t.Errorf("status = %s, want completed on a clean latest round", task.Status)
	}
	if strings.Contains(task.FinalReport, "data race") {
		t.Errorf("report leaked an earlier round: %q", task.FinalReport)
	}
}

func TestEscalationThresholdRecordsDecisionOnce(t *testing.T) {
	doc := docWithTask(state.CriticalityStandard,
		finding(state.SeverityMajor, "still broken"))
	doc.Tasks["T1"].FixAttempts = 1
	store := newStore(t, doc)
	e := New(store, nil, DefaultConfig())

	if _, err := e.RunCycle(); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got := loaded.Tasks["T1"].FixAttempts; got != 2 {
		t.Fatalf("fix attempts = %d, want 2", got)
	}
	if len(loaded.PendingDecisions) != 1 {
		t.Fatalf("decisions = %d, want 1", len(loaded.PendingDecisions))
	}
	if got := loaded.PendingDecisions[0].ID; got != "human-fallback-T1" {
		t.Errorf("decision id = %q", got)
	}

	// A later failing round must not duplicate the decision.
	err = store.Update(func(d *state.Document) error {
		if err := d.AddFinding(finding(state.SeverityMajor, "still broken")); err != nil {
			return err
		}
		if err := d.Transition("T1", state.StatusPendingReview, ""); err != nil {
			return err
		}
		if err := d.Transition("T1", state.StatusUnderReview, ""); err != nil {
			return err
		}
		return d.Transition("T1", state.StatusFinalReview, "")
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.RunCycle(); err != nil {
		t.Fatal(err)
	}

	loaded, err = store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.PendingDecisions) != 1 {
		t.Errorf("decisions = %d after repeat escalation, want 1", len(loaded.PendingDecisions))
	}
}

func TestExistingReportShortCircuits(t *testing.T) {
	doc := docWithTask(state.CriticalityStandard,
		finding(state.SeverityNone, "fine"))
	doc.Tasks["T1"].FinalReport = "verdict: none"
	store := newStore(t, doc)
	e := New(store, nil, DefaultConfig())

	if _, err := e.RunCycle(); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got := loaded.Tasks["T1"].Status; got != state.StatusCompleted {
		t.Errorf("status = %s", got)
	}
	if got := loaded.Tasks["T1"].FinalReport; got != "verdict: none" {
		t.Errorf("report rewritten: %q", got)
	}
}
