// Package review fans out independent reviewer invocations for tasks
// that finished execution, and records their findings.
package review

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/maestro-run/maestro/internal/executor"
	"github.com/maestro-run/maestro/internal/logging"
	"github.com/maestro-run/maestro/internal/state"
)

// Config holds review orchestrator settings.
type Config struct {
	// BackendKind is the executor backend used for reviewer invocations.
	BackendKind string
	// ComplexReviewers is the fan-out for complex and security-sensitive
	// tasks. Values below 2 are raised to 2.
	ComplexReviewers int
	// Workdir is handed to reviewer invocations.
	Workdir string
}

// DefaultConfig returns the default review configuration.
func DefaultConfig() Config {
	return Config{
		BackendKind:      "reviewer",
		ComplexReviewers: 2,
	}
}

// Orchestrator spawns reviewer invocations through the executor gateway
// and appends their findings to the state document.
type Orchestrator struct {
	store   *state.Store
	gateway executor.Gateway
	log     *logging.Logger
	cfg     Config
}

// New creates a review Orchestrator.
func New(store *state.Store, gateway executor.Gateway, log *logging.Logger, cfg Config) *Orchestrator {
	if log == nil {
		log = logging.NopLogger()
	}
	if cfg.ComplexReviewers < 2 {
		cfg.ComplexReviewers = 2
	}
	if cfg.BackendKind == "" {
		cfg.BackendKind = "reviewer"
	}
	return &Orchestrator{store: store, gateway: gateway, log: log.WithPhase("review"), cfg: cfg}
}

// FanOut returns the planned number of reviewers for a task.
func (o *Orchestrator) FanOut(t *state.Task) int {
	switch t.Criticality {
	case state.CriticalityComplex, state.CriticalitySecuritySensitive:
		return o.cfg.ComplexReviewers
	default:
		return 1
	}
}

// RunCycle processes review work: tasks in pending_review transition to
// under_review (the idempotent spawn gate) and get their full fan-out of
// reviewers; tasks stuck under_review with fewer findings than planned
// get only the missing invocations. Returns how many reviewer
// invocations were spawned.
func (o *Orchestrator) RunCycle(ctx context.Context) (int, error) {
	doc, err := o.store.Load()
	if err != nil {
		return 0, err
	}

	spawned := 0
	for _, id := range doc.TasksInStatus(state.StatusPendingReview) {
		err := o.store.Update(func(d *state.Document) error {
			return d.Transition(id, state.StatusUnderReview, "")
		})
		if err != nil {
			// Another pass won the spawn gate.
			o.log.Warn("review gate lost", "task", id, "err", err.Error())
			continue
		}
		n, err := o.reviewTask(ctx, doc.Tasks[id], len(doc.Tasks[id].ReviewFindings))
		if err != nil {
			return spawned, err
		}
		spawned += n
	}

	// Catch up tasks left under_review with missing findings, e.g. after
	// a reviewer invocation died without a verdict.
	for _, id := range doc.TasksInStatus(state.StatusUnderReview) {
		t := doc.Tasks[id]
		baseline := reviewBaseline(t, o.FanOut(t))
		if len(t.ReviewFindings) >= baseline+o.FanOut(t) {
			if err := o.promote(id, baseline+o.FanOut(t)); err != nil {
				return spawned, err
			}
			continue
		}
		n, err := o.reviewTask(ctx, t, len(t.ReviewFindings))
		if err != nil {
			return spawned, err
		}
		spawned += n
	}
	return spawned, nil
}

// reviewTask spawns the missing reviewer invocations for a task
// concurrently and promotes it to final_review once the planned count of
// findings is recorded.
func (o *Orchestrator) reviewTask(ctx context.Context, t *state.Task, existing int) (int, error) {
	fanOut := o.FanOut(t)
	baseline := reviewBaseline(t, fanOut)
	missing := baseline + fanOut - existing
	if missing <= 0 {
		return 0, o.promote(t.ID, baseline+fanOut)
	}

	o.log.Info("spawning reviewers", "task", t.ID, "count", missing,
		"criticality", string(t.Criticality))

	p := pool.New().WithMaxGoroutines(missing)
	for i := 0; i < missing; i++ {
		seq := existing + i + 1
		p.Go(func() {
			o.invokeReviewer(ctx, t, seq)
		})
	}
	p.Wait()

	return missing, o.promote(t.ID, baseline+fanOut)
}

// promote moves a task to final_review once it holds at least the
// planned number of findings for the current review round. Fewer
// findings is not an error: the task simply stays under_review.
func (o *Orchestrator) promote(taskID string, wanted int) error {
	return o.store.Update(func(d *state.Document) error {
		t, err := d.Task(taskID)
		if err != nil {
			return err
		}
		if t.Status != state.StatusUnderReview || len(t.ReviewFindings) < wanted {
			return nil
		}
		return d.Transition(taskID, state.StatusFinalReview, "")
	})
}

// invokeReviewer runs one reviewer through the gateway and appends its
// finding. A reviewer that fails or times out yields no finding; a
// reviewer whose output carries no parseable verdict records severity
// none with the raw output in the details.
func (o *Orchestrator) invokeReviewer(ctx context.Context, t *state.Task, seq int) {
	reviewerID := fmt.Sprintf("review-%s-%d", t.ID, seq)
	log := o.log.WithTask(t.ID).With("reviewer", reviewerID, "invocation", uuid.NewString())

	res, err := o.gateway.Execute(ctx, executor.Request{
		UnitID:      reviewerID,
		BackendKind: o.cfg.BackendKind,
		Workdir:     o.cfg.Workdir,
		Content:     reviewPrompt(t),
	})
	if err != nil {
		log.Error("reviewer invocation error", "err", err.Error())
		return
	}
	if res.Status != executor.StatusSuccess {
		log.Warn("reviewer did not complete", "status", string(res.Status))
		return
	}

	finding := ParseFinding(t.ID, reviewerID, res.Output)
	err = o.store.Update(func(d *state.Document) error {
		return d.AddFinding(finding)
	})
	if err != nil {
		log.Error("recording finding failed", "err", err.Error())
		return
	}
	log.Info("finding recorded", "severity", string(finding.Severity))
}

// reviewBaseline returns how many findings predate the current review
// round. Findings accumulate across fix cycles, so each round expects
// fanOut findings on top of the previous rounds'.
func reviewBaseline(t *state.Task, fanOut int) int {
	if fanOut <= 0 {
		return len(t.ReviewFindings)
	}
	return (len(t.ReviewFindings) / fanOut) * fanOut
}

// reviewPrompt assembles what the reviewer sees: the task, its declared
// surface, and prior findings so repeat issues are caught.
func reviewPrompt(t *state.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review the implementation of task %s: %s\n", t.ID, t.Description)
	if len(t.Writes) > 0 {
		fmt.Fprintf(&b, "Declared writes: %s\n", strings.Join(t.Writes, ", "))
	}
	if len(t.ReviewFindings) > 0 {
		b.WriteString("Prior findings:\n")
		for _, f := range t.ReviewFindings {
			fmt.Fprintf(&b, "- [%s] %s\n", f.Severity, f.Summary)
		}
	}
	b.WriteString("Report severity as <severity>critical|major|minor|none</severity> and a one-line <summary>.")
	return b.String()
}

// -----------------------------------------------------------------------------
// Verdict parsing
// -----------------------------------------------------------------------------

var (
	severityPattern = regexp.MustCompile(`<severity>\s*(critical|major|minor|none)\s*</severity>`)
	summaryPattern  = regexp.MustCompile(`(?s)<summary>\s*(.*?)\s*</summary>`)
)

// ParseFinding extracts a Finding from reviewer output. Output without a
// parseable severity yields severity none with the raw output preserved
// in the details.
func ParseFinding(taskID, reviewerID, output string) state.Finding {
	f := state.Finding{
		TaskID:     taskID,
		ReviewerID: reviewerID,
		Severity:   state.SeverityNone,
		Details:    output,
	}

	if m := severityPattern.FindStringSubmatch(output); m != nil {
		f.Severity = state.Severity(m[1])
	}
	if m := summaryPattern.FindStringSubmatch(output); m != nil {
		f.Summary = m[1]
	} else if line := firstLine(output); line != "" {
		f.Summary = line
	} else {
		f.Summary = "no verdict reported"
	}
	return f
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
