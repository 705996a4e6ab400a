// Package consolidate merges review findings into a verdict for tasks in
// final review: clean rounds produce an immutable final report and
// complete the task, rounds with critical or major findings send the
// task back for a fix cycle and count against the fix budget.
package consolidate

import (
	"fmt"
	"strings"

	"github.com/maestro-run/maestro/internal/logging"
	"github.com/maestro-run/maestro/internal/state"
)

type Config struct {
	// ComplexReviewers is the fan-out applied to complex and
	// security-sensitive tasks; it bounds the size of a review round.
	ComplexReviewers int

	// EscalationThreshold is the fix-attempt count at which a
	// human-fallback decision is recorded.
	EscalationThreshold int

	// MaxFixAttempts caps fix cycles. The scheduler parks a task that
	// reaches the cap instead of dispatching it again.
	MaxFixAttempts int
}

func DefaultConfig() Config {
	return Config{
		ComplexReviewers:    2,
		EscalationThreshold: 2,
		MaxFixAttempts:      3,
	}
}

// Engine consolidates review rounds for tasks in final_review.
type Engine struct {
	store *state.Store
	log   *logging.Logger
	cfg   Config
}

func New(store *state.Store, log *logging.Logger, cfg Config) *Engine {
	if log == nil {
		log = logging.NopLogger()
	}
	if cfg.ComplexReviewers < 2 {
		cfg.ComplexReviewers = 2
	}
	return &Engine{store: store, log: log.WithPhase("consolidate"), cfg: cfg}
}

func (e *Engine) fanOut(t *state.Task) int {
	if t.PlannedReviewers() > 1 {
		return e.cfg.ComplexReviewers
	}
	return 1
}

// RunCycle consolidates every task currently in final_review and returns
// how many were processed.
func (e *Engine) RunCycle() (int, error) {
	doc, err := e.store.Load()
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, id := range doc.TasksInStatus(state.StatusFinalReview) {
		if err := e.consolidateTask(id); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

// consolidateTask applies the verdict of the latest review round. All
// reads and writes happen inside a single store update so a concurrent
// pass cannot act on the same round twice.
func (e *Engine) consolidateTask(taskID string) error {
	return e.store.Update(func(d *state.Document) error {
		t, err := d.Task(taskID)
		if err != nil {
			return err
		}
		if t.Status != state.StatusFinalReview {
			return nil
		}
		if t.FinalReport != "" {
			// Already consolidated, only the transition is missing.
			e.log.Info("final report already present", "task", taskID)
			return d.Transition(taskID, state.StatusCompleted, "")
		}

		round := currentRound(t, e.fanOut(t))
		verdict := state.HighestSeverity(round)

		if verdict.RequiresFix() {
			return e.startFixCycle(d, t, verdict, round)
		}

		report := buildReport(t, verdict, round)
		if _, err := d.SetFinalReport(taskID, report); err != nil {
			return err
		}
		e.log.Info("task consolidated", "task", taskID, "verdict", string(verdict))
		return d.Transition(taskID, state.StatusCompleted, "")
	})
}

// startFixCycle sends the task back for rework. Findings stay on the
// task so the next worker invocation sees the full history. Crossing the
// escalation threshold records a human-fallback decision once.
func (e *Engine) startFixCycle(d *state.Document, t *state.Task, verdict state.Severity, round []state.Finding) error {
	t.FixAttempts++
	e.log.Warn("fix cycle started", "task", t.ID,
		"verdict", string(verdict), "attempt", t.FixAttempts)

	if t.FixAttempts >= e.cfg.EscalationThreshold {
		added := d.AddPendingDecision(state.PendingDecision{
			ID: "human-fallback-" + t.ID,
			Question: fmt.Sprintf(
				"task %s has gone through %d fix cycles without passing review; continue automated fixes or take over?",
				t.ID, t.FixAttempts),
			Options:        []string{"continue", "take over"},
			ContextTaskIDs: []string{t.ID},
		})
		if added {
			e.log.Warn("human fallback recorded", "task", t.ID)
		}
	}

	return d.Transition(t.ID, state.StatusInProgress,
		fmt.Sprintf("review verdict %s, fix attempt %d", verdict, t.FixAttempts))
}

// currentRound returns the findings of the most recent review round.
// Earlier rounds stay on the task for history but do not influence the
// verdict: a clean round completes a task even when a prior round found
// critical issues.
func currentRound(t *state.Task, fanOut int) []state.Finding {
	if len(t.ReviewFindings) <= fanOut {
		return t.ReviewFindings
	}
	return t.ReviewFindings[len(t.ReviewFindings)-fanOut:]
}

func buildReport(t *state.Task, verdict state.Severity, round []state.Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "verdict: %s\n", verdict)
	fmt.Fprintf(&b, "review rounds: %d\n", t.FixAttempts+1)
	for _, f := range round {
		fmt.Fprintf(&b, "- %s [%s] %s\n", f.ReviewerID, f.Severity, f.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}
