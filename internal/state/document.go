package state

import (
	"fmt"
	"sort"
	"time"

	"github.com/maestro-run/maestro/internal/errors"
)

// Document is the complete persisted orchestration state. It is the sole
// owner of all task, blocker and decision records; no other component
// retains an independent mutable copy. Every mutation goes through the
// Store's single update path.
type Document struct {
	// Version increases by one on every persisted mutation.
	Version int64 `json:"version"`

	SessionName string `json:"session_name"`
	SpecPath    string `json:"spec_path"`

	Tasks map[string]*Task `json:"tasks"`

	// TaskOrder preserves plan document order. Ready-set discovery walks
	// tasks in this order, falling back to ascending id for tasks the
	// order does not name.
	TaskOrder []string `json:"task_order,omitempty"`

	BlockedItems     []BlockedItem     `json:"blocked_items"`
	PendingDecisions []PendingDecision `json:"pending_decisions"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDocument creates an empty document for a session.
func NewDocument(sessionName, specPath string) *Document {
	now := time.Now().UTC()
	return &Document{
		Version:          1,
		SessionName:      sessionName,
		SpecPath:         specPath,
		Tasks:            make(map[string]*Task),
		BlockedItems:     []BlockedItem{},
		PendingDecisions: []PendingDecision{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Task returns the task with the given id or an ErrTaskNotFound error.
func (d *Document) Task(id string) (*Task, error) {
	t, ok := d.Tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrTaskNotFound, id)
	}
	return t, nil
}

// TaskIDs returns all task ids in ascending order.
func (d *Document) TaskIDs() []string {
	ids := make([]string, 0, len(d.Tasks))
	for id := range d.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OrderedTaskIDs returns task ids in plan document order, appending any
// tasks missing from TaskOrder in ascending id order.
func (d *Document) OrderedTaskIDs() []string {
	seen := make(map[string]bool, len(d.TaskOrder))
	out := make([]string, 0, len(d.Tasks))
	for _, id := range d.TaskOrder {
		if _, ok := d.Tasks[id]; ok && !seen[id] {
			out = append(out, id)
			seen[id] = true
		}
	}
	for _, id := range d.TaskIDs() {
		if !seen[id] {
			out = append(out, id)
		}
	}
	return out
}

// Children returns the ids of the direct children of a task, sorted.
func (d *Document) Children(parentID string) []string {
	var out []string
	for id, t := range d.Tasks {
		if t.ParentID == parentID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Transition applies a validated status transition to a task. On an
// illegal transition the task record is left unchanged and a typed
// *errors.TransitionError is returned. Entering blocked records a
// BlockedItem with the given reason; leaving blocked removes it.
func (d *Document) Transition(taskID string, to Status, reason string) error {
	t, err := d.Task(taskID)
	if err != nil {
		return err
	}
	if err := ValidateTransition(t.Status, to); err != nil {
		var tErr *errors.TransitionError
		if errors.As(err, &tErr) {
			tErr.TaskID = taskID
		}
		return err
	}

	from := t.Status
	t.Status = to
	t.UpdatedAt = time.Now().UTC()

	if to == StatusBlocked {
		d.addBlockedItem(taskID, reason)
	} else if from == StatusBlocked {
		d.removeBlockedItem(taskID)
	}
	return nil
}

func (d *Document) addBlockedItem(taskID, reason string) {
	for _, b := range d.BlockedItems {
		if b.TaskID == taskID {
			return
		}
	}
	if reason == "" {
		reason = "unspecified"
	}
	d.BlockedItems = append(d.BlockedItems, BlockedItem{
		TaskID: taskID,
		Reason: reason,
		Since:  time.Now().UTC(),
	})
}

func (d *Document) removeBlockedItem(taskID string) {
	kept := d.BlockedItems[:0]
	for _, b := range d.BlockedItems {
		if b.TaskID != taskID {
			kept = append(kept, b)
		}
	}
	d.BlockedItems = kept
}

// AddFinding appends a reviewer's finding to a task. Findings are
// append-only; nothing ever removes one.
func (d *Document) AddFinding(f Finding) error {
	t, err := d.Task(f.TaskID)
	if err != nil {
		return err
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}
	t.ReviewFindings = append(t.ReviewFindings, f)
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// SetFinalReport records the consolidation verdict for a task. The report
// is written at most once; a second call is a no-op returning false.
func (d *Document) SetFinalReport(taskID, report string) (bool, error) {
	t, err := d.Task(taskID)
	if err != nil {
		return false, err
	}
	if t.FinalReport != "" {
		return false, nil
	}
	t.FinalReport = report
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

// AddPendingDecision parks a question for a human. Idempotent on the
// decision id: an existing id is left untouched and false is returned.
func (d *Document) AddPendingDecision(dec PendingDecision) bool {
	for _, existing := range d.PendingDecisions {
		if existing.ID == dec.ID {
			return false
		}
	}
	if dec.CreatedAt.IsZero() {
		dec.CreatedAt = time.Now().UTC()
	}
	d.PendingDecisions = append(d.PendingDecisions, dec)
	return true
}

// StatusCounts returns the number of tasks in each status.
func (d *Document) StatusCounts() map[Status]int {
	counts := make(map[Status]int, len(AllStatuses))
	for _, t := range d.Tasks {
		counts[t.Status]++
	}
	return counts
}

// AllCompleted returns true when every task is in the terminal state.
func (d *Document) AllCompleted() bool {
	for _, t := range d.Tasks {
		if t.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// TasksInStatus returns ids of tasks currently in the given status,
// sorted ascending.
func (d *Document) TasksInStatus(s Status) []string {
	var out []string
	for id, t := range d.Tasks {
		if t.Status == s {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
