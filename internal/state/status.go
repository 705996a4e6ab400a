package state

import "github.com/maestro-run/maestro/internal/errors"

// Status represents the lifecycle state of a task.
type Status string

const (
	// StatusNotStarted means the task has not begun execution.
	StatusNotStarted Status = "not_started"
	// StatusInProgress means the task is currently being executed.
	StatusInProgress Status = "in_progress"
	// StatusPendingReview means execution finished and review has not started.
	StatusPendingReview Status = "pending_review"
	// StatusUnderReview means reviewer invocations are in flight.
	StatusUnderReview Status = "under_review"
	// StatusFinalReview means all planned findings are recorded and
	// consolidation has not yet produced a verdict.
	StatusFinalReview Status = "final_review"
	// StatusCompleted means the task passed consolidation. Terminal.
	StatusCompleted Status = "completed"
	// StatusBlocked means the task hit an executor failure or was parked
	// and needs external resolution.
	StatusBlocked Status = "blocked"
)

// AllStatuses lists every valid status value.
var AllStatuses = []Status{
	StatusNotStarted,
	StatusInProgress,
	StatusPendingReview,
	StatusUnderReview,
	StatusFinalReview,
	StatusCompleted,
	StatusBlocked,
}

// String returns the string representation of the status.
func (s Status) String() string { return string(s) }

// IsValid returns true if the status is a recognized value.
func (s Status) IsValid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusPendingReview,
		StatusUnderReview, StatusFinalReview, StatusCompleted, StatusBlocked:
		return true
	}
	return false
}

// IsTerminal returns true if the status has no outgoing transitions.
func (s Status) IsTerminal() bool { return s == StatusCompleted }

// IsActive returns true if the task is somewhere between dispatch and
// consolidation.
func (s Status) IsActive() bool {
	switch s {
	case StatusInProgress, StatusPendingReview, StatusUnderReview, StatusFinalReview:
		return true
	}
	return false
}

// legalTransitions is the complete transition table. Any pair not listed
// here is rejected. The final_review -> in_progress edge is the fix cycle.
var legalTransitions = map[Status][]Status{
	StatusNotStarted:    {StatusInProgress, StatusBlocked},
	StatusInProgress:    {StatusPendingReview, StatusBlocked},
	StatusBlocked:       {StatusInProgress, StatusNotStarted},
	StatusPendingReview: {StatusUnderReview},
	StatusUnderReview:   {StatusFinalReview},
	StatusFinalReview:   {StatusCompleted, StatusInProgress},
	StatusCompleted:     {},
}

// CanTransition reports whether from -> to is in the legal table.
func CanTransition(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition checks a lifecycle transition against the legal
// table. It is a pure function: it mutates nothing and returns a typed
// *errors.TransitionError naming the offending pair when the transition
// is not allowed.
func ValidateTransition(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return &errors.TransitionError{From: from.String(), To: to.String()}
}
