// Package state holds the persisted orchestration state: the task records,
// their lifecycle state machine, and the versioned document store that is
// the single source of truth for every other component.
package state

import "time"

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// Criticality governs how many independent reviewers a task receives.
type Criticality string

const (
	// CriticalityStandard gets a single reviewer.
	CriticalityStandard Criticality = "standard"
	// CriticalityComplex gets at least two reviewers.
	CriticalityComplex Criticality = "complex"
	// CriticalitySecuritySensitive gets at least two reviewers.
	CriticalitySecuritySensitive Criticality = "security-sensitive"
)

// IsValid returns true if the criticality is a recognized value.
func (c Criticality) IsValid() bool {
	switch c {
	case CriticalityStandard, CriticalityComplex, CriticalitySecuritySensitive:
		return true
	}
	return false
}

// ReviewerCount returns the minimum review fan-out for this criticality.
func (c Criticality) ReviewerCount() int {
	switch c {
	case CriticalityComplex, CriticalitySecuritySensitive:
		return 2
	default:
		return 1
	}
}

// -----------------------------------------------------------------------------
// Findings
// -----------------------------------------------------------------------------

// Severity is a reviewer's verdict on a task.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
	SeverityNone     Severity = "none"
)

// severityRank orders severities from most to least severe.
var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityMajor:    1,
	SeverityMinor:    2,
	SeverityNone:     3,
}

// IsValid returns true if the severity is a recognized value.
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// RequiresFix returns true if this severity sends the task back into a
// fix cycle.
func (s Severity) RequiresFix() bool {
	return s == SeverityCritical || s == SeverityMajor
}

// MoreSevere returns true if s outranks other.
func (s Severity) MoreSevere(other Severity) bool {
	return severityRank[s] < severityRank[other]
}

// HighestSeverity returns the most severe verdict among the findings, or
// SeverityNone when there are none.
func HighestSeverity(findings []Finding) Severity {
	highest := SeverityNone
	for _, f := range findings {
		if f.Severity.MoreSevere(highest) {
			highest = f.Severity
		}
	}
	return highest
}

// Finding is one reviewer's verdict on a task. Immutable once recorded.
type Finding struct {
	TaskID     string    `json:"task_id"`
	ReviewerID string    `json:"reviewer_id"`
	Severity   Severity  `json:"severity"`
	Summary    string    `json:"summary"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// -----------------------------------------------------------------------------
// Task
// -----------------------------------------------------------------------------

// Task is a unit of plan work tracked through the lifecycle. Records are
// created once by the plan parser and never deleted; only status, findings,
// the final report, fix attempts and timestamps mutate afterward.
type Task struct {
	// ID is stable and unique within the plan. Hierarchical ids encode
	// parent/child: a child id extends the parent id with a sub-index.
	ID string `json:"id"`

	// ParentID is an optional back-reference to the enclosing task.
	// Lookup only, no ownership.
	ParentID string `json:"parent_id,omitempty"`

	// Description and RequirementRefs are opaque to the engine.
	Description     string   `json:"description"`
	RequirementRefs []string `json:"requirement_refs,omitempty"`

	// Dependencies are task ids that must reach completed before this
	// task may start.
	Dependencies []string `json:"dependencies,omitempty"`

	// Writes and Reads are declared resource identifiers the task will
	// mutate or consult. Both empty means the task conflicts with
	// everything and runs alone.
	Writes []string `json:"writes,omitempty"`
	Reads  []string `json:"reads,omitempty"`

	Status      Status      `json:"status"`
	Criticality Criticality `json:"criticality,omitempty"`

	// OwnerKind routes the task to an executor backend; TargetGroup is a
	// display grouping. Both assigned once by classification, immutable
	// afterward.
	OwnerKind   string `json:"owner_kind,omitempty"`
	TargetGroup string `json:"target_group,omitempty"`

	// ReviewFindings is append-only and survives fix cycles.
	ReviewFindings []Finding `json:"review_findings,omitempty"`

	// FinalReport is set at most once, when consolidation closes the task.
	FinalReport string `json:"final_report,omitempty"`

	// FixAttempts counts how many times consolidation sent the task back
	// into a fix cycle.
	FixAttempts int `json:"fix_attempts,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t *Task) effectiveCriticality() Criticality {
	if t.Criticality.IsValid() {
		return t.Criticality
	}
	return CriticalityStandard
}

// PlannedReviewers returns the review fan-out for this task.
func (t *Task) PlannedReviewers() int {
	return t.effectiveCriticality().ReviewerCount()
}

// -----------------------------------------------------------------------------
// Blockers and Decisions
// -----------------------------------------------------------------------------

// BlockedItem records why a task is blocked. Removed when the task leaves
// blocked.
type BlockedItem struct {
	TaskID string    `json:"task_id"`
	Reason string    `json:"reason"`
	Since  time.Time `json:"since"`
}

// PendingDecision is a question parked for a human. The Escalated flag
// flips to true once the decision's age crosses the escalation threshold
// and never flips back.
type PendingDecision struct {
	ID             string    `json:"id"`
	Question       string    `json:"question"`
	Options        []string  `json:"options,omitempty"`
	ContextTaskIDs []string  `json:"context_task_ids,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Escalated      bool      `json:"escalated"`
}
