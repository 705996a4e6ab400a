// Package pulse projects the orchestration state into a human-readable
// markdown status document and runs the periodic sync pass that ages
// blockers and escalates stale pending decisions.
package pulse

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/maestro-run/maestro/internal/state"
)

type Config struct {
	// DecisionEscalation is how long a pending decision may sit
	// unanswered before the sync pass marks it escalated.
	DecisionEscalation time.Duration

	// BlockedStale is the age past which a blocked item sorts to the
	// top of the risk section.
	BlockedStale time.Duration
}

func DefaultConfig() Config {
	return Config{
		DecisionEscalation: 24 * time.Hour,
		BlockedStale:       48 * time.Hour,
	}
}

const recentCompletionLimit = 10

// Snapshot is a pure projection of a state document at one instant.
// Building it never mutates the document.
type Snapshot struct {
	SessionName string
	// AsOf is the document's last mutation time, not the wall clock.
	// Rendering the same document twice yields identical bytes, so an
	// idle sync pass rewrites the pulse file without changing it.
	AsOf   time.Time
	Counts map[state.Status]int

	Groups      []Group
	Completions []TaskLine
	Blocked     []BlockedLine
	Decisions   []DecisionLine
	Anchors     []Anchor
}

// Group is one Mental Model section: the top-level tasks of a target
// group with their display status.
type Group struct {
	Name  string
	Tasks []TaskLine
}

type TaskLine struct {
	ID          string
	Description string
	Status      state.Status
	UpdatedAt   time.Time
}

type BlockedLine struct {
	TaskID string
	Reason string
	Since  time.Time
	Stale  bool
}

type DecisionLine struct {
	ID        string
	Question  string
	CreatedAt time.Time
	Escalated bool
}

// Anchor names the resources a currently active task is writing.
type Anchor struct {
	TaskID string
	Writes []string
}

// Build projects doc into a Snapshot as of now.
func Build(doc *state.Document, now time.Time, cfg Config) *Snapshot {
	snap := &Snapshot{
		SessionName: doc.SessionName,
		AsOf:        doc.UpdatedAt.UTC(),
		Counts:      doc.StatusCounts(),
	}

	groupIdx := map[string]int{}
	for _, id := range doc.OrderedTaskIDs() {
		t := doc.Tasks[id]
		if t.ParentID != "" {
			continue
		}
		name := t.TargetGroup
		if name == "" {
			name = "general"
		}
		i, ok := groupIdx[name]
		if !ok {
			i = len(snap.Groups)
			groupIdx[name] = i
			snap.Groups = append(snap.Groups, Group{Name: name})
		}
		snap.Groups[i].Tasks = append(snap.Groups[i].Tasks, TaskLine{
			ID:          t.ID,
			Description: t.Description,
			Status:      DisplayStatus(doc, t),
			UpdatedAt:   t.UpdatedAt,
		})
	}

	for _, id := range doc.OrderedTaskIDs() {
		t := doc.Tasks[id]
		if t.Status == state.StatusCompleted {
			snap.Completions = append(snap.Completions, TaskLine{
				ID: t.ID, Description: t.Description,
				Status: t.Status, UpdatedAt: t.UpdatedAt,
			})
		}
		if t.Status.IsActive() && len(t.Writes) > 0 {
			snap.Anchors = append(snap.Anchors, Anchor{TaskID: t.ID, Writes: t.Writes})
		}
	}
	sort.SliceStable(snap.Completions, func(i, j int) bool {
		return snap.Completions[i].UpdatedAt.After(snap.Completions[j].UpdatedAt)
	})
	if len(snap.Completions) > recentCompletionLimit {
		snap.Completions = snap.Completions[:recentCompletionLimit]
	}

	for _, b := range doc.BlockedItems {
		snap.Blocked = append(snap.Blocked, BlockedLine{
			TaskID: b.TaskID,
			Reason: b.Reason,
			Since:  b.Since,
			Stale:  now.Sub(b.Since) >= cfg.BlockedStale,
		})
	}
	// Stale blockers first, oldest first within each half.
	sort.SliceStable(snap.Blocked, func(i, j int) bool {
		if snap.Blocked[i].Stale != snap.Blocked[j].Stale {
			return snap.Blocked[i].Stale
		}
		return snap.Blocked[i].Since.Before(snap.Blocked[j].Since)
	})

	for _, dec := range doc.PendingDecisions {
		snap.Decisions = append(snap.Decisions, DecisionLine{
			ID:        dec.ID,
			Question:  dec.Question,
			CreatedAt: dec.CreatedAt,
			Escalated: dec.Escalated,
		})
	}

	return snap
}

// DisplayStatus is the status shown for a task in the Mental Model. A
// parent with children reports an aggregate: completed only when every
// child is completed, blocked when any child is blocked, in_progress
// when any child is anywhere between start and completion.
func DisplayStatus(doc *state.Document, t *state.Task) state.Status {
	children := doc.Children(t.ID)
	if len(children) == 0 {
		return t.Status
	}

	allCompleted := true
	anyActive := false
	for _, id := range children {
		c := doc.Tasks[id]
		switch c.Status {
		case state.StatusBlocked:
			return state.StatusBlocked
		case state.StatusCompleted:
		case state.StatusNotStarted:
			allCompleted = false
		default:
			anyActive = true
			allCompleted = false
		}
	}
	if t.Status == state.StatusBlocked {
		return state.StatusBlocked
	}
	if allCompleted {
		return state.StatusCompleted
	}
	if anyActive || t.Status.IsActive() {
		return state.StatusInProgress
	}
	return state.StatusNotStarted
}

func glyph(s state.Status) string {
	switch s {
	case state.StatusCompleted:
		return "[x]"
	case state.StatusBlocked:
		return "[!]"
	case state.StatusNotStarted:
		return "[ ]"
	default:
		return "[~]"
	}
}

// Render turns a snapshot into the pulse markdown document.
func Render(snap *Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Project Pulse: %s\n\n", snap.SessionName)
	fmt.Fprintf(&b, "_State as of %s_\n\n", snap.AsOf.Format(time.RFC3339))

	b.WriteString("## Mental Model\n\n")
	for _, g := range snap.Groups {
		fmt.Fprintf(&b, "### %s\n\n", g.Name)
		for _, t := range g.Tasks {
			fmt.Fprintf(&b, "- %s %s: %s (%s)\n", glyph(t.Status), t.ID, t.Description, t.Status)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Recent Completions\n\n")
	if len(snap.Completions) == 0 {
		b.WriteString("None yet.\n")
	}
	for _, t := range snap.Completions {
		fmt.Fprintf(&b, "- %s: %s (%s)\n", t.ID, t.Description, t.UpdatedAt.Format(time.RFC3339))
	}
	b.WriteString("\n")

	b.WriteString("## Risks, Blocked & Pending Decisions\n\n")
	if len(snap.Blocked) == 0 && len(snap.Decisions) == 0 {
		b.WriteString("Nothing outstanding.\n")
	}
	for _, bl := range snap.Blocked {
		marker := ""
		if bl.Stale {
			marker = " **STALE**"
		}
		fmt.Fprintf(&b, "- blocked %s since %s: %s%s\n",
			bl.TaskID, bl.Since.Format(time.RFC3339), bl.Reason, marker)
	}
	for _, d := range snap.Decisions {
		marker := ""
		if d.Escalated {
			marker = " **ESCALATED**"
		}
		fmt.Fprintf(&b, "- decision %s: %s%s\n", d.ID, d.Question, marker)
	}
	b.WriteString("\n")

	b.WriteString("## Key Anchors\n\n")
	if len(snap.Anchors) == 0 {
		b.WriteString("No active writes.\n")
	}
	for _, a := range snap.Anchors {
		fmt.Fprintf(&b, "- %s writes %s\n", a.TaskID, strings.Join(a.Writes, ", "))
	}

	return b.String()
}
