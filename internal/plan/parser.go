// Package plan converts a hierarchical checklist document into a task
// graph with resolved dependency edges, and merges externally supplied
// backend classification into the graph before the first dispatch cycle.
package plan

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/maestro-run/maestro/internal/errors"
	"github.com/maestro-run/maestro/internal/state"
)

// Checklist grammar, one task per line:
//
//   - [ ] T1: Build the loader (refs: R-3) (deps: T2) (writes: internal/config) (reads: go.mod)
//   - [ ] T1.1: Defaults and env overrides
//
// Sub-tasks are indented under their parent and their id must extend the
// parent id with a dot-separated suffix. Nesting is limited to two levels.
var (
	itemPattern       = regexp.MustCompile(`^(\s*)- \[( |x|X)\]\s+([^:\s]+):\s*(.*)$`)
	annotationPattern = regexp.MustCompile(`\((refs|deps|writes|reads):\s*([^)]*)\)`)
)

// ParseFile reads and parses a checklist plan from disk.
func ParseFile(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plan: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a checklist document and returns the validated task graph.
// It fails with an ErrMalformedPlan-wrapping error on grammar violations,
// duplicate or inconsistent ids, and unknown dependency references, and
// with ErrCycleDetected when the dependency relation is not a DAG.
func Parse(r io.Reader) (*Graph, error) {
	g := &Graph{Tasks: make(map[string]*state.Task)}

	var lastTopID string
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		m := itemPattern.FindStringSubmatch(line)
		if m == nil {
			// Non-item lines (headings, prose) are allowed between items.
			if strings.HasPrefix(strings.TrimSpace(line), "- [") {
				return nil, errors.NewPlanError(
					fmt.Sprintf("line %d: unparseable checklist item %q", lineNo, strings.TrimSpace(line)),
					errors.ErrMalformedPlan)
			}
			continue
		}

		indent, id, rest := m[1], m[3], m[4]
		task, err := parseItem(id, rest)
		if err != nil {
			return nil, err
		}

		if _, exists := g.Tasks[id]; exists {
			return nil, errors.NewPlanError(
				fmt.Sprintf("line %d: duplicate task id %s", lineNo, id),
				errors.ErrMalformedPlan)
		}

		if len(indent) == 0 {
			lastTopID = id
		} else {
			if lastTopID == "" {
				return nil, errors.NewPlanError(
					fmt.Sprintf("line %d: sub-task %s has no parent item", lineNo, id),
					errors.ErrMalformedPlan)
			}
			if !strings.HasPrefix(id, lastTopID+".") {
				return nil, errors.NewPlanError(
					fmt.Sprintf("line %d: sub-task id %s does not extend parent id %s", lineNo, id, lastTopID),
					errors.ErrMalformedPlan)
			}
			task.ParentID = lastTopID
		}

		g.Tasks[id] = task
		g.Order = append(g.Order, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}

	if len(g.Tasks) == 0 {
		return nil, errors.NewPlanError("plan contains no tasks", errors.ErrMalformedPlan)
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// parseItem extracts the description and annotations from the text after
// the id.
func parseItem(id, rest string) (*state.Task, error) {
	task := &state.Task{
		ID:     id,
		Status: state.StatusNotStarted,
	}

	for _, m := range annotationPattern.FindAllStringSubmatch(rest, -1) {
		values := splitList(m[2])
		switch m[1] {
		case "refs":
			task.RequirementRefs = values
		case "deps":
			task.Dependencies = values
		case "writes":
			task.Writes = values
		case "reads":
			task.Reads = values
		}
	}

	desc := annotationPattern.ReplaceAllString(rest, "")
	task.Description = strings.Join(strings.Fields(desc), " ")
	if task.Description == "" {
		return nil, errors.NewPlanError(
			fmt.Sprintf("task %s has an empty description", id),
			errors.ErrMalformedPlan)
	}
	return task, nil
}

// splitList splits a comma-separated annotation value, dropping empties.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
