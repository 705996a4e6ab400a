package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/maestro-run/maestro/internal/errors"
	"github.com/maestro-run/maestro/internal/state"
)

// Graph is a parsed plan: task records keyed by id plus their document
// order. Dependency edges are resolved and validated acyclic before a
// Graph is returned to callers.
type Graph struct {
	Tasks map[string]*state.Task
	// Order preserves document order; it drives ready-set discovery order
	// in the scheduler.
	Order []string
}

// validate checks dependency references and acyclicity.
func (g *Graph) validate() error {
	for _, id := range g.Order {
		for _, dep := range g.Tasks[id].Dependencies {
			if _, ok := g.Tasks[dep]; !ok {
				return errors.NewPlanError(
					fmt.Sprintf("task %s depends on unknown task %s", id, dep),
					errors.ErrMalformedPlan)
			}
			if dep == id {
				return errors.NewPlanError(
					fmt.Sprintf("cycle: %s -> %s", id, id),
					errors.ErrCycleDetected)
			}
		}
	}
	return g.checkCycles()
}

// checkCycles runs a depth-first search over dependency edges and fails
// with the cycle path on the first back edge.
func (g *Graph) checkCycles() error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	color := make(map[string]int, len(g.Tasks))
	var path []string

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = visiting
		path = append(path, id)
		for _, dep := range g.Tasks[id].Dependencies {
			switch color[dep] {
			case visiting:
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, path[start:]...), dep)
				return errors.NewPlanError(
					"cycle: "+strings.Join(cycle, " -> "),
					errors.ErrCycleDetected)
			case unvisited:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = done
		return nil
	}

	for _, id := range g.Order {
		if color[id] == unvisited {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Children returns the ids of the direct children of a task in document
// order.
func (g *Graph) Children(parentID string) []string {
	var out []string
	for _, id := range g.Order {
		if g.Tasks[id].ParentID == parentID {
			out = append(out, id)
		}
	}
	return out
}

// Seed builds the initial state document from the graph: every task
// not_started, empty blocker and decision lists. Classification defaults
// are applied so every task carries a backend kind even when no
// classification file was given.
func (g *Graph) Seed(sessionName, specPath string) *state.Document {
	g.applyDefaults()
	doc := state.NewDocument(sessionName, specPath)
	now := time.Now().UTC()
	for _, id := range g.Order {
		t := *g.Tasks[id]
		t.CreatedAt = now
		t.UpdatedAt = now
		doc.Tasks[id] = &t
	}
	doc.TaskOrder = append([]string{}, g.Order...)
	return doc
}
