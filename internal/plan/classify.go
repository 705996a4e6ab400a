package plan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/maestro-run/maestro/internal/errors"
	"github.com/maestro-run/maestro/internal/state"
)

// Classification is the externally supplied routing decision for one
// task. Deciding backend kind and criticality requires judgment about
// task semantics, so it arrives as an input file rather than a heuristic
// inside the scheduler.
type Classification struct {
	OwnerKind   string            `yaml:"owner_kind"`
	TargetGroup string            `yaml:"target_group"`
	Criticality state.Criticality `yaml:"criticality"`
}

// DefaultOwnerKind is assigned to tasks the classification map does not
// name.
const DefaultOwnerKind = "worker"

// LoadClassification reads a classification map keyed by task id from a
// YAML file.
func LoadClassification(path string) (map[string]Classification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classification: %w", err)
	}
	out := make(map[string]Classification)
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode classification: %w", err)
	}
	return out, nil
}

// ApplyClassification merges owner kind, target group and criticality
// into the graph. An entry naming an unknown task id or carrying an
// unknown criticality is an error. Unclassified tasks keep the defaults
// applied by Seed.
func (g *Graph) ApplyClassification(classes map[string]Classification) error {
	for id, c := range classes {
		task, ok := g.Tasks[id]
		if !ok {
			return errors.NewPlanError(
				fmt.Sprintf("classification names unknown task %s", id),
				errors.ErrUnknownClassification)
		}
		if c.Criticality != "" && !c.Criticality.IsValid() {
			return errors.NewPlanError(
				fmt.Sprintf("task %s has unknown criticality %q", id, c.Criticality),
				errors.ErrUnknownClassification)
		}
		if c.OwnerKind != "" {
			task.OwnerKind = c.OwnerKind
		}
		if c.TargetGroup != "" {
			task.TargetGroup = c.TargetGroup
		}
		if c.Criticality != "" {
			task.Criticality = c.Criticality
		}
	}

	g.applyDefaults()
	return nil
}

// applyDefaults fills in owner kind, criticality and inherited target
// group for tasks no classification entry touched. Every seeded graph
// goes through it, classified or not, so no task ever reaches the
// scheduler without a backend kind. Walks in document order so parents
// settle before their children inherit.
func (g *Graph) applyDefaults() {
	for _, id := range g.Order {
		task := g.Tasks[id]
		if task.OwnerKind == "" {
			task.OwnerKind = DefaultOwnerKind
		}
		if task.Criticality == "" {
			task.Criticality = state.CriticalityStandard
		}
		if task.TargetGroup == "" && task.ParentID != "" {
			task.TargetGroup = g.Tasks[task.ParentID].TargetGroup
		}
	}
}
