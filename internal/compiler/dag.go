// File: internal/compiler/dag.go
package compiler

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/intentc/api/schemas"
)

// validateDependencies verifies the plan's step graph is well formed:
// every dependency names a known step and the graph is acyclic. The
// executor assumes both; a plan that violates either never reaches it.
func validateDependencies(plan *schemas.ExecutionPlan) error {
	known := make(map[string]struct{}, len(plan.Steps))
	for _, step := range plan.Steps {
		if _, dup := known[step.ID]; dup {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}
		known[step.ID] = struct{}{}
	}

	for stepID, deps := range plan.Dependencies {
		if _, ok := known[stepID]; !ok {
			return fmt.Errorf("dependency map references unknown step %q", stepID)
		}
		for _, dep := range deps {
			if _, ok := known[dep]; !ok {
				return fmt.Errorf("step %q depends on unknown step %q", stepID, dep)
			}
		}
	}

	// Iterative DFS with tri-state coloring. A back edge to an
	// in-progress node is a cycle.
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(plan.Steps))

	var visit func(id string, trail []string) error
	visit = func(id string, trail []string) error {
		color[id] = grey
		trail = append(trail, id)
		for _, dep := range plan.Dependencies[id] {
			switch color[dep] {
			case grey:
				return fmt.Errorf("dependency cycle: %s -> %s", strings.Join(trail, " -> "), dep)
			case white:
				if err := visit(dep, trail); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, step := range plan.Steps {
		if color[step.ID] == white {
			if err := visit(step.ID, nil); err != nil {
				return err
			}
		}
	}
	return nil
}
