package engine

import (
	"fmt"
	"strings"

	"github.com/rendis/leadflow/pkg/schema"
)

// ExecutionGraph is the in-memory DAG representation of a workflow, derived
// once from a WorkflowSpec and read-only afterward.
type ExecutionGraph struct {
	Spec  *schema.WorkflowSpec
	Steps map[string]*schema.StepSpec // step ID → spec
	Succs map[string][]string         // step ID → successors (next_steps)
	Preds map[string][]string         // step ID → predecessors
	Entry string                      // the unique step with no predecessors
	Order []string                    // step IDs in declaration order
	Index map[string]int              // step ID → declaration index (tie-breaking)

	// Unreachable lists steps not reachable from the entry. Reported as
	// warnings by the validator; the engine records them as skipped.
	Unreachable []string
}

// Build derives an ExecutionGraph from a WorkflowSpec. It is pure: no side
// effects, cheap enough to rebuild per run.
//
// Validation order: step identity, reference resolution, cycle detection
// (three-color DFS with path reporting), entry determination, reachability.
func Build(spec *schema.WorkflowSpec) (*ExecutionGraph, error) {
	if spec == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow spec is nil")
	}
	if len(spec.Steps) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow has no steps")
	}

	g := &ExecutionGraph{
		Spec:  spec,
		Steps: make(map[string]*schema.StepSpec, len(spec.Steps)),
		Succs: make(map[string][]string, len(spec.Steps)),
		Preds: make(map[string][]string, len(spec.Steps)),
		Order: make([]string, 0, len(spec.Steps)),
		Index: make(map[string]int, len(spec.Steps)),
	}

	// First pass: register all steps and check for duplicates.
	for i := range spec.Steps {
		step := &spec.Steps[i]

		if step.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "step at index %d has empty ID", i)
		}
		if _, exists := g.Steps[step.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate step ID: %s", step.ID)
		}
		if step.Handler == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "step %s has no handler type", step.ID)
		}

		g.Steps[step.ID] = step
		g.Index[step.ID] = i
		g.Order = append(g.Order, step.ID)
	}

	// Second pass: build adjacency and validate successor references.
	for _, id := range g.Order {
		step := g.Steps[id]
		seen := make(map[string]bool, len(step.NextSteps))
		succs := make([]string, 0, len(step.NextSteps))
		for _, next := range step.NextSteps {
			if _, exists := g.Steps[next]; !exists {
				return nil, schema.NewErrorf(schema.ErrCodeUnknownStep,
					"step %s lists unknown successor: %s", id, next).WithStep(id)
			}
			if next == id {
				return nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
					"step %s lists itself as successor", id).
					WithStep(id).
					WithDetails(map[string]any{"path": []string{id, id}})
			}
			if seen[next] {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"step %s lists duplicate successor: %s", id, next).WithStep(id)
			}
			seen[next] = true
			succs = append(succs, next)
			g.Preds[next] = append(g.Preds[next], id)
		}
		g.Succs[id] = succs
	}

	// Third pass: validate input-binding step references.
	for _, id := range g.Order {
		for _, binding := range g.Steps[id].Inputs {
			if !binding.IsRef() {
				continue
			}
			ref, _ := schema.SplitRef(binding.Ref)
			if _, exists := g.Steps[ref]; !exists {
				return nil, schema.NewErrorf(schema.ErrCodeUnknownStep,
					"step %s input %q references unknown step: %s", id, binding.Key, ref).WithStep(id)
			}
		}
	}

	// Entry determination: exactly one step with no incoming references.
	// This runs before cycle detection so a workflow whose every step has
	// a predecessor (necessarily cyclic) reports the missing entry, the
	// more actionable diagnosis.
	var entries []string
	for _, id := range g.Order {
		if len(g.Preds[id]) == 0 {
			entries = append(entries, id)
		}
	}
	switch len(entries) {
	case 0:
		return nil, schema.NewError(schema.ErrCodeNoEntry, "no entry step: every step has a predecessor")
	case 1:
		g.Entry = entries[0]
	default:
		return nil, schema.NewErrorf(schema.ErrCodeAmbiguousEntry,
			"ambiguous entry: steps %s all have no predecessors", strings.Join(entries, ", ")).
			WithDetails(map[string]any{"candidates": entries})
	}

	// Cycle detection: three-color DFS over the successor relation. A back
	// edge to an in-progress node reveals the cycle; the DFS stack gives
	// the offending path.
	if path := findCycle(g); path != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
			"workflow contains a cycle: %s", strings.Join(path, " -> ")).
			WithDetails(map[string]any{"path": path})
	}

	// Reachability: forward traversal from the entry. Unreachable steps are
	// a warning-level diagnostic, not fatal.
	reachable := make(map[string]bool, len(g.Order))
	queue := []string{g.Entry}
	reachable[g.Entry] = true
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range g.Succs[node] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}
	for _, id := range g.Order {
		if !reachable[id] {
			g.Unreachable = append(g.Unreachable, id)
		}
	}

	return g, nil
}

// DFS colors.
const (
	colorWhite = iota // unvisited
	colorGray         // in progress
	colorBlack        // done
)

// findCycle runs a three-color DFS from every step and returns the cycle path
// (first node repeated at the end) or nil if the graph is acyclic.
func findCycle(g *ExecutionGraph) []string {
	color := make(map[string]int, len(g.Order))

	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = colorGray
		stack = append(stack, id)

		for _, next := range g.Succs[id] {
			switch color[next] {
			case colorGray:
				// Back edge: slice the stack from the first occurrence of next.
				for i, n := range stack {
					if n == next {
						cycle = append(append([]string{}, stack[i:]...), next)
						return true
					}
				}
			case colorWhite:
				if visit(next) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = colorBlack
		return false
	}

	for _, id := range g.Order {
		if color[id] == colorWhite {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

// String renders a compact adjacency summary, useful in logs and tests.
func (g *ExecutionGraph) String() string {
	var b strings.Builder
	for _, id := range g.Order {
		fmt.Fprintf(&b, "%s -> %v\n", id, g.Succs[id])
	}
	return b.String()
}
