// Package diagram renders workflow graphs as Mermaid flowcharts, used
// by the CLI to visualize a spec before running it.
package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/leadflow/internal/engine"
	"github.com/rendis/leadflow/pkg/schema"
)

// RenderMermaid renders a workflow spec as a Mermaid flowchart. Solid
// arrows are successor edges; dashed arrows are data references from
// input bindings. When result is non-nil each node is colored by its
// terminal status.
func RenderMermaid(spec *schema.WorkflowSpec, result *engine.WorkflowResult) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if spec.Name != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", spec.Name)
	}

	for i := range spec.Steps {
		step := &spec.Steps[i]
		fmt.Fprintf(&b, "    %s[%q]\n", safeID(step.ID), nodeLabel(step))
	}

	for i := range spec.Steps {
		step := &spec.Steps[i]
		from := safeID(step.ID)
		for _, next := range step.NextSteps {
			fmt.Fprintf(&b, "    %s --> %s\n", from, safeID(next))
		}
		for _, in := range step.Inputs {
			if !in.IsRef() {
				continue
			}
			refStep, _ := schema.SplitRef(in.Ref)
			fmt.Fprintf(&b, "    %s -.->|%s| %s\n", safeID(refStep), in.Key, from)
		}
	}

	if result != nil {
		b.WriteString("\n")
		b.WriteString("    classDef succeeded fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
		b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
		b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")
		for i := range result.Steps {
			res := &result.Steps[i]
			if cls := statusClass(res.Status); cls != "" {
				fmt.Fprintf(&b, "    class %s %s\n", safeID(res.StepID), cls)
			}
		}
	}

	return b.String()
}

// nodeLabel shows the step ID with its handler type when they differ.
func nodeLabel(step *schema.StepSpec) string {
	if step.ID == step.Handler {
		return step.ID
	}
	return fmt.Sprintf("%s: %s", step.ID, step.Handler)
}

// safeID converts a step ID to a Mermaid-safe identifier.
func safeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

func statusClass(status schema.StepStatus) string {
	switch status {
	case schema.StepStatusSucceeded:
		return "succeeded"
	case schema.StepStatusFailed:
		return "failed"
	case schema.StepStatusSkipped:
		return "skipped"
	default:
		return ""
	}
}
