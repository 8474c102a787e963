package diagram

import (
	"strings"
	"testing"

	"github.com/rendis/leadflow/internal/engine"
	"github.com/rendis/leadflow/pkg/schema"
)

func pipelineSpec() *schema.WorkflowSpec {
	return &schema.WorkflowSpec{
		Name: "outreach",
		Steps: []schema.StepSpec{
			{ID: "find-leads", Handler: "prospect_search", NextSteps: []string{"rank"}},
			{ID: "rank", Handler: "scoring",
				Inputs: []schema.InputBinding{{Key: "leads", Ref: "find-leads.leads"}}},
		},
	}
}

func TestRenderMermaid_Structure(t *testing.T) {
	out := RenderMermaid(pipelineSpec(), nil)

	if !strings.HasPrefix(out, "graph TD\n") {
		t.Errorf("output must start with graph TD, got %q", out[:20])
	}
	for _, want := range []string{
		"%% outreach",
		`find_leads["find-leads: prospect_search"]`,
		`rank["rank: scoring"]`,
		"find_leads --> rank",
		"find_leads -.->|leads| rank",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "classDef") {
		t.Error("no status classes without a result overlay")
	}
}

func TestRenderMermaid_StatusOverlay(t *testing.T) {
	result := &engine.WorkflowResult{
		Steps: []engine.StepResult{
			{StepID: "find-leads", Status: schema.StepStatusSucceeded},
			{StepID: "rank", Status: schema.StepStatusFailed},
		},
	}
	out := RenderMermaid(pipelineSpec(), result)

	for _, want := range []string{
		"classDef succeeded",
		"class find_leads succeeded",
		"class rank failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderMermaid_SameIDAndHandler(t *testing.T) {
	spec := &schema.WorkflowSpec{
		Name:  "minimal",
		Steps: []schema.StepSpec{{ID: "scoring", Handler: "scoring"}},
	}
	out := RenderMermaid(spec, nil)
	if !strings.Contains(out, `scoring["scoring"]`) {
		t.Errorf("label must not repeat the handler:\n%s", out)
	}
}
