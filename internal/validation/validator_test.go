package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/leadflow/pkg/schema"
)

type staticLookup map[string]bool

func (l staticLookup) Has(name string) bool { return l[name] }

var allHandlers = staticLookup{
	"prospect_search": true, "enrichment": true, "scoring": true,
	"content": true, "send": true,
}

func newValidator(t *testing.T, lookup HandlerLookup) *Validator {
	t.Helper()
	v, err := New(lookup)
	require.NoError(t, err)
	return v
}

func validSpec() *schema.WorkflowSpec {
	return &schema.WorkflowSpec{
		Name: "outreach",
		Steps: []schema.StepSpec{
			{ID: "find", Handler: "prospect_search", NextSteps: []string{"enrich"}},
			{ID: "enrich", Handler: "enrichment", NextSteps: []string{"rank"},
				Inputs: []schema.InputBinding{{Key: "leads", Ref: "find.leads"}}},
			{ID: "rank", Handler: "scoring",
				Inputs: []schema.InputBinding{{Key: "enriched_leads", Ref: "enrich.enriched_leads"}}},
		},
	}
}

func findIssue(issues []schema.ValidationIssue, code string) *schema.ValidationIssue {
	for i := range issues {
		if issues[i].Code == code {
			return &issues[i]
		}
	}
	return nil
}

func TestValidateSpec_ValidWorkflow(t *testing.T) {
	v := newValidator(t, allHandlers)
	result := v.ValidateSpec(validSpec())
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestValidateSpec_SchemaViolationsWithPaths(t *testing.T) {
	v := newValidator(t, allHandlers)

	result := v.ValidateSpec(&schema.WorkflowSpec{
		Steps: []schema.StepSpec{
			{ID: "", Handler: "prospect_search"},
		},
	})
	require.False(t, result.Valid())
	for _, issue := range result.Errors {
		assert.Equal(t, schema.SeverityError, issue.Severity)
		assert.NotEmpty(t, issue.Message)
	}
	// Both the missing workflow_name and the empty step id must surface.
	var sawName, sawStep bool
	for _, issue := range result.Errors {
		if strings.Contains(issue.Path, "workflow_name") || strings.Contains(issue.Message, "workflow_name") {
			sawName = true
		}
		if strings.Contains(issue.Path, "steps") {
			sawStep = true
		}
	}
	assert.True(t, sawName, "missing workflow_name must be reported: %v", result.Errors)
	assert.True(t, sawStep, "empty step id must be reported: %v", result.Errors)
}

func TestValidateSpec_EmptyStepsRejected(t *testing.T) {
	v := newValidator(t, allHandlers)
	result := v.ValidateSpec(&schema.WorkflowSpec{Name: "empty"})
	assert.False(t, result.Valid())
}

func TestValidateSpec_UnknownHandler(t *testing.T) {
	v := newValidator(t, allHandlers)

	spec := validSpec()
	spec.Steps[1].Handler = "teleport"
	result := v.ValidateSpec(spec)

	require.False(t, result.Valid())
	issue := findIssue(result.Errors, schema.ErrCodeUnknownHandler)
	require.NotNil(t, issue)
	assert.Equal(t, "steps[1].handler", issue.Path)
}

func TestValidateSpec_NilLookupSkipsHandlerChecks(t *testing.T) {
	v := newValidator(t, nil)

	spec := validSpec()
	spec.Steps[0].Handler = "anything_goes"
	result := v.ValidateSpec(spec)
	assert.True(t, result.Valid())
}

func TestValidateSpec_DuplicateStepID(t *testing.T) {
	v := newValidator(t, allHandlers)

	spec := validSpec()
	spec.Steps[2].ID = "find"
	spec.Steps[1].NextSteps = nil
	result := v.ValidateSpec(spec)

	require.False(t, result.Valid())
	issue := findIssue(result.Errors, schema.ErrCodeValidation)
	require.NotNil(t, issue)
	assert.Contains(t, issue.Message, "duplicate step id")
}

func TestValidateSpec_BadReferences(t *testing.T) {
	v := newValidator(t, allHandlers)

	spec := &schema.WorkflowSpec{
		Name: "refs",
		Steps: []schema.StepSpec{
			{ID: "a", Handler: "scoring", NextSteps: []string{"ghost"},
				Inputs: []schema.InputBinding{
					{Key: "x", Ref: "missing.out"},
					{Key: "y", Ref: "a.out"},
					{Key: "x", Value: 1},
				}},
		},
	}
	result := v.ValidateSpec(spec)
	require.False(t, result.Valid())

	unknownNext := findIssue(result.Errors, schema.ErrCodeUnknownStep)
	require.NotNil(t, unknownNext)

	paths := make([]string, 0, len(result.Errors))
	for _, issue := range result.Errors {
		paths = append(paths, issue.Path)
	}
	assert.Contains(t, paths, "steps[0].next_steps[0]")
	assert.Contains(t, paths, "steps[0].inputs[0].ref")
	assert.Contains(t, paths, "steps[0].inputs[1].ref") // self reference
	assert.Contains(t, paths, "steps[0].inputs[2].key") // duplicate key
}

func TestValidateSpec_ValueAndRefExclusive(t *testing.T) {
	v := newValidator(t, allHandlers)

	spec := validSpec()
	spec.Steps[1].Inputs = []schema.InputBinding{
		{Key: "leads", Ref: "find.leads", Value: []any{}},
	}
	result := v.ValidateSpec(spec)

	require.False(t, result.Valid())
	assert.Contains(t, result.Errors[0].Message, "both value and ref")
}

func TestValidateSpec_GraphStageCycle(t *testing.T) {
	v := newValidator(t, allHandlers)

	spec := &schema.WorkflowSpec{
		Name: "cyclic",
		Steps: []schema.StepSpec{
			{ID: "entry", Handler: "prospect_search", NextSteps: []string{"a"}},
			{ID: "a", Handler: "scoring", NextSteps: []string{"b"}},
			{ID: "b", Handler: "scoring", NextSteps: []string{"a"}},
		},
	}
	result := v.ValidateSpec(spec)

	require.False(t, result.Valid())
	issue := findIssue(result.Errors, schema.ErrCodeCycleDetected)
	require.NotNil(t, issue)
}

func TestValidateSpec_AmbiguousEntry(t *testing.T) {
	v := newValidator(t, allHandlers)

	spec := &schema.WorkflowSpec{
		Name: "two-roots",
		Steps: []schema.StepSpec{
			{ID: "a", Handler: "scoring", NextSteps: []string{"c"}},
			{ID: "b", Handler: "scoring", NextSteps: []string{"c"}},
			{ID: "c", Handler: "scoring"},
		},
	}
	result := v.ValidateSpec(spec)

	require.False(t, result.Valid())
	issue := findIssue(result.Errors, schema.ErrCodeAmbiguousEntry)
	require.NotNil(t, issue)
}

func TestValidateRaw_MalformedJSON(t *testing.T) {
	sv, err := NewSchemaValidator()
	require.NoError(t, err)

	result := sv.ValidateRaw([]byte(`{"workflow_name": `))
	assert.False(t, result.Valid())
}

func TestValidateRaw_UnknownTopLevelKey(t *testing.T) {
	sv, err := NewSchemaValidator()
	require.NoError(t, err)

	result := sv.ValidateRaw([]byte(`{
		"workflow_name": "wf",
		"steps": [{"id": "a", "handler": "scoring"}],
		"retries": 3
	}`))
	assert.False(t, result.Valid(), "additional properties must be rejected")
}
