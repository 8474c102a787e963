package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/leadflow/internal/expressions"
	"github.com/rendis/leadflow/pkg/schema"
)

func newScoringHandler(t *testing.T, config map[string]any) Handler {
	t.Helper()
	h, err := NewScoringFactory(expressions.NewFormulaEngine())(config, "")
	require.NoError(t, err)
	return h
}

func TestScoring_WeightedSumAndOrdering(t *testing.T) {
	h := newScoringHandler(t, nil)

	out, err := h.Execute(context.Background(), Input{
		Values: map[string]any{
			"enriched_leads": []map[string]any{
				{"email": "weak@x.io", "title": "Accountant", "industry": "Finance"},
				{
					"email": "strong@acme.io", "title": "VP of Engineering",
					"industry": "Software", "employee_count": 150,
					"technologies": []any{"AWS", "Kubernetes"},
				},
			},
		},
		WorkflowConfig: map[string]any{
			"icp": map[string]any{
				"titles":        []any{"VP of Engineering"},
				"industries":    []any{"Software"},
				"min_employees": 50, "max_employees": 500,
				"technologies": []any{"AWS"},
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, out["count"])
	ranked := out["ranked_leads"].([]map[string]any)
	require.Len(t, ranked, 2)
	assert.Equal(t, "strong@acme.io", ranked[0]["email"], "best fit first")
	assert.InDelta(t, 1.0, ranked[0]["score"].(float64), 0.001, "full feature match scores 1")
	assert.Equal(t, 0.0, ranked[1]["score"])
	assert.InDelta(t, 1.0, out["top_score"].(float64), 0.001)
	assert.InDelta(t, 0.5, out["average_score"].(float64), 0.001)
}

func TestScoring_ThresholdFilters(t *testing.T) {
	h := newScoringHandler(t, nil)

	out, err := h.Execute(context.Background(), Input{
		Values: map[string]any{
			"leads": []map[string]any{
				{"email": "a@x.io", "title": "CTO"},
				{"email": "b@x.io", "title": "Intern"},
			},
		},
		WorkflowConfig: map[string]any{
			"icp":     map[string]any{"titles": []any{"CTO"}},
			"scoring": map[string]any{"threshold": 0.3},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, out["count"])
	ranked := out["ranked_leads"].([]map[string]any)
	require.Len(t, ranked, 1)
	assert.Equal(t, "a@x.io", ranked[0]["email"])
}

func TestScoring_CustomWeightsOverrideDefaults(t *testing.T) {
	h := newScoringHandler(t, nil)

	out, err := h.Execute(context.Background(), Input{
		Values: map[string]any{
			"leads": []map[string]any{
				{"email": "a@x.io", "title": "CTO"},
			},
		},
		WorkflowConfig: map[string]any{
			"icp": map[string]any{"titles": []any{"CTO"}},
			"scoring": map[string]any{
				"weights": map[string]any{"title": 1.0, "industry": 0.0, "company_size": 0.0, "technology": 0.0},
			},
		},
	})
	require.NoError(t, err)

	ranked := out["ranked_leads"].([]map[string]any)
	require.Len(t, ranked, 1)
	assert.InDelta(t, 1.0, ranked[0]["score"].(float64), 0.001)
}

func TestScoring_FormulaFromConfig(t *testing.T) {
	h := newScoringHandler(t, nil)

	out, err := h.Execute(context.Background(), Input{
		Values: map[string]any{
			"leads": []map[string]any{
				{"email": "a@x.io", "employee_count": 200},
			},
		},
		WorkflowConfig: map[string]any{
			"scoring": map[string]any{
				"formula": "(lead.employee_count ?? 0) > 100 ? weights.company_size : 0.0",
			},
		},
	})
	require.NoError(t, err)

	ranked := out["ranked_leads"].([]map[string]any)
	require.Len(t, ranked, 1)
	assert.InDelta(t, 0.20, ranked[0]["score"].(float64), 0.001)
}

func TestScoring_FormulaMustReturnNumber(t *testing.T) {
	h := newScoringHandler(t, map[string]any{"formula": `lead.title ?? "unknown"`})

	_, err := h.Execute(context.Background(), Input{
		Values: map[string]any{
			"leads": []map[string]any{{"email": "a@x.io"}},
		},
	})
	requireFlowCode(t, err, schema.ErrCodeValidation)
}

func TestScoring_FormulaErrorFailsStep(t *testing.T) {
	h := newScoringHandler(t, map[string]any{"formula": "lead ++ weights"})

	_, err := h.Execute(context.Background(), Input{
		Values: map[string]any{
			"leads": []map[string]any{{"email": "a@x.io"}},
		},
	})
	requireFlowCode(t, err, schema.ErrCodeValidation)
}

func TestScoring_MissingLeads(t *testing.T) {
	h := newScoringHandler(t, nil)
	_, err := h.Execute(context.Background(), Input{})
	requireFlowCode(t, err, schema.ErrCodeValidation)
}

func TestMatchAny(t *testing.T) {
	assert.Equal(t, 1.0, matchAny("VP of Engineering", []string{"vp"}))
	assert.Equal(t, 1.0, matchAny("CTO", []string{"Chief Technology Officer", "CTO"}))
	assert.Equal(t, 0.0, matchAny("Accountant", []string{"Engineer"}))
	assert.Equal(t, 0.0, matchAny("", []string{"CTO"}))
	assert.Equal(t, 0.0, matchAny("CTO", nil))
}

func TestSizeFit(t *testing.T) {
	icp := map[string]any{"min_employees": 50, "max_employees": 500}
	assert.Equal(t, 1.0, sizeFit(map[string]any{"employee_count": 100}, icp))
	assert.Equal(t, 0.0, sizeFit(map[string]any{"employee_count": 10}, icp))
	assert.Equal(t, 0.0, sizeFit(map[string]any{"employee_count": 1000}, icp))
	assert.Equal(t, 0.0, sizeFit(map[string]any{}, icp), "unknown size never matches")
	assert.Equal(t, 1.0, sizeFit(map[string]any{"employee_count": 10}, map[string]any{}), "no bounds accepts any known size")
}
