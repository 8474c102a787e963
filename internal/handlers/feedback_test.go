package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/leadflow/pkg/schema"
)

func newFeedbackHandler(t *testing.T, config map[string]any) Handler {
	t.Helper()
	h, err := NewFeedbackFactory()(config, "")
	require.NoError(t, err)
	return h
}

func feedbackLead(email string, techs ...string) map[string]any {
	lead := map[string]any{
		"email": email, "title": "CTO", "industry": "Software",
	}
	if len(techs) > 0 {
		anyTechs := make([]any, len(techs))
		for i, tech := range techs {
			anyTechs[i] = tech
		}
		lead["technologies"] = anyTechs
	}
	return lead
}

func response(email string, replied bool) map[string]any {
	return map[string]any{"lead_email": email, "replied": replied, "opened": replied}
}

func TestFeedback_NudgesWeightsTowardResponders(t *testing.T) {
	h := newFeedbackHandler(t, map[string]any{"min_sample": 4, "learning_rate": 0.2})

	// Technology-tagged leads reply, the rest do not.
	out, err := h.Execute(context.Background(), Input{
		Values: map[string]any{
			"ranked_leads": []map[string]any{
				feedbackLead("a@x.io", "AWS"),
				feedbackLead("b@x.io", "AWS"),
				feedbackLead("c@x.io"),
				feedbackLead("d@x.io"),
			},
			"responses": []map[string]any{
				response("a@x.io", true),
				response("b@x.io", true),
				response("c@x.io", false),
				response("d@x.io", false),
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 4, out["sample_size"])
	assert.InDelta(t, 0.5, out["reply_rate"].(float64), 0.001)

	adjusted := out["adjusted_weights"].(map[string]any)
	// Among technology leads the reply rate is 1.0 vs a 0.5 baseline:
	// 0.20 + 0.2*(1.0-0.5) = 0.30.
	assert.InDelta(t, 0.30, adjusted["technology"].(float64), 0.001)
	// Title and industry are present on every lead, so their rate equals
	// the baseline and the weights stay put.
	assert.InDelta(t, 0.35, adjusted["title"].(float64), 0.001)
	assert.InDelta(t, 0.25, adjusted["industry"].(float64), 0.001)

	insights := out["insights"].([]map[string]any)
	assert.NotEmpty(t, insights)
}

func TestFeedback_SmallSampleLeavesWeightsUnchanged(t *testing.T) {
	h := newFeedbackHandler(t, nil) // default min_sample 5

	out, err := h.Execute(context.Background(), Input{
		Values: map[string]any{
			"ranked_leads": []map[string]any{feedbackLead("a@x.io", "AWS")},
			"responses":    []map[string]any{response("a@x.io", true)},
		},
	})
	require.NoError(t, err)

	adjusted := out["adjusted_weights"].(map[string]any)
	for feature, weight := range defaultWeights {
		assert.Equal(t, weight, adjusted[feature], "weight %s must not move on 1 sample", feature)
	}
	assert.Empty(t, out["insights"])
}

func TestFeedback_StartsFromConfiguredWeights(t *testing.T) {
	h := newFeedbackHandler(t, map[string]any{"min_sample": 1, "learning_rate": 0.1})

	out, err := h.Execute(context.Background(), Input{
		Values: map[string]any{
			"ranked_leads": []map[string]any{feedbackLead("a@x.io", "AWS")},
			"responses":    []map[string]any{response("a@x.io", false)},
		},
		WorkflowConfig: map[string]any{
			"scoring": map[string]any{
				"weights": map[string]any{"technology": 0.5},
			},
		},
	})
	require.NoError(t, err)

	adjusted := out["adjusted_weights"].(map[string]any)
	// Rate 0 vs baseline 0: no movement, but the base is the configured 0.5.
	assert.InDelta(t, 0.5, adjusted["technology"].(float64), 0.001)
}

func TestFeedback_WeightsStayInRange(t *testing.T) {
	h := newFeedbackHandler(t, map[string]any{"min_sample": 1, "learning_rate": 5.0})

	out, err := h.Execute(context.Background(), Input{
		Values: map[string]any{
			"ranked_leads": []map[string]any{
				feedbackLead("a@x.io", "AWS"),
				feedbackLead("b@x.io"),
			},
			"responses": []map[string]any{
				response("a@x.io", true),
				response("b@x.io", false),
			},
		},
	})
	require.NoError(t, err)

	adjusted := out["adjusted_weights"].(map[string]any)
	for feature, v := range adjusted {
		w := v.(float64)
		assert.GreaterOrEqual(t, w, 0.0, "weight %s", feature)
		assert.LessOrEqual(t, w, 1.0, "weight %s", feature)
	}
}

func TestFeedback_IgnoresResponsesWithoutMatchingLead(t *testing.T) {
	h := newFeedbackHandler(t, map[string]any{"min_sample": 1})

	out, err := h.Execute(context.Background(), Input{
		Values: map[string]any{
			"ranked_leads": []map[string]any{feedbackLead("known@x.io")},
			"responses": []map[string]any{
				response("known@x.io", false),
				response("stranger@y.io", true),
			},
		},
	})
	require.NoError(t, err)

	// The stranger's reply never correlates with a lead, so no feature
	// outperforms and nothing moves.
	adjusted := out["adjusted_weights"].(map[string]any)
	assert.Equal(t, defaultWeights["title"], adjusted["title"])
}

func TestFeedback_MissingResponses(t *testing.T) {
	h := newFeedbackHandler(t, nil)
	_, err := h.Execute(context.Background(), Input{})
	requireFlowCode(t, err, schema.ErrCodeValidation)
}
