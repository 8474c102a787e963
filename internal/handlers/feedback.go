package handlers

import (
	"context"
)

// FeedbackHandler closes the loop: it correlates reply outcomes with the
// scoring features of the leads that produced them and nudges the
// scoring weights toward the features shared by responders. Pure
// aggregation, no external calls.
type FeedbackHandler struct {
	learningRate float64
	minSample    int
}

// NewFeedbackFactory builds feedback handlers. Config keys:
// learning_rate (default 0.1), min_sample (default 5, below which
// weights are returned unchanged).
func NewFeedbackFactory() Factory {
	return func(config map[string]any, instructions string) (Handler, error) {
		return &FeedbackHandler{
			learningRate: floatParam(config, "learning_rate", 0.1),
			minSample:    intParam(config, "min_sample", 5),
		}, nil
	}
}

func (h *FeedbackHandler) Execute(ctx context.Context, input Input) (map[string]any, error) {
	responses := leadList(input.Value("responses"))
	if responses == nil {
		return nil, missingInput("feedback", "responses")
	}
	leads := leadList(input.Value("ranked_leads"))

	byEmail := make(map[string]map[string]any, len(leads))
	for _, lead := range leads {
		byEmail[fmtVal(lead["email"])] = lead
	}

	weights := mergeWeights(mapParam(input.WorkflowConfig, "scoring"))

	// Per-feature reply counts among leads that had the feature present.
	featureReplies := make(map[string]int, len(weights))
	featureTotals := make(map[string]int, len(weights))
	var replies int
	for _, r := range responses {
		lead, ok := byEmail[fmtVal(r["lead_email"])]
		if !ok {
			continue
		}
		replied := r["replied"] == true
		if replied {
			replies++
		}
		for feature, present := range leadFeatures(lead) {
			if !present {
				continue
			}
			featureTotals[feature]++
			if replied {
				featureReplies[feature]++
			}
		}
	}

	adjusted := make(map[string]any, len(weights))
	insights := make([]map[string]any, 0, len(weights))
	sample := len(responses)
	baseline := 0.0
	if sample > 0 {
		baseline = float64(replies) / float64(sample)
	}

	for feature, weight := range weights {
		newWeight := weight
		if sample >= h.minSample && featureTotals[feature] > 0 {
			rate := float64(featureReplies[feature]) / float64(featureTotals[feature])
			// Move the weight proportionally to how much the feature
			// out- or under-performs the overall reply rate.
			newWeight = clamp(weight+h.learningRate*(rate-baseline), 0, 1)
			insights = append(insights, map[string]any{
				"feature":    feature,
				"reply_rate": rate,
				"baseline":   baseline,
				"delta":      newWeight - weight,
			})
		}
		adjusted[feature] = newWeight
	}

	return map[string]any{
		"adjusted_weights": adjusted,
		"insights":         insights,
		"sample_size":      sample,
		"reply_rate":       baseline,
	}, nil
}

// leadFeatures reports which scoring features contributed for a lead.
func leadFeatures(lead map[string]any) map[string]bool {
	return map[string]bool{
		"title":        fmtVal(lead["title"]) != "",
		"industry":     fmtVal(lead["industry"]) != "",
		"company_size": floatParam(lead, "employee_count", -1) >= 0,
		"technology":   len(stringSlice(lead["technologies"])) > 0,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
