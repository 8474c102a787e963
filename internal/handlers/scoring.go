package handlers

import (
	"context"
	"sort"
	"strings"

	"github.com/rendis/leadflow/internal/expressions"
)

var defaultWeights = map[string]float64{
	"title":        0.35,
	"industry":     0.25,
	"company_size": 0.20,
	"technology":   0.20,
}

// ScoringHandler ranks leads by ICP fit. Scoring is a weighted sum of
// match features; a custom formula can replace it via the workflow
// config's scoring.formula, evaluated with `lead`, `weights` and `config`
// in scope.
type ScoringHandler struct {
	formulas *expressions.FormulaEngine
	formula  string
}

// NewScoringFactory builds scoring handlers. Config keys: formula
// (optional expression overriding the built-in weighted sum).
func NewScoringFactory(formulas *expressions.FormulaEngine) Factory {
	return func(config map[string]any, instructions string) (Handler, error) {
		return &ScoringHandler{
			formulas: formulas,
			formula:  stringParam(config, "formula", ""),
		}, nil
	}
}

func (h *ScoringHandler) Execute(ctx context.Context, input Input) (map[string]any, error) {
	leads := leadList(input.Value("leads"))
	if leads == nil {
		leads = leadList(input.Value("enriched_leads"))
	}
	if leads == nil {
		return nil, missingInput("scoring", "leads")
	}

	scoring := mapParam(input.WorkflowConfig, "scoring")
	weights := mergeWeights(scoring)
	formula := h.formula
	if formula == "" {
		formula = stringParam(scoring, "formula", "")
	}
	threshold := floatParam(scoring, "threshold", 0)
	icp := mapParam(input.WorkflowConfig, "icp")

	ranked := make([]map[string]any, 0, len(leads))
	var total, top float64
	for _, lead := range leads {
		var score float64
		if formula != "" {
			var err error
			score, err = h.formulas.Score(ctx, formula, lead, weights, input.WorkflowConfig)
			if err != nil {
				return nil, err
			}
		} else {
			score = weightedScore(lead, icp, weights)
		}
		if score < threshold {
			continue
		}
		out := cloneLead(lead)
		out["score"] = score
		ranked = append(ranked, out)
		total += score
		if score > top {
			top = score
		}
	}

	// Stable sort keeps input order for equal scores, which keeps runs
	// reproducible for downstream content generation.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i]["score"].(float64) > ranked[j]["score"].(float64)
	})

	avg := 0.0
	if len(ranked) > 0 {
		avg = total / float64(len(ranked))
	}
	return map[string]any{
		"ranked_leads":  ranked,
		"count":         len(ranked),
		"average_score": avg,
		"top_score":     top,
	}, nil
}

func weightedScore(lead, icp map[string]any, weights map[string]float64) float64 {
	features := map[string]float64{
		"title":        matchAny(fmtVal(lead["title"]), stringSlice(icp["titles"])),
		"industry":     matchAny(fmtVal(lead["industry"]), stringSlice(icp["industries"])),
		"company_size": sizeFit(lead, icp),
		"technology":   techOverlap(lead, icp),
	}
	var score float64
	for name, weight := range weights {
		score += weight * features[name]
	}
	return score
}

func mergeWeights(scoring map[string]any) map[string]float64 {
	weights := make(map[string]float64, len(defaultWeights))
	for k, v := range defaultWeights {
		weights[k] = v
	}
	for k, v := range mapParam(scoring, "weights") {
		weights[k] = toFloat(v, weights[k])
	}
	return weights
}

// matchAny scores 1 when the value contains (or is contained by) any of
// the wanted strings, case-insensitively.
func matchAny(value string, wanted []string) float64 {
	if value == "" || len(wanted) == 0 {
		return 0
	}
	lv := strings.ToLower(value)
	for _, w := range wanted {
		lw := strings.ToLower(w)
		if strings.Contains(lv, lw) || strings.Contains(lw, lv) {
			return 1
		}
	}
	return 0
}

func sizeFit(lead, icp map[string]any) float64 {
	count := floatParam(lead, "employee_count", -1)
	if count < 0 {
		return 0
	}
	min := floatParam(icp, "min_employees", 0)
	max := floatParam(icp, "max_employees", 0)
	if max > 0 && count > max {
		return 0
	}
	if count < min {
		return 0
	}
	return 1
}

func techOverlap(lead, icp map[string]any) float64 {
	wanted := stringSlice(icp["technologies"])
	have := stringSlice(lead["technologies"])
	if len(wanted) == 0 || len(have) == 0 {
		return 0
	}
	var hits int
	for _, w := range wanted {
		if matchAny(w, have) > 0 {
			hits++
		}
	}
	return float64(hits) / float64(len(wanted))
}
