package handlers

import (
	"github.com/rendis/leadflow/internal/expressions"
)

// Engines carries the shared expression engines handlers evaluate with.
// Compiled-program caches live in the engines, so sharing one set across
// all handler instances keeps compilation amortized.
type Engines struct {
	Formula *expressions.FormulaEngine
	CEL     *expressions.CELEngine
	JQ      *expressions.GoJQEngine
}

// NewEngines builds the default engine set.
func NewEngines() (Engines, error) {
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return Engines{}, err
	}
	return Engines{
		Formula: expressions.NewFormulaEngine(),
		CEL:     cel,
		JQ:      expressions.NewGoJQEngine(),
	}, nil
}

// RegisterBuiltins registers the stock outreach pipeline handlers.
func RegisterBuiltins(r *Registry, eng Engines) error {
	builtins := []struct {
		name        string
		description string
		factory     Factory
	}{
		{"prospect_search", "Find leads matching an ideal customer profile via Apollo", NewProspectSearchFactory()},
		{"enrichment", "Augment leads with firmographics (PeopleDataLabs) and tech stack (BuiltWith)", NewEnrichmentFactory(eng.JQ)},
		{"scoring", "Rank leads by ICP fit with configurable weighted scoring", NewScoringFactory(eng.Formula)},
		{"content", "Draft personalized outreach emails (OpenAI, with template fallback)", NewContentFactory()},
		{"send", "Deliver messages via SendGrid with optional suppression guard", NewSendFactory(eng.CEL)},
		{"track_responses", "Collect open/reply stats for sent outreach via Apollo", NewTrackerFactory(eng.JQ)},
		{"feedback", "Adjust scoring weights from observed reply outcomes", NewFeedbackFactory()},
	}
	for _, b := range builtins {
		if err := r.RegisterWithDescription(b.name, b.description, b.factory); err != nil {
			return err
		}
	}
	return nil
}
