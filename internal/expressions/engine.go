package expressions

import "context"

// Engine evaluates expressions supplied through workflow configuration.
// Implemented by CEL (suppression guards) and GoJQ (API response
// extraction). Scoring formulas go through FormulaEngine, whose typed
// Score surface replaces the generic map-in map-out shape.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
