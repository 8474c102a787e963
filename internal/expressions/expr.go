package expressions

import (
	"context"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/leadflow/pkg/schema"
)

// FormulaEngine evaluates scoring formulas written in expr-lang. A formula
// replaces the built-in weighted sum when the workflow sets scoring.formula,
// and must produce a number per lead.
// Thread-safe: compiled programs are cached per formula and reused across
// goroutines.
type FormulaEngine struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// formulaVars is the compile-time environment. Formulas see exactly three
// variables; referencing any other top-level name fails compilation, so a
// typoed formula surfaces on the first lead instead of scoring everything 0.
var formulaVars = map[string]any{
	"lead":    map[string]any{},
	"weights": map[string]any{},
	"config":  map[string]any{},
}

// NewFormulaEngine creates a new scoring formula engine.
func NewFormulaEngine() *FormulaEngine {
	return &FormulaEngine{
		programs: make(map[string]*vm.Program),
	}
}

// Name returns the engine identifier.
func (e *FormulaEngine) Name() string {
	return "expr"
}

// Score evaluates a formula for one lead. Absent lead fields resolve to nil,
// so formulas guard them with ?? rather than failing. The result is coerced
// to float64; anything non-numeric is a formula bug and fails the step.
func (e *FormulaEngine) Score(ctx context.Context, formula string, lead map[string]any, weights map[string]float64, config map[string]any) (float64, error) {
	if strings.TrimSpace(formula) == "" {
		return 0, schema.NewError(schema.ErrCodeValidation, "empty scoring formula")
	}

	prg, err := e.compile(formula)
	if err != nil {
		return 0, err
	}

	out, err := vm.Run(prg, scoreEnv(lead, weights, config))
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeExecution,
			"scoring formula failed for %q: %s", formula, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"formula": formula})
	}

	switch v := out.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	}
	return 0, schema.NewErrorf(schema.ErrCodeValidation,
		"scoring formula %q returned %T, want a number", formula, out).
		WithDetails(map[string]any{"formula": formula})
}

func (e *FormulaEngine) compile(formula string) (*vm.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[formula]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	prg, err := expr.Compile(formula, expr.Env(formulaVars))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"bad scoring formula %q: %s", formula, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"formula": formula})
	}

	// Concurrent first evaluations may compile twice; the programs are
	// identical, so last write wins.
	e.mu.Lock()
	e.programs[formula] = prg
	e.mu.Unlock()
	return prg, nil
}

func scoreEnv(lead map[string]any, weights map[string]float64, config map[string]any) map[string]any {
	w := make(map[string]any, len(weights))
	for k, v := range weights {
		w[k] = v
	}
	if lead == nil {
		lead = map[string]any{}
	}
	if config == nil {
		config = map[string]any{}
	}
	return map[string]any{"lead": lead, "weights": w, "config": config}
}
