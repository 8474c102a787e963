package expressions

import (
	"context"
	"errors"
	"testing"

	"github.com/rendis/leadflow/pkg/schema"
)

func assertFlowError(t *testing.T, err error, code string) *schema.FlowError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", code)
	}
	var fe *schema.FlowError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *schema.FlowError, got %T: %v", err, err)
	}
	if fe.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, fe.Code, fe.Message)
	}
	return fe
}

func TestFormulaEngine_Score(t *testing.T) {
	e := NewFormulaEngine()
	ctx := context.Background()

	got, err := e.Score(ctx, "(lead.employee_count ?? 0) / 100.0 * weights.company_size",
		map[string]any{"employee_count": 200},
		map[string]float64{"company_size": 0.2},
		nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got < 0.39 || got > 0.41 {
		t.Errorf("expected 0.4, got %v", got)
	}
}

func TestFormulaEngine_AbsentLeadFieldCoalesces(t *testing.T) {
	e := NewFormulaEngine()

	// Absent lead fields resolve to nil; formulas guard them with ?? and
	// an integer fallback still comes back as a float64 score.
	got, err := e.Score(context.Background(), "lead.revenue ?? 5", map[string]any{}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 5 {
		t.Errorf("expected 5, got %v", got)
	}
}

func TestFormulaEngine_UnknownVariableRejected(t *testing.T) {
	e := NewFormulaEngine()

	// Only lead, weights and config are in scope. A typoed name must fail
	// compilation instead of silently scoring every lead the same.
	_, err := e.Score(context.Background(), "leed.score ?? 0", map[string]any{}, nil, nil)
	fe := assertFlowError(t, err, schema.ErrCodeValidation)
	if fe.Details["formula"] != "leed.score ?? 0" {
		t.Errorf("expected formula in details, got %v", fe.Details)
	}
}

func TestFormulaEngine_NonNumericResultRejected(t *testing.T) {
	e := NewFormulaEngine()

	_, err := e.Score(context.Background(), `lead.title ?? "vp"`,
		map[string]any{}, nil, nil)
	assertFlowError(t, err, schema.ErrCodeValidation)
}

func TestFormulaEngine_RuntimeError(t *testing.T) {
	e := NewFormulaEngine()

	_, err := e.Score(context.Background(), "lead.name + 1",
		map[string]any{"name": "Ada"}, nil, nil)
	assertFlowError(t, err, schema.ErrCodeExecution)
}

func TestFormulaEngine_CompileError(t *testing.T) {
	e := NewFormulaEngine()

	_, err := e.Score(context.Background(), "1 +* 2", nil, nil, nil)
	fe := assertFlowError(t, err, schema.ErrCodeValidation)
	if fe.Details["formula"] != "1 +* 2" {
		t.Errorf("expected formula in details, got %v", fe.Details)
	}
}

func TestFormulaEngine_EmptyFormula(t *testing.T) {
	e := NewFormulaEngine()
	_, err := e.Score(context.Background(), "  ", nil, nil, nil)
	assertFlowError(t, err, schema.ErrCodeValidation)
}

func TestFormulaEngine_CacheReuse(t *testing.T) {
	e := NewFormulaEngine()
	ctx := context.Background()
	formula := "weights.title * 2"

	first, err := e.Score(ctx, formula, nil, map[string]float64{"title": 0.35}, nil)
	if err != nil {
		t.Fatalf("first evaluation: %v", err)
	}
	if first < 0.69 || first > 0.71 {
		t.Errorf("expected 0.7, got %v", first)
	}

	e.mu.RLock()
	cached := len(e.programs)
	e.mu.RUnlock()
	if cached != 1 {
		t.Fatalf("expected 1 cached program, got %d", cached)
	}

	second, err := e.Score(ctx, formula, nil, map[string]float64{"title": 0.5}, nil)
	if err != nil {
		t.Fatalf("second evaluation: %v", err)
	}
	if second != 1 {
		t.Errorf("cached program must still evaluate fresh weights, got %v", second)
	}
	e.mu.RLock()
	cached = len(e.programs)
	e.mu.RUnlock()
	if cached != 1 {
		t.Errorf("same formula must not be recompiled, cache has %d entries", cached)
	}
}

func TestCELEngine_SuppressionGuard(t *testing.T) {
	e, err := NewCELEngine()
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	ctx := context.Background()

	data := map[string]any{
		"lead":    map[string]any{"score": 0.3, "company": "Acme"},
		"message": map[string]any{"subject": "hi"},
	}

	suppress, err := e.EvaluateBool(ctx, "lead.score < 0.5", data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !suppress {
		t.Error("guard should fire for a low score")
	}

	suppress, err = e.EvaluateBool(ctx, `lead.company == "Globex"`, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if suppress {
		t.Error("guard should not fire for a different company")
	}
}

func TestCELEngine_MissingVariablesDefaultToEmptyMaps(t *testing.T) {
	e, err := NewCELEngine()
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}

	// No lead/message/config in the data at all; the activation fills in
	// empty maps so membership checks still evaluate.
	out, err := e.EvaluateBool(context.Background(), `"score" in lead`, map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out {
		t.Error("empty lead map must not contain score")
	}
}

func TestCELEngine_NonBoolGuard(t *testing.T) {
	e, err := NewCELEngine()
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}

	_, err = e.EvaluateBool(context.Background(), `lead.company`, map[string]any{
		"lead": map[string]any{"company": "Acme"},
	})
	assertFlowError(t, err, schema.ErrCodeValidation)
}

func TestCELEngine_CompileError(t *testing.T) {
	e, err := NewCELEngine()
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}

	_, err = e.Evaluate(context.Background(), "lead.score <", nil)
	assertFlowError(t, err, schema.ErrCodeValidation)
}

func TestGoJQEngine_SingleOutput(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), ".data.employee_count", map[string]any{
		"data": map[string]any{"employee_count": 250.0},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != 250.0 {
		t.Errorf("expected 250, got %v", out)
	}
}

func TestGoJQEngine_CollectsMultipleOutputs(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), ".items[].name", map[string]any{
		"items": []any{
			map[string]any{"name": "React"},
			map[string]any{"name": "AWS"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	names, ok := out.([]any)
	if !ok || len(names) != 2 || names[0] != "React" || names[1] != "AWS" {
		t.Errorf("expected [React AWS], got %v", out)
	}
}

func TestGoJQEngine_NoOutputIsNil(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), ".missing[]?", map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Errorf("expected nil for empty output stream, got %v", out)
	}
}

func TestGoJQEngine_ParseError(t *testing.T) {
	e := NewGoJQEngine()
	_, err := e.Evaluate(context.Background(), ".[ |", nil)
	assertFlowError(t, err, schema.ErrCodeValidation)
}

func TestGoJQEngine_RuntimeError(t *testing.T) {
	e := NewGoJQEngine()
	_, err := e.Evaluate(context.Background(), ".a + 1", map[string]any{"a": "text"})
	assertFlowError(t, err, schema.ErrCodeExecution)
}

func TestGoJQEngine_EnvAccessBlocked(t *testing.T) {
	t.Setenv("LEADFLOW_SECRET", "s3cret")
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `$ENV.LEADFLOW_SECRET`, map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Errorf("environment must not leak into jq expressions, got %v", out)
	}
}
