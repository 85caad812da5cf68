package condition

import (
	"testing"

	"github.com/synthos/orchestrator/internal/execctx"
	"github.com/synthos/orchestrator/internal/workflow"
)

func TestEvaluate_PreviousNodeSuccessAndFailed(t *testing.T) {
	ctx := execctx.New("exec-1")
	ctx.UpdateNodeStatus("t1", workflow.NodeStatusSuccess, nil)
	ctx.UpdateNodeStatus("t2", workflow.NodeStatusFailed, nil)

	if !Evaluate(workflow.ConditionExpression{Kind: workflow.ConditionPreviousNodeSuccess}, "t1", ctx) {
		t.Error("expected previousNodeSuccess true for t1")
	}
	if Evaluate(workflow.ConditionExpression{Kind: workflow.ConditionPreviousNodeSuccess}, "t2", ctx) {
		t.Error("expected previousNodeSuccess false for t2")
	}
	if !Evaluate(workflow.ConditionExpression{Kind: workflow.ConditionPreviousNodeFailed}, "t2", ctx) {
		t.Error("expected previousNodeFailed true for t2")
	}
}

func TestEvaluate_KeyValueMatch(t *testing.T) {
	ctx := execctx.New("exec-1")
	ctx.UpdateNodeStatus("weather", workflow.NodeStatusSuccess, &workflow.NodeExecutionResult{
		Success: true,
		Output:  map[string]any{"temperature": 30.0},
	})

	expr := workflow.ConditionExpression{
		Kind:          workflow.ConditionKeyValueMatch,
		KeyPath:       "weather.temperature",
		ExpectedValue: 30.0,
	}
	if !Evaluate(expr, "weather", ctx) {
		t.Error("expected match on equal float64 values")
	}

	expr.ExpectedValue = "30"
	if Evaluate(expr, "weather", ctx) {
		t.Error("expected strict equality to reject type mismatch (float64 vs string)")
	}

	expr.KeyPath = "weather.missingKey"
	expr.ExpectedValue = 30.0
	if Evaluate(expr, "weather", ctx) {
		t.Error("expected unresolved path to evaluate false")
	}
}

func TestEvaluate_CustomExpressionAlwaysFalse(t *testing.T) {
	ctx := execctx.New("exec-1")
	expr := workflow.ConditionExpression{Kind: workflow.ConditionCustomExpression, Code: "1 == 1"}
	if Evaluate(expr, "anything", ctx) {
		t.Error("expected customExpression to always evaluate false")
	}
}

func TestEvaluate_UnknownKind(t *testing.T) {
	ctx := execctx.New("exec-1")
	if Evaluate(workflow.ConditionExpression{Kind: "bogus"}, "n", ctx) {
		t.Error("expected unknown kind to evaluate false")
	}
}
