// Package condition implements the pure condition-expression evaluator
// used by `condition` nodes.
package condition

import (
	"log/slog"
	"reflect"

	"github.com/synthos/orchestrator/internal/execctx"
	"github.com/synthos/orchestrator/internal/workflow"
)

// Evaluate decides the branch truth of a condition expression for the
// given source (predecessor) node against the run's context. It never
// mutates ctx and never returns an error: unresolvable or reserved
// variants simply evaluate to false rather than aborting the run.
func Evaluate(expr workflow.ConditionExpression, sourceNodeID string, ctx *execctx.Context) bool {
	switch expr.Kind {
	case workflow.ConditionPreviousNodeSuccess:
		return ctx.IsNodeSuccess(sourceNodeID)

	case workflow.ConditionPreviousNodeFailed:
		return ctx.IsNodeFailed(sourceNodeID)

	case workflow.ConditionKeyValueMatch:
		actual, ok := ctx.ResolveKeyPath(expr.KeyPath)
		if !ok {
			return false
		}
		return strictEqual(actual, expr.ExpectedValue)

	case workflow.ConditionCustomExpression:
		// Reserved: no expression language is defined yet, so this kind
		// never evaluates anything rather than guessing a sandbox semantics.
		slog.Warn("customExpression condition is reserved and always evaluates to false", "sourceNodeId", sourceNodeID)
		return false

	default:
		slog.Error("unknown condition expression kind", "kind", expr.Kind, "sourceNodeId", sourceNodeID)
		return false
	}
}

// strictEqual compares two condition values by same-type-and-same-value.
func strictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	av := reflect.ValueOf(a)
	bv := reflect.ValueOf(b)
	if av.Type() != bv.Type() {
		return false
	}
	return reflect.DeepEqual(a, b)
}
