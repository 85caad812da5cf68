package execctx

import (
	"testing"

	"github.com/synthos/orchestrator/internal/workflow"
)

func TestUpdateNodeStatus_SingleSourceOfTruth(t *testing.T) {
	ctx := New("exec-1")
	result := &workflow.NodeExecutionResult{Success: true, Output: map[string]any{"temperature": 30.0}}
	ctx.UpdateNodeStatus("t1", workflow.NodeStatusSuccess, result)

	if !ctx.IsNodeSuccess("t1") {
		t.Fatal("expected t1 to be recorded as success")
	}
	if ctx.IsNodeFailed("t1") {
		t.Fatal("expected t1 to not be recorded as failed")
	}

	v, ok := ctx.GetUpstreamOutput("t1", "temperature")
	if !ok || v != 30.0 {
		t.Fatalf("expected upstream output 30.0, got %v (ok=%v)", v, ok)
	}

	state, ok := ctx.GetNodeState("t1")
	if !ok {
		t.Fatal("expected node state to exist")
	}
	if state.Result != result {
		t.Fatal("expected nodeStates[n].Result to be the same value as the recorded result")
	}
}

func TestResolveKeyPath(t *testing.T) {
	ctx := New("exec-1")
	ctx.UpdateNodeStatus("weather", workflow.NodeStatusSuccess, &workflow.NodeExecutionResult{
		Success: true,
		Output: map[string]any{
			"location": map[string]any{"city": "Paris"},
		},
	})

	v, ok := ctx.ResolveKeyPath("weather.location.city")
	if !ok || v != "Paris" {
		t.Fatalf("expected Paris, got %v (ok=%v)", v, ok)
	}

	if _, ok := ctx.ResolveKeyPath("weather.location.country"); ok {
		t.Fatal("expected unresolved path to return ok=false")
	}
	if _, ok := ctx.ResolveKeyPath("missingNode.foo"); ok {
		t.Fatal("expected missing node to return ok=false")
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	ctx := New("exec-1")
	ctx.SetGlobal("city", "Paris")
	ctx.UpdateNodeStatus("t1", workflow.NodeStatusSuccess, &workflow.NodeExecutionResult{Success: true})

	snap := ctx.Serialize()

	restored := New("exec-1")
	restored.Deserialize(snap)

	if !restored.IsNodeSuccess("t1") {
		t.Fatal("expected restored context to have t1 success")
	}
	v, ok := restored.GetGlobal("city")
	if !ok || v != "Paris" {
		t.Fatalf("expected restored global city=Paris, got %v (ok=%v)", v, ok)
	}
}

func TestGetAllNodeStatesIsDefensiveCopy(t *testing.T) {
	ctx := New("exec-1")
	ctx.UpdateNodeStatus("t1", workflow.NodeStatusSuccess, nil)

	states := ctx.GetAllNodeStates()
	states["t1"] = workflow.NodeState{NodeID: "t1", Status: workflow.NodeStatusFailed}

	if !ctx.IsNodeSuccess("t1") {
		t.Fatal("mutating the returned copy must not affect the context")
	}
}
