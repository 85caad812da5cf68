package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/synthos/orchestrator/internal/execctx"
	"github.com/synthos/orchestrator/internal/persistence"
	"github.com/synthos/orchestrator/internal/workflow"
)

// memStore is a minimal in-memory persistence.Store for executor tests.
type memStore struct {
	mu   sync.Mutex
	runs map[string]*workflow.Execution
}

func newMemStore() *memStore { return &memStore{runs: make(map[string]*workflow.Execution)} }

func (m *memStore) SaveWorkflow(context.Context, workflow.Definition) error { return nil }
func (m *memStore) GetWorkflow(context.Context, string) (*workflow.Definition, error) {
	return nil, persistence.ErrNotFound
}
func (m *memStore) ListWorkflows(context.Context) ([]workflow.Definition, error) { return nil, nil }
func (m *memStore) DeleteWorkflow(context.Context, string) error                 { return nil }

func (m *memStore) SaveExecution(_ context.Context, run *workflow.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	cp.NodeStates = make(map[string]workflow.NodeState, len(run.NodeStates))
	for k, v := range run.NodeStates {
		cp.NodeStates[k] = v
	}
	m.runs[run.ExecutionID] = &cp
	return nil
}

func (m *memStore) LoadExecution(_ context.Context, id string) (*workflow.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return run, nil
}

func (m *memStore) ListExecutions(context.Context, string, int) ([]*workflow.Execution, error) {
	return nil, nil
}
func (m *memStore) DeleteExecution(context.Context, string) error { return nil }

// fakeAdapter executes task nodes via one callback that receives the task
// type and how many times this node has been called.
type fakeAdapter struct {
	mu      sync.Mutex
	calls   map[string]int
	onTask  func(taskType string, calls int) (*workflow.NodeExecutionResult, error)
}

func newFakeAdapter(onTask func(taskType string, calls int) (*workflow.NodeExecutionResult, error)) *fakeAdapter {
	return &fakeAdapter{calls: make(map[string]int), onTask: onTask}
}

func (a *fakeAdapter) ExecuteTaskNode(_ context.Context, nodeID, taskType string, _ map[string]any, _ *execctx.Context) (*workflow.NodeExecutionResult, error) {
	a.mu.Lock()
	a.calls[nodeID]++
	n := a.calls[nodeID]
	a.mu.Unlock()
	return a.onTask(taskType, n)
}

func linearDefinition() workflow.Definition {
	return workflow.Definition{
		ID:   "wf-linear",
		Name: "linear",
		Nodes: []workflow.WorkflowNode{
			{ID: "start", Type: workflow.NodeStart},
			{ID: "t1", Type: workflow.NodeTask, Data: workflow.NodeData{TaskType: "noop"}},
			{ID: "end", Type: workflow.NodeEnd},
		},
		Edges: []workflow.WorkflowEdge{
			{ID: "e1", Source: "start", Target: "t1"},
			{ID: "e2", Source: "t1", Target: "end"},
		},
	}
}

func TestExecute_LinearSuccess(t *testing.T) {
	adapter := newFakeAdapter(func(string, int) (*workflow.NodeExecutionResult, error) {
		return &workflow.NodeExecutionResult{Success: true}, nil
	})
	store := newMemStore()
	ex := New("exec-1", "wf-linear", linearDefinition(), adapter, store, nil, nil)

	run, err := ex.Execute(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != workflow.RunSuccess {
		t.Fatalf("expected RunSuccess, got %v", run.Status)
	}
	for _, id := range []string{"start", "t1", "end"} {
		if run.NodeStates[id].Status != workflow.NodeStatusSuccess {
			t.Fatalf("expected %s success, got %v", id, run.NodeStates[id].Status)
		}
	}
}

func TestExecute_TaskFailureAbortsRunAndCancelsPending(t *testing.T) {
	adapter := newFakeAdapter(func(string, int) (*workflow.NodeExecutionResult, error) {
		return nil, fmt.Errorf("boom")
	})
	store := newMemStore()
	ex := New("exec-2", "wf-linear", linearDefinition(), adapter, store, nil, nil)

	run, err := ex.Execute(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != workflow.RunFailed {
		t.Fatalf("expected RunFailed, got %v", run.Status)
	}
	if run.NodeStates["t1"].Status != workflow.NodeStatusFailed {
		t.Fatalf("expected t1 failed, got %v", run.NodeStates["t1"].Status)
	}
	if run.NodeStates["end"].Status != workflow.NodeStatusCancelled {
		t.Fatalf("expected end cancelled, got %v", run.NodeStates["end"].Status)
	}
}

func TestExecute_SkipOnFailureContinuesRun(t *testing.T) {
	def := linearDefinition()
	def.Nodes[1].Data.SkipOnFailure = true
	adapter := newFakeAdapter(func(string, int) (*workflow.NodeExecutionResult, error) {
		return nil, fmt.Errorf("boom")
	})
	store := newMemStore()
	ex := New("exec-3", "wf-linear", def, adapter, store, nil, nil)

	run, err := ex.Execute(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != workflow.RunSuccess {
		t.Fatalf("expected RunSuccess despite skip, got %v", run.Status)
	}
	if run.NodeStates["t1"].Status != workflow.NodeStatusSkipped {
		t.Fatalf("expected t1 skipped, got %v", run.NodeStates["t1"].Status)
	}
	if run.NodeStates["end"].Status != workflow.NodeStatusSuccess {
		t.Fatalf("expected end to still run, got %v", run.NodeStates["end"].Status)
	}
}

func TestExecute_ConditionBranchSkipsUntakenPath(t *testing.T) {
	def := workflow.Definition{
		ID: "wf-cond",
		Nodes: []workflow.WorkflowNode{
			{ID: "start", Type: workflow.NodeStart},
			{ID: "cond", Type: workflow.NodeCondition, Data: workflow.NodeData{
				ConditionExpression: &workflow.ConditionExpression{Kind: workflow.ConditionPreviousNodeSuccess},
			}},
			{ID: "yes", Type: workflow.NodeTask, Data: workflow.NodeData{TaskType: "yesPath"}},
			{ID: "no", Type: workflow.NodeTask, Data: workflow.NodeData{TaskType: "noPath"}},
			{ID: "end", Type: workflow.NodeEnd},
		},
		Edges: []workflow.WorkflowEdge{
			{ID: "e1", Source: "start", Target: "cond"},
			{ID: "e2", Source: "cond", Target: "yes", SourceHandle: strPtr("true")},
			{ID: "e3", Source: "cond", Target: "no", SourceHandle: strPtr("false")},
			{ID: "e4", Source: "yes", Target: "end"},
			{ID: "e5", Source: "no", Target: "end"},
		},
	}
	adapter := newFakeAdapter(func(taskType string, _ int) (*workflow.NodeExecutionResult, error) {
		return &workflow.NodeExecutionResult{Success: true}, nil
	})
	store := newMemStore()
	ex := New("exec-4", "wf-cond", def, adapter, store, nil, nil)

	run, err := ex.Execute(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != workflow.RunSuccess {
		t.Fatalf("expected RunSuccess, got %v", run.Status)
	}
	if _, ok := run.NodeStates["no"]; ok {
		t.Fatalf("expected 'no' branch never dispatched, found state %v", run.NodeStates["no"])
	}
	if run.NodeStates["yes"].Status != workflow.NodeStatusSuccess {
		t.Fatalf("expected 'yes' branch to run, got %v", run.NodeStates["yes"].Status)
	}
	if run.NodeStates["end"].Status != workflow.NodeStatusSuccess {
		t.Fatalf("expected end success via taken branch, got %v", run.NodeStates["end"].Status)
	}
}

func TestExecute_ResumeSkipsAlreadyTerminalNodes(t *testing.T) {
	store := newMemStore()
	store.runs["exec-5"] = &workflow.Execution{
		ExecutionID: "exec-5",
		WorkflowID:  "wf-linear",
		Status:      workflow.RunRunning,
		NodeStates: map[string]workflow.NodeState{
			"start": {NodeID: "start", Status: workflow.NodeStatusSuccess, Result: &workflow.NodeExecutionResult{Success: true}},
			"t1":    {NodeID: "t1", Status: workflow.NodeStatusSuccess, Result: &workflow.NodeExecutionResult{Success: true}},
		},
	}

	calls := 0
	adapter := newFakeAdapter(func(string, int) (*workflow.NodeExecutionResult, error) {
		calls++
		return &workflow.NodeExecutionResult{Success: true}, nil
	})
	ex := New("exec-5", "wf-linear", linearDefinition(), adapter, store, nil, nil)

	run, err := ex.Execute(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != workflow.RunSuccess {
		t.Fatalf("expected RunSuccess, got %v", run.Status)
	}
	if calls != 0 {
		t.Fatalf("expected t1 not to be re-dispatched, adapter called %d times", calls)
	}
	if run.NodeStates["end"].Status != workflow.NodeStatusSuccess {
		t.Fatalf("expected end to run fresh, got %v", run.NodeStates["end"].Status)
	}
}

func strPtr(s string) *string { return &s }
