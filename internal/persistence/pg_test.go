package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/synthos/orchestrator/internal/workflow"
)

func newMockStore(t *testing.T) (*pgStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return &pgStore{db: mock}, mock
}

func TestSaveExecution_UpsertsHeaderThenNodeStates(t *testing.T) {
	store, mock := newMockStore(t)

	run := &workflow.Execution{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		Status:      workflow.RunRunning,
		StartedAt:   time.Now().UnixMilli(),
		Snapshot:    workflow.Definition{ID: "wf-1", Name: "demo"},
		NodeStates: map[string]workflow.NodeState{
			"start": {NodeID: "start", Status: workflow.NodeStatusSuccess, Result: &workflow.NodeExecutionResult{Success: true}},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO synthos_workflow_executions").
		WithArgs(run.ExecutionID, run.WorkflowID, string(run.Status), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO synthos_execution_node_states").
		WithArgs(run.ExecutionID, "start", string(workflow.NodeStatusSuccess), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	if err := store.SaveExecution(context.Background(), run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSaveExecution_RollsBackOnNodeStateFailure(t *testing.T) {
	store, mock := newMockStore(t)

	run := &workflow.Execution{
		ExecutionID: "exec-2",
		WorkflowID:  "wf-1",
		Status:      workflow.RunFailed,
		StartedAt:   time.Now().UnixMilli(),
		Snapshot:    workflow.Definition{ID: "wf-1"},
		NodeStates: map[string]workflow.NodeState{
			"t1": {NodeID: "t1", Status: workflow.NodeStatusFailed},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO synthos_workflow_executions").
		WithArgs(run.ExecutionID, run.WorkflowID, string(run.Status), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO synthos_execution_node_states").
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	if err := store.SaveExecution(context.Background(), run); err == nil {
		t.Fatal("expected error from node state upsert")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLoadExecution_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT execution_id, workflow_id, status").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.LoadExecution(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected an error for a missing execution")
	}
}
