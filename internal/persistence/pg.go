package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/synthos/orchestrator/internal/workflow"
)

// DB abstracts the database operations the store needs. Satisfied by
// *pgxpool.Pool in production and pgxmock in tests.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// pgStore is the Postgres-backed Store. The two-table layout (execution
// headers plus per-node state rows) mirrors the shape of the data rather
// than a single flat record, so a concurrent reader never has to parse a
// partial write.
type pgStore struct {
	db DB
}

// NewPostgresStore wraps an existing pgxpool.Pool as a Store.
func NewPostgresStore(pool *pgxpool.Pool) (Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("persistence: db pool cannot be nil")
	}
	return &pgStore{db: pool}, nil
}

// --- workflow definitions ---

func (s *pgStore) SaveWorkflow(ctx context.Context, def workflow.Definition) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	blob, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal workflow definition: %w", err)
	}

	_, err = s.db.Exec(timeoutCtx, `
		INSERT INTO synthos_workflows (id, name, description, definition_blob, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			definition_blob = EXCLUDED.definition_blob,
			updated_at = now();`,
		def.ID, def.Name, def.Description, blob)
	if err != nil {
		return fmt.Errorf("upsert workflow %s: %w", def.ID, err)
	}
	return nil
}

func (s *pgStore) GetWorkflow(ctx context.Context, workflowID string) (*workflow.Definition, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var blob []byte
	err := s.db.QueryRow(timeoutCtx, `
		SELECT definition_blob FROM synthos_workflows WHERE id = $1`, workflowID).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", workflowID, err)
	}
	var def workflow.Definition
	if err := json.Unmarshal(blob, &def); err != nil {
		return nil, fmt.Errorf("unmarshal workflow %s: %w", workflowID, err)
	}
	return &def, nil
}

func (s *pgStore) ListWorkflows(ctx context.Context) ([]workflow.Definition, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.Query(timeoutCtx, `
		SELECT definition_blob FROM synthos_workflows ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []workflow.Definition
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan workflow row: %w", err)
		}
		var def workflow.Definition
		if err := json.Unmarshal(blob, &def); err != nil {
			return nil, fmt.Errorf("unmarshal workflow row: %w", err)
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func (s *pgStore) DeleteWorkflow(ctx context.Context, workflowID string) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := s.db.Exec(timeoutCtx, `DELETE FROM synthos_workflows WHERE id = $1`, workflowID)
	if err != nil {
		return fmt.Errorf("delete workflow %s: %w", workflowID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- executions ---

// SaveExecution upserts the execution header and every node state inside a
// single transaction, so a concurrent LoadExecution never observes a
// partially written run.
func (s *pgStore) SaveExecution(ctx context.Context, run *workflow.Execution) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(timeoutCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction for save execution: %w", err)
	}
	defer tx.Rollback(timeoutCtx)

	snapshotBlob, err := json.Marshal(run.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal execution snapshot: %w", err)
	}

	_, err = tx.Exec(timeoutCtx, `
		INSERT INTO synthos_workflow_executions (execution_id, workflow_id, status, started_at, completed_at, snapshot_blob, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (execution_id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			updated_at = now();`,
		run.ExecutionID, run.WorkflowID, string(run.Status), msToTime(run.StartedAt), msToTimePtr(run.CompletedAt), snapshotBlob)
	if err != nil {
		return fmt.Errorf("upsert execution header %s: %w", run.ExecutionID, err)
	}

	for nodeID, state := range run.NodeStates {
		resultBlob, err := workflow.MarshalResult(state.Result)
		if err != nil {
			return fmt.Errorf("marshal node result %s/%s: %w", run.ExecutionID, nodeID, err)
		}
		_, err = tx.Exec(timeoutCtx, `
			INSERT INTO synthos_execution_node_states (execution_id, node_id, status, result_blob, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
			ON CONFLICT (execution_id, node_id) DO UPDATE SET
				status = EXCLUDED.status,
				result_blob = EXCLUDED.result_blob,
				updated_at = now();`,
			run.ExecutionID, nodeID, string(state.Status), resultBlob)
		if err != nil {
			return fmt.Errorf("upsert node state %s/%s: %w", run.ExecutionID, nodeID, err)
		}
	}

	return tx.Commit(timeoutCtx)
}

func (s *pgStore) LoadExecution(ctx context.Context, executionID string) (*workflow.Execution, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(timeoutCtx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin transaction for load execution: %w", err)
	}
	defer tx.Rollback(timeoutCtx)

	run, err := scanExecutionHeader(timeoutCtx, tx, executionID)
	if err != nil {
		return nil, err
	}

	states, err := scanNodeStates(timeoutCtx, tx, executionID)
	if err != nil {
		return nil, err
	}
	run.NodeStates = states

	return run, tx.Commit(timeoutCtx)
}

func (s *pgStore) ListExecutions(ctx context.Context, workflowID string, limit int) ([]*workflow.Execution, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(timeoutCtx, `
		SELECT execution_id, workflow_id, status, started_at, completed_at, snapshot_blob
		FROM synthos_workflow_executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC
		LIMIT $2`, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions for %s: %w", workflowID, err)
	}
	defer rows.Close()

	var headers []*workflow.Execution
	for rows.Next() {
		run, err := scanExecutionRow(rows)
		if err != nil {
			return nil, err
		}
		headers = append(headers, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, run := range headers {
		states, err := scanNodeStates(timeoutCtx, s.db, run.ExecutionID)
		if err != nil {
			return nil, err
		}
		run.NodeStates = states
	}
	return headers, nil
}

func (s *pgStore) DeleteExecution(ctx context.Context, executionID string) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(timeoutCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction for delete execution: %w", err)
	}
	defer tx.Rollback(timeoutCtx)

	_, err = tx.Exec(timeoutCtx, `DELETE FROM synthos_execution_node_states WHERE execution_id = $1`, executionID)
	if err != nil {
		return fmt.Errorf("cascade delete node states for %s: %w", executionID, err)
	}

	tag, err := tx.Exec(timeoutCtx, `DELETE FROM synthos_workflow_executions WHERE execution_id = $1`, executionID)
	if err != nil {
		return fmt.Errorf("delete execution header %s: %w", executionID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(timeoutCtx)
}

// querier is satisfied by both pgx.Tx and DB, so node-state hydration can
// run inside or outside an explicit transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanExecutionHeader(ctx context.Context, q querier, executionID string) (*workflow.Execution, error) {
	var (
		run          workflow.Execution
		startedAt    time.Time
		completedAt  *time.Time
		snapshotBlob []byte
	)
	err := q.QueryRow(ctx, `
		SELECT execution_id, workflow_id, status, started_at, completed_at, snapshot_blob
		FROM synthos_workflow_executions WHERE execution_id = $1`, executionID).
		Scan(&run.ExecutionID, &run.WorkflowID, &run.Status, &startedAt, &completedAt, &snapshotBlob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load execution header %s: %w", executionID, err)
	}
	run.StartedAt = startedAt.UnixMilli()
	if completedAt != nil {
		ms := completedAt.UnixMilli()
		run.CompletedAt = &ms
	}
	if err := json.Unmarshal(snapshotBlob, &run.Snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal execution snapshot %s: %w", executionID, err)
	}
	return &run, nil
}

func scanExecutionRow(rows pgx.Rows) (*workflow.Execution, error) {
	var (
		run          workflow.Execution
		startedAt    time.Time
		completedAt  *time.Time
		snapshotBlob []byte
	)
	if err := rows.Scan(&run.ExecutionID, &run.WorkflowID, &run.Status, &startedAt, &completedAt, &snapshotBlob); err != nil {
		return nil, fmt.Errorf("scan execution row: %w", err)
	}
	run.StartedAt = startedAt.UnixMilli()
	if completedAt != nil {
		ms := completedAt.UnixMilli()
		run.CompletedAt = &ms
	}
	if err := json.Unmarshal(snapshotBlob, &run.Snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal execution snapshot row: %w", err)
	}
	return &run, nil
}

func scanNodeStates(ctx context.Context, q querier, executionID string) (map[string]workflow.NodeState, error) {
	rows, err := q.Query(ctx, `
		SELECT node_id, status, result_blob
		FROM synthos_execution_node_states WHERE execution_id = $1`, executionID)
	if err != nil {
		return nil, fmt.Errorf("load node states for %s: %w", executionID, err)
	}
	defer rows.Close()

	states := make(map[string]workflow.NodeState)
	for rows.Next() {
		var (
			nodeID     string
			status     workflow.NodeStatus
			resultBlob []byte
		)
		if err := rows.Scan(&nodeID, &status, &resultBlob); err != nil {
			return nil, fmt.Errorf("scan node state row for %s: %w", executionID, err)
		}
		result, err := workflow.UnmarshalResult(resultBlob)
		if err != nil {
			return nil, fmt.Errorf("unmarshal node result %s/%s: %w", executionID, nodeID, err)
		}
		states[nodeID] = workflow.NodeState{NodeID: nodeID, Status: status, Result: result}
	}
	return states, rows.Err()
}

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func msToTimePtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := msToTime(*ms)
	return &t
}
