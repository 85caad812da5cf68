// Package persistence implements durable storage for workflow definitions
// and their executions.
package persistence

import (
	"context"
	"errors"

	"github.com/synthos/orchestrator/internal/workflow"
)

// ErrNotFound is returned by Load/Get operations when the requested row
// does not exist.
var ErrNotFound = errors.New("persistence: not found")

// Store is the durable store for workflow definitions and executions.
// Implementations must make SaveExecution atomic enough that a concurrent
// LoadExecution never observes a partially-updated run.
type Store interface {
	SaveWorkflow(ctx context.Context, def workflow.Definition) error
	GetWorkflow(ctx context.Context, workflowID string) (*workflow.Definition, error)
	ListWorkflows(ctx context.Context) ([]workflow.Definition, error)
	DeleteWorkflow(ctx context.Context, workflowID string) error

	SaveExecution(ctx context.Context, run *workflow.Execution) error
	LoadExecution(ctx context.Context, executionID string) (*workflow.Execution, error)
	ListExecutions(ctx context.Context, workflowID string, limit int) ([]*workflow.Execution, error)
	DeleteExecution(ctx context.Context, executionID string) error
}
