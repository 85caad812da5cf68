// Package orchestrator is the external RPC surface over the workflow
// executor, persistence, and the registry of currently live runs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/synthos/orchestrator/internal/executor"
	"github.com/synthos/orchestrator/internal/graph"
	"github.com/synthos/orchestrator/internal/persistence"
	"github.com/synthos/orchestrator/internal/telemetry"
	"github.com/synthos/orchestrator/internal/workflow"
)

// ErrNotFound is returned when a requested workflow or execution does not exist.
var ErrNotFound = errors.New("orchestrator: not found")

// WorkflowSummary is one listWorkflows row.
type WorkflowSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// TriggerResult is triggerWorkflow's response shape.
type TriggerResult struct {
	Success     bool   `json:"success"`
	ExecutionID string `json:"executionId,omitempty"`
	Message     string `json:"message"`
}

// ActionResult is the common {success, message} shape cancelExecution and
// retryExecution (partially) share.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// RetryResult is retryExecution's response shape.
type RetryResult struct {
	Success        bool   `json:"success"`
	NewExecutionID string `json:"newExecutionId,omitempty"`
	Message        string `json:"message"`
}

// Progress summarizes node-state counts for listExecutions.
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Running   int `json:"running"`
}

// ExecutionSummary is one listExecutions row.
type ExecutionSummary struct {
	ExecutionID string            `json:"executionId"`
	WorkflowID  string            `json:"workflowId"`
	Status      workflow.RunStatus `json:"status"`
	StartedAt   int64             `json:"startedAt"`
	CompletedAt *int64            `json:"completedAt,omitempty"`
	Progress    Progress          `json:"progress"`
}

// ExecutionDetail is getExecution's response shape.
type ExecutionDetail struct {
	Header     *workflow.Execution          `json:"header"`
	NodeStates map[string]workflow.NodeState `json:"nodeStates"`
	Snapshot   workflow.Definition          `json:"snapshot"`
}

// liveRun tracks one in-flight executor: its cancellation and the set of
// subscribers currently consuming its event stream.
type liveRun struct {
	cancel context.CancelFunc

	mu      sync.Mutex
	nextSub int
	subs    map[int]chan executor.Event
}

func newLiveRun(cancel context.CancelFunc) *liveRun {
	return &liveRun{cancel: cancel, subs: make(map[int]chan executor.Event)}
}

func (l *liveRun) subscribe() (int, chan executor.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextSub
	l.nextSub++
	ch := make(chan executor.Event, 32)
	l.subs[id] = ch
	return id, ch
}

func (l *liveRun) unsubscribe(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok := l.subs[id]; ok {
		delete(l.subs, id)
		close(ch)
	}
}

func (l *liveRun) fanOut(ev executor.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (l *liveRun) closeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}
}

// Service is the Orchestrator Service.
type Service struct {
	store   persistence.Store
	adapter executor.Adapter
	metrics *telemetry.Metrics

	mu   sync.Mutex
	live map[string]*liveRun
}

// New constructs a Service. metrics may be nil, in which case metrics
// recording is skipped.
func New(store persistence.Store, adapter executor.Adapter, metrics *telemetry.Metrics) *Service {
	return &Service{store: store, adapter: adapter, metrics: metrics, live: make(map[string]*liveRun)}
}

func (s *Service) ListWorkflows(ctx context.Context) ([]WorkflowSummary, error) {
	defs, err := s.store.ListWorkflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	out := make([]WorkflowSummary, 0, len(defs))
	for _, d := range defs {
		out = append(out, WorkflowSummary{ID: d.ID, Name: d.Name, Description: d.Description})
	}
	return out, nil
}

func (s *Service) GetWorkflow(ctx context.Context, id string) (*workflow.Definition, error) {
	def, err := s.store.GetWorkflow(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	return def, nil
}

// TriggerWorkflow validates the workflow synchronously (so an invalid
// graph is reported as an RPC error immediately) and then spawns the run
// asynchronously, returning once it is scheduled.
func (s *Service) TriggerWorkflow(ctx context.Context, workflowID string) (TriggerResult, error) {
	def, err := s.store.GetWorkflow(ctx, workflowID)
	if errors.Is(err, persistence.ErrNotFound) {
		return TriggerResult{}, ErrNotFound
	}
	if err != nil {
		return TriggerResult{}, fmt.Errorf("trigger workflow %s: %w", workflowID, err)
	}

	if _, err := graph.Parse(*def); err != nil {
		return TriggerResult{Success: false, Message: err.Error()}, nil
	}

	executionID := uuid.NewString()
	s.spawn(executionID, workflowID, *def, false)
	return TriggerResult{Success: true, ExecutionID: executionID, Message: "scheduled"}, nil
}

// CancelExecution is best-effort: it cancels the run's context if it is
// still live; a run that has already reached a terminal status is a no-op.
func (s *Service) CancelExecution(_ context.Context, executionID string) (ActionResult, error) {
	s.mu.Lock()
	run, ok := s.live[executionID]
	s.mu.Unlock()
	if !ok {
		return ActionResult{Success: false, Message: "execution is not running"}, nil
	}
	run.cancel()
	return ActionResult{Success: true, Message: "cancellation requested"}, nil
}

// RetryExecution loads a saved run, constructs a new executor with a new
// executionId against the saved snapshot, and resumes it.
func (s *Service) RetryExecution(ctx context.Context, executionID string) (RetryResult, error) {
	saved, err := s.store.LoadExecution(ctx, executionID)
	if errors.Is(err, persistence.ErrNotFound) {
		return RetryResult{}, ErrNotFound
	}
	if err != nil {
		return RetryResult{}, fmt.Errorf("load execution %s for retry: %w", executionID, err)
	}

	newID := uuid.NewString()
	retryRun := &workflow.Execution{
		ExecutionID: newID,
		WorkflowID:  saved.WorkflowID,
		Status:      workflow.RunPending,
		NodeStates:  saved.NodeStates,
		Snapshot:    saved.Snapshot,
	}
	if err := s.store.SaveExecution(ctx, retryRun); err != nil {
		return RetryResult{}, fmt.Errorf("seed retry execution %s: %w", newID, err)
	}

	s.spawn(newID, saved.WorkflowID, saved.Snapshot, true)
	return RetryResult{Success: true, NewExecutionID: newID, Message: "retry scheduled"}, nil
}

func (s *Service) ListExecutions(ctx context.Context, workflowID string, limit int) ([]ExecutionSummary, error) {
	runs, err := s.store.ListExecutions(ctx, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions for %s: %w", workflowID, err)
	}
	out := make([]ExecutionSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, ExecutionSummary{
			ExecutionID: run.ExecutionID,
			WorkflowID:  run.WorkflowID,
			Status:      run.Status,
			StartedAt:   run.StartedAt,
			CompletedAt: run.CompletedAt,
			Progress:    summarizeProgress(run),
		})
	}
	return out, nil
}

func (s *Service) GetExecution(ctx context.Context, executionID string) (*ExecutionDetail, error) {
	run, err := s.store.LoadExecution(ctx, executionID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", executionID, err)
	}
	return &ExecutionDetail{Header: run, NodeStates: run.NodeStates, Snapshot: run.Snapshot}, nil
}

// OnExecutionUpdate subscribes to a live run's event stream. If the run is
// not live (already terminal, or unknown), it returns a closed channel:
// callers should fall back to GetExecution for the final state.
func (s *Service) OnExecutionUpdate(executionID string) (<-chan executor.Event, func()) {
	s.mu.Lock()
	run, ok := s.live[executionID]
	s.mu.Unlock()
	if !ok {
		closed := make(chan executor.Event)
		close(closed)
		return closed, func() {}
	}
	id, ch := run.subscribe()
	return ch, func() { run.unsubscribe(id) }
}

func (s *Service) spawn(executionID, workflowID string, def workflow.Definition, resume bool) {
	runCtx, cancel := context.WithCancel(context.Background())
	live := newLiveRun(cancel)

	s.mu.Lock()
	s.live[executionID] = live
	s.mu.Unlock()

	publisher := executor.PublisherFunc(func(ev executor.Event) {
		live.fanOut(ev)
	})

	ex := executor.New(executionID, workflowID, def, s.adapter, s.store, publisher, s.metrics)

	go func() {
		if s.metrics != nil {
			s.metrics.ExecutionStarted()
		}
		run, err := ex.Execute(runCtx, resume)
		if err != nil {
			slog.Error("execution ended with error", "executionId", executionID, "error", err)
		}
		if s.metrics != nil && run != nil {
			s.metrics.ExecutionFinished(string(run.Status))
		}

		s.mu.Lock()
		delete(s.live, executionID)
		s.mu.Unlock()
		live.closeAll()
	}()
}

func summarizeProgress(run *workflow.Execution) Progress {
	p := Progress{Total: len(run.Snapshot.Nodes)}
	for _, state := range run.NodeStates {
		switch state.Status {
		case workflow.NodeStatusSuccess, workflow.NodeStatusSkipped, workflow.NodeStatusCancelled:
			p.Completed++
		case workflow.NodeStatusFailed:
			p.Failed++
		case workflow.NodeStatusRunning:
			p.Running++
		}
	}
	return p
}
