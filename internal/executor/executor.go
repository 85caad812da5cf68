package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/synthos/orchestrator/internal/condition"
	"github.com/synthos/orchestrator/internal/execctx"
	"github.com/synthos/orchestrator/internal/graph"
	"github.com/synthos/orchestrator/internal/persistence"
	"github.com/synthos/orchestrator/internal/strategy"
	"github.com/synthos/orchestrator/internal/telemetry"
	"github.com/synthos/orchestrator/internal/workflow"
)

var tracer = telemetry.Tracer("internal/executor")

// incomingEdge is the minimal shape the executor needs per predecessor
// edge: which node feeds this one, and (for a condition source) which
// branch the edge represents.
type incomingEdge struct {
	source       string
	sourceHandle *string
}

// Executor drives one run of a Definition snapshot, layer by layer, to a
// terminal status.
type Executor struct {
	executionID string
	workflowID  string
	snapshot    workflow.Definition
	adapter     Adapter
	store       persistence.Store
	publisher   Publisher
	metrics     *telemetry.Metrics

	runMu sync.Mutex
}

// New constructs an Executor for a fresh or resumable run. publisher may
// be nil, in which case events are discarded. metrics may be nil, in
// which case metrics recording is skipped.
func New(executionID, workflowID string, snapshot workflow.Definition, adapter Adapter, store persistence.Store, publisher Publisher, metrics *telemetry.Metrics) *Executor {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Executor{
		executionID: executionID,
		workflowID:  workflowID,
		snapshot:    snapshot,
		adapter:     adapter,
		store:       store,
		publisher:   publisher,
		metrics:     metrics,
	}
}

// Execute runs the workflow to completion (or to a fatal abort) and
// returns the final Execution header. When resume is true, prior node
// states are loaded from persistence: terminal success/skipped nodes are
// treated as already done; a prior failed node is retried from scratch,
// since it never reached a status worth preserving across a retry.
func (e *Executor) Execute(ctx context.Context, resume bool) (*workflow.Execution, error) {
	run := &workflow.Execution{
		ExecutionID: e.executionID,
		WorkflowID:  e.workflowID,
		Status:      workflow.RunPending,
		StartedAt:   workflow.NowMillis(),
		NodeStates:  make(map[string]workflow.NodeState),
		Snapshot:    e.snapshot,
	}

	plan, planErr := graph.Parse(e.snapshot)
	if planErr != nil {
		return e.abortOnParseFailure(ctx, run, planErr)
	}

	execCtx := execctx.New(e.executionID)
	if resume {
		e.rehydrate(ctx, execCtx, run)
	}

	nodeByID, incoming := e.buildIndices()

	run.Status = workflow.RunRunning
	e.persist(ctx, run)
	e.publish(Event{Type: EventExecutionStarted, ExecutionID: e.executionID, Timestamp: workflow.NowMillis()})

	notReached := make(map[string]bool)
	fatal := false
	cancelled := false

	for _, layer := range plan.Layers {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		dispatchable := e.filterLayer(layer, execCtx, incoming, nodeByID, notReached)
		if len(dispatchable) == 0 {
			continue
		}

		var wg sync.WaitGroup
		for _, nodeID := range dispatchable {
			wg.Add(1)
			go func(nodeID string) {
				defer wg.Done()
				e.runNode(ctx, nodeID, nodeByID[nodeID], incoming[nodeID], execCtx, run)
			}(nodeID)
		}
		wg.Wait()

		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if e.anyFatalFailure(dispatchable, execCtx) {
			fatal = true
			break
		}
	}

	completed := workflow.NowMillis()
	run.CompletedAt = &completed

	// The event stream has no dedicated "cancelled" variant, so a
	// best-effort cancellation still reports executionFailed there; the
	// persisted header carries the more specific "cancelled" status.
	if cancelled {
		e.cancelPending(context.Background(), e.snapshot.Nodes, execCtx, notReached, run)
		run.Status = workflow.RunCancelled
		e.persist(context.Background(), run)
		e.publish(Event{Type: EventExecutionFailed, ExecutionID: e.executionID, Timestamp: completed})
		return run, nil
	}

	if fatal {
		e.cancelPending(ctx, e.snapshot.Nodes, execCtx, notReached, run)
		run.Status = workflow.RunFailed
		e.persist(ctx, run)
		e.publish(Event{Type: EventExecutionFailed, ExecutionID: e.executionID, Timestamp: completed})
		return run, nil
	}

	run.Status = workflow.RunSuccess
	e.persist(ctx, run)
	e.publish(Event{Type: EventExecutionCompleted, ExecutionID: e.executionID, Timestamp: completed})
	return run, nil
}

func (e *Executor) abortOnParseFailure(ctx context.Context, run *workflow.Execution, planErr error) (*workflow.Execution, error) {
	msg := planErr.Error()
	completed := workflow.NowMillis()
	run.Status = workflow.RunFailed
	run.CompletedAt = &completed
	run.Error = &msg
	e.persist(ctx, run)
	e.publish(Event{Type: EventExecutionFailed, ExecutionID: e.executionID, Timestamp: completed})
	return run, fmt.Errorf("workflow validation failed: %w", planErr)
}

func (e *Executor) rehydrate(ctx context.Context, execCtx *execctx.Context, run *workflow.Execution) {
	prior, err := e.store.LoadExecution(ctx, e.executionID)
	if err != nil {
		slog.Warn("resume requested but no prior execution found", "executionId", e.executionID, "error", err)
		return
	}
	for nodeID, state := range prior.NodeStates {
		if state.Status != workflow.NodeStatusSuccess && state.Status != workflow.NodeStatusSkipped {
			continue // failed/cancelled/running nodes are retried from scratch
		}
		execCtx.UpdateNodeStatus(nodeID, state.Status, state.Result)
		run.NodeStates[nodeID] = state
	}
}

func (e *Executor) buildIndices() (map[string]workflow.WorkflowNode, map[string][]incomingEdge) {
	nodeByID := make(map[string]workflow.WorkflowNode, len(e.snapshot.Nodes))
	for _, n := range e.snapshot.Nodes {
		nodeByID[n.ID] = n
	}
	incoming := make(map[string][]incomingEdge, len(e.snapshot.Nodes))
	for _, edge := range e.snapshot.Edges {
		incoming[edge.Target] = append(incoming[edge.Target], incomingEdge{source: edge.Source, sourceHandle: edge.SourceHandle})
	}
	return nodeByID, incoming
}

// filterLayer returns, in layer order, the node ids that should actually
// be dispatched this pass: not already terminal (resume), and reachable
// given any upstream condition branch decisions. Unreachable nodes are
// recorded in notReached and never get a nodeStarted event — they are
// simply never visited, the same way a single-path walk would skip them.
func (e *Executor) filterLayer(layer []string, execCtx *execctx.Context, incoming map[string][]incomingEdge, nodeByID map[string]workflow.WorkflowNode, notReached map[string]bool) []string {
	var dispatchable []string
	for _, id := range layer {
		if execCtx.IsNodeCompleted(id) {
			continue
		}
		if isNotReached(id, incoming[id], nodeByID, notReached, execCtx) {
			notReached[id] = true
			continue
		}
		dispatchable = append(dispatchable, id)
	}
	return dispatchable
}

// isNotReached reports whether every incoming edge to id is either fed by
// an already-unreachable node, or is a condition branch edge whose branch
// was not taken. Because layers are processed in topological order, every
// predecessor referenced here has already been classified (dispatched to
// a terminal status, or marked notReached) by the time id is evaluated.
func isNotReached(id string, preds []incomingEdge, nodeByID map[string]workflow.WorkflowNode, notReached map[string]bool, execCtx *execctx.Context) bool {
	if len(preds) == 0 {
		return false // start node
	}
	for _, p := range preds {
		if notReached[p.source] {
			continue
		}
		srcNode, ok := nodeByID[p.source]
		if ok && srcNode.Type == workflow.NodeCondition && p.sourceHandle != nil {
			if conditionBranchTaken(execCtx, p.source, *p.sourceHandle) {
				return false
			}
			continue
		}
		return false // a live, unconditional (or untagged) predecessor reaches id
	}
	return true
}

func conditionBranchTaken(execCtx *execctx.Context, condNodeID, handle string) bool {
	state, ok := execCtx.GetNodeState(condNodeID)
	if !ok || state.Result == nil {
		return false
	}
	result, _ := state.Result.Output["conditionResult"].(bool)
	branch := "false"
	if result {
		branch = "true"
	}
	return branch == handle
}

// runNode executes a single node to a terminal status, updating execCtx
// and the run's persisted state, and emitting nodeStarted followed by
// exactly one of nodeCompleted/nodeFailed.
func (e *Executor) runNode(ctx context.Context, nodeID string, node workflow.WorkflowNode, preds []incomingEdge, execCtx *execctx.Context, run *workflow.Execution) {
	ctx, span := tracer.Start(ctx, "workflow.node", trace.WithAttributes(
		attribute.String("node.id", nodeID),
		attribute.String("node.type", string(node.Type)),
	))
	defer span.End()

	startedAt := workflow.NowMillis()
	execCtx.UpdateNodeStatus(nodeID, workflow.NodeStatusRunning, nil)
	e.persistNodeState(ctx, run, nodeID, workflow.NodeStatusRunning, nil)
	e.publish(Event{Type: EventNodeStarted, ExecutionID: e.executionID, NodeID: nodeID, Timestamp: startedAt})
	if e.metrics != nil {
		e.metrics.NodeStarted()
	}

	result, err := e.execute(ctx, node, preds, execCtx)

	status := workflow.NodeStatusSuccess
	if err != nil {
		status = classifyFailureStatus(node, err)
		if result == nil {
			now := workflow.NowMillis()
			result = &workflow.NodeExecutionResult{Success: false, Error: err.Error(), StartedAt: startedAt, CompletedAt: now}
		}
	} else if !result.Success {
		status = classifyFailureStatus(node, fmt.Errorf("%s", result.Error))
	}

	execCtx.UpdateNodeStatus(nodeID, status, result)
	e.persistNodeState(ctx, run, nodeID, status, result)

	completedAt := workflow.NowMillis()
	if e.metrics != nil {
		e.metrics.NodeFinished(string(node.Type), string(status), float64(completedAt-startedAt))
	}

	if status == workflow.NodeStatusFailed {
		span.SetStatus(codes.Error, result.Error)
		e.publish(Event{Type: EventNodeFailed, ExecutionID: e.executionID, NodeID: nodeID, Timestamp: completedAt, NodeState: &workflow.NodeState{NodeID: nodeID, Status: status, Result: result}})
		return
	}
	e.publish(Event{Type: EventNodeCompleted, ExecutionID: e.executionID, NodeID: nodeID, Timestamp: completedAt, NodeState: &workflow.NodeState{NodeID: nodeID, Status: status, Result: result}})
}

// classifyFailureStatus turns an unsuccessful outcome into "skipped" when
// the node's policy tolerates it, or "failed" otherwise. runNode applies it
// to every unsuccessful outcome of every node kind, including the
// synthetic failed result strategy.Run returns when it skips a node.
func classifyFailureStatus(node workflow.WorkflowNode, _ error) workflow.NodeStatus {
	if node.Data.SkipOnFailure {
		return workflow.NodeStatusSkipped
	}
	return workflow.NodeStatusFailed
}

// execute dispatches a single node by type. Synthetic node kinds
// (start/end/parallel) always succeed; task/script/http go through
// internal/strategy for retry/timeout/skip handling; condition nodes run
// the pure evaluator.
func (e *Executor) execute(ctx context.Context, node workflow.WorkflowNode, preds []incomingEdge, execCtx *execctx.Context) (*workflow.NodeExecutionResult, error) {
	switch node.Type {
	case workflow.NodeStart, workflow.NodeEnd, workflow.NodeParallel:
		now := workflow.NowMillis()
		return &workflow.NodeExecutionResult{Success: true, StartedAt: now, CompletedAt: now}, nil

	case workflow.NodeCondition:
		return e.executeCondition(node, preds, execCtx)

	case workflow.NodeTask:
		cfg := e.strategyConfig(node)
		return strategy.Run(ctx, cfg, func(attemptCtx context.Context) (*workflow.NodeExecutionResult, error) {
			return e.adapter.ExecuteTaskNode(attemptCtx, node.ID, node.Data.TaskType, node.Data.Params, execCtx)
		})

	case workflow.NodeScript:
		scriptAdapter, ok := e.adapter.(ScriptAdapter)
		if !ok {
			return nil, fmt.Errorf("node %q: %w", node.ID, ErrUnsupportedNodeKind)
		}
		cfg := e.strategyConfig(node)
		return strategy.Run(ctx, cfg, func(attemptCtx context.Context) (*workflow.NodeExecutionResult, error) {
			return scriptAdapter.ExecuteScriptNode(attemptCtx, node.ID, node.Data.ScriptCode, execCtx)
		})

	case workflow.NodeHTTP:
		httpAdapter, ok := e.adapter.(HTTPAdapter)
		if !ok {
			return nil, fmt.Errorf("node %q: %w", node.ID, ErrUnsupportedNodeKind)
		}
		if node.Data.HTTPConfig == nil {
			return nil, fmt.Errorf("node %q: http node missing httpConfig", node.ID)
		}
		cfg := e.strategyConfig(node)
		return strategy.Run(ctx, cfg, func(attemptCtx context.Context) (*workflow.NodeExecutionResult, error) {
			return httpAdapter.ExecuteHTTPNode(attemptCtx, node.ID, *node.Data.HTTPConfig, execCtx)
		})

	default:
		return nil, fmt.Errorf("node %q: unrecognized node type %q", node.ID, node.Type)
	}
}

func (e *Executor) executeCondition(node workflow.WorkflowNode, preds []incomingEdge, execCtx *execctx.Context) (*workflow.NodeExecutionResult, error) {
	if node.Data.ConditionExpression == nil {
		return nil, fmt.Errorf("node %q: condition node missing conditionExpression", node.ID)
	}
	sourceNodeID := ""
	if len(preds) > 0 {
		sourceNodeID = preds[0].source
	}
	now := workflow.NowMillis()
	branchResult := condition.Evaluate(*node.Data.ConditionExpression, sourceNodeID, execCtx)
	return &workflow.NodeExecutionResult{
		Success:     true,
		Output:      map[string]any{"conditionResult": branchResult},
		StartedAt:   now,
		CompletedAt: now,
	}, nil
}

func (e *Executor) strategyConfig(node workflow.WorkflowNode) strategy.Config {
	return strategy.Config{
		NodeID:        node.ID,
		NodeType:      string(node.Type),
		RetryCount:    node.Data.RetryCount,
		TimeoutMs:     node.Data.TimeoutMs,
		SkipOnFailure: node.Data.SkipOnFailure,
		Metrics:       e.metrics,
	}
}

// anyFatalFailure reports whether any node dispatched this layer ended up
// "failed" (as opposed to "skipped", which the run tolerates).
func (e *Executor) anyFatalFailure(dispatched []string, execCtx *execctx.Context) bool {
	for _, id := range dispatched {
		if execCtx.IsNodeFailed(id) {
			return true
		}
	}
	return false
}

// cancelPending marks every node that never reached a terminal status
// (and was not structurally unreachable via a condition branch) as
// cancelled.
func (e *Executor) cancelPending(ctx context.Context, nodes []workflow.WorkflowNode, execCtx *execctx.Context, notReached map[string]bool, run *workflow.Execution) {
	now := workflow.NowMillis()
	for _, n := range nodes {
		if notReached[n.ID] || execCtx.IsNodeCompleted(n.ID) {
			continue
		}
		result := &workflow.NodeExecutionResult{Success: false, Error: "execution aborted", StartedAt: now, CompletedAt: now}
		execCtx.UpdateNodeStatus(n.ID, workflow.NodeStatusCancelled, result)
		e.persistNodeState(ctx, run, n.ID, workflow.NodeStatusCancelled, result)
	}
}

func (e *Executor) persist(ctx context.Context, run *workflow.Execution) {
	if e.store == nil {
		return
	}
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if err := e.store.SaveExecution(ctx, run); err != nil {
		slog.Error("failed to persist execution", "executionId", e.executionID, "error", err)
	}
}

func (e *Executor) persistNodeState(ctx context.Context, run *workflow.Execution, nodeID string, status workflow.NodeStatus, result *workflow.NodeExecutionResult) {
	e.runMu.Lock()
	run.NodeStates[nodeID] = workflow.NodeState{NodeID: nodeID, Status: status, Result: result}
	e.runMu.Unlock()
	e.persist(ctx, run)
}

func (e *Executor) publish(ev Event) {
	e.publisher.Publish(ev)
}
