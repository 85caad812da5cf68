// Package workflow holds the shared data model for workflow definitions,
// their nodes and edges, and the runs (executions) produced from them.
package workflow

import (
	"encoding/json"
	"time"
)

// NodeType enumerates the recognized node kinds in a workflow definition.
type NodeType string

const (
	NodeStart     NodeType = "start"
	NodeEnd       NodeType = "end"
	NodeTask      NodeType = "task"
	NodeCondition NodeType = "condition"
	NodeParallel  NodeType = "parallel"
	NodeScript    NodeType = "script"
	NodeHTTP      NodeType = "http"
)

// ConditionKind enumerates the variants a ConditionExpression may take.
type ConditionKind string

const (
	ConditionPreviousNodeSuccess ConditionKind = "previousNodeSuccess"
	ConditionPreviousNodeFailed  ConditionKind = "previousNodeFailed"
	ConditionKeyValueMatch       ConditionKind = "keyValueMatch"
	ConditionCustomExpression    ConditionKind = "customExpression"
)

// ConditionExpression is the tagged-union condition a `condition` node
// evaluates. Only one of the kind-specific fields is meaningful for a
// given Kind.
type ConditionExpression struct {
	Kind ConditionKind `json:"kind"`

	// KeyValueMatch fields.
	KeyPath       string `json:"keyPath,omitempty"`
	ExpectedValue any    `json:"expectedValue,omitempty"`

	// CustomExpression fields. Reserved: always evaluates to false: see
	// internal/condition.
	Code string `json:"code,omitempty"`
}

// HTTPMethod enumerates the methods an http node may issue.
type HTTPMethod string

const (
	MethodGET    HTTPMethod = "GET"
	MethodPOST   HTTPMethod = "POST"
	MethodPUT    HTTPMethod = "PUT"
	MethodDELETE HTTPMethod = "DELETE"
	MethodPATCH  HTTPMethod = "PATCH"
)

// HTTPConfig configures an `http` node.
type HTTPConfig struct {
	URL     string            `json:"url"`
	Method  HTTPMethod        `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
}

// NodeData is the recognized-key bag carried by every WorkflowNode. Which
// fields are meaningful depends on the node's Type.
type NodeData struct {
	Label               string               `json:"label,omitempty"`
	TaskType            string               `json:"taskType,omitempty"`
	Params              map[string]any       `json:"params,omitempty"`
	RetryCount          int                  `json:"retryCount,omitempty"`
	TimeoutMs           int                  `json:"timeoutMs,omitempty"`
	SkipOnFailure       bool                 `json:"skipOnFailure,omitempty"`
	ConditionExpression *ConditionExpression `json:"conditionExpression,omitempty"`
	ScriptCode          string               `json:"scriptCode,omitempty"`
	HTTPConfig          *HTTPConfig          `json:"httpConfig,omitempty"`
}

// WorkflowNode is one vertex of a workflow definition.
type WorkflowNode struct {
	ID   string   `json:"id"`
	Type NodeType `json:"type"`
	Data NodeData `json:"data"`
}

// WorkflowEdge is one directed connection between two nodes of the same
// definition. SourceHandle distinguishes condition branches ("true"/"false").
type WorkflowEdge struct {
	ID           string  `json:"id"`
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	SourceHandle *string `json:"sourceHandle,omitempty"`
	Label        *string `json:"label,omitempty"`
}

// Viewport holds optional UI canvas state; the engine never reads it.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// Definition is a workflow's declarative graph: nodes, edges, and
// metadata. It is immutable once referenced by a run; runs keep a
// by-value Snapshot() instead of aliasing the live definition.
type Definition struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Nodes       []WorkflowNode `json:"nodes"`
	Edges       []WorkflowEdge `json:"edges"`
	Viewport    *Viewport      `json:"viewport,omitempty"`
}

// Snapshot returns a deep, by-value copy of the definition suitable for
// embedding in a WorkflowExecution. Mutating the source definition after
// this call never affects the returned copy.
func (d Definition) Snapshot() Definition {
	out := Definition{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
	}
	if d.Viewport != nil {
		v := *d.Viewport
		out.Viewport = &v
	}
	out.Nodes = make([]WorkflowNode, len(d.Nodes))
	for i, n := range d.Nodes {
		out.Nodes[i] = n.clone()
	}
	out.Edges = make([]WorkflowEdge, len(d.Edges))
	for i, e := range d.Edges {
		out.Edges[i] = e.clone()
	}
	return out
}

func (n WorkflowNode) clone() WorkflowNode {
	data := n.Data
	if n.Data.Params != nil {
		data.Params = make(map[string]any, len(n.Data.Params))
		for k, v := range n.Data.Params {
			data.Params[k] = v
		}
	}
	if n.Data.ConditionExpression != nil {
		ce := *n.Data.ConditionExpression
		data.ConditionExpression = &ce
	}
	if n.Data.HTTPConfig != nil {
		hc := *n.Data.HTTPConfig
		if n.Data.HTTPConfig.Headers != nil {
			hc.Headers = make(map[string]string, len(n.Data.HTTPConfig.Headers))
			for k, v := range n.Data.HTTPConfig.Headers {
				hc.Headers[k] = v
			}
		}
		data.HTTPConfig = &hc
	}
	return WorkflowNode{ID: n.ID, Type: n.Type, Data: data}
}

func (e WorkflowEdge) clone() WorkflowEdge {
	out := WorkflowEdge{ID: e.ID, Source: e.Source, Target: e.Target}
	if e.SourceHandle != nil {
		h := *e.SourceHandle
		out.SourceHandle = &h
	}
	if e.Label != nil {
		l := *e.Label
		out.Label = &l
	}
	return out
}

// NodeStatus enumerates the lifecycle states of a single node within a run.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusSuccess   NodeStatus = "success"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
	NodeStatusCancelled NodeStatus = "cancelled"
)

// IsTerminal reports whether a node may not transition further on its own.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeStatusSuccess, NodeStatusFailed, NodeStatusSkipped, NodeStatusCancelled:
		return true
	default:
		return false
	}
}

// RunStatus enumerates the lifecycle states of a workflow execution.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSuccess   RunStatus = "success"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether a run status is final.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunSuccess, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// NodeExecutionResult is the outcome of running a single node once.
type NodeExecutionResult struct {
	Success     bool           `json:"success"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   int64          `json:"startedAt"`
	CompletedAt int64          `json:"completedAt"`
}

// NodeState is the persisted/queried view of one node's status in a run.
type NodeState struct {
	NodeID string               `json:"nodeId"`
	Status NodeStatus           `json:"status"`
	Result *NodeExecutionResult `json:"result,omitempty"`
}

// Execution is a single run of a Definition snapshot: the "WorkflowExecution"
// entity of the data model.
type Execution struct {
	ExecutionID string                `json:"executionId"`
	WorkflowID  string                `json:"workflowId"`
	Status      RunStatus             `json:"status"`
	StartedAt   int64                 `json:"startedAt"`
	CompletedAt *int64                `json:"completedAt,omitempty"`
	NodeStates  map[string]NodeState  `json:"nodeStates"`
	Snapshot    Definition            `json:"snapshot"`
	// Error carries a header-level failure message for runs that never
	// produced node states at all (e.g. a parse failure caught before any
	// node was dispatched). Terminal runs that did dispatch nodes instead
	// carry the failing node's own result in NodeStates.
	Error *string `json:"error,omitempty"`
}

// NowMillis returns the current time as milliseconds since the epoch, the
// timestamp unit used throughout the data model.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// MarshalResult is a convenience used by persistence implementations to
// turn a result into the opaque "resultBlob" the schema expects.
func MarshalResult(r *NodeExecutionResult) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

// UnmarshalResult is the inverse of MarshalResult.
func UnmarshalResult(blob []byte) (*NodeExecutionResult, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	var r NodeExecutionResult
	if err := json.Unmarshal(blob, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
