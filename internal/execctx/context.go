// Package execctx holds the per-run Execution Context: the in-memory
// state of one workflow run (node statuses/results and global variables).
package execctx

import (
	"strings"
	"sync"

	"github.com/synthos/orchestrator/internal/workflow"
)

// Context is the per-run key/value store of node statuses, results, and
// global variables. Only the executor driving the run writes to it, but it
// does so from one goroutine per dispatched node of a layer, and those run
// concurrently; readers (condition evaluator, strategy, event emitter)
// access it at the same time. The mutex guards both the writers and the
// readers.
type Context struct {
	mu          sync.RWMutex
	executionID string
	nodeStates  map[string]workflow.NodeState
	globalVars  map[string]any
}

// New creates an empty Context for a run.
func New(executionID string) *Context {
	return &Context{
		executionID: executionID,
		nodeStates:  make(map[string]workflow.NodeState),
		globalVars:  make(map[string]any),
	}
}

// ExecutionID returns the run this context belongs to.
func (c *Context) ExecutionID() string { return c.executionID }

// SetGlobal sets a global variable visible to all nodes.
func (c *Context) SetGlobal(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.globalVars[key] = value
}

// GetGlobal reads a global variable.
func (c *Context) GetGlobal(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.globalVars[key]
	return v, ok
}

// UpdateNodeStatus records a node's current status and, for a terminal
// status, its result. nodeStates[n].Result is the single source of truth
// for that node's last result — there is no separate result store.
func (c *Context) UpdateNodeStatus(nodeID string, status workflow.NodeStatus, result *workflow.NodeExecutionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodeStates[nodeID] = workflow.NodeState{NodeID: nodeID, Status: status, Result: result}
}

// GetNodeState returns a node's recorded state, if any.
func (c *Context) GetNodeState(nodeID string) (workflow.NodeState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.nodeStates[nodeID]
	return s, ok
}

// IsNodeSuccess reports whether nodeID's recorded status is success.
func (c *Context) IsNodeSuccess(nodeID string) bool {
	s, ok := c.GetNodeState(nodeID)
	return ok && s.Status == workflow.NodeStatusSuccess
}

// IsNodeFailed reports whether nodeID's recorded status is failed.
func (c *Context) IsNodeFailed(nodeID string) bool {
	s, ok := c.GetNodeState(nodeID)
	return ok && s.Status == workflow.NodeStatusFailed
}

// IsNodeCompleted reports whether nodeID has reached any terminal status.
func (c *Context) IsNodeCompleted(nodeID string) bool {
	s, ok := c.GetNodeState(nodeID)
	return ok && s.Status.IsTerminal()
}

// GetUpstreamOutput returns the named output key from nodeID's recorded
// result, if the node has run and produced it.
func (c *Context) GetUpstreamOutput(nodeID, key string) (any, bool) {
	s, ok := c.GetNodeState(nodeID)
	if !ok || s.Result == nil || s.Result.Output == nil {
		return nil, false
	}
	v, ok := s.Result.Output[key]
	return v, ok
}

// ResolveKeyPath navigates a dot-separated path whose first segment names
// a node id and whose remaining segments walk into that node's recorded
// output by exact key presence. Used by the keyValueMatch condition
// variant. Returns ok=false if any segment cannot be resolved.
func (c *Context) ResolveKeyPath(keyPath string) (any, bool) {
	segments := strings.Split(keyPath, ".")
	if len(segments) == 0 {
		return nil, false
	}
	s, ok := c.GetNodeState(segments[0])
	if !ok || s.Result == nil {
		return nil, false
	}

	var cur any = map[string]any(s.Result.Output)
	for _, seg := range segments[1:] {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// GetAllNodeStates returns a defensive copy of every recorded node state.
func (c *Context) GetAllNodeStates() map[string]workflow.NodeState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]workflow.NodeState, len(c.nodeStates))
	for k, v := range c.nodeStates {
		out[k] = v
	}
	return out
}

// Snapshot is the structurally-cloneable view serialize/deserialize
// round-trip through, so persistence can save and restore a context's
// full state without aliasing the live maps.
type Snapshot struct {
	NodeStates map[string]workflow.NodeState `json:"nodeStates"`
	GlobalVars map[string]any                `json:"globalVars"`
}

// Serialize produces a Snapshot of the context's current state.
func (c *Context) Serialize() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := Snapshot{
		NodeStates: make(map[string]workflow.NodeState, len(c.nodeStates)),
		GlobalVars: make(map[string]any, len(c.globalVars)),
	}
	for k, v := range c.nodeStates {
		out.NodeStates[k] = v
	}
	for k, v := range c.globalVars {
		out.GlobalVars[k] = v
	}
	return out
}

// Deserialize replaces the context's maps with the snapshot's contents.
func (c *Context) Deserialize(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodeStates = make(map[string]workflow.NodeState, len(s.NodeStates))
	for k, v := range s.NodeStates {
		c.nodeStates[k] = v
	}
	c.globalVars = make(map[string]any, len(s.GlobalVars))
	for k, v := range s.GlobalVars {
		c.globalVars[k] = v
	}
}
