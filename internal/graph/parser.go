// Package graph validates a workflow definition as a single-source,
// single-sink DAG and compiles it into a layered execution plan.
package graph

import (
	"errors"
	"fmt"

	"github.com/synthos/orchestrator/internal/workflow"
)

// Sentinel errors for each validation failure reason. Use errors.Is
// against these, or errors.As against *ValidationError for the offending
// node/edge ids.
var (
	ErrEdgeRefsUnknownNode = errors.New("edge references unknown node")
	ErrMissingStart        = errors.New("workflow has no start node")
	ErrDuplicateStart      = errors.New("workflow has more than one start node")
	ErrMissingEnd          = errors.New("workflow has no end node")
	ErrDuplicateEnd        = errors.New("workflow has more than one end node")
	ErrUnreachable         = errors.New("workflow has unreachable nodes")
	ErrCycle               = errors.New("workflow graph contains a cycle")
)

// ValidationError wraps one of the sentinel errors above with the node or
// edge ids that triggered it, for diagnostics.
type ValidationError struct {
	Reason error
	NodeIDs []string
}

func (e *ValidationError) Error() string {
	if len(e.NodeIDs) == 0 {
		return e.Reason.Error()
	}
	return fmt.Sprintf("%s: %v", e.Reason.Error(), e.NodeIDs)
}

func (e *ValidationError) Unwrap() error { return e.Reason }

// ExecutionPlan is the read-only output of Parse: a topologically layered
// node order plus diagnostic indices.
type ExecutionPlan struct {
	// Layers is an ordered sequence of layers; each layer is an ordered
	// sequence of node ids that may run concurrently.
	Layers [][]string
	// ParallelBranches maps a fan-out node (out-degree > 1) to its
	// successor ids, for diagnostics only.
	ParallelBranches map[string][]string
	// ConvergencePoints is the set of node ids with in-degree > 1.
	ConvergencePoints map[string]struct{}
}

// Parse validates a workflow definition and, if it is a sound single-source
// single-sink DAG, builds its layered execution plan.
func Parse(def workflow.Definition) (*ExecutionPlan, error) {
	nodeIndex := make(map[string]int, len(def.Nodes)) // preserves insertion order
	nodeOrder := make([]string, 0, len(def.Nodes))
	var startID, endID string
	var dupStart, dupEnd bool

	for i, n := range def.Nodes {
		nodeIndex[n.ID] = i
		nodeOrder = append(nodeOrder, n.ID)
		switch n.Type {
		case workflow.NodeStart:
			if startID != "" {
				dupStart = true
			}
			startID = n.ID
		case workflow.NodeEnd:
			if endID != "" {
				dupEnd = true
			}
			endID = n.ID
		}
	}

	adjacency := make(map[string][]string, len(def.Nodes))
	inDegree := make(map[string]int, len(def.Nodes))
	for _, id := range nodeOrder {
		inDegree[id] = 0
	}

	var unknown []string
	for _, e := range def.Edges {
		if _, ok := nodeIndex[e.Source]; !ok {
			unknown = append(unknown, e.Source)
			continue
		}
		if _, ok := nodeIndex[e.Target]; !ok {
			unknown = append(unknown, e.Target)
			continue
		}
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
		inDegree[e.Target]++
	}
	if len(unknown) > 0 {
		return nil, &ValidationError{Reason: ErrEdgeRefsUnknownNode, NodeIDs: unknown}
	}

	if startID == "" {
		return nil, &ValidationError{Reason: ErrMissingStart}
	}
	if dupStart {
		return nil, &ValidationError{Reason: ErrDuplicateStart}
	}
	if endID == "" {
		return nil, &ValidationError{Reason: ErrMissingEnd}
	}
	if dupEnd {
		return nil, &ValidationError{Reason: ErrDuplicateEnd}
	}

	if unreachable := findUnreachable(startID, nodeOrder, adjacency); len(unreachable) > 0 {
		return nil, &ValidationError{Reason: ErrUnreachable, NodeIDs: unreachable}
	}

	layers, remaining := layerByKahn(nodeOrder, adjacency, inDegree)
	if len(remaining) > 0 {
		return nil, &ValidationError{Reason: ErrCycle, NodeIDs: remaining}
	}

	plan := &ExecutionPlan{
		Layers:            layers,
		ParallelBranches:  make(map[string][]string),
		ConvergencePoints: make(map[string]struct{}),
	}
	for _, id := range nodeOrder {
		if succ := adjacency[id]; len(succ) > 1 {
			cp := make([]string, len(succ))
			copy(cp, succ)
			plan.ParallelBranches[id] = cp
		}
	}
	for id, deg := range inDegree {
		if deg > 1 {
			plan.ConvergencePoints[id] = struct{}{}
		}
	}
	return plan, nil
}

// findUnreachable returns, in definition order, every node id not visited
// by a forward BFS/DFS from startID.
func findUnreachable(startID string, nodeOrder []string, adjacency map[string][]string) []string {
	visited := make(map[string]bool, len(nodeOrder))
	queue := []string{startID}
	visited[startID] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[cur] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	var unreachable []string
	for _, id := range nodeOrder {
		if !visited[id] {
			unreachable = append(unreachable, id)
		}
	}
	return unreachable
}

// layerByKahn repeatedly emits the set of zero-in-degree nodes (in
// definition order) as the next layer, decrementing successors' in-degree.
// Any node left with positive in-degree after the loop is part of a cycle
// and is returned as `remaining`.
func layerByKahn(nodeOrder []string, adjacency map[string][]string, inDegree map[string]int) (layers [][]string, remaining []string) {
	degree := make(map[string]int, len(inDegree))
	for k, v := range inDegree {
		degree[k] = v
	}
	done := make(map[string]bool, len(nodeOrder))
	left := len(nodeOrder)

	for left > 0 {
		var layer []string
		for _, id := range nodeOrder {
			if !done[id] && degree[id] == 0 {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			break // cycle: nothing left with in-degree 0
		}
		for _, id := range layer {
			done[id] = true
			left--
			for _, next := range adjacency[id] {
				degree[next]--
			}
		}
		layers = append(layers, layer)
	}

	if left > 0 {
		for _, id := range nodeOrder {
			if !done[id] {
				remaining = append(remaining, id)
			}
		}
	}
	return layers, remaining
}
