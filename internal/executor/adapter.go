// Package executor drives a workflow's DAG to completion: a layered
// concurrent scheduler on top of a pluggable adapter that actually
// executes task nodes.
package executor

import (
	"context"
	"errors"

	"github.com/synthos/orchestrator/internal/execctx"
	"github.com/synthos/orchestrator/internal/workflow"
)

// ErrUnsupportedNodeKind is returned when an adapter lacks the optional
// method a node type requires (script or http nodes).
var ErrUnsupportedNodeKind = errors.New("adapter does not support this node kind")

// Adapter is the boundary to the out-of-process task runtime invoked for
// `task` nodes. Implementations must be re-entrant: several task nodes
// from one run may execute concurrently. They must not mutate execCtx
// except through its documented setters, and may take arbitrarily long —
// timeouts are enforced by internal/strategy, not the adapter.
type Adapter interface {
	ExecuteTaskNode(ctx context.Context, nodeID, taskType string, params map[string]any, execCtx *execctx.Context) (*workflow.NodeExecutionResult, error)
}

// ScriptAdapter is an optional extension for `script` nodes. An Adapter
// that does not implement it causes `script` nodes to fail fast with
// ErrUnsupportedNodeKind. No implementation of this interface ships with
// this module: sandboxing an arbitrary script runtime is a deployment
// decision, not something this package should bake in.
type ScriptAdapter interface {
	ExecuteScriptNode(ctx context.Context, nodeID, scriptCode string, execCtx *execctx.Context) (*workflow.NodeExecutionResult, error)
}

// HTTPAdapter is an optional extension for `http` nodes.
type HTTPAdapter interface {
	ExecuteHTTPNode(ctx context.Context, nodeID string, cfg workflow.HTTPConfig, execCtx *execctx.Context) (*workflow.NodeExecutionResult, error)
}
