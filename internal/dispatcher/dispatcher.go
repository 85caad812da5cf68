// Package dispatcher turns a `task` node's execution into an event-bus
// round trip with an external task runtime: publish a dispatch message,
// then wait for a matching completion or time out.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/synthos/orchestrator/internal/eventbus"
	"github.com/synthos/orchestrator/internal/execctx"
	"github.com/synthos/orchestrator/internal/registry"
	"github.com/synthos/orchestrator/internal/telemetry"
	"github.com/synthos/orchestrator/internal/workflow"
)

const (
	channelDispatchTask = "DispatchTask"
	channelCompleteTask = "CompleteTask"

	// defaultTaskTimeout is the fallback arm time for the race against
	// CompleteTask.
	defaultTaskTimeout = 90 * time.Minute
)

// ErrUnknownTaskType is returned when taskType has no Task Registry entry.
var ErrUnknownTaskType = errors.New("dispatcher: unknown task type")

// taskMetadataWire is the JSON-serializable projection of a
// registry.TaskMetadata: generateDefaultParams is a function value and
// cannot cross the event bus.
type taskMetadataWire struct {
	InternalName string `json:"internalName"`
	DisplayName  string `json:"displayName"`
	Description  string `json:"description,omitempty"`
}

type dispatchTaskPayload struct {
	Metadata taskMetadataWire `json:"metadata"`
	Params   map[string]any   `json:"params"`
}

type completeTaskPayload struct {
	Metadata taskMetadataWire `json:"metadata"`
}

// Bridge implements executor.Adapter by round-tripping task execution
// through an event bus and an external task runtime.
type Bridge struct {
	bus         eventbus.Bus
	registry    *registry.Registry
	config      map[string]any
	taskTimeout time.Duration
	metrics     *telemetry.Metrics
}

// New constructs a Bridge. config is opaque per-deployment configuration
// handed to each task's GenerateDefaultParams. metrics may be nil, in
// which case dispatch counts are not recorded.
func New(bus eventbus.Bus, reg *registry.Registry, config map[string]any, metrics *telemetry.Metrics) *Bridge {
	return &Bridge{bus: bus, registry: reg, config: config, taskTimeout: defaultTaskTimeout, metrics: metrics}
}

// WithTaskTimeout overrides the default 90-minute CompleteTask race timer.
func (b *Bridge) WithTaskTimeout(d time.Duration) *Bridge {
	b.taskTimeout = d
	return b
}

// ExecuteTaskNode implements executor.Adapter.
func (b *Bridge) ExecuteTaskNode(ctx context.Context, nodeID, taskType string, params map[string]any, execCtx *execctx.Context) (*workflow.NodeExecutionResult, error) {
	meta, err := b.registry.Get(taskType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTaskType, taskType)
	}

	resolvedParams := b.resolveParams(meta, params, execCtx)

	wireMeta := taskMetadataWire{InternalName: meta.InternalName, DisplayName: meta.DisplayName, Description: meta.Description}
	dispatchBody, err := json.Marshal(dispatchTaskPayload{Metadata: wireMeta, Params: resolvedParams})
	if err != nil {
		return nil, fmt.Errorf("marshal dispatch payload for %s: %w", nodeID, err)
	}

	startedAt := workflow.NowMillis()

	resultCh := make(chan *workflow.NodeExecutionResult, 1)
	unsub, err := b.bus.Subscribe(channelCompleteTask, func(_ context.Context, msg eventbus.Message) {
		var payload completeTaskPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			slog.Warn("dispatcher: malformed CompleteTask payload", "error", err)
			return
		}
		if payload.Metadata.InternalName != meta.InternalName {
			return // not our task; the bus may interleave unrelated completions
		}
		now := workflow.NowMillis()
		result := &workflow.NodeExecutionResult{
			Success:     true,
			Output:      map[string]any{"taskType": taskType, "resolvedParams": resolvedParams},
			StartedAt:   startedAt,
			CompletedAt: now,
		}
		select {
		case resultCh <- result:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to CompleteTask for %s: %w", nodeID, err)
	}
	defer unsub() // every exit path unsubscribes so a retry can register a fresh listener

	if err := b.bus.Publish(ctx, channelDispatchTask, dispatchBody); err != nil {
		return nil, fmt.Errorf("publish DispatchTask for %s: %w", nodeID, err)
	}
	if b.metrics != nil {
		b.metrics.TaskDispatched()
	}

	timer := time.NewTimer(b.taskTimeout)
	defer timer.Stop()

	select {
	case result := <-resultCh:
		return result, nil
	case <-timer.C:
		now := workflow.NowMillis()
		return &workflow.NodeExecutionResult{
			Success:     false,
			Error:       fmt.Sprintf("task %q timed out after %s waiting for CompleteTask", taskType, b.taskTimeout),
			StartedAt:   startedAt,
			CompletedAt: now,
		}, fmt.Errorf("node %s: task timeout", nodeID)
	case <-ctx.Done():
		// The enclosing Strategy cancelled this attempt (its own timeout or
		// the run being cancelled); unsubscribe already runs via defer.
		return nil, ctx.Err()
	}
}

// resolveParams merges a task's generated defaults with the caller's
// explicit params, caller winning key-by-key.
func (b *Bridge) resolveParams(meta registry.TaskMetadata, callerParams map[string]any, execCtx *execctx.Context) map[string]any {
	merged := make(map[string]any)
	if meta.GenerateDefaultParams != nil {
		for k, v := range meta.GenerateDefaultParams(execCtx, b.config) {
			merged[k] = v
		}
	}
	for k, v := range callerParams {
		merged[k] = v
	}
	return merged
}
