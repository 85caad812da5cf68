package dispatcher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/synthos/orchestrator/internal/eventbus"
	"github.com/synthos/orchestrator/internal/execctx"
	"github.com/synthos/orchestrator/internal/registry"
)

func TestExecuteTaskNode_UnknownTaskType(t *testing.T) {
	b := New(eventbus.NewMemoryBus(), registry.New(), nil, nil)
	_, err := b.ExecuteTaskNode(context.Background(), "n1", "nope", nil, execctx.New("e1"))
	if err == nil {
		t.Fatal("expected error for unknown task type")
	}
}

func TestExecuteTaskNode_SucceedsOnMatchingCompleteTask(t *testing.T) {
	bus := eventbus.NewMemoryBus()
	reg := registry.New()
	reg.MustRegister(registry.TaskMetadata{InternalName: "embed.text", DisplayName: "Embed text"})
	b := New(bus, reg, nil, nil).WithTaskTimeout(time.Second)

	// Simulate the external task runtime: on DispatchTask, publish a
	// matching CompleteTask almost immediately.
	unsub, err := bus.Subscribe("DispatchTask", func(ctx context.Context, msg eventbus.Message) {
		var payload dispatchTaskPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			t.Errorf("bad dispatch payload: %v", err)
			return
		}
		complete, _ := json.Marshal(completeTaskPayload{Metadata: payload.Metadata})
		_ = bus.Publish(ctx, "CompleteTask", complete)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	result, err := b.ExecuteTaskNode(context.Background(), "n1", "embed.text", map[string]any{"model": "x"}, execctx.New("e1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatal("expected success result")
	}
}

func TestExecuteTaskNode_TimesOutWhenNoCompleteTaskArrives(t *testing.T) {
	bus := eventbus.NewMemoryBus()
	reg := registry.New()
	reg.MustRegister(registry.TaskMetadata{InternalName: "embed.text"})
	b := New(bus, reg, nil, nil).WithTaskTimeout(10 * time.Millisecond)

	result, err := b.ExecuteTaskNode(context.Background(), "n1", "embed.text", nil, execctx.New("e1"))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if result.Success {
		t.Fatal("expected unsuccessful result on timeout")
	}
}

func TestExecuteTaskNode_DefaultParamsLoseToCallerParams(t *testing.T) {
	bus := eventbus.NewMemoryBus()
	reg := registry.New()
	reg.MustRegister(registry.TaskMetadata{
		InternalName: "embed.text",
		GenerateDefaultParams: func(*execctx.Context, map[string]any) map[string]any {
			return map[string]any{"model": "default-model", "dims": 128}
		},
	})
	b := New(bus, reg, nil, nil).WithTaskTimeout(time.Second)

	var seenParams map[string]any
	unsub, _ := bus.Subscribe("DispatchTask", func(ctx context.Context, msg eventbus.Message) {
		var payload dispatchTaskPayload
		_ = json.Unmarshal(msg.Data, &payload)
		seenParams = payload.Params
		complete, _ := json.Marshal(completeTaskPayload{Metadata: payload.Metadata})
		_ = bus.Publish(ctx, "CompleteTask", complete)
	})
	defer unsub()

	_, err := b.ExecuteTaskNode(context.Background(), "n1", "embed.text", map[string]any{"model": "caller-model"}, execctx.New("e1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seenParams["model"] != "caller-model" {
		t.Fatalf("expected caller param to win, got %v", seenParams["model"])
	}
	if seenParams["dims"] != float64(128) && seenParams["dims"] != 128 {
		t.Fatalf("expected default param to survive, got %v", seenParams["dims"])
	}
}
