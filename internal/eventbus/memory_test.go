package eventbus

import (
	"context"
	"testing"
)

func TestMemoryBus_PublishDeliversToSubscribers(t *testing.T) {
	bus := NewMemoryBus()
	received := make(chan Message, 1)
	unsub, err := bus.Subscribe("CompleteTask", func(_ context.Context, msg Message) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer unsub()

	if err := bus.Publish(context.Background(), "CompleteTask", []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg.Data) != `{"ok":true}` {
			t.Fatalf("unexpected payload: %s", msg.Data)
		}
	default:
		t.Fatal("expected synchronous delivery to have produced a message")
	}
}

func TestMemoryBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewMemoryBus()
	calls := 0
	unsub, _ := bus.Subscribe("DispatchTask", func(context.Context, Message) { calls++ })
	unsub()
	unsub() // idempotent

	_ = bus.Publish(context.Background(), "DispatchTask", nil)
	if calls != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d calls", calls)
	}
}
