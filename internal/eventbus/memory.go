package eventbus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus for tests and single-binary deployments
// that don't need cross-process delivery. Publish fans out synchronously
// to every current subscriber of the channel.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string]map[int]Handler
	next int
}

// NewMemoryBus creates an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]Handler)}
}

func (b *MemoryBus) Publish(ctx context.Context, channel string, data []byte) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[channel]))
	for _, h := range b.subs[channel] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, Message{Channel: channel, Data: data})
	}
	return nil
}

func (b *MemoryBus) Subscribe(channel string, handler Handler) (Unsubscribe, error) {
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[int]Handler)
	}
	id := b.next
	b.next++
	b.subs[channel][id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[channel], id)
			b.mu.Unlock()
		})
	}, nil
}
