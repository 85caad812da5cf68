// Package eventbus is the publish/subscribe abstraction the dispatcher
// bridge uses to hand a task node's execution off to an external runtime
// and wait for its completion. Only the channel contract matters to the
// rest of the module; the production transport is NATS.
package eventbus

import "context"

// Message is one event-bus payload: an opaque JSON body addressed to a
// named channel.
type Message struct {
	Channel string
	Data    []byte
}

// Handler receives one delivered message. ctx carries the publisher's
// trace context: the NATS implementation extracts it from the message
// headers, and the in-memory bus passes the publisher's own ctx through.
type Handler func(ctx context.Context, msg Message)

// Unsubscribe cancels a prior Subscribe call. Calling it more than once
// is a no-op.
type Unsubscribe func()

// Bus is the minimal publish/subscribe contract the dispatcher bridge
// needs. Every Subscribe must be matched by calling the returned
// Unsubscribe on every exit path (success, timeout, or cancellation), or a
// retried node will pick up a stale listener from its previous attempt.
type Bus interface {
	Publish(ctx context.Context, channel string, data []byte) error
	Subscribe(channel string, handler Handler) (Unsubscribe, error)
}
