package executor

import "github.com/synthos/orchestrator/internal/workflow"

// EventType enumerates the variants a run emits on its update stream.
type EventType string

const (
	EventNodeStarted        EventType = "nodeStarted"
	EventNodeCompleted      EventType = "nodeCompleted"
	EventNodeFailed         EventType = "nodeFailed"
	EventExecutionStarted   EventType = "executionStarted"
	EventExecutionCompleted EventType = "executionCompleted"
	EventExecutionFailed    EventType = "executionFailed"
)

// Event is one entry in a run's totally-ordered event sequence.
type Event struct {
	Type        EventType           `json:"type"`
	ExecutionID string              `json:"executionId"`
	NodeID      string              `json:"nodeId,omitempty"`
	NodeState   *workflow.NodeState `json:"nodeState,omitempty"`
	Timestamp   int64               `json:"timestamp"`
}

// Publisher receives a run's events in emission order. Implementations
// must not block the executor indefinitely; a slow consumer should buffer
// or drop, not stall the run.
type Publisher interface {
	Publish(ev Event)
}

// PublisherFunc adapts a plain function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(ev Event) { f(ev) }

// NopPublisher discards every event; useful when a caller has no
// subscriber wired yet (e.g. unit tests exercising only the final run).
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

// ChannelPublisher fans events out onto a buffered channel. Send is
// non-blocking: once the buffer is full, further events are dropped
// rather than stalling the executor, mirroring the "slow consumer"
// guidance above. Consumers needing a reliable full history should read
// persisted node states instead of relying solely on the stream.
type ChannelPublisher struct {
	ch chan Event
}

// NewChannelPublisher creates a ChannelPublisher with the given buffer size.
func NewChannelPublisher(buffer int) *ChannelPublisher {
	return &ChannelPublisher{ch: make(chan Event, buffer)}
}

func (p *ChannelPublisher) Publish(ev Event) {
	select {
	case p.ch <- ev:
	default:
	}
}

// Events returns the read side of the channel.
func (p *ChannelPublisher) Events() <-chan Event { return p.ch }

// Close closes the underlying channel. Callers must ensure no further
// Publish calls occur afterward.
func (p *ChannelPublisher) Close() { close(p.ch) }
