package eventbus

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var propagator = propagation.TraceContext{}

// natsBus is the production Bus, backed by a shared *nats.Conn. Each
// Publish injects the caller's trace context into the message headers;
// each delivered message gets its trace context extracted back out and a
// consumer span started around the handler, so a dispatched task's trace
// stays connected across the network hop.
type natsBus struct {
	conn   *nats.Conn
	tracer trace.Tracer
}

// NewNATSBus wraps an existing, already-connected *nats.Conn as a Bus.
func NewNATSBus(conn *nats.Conn) Bus {
	return &natsBus{conn: conn, tracer: otel.Tracer("orchestrator-eventbus")}
}

func (b *natsBus) Publish(ctx context.Context, channel string, data []byte) error {
	hdr := nats.Header{}
	carrier := propagation.HeaderCarrier(hdr)
	propagator.Inject(ctx, carrier)
	msg := &nats.Msg{Subject: channel, Data: data, Header: hdr}
	return b.conn.PublishMsg(msg)
}

func (b *natsBus) Subscribe(channel string, handler Handler) (Unsubscribe, error) {
	sub, err := b.conn.Subscribe(channel, func(m *nats.Msg) {
		carrier := propagation.HeaderCarrier(m.Header)
		ctx := propagator.Extract(context.Background(), carrier)
		ctx, span := b.tracer.Start(ctx, "eventbus.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
		handler(ctx, Message{Channel: m.Subject, Data: m.Data})
	})
	if err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() { _ = sub.Unsubscribe() })
	}, nil
}
