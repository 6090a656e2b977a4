package queue

import (
	"context"
	"fmt"

	"goa.design/pulse/streaming"

	"github.com/embercore/forge/jobs"
)

const (
	// StreamTraining and StreamGeneration are the two durable job streams
	// from spec §3. Workers dispatch across both without starving either.
	StreamTraining   = "jobs:training"
	StreamGeneration = "jobs:generation"

	consumerGroup = "forge_workers"
)

func streamName(typ jobs.Type) string {
	if typ == jobs.TypeTraining {
		return StreamTraining
	}
	return StreamGeneration
}

// Message is a decoded, unacknowledged queue entry. Consumers must call Ack
// once the job has been durably recorded as taken (at-least-once delivery:
// an unacked message is redelivered to another consumer after the group's
// claim timeout).
type Message struct {
	Envelope Envelope
	sink     Sink
	raw      *streaming.Event
}

// Ack acknowledges successful receipt, removing the message from the
// consumer group's pending entries list.
func (m *Message) Ack(ctx context.Context) error {
	return m.sink.Ack(ctx, m.raw)
}

// Queue is the C3 stream queue contract: durable submission and
// consumer-group delivery across the two job streams.
type Queue interface {
	// Submit appends payload to the stream for typ and returns the
	// stream-assigned entry ID.
	Submit(ctx context.Context, typ jobs.Type, jobID, correlationID string, payload any) (string, error)
	// EnsureConsumerGroup idempotently creates the shared consumer group on
	// typ's stream so that workers starting after jobs were submitted still
	// see the full backlog rather than only new entries.
	EnsureConsumerGroup(ctx context.Context, typ jobs.Type) error
	// Consume opens (or reuses) the shared consumer group and returns a
	// channel of decoded messages. The channel closes when ctx is cancelled.
	// PulseQueue and InmemQueue do not use consumerName.
	Consume(ctx context.Context, typ jobs.Type, consumerName string) (<-chan *Message, error)
}

// PulseQueue is the Redis/Pulse-backed Queue implementation.
type PulseQueue struct {
	conn Conn
}

func NewPulseQueue(conn Conn) *PulseQueue {
	return &PulseQueue{conn: conn}
}

func (q *PulseQueue) Submit(ctx context.Context, typ jobs.Type, jobID, correlationID string, payload any) (string, error) {
	data, err := marshalEnvelope(typ, jobID, correlationID, payload)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	str, err := q.conn.Stream(streamName(typ))
	if err != nil {
		return "", err
	}
	return str.Add(ctx, "job", data)
}

func (q *PulseQueue) EnsureConsumerGroup(ctx context.Context, typ jobs.Type) error {
	str, err := q.conn.Stream(streamName(typ))
	if err != nil {
		return err
	}
	sink, err := str.NewSink(ctx, consumerGroup)
	if err != nil {
		return err
	}
	sink.Close(ctx)
	return nil
}

func (q *PulseQueue) Consume(ctx context.Context, typ jobs.Type, consumerName string) (<-chan *Message, error) {
	str, err := q.conn.Stream(streamName(typ))
	if err != nil {
		return nil, err
	}
	sink, err := str.NewSink(ctx, consumerGroup)
	if err != nil {
		return nil, err
	}
	out := make(chan *Message, 64)
	go q.relay(ctx, sink, out)
	return out, nil
}

// relay decodes entries off sink and forwards them to out until ctx is done
// or the underlying channel closes. Malformed entries are acked and dropped
// rather than blocking the stream forever on a poison message.
func (q *PulseQueue) relay(ctx context.Context, sink Sink, out chan<- *Message) {
	defer close(out)
	defer sink.Close(context.Background())
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			env, err := unmarshalEnvelope(evt.Payload)
			if err != nil {
				_ = sink.Ack(ctx, evt)
				continue
			}
			msg := &Message{Envelope: env, sink: sink, raw: evt}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}
