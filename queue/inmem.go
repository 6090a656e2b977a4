package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"goa.design/pulse/streaming"

	"github.com/embercore/forge/jobs"
)

// InmemQueue is an in-process Queue for tests and single-process fast-test
// mode: each job type gets one buffered channel, shared by every Consume
// caller for that type (sufficient for the single in-process worker this
// mode is meant for). Acks are no-ops since there is no redelivery concept
// without a real consumer group.
type InmemQueue struct {
	mu    sync.Mutex
	chans map[jobs.Type]chan *Message
	seq   int
}

func NewInmemQueue() *InmemQueue {
	return &InmemQueue{chans: make(map[jobs.Type]chan *Message)}
}

func (q *InmemQueue) chanFor(typ jobs.Type) chan *Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.chans[typ]
	if !ok {
		ch = make(chan *Message, 256)
		q.chans[typ] = ch
	}
	return ch
}

func (q *InmemQueue) Submit(ctx context.Context, typ jobs.Type, jobID, correlationID string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	q.mu.Lock()
	q.seq++
	id := fmt.Sprintf("%d-0", q.seq)
	q.mu.Unlock()

	env := Envelope{ID: id, Type: typ, JobID: jobID, CorrelationID: correlationID, Payload: raw}
	msg := &Message{Envelope: env, sink: noopSink{}}
	select {
	case q.chanFor(typ) <- msg:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return id, nil
}

func (q *InmemQueue) EnsureConsumerGroup(context.Context, jobs.Type) error { return nil }

func (q *InmemQueue) Consume(_ context.Context, typ jobs.Type, _ string) (<-chan *Message, error) {
	return q.chanFor(typ), nil
}

type noopSink struct{}

func (noopSink) Subscribe() <-chan *streaming.Event          { return nil }
func (noopSink) Ack(context.Context, *streaming.Event) error { return nil }
func (noopSink) Close(context.Context)                       {}
