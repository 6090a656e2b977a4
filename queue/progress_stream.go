package queue

import (
	"context"
	"encoding/json"
	"fmt"

	streamopts "goa.design/pulse/streaming/options"
)

const progressStreamCap = 100

func progressStreamName(jobID string) string { return "progress:" + jobID }

// ProgressStreamOptions returns the per-stream override a Conn should apply
// to progress:<job_id> streams: capped at the last 100 entries, since
// progress history only needs to serve "catch up a late subscriber", not
// serve as a durable audit log (that's the job's own JSONL log).
func ProgressStreamOptions(name string) []streamopts.Stream {
	if len(name) > len("progress:") && name[:len("progress:")] == "progress:" {
		return []streamopts.Stream{streamopts.WithStreamMaxLen(progressStreamCap)}
	}
	return nil
}

// ProgressPublisher publishes progress events to a job's capped stream.
type ProgressPublisher struct {
	conn Conn
}

func NewProgressPublisher(conn Conn) *ProgressPublisher {
	return &ProgressPublisher{conn: conn}
}

func (p *ProgressPublisher) Publish(ctx context.Context, jobID string, event any) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("encode progress event: %w", err)
	}
	str, err := p.conn.Stream(progressStreamName(jobID))
	if err != nil {
		return "", err
	}
	return str.Add(ctx, "progress", data)
}

// ProgressSubscriber reads a job's progress stream from the beginning,
// letting a late-joining subscriber catch up on the capped history before
// following live updates.
type ProgressSubscriber struct {
	conn Conn
}

func NewProgressSubscriber(conn Conn) *ProgressSubscriber {
	return &ProgressSubscriber{conn: conn}
}

// Subscribe returns a channel of raw JSON progress payloads for jobID. The
// channel closes when ctx is cancelled or the stream is destroyed.
func (s *ProgressSubscriber) Subscribe(ctx context.Context, jobID, consumerName string) (<-chan json.RawMessage, error) {
	str, err := s.conn.Stream(progressStreamName(jobID))
	if err != nil {
		return nil, err
	}
	sink, err := str.NewSink(ctx, consumerName)
	if err != nil {
		return nil, err
	}
	out := make(chan json.RawMessage, 32)
	go func() {
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
				select {
				case out <- evt.Payload:
				case <-ctx.Done():
					return
				}
				_ = sink.Ack(ctx, evt)
			}
		}
	}()
	return out, nil
}
