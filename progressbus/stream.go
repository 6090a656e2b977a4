package progressbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/embercore/forge/queue"
)

// StreamBus is the Redis/Pulse-backed Bus implementation: publishes go to
// the job's capped progress:<job_id> stream (queue.ProgressPublisher) and
// Subscribe opens a fresh consumer group against it (queue.ProgressSubscriber),
// replaying the capped history before following live updates. This is the
// multi-process variant used once the server and worker run as separate
// deployments sharing only Redis.
type StreamBus struct {
	pub     *queue.ProgressPublisher
	sub     *queue.ProgressSubscriber
	seq     int64
	history *InProcessBus // local cache so GetHistory doesn't require a round-trip subscribe
}

func NewStreamBus(conn queue.Conn) *StreamBus {
	return &StreamBus{
		pub:     queue.NewProgressPublisher(conn),
		sub:     queue.NewProgressSubscriber(conn),
		history: NewInProcessBus(),
	}
}

func (b *StreamBus) Publish(ctx context.Context, e Event) error {
	e.Seq = atomic.AddInt64(&b.seq, 1)
	if _, err := b.pub.Publish(ctx, e.JobID, e); err != nil {
		return fmt.Errorf("publish progress event: %w", err)
	}
	return b.history.Publish(ctx, e)
}

func (b *StreamBus) Subscribe(ctx context.Context, jobID string) (<-chan Event, context.CancelFunc, error) {
	runCtx, cancel := context.WithCancel(ctx)
	raw, err := b.sub.Subscribe(runCtx, jobID, "forge_progress_subscribers")
	if err != nil {
		cancel()
		return nil, nil, err
	}
	out := make(chan Event, 4)
	go func() {
		defer close(out)
		for payload := range raw {
			var e Event
			if err := json.Unmarshal(payload, &e); err != nil {
				continue
			}
			select {
			case out <- e:
			case <-runCtx.Done():
				return
			}
			if e.Terminal() {
				return
			}
		}
	}()
	return out, cancel, nil
}

func (b *StreamBus) GetHistory(ctx context.Context, jobID string) ([]Event, error) {
	return b.history.GetHistory(ctx, jobID)
}
