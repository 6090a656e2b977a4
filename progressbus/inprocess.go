package progressbus

import (
	"context"
	"sync"
	"time"
)

// InProcessBus is the single-process Bus implementation: a bounded history
// ring per job plus a set of live subscriber feeds. Slow subscribers never
// block a publisher: each subscriber coalesces to its latest pending
// non-terminal event (a slow consumer only ever sees the newest progress,
// never a growing backlog) while a terminal event is held in a dedicated
// slot that is never overwritten, guaranteeing completion is always
// eventually delivered even if earlier updates were coalesced away.
type InProcessBus struct {
	mu   sync.Mutex
	jobs map[string]*jobState
}

type jobState struct {
	mu      sync.Mutex
	history []Event
	subs    map[*subscriber]struct{}
}

type subscriber struct {
	mu       sync.Mutex
	latest   *Event
	terminal *Event
	signal   chan struct{}
	out      chan Event
}

func NewInProcessBus() *InProcessBus {
	return &InProcessBus{jobs: make(map[string]*jobState)}
}

func (b *InProcessBus) stateFor(jobID string) *jobState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.jobs[jobID]
	if !ok {
		st = &jobState{subs: make(map[*subscriber]struct{})}
		b.jobs[jobID] = st
	}
	return st
}

func (b *InProcessBus) Publish(_ context.Context, e Event) error {
	st := b.stateFor(e.JobID)

	st.mu.Lock()
	st.history = append(st.history, e)
	if len(st.history) > HistoryLimit {
		st.history = st.history[len(st.history)-HistoryLimit:]
	}
	subs := make([]*subscriber, 0, len(st.subs))
	for s := range st.subs {
		subs = append(subs, s)
	}
	st.mu.Unlock()

	for _, s := range subs {
		s.offer(e)
	}
	return nil
}

func (b *InProcessBus) Subscribe(ctx context.Context, jobID string) (<-chan Event, context.CancelFunc, error) {
	st := b.stateFor(jobID)
	sub := &subscriber{
		signal: make(chan struct{}, 1),
		out:    make(chan Event, 4),
	}

	st.mu.Lock()
	st.subs[sub] = struct{}{}
	st.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	go sub.run(runCtx, func() {
		st.mu.Lock()
		delete(st.subs, sub)
		st.mu.Unlock()
	})
	return sub.out, cancel, nil
}

func (b *InProcessBus) GetHistory(_ context.Context, jobID string) ([]Event, error) {
	st := b.stateFor(jobID)
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Event, len(st.history))
	copy(out, st.history)
	return out, nil
}

// offer coalesces e into the subscriber's pending slot and wakes its
// delivery goroutine. It never blocks the publisher.
func (s *subscriber) offer(e Event) {
	s.mu.Lock()
	if e.Terminal() {
		ev := e
		s.terminal = &ev
	} else if s.terminal == nil {
		ev := e
		s.latest = &ev
	}
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// run delivers coalesced events to out, emitting a keepalive sentinel when
// idle, until ctx is cancelled or a terminal event has been delivered.
func (s *subscriber) run(ctx context.Context, unregister func()) {
	defer close(s.out)
	defer unregister()
	ticker := time.NewTicker(KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.signal:
			ev, terminal := s.take()
			if ev == nil {
				continue
			}
			select {
			case s.out <- *ev:
			case <-ctx.Done():
				return
			}
			if terminal {
				return
			}
		case <-ticker.C:
			keepalive := Event{Kind: EventKeepalive, Timestamp: time.Now().UTC()}
			select {
			case s.out <- keepalive:
			case <-ctx.Done():
				return
			}
		}
	}
}

// take atomically pops the pending event (terminal takes priority) and
// reports whether it was the terminal one.
func (s *subscriber) take() (*Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal != nil {
		ev := s.terminal
		s.terminal = nil
		return ev, true
	}
	if s.latest != nil {
		ev := s.latest
		s.latest = nil
		return ev, false
	}
	return nil, false
}
