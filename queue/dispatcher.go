package queue

import (
	"context"

	"github.com/embercore/forge/jobs"
)

// Dispatcher merges the training and generation message channels into a
// single feed, alternating which stream is preferred after every delivered
// message so a burst on one stream cannot starve the other (spec §3's
// round-robin dispatch requirement).
type Dispatcher struct {
	training   <-chan *Message
	generation <-chan *Message
	preferred  jobs.Type
}

// NewDispatcher wraps the two per-stream channels returned by Queue.Consume.
func NewDispatcher(training, generation <-chan *Message) *Dispatcher {
	return &Dispatcher{training: training, generation: generation, preferred: jobs.TypeTraining}
}

// Next blocks until a message is available on either stream, returning ctx's
// error if it is cancelled first and both channels would otherwise block.
// The currently preferred stream is tried first (non-blocking); if it has
// nothing ready, the other stream is tried non-blocking; only if neither has
// a message ready does Next block on both together. Whichever stream
// actually yields a message, the *other* stream becomes preferred next,
// guaranteeing a busy stream never starves its sibling for more than one
// message.
func (d *Dispatcher) Next(ctx context.Context) (*Message, error) {
	first, second := d.orderedChannels()

	select {
	case m, ok := <-first:
		if ok {
			d.advance(first)
			return m, nil
		}
	default:
	}
	select {
	case m, ok := <-second:
		if ok {
			d.advance(second)
			return m, nil
		}
	default:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m, ok := <-first:
		if !ok {
			return d.waitOn(ctx, second)
		}
		d.advance(first)
		return m, nil
	case m, ok := <-second:
		if !ok {
			return d.waitOn(ctx, first)
		}
		d.advance(second)
		return m, nil
	}
}

func (d *Dispatcher) waitOn(ctx context.Context, ch <-chan *Message) (*Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m, ok := <-ch:
		if !ok {
			return nil, ctx.Err()
		}
		d.advance(ch)
		return m, nil
	}
}

func (d *Dispatcher) orderedChannels() (first, second <-chan *Message) {
	if d.preferred == jobs.TypeTraining {
		return d.training, d.generation
	}
	return d.generation, d.training
}

// advance flips preference to whichever stream was NOT just served.
func (d *Dispatcher) advance(served <-chan *Message) {
	if sameChan(served, d.training) {
		d.preferred = jobs.TypeGeneration
	} else {
		d.preferred = jobs.TypeTraining
	}
}

func sameChan(a, b <-chan *Message) bool {
	return a == b
}
