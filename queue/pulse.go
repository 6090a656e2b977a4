// Package queue implements the durable stream queue (component C3's
// "stream queue" operation family): two job streams (training,
// generation) consumed round-robin by workers, plus a per-job capped
// progress sub-stream. It is a thin domain layer over goa.design/pulse
// streams backed by Redis, following the same Conn/Stream/Sink layering
// the teacher uses for its own runtime event stream.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type (
	// ConnOptions configures a Conn.
	ConnOptions struct {
		// Redis is the connection backing every Pulse stream. Required.
		Redis *redis.Client
		// StreamMaxLen bounds entries kept per stream by default. Per-stream
		// overrides are supplied via StreamOptions (used for the capped
		// progress sub-streams).
		StreamMaxLen int
		// StreamOptions returns additional options to apply when a stream
		// with the given name is opened. Returning nil means no overrides.
		StreamOptions func(name string) []streamopts.Stream
		// OperationTimeout bounds individual Add calls. Zero means no bound.
		OperationTimeout time.Duration
	}

	// Conn is the subset of Pulse operations the queue needs: resolving a
	// named stream and releasing resources on shutdown.
	Conn interface {
		Stream(name string, opts ...streamopts.Stream) (Stream, error)
		Close(ctx context.Context) error
	}

	// Stream is a single named Pulse stream: publish entries, open consumer
	// groups (Sinks) against it, or delete it entirely.
	Stream interface {
		Add(ctx context.Context, event string, payload []byte) (string, error)
		NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error)
		Destroy(ctx context.Context) error
	}

	// Sink is a consumer group reading a Stream.
	Sink interface {
		Subscribe() <-chan *streaming.Event
		Ack(ctx context.Context, evt *streaming.Event) error
		Close(ctx context.Context)
	}
)

type conn struct {
	redis      *redis.Client
	maxLen     int
	optionsFor func(name string) []streamopts.Stream
	timeout    time.Duration
}

// NewConn builds a Conn backed by the given Redis connection.
func NewConn(opts ConnOptions) (Conn, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis connection is required")
	}
	return &conn{
		redis:      opts.Redis,
		maxLen:     opts.StreamMaxLen,
		optionsFor: opts.StreamOptions,
		timeout:    opts.OperationTimeout,
	}, nil
}

func (c *conn) Stream(name string, opts ...streamopts.Stream) (Stream, error) {
	if name == "" {
		return nil, errors.New("stream name is required")
	}
	var streamOpts []streamopts.Stream
	if c.maxLen > 0 {
		streamOpts = append(streamOpts, streamopts.WithStreamMaxLen(c.maxLen))
	}
	if c.optionsFor != nil {
		streamOpts = append(streamOpts, c.optionsFor(name)...)
	}
	streamOpts = append(streamOpts, opts...)
	str, err := streaming.NewStream(name, c.redis, streamOpts...)
	if err != nil {
		return nil, fmt.Errorf("open stream %s: %w", name, err)
	}
	return &streamHandle{stream: str, timeout: c.timeout}, nil
}

// Close is a no-op: the Redis connection lifecycle belongs to the caller.
func (c *conn) Close(context.Context) error { return nil }

type streamHandle struct {
	stream  *streaming.Stream
	timeout time.Duration
}

func (h *streamHandle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if event == "" {
		return "", errors.New("event name is required")
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("stream add: %w", err)
	}
	return id, nil
}

func (h *streamHandle) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error) {
	sink, err := h.stream.NewSink(ctx, name, opts...)
	if err != nil {
		return nil, fmt.Errorf("open sink %s: %w", name, err)
	}
	return &sinkHandle{Sink: sink}, nil
}

func (h *streamHandle) Destroy(ctx context.Context) error {
	return h.stream.Destroy(ctx)
}

// sinkHandle adapts streaming.Sink's Close (which returns an error) to the
// void-returning Sink interface used throughout this package.
type sinkHandle struct {
	*streaming.Sink
}

func (s *sinkHandle) Close(ctx context.Context) {
	s.Sink.Close(ctx)
}
