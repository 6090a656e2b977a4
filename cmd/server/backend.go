package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/embercore/forge/config"
	"github.com/embercore/forge/jobs"
	"github.com/embercore/forge/progressbus"
	"github.com/embercore/forge/queue"
)

// backend bundles the storage/queue implementations selected by
// settings.QueueMode: in-process for single-binary deployments, Redis/
// Pulse-backed once a separate cmd/worker is in the picture.
type backend struct {
	Jobs          jobs.Store
	Collaborators jobs.CollaboratorStore
	Bus           progressbus.Bus
	Queue         queue.Queue
	Close         func() error
}

func newBackend(settings config.Settings) (*backend, error) {
	switch settings.QueueMode {
	case config.QueueModeInmem:
		return &backend{
			Jobs:          jobs.NewInmemStore(),
			Collaborators: jobs.NewInmemCollaboratorStore(),
			Bus:           progressbus.NewInProcessBus(),
			Queue:         queue.NewInmemQueue(),
			Close:         func() error { return nil },
		}, nil
	case config.QueueModePulse:
		opts, err := redis.ParseURL(settings.StreamStoreURL)
		if err != nil {
			return nil, fmt.Errorf("parse stream_store_url: %w", err)
		}
		rdb := redis.NewClient(opts)
		conn, err := queue.NewConn(queue.ConnOptions{
			Redis:         rdb,
			StreamOptions: queue.ProgressStreamOptions,
		})
		if err != nil {
			return nil, fmt.Errorf("open pulse connection: %w", err)
		}
		return &backend{
			Jobs:          jobs.NewRedisStore(rdb),
			Collaborators: jobs.NewRedisCollaboratorStore(rdb),
			Bus:           progressbus.NewStreamBus(conn),
			Queue:         queue.NewPulseQueue(conn),
			Close:         func() error { return rdb.Close() },
		}, nil
	default:
		return nil, fmt.Errorf("unknown queue mode %q", settings.QueueMode)
	}
}
