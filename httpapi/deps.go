// Package httpapi is the C1-instrumented HTTP/SSE edge surface from
// spec §6: a thin gorilla/mux router that installs correlation/
// interaction context, rate-limits submissions, validates config
// against plugin capabilities, and otherwise delegates to C3 (jobs),
// C4 (progressbus), C5 (executor/plugin) and C6 (interactions).
package httpapi

import (
	"context"

	"github.com/embercore/forge/executor"
	"github.com/embercore/forge/interactions"
	"github.com/embercore/forge/jobs"
	"github.com/embercore/forge/plugin"
	"github.com/embercore/forge/progressbus"
	"github.com/embercore/forge/ratelimit"
)

// TrainingSubmitter hands a newly-created training job off to whichever
// execution path the process is configured for: RunTraining inline in
// single-process/fast-test mode, or queue.Queue.Submit onto
// jobs:training in multi-process mode. httpapi only needs to know that
// this returns once the job has been handed off, not how.
type TrainingSubmitter func(ctx context.Context, job jobs.Job, req executor.TrainingRequest) error

// GenerationSubmitter is TrainingSubmitter's generation-job counterpart.
type GenerationSubmitter func(ctx context.Context, job jobs.Job, req executor.GenerationRequest) error

// Deps wires httpapi's handlers to the rest of forge. Every field is
// required unless noted.
type Deps struct {
	Jobs          jobs.Store
	Collaborators jobs.CollaboratorStore
	Bus           progressbus.Bus
	Plugins       *plugin.Registry
	Executor      *executor.Executor
	Interactions  *interactions.Store
	Limiter       *ratelimit.Limiter

	VolumeRoot string
	LogRoot    string

	// AllowedOrigins is the production CORS allow-list. Empty means
	// development mode: any localhost origin is allowed (spec §6).
	AllowedOrigins []string

	SubmitTraining   TrainingSubmitter
	SubmitGeneration GenerationSubmitter

	// DefaultTrainingPlugin/DefaultImagePlugin name the plugin a bare
	// submission resolves to when the request doesn't name one
	// explicitly (single-backend deployments are the common case).
	DefaultTrainingPlugin string
	DefaultImagePlugin    string
}
