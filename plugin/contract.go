package plugin

import (
	"context"
	"sort"
)

// ProgressCallback receives a training/generation step update. The executor
// adapts both synchronous and asynchronous plugin calling conventions onto
// this single Go func type.
type ProgressCallback func(step, totalSteps int, loss, lr *float64, samplePath string)

// Result is the terminal outcome a plugin reports back to the executor.
type Result struct {
	OutputPath  string
	OutputPaths []string
	FinalLoss   *float64
}

// TrainingPlugin is the C5 training plugin contract (spec §4.5).
type TrainingPlugin interface {
	Name() string
	SupportedMethods() []string
	GetCapabilities(ctx context.Context) (CapabilitySchema, error)
	ValidateConfig(ctx context.Context, config map[string]any) error
	Train(ctx context.Context, config map[string]any, imagesDir, outputPath, triggerWord string, jobID string, progress ProgressCallback) (Result, error)
	Cancel(ctx context.Context) error
}

// ImagePlugin is the C5 image-generation plugin contract (spec §4.5).
type ImagePlugin interface {
	Name() string
	GetCapabilities(ctx context.Context) (CapabilitySchema, error)
	CheckHealth(ctx context.Context) error
	Generate(ctx context.Context, config map[string]any, outputDir, loraPath string, count int, progress ProgressCallback) (Result, error)
	Cancel(ctx context.Context) error
	ListWorkflows(ctx context.Context) ([]string, error)
	GetWorkflowInfo(ctx context.Context, name string) (map[string]any, error)
}

// Registry resolves a named plugin for a given variant, used by the
// executor's submission path to pick a mode-dependent implementation (mock
// vs. production) without hardcoding the choice at every call site.
type Registry struct {
	training map[string]TrainingPlugin
	image    map[string]ImagePlugin
}

func NewRegistry() *Registry {
	return &Registry{training: make(map[string]TrainingPlugin), image: make(map[string]ImagePlugin)}
}

func (r *Registry) RegisterTraining(name string, p TrainingPlugin) { r.training[name] = p }
func (r *Registry) RegisterImage(name string, p ImagePlugin)       { r.image[name] = p }

func (r *Registry) Training(name string) (TrainingPlugin, bool) {
	p, ok := r.training[name]
	return p, ok
}

func (r *Registry) Image(name string) (ImagePlugin, bool) {
	p, ok := r.image[name]
	return p, ok
}

// TrainingNames returns the names of every registered training plugin,
// sorted for a stable /api/info response.
func (r *Registry) TrainingNames() []string {
	names := make([]string, 0, len(r.training))
	for name := range r.training {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ImageNames returns the names of every registered image plugin, sorted
// for a stable /api/info response.
func (r *Registry) ImageNames() []string {
	names := make([]string, 0, len(r.image))
	for name := range r.image {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
