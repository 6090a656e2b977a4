package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockTrainingPlugin is an in-process TrainingPlugin for fast-test mode: it
// simulates a fixed step count with a short sleep per step instead of
// spawning a real training subprocess.
type MockTrainingPlugin struct {
	StepDelay time.Duration
	Schema    CapabilitySchema

	mu        sync.Mutex
	cancelled bool
}

func NewMockTrainingPlugin() *MockTrainingPlugin {
	wired := true
	zero := 1.0
	hundred := 100.0
	return &MockTrainingPlugin{
		StepDelay: 10 * time.Millisecond,
		Schema: CapabilitySchema{
			Method:  "lora",
			Backend: "mock",
			Parameters: map[string]ParameterSpec{
				"steps":         {Type: ParamInt, Min: &zero, Max: &hundred, Wired: wired},
				"learning_rate": {Type: ParamFloat, Wired: wired},
			},
		},
	}
}

func (p *MockTrainingPlugin) Name() string                 { return "mock-training" }
func (p *MockTrainingPlugin) SupportedMethods() []string    { return []string{"lora"} }
func (p *MockTrainingPlugin) GetCapabilities(context.Context) (CapabilitySchema, error) {
	return p.Schema, nil
}
func (p *MockTrainingPlugin) ValidateConfig(_ context.Context, cfg map[string]any) error {
	return Validate(p.Schema, cfg)
}

func (p *MockTrainingPlugin) Train(ctx context.Context, config map[string]any, imagesDir, outputPath, triggerWord, jobID string, progress ProgressCallback) (Result, error) {
	total := 10
	if v, ok := config["steps"].(float64); ok && v > 0 {
		total = int(v)
	}
	for step := 1; step <= total; step++ {
		p.mu.Lock()
		cancelled := p.cancelled
		p.mu.Unlock()
		if cancelled {
			return Result{}, fmt.Errorf("training cancelled at step %d", step)
		}
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(p.StepDelay):
		}
		loss := 1.0 / float64(step)
		lr := 0.0001
		if progress != nil {
			progress(step, total, &loss, &lr, "")
		}
	}
	return Result{OutputPath: outputPath}, nil
}

func (p *MockTrainingPlugin) Cancel(context.Context) error {
	p.mu.Lock()
	p.cancelled = true
	p.mu.Unlock()
	return nil
}

// MockImagePlugin is an in-process ImagePlugin for fast-test mode.
type MockImagePlugin struct {
	StepDelay time.Duration
	Schema    CapabilitySchema

	mu        sync.Mutex
	cancelled bool
}

func NewMockImagePlugin() *MockImagePlugin {
	wired := true
	return &MockImagePlugin{
		StepDelay: 10 * time.Millisecond,
		Schema: CapabilitySchema{
			Backend: "mock",
			Toggles: map[string]ToggleSpec{
				"use_hires_fix": {Supported: true},
			},
			Parameters: map[string]ParameterSpec{
				"count": {Type: ParamInt, Wired: wired},
			},
		},
	}
}

func (p *MockImagePlugin) Name() string { return "mock-image" }
func (p *MockImagePlugin) GetCapabilities(context.Context) (CapabilitySchema, error) {
	return p.Schema, nil
}
func (p *MockImagePlugin) CheckHealth(context.Context) error { return nil }

func (p *MockImagePlugin) Generate(ctx context.Context, config map[string]any, outputDir, loraPath string, count int, progress ProgressCallback) (Result, error) {
	if count <= 0 {
		count = 1
	}
	paths := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		p.mu.Lock()
		cancelled := p.cancelled
		p.mu.Unlock()
		if cancelled {
			return Result{}, fmt.Errorf("generation cancelled at image %d", i)
		}
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(p.StepDelay):
		}
		path := fmt.Sprintf("%s/sample_%03d.png", outputDir, i)
		paths = append(paths, path)
		if progress != nil {
			progress(i, count, nil, nil, path)
		}
	}
	return Result{OutputPaths: paths}, nil
}

func (p *MockImagePlugin) Cancel(context.Context) error {
	p.mu.Lock()
	p.cancelled = true
	p.mu.Unlock()
	return nil
}

func (p *MockImagePlugin) ListWorkflows(context.Context) ([]string, error) {
	return []string{"default"}, nil
}

func (p *MockImagePlugin) GetWorkflowInfo(_ context.Context, name string) (map[string]any, error) {
	return map[string]any{"name": name}, nil
}
