package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/embercore/forge/config"
	"github.com/embercore/forge/executor"
	"github.com/embercore/forge/httpapi"
	"github.com/embercore/forge/interactions"
	"github.com/embercore/forge/jobs"
	"github.com/embercore/forge/logging"
	"github.com/embercore/forge/plugin"
	"github.com/embercore/forge/ratelimit"
	"github.com/embercore/forge/telemetry"
)

const (
	serviceName           = "forge-server"
	defaultTrainingPlugin = "mock-training"
	defaultImagePlugin    = "mock-image"
	collaboratorCharacter = "character" // must match httpapi.collaboratorKindCharacter
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/SSE edge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	settings, err := config.Load("forge")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logging.Configure(settings.LogRoot, serviceName, settings.LogToFile, settings.LogToStdout, true); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	logger := logging.GetLogger("cmd.server")

	provider, err := telemetry.NewProvider(serviceName, version)
	if err != nil {
		return fmt.Errorf("start telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	if err := config.EnsureStorageLayout(settings.VolumeRoot); err != nil {
		return fmt.Errorf("ensure storage layout: %w", err)
	}

	registry := plugin.NewRegistry()
	registry.RegisterTraining(defaultTrainingPlugin, plugin.NewMockTrainingPlugin())
	registry.RegisterImage(defaultImagePlugin, plugin.NewMockImagePlugin())

	be, err := newBackend(settings)
	if err != nil {
		return fmt.Errorf("build storage backend: %w", err)
	}
	defer be.Close()

	interactionStore, err := interactions.NewStore(filepath.Join(settings.LogRoot, "interactions"))
	if err != nil {
		return fmt.Errorf("open interaction store: %w", err)
	}

	exec := executor.New(be.Jobs, be.Bus, registry, executor.Config{
		VolumeRoot:         settings.VolumeRoot,
		OnHostMetrics:      func(_ string, m executor.HostMetrics) { recordHostMetrics(provider, m) },
		UpdateCollaborator: collaboratorUpdater(be.Collaborators),
	})

	if settings.Mode == config.ModeProduction {
		if err := be.Queue.EnsureConsumerGroup(ctx, jobs.TypeTraining); err != nil {
			return fmt.Errorf("ensure training consumer group: %w", err)
		}
		if err := be.Queue.EnsureConsumerGroup(ctx, jobs.TypeGeneration); err != nil {
			return fmt.Errorf("ensure generation consumer group: %w", err)
		}
	}

	deps := httpapi.Deps{
		Jobs:                  be.Jobs,
		Collaborators:         be.Collaborators,
		Bus:                   be.Bus,
		Plugins:               registry,
		Executor:              exec,
		Interactions:          interactionStore,
		Limiter:               ratelimit.New(),
		VolumeRoot:            settings.VolumeRoot,
		LogRoot:               settings.LogRoot,
		AllowedOrigins:        settings.AllowedOriginsList(),
		DefaultTrainingPlugin: defaultTrainingPlugin,
		DefaultImagePlugin:    defaultImagePlugin,
		SubmitTraining:        trainingSubmitter(settings, exec, be.Queue),
		SubmitGeneration:      generationSubmitter(settings, exec, be.Queue),
	}

	router := httpapi.NewRouter(deps)
	mux := http.NewServeMux()
	mux.Handle("/", router)
	mux.Handle("/metrics", provider.MetricsHandler())

	srv := &http.Server{Addr: settings.HTTPAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "server listening", "startup", logging.Fields{"addr": settings.HTTPAddr, "mode": string(settings.Mode)})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info(ctx, "shutdown signal received", "shutdown", nil)
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// trainingSubmitter picks the execution path per settings.Mode: inline in
// a detached goroutine for fast-test/single-process deployments, or a
// queue enqueue that cmd/worker later consumes for production.
func trainingSubmitter(settings config.Settings, exec *executor.Executor, q queueSubmitter) httpapi.TrainingSubmitter {
	if settings.Mode == config.ModeFastTest {
		return func(_ context.Context, job jobs.Job, req executor.TrainingRequest) error {
			go func() {
				if _, err := exec.RunTraining(context.Background(), job, req); err != nil {
					logging.GetLogger("cmd.server").Error(context.Background(), "inline training run failed", "training.run_failed", err, logging.Fields{"job_id": job.ID})
				}
			}()
			return nil
		}
	}
	return func(ctx context.Context, job jobs.Job, req executor.TrainingRequest) error {
		_, err := q.Submit(ctx, job.Type, job.ID, job.CorrelationID, req)
		return err
	}
}

// generationSubmitter mirrors trainingSubmitter for generation jobs.
func generationSubmitter(settings config.Settings, exec *executor.Executor, q queueSubmitter) httpapi.GenerationSubmitter {
	if settings.Mode == config.ModeFastTest {
		return func(_ context.Context, job jobs.Job, req executor.GenerationRequest) error {
			go func() {
				if _, err := exec.RunGeneration(context.Background(), job, req); err != nil {
					logging.GetLogger("cmd.server").Error(context.Background(), "inline generation run failed", "generation.run_failed", err, logging.Fields{"job_id": job.ID})
				}
			}()
			return nil
		}
	}
	return func(ctx context.Context, job jobs.Job, req executor.GenerationRequest) error {
		_, err := q.Submit(ctx, job.Type, job.ID, job.CorrelationID, req)
		return err
	}
}

// queueSubmitter is the slice of queue.Queue this file actually calls,
// kept narrow so tests could stub it without building a full Queue.
type queueSubmitter interface {
	Submit(ctx context.Context, typ jobs.Type, jobID, correlationID string, payload any) (string, error)
}

// collaboratorUpdater applies a completed job's artifact back onto the
// character record named by its config's character_id, when present.
// Training jobs record the new LoRA path; generation jobs append every
// produced sample path onto the character's image list.
func collaboratorUpdater(store jobs.CollaboratorStore) executor.CollaboratorUpdater {
	return func(ctx context.Context, job jobs.Job, result plugin.Result) error {
		characterID, _ := job.Config["character_id"].(string)
		if characterID == "" {
			return nil
		}
		record, ok, err := store.Get(ctx, collaboratorCharacter, characterID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		switch job.Type {
		case jobs.TypeTraining:
			record["lora_path"] = result.OutputPath
		case jobs.TypeGeneration:
			images, _ := record["images"].([]any)
			for _, p := range result.OutputPaths {
				images = append(images, p)
			}
			record["images"] = images
		}
		return store.Save(ctx, collaboratorCharacter, characterID, record)
	}
}

func recordHostMetrics(provider *telemetry.Provider, m executor.HostMetrics) {
	provider.Gauges().SetHostSample(telemetry.HostSample{
		GPUUtilizationPct: m.GPUUtilizationPct,
		GPUMemoryMB:       m.GPUMemoryMB,
		GPUTemperatureC:   m.GPUTemperatureC,
		GPUPowerW:         m.GPUPowerW,
	})
}
