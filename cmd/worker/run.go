package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/embercore/forge/config"
	"github.com/embercore/forge/executor"
	"github.com/embercore/forge/jobs"
	"github.com/embercore/forge/logging"
	"github.com/embercore/forge/plugin"
	"github.com/embercore/forge/queue"
	"github.com/embercore/forge/telemetry"
)

const (
	serviceName           = "forge-worker"
	defaultTrainingPlugin = "mock-training"
	defaultImagePlugin    = "mock-image"
	collaboratorCharacter = "character" // must match httpapi.collaboratorKindCharacter
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Consume the training and generation streams and execute jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context())
		},
	}
}

func runWorker(ctx context.Context) error {
	settings, err := config.Load("forge")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logging.Configure(settings.LogRoot, serviceName, settings.LogToFile, settings.LogToStdout, true); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	logger := logging.GetLogger("cmd.worker")
	if settings.Mode != config.ModeProduction {
		logger.Warning(ctx, "worker started in non-production mode; forge-server's inline fast-test path never enqueues work for it to consume", "mode.mismatch", logging.Fields{"mode": string(settings.Mode)})
	}

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

	exec := executor.New(be.Jobs, be.Bus, registry, executor.Config{
		VolumeRoot:         settings.VolumeRoot,
		OnHostMetrics:      func(_ string, m executor.HostMetrics) { recordHostMetrics(provider, m) },
		UpdateCollaborator: collaboratorUpdater(be.Collaborators),
	})

	if err := be.Queue.EnsureConsumerGroup(ctx, jobs.TypeTraining); err != nil {
		return fmt.Errorf("ensure training consumer group: %w", err)
	}
	if err := be.Queue.EnsureConsumerGroup(ctx, jobs.TypeGeneration); err != nil {
		return fmt.Errorf("ensure generation consumer group: %w", err)
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info(rootCtx, "shutdown signal received", "shutdown", nil)
		cancel()
	}()

	consumerName := workerConsumerName()
	trainingCh, err := be.Queue.Consume(rootCtx, jobs.TypeTraining, consumerName)
	if err != nil {
		return fmt.Errorf("consume training stream: %w", err)
	}
	generationCh, err := be.Queue.Consume(rootCtx, jobs.TypeGeneration, consumerName)
	if err != nil {
		return fmt.Errorf("consume generation stream: %w", err)
	}
	dispatcher := queue.NewDispatcher(trainingCh, generationCh)

	logger.Info(rootCtx, "worker consuming job streams", "worker.started", logging.Fields{"consumer": consumerName, "concurrency": settings.WorkerConcurrency})

	sem := make(chan struct{}, settings.WorkerConcurrency)
	var wg sync.WaitGroup
	for {
		msg, err := dispatcher.Next(rootCtx)
		if err != nil {
			if rootCtx.Err() != nil {
				break
			}
			logger.Error(rootCtx, "dispatcher error", "dispatch.error", err, nil)
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(m *queue.Message) {
			defer wg.Done()
			defer func() { <-sem }()
			processMessage(rootCtx, exec, be.Jobs, logger, m)
		}(msg)
	}
	wg.Wait()
	return nil
}

// processMessage decodes one envelope and drives the matching job through
// the executor. A plugin-level failure is absorbed into the job's own
// status (RunTraining/RunGeneration never return an error for it) and the
// message is still acked, as is a message whose job record does not exist.
// A failure to load the job record, to decode the payload, an unknown
// envelope type, or an executor-internal error (unknown plugin, store
// failure) leaves the message unacked for redelivery.
func processMessage(ctx context.Context, exec *executor.Executor, store jobs.Store, logger logging.Logger, msg *queue.Message) {
	job, ok, err := store.Get(ctx, msg.Envelope.JobID)
	if err != nil {
		logger.Error(ctx, "load job record failed", "job.load_failed", err, logging.Fields{"job_id": msg.Envelope.JobID})
		return
	}
	if !ok {
		logger.Error(ctx, "job record missing for queued envelope", "job.missing", nil, logging.Fields{"job_id": msg.Envelope.JobID})
		_ = msg.Ack(ctx)
		return
	}

	var runErr error
	switch msg.Envelope.Type {
	case jobs.TypeTraining:
		var req executor.TrainingRequest
		if err := json.Unmarshal(msg.Envelope.Payload, &req); err != nil {
			logger.Error(ctx, "decode training payload failed", "payload.decode_failed", err, logging.Fields{"job_id": job.ID})
			return
		}
		_, runErr = exec.RunTraining(ctx, job, req)
	case jobs.TypeGeneration:
		var req executor.GenerationRequest
		if err := json.Unmarshal(msg.Envelope.Payload, &req); err != nil {
			logger.Error(ctx, "decode generation payload failed", "payload.decode_failed", err, logging.Fields{"job_id": job.ID})
			return
		}
		_, runErr = exec.RunGeneration(ctx, job, req)
	default:
		logger.Error(ctx, "unknown envelope type", "envelope.unknown_type", nil, logging.Fields{"job_id": job.ID, "type": string(msg.Envelope.Type)})
		return
	}
	if runErr != nil {
		logger.Error(ctx, "executor run failed", "executor.run_failed", runErr, logging.Fields{"job_id": job.ID})
		return
	}
	if err := msg.Ack(ctx); err != nil {
		logger.Error(ctx, "ack failed", "ack.failed", err, logging.Fields{"job_id": job.ID})
	}
}

func workerConsumerName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// collaboratorUpdater applies a completed job's artifact back onto the
// character record named by its config's character_id, when present.
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
