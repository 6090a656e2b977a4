package httpapi

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"

	"github.com/embercore/forge/correlation"
	"github.com/embercore/forge/executor"
	"github.com/embercore/forge/ferrors"
	"github.com/embercore/forge/jobs"
	"github.com/embercore/forge/plugin"
	"github.com/embercore/forge/ratelimit"
)

// jobRouteConfig parameterizes the identically-shaped training/generation
// route families (spec §6: "`/api/generation` + mirrors — identical
// shape for generation").
type jobRouteConfig struct {
	typ         jobs.Type
	prefix      string
	route       ratelimit.Route
	defaultPlug string
}

func registerTrainingRoutes(r *mux.Router, deps Deps, cfg jobRouteConfig) {
	r.HandleFunc(cfg.prefix, rateLimited(deps.Limiter, cfg.route, submitTraining(deps, cfg))).Methods(http.MethodPost)
	r.HandleFunc(cfg.prefix, listJobs(deps, cfg.typ)).Methods(http.MethodGet)
	r.HandleFunc(cfg.prefix+"/{id}", getJob(deps, cfg.typ)).Methods(http.MethodGet)
	r.HandleFunc(cfg.prefix+"/{id}/cancel", cancelJob(deps, cfg.typ)).Methods(http.MethodPost)
	r.HandleFunc(cfg.prefix+"/{id}/stream", streamJob(deps, cfg.typ)).Methods(http.MethodGet)
}

func registerGenerationRoutes(r *mux.Router, deps Deps, cfg jobRouteConfig) {
	r.HandleFunc(cfg.prefix, rateLimited(deps.Limiter, cfg.route, submitGeneration(deps, cfg))).Methods(http.MethodPost)
	r.HandleFunc(cfg.prefix, listJobs(deps, cfg.typ)).Methods(http.MethodGet)
	r.HandleFunc(cfg.prefix+"/{id}", getJob(deps, cfg.typ)).Methods(http.MethodGet)
	r.HandleFunc(cfg.prefix+"/{id}/cancel", cancelJob(deps, cfg.typ)).Methods(http.MethodPost)
	r.HandleFunc(cfg.prefix+"/{id}/stream", streamJob(deps, cfg.typ)).Methods(http.MethodGet)
}

// trainingSubmitBody is the POST /api/training request shape.
type trainingSubmitBody struct {
	CharacterID string         `json:"character_id"`
	Plugin      string         `json:"plugin"`
	ImagesDir   string         `json:"images_dir"`
	TriggerWord string         `json:"trigger_word"`
	Config      map[string]any `json:"config"`
}

func submitTraining(deps Deps, cfg jobRouteConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body trainingSubmitBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, ferrors.Validation("invalid JSON body", err.Error()))
			return
		}
		pluginName := body.Plugin
		if pluginName == "" {
			pluginName = cfg.defaultPlug
		}
		tp, ok := deps.Plugins.Training(pluginName)
		if !ok {
			writeError(w, ferrors.New(ferrors.KindPluginUnavailable, "training plugin "+pluginName+" is not registered"))
			return
		}
		schema, err := tp.GetCapabilities(r.Context())
		if err != nil {
			writeError(w, ferrors.Wrap(ferrors.KindPluginUnavailable, "could not fetch plugin capabilities", err))
			return
		}
		if err := plugin.Validate(schema, body.Config); err != nil {
			writeError(w, err)
			return
		}

		id := jobs.NewJobID(jobs.TypeTraining)
		job := jobs.Job{
			ID:            id,
			Type:          jobs.TypeTraining,
			Status:        jobs.StatusQueued,
			Config:        body.Config,
			CreatedAt:     time.Now().UTC(),
			CorrelationID: correlation.CorrelationID(r.Context()),
		}
		if err := deps.Jobs.Save(r.Context(), id, job); err != nil {
			writeError(w, err)
			return
		}

		outputPath := filepath.Join(deps.VolumeRoot, "loras", id+".safetensors")
		req := executor.TrainingRequest{
			PluginName:  pluginName,
			Config:      body.Config,
			ImagesDir:   body.ImagesDir,
			OutputPath:  outputPath,
			TriggerWord: body.TriggerWord,
		}
		if err := deps.SubmitTraining(r.Context(), job, req); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, job)
	}
}

// generationSubmitBody is the POST /api/generation request shape.
type generationSubmitBody struct {
	CharacterID string         `json:"character_id"`
	Plugin      string         `json:"plugin"`
	LoRAPath    string         `json:"lora_path"`
	Count       int            `json:"count"`
	Config      map[string]any `json:"config"`
}

func submitGeneration(deps Deps, cfg jobRouteConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body generationSubmitBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, ferrors.Validation("invalid JSON body", err.Error()))
			return
		}
		pluginName := body.Plugin
		if pluginName == "" {
			pluginName = cfg.defaultPlug
		}
		ip, ok := deps.Plugins.Image(pluginName)
		if !ok {
			writeError(w, ferrors.New(ferrors.KindPluginUnavailable, "image plugin "+pluginName+" is not registered"))
			return
		}
		schema, err := ip.GetCapabilities(r.Context())
		if err != nil {
			writeError(w, ferrors.Wrap(ferrors.KindPluginUnavailable, "could not fetch plugin capabilities", err))
			return
		}
		if err := plugin.Validate(schema, body.Config); err != nil {
			writeError(w, err)
			return
		}

		count := body.Count
		if count <= 0 {
			count = 1
		}
		id := jobs.NewJobID(jobs.TypeGeneration)
		job := jobs.Job{
			ID:            id,
			Type:          jobs.TypeGeneration,
			Status:        jobs.StatusQueued,
			Config:        body.Config,
			CreatedAt:     time.Now().UTC(),
			CorrelationID: correlation.CorrelationID(r.Context()),
		}
		if err := deps.Jobs.Save(r.Context(), id, job); err != nil {
			writeError(w, err)
			return
		}

		req := executor.GenerationRequest{
			PluginName: pluginName,
			Config:     body.Config,
			OutputDir:  filepath.Join(deps.VolumeRoot, "outputs", id),
			LoRAPath:   body.LoRAPath,
			Count:      count,
		}
		if err := deps.SubmitGeneration(r.Context(), job, req); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, job)
	}
}

func getJob(deps Deps, typ jobs.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		job, ok, err := deps.Jobs.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if !ok || job.Type != typ {
			writeError(w, ferrors.NotFound("job "+id))
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func listJobs(deps Deps, typ jobs.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := deps.Jobs.List(r.Context(), typ, 0)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": all})
	}
}

func cancelJob(deps Deps, typ jobs.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		job, ok, err := deps.Jobs.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if !ok || job.Type != typ {
			writeError(w, ferrors.NotFound("job "+id))
			return
		}
		updated, err := deps.Executor.Cancel(r.Context(), job)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}
