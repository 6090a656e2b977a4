package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

// infoResponse advertises process capability for /api/info: the plugins
// currently registered, so a frontend can disable unsupported form
// controls without a round-trip to a training/generation endpoint.
type infoResponse struct {
	TrainingPlugins []string `json:"training_plugins"`
	ImagePlugins    []string `json:"image_plugins"`
	DefaultTraining string   `json:"default_training_plugin,omitempty"`
	DefaultImage    string   `json:"default_image_plugin,omitempty"`
}

func registerHealthRoutes(r *mux.Router, deps Deps) {
	liveness := func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
	r.HandleFunc("/health", liveness).Methods(http.MethodGet)
	r.HandleFunc("/api/health", liveness).Methods(http.MethodGet)

	r.HandleFunc("/api/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Jobs == nil || deps.Bus == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/info", func(w http.ResponseWriter, r *http.Request) {
		resp := infoResponse{DefaultTraining: deps.DefaultTrainingPlugin, DefaultImage: deps.DefaultImagePlugin}
		if deps.Plugins != nil {
			resp.TrainingPlugins = deps.Plugins.TrainingNames()
			resp.ImagePlugins = deps.Plugins.ImageNames()
		}
		writeJSON(w, http.StatusOK, resp)
	}).Methods(http.MethodGet)
}
