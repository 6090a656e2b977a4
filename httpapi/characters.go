package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/embercore/forge/ferrors"
)

const collaboratorKindCharacter = "character"

// registerCharacterRoutes wires /api/characters[/{id}[/images]] CRUD
// against deps.Collaborators. Image upload is a thin append to the
// record's image list; the actual file transfer is an external
// collaborator concern per spec §4.5 (out of scope here).
func registerCharacterRoutes(r *mux.Router, deps Deps) {
	r.HandleFunc("/api/characters", listCharacters(deps)).Methods(http.MethodGet)
	r.HandleFunc("/api/characters", ratelimitedUploads(deps, createCharacter(deps))).Methods(http.MethodPost)
	r.HandleFunc("/api/characters/{id}", getCharacter(deps)).Methods(http.MethodGet)
	r.HandleFunc("/api/characters/{id}", patchCharacter(deps)).Methods(http.MethodPatch)
	r.HandleFunc("/api/characters/{id}", deleteCharacter(deps)).Methods(http.MethodDelete)
	r.HandleFunc("/api/characters/{id}/images", addCharacterImage(deps)).Methods(http.MethodPost)
}

func listCharacters(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := deps.Collaborators.List(r.Context(), collaboratorKindCharacter, 0)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"characters": all})
	}
}

func createCharacter(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var record map[string]any
		if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
			writeError(w, ferrors.Validation("invalid JSON body", err.Error()))
			return
		}
		id, ok := record["id"].(string)
		if !ok || id == "" {
			writeError(w, ferrors.Validation("id is required", ""))
			return
		}
		if err := deps.Collaborators.Save(r.Context(), collaboratorKindCharacter, id, record); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, record)
	}
}

func getCharacter(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		rec, ok, err := deps.Collaborators.Get(r.Context(), collaboratorKindCharacter, id)
		if err != nil {
			writeError(w, err)
			return
		}
		if !ok {
			writeError(w, ferrors.NotFound("character "+id))
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func patchCharacter(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		existing, ok, err := deps.Collaborators.Get(r.Context(), collaboratorKindCharacter, id)
		if err != nil {
			writeError(w, err)
			return
		}
		if !ok {
			writeError(w, ferrors.NotFound("character "+id))
			return
		}
		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, ferrors.Validation("invalid JSON body", err.Error()))
			return
		}
		for k, v := range patch {
			existing[k] = v
		}
		if err := deps.Collaborators.Save(r.Context(), collaboratorKindCharacter, id, existing); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, existing)
	}
}

func deleteCharacter(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := deps.Collaborators.Delete(r.Context(), collaboratorKindCharacter, id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// addCharacterImage appends an image reference to the character's image
// list. The request body is {"path": "<uploaded path>"}; the upload
// itself happens upstream of forge (spec §4.5 places file transfer out
// of scope for the core).
func addCharacterImage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		existing, ok, err := deps.Collaborators.Get(r.Context(), collaboratorKindCharacter, id)
		if err != nil {
			writeError(w, err)
			return
		}
		if !ok {
			writeError(w, ferrors.NotFound("character "+id))
			return
		}
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Path == "" {
			writeError(w, ferrors.Validation("path is required", ""))
			return
		}
		images, _ := existing["images"].([]any)
		existing["images"] = append(images, body.Path)
		if err := deps.Collaborators.Save(r.Context(), collaboratorKindCharacter, id, existing); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, existing)
	}
}
