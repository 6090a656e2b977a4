package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/embercore/forge/correlation"
	"github.com/embercore/forge/ferrors"
	"github.com/embercore/forge/interactions"
)

// registerUELRRoutes wires the /api/uelr/interactions... family (C6, the
// Interaction Register) against deps.Interactions.
func registerUELRRoutes(r *mux.Router, deps Deps) {
	r.HandleFunc("/api/uelr/interactions", listInteractions(deps)).Methods(http.MethodGet)
	r.HandleFunc("/api/uelr/interactions", createInteraction(deps)).Methods(http.MethodPost)
	r.HandleFunc("/api/uelr/interactions/{id}", getInteraction(deps)).Methods(http.MethodGet)
	r.HandleFunc("/api/uelr/interactions/{id}/steps", appendInteractionSteps(deps)).Methods(http.MethodPost)
	r.HandleFunc("/api/uelr/interactions/{id}/complete", completeInteraction(deps)).Methods(http.MethodPost)
	r.HandleFunc("/api/uelr/interactions/{id}", deleteInteraction(deps)).Methods(http.MethodDelete)
	r.HandleFunc("/api/uelr/interactions/{id}/bundle", interactionBundle(deps)).Methods(http.MethodGet)
	r.HandleFunc("/api/uelr/cleanup", cleanupInteractions(deps)).Methods(http.MethodPost)
}

type createInteractionBody struct {
	InteractionID  string `json:"interaction_id"`
	ActionName     string `json:"action_name"`
	ActionCategory string `json:"action_category"`
	Page           string `json:"page"`
	UserAgent      string `json:"user_agent"`
}

func createInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createInteractionBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, ferrors.Validation("invalid JSON body", err.Error()))
			return
		}
		if body.InteractionID == "" || body.ActionName == "" {
			writeError(w, ferrors.Validation("interaction_id and action_name are required", ""))
			return
		}
		in := interactions.Interaction{
			InteractionID:  body.InteractionID,
			CorrelationID:  correlation.CorrelationID(r.Context()),
			ActionName:     body.ActionName,
			ActionCategory: body.ActionCategory,
			Page:           body.Page,
			UserAgent:      body.UserAgent,
		}
		created, err := deps.Interactions.CreateInteraction(r.Context(), in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func getInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		in, ok, err := deps.Interactions.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if !ok {
			writeError(w, ferrors.NotFound("interaction "+id))
			return
		}
		writeJSON(w, http.StatusOK, in)
	}
}

func appendInteractionSteps(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		var body struct {
			Steps []interactions.Step `json:"steps"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, ferrors.Validation("invalid JSON body", err.Error()))
			return
		}
		updated, err := deps.Interactions.AppendSteps(r.Context(), id, body.Steps)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func completeInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		var body struct {
			Status       interactions.Status `json:"status"`
			ErrorSummary string              `json:"error_summary"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, ferrors.Validation("invalid JSON body", err.Error()))
			return
		}
		if body.Status == "" {
			body.Status = interactions.StatusSuccess
		}
		updated, err := deps.Interactions.Complete(r.Context(), id, body.Status, body.ErrorSummary)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func deleteInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := deps.Interactions.Delete(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filters := interactions.Filters{
			ActionName: q.Get("action_name"),
			Status:     interactions.Status(q.Get("status")),
		}
		if since := q.Get("since"); since != "" {
			if t, err := time.Parse(time.RFC3339, since); err == nil {
				filters.Since = &t
			}
		}
		if until := q.Get("until"); until != "" {
			if t, err := time.Parse(time.RFC3339, until); err == nil {
				filters.Until = &t
			}
		}
		page := interactions.Pagination{
			Limit:  atoiDefault(q.Get("limit"), 50),
			Offset: atoiDefault(q.Get("offset"), 0),
		}
		items, total, hasMore, err := deps.Interactions.List(r.Context(), filters, page)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"interactions": items,
			"total":        total,
			"has_more":     hasMore,
		})
	}
}

func interactionBundle(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		q := r.URL.Query()
		includeBackend := q.Get("include_backend") != "false"
		includeWorker := q.Get("include_worker") == "true"
		data, err := deps.Interactions.Bundle(r.Context(), id, deps.LogRoot, deps.LogRoot, includeBackend, includeWorker)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", `attachment; filename="`+id+`-bundle.zip"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

func cleanupInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := atoiDefault(r.URL.Query().Get("retention_days"), 30)
		removed, err := deps.Interactions.Cleanup(r.Context(), days)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
	}
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
