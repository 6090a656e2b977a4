package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/embercore/forge/ferrors"
	"github.com/embercore/forge/jobs"
	"github.com/embercore/forge/progressbus"
)

// streamJob serves /api/{training,generation}/{id}/stream: an SSE feed
// of job progress starting from the bounded history, then live events,
// per spec §6's wire format (event: progress/complete, keepalives as
// event: keepalive\ndata: {}).
func streamJob(deps Deps, typ jobs.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		job, ok, err := deps.Jobs.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if !ok || (typ != "" && job.Type != typ) {
			writeError(w, ferrors.NotFound("job "+id))
			return
		}

		flusher, canFlush := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		history, err := deps.Bus.GetHistory(r.Context(), id)
		if err == nil {
			for _, e := range history {
				writeSSEEvent(w, e)
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if job.Status.Terminal() {
			return
		}

		events, cancel, err := deps.Bus.Subscribe(r.Context(), id)
		if err != nil {
			return
		}
		defer cancel()

		for {
			select {
			case e, open := <-events:
				if !open {
					return
				}
				writeSSEEvent(w, e)
				if canFlush {
					flusher.Flush()
				}
				if e.Terminal() {
					return
				}
			case <-r.Context().Done():
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, e progressbus.Event) {
	name := "progress"
	if e.Kind == progressbus.EventKeepalive {
		fmt.Fprint(w, "event: keepalive\ndata: {}\n\n")
		return
	}
	if e.Terminal() {
		name = "complete"
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}
