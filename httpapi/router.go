package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/embercore/forge/jobs"
	"github.com/embercore/forge/ratelimit"
)

// NewRouter builds the full forge HTTP/SSE edge router (spec §6).
func NewRouter(deps Deps) *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware(deps.AllowedOrigins))
	r.Use(correlationMiddleware)

	registerHealthRoutes(r, deps)
	registerCharacterRoutes(r, deps)
	registerTrainingRoutes(r, deps, jobRouteConfig{
		typ:         jobs.TypeTraining,
		prefix:      "/api/training",
		route:       ratelimit.RouteTraining,
		defaultPlug: deps.DefaultTrainingPlugin,
	})
	registerGenerationRoutes(r, deps, jobRouteConfig{
		typ:         jobs.TypeGeneration,
		prefix:      "/api/generation",
		route:       ratelimit.RouteGeneration,
		defaultPlug: deps.DefaultImagePlugin,
	})
	registerObservabilityRoutes(r, deps)
	registerUELRRoutes(r, deps)

	return r
}

func ratelimitedUploads(deps Deps, h http.HandlerFunc) http.HandlerFunc {
	return rateLimited(deps.Limiter, ratelimit.RouteUploads, h)
}
