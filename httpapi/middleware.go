package httpapi

import (
	"net/http"
	"strings"

	"github.com/embercore/forge/correlation"
	"github.com/embercore/forge/ratelimit"
)

// correlationMiddleware implements C1's HTTP adapter contract: read
// X-Correlation-ID/X-Interaction-ID (synthesising a correlation ID if
// absent), install both into the request context, and echo them back
// on the response.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get("X-Correlation-ID"); id != "" {
			ctx = correlation.WithCorrelationID(ctx, id)
		} else {
			ctx, _ = correlation.EnsureCorrelationID(ctx)
		}
		if id := r.Header.Get("X-Interaction-ID"); id != "" {
			ctx = correlation.WithInteractionID(ctx, id)
		}

		w.Header().Set("X-Correlation-ID", correlation.CorrelationID(ctx))
		if id := correlation.InteractionID(ctx); id != "" {
			w.Header().Set("X-Interaction-ID", id)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware implements the §6 CORS policy: in development
// (allowedOrigins empty) any localhost origin is allowed; in
// production only the configured origins are.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin, allowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Correlation-ID, X-Interaction-ID")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return strings.Contains(origin, "://localhost") || strings.Contains(origin, "://127.0.0.1")
	}
	for _, a := range allowed {
		if a == origin {
			return true
		}
	}
	return false
}

// rateLimited wraps handler with a §5 token-bucket check on route.
// Exhaustion short-circuits with a structured rate.exceeded body
// before handler runs.
func rateLimited(limiter *ratelimit.Limiter, route ratelimit.Route, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if limiter != nil {
			if err := limiter.Allow(route, ratelimit.ClientKey(r)); err != nil {
				writeError(w, err)
				return
			}
		}
		handler(w, r)
	}
}
