package middleware

import (
	"net/http"

	"jax-advisor-core/internal/observability"
)

// Recover catches a panic in any downstream handler, logs it the way
// jax-orchestrator's runOrchestration recovers a panicked goroutine, and
// responds 500 instead of dropping the connection.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				observability.Error(r.Context(), "http_handler_panic", map[string]any{"panic": rec, "path": r.URL.Path})
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
