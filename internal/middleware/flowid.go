// Package middleware provides the HTTP-layer cross-cutting concerns the
// External API Surface (C11) wraps every handler in: flow-id propagation,
// rate limiting, CORS, and panic recovery. Adapted from the teacher's
// libs/middleware package, generalized from a chat-ops trading signal
// pipeline to the advisor's client-facing endpoints.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"jax-advisor-core/internal/observability"
)

const flowIDHeader = "X-Flow-ID"

// FlowID reads X-Flow-ID from the incoming request, generating one if
// absent, injects it into the request context via observability.WithFlowID
// so every log statement downstream carries it, and echoes it back in the
// response header.
func FlowID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flowID := r.Header.Get(flowIDHeader)
		if flowID == "" {
			flowID = uuid.New().String()
		}
		ctx := observability.WithFlowID(r.Context(), flowID)
		w.Header().Set(flowIDHeader, flowID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
